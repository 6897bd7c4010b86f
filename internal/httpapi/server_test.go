package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbiterd/pkg/types"
)

type fakeService struct {
	status types.ArbiterStatus
	ready  bool
}

func (f *fakeService) Status() types.ArbiterStatus { return f.status }
func (f *fakeService) Ready(context.Context) bool  { return f.ready }

type fakeVRAM struct {
	usage types.UsageSnapshot
	procs []types.GPUProcess
}

func (f *fakeVRAM) Usage() types.UsageSnapshot    { return f.usage }
func (f *fakeVRAM) Processes() []types.GPUProcess { return f.procs }

func newTestServer(t *testing.T, svc *fakeService, vram *fakeVRAM) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewMux(svc, vram))
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusEndpoint(t *testing.T) {
	svc := &fakeService{
		status: types.ArbiterStatus{
			GPULocked:      true,
			CurrentService: types.ServiceImageGen,
			QueueLength:    2,
		},
		ready: true,
	}
	srv := newTestServer(t, svc, &fakeVRAM{})

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var got types.ArbiterStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.GPULocked || got.CurrentService != types.ServiceImageGen || got.QueueLength != 2 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestVRAMEndpoint(t *testing.T) {
	vram := &fakeVRAM{
		usage: types.UsageSnapshot{UsedMB: 1024, TotalMB: 24576, FreeMB: 23552, Available: true, Method: "nvml"},
		procs: []types.GPUProcess{{PID: 42, Name: "ollama", MemoryMB: 900}},
	}
	srv := newTestServer(t, &fakeService{ready: true}, vram)

	resp, err := http.Get(srv.URL + "/vram")
	if err != nil {
		t.Fatalf("get /vram: %v", err)
	}
	defer resp.Body.Close()
	var got types.VRAMResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Usage.UsedMB != 1024 || len(got.Processes) != 1 || got.Processes[0].PID != 42 {
		t.Fatalf("unexpected vram response: %+v", got)
	}
}

func TestVRAMEndpointWithoutTelemetry(t *testing.T) {
	vram := &fakeVRAM{usage: types.UsageSnapshot{Available: false, Method: "unavailable"}}
	srv := newTestServer(t, &fakeService{ready: true}, vram)

	resp, err := http.Get(srv.URL + "/vram")
	if err != nil {
		t.Fatalf("get /vram: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("missing telemetry must not fail the request, got %d", resp.StatusCode)
	}
	var got types.VRAMResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Usage.Available || len(got.Processes) != 0 {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	svc := &fakeService{ready: false}
	srv := newTestServer(t, svc, &fakeVRAM{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz while unready: %d", resp.StatusCode)
	}

	svc.ready = true
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz while ready: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeService{ready: true}, &fakeVRAM{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics %d", resp.StatusCode)
	}
}

func TestItoa(t *testing.T) {
	for _, tc := range []struct {
		n    int
		want string
	}{{0, "0"}, {200, "200"}, {404, "404"}, {503, "503"}} {
		if got := itoa(tc.n); got != tc.want {
			t.Fatalf("itoa(%d) = %q", tc.n, got)
		}
	}
}
