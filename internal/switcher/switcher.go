package switcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arbiterd/pkg/types"
)

// Switcher talks to the external process-management control plane that
// starts and stops the GPU services, and tracks which service it believes is
// active. All operations are best-effort: a definitive failure surfaces as a
// boolean false, never as a panic or error the caller must untangle, so the
// arbiter always has a defined fallback path.
type Switcher struct {
	cfg    SwitcherConfig
	log    zerolog.Logger
	client *http.Client

	mu            sync.Mutex
	current       types.ServiceType // "" when unknown
	previous      types.ServiceType
	beforeRequest types.ServiceType // active service before the first switch of the current lease cycle
}

// New builds a Switcher. An empty ControlPlaneURL is allowed; remote
// switching is then skipped and availability rests on direct probes.
func New(cfg SwitcherConfig, log zerolog.Logger) *Switcher {
	cfg = cfg.withDefaults()
	if cfg.ControlPlaneURL == "" {
		log.Warn().Msg("control plane url not set, process switching disabled")
	} else {
		log.Info().Str("url", cfg.ControlPlaneURL).Msg("process control plane configured")
	}
	return &Switcher{cfg: cfg, log: log, client: &http.Client{}}
}

// CheckAPIAvailable reports whether the control plane answers at all.
func (s *Switcher) CheckAPIAvailable(ctx context.Context) bool {
	if s.cfg.ControlPlaneURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.APITimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ControlPlaneURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("control plane unreachable")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.log.Warn().Int("status", resp.StatusCode).Msg("control plane returned non-ok status")
		return false
	}
	return true
}

// Status fetches the control plane's process status.
func (s *Switcher) Status(ctx context.Context) (types.ProcessStatus, error) {
	var status types.ProcessStatus
	if s.cfg.ControlPlaneURL == "" {
		return status, fmt.Errorf("control plane url not set")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.APITimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ControlPlaneURL+"/process/status", nil)
	if err != nil {
		return status, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("process status: http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("process status: %w", err)
	}
	return status, nil
}

// CurrentService asks the control plane which service is active. Returns ""
// when the control plane is unreachable or reports none.
func (s *Switcher) CurrentService(ctx context.Context) types.ServiceType {
	status, err := s.Status(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("current service unknown")
		return ""
	}
	svc := types.ServiceType(status.CurrentService)
	if !svc.Valid() {
		return ""
	}
	return svc
}

// SwitchTo makes svc the active process: stops the competitor, starts the
// target, and waits for its API to answer. Idempotent: when svc is already
// active and healthy and forceRestart is false it returns immediately.
// Every failure path degrades to a direct health probe, because a service
// can be alive even when the explicit switch signal failed.
func (s *Switcher) SwitchTo(ctx context.Context, svc types.ServiceType, forceRestart bool) bool {
	if s.cfg.ControlPlaneURL == "" || !s.CheckAPIAvailable(ctx) {
		s.log.Warn().Str("service", string(svc)).Msg("control plane unavailable, probing service directly")
		return s.CheckServiceAvailable(ctx, svc)
	}

	s.mu.Lock()
	if s.beforeRequest == "" {
		s.mu.Unlock()
		before := s.CurrentService(ctx)
		s.mu.Lock()
		if s.beforeRequest == "" {
			s.beforeRequest = before
		}
	}
	alreadyCurrent := s.current == svc
	s.mu.Unlock()

	if alreadyCurrent && !forceRestart {
		if s.CheckServiceAvailable(ctx, svc) {
			s.log.Debug().Str("service", string(svc)).Msg("already active and healthy")
			return true
		}
		s.log.Warn().Str("service", string(svc)).Msg("marked active but unhealthy, switching again")
	}

	start := time.Now()
	result, err := s.postSwitch(ctx, svc, forceRestart)
	if err != nil {
		s.log.Error().Err(err).Str("service", string(svc)).Msg("switch failed")
		if s.CheckServiceAvailable(ctx, svc) {
			s.log.Info().Str("service", string(svc)).Msg("service reachable despite failed switch")
			s.markCurrent(svc)
			return true
		}
		return false
	}

	s.markCurrent(svc)
	s.log.Info().
		Str("service", string(svc)).
		Float64("remote_switch_sec", result.SwitchTime).
		Dur("elapsed", time.Since(start)).
		Msg("process switched")

	if !s.waitForReady(ctx, svc) {
		// The process is up but its API is still warming; proceed and let
		// the caller's own verification decide.
		s.log.Warn().Str("service", string(svc)).Msg("switched but not ready within wait window")
	}
	return true
}

// postSwitch issues the switch call with the shared retry policy.
func (s *Switcher) postSwitch(ctx context.Context, svc types.ServiceType, forceRestart bool) (types.SwitchResult, error) {
	var result types.SwitchResult
	q := url.Values{}
	q.Set("service", string(svc))
	q.Set("force_restart", strconv.FormatBool(forceRestart))
	endpoint := s.cfg.ControlPlaneURL + "/process/switch?" + q.Encode()

	err := s.cfg.Retry.run(ctx, s.log, "switch", func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SwitchTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("switch to %s: http %d", svc, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("switch to %s: %w", svc, err)
		}
		if !result.Success {
			return fmt.Errorf("switch to %s: %s", svc, result.Message)
		}
		return nil
	})
	return result, err
}

// Stop tears down the process backing svc.
func (s *Switcher) Stop(ctx context.Context, svc types.ServiceType) bool {
	if !s.postProcessVerb(ctx, "stop", svc) {
		return false
	}
	s.mu.Lock()
	if s.current == svc {
		s.previous = s.current
		s.current = ""
	}
	s.mu.Unlock()
	return true
}

// Start launches the process backing svc without stopping anything else.
func (s *Switcher) Start(ctx context.Context, svc types.ServiceType) bool {
	if !s.postProcessVerb(ctx, "start", svc) {
		return false
	}
	s.markCurrent(svc)
	return true
}

func (s *Switcher) postProcessVerb(ctx context.Context, verb string, svc types.ServiceType) bool {
	if s.cfg.ControlPlaneURL == "" {
		return false
	}
	endpoint := s.cfg.ControlPlaneURL + "/process/" + verb + "?service=" + url.QueryEscape(string(svc))
	err := s.cfg.Retry.run(ctx, s.log, verb, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SwitchTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: http %d", verb, svc, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("service", string(svc)).Str("verb", verb).Msg("process verb failed")
		return false
	}
	return true
}

// RestorePrevious re-activates whatever service was active before the
// current lease cycle's first switch. No-op when nothing was recorded or
// the recorded service is already active.
func (s *Switcher) RestorePrevious(ctx context.Context) bool {
	if s.cfg.DisableRestore {
		return true
	}
	s.mu.Lock()
	target := s.beforeRequest
	alreadyActive := target == "" || s.current == target
	if alreadyActive {
		s.beforeRequest = ""
	}
	s.mu.Unlock()
	if alreadyActive {
		return true
	}

	s.log.Info().Str("service", string(target)).Msg("restoring previous service")
	if !s.SwitchTo(ctx, target, false) {
		s.log.Warn().Str("service", string(target)).Msg("failed to restore previous service")
		return false
	}
	s.mu.Lock()
	s.beforeRequest = ""
	s.mu.Unlock()
	return true
}

func (s *Switcher) markCurrent(svc types.ServiceType) {
	s.mu.Lock()
	if s.current != svc {
		s.previous = s.current
		s.current = svc
	}
	s.mu.Unlock()
}
