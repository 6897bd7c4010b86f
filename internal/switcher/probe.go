package switcher

import (
	"context"
	"net/http"
	"time"

	"arbiterd/pkg/types"
)

// probeURL maps a service to its lightweight health endpoint.
func (s *Switcher) probeURL(svc types.ServiceType) string {
	switch svc {
	case types.ServiceTextGen:
		if s.cfg.TextGenURL == "" {
			return ""
		}
		return s.cfg.TextGenURL + "/api/tags"
	case types.ServiceImageGen:
		if s.cfg.ImageGenURL == "" {
			return ""
		}
		return s.cfg.ImageGenURL + "/system_stats"
	default:
		return ""
	}
}

// CheckServiceAvailable probes svc's own API directly, bypassing the control
// plane. Non-mutating, short timeout. Services without a known endpoint
// report unavailable.
func (s *Switcher) CheckServiceAvailable(ctx context.Context, svc types.ServiceType) bool {
	endpoint := s.probeURL(svc)
	if endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitForReady polls the direct probe after a switch until the service
// answers or the wait window closes. Services without a probe endpoint are
// considered ready immediately.
func (s *Switcher) waitForReady(ctx context.Context, svc types.ServiceType) bool {
	if s.probeURL(svc) == "" {
		return true
	}
	start := time.Now()
	for {
		if s.CheckServiceAvailable(ctx, svc) {
			s.log.Info().
				Str("service", string(svc)).
				Dur("waited", time.Since(start)).
				Msg("service ready")
			return true
		}
		if time.Since(start) >= s.cfg.ReadyWait {
			return false
		}
		select {
		case <-time.After(s.cfg.ReadyPollInterval):
		case <-ctx.Done():
			return false
		}
	}
}
