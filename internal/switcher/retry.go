package switcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// run executes fn until it succeeds or attempts are exhausted, sleeping
// BaseDelay, BaseDelay*Multiplier, ... between tries. The last error wins.
func (p RetryPolicy) run(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return err
}
