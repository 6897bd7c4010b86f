package arbiter

import "context"

// With acquires the GPU, runs fn, and releases on every exit path including
// panics. fn's error passes through untouched.
func (a *Arbiter) With(ctx context.Context, opts AcquireOptions, fn func(ctx context.Context) error) error {
	lease, err := a.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Release(lease.ID)
	return fn(ctx)
}
