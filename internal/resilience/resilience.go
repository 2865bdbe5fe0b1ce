// Package resilience wraps dependency calls with retry, per-attempt timeouts
// and per-dependency circuit breakers. Callers classify failures through the
// errx kinds; only transient errors are retried.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"

	errx "github.com/aidesk-core/server/internal/core/error"
)

type Config struct {
	MaxAttempts      int           `envconfig:"RESILIENCE_MAX_ATTEMPTS" default:"3"`
	BaseDelay        time.Duration `envconfig:"RESILIENCE_BASE_DELAY" default:"1s"`
	JitterPercent    uint64        `envconfig:"RESILIENCE_JITTER_PERCENT" default:"20"`
	BreakerThreshold uint32        `envconfig:"RESILIENCE_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"RESILIENCE_BREAKER_COOLDOWN" default:"60s"`
}

// Do executes fn against the named dependency with retry and breaker
// protection. timeout bounds each individual attempt; zero disables it.
// When the breaker is open the call fails fast with an unavailable error and
// fn is never invoked.
func Do[T any](ctx context.Context, reg *Registry, dep string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	out, err := reg.breaker(dep).Execute(func() (any, error) {
		var result T
		rerr := retry.Do(ctx, reg.backoff(), func(ctx context.Context) error {
			attemptCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			v, err := fn(attemptCtx)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errx.IsTransient(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			result = v
			return nil
		})
		if rerr != nil {
			return nil, rerr
		}
		return result, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reg.observe(dep, OutcomeFastFail, err)
			return zero, errx.Unavailable(err, dep+" is unavailable")
		}
		reg.observe(dep, OutcomeFailure, err)
		return zero, err
	}

	reg.observe(dep, OutcomeSuccess, nil)
	v, ok := out.(T)
	if !ok {
		return zero, errx.Permanent(errors.New("resilience: unexpected result type"), errx.SystemErrorMessage)
	}
	return v, nil
}

func (r *Registry) backoff() retry.Backoff {
	b := retry.NewExponential(r.cfg.BaseDelay)
	if r.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(r.cfg.JitterPercent, b)
	}
	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
