package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/aidesk-core/server/internal/core/error"
)

func testConfig() Config {
	return Config{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		JitterPercent:    0,
		BreakerThreshold: 5,
		BreakerCooldown:  50 * time.Millisecond,
	}
}

type recordingObserver struct {
	outcomes []Outcome
}

func (r *recordingObserver) Observe(dep string, outcome Outcome, err error) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	calls := 0
	out, err := Do(context.Background(), reg, "dep", 0, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errx.Transient(errors.New("503"), "upstream")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	// two transient failures followed by a success leave the breaker closed
	assert.Equal(t, gobreaker.StateClosed, reg.State("dep"))
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	calls := 0
	_, err := Do(context.Background(), reg, "dep", 0, func(ctx context.Context) (int, error) {
		calls++
		return 0, errx.Permanent(errors.New("bad key"), "auth failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errx.IsPermanent(err))
}

func TestRetriesExhaustedReturnsLastError(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	calls := 0
	_, err := Do(context.Background(), reg, "dep", 0, func(ctx context.Context) (int, error) {
		calls++
		return 0, errx.Transient(errors.New("still down"), "upstream")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errx.IsTransient(err))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	obs := &recordingObserver{}
	reg := NewRegistry(cfg, obs)

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), reg, "flaky", 0, func(ctx context.Context) (int, error) {
			return 0, errx.Transient(errors.New("down"), "upstream")
		})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, reg.State("flaky"))

	// next call fails fast without invoking fn
	invoked := false
	_, err := Do(context.Background(), reg, "flaky", 0, func(ctx context.Context) (int, error) {
		invoked = true
		return 1, nil
	})
	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, errx.IsUnavailable(err))
	assert.Equal(t, OutcomeFastFail, obs.outcomes[len(obs.outcomes)-1])
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	reg := NewRegistry(cfg, nil)

	for i := 0; i < 5; i++ {
		Do(context.Background(), reg, "dep", 0, func(ctx context.Context) (int, error) {
			return 0, errx.Transient(errors.New("down"), "upstream")
		})
	}
	require.Equal(t, gobreaker.StateOpen, reg.State("dep"))

	time.Sleep(cfg.BreakerCooldown + 10*time.Millisecond)

	// the half-open trial call succeeds and closes the breaker
	out, err := Do(context.Background(), reg, "dep", 0, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, gobreaker.StateClosed, reg.State("dep"))
}

func TestBreakersAreIndependentPerDependency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	reg := NewRegistry(cfg, nil)

	for i := 0; i < 5; i++ {
		Do(context.Background(), reg, "a", 0, func(ctx context.Context) (int, error) {
			return 0, errx.Transient(errors.New("down"), "upstream")
		})
	}
	assert.Equal(t, gobreaker.StateOpen, reg.State("a"))
	assert.Equal(t, gobreaker.StateClosed, reg.State("b"))
}

func TestPerAttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	reg := NewRegistry(cfg, nil)

	calls := 0
	_, err := Do(context.Background(), reg, "slow", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
			return 1, nil
		}
	})

	require.Error(t, err)
	// the deadline counts as transient, so the attempt is retried once
	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
