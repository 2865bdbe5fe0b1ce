package resilience

import (
	"sync"

	"github.com/sony/gobreaker/v2"

	logx "github.com/aidesk-core/server/pkg/logger"
)

// Registry holds one circuit breaker per dependency name. Breaker state is
// process-wide: every call site naming the same dependency shares it.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	obs      Observer
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRegistry(cfg Config, obs Observer) *Registry {
	if obs == nil {
		obs = NewLogObserver()
	}
	return &Registry{
		cfg:      cfg,
		obs:      obs,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Registry) breaker(dep string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[dep]; ok {
		return cb
	}

	threshold := r.cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: dep,
		// a single trial call probes recovery in half-open
		MaxRequests: 1,
		Timeout:     r.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warn().
				Str("dependency", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	r.breakers[dep] = cb
	return cb
}

// State reports the current breaker state for a dependency.
func (r *Registry) State(dep string) gobreaker.State {
	return r.breaker(dep).State()
}

func (r *Registry) observe(dep string, outcome Outcome, err error) {
	r.obs.Observe(dep, outcome, err)
}
