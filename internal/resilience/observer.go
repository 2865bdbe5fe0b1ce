package resilience

import (
	logx "github.com/aidesk-core/server/pkg/logger"
)

// Outcome is the terminal result of one protected call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeFastFail Outcome = "fast_fail"
)

// Observer receives the outcome of every protected call.
type Observer interface {
	Observe(dep string, outcome Outcome, err error)
}

// LogObserver logs outcomes; failures at warn, fast fails at error.
type LogObserver struct{}

func NewLogObserver() *LogObserver {
	return &LogObserver{}
}

func (o *LogObserver) Observe(dep string, outcome Outcome, err error) {
	switch outcome {
	case OutcomeSuccess:
		logx.Debug().Str("dependency", dep).Msg("dependency call succeeded")
	case OutcomeFastFail:
		logx.Error().Str("dependency", dep).Err(err).Msg("dependency call failed fast, breaker open")
	default:
		logx.Warn().Str("dependency", dep).Err(err).Msg("dependency call failed")
	}
}
