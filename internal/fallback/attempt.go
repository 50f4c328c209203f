package fallback

import (
	"time"

	"chatgate/internal/core"
)

// Outcome classifies one attempt.
type Outcome int

const (
	// OutcomeAccepted means the attempt produced a non-empty reply.
	OutcomeAccepted Outcome = iota
	// OutcomeEmpty means the upstream answered but no text could be extracted.
	OutcomeEmpty
	// OutcomeFailed means the upstream call returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeEmpty:
		return "empty"
	default:
		return "failed"
	}
}

// AttemptResult is the outcome of one (provider, model) attempt.
type AttemptResult struct {
	Attempt  core.Attempt
	Outcome  Outcome
	Reply    string
	Err      error
	Duration time.Duration
}

// buildAttempts crosses [sentinel] + providers with models, provider-major.
func buildAttempts(providers []*core.Provider, models []string) []core.Attempt {
	all := make([]*core.Provider, 0, len(providers)+1)
	all = append(all, nil)
	all = append(all, providers...)

	attempts := make([]core.Attempt, 0, len(all)*len(models))
	for _, p := range all {
		for _, m := range models {
			attempts = append(attempts, core.Attempt{Provider: p, Model: m})
		}
	}
	return attempts
}

func record(a core.Attempt) core.AttemptRecord {
	return core.AttemptRecord{Provider: a.ProviderName(), Model: a.Model}
}
