package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// roundMode returns the agent mode of a round state.
func roundMode(state domain.State) (domain.Mode, bool) {
	switch state {
	case domain.StateImplementation:
		return domain.ModeImplementation, true
	case domain.StateReview:
		return domain.ModeReview, true
	default:
		return "", false
	}
}

// requireRound fails with a precondition error unless rec is in a round state.
func requireRound(rec *domain.TaskRecord) (domain.Mode, error) {
	mode, ok := roundMode(rec.State)
	if !ok {
		return "", &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{
			fmt.Sprintf("no agent round runs in %s (only %s and %s)", rec.State, domain.StateImplementation, domain.StateReview),
		}}
	}
	return mode, nil
}

// requireAgent fails unless agent is in rec's required agent set.
func requireAgent(rec *domain.TaskRecord, agent string) error {
	if !rec.Requires(agent) {
		return fmt.Errorf("%w: %s (required: %s)", domain.ErrAgentNotRequired, agent, strings.Join(rec.RequiredAgents, ", "))
	}
	return nil
}

// roundStart returns when the current state was entered.
func roundStart(rec *domain.TaskRecord) time.Time {
	if tr, ok := rec.LastTransition(); ok {
		return tr.Timestamp
	}
	return time.Time{}
}

// parseEvidence parses key=value pairs.
func parseEvidence(pairs []string) (domain.Evidence, error) {
	ev := domain.Evidence{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid evidence %q (want key=value)", p)
		}
		ev[k] = v
	}
	return ev, nil
}
