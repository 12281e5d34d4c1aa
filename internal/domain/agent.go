package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode is the kind of work an agent performs in a round.
type Mode string

// Agent modes.
const (
	ModeImplementation Mode = "implementation"
	ModeReview         Mode = "review"
)

// Lifecycle is an agent's progress within the current round.
type Lifecycle string

// Lifecycle values.
const (
	LifecycleWorking    Lifecycle = "WORKING"
	LifecycleInProgress Lifecycle = "IN_PROGRESS"
	LifecycleComplete   Lifecycle = "COMPLETE"
	LifecycleError      Lifecycle = "ERROR"
)

// IsTerminal returns true when the agent has finished the round, successfully or not.
func (l Lifecycle) IsTerminal() bool {
	return l == LifecycleComplete || l == LifecycleError
}

// Decision is a reviewing agent's verdict.
type Decision string

// Decisions.
const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionPending  Decision = "PENDING"
)

// WorkRemainingNone is the only remaining-work value that closes a round.
const WorkRemainingNone = "none"

// AgentStatus is one agent's record for the current round of a task.
// Only the agent itself writes it; the controller reads it.
type AgentStatus struct {
	UpdatedAt            time.Time `yaml:"updated_at" json:"updated_at"`
	AgentID              string    `yaml:"agent_id" json:"agent_id"`
	TaskName             string    `yaml:"task_name" json:"task_name"`
	Mode                 Mode      `yaml:"mode" json:"mode"`
	Status               Lifecycle `yaml:"status" json:"status"`
	Decision             Decision  `yaml:"decision" json:"decision"`
	LastIntegratedChange string    `yaml:"last_integrated_change" json:"last_integrated_change"`
	WorkRemaining        string    `yaml:"work_remaining" json:"work_remaining"`
	RetryCount           int       `yaml:"retry_count" json:"retry_count"`
}

// Validate checks the enumerated fields.
func (s *AgentStatus) Validate() error {
	if s.AgentID == "" || s.TaskName == "" {
		return fmt.Errorf("%w: agent_id and task_name are required", ErrInvalidRecord)
	}
	switch s.Mode {
	case ModeImplementation, ModeReview:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidRecord, s.Mode)
	}
	switch s.Status {
	case LifecycleWorking, LifecycleInProgress, LifecycleComplete, LifecycleError:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, s.Status)
	}
	switch s.Decision {
	case DecisionApproved, DecisionRejected, DecisionPending:
	case "":
		s.Decision = DecisionPending
	default:
		return fmt.Errorf("%w: decision %q", ErrInvalidRecord, s.Decision)
	}
	return nil
}

// Closed reports whether the record satisfies {COMPLETE, APPROVED, "none"}.
func (s *AgentStatus) Closed() bool {
	return s.Status == LifecycleComplete &&
		s.Decision == DecisionApproved &&
		strings.EqualFold(strings.TrimSpace(s.WorkRemaining), WorkRemainingNone)
}

// RoundEvaluation is the outcome of the round-completion predicate.
type RoundEvaluation struct {
	Unmet    []string
	Complete bool
}

// EvaluateRound applies the round-completion predicate to the records of the required agents.
// validated reports whether the task workspace independently passed full validation.
func EvaluateRound(required []string, records map[string]*AgentStatus, mode Mode, validated bool) RoundEvaluation {
	var unmet []string
	for _, agent := range required {
		rec, ok := records[agent]
		if !ok || rec == nil {
			unmet = append(unmet, fmt.Sprintf("agent %s has no status record", agent))
			continue
		}
		if rec.Mode != mode {
			unmet = append(unmet, fmt.Sprintf("agent %s is in %s mode, want %s", agent, rec.Mode, mode))
			continue
		}
		if rec.Status != LifecycleComplete {
			unmet = append(unmet, fmt.Sprintf("agent %s status is %s", agent, rec.Status))
		}
		if rec.Decision != DecisionApproved {
			unmet = append(unmet, fmt.Sprintf("agent %s decision is %s", agent, rec.Decision))
		}
		if !strings.EqualFold(strings.TrimSpace(rec.WorkRemaining), WorkRemainingNone) {
			unmet = append(unmet, fmt.Sprintf("agent %s has remaining work: %s", agent, rec.WorkRemaining))
		}
	}
	if !validated {
		unmet = append(unmet, "task workspace did not pass validation")
	}
	return RoundEvaluation{Complete: len(unmet) == 0, Unmet: unmet}
}

// Rejections returns the required agents whose records carry a REJECTED decision, sorted.
func Rejections(required []string, records map[string]*AgentStatus) []string {
	var out []string
	for _, agent := range required {
		if rec, ok := records[agent]; ok && rec != nil && rec.Decision == DecisionRejected {
			out = append(out, agent)
		}
	}
	sort.Strings(out)
	return out
}

// PollState is the tri-state outcome of polling one agent.
type PollState string

// Poll states.
const (
	PollComplete PollState = "complete"
	PollPending  PollState = "pending"
	PollStale    PollState = "stale"
)

// PollAgent classifies a record against the staleness window.
// A missing record counts as pending until the window has elapsed since since.
func PollAgent(rec *AgentStatus, now, since time.Time, staleAfter time.Duration) PollState {
	if rec == nil {
		if staleAfter > 0 && now.Sub(since) > staleAfter {
			return PollStale
		}
		return PollPending
	}
	if rec.Status.IsTerminal() {
		return PollComplete
	}
	if staleAfter > 0 && now.Sub(rec.UpdatedAt) > staleAfter {
		return PollStale
	}
	return PollPending
}
