package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors.
var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrTaskExists            = errors.New("task record already exists")
	ErrLockConflict          = errors.New("lock held by another owner")
	ErrLockNotFound          = errors.New("lock not found")
	ErrOwnershipMismatch     = errors.New("ownership mismatch")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrPreconditionNotMet    = errors.New("precondition not met")
	ErrAwaitingApproval      = errors.New("awaiting approval")
	ErrApprovalNotSpecific   = errors.New("approval must reference the presented content")
	ErrNoPresentation        = errors.New("checkpoint content has not been presented")
	ErrEscalationRequired    = errors.New("escalation required")
	ErrConsistencyViolation  = errors.New("persisted state changed unexpectedly")
	ErrKeyNotFound           = errors.New("key not found")
	ErrKeyExists             = errors.New("key already exists")
	ErrWorkspaceExists       = errors.New("workspace already exists")
	ErrWorkspaceNotFound     = errors.New("workspace not found")
	ErrRemoveFromInside      = errors.New("cannot remove the workspace containing the current directory")
	ErrHistoryRefMissing     = errors.New("isolated history reference missing")
	ErrIntegrationConflict   = errors.New("integration conflict")
	ErrLocalValidationFailed = errors.New("local validation failed")
	ErrValidationFailed      = errors.New("validation failed")
	ErrNoValidateCommand     = errors.New("no validate command configured ([validate].command)")
	ErrUncommittedChanges    = errors.New("uncommitted changes exist")
	ErrNotGitRepository      = errors.New("not a git repository (or any of the parent directories)")
	ErrAgentNotRequired      = errors.New("agent is not in the required agent set")
	ErrNotRejecting          = errors.New("agent did not reject the change")
	ErrBlockingLocked        = errors.New("blocking objection cannot be reclassified")
	ErrNoObjections          = errors.New("a rejecting agent must classify at least one objection")
	ErrInvalidState          = errors.New("invalid state")
	ErrInvalidCheckpoint     = errors.New("invalid checkpoint")
	ErrInvalidRecord         = errors.New("invalid agent status record")
	ErrNoSession             = errors.New("no session identity (use --session or TASKFLOW_SESSION)")
	ErrRetriesExhausted      = errors.New("retry ceiling reached")
	ErrConfigExists          = errors.New("config file already exists")
	ErrSessionNotRunning     = errors.New("agent session is not running")
	ErrSessionRunning        = errors.New("agent session is already running")
)

// LockConflictError is returned when a lock for the task is already held.
type LockConflictError struct {
	Task  string
	Owner string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("task %q is locked by %s", e.Task, e.Owner)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

// OwnershipMismatchError signals a protocol bug or a forged identity. It is never retryable.
type OwnershipMismatchError struct {
	Task   string
	Owner  string
	Caller string
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("task %q is owned by %s, not %s", e.Task, e.Owner, e.Caller)
}

func (e *OwnershipMismatchError) Unwrap() error { return ErrOwnershipMismatch }

// PreconditionError lists every unmet condition of a rejected transition.
type PreconditionError struct {
	From    State
	To      State
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s -> %s: %s", e.From, e.To, strings.Join(e.Missing, "; "))
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionNotMet }

// AwaitingApprovalError is returned when a transition is blocked on a human checkpoint.
type AwaitingApprovalError struct {
	Task       string
	Checkpoint Checkpoint
}

func (e *AwaitingApprovalError) Error() string {
	return fmt.Sprintf("task %q is awaiting %s approval", e.Task, e.Checkpoint)
}

func (e *AwaitingApprovalError) Unwrap() error { return ErrAwaitingApproval }

// EscalationError carries a structured report for the owning human.
type EscalationError struct {
	Report EscalationReport
}

func (e *EscalationError) Error() string {
	return "escalation required: " + e.Report.Issue
}

func (e *EscalationError) Unwrap() error { return ErrEscalationRequired }

// EscalationReport describes a problem the engine will not resolve on its own.
// Options are enumerated for the human; the engine never selects one.
type EscalationReport struct {
	Task      string   `json:"task"`
	Issue     string   `json:"issue"`
	State     State    `json:"state,omitempty"`
	Attempted []string `json:"attempted,omitempty"`
	Options   []string `json:"options"`
}

// ErrorClass is the error taxonomy used to decide propagation.
type ErrorClass string

// Error classes.
const (
	ClassContention   ErrorClass = "contention"
	ClassPrecondition ErrorClass = "precondition"
	ClassAgentDomain  ErrorClass = "agent-domain"
	ClassConsistency  ErrorClass = "consistency"
	ClassApproval     ErrorClass = "approval"
	ClassOther        ErrorClass = "other"
)

// ClassOf returns the class of err.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassOther
	case errors.Is(err, ErrLockConflict):
		return ClassContention
	case errors.Is(err, ErrAwaitingApproval), errors.Is(err, ErrApprovalNotSpecific), errors.Is(err, ErrNoPresentation):
		return ClassApproval
	case errors.Is(err, ErrPreconditionNotMet), errors.Is(err, ErrInvalidTransition):
		return ClassPrecondition
	case errors.Is(err, ErrConsistencyViolation), errors.Is(err, ErrOwnershipMismatch), errors.Is(err, ErrEscalationRequired):
		return ClassConsistency
	case errors.Is(err, ErrLocalValidationFailed), errors.Is(err, ErrIntegrationConflict), errors.Is(err, ErrRetriesExhausted):
		return ClassAgentDomain
	default:
		return ClassOther
	}
}
