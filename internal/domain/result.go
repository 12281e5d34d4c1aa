package domain

import "errors"

// ResultCode is the outcome reported to the engine's caller.
type ResultCode string

// Result codes.
const (
	ResultSuccess            ResultCode = "SUCCESS"
	ResultLockConflict       ResultCode = "LOCK_CONFLICT"
	ResultPreconditionNotMet ResultCode = "PRECONDITION_NOT_MET"
	ResultAwaitingApproval   ResultCode = "AWAITING_APPROVAL"
	ResultEscalation         ResultCode = "ESCALATION_REQUIRED"
	ResultError              ResultCode = "ERROR"
)

// ResultCodeOf maps an error returned by the engine to its result code.
func ResultCodeOf(err error) ResultCode {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrLockConflict):
		return ResultLockConflict
	case errors.Is(err, ErrAwaitingApproval), errors.Is(err, ErrApprovalNotSpecific), errors.Is(err, ErrNoPresentation):
		return ResultAwaitingApproval
	case errors.Is(err, ErrPreconditionNotMet):
		return ResultPreconditionNotMet
	case errors.Is(err, ErrEscalationRequired), errors.Is(err, ErrConsistencyViolation):
		return ResultEscalation
	default:
		return ResultError
	}
}

// ExitCode returns the process exit status for the result code.
func (c ResultCode) ExitCode() int {
	switch c {
	case ResultSuccess:
		return 0
	case ResultLockConflict:
		return 3
	case ResultPreconditionNotMet:
		return 4
	case ResultAwaitingApproval:
		return 5
	case ResultEscalation:
		return 6
	default:
		return 1
	}
}
