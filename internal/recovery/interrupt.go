package recovery

import (
	"context"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// ViolationError reports that the persisted state changed while handling an interaction
// that must not change it.
type ViolationError struct {
	Task    string
	Before  domain.State
	After   domain.State
	Reports []Report
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("task %q changed from %s to %s while handling an interruption", e.Task, e.Before, e.After)
}

func (e *ViolationError) Unwrap() error { return domain.ErrConsistencyViolation }

// Interruption is the outcome of handling a message received by a suspended task.
type Interruption struct {
	Flag     *domain.ApprovalFlag
	Recovery *Result
	Kind     domain.InteractionKind
	State    domain.State
}

// HandleInterruption interprets text for task. Only an explicit approval or "resume"
// has any effect. Anything else leaves the task untouched and, at a checkpoint,
// reports that the task is still awaiting approval.
func (s *Subsystem) HandleInterruption(ctx context.Context, task, owner, text string) (*Interruption, error) {
	before, err := s.ctrl.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	in := domain.InterpretInteraction(text)
	out := &Interruption{Kind: in.Kind, State: before.State}

	var handleErr error
	switch in.Kind {
	case domain.InteractionResume:
		res, err := s.Recover(ctx, owner)
		out.Recovery = res
		if err != nil {
			return out, err
		}
		return out, res.Err()
	case domain.InteractionApproval:
		out.Flag, handleErr = s.ctrl.Approve(ctx, task, owner, in.Confirmation.Checkpoint, in.Confirmation)
	default:
		if cp, ok := pendingCheckpoint(before.State); ok {
			handleErr = &domain.AwaitingApprovalError{Task: task, Checkpoint: cp}
		}
	}

	after, err := s.ctrl.Load(ctx, task)
	if err != nil || after.State != before.State {
		v := &ViolationError{Task: task, Before: before.State, Reports: []Report{s.DetectTask(ctx, task, owner)}}
		if after != nil {
			v.After = after.State
		}
		s.logger.Error(task, "recovery", v.Error())
		return out, v
	}
	return out, handleErr
}

// pendingCheckpoint returns the checkpoint a task in state waits on.
func pendingCheckpoint(state domain.State) (domain.Checkpoint, bool) {
	switch state {
	case domain.StateSynthesis:
		return domain.CheckpointPlanApproval, true
	case domain.StateAwaitingApproval:
		return domain.CheckpointChangeReview, true
	default:
		return "", false
	}
}
