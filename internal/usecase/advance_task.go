package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// AdvanceTaskInput contains the parameters for a state transition.
type AdvanceTaskInput struct {
	Task          string
	Owner         string
	Target        string   // Target state name
	Justification string   // Recorded in the transition log
	Evidence      []string // key=value pairs recorded for the current state
}

// AdvanceTaskOutput contains the result of a transition.
type AdvanceTaskOutput struct {
	Task *domain.TaskRecord
	From domain.State
}

// AdvanceTask is the use case for moving a task to its next state.
type AdvanceTask struct {
	ctrl *controller.Controller
}

// NewAdvanceTask creates a new AdvanceTask use case.
func NewAdvanceTask(ctrl *controller.Controller) *AdvanceTask {
	return &AdvanceTask{ctrl: ctrl}
}

// Execute performs the transition. A refused transition returns a PreconditionError
// listing every unmet condition and leaves the record unchanged.
func (uc *AdvanceTask) Execute(ctx context.Context, in AdvanceTaskInput) (*AdvanceTaskOutput, error) {
	target, err := domain.ParseState(in.Target)
	if err != nil {
		return nil, err
	}
	ev, err := parseEvidence(in.Evidence)
	if err != nil {
		return nil, err
	}
	before, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	rec, err := uc.ctrl.Advance(ctx, in.Task, in.Owner, target, ev, in.Justification)
	if err != nil {
		return nil, err
	}
	return &AdvanceTaskOutput{Task: rec, From: before.State}, nil
}
