package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
)

// AbandonTaskInput contains the parameters for abandoning a task.
type AbandonTaskInput struct {
	Task     string
	Owner    string
	Note     string // Kept as a follow-up when set
	Preserve bool   // Keep the task and agent branches
}

// AbandonTask is the use case for tearing a task down without completing it.
type AbandonTask struct {
	ctrl *controller.Controller
}

// NewAbandonTask creates a new AbandonTask use case.
func NewAbandonTask(ctrl *controller.Controller) *AbandonTask {
	return &AbandonTask{ctrl: ctrl}
}

// Execute abandons the task and releases its lock.
func (uc *AbandonTask) Execute(ctx context.Context, in AbandonTaskInput) error {
	return uc.ctrl.Abandon(ctx, in.Task, in.Owner, in.Preserve, in.Note)
}
