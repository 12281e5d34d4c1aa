package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// StartTaskInput contains the parameters for starting a task.
type StartTaskInput struct {
	Task        string // Task name
	Owner       string // Session identity
	Description string // What the task is about
	Base        string // Base branch (optional; config, then current branch)
}

// StartTaskOutput contains the result of starting a task.
type StartTaskOutput struct {
	Task      *domain.TaskRecord
	Workspace string // Path of the task workspace
}

// StartTask is the use case for locking a task and creating its record and workspace.
type StartTask struct {
	ctrl        *controller.Controller
	workspaces  *workspace.Manager
	defaultBase string
}

// NewStartTask creates a new StartTask use case.
func NewStartTask(ctrl *controller.Controller, workspaces *workspace.Manager, defaultBase string) *StartTask {
	return &StartTask{ctrl: ctrl, workspaces: workspaces, defaultBase: defaultBase}
}

// Execute starts the task.
func (uc *StartTask) Execute(ctx context.Context, in StartTaskInput) (*StartTaskOutput, error) {
	if in.Owner == "" {
		return nil, domain.ErrNoSession
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, errors.New("description is required")
	}
	base := in.Base
	if base == "" {
		base = uc.defaultBase
	}
	rec, err := uc.ctrl.Start(ctx, in.Task, in.Owner, in.Description, base)
	if err != nil {
		return nil, err
	}
	return &StartTaskOutput{Task: rec, Workspace: uc.workspaces.TaskPath(in.Task)}, nil
}
