package usecase

import (
	"context"
	"errors"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/status"
)

// LogTailer reads the most recent entries of a task's log.
type LogTailer interface {
	Tail(task string, n int) ([]string, error)
}

// ShowTaskInput contains the parameters for showing a task.
type ShowTaskInput struct {
	Task     string
	LogLines int // Number of log entries to include (0 = none)
}

// ShowTaskOutput contains everything persisted about a task.
type ShowTaskOutput struct {
	Task      *domain.TaskRecord             `json:"task"`
	Lock      *domain.LockToken              `json:"lock,omitempty"`
	Statuses  map[string]*domain.AgentStatus `json:"statuses"`
	FollowUps []domain.FollowUp              `json:"follow_ups"`
	Log       []string                       `json:"log,omitempty"`
}

// ShowTask is the use case for displaying a task.
type ShowTask struct {
	ctrl     *controller.Controller
	locks    *lock.Manager
	statuses *status.Tracker
	rounds   *round.Coordinator
	logs     LogTailer
}

// NewShowTask creates a new ShowTask use case. logs may be nil.
func NewShowTask(ctrl *controller.Controller, locks *lock.Manager, statuses *status.Tracker, rounds *round.Coordinator, logs LogTailer) *ShowTask {
	return &ShowTask{ctrl: ctrl, locks: locks, statuses: statuses, rounds: rounds, logs: logs}
}

// Execute gathers the task record with its lock, agent statuses, follow-ups and log.
func (uc *ShowTask) Execute(ctx context.Context, in ShowTaskInput) (*ShowTaskOutput, error) {
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	out := &ShowTaskOutput{Task: rec}

	out.Lock, err = uc.locks.Get(ctx, in.Task)
	if err != nil && !errors.Is(err, domain.ErrLockNotFound) {
		return nil, err
	}
	if out.Statuses, err = uc.statuses.List(ctx, in.Task); err != nil {
		return nil, err
	}
	if out.FollowUps, err = uc.rounds.FollowUps(ctx, in.Task); err != nil {
		return nil, err
	}
	if uc.logs != nil && in.LogLines > 0 {
		if out.Log, err = uc.logs.Tail(in.Task, in.LogLines); err != nil {
			return nil, err
		}
	}
	return out, nil
}
