package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// ListTasksOutput contains every task with a record.
type ListTasksOutput struct {
	Tasks      []*domain.TaskRecord
	Unreadable map[string]error // Tasks whose record could not be read
}

// ListTasks is the use case for listing tasks.
type ListTasks struct {
	ctrl *controller.Controller
}

// NewListTasks creates a new ListTasks use case.
func NewListTasks(ctrl *controller.Controller) *ListTasks {
	return &ListTasks{ctrl: ctrl}
}

// Execute loads every task record. A broken record does not hide the others.
func (uc *ListTasks) Execute(ctx context.Context) (*ListTasksOutput, error) {
	names, err := uc.ctrl.List(ctx)
	if err != nil {
		return nil, err
	}
	out := &ListTasksOutput{Unreadable: map[string]error{}}
	for _, name := range names {
		rec, err := uc.ctrl.Load(ctx, name)
		if err != nil {
			out.Unreadable[name] = err
			continue
		}
		out.Tasks = append(out.Tasks, rec)
	}
	return out, nil
}
