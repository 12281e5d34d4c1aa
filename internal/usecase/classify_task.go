package usecase

import (
	"context"
	"errors"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// ClassifyTaskInput contains the parameters for classifying a task.
type ClassifyTaskInput struct {
	Task  string
	Owner string
	Files []string // Files the change touches
}

// ClassifyTaskOutput contains the result of classifying a task.
type ClassifyTaskOutput struct {
	Task           *domain.TaskRecord
	Classification domain.Classification
	EscalatedBy    string // Keyword that raised the tier, if any
}

// ClassifyTask is the use case for computing a task's risk tier and agent set.
type ClassifyTask struct {
	ctrl *controller.Controller
}

// NewClassifyTask creates a new ClassifyTask use case.
func NewClassifyTask(ctrl *controller.Controller) *ClassifyTask {
	return &ClassifyTask{ctrl: ctrl}
}

// Execute classifies the task and moves it to CLASSIFIED.
func (uc *ClassifyTask) Execute(ctx context.Context, in ClassifyTaskInput) (*ClassifyTaskOutput, error) {
	if len(in.Files) == 0 {
		return nil, errors.New("at least one file is required")
	}
	rec, err := uc.ctrl.Classify(ctx, in.Task, in.Owner, in.Files)
	if err != nil {
		return nil, err
	}
	return &ClassifyTaskOutput{
		Task:           rec,
		Classification: rec.Classification(),
		EscalatedBy:    rec.Get(domain.StateClassified, domain.EvidenceEscalation),
	}, nil
}
