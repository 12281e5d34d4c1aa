package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// PresentCheckpointInput contains the parameters for presenting checkpoint content.
type PresentCheckpointInput struct {
	Task       string
	Owner      string
	Checkpoint string // PLAN-APPROVAL or CHANGE-REVIEW
	Content    string // What the human is asked to approve
}

// PresentCheckpointOutput contains the stored presentation.
type PresentCheckpointOutput struct {
	Presentation *domain.Presentation
}

// PresentCheckpoint is the use case for surfacing content at a checkpoint.
type PresentCheckpoint struct {
	ctrl *controller.Controller
}

// NewPresentCheckpoint creates a new PresentCheckpoint use case.
func NewPresentCheckpoint(ctrl *controller.Controller) *PresentCheckpoint {
	return &PresentCheckpoint{ctrl: ctrl}
}

// Execute stores the content and returns its digest, which an approval must quote.
func (uc *PresentCheckpoint) Execute(ctx context.Context, in PresentCheckpointInput) (*PresentCheckpointOutput, error) {
	cp, err := domain.ParseCheckpoint(in.Checkpoint)
	if err != nil {
		return nil, err
	}
	p, err := uc.ctrl.Present(ctx, in.Task, in.Owner, cp, in.Content)
	if err != nil {
		return nil, err
	}
	return &PresentCheckpointOutput{Presentation: p}, nil
}
