package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// ApproveCheckpointInput contains the parameters for approving a checkpoint.
type ApproveCheckpointInput struct {
	Task       string
	Owner      string
	Checkpoint string
	Digest     string // Digest (or a prefix of at least 8 hex digits) of the presented content
}

// ApproveCheckpointOutput contains the created flag.
type ApproveCheckpointOutput struct {
	Flag *domain.ApprovalFlag
}

// ApproveCheckpoint is the use case for recording a human approval.
type ApproveCheckpoint struct {
	ctrl *controller.Controller
}

// NewApproveCheckpoint creates a new ApproveCheckpoint use case.
func NewApproveCheckpoint(ctrl *controller.Controller) *ApproveCheckpoint {
	return &ApproveCheckpoint{ctrl: ctrl}
}

// Execute records the approval. The input goes through the same interpretation as
// any other interaction, so only a well-formed, digest-quoting approval is accepted.
func (uc *ApproveCheckpoint) Execute(ctx context.Context, in ApproveCheckpointInput) (*ApproveCheckpointOutput, error) {
	text := strings.Join([]string{"approve", in.Checkpoint, in.Digest}, " ")
	it := domain.InterpretInteraction(text)
	if it.Kind != domain.InteractionApproval {
		return nil, fmt.Errorf("%w: want approve <checkpoint> <digest>", domain.ErrApprovalNotSpecific)
	}
	flag, err := uc.ctrl.Approve(ctx, in.Task, in.Owner, it.Confirmation.Checkpoint, it.Confirmation)
	if err != nil {
		return nil, err
	}
	return &ApproveCheckpointOutput{Flag: flag}, nil
}
