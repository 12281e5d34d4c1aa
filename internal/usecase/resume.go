package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/recovery"
)

// ResumeInput contains the parameters for resuming after an interruption.
type ResumeInput struct {
	Owner string
}

// ResumeOutput contains what recovery found and did.
type ResumeOutput struct {
	Result *recovery.Result
}

// Resume is the use case for reconstructing a session's tasks from persisted state.
type Resume struct {
	recovery *recovery.Subsystem
}

// NewResume creates a new Resume use case.
func NewResume(r *recovery.Subsystem) *Resume {
	return &Resume{recovery: r}
}

// Execute runs recovery for every task the owner holds. When something needs a
// human decision the output is returned together with an EscalationError.
func (uc *Resume) Execute(ctx context.Context, in ResumeInput) (*ResumeOutput, error) {
	if in.Owner == "" {
		return nil, domain.ErrNoSession
	}
	res, err := uc.recovery.Recover(ctx, in.Owner)
	if res == nil {
		return nil, err
	}
	out := &ResumeOutput{Result: res}
	if err != nil {
		return out, err
	}
	return out, res.Err()
}
