package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/round"
)

// DecideRejectionOutput contains the route for a rejected review.
type DecideRejectionOutput struct {
	Decision round.RejectionDecision
	Next     domain.State // State to advance to from REVIEW
}

// DecideRejection is the use case for previewing how a rejection will be routed.
type DecideRejection struct {
	ctrl   *controller.Controller
	rounds *round.Coordinator
}

// NewDecideRejection creates a new DecideRejection use case.
func NewDecideRejection(ctrl *controller.Controller, rounds *round.Coordinator) *DecideRejection {
	return &DecideRejection{ctrl: ctrl, rounds: rounds}
}

// Execute estimates the resolution effort. It does not change any state.
func (uc *DecideRejection) Execute(ctx context.Context, task string) (*DecideRejectionOutput, error) {
	rec, err := uc.ctrl.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StateReview {
		return nil, &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{"rejections are routed from REVIEW"}}
	}
	d, err := uc.rounds.DecideRejection(ctx, rec)
	if err != nil {
		return nil, err
	}
	next := domain.StateImplementation
	if d.Outcome == domain.OutcomeNegotiate {
		next = domain.StateScopeNegotiation
	}
	return &DecideRejectionOutput{Decision: d, Next: next}, nil
}
