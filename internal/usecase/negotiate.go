package usecase

import (
	"context"
	"errors"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/round"
)

func requireNegotiation(rec *domain.TaskRecord) error {
	if rec.State != domain.StateScopeNegotiation {
		return &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{"task is not in SCOPE_NEGOTIATION"}}
	}
	return nil
}

// ClassifyObjectionsInput contains a rejecting agent's own classification.
type ClassifyObjectionsInput struct {
	Task       string
	Agent      string
	Blocking   []string // Objections that must be resolved now
	Deferrable []string // Objections that may become follow-ups
}

// ClassifyObjectionsOutput contains the stored classification.
type ClassifyObjectionsOutput struct {
	Set *domain.ObjectionSet
}

// ClassifyObjections is the use case rejecting agents call during scope negotiation.
type ClassifyObjections struct {
	ctrl   *controller.Controller
	rounds *round.Coordinator
}

// NewClassifyObjections creates a new ClassifyObjections use case.
func NewClassifyObjections(ctrl *controller.Controller, rounds *round.Coordinator) *ClassifyObjections {
	return &ClassifyObjections{ctrl: ctrl, rounds: rounds}
}

// Execute stores the classification. A blocking objection can never be downgraded.
func (uc *ClassifyObjections) Execute(ctx context.Context, in ClassifyObjectionsInput) (*ClassifyObjectionsOutput, error) {
	if len(in.Blocking)+len(in.Deferrable) == 0 {
		return nil, errors.New("at least one objection is required")
	}
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	if err := requireNegotiation(rec); err != nil {
		return nil, err
	}
	objections := make([]domain.Objection, 0, len(in.Blocking)+len(in.Deferrable))
	for _, text := range in.Blocking {
		objections = append(objections, domain.Objection{Text: text, Severity: domain.SeverityBlocking})
	}
	for _, text := range in.Deferrable {
		objections = append(objections, domain.Objection{Text: text, Severity: domain.SeverityDeferrable})
	}
	set, err := uc.rounds.ClassifyObjections(ctx, rec, in.Agent, objections)
	if err != nil {
		return nil, err
	}
	return &ClassifyObjectionsOutput{Set: set}, nil
}

// ResolveNegotiationOutput contains the negotiation summary.
type ResolveNegotiationOutput struct {
	FollowUps []domain.FollowUp
	Next      domain.State // SYNTHESIS while anything blocks, else AWAITING_APPROVAL
	Outcome   domain.NegotiationOutcome
}

// ResolveNegotiation is the use case for previewing the result of scope negotiation.
type ResolveNegotiation struct {
	ctrl   *controller.Controller
	rounds *round.Coordinator
}

// NewResolveNegotiation creates a new ResolveNegotiation use case.
func NewResolveNegotiation(ctrl *controller.Controller, rounds *round.Coordinator) *ResolveNegotiation {
	return &ResolveNegotiation{ctrl: ctrl, rounds: rounds}
}

// Execute summarizes the classifications without recording anything.
func (uc *ResolveNegotiation) Execute(ctx context.Context, task string) (*ResolveNegotiationOutput, error) {
	rec, err := uc.ctrl.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := requireNegotiation(rec); err != nil {
		return nil, err
	}
	out, followUps, err := uc.rounds.ResolveNegotiation(ctx, rec)
	if err != nil {
		return nil, err
	}
	next := domain.StateAwaitingApproval
	if len(out.Blocking) > 0 {
		next = domain.StateSynthesis
	}
	return &ResolveNegotiationOutput{Outcome: out, FollowUps: followUps, Next: next}, nil
}
