package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// IntegrateAgentInput contains the parameters for integrating an agent's work.
type IntegrateAgentInput struct {
	Task  string
	Owner string
	Agent string
}

// IntegrateAgentOutput contains the new integration point of the task branch.
type IntegrateAgentOutput struct {
	IntegrationPoint string
}

// IntegrateAgent is the use case for merging an agent's workspace into the task workspace.
type IntegrateAgent struct {
	ctrl       *controller.Controller
	locks      *lock.Manager
	workspaces *workspace.Manager
	statuses   *status.Tracker
}

// NewIntegrateAgent creates a new IntegrateAgent use case.
func NewIntegrateAgent(ctrl *controller.Controller, locks *lock.Manager, workspaces *workspace.Manager, statuses *status.Tracker) *IntegrateAgent {
	return &IntegrateAgent{ctrl: ctrl, locks: locks, workspaces: workspaces, statuses: statuses}
}

// Execute integrates the agent's branch. Only the task owner may integrate, and only
// during IMPLEMENTATION. The agent's status record then names the new integration point.
func (uc *IntegrateAgent) Execute(ctx context.Context, in IntegrateAgentInput) (*IntegrateAgentOutput, error) {
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	if _, err := uc.locks.Verify(ctx, in.Task, in.Owner); err != nil {
		return nil, err
	}
	if rec.OwnerID != in.Owner {
		return nil, &domain.OwnershipMismatchError{Task: in.Task, Owner: rec.OwnerID, Caller: in.Owner}
	}
	if err := requireAgent(rec, in.Agent); err != nil {
		return nil, err
	}
	if rec.State != domain.StateImplementation {
		return nil, &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{
			fmt.Sprintf("agent work is integrated only in %s", domain.StateImplementation),
		}}
	}

	point, err := uc.workspaces.Integrate(ctx, in.Task, in.Agent)
	if err != nil {
		return nil, err
	}

	st, err := uc.statuses.Get(ctx, in.Task, in.Agent)
	if errors.Is(err, domain.ErrKeyNotFound) {
		st = &domain.AgentStatus{AgentID: in.Agent, TaskName: in.Task, Status: domain.LifecycleInProgress}
	} else if err != nil {
		return nil, err
	}
	st.Mode = domain.ModeImplementation
	st.LastIntegratedChange = point
	if _, err := uc.statuses.Report(ctx, *st); err != nil {
		return nil, fmt.Errorf("record integration point: %w", err)
	}
	return &IntegrateAgentOutput{IntegrationPoint: point}, nil
}
