package usecase

import (
	"context"
	"errors"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// InvokeAgentInput contains the parameters for (re)starting an agent.
type InvokeAgentInput struct {
	Task  string
	Owner string
	Agent string
}

// InvokeAgentOutput describes the started invocation.
type InvokeAgentOutput struct {
	Request domain.InvokeRequest
}

// InvokeAgent is the use case for starting an agent on the current round by hand.
type InvokeAgent struct {
	ctrl       *controller.Controller
	workspaces *workspace.Manager
	rounds     *round.Coordinator
	invoker    domain.AgentInvoker
}

// NewInvokeAgent creates a new InvokeAgent use case.
func NewInvokeAgent(ctrl *controller.Controller, workspaces *workspace.Manager, rounds *round.Coordinator, invoker domain.AgentInvoker) *InvokeAgent {
	return &InvokeAgent{ctrl: ctrl, workspaces: workspaces, rounds: rounds, invoker: invoker}
}

// Execute invokes the agent in its round workspace: its own workspace during
// implementation, the task workspace during review.
func (uc *InvokeAgent) Execute(ctx context.Context, in InvokeAgentInput) (*InvokeAgentOutput, error) {
	if uc.invoker == nil {
		return nil, errors.New("no agent invoker configured")
	}
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != in.Owner {
		return nil, &domain.OwnershipMismatchError{Task: in.Task, Owner: rec.OwnerID, Caller: in.Owner}
	}
	if err := requireAgent(rec, in.Agent); err != nil {
		return nil, err
	}
	mode, err := requireRound(rec)
	if err != nil {
		return nil, err
	}

	path := uc.workspaces.AgentPath(in.Task, in.Agent)
	if mode == domain.ModeReview {
		path = uc.workspaces.TaskPath(in.Task)
	}
	feedback, err := uc.rounds.Feedback(ctx, rec)
	if err != nil {
		return nil, err
	}
	req := domain.InvokeRequest{Task: in.Task, Agent: in.Agent, Mode: mode, Workspace: path, Feedback: feedback}
	if err := uc.invoker.Invoke(ctx, req); err != nil {
		return nil, err
	}
	return &InvokeAgentOutput{Request: req}, nil
}
