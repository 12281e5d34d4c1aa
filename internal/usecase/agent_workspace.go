package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// AgentWorkspaceInput identifies an agent of a task.
type AgentWorkspaceInput struct {
	Task  string
	Agent string
}

// AgentWorkspaceOutput describes the agent's workspace.
type AgentWorkspaceOutput struct {
	Path   string
	Branch string
	Exists bool
}

// AgentWorkspace is the use case for locating an agent's isolated workspace.
type AgentWorkspace struct {
	ctrl       *controller.Controller
	workspaces *workspace.Manager
}

// NewAgentWorkspace creates a new AgentWorkspace use case.
func NewAgentWorkspace(ctrl *controller.Controller, workspaces *workspace.Manager) *AgentWorkspace {
	return &AgentWorkspace{ctrl: ctrl, workspaces: workspaces}
}

// Execute returns where the agent works. It never creates the workspace; that happens
// when the task enters IMPLEMENTATION.
func (uc *AgentWorkspace) Execute(ctx context.Context, in AgentWorkspaceInput) (*AgentWorkspaceOutput, error) {
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	if err := requireAgent(rec, in.Agent); err != nil {
		return nil, err
	}
	exists, err := uc.workspaces.Exists(ctx, in.Task, in.Agent)
	if err != nil {
		return nil, err
	}
	return &AgentWorkspaceOutput{
		Path:   uc.workspaces.AgentPath(in.Task, in.Agent),
		Branch: workspace.BranchOf(in.Task, in.Agent),
		Exists: exists,
	}, nil
}
