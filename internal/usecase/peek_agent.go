package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// DefaultPeekLines is the default number of lines to display.
const DefaultPeekLines = 30

// PeekAgentInput contains the parameters for peeking at an agent's session.
type PeekAgentInput struct {
	Task  string
	Agent string
	Lines int // Number of lines to display (0 uses default)
}

// PeekAgentOutput contains the captured screen.
type PeekAgentOutput struct {
	Output string
}

// PeekAgent is the use case for viewing an agent session's output non-interactively.
type PeekAgent struct {
	ctrl     *controller.Controller
	sessions domain.SessionManager
}

// NewPeekAgent creates a new PeekAgent use case.
func NewPeekAgent(ctrl *controller.Controller, sessions domain.SessionManager) *PeekAgent {
	return &PeekAgent{ctrl: ctrl, sessions: sessions}
}

// Execute captures the last lines of a running agent session.
func (uc *PeekAgent) Execute(ctx context.Context, in PeekAgentInput) (*PeekAgentOutput, error) {
	name, err := runningSession(ctx, uc.ctrl, uc.sessions, in.Task, in.Agent)
	if err != nil {
		return nil, err
	}

	lines := in.Lines
	if lines <= 0 {
		lines = DefaultPeekLines
	}
	output, err := uc.sessions.Peek(name, lines)
	if err != nil {
		return nil, fmt.Errorf("peek session: %w", err)
	}
	return &PeekAgentOutput{Output: output}, nil
}

// runningSession resolves the session of a required agent and checks it is running.
func runningSession(ctx context.Context, ctrl *controller.Controller, sessions domain.SessionManager, task, agent string) (string, error) {
	rec, err := ctrl.Load(ctx, task)
	if err != nil {
		return "", err
	}
	if err := requireAgent(rec, agent); err != nil {
		return "", err
	}
	if sessions == nil {
		return "", domain.ErrSessionNotRunning
	}
	name := domain.AgentSessionName(task, agent)
	running, err := sessions.IsRunning(name)
	if err != nil {
		return "", fmt.Errorf("check session: %w", err)
	}
	if !running {
		return "", fmt.Errorf("%w: %s (agents run in a session with runner = \"tmux\")", domain.ErrSessionNotRunning, name)
	}
	return name, nil
}
