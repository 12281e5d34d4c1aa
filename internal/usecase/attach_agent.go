package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// AttachAgentInput identifies the agent session to attach to.
type AttachAgentInput struct {
	Task  string
	Agent string
}

// AttachAgent is the use case for attaching to an agent's session.
type AttachAgent struct {
	ctrl     *controller.Controller
	sessions domain.SessionManager
}

// NewAttachAgent creates a new AttachAgent use case.
func NewAttachAgent(ctrl *controller.Controller, sessions domain.SessionManager) *AttachAgent {
	return &AttachAgent{ctrl: ctrl, sessions: sessions}
}

// Execute attaches to the session. On success it does not return:
// the current process is replaced by the session client.
func (uc *AttachAgent) Execute(ctx context.Context, in AttachAgentInput) error {
	name, err := runningSession(ctx, uc.ctrl, uc.sessions, in.Task, in.Agent)
	if err != nil {
		return err
	}
	if err := uc.sessions.Attach(name); err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	return nil
}
