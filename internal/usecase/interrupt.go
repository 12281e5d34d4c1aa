package usecase

import (
	"context"
	"strings"

	"github.com/runoshun/git-taskflow/internal/recovery"
)

// InterruptInput contains a message delivered to a suspended task.
type InterruptInput struct {
	Task  string
	Owner string
	Text  string
}

// InterruptOutput contains how the message was handled.
type InterruptOutput struct {
	Interruption *recovery.Interruption
}

// Interrupt is the use case for handling messages that arrive while a task waits.
type Interrupt struct {
	recovery *recovery.Subsystem
}

// NewInterrupt creates a new Interrupt use case.
func NewInterrupt(r *recovery.Subsystem) *Interrupt {
	return &Interrupt{recovery: r}
}

// Execute interprets the message. The output is returned even when err is set,
// so callers can show what was understood.
func (uc *Interrupt) Execute(ctx context.Context, in InterruptInput) (*InterruptOutput, error) {
	it, err := uc.recovery.HandleInterruption(ctx, in.Task, in.Owner, strings.TrimSpace(in.Text))
	if it == nil {
		return nil, err
	}
	return &InterruptOutput{Interruption: it}, err
}
