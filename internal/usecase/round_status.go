package usecase

import (
	"context"
	"time"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/round"
)

// WakeSource signals changes to a task's status records.
type WakeSource interface {
	Watch(task string) (<-chan struct{}, func() error, error)
}

// RoundStatusInput contains the parameters for inspecting a round.
type RoundStatusInput struct {
	Task    string
	Timeout time.Duration // Upper bound on waiting; 0 waits until ctx ends
	Wait    bool          // Block until the round settles
}

// RoundStatusOutput contains the poll result of the current round.
type RoundStatusOutput struct {
	Since  time.Time
	Mode   domain.Mode
	Result round.PollResult
}

// RoundStatus is the use case for polling the agents of the current round.
type RoundStatus struct {
	ctrl   *controller.Controller
	poller *round.Poller
	wake   WakeSource
}

// NewRoundStatus creates a new RoundStatus use case. wake may be nil.
func NewRoundStatus(ctrl *controller.Controller, poller *round.Poller, wake WakeSource) *RoundStatus {
	return &RoundStatus{ctrl: ctrl, poller: poller, wake: wake}
}

// Execute polls once, or with Wait until every agent is terminal or one is stale.
func (uc *RoundStatus) Execute(ctx context.Context, in RoundStatusInput) (*RoundStatusOutput, error) {
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	mode, err := requireRound(rec)
	if err != nil {
		return nil, err
	}
	out := &RoundStatusOutput{Since: roundStart(rec), Mode: mode}

	if !in.Wait {
		out.Result, err = uc.poller.Poll(ctx, in.Task, rec.RequiredAgents, out.Since)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}
	var wake <-chan struct{}
	if uc.wake != nil {
		ch, stop, err := uc.wake.Watch(in.Task)
		if err != nil {
			return nil, err
		}
		defer func() { _ = stop() }()
		wake = ch
	}
	out.Result, err = uc.poller.Wait(ctx, in.Task, rec.RequiredAgents, out.Since, wake)
	return out, err
}
