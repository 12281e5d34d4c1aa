package round

import (
	"context"
	"sort"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/status"
)

// Poller reads agent status records until a round settles.
// Fields are ordered to minimize memory padding.
type Poller struct {
	statuses    *status.Tracker
	clock       domain.Clock
	after       func(time.Duration) <-chan time.Time
	staleAfter  time.Duration
	interval    time.Duration
	maxInterval time.Duration
}

// NewPoller creates a new Poller.
func NewPoller(statuses *status.Tracker, clock domain.Clock, staleAfter, interval, maxInterval time.Duration) *Poller {
	if interval <= 0 {
		interval = domain.DefaultPollInterval
	}
	if maxInterval < interval {
		maxInterval = interval
	}
	return &Poller{
		statuses:    statuses,
		clock:       clock,
		after:       time.After,
		staleAfter:  staleAfter,
		interval:    interval,
		maxInterval: maxInterval,
	}
}

// PollResult is the tri-state view of a round.
type PollResult struct {
	States   map[string]domain.PollState
	Records  map[string]*domain.AgentStatus
	Complete []string
	Pending  []string
	Stale    []string
}

// Settled reports whether every agent is terminal or at least one is stale.
func (r PollResult) Settled() bool {
	return len(r.Stale) > 0 || len(r.Pending) == 0
}

// Poll classifies each agent once. since is when the round started; an agent with no
// record becomes stale once the staleness window has passed since then.
func (p *Poller) Poll(ctx context.Context, task string, agents []string, since time.Time) (PollResult, error) {
	records, err := p.statuses.List(ctx, task)
	if err != nil {
		return PollResult{}, err
	}
	now := p.clock.Now()
	res := PollResult{States: make(map[string]domain.PollState, len(agents)), Records: records}
	for _, agent := range agents {
		state := domain.PollAgent(records[agent], now, since, p.staleAfter)
		res.States[agent] = state
		switch state {
		case domain.PollComplete:
			res.Complete = append(res.Complete, agent)
		case domain.PollStale:
			res.Stale = append(res.Stale, agent)
		default:
			res.Pending = append(res.Pending, agent)
		}
	}
	sort.Strings(res.Complete)
	sort.Strings(res.Pending)
	sort.Strings(res.Stale)
	return res, nil
}

// Wait polls with exponential backoff until the round settles or ctx ends.
// A signal on wake triggers an immediate poll.
func (p *Poller) Wait(ctx context.Context, task string, agents []string, since time.Time, wake <-chan struct{}) (PollResult, error) {
	interval := p.interval
	for {
		res, err := p.Poll(ctx, task, agents, since)
		if err != nil {
			return res, err
		}
		if res.Settled() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-wake:
		case <-p.after(interval):
			interval *= 2
			if interval > p.maxInterval {
				interval = p.maxInterval
			}
		}
	}
}
