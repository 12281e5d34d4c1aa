// Package status stores the per-agent status records of a task's current round.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Tracker reads and writes agent status records.
type Tracker struct {
	store  domain.Store
	clock  domain.Clock
	logger domain.Logger
}

// NewTracker creates a new Tracker.
func NewTracker(store domain.Store, clock domain.Clock, logger domain.Logger) *Tracker {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	return &Tracker{store: store, clock: clock, logger: logger}
}

// Report writes an agent's own status record.
// The key is derived from the record, so an agent can only overwrite its own record.
// The retry count is carried over from the previous record; agents cannot reset it.
func (t *Tracker) Report(_ context.Context, rec domain.AgentStatus) (*domain.AgentStatus, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.UpdatedAt = t.clock.Now()
	err := t.store.Update(domain.StatusKey(rec.TaskName, rec.AgentID), func(old []byte) ([]byte, error) {
		if old != nil {
			if prev, err := decode(old); err == nil {
				rec.RetryCount = prev.RetryCount
			}
		}
		return yaml.Marshal(&rec)
	})
	if err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	t.logger.Debug(rec.TaskName, "round", fmt.Sprintf("%s reported %s/%s", rec.AgentID, rec.Status, rec.Decision))
	return &rec, nil
}

// Get returns an agent's record, or ErrKeyNotFound.
func (t *Tracker) Get(_ context.Context, task, agent string) (*domain.AgentStatus, error) {
	data, err := t.store.Get(domain.StatusKey(task, agent))
	if err != nil {
		return nil, err
	}
	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse status of %s: %w", agent, err)
	}
	return rec, nil
}

// List returns all readable records of task keyed by agent.
// Unreadable records are omitted, which makes their agents count as missing.
func (t *Tracker) List(ctx context.Context, task string) (map[string]*domain.AgentStatus, error) {
	keys, err := t.store.List(domain.StatusPrefix(task))
	if err != nil {
		return nil, fmt.Errorf("list status: %w", err)
	}
	out := make(map[string]*domain.AgentStatus, len(keys))
	for _, key := range keys {
		agent := strings.TrimPrefix(key, domain.StatusPrefix(task))
		rec, err := t.Get(ctx, task, agent)
		if err != nil {
			if !errors.Is(err, domain.ErrKeyNotFound) {
				t.logger.Warn(task, "round", err.Error())
			}
			continue
		}
		out[agent] = rec
	}
	return out, nil
}

// Reset writes a fresh WORKING record for a new round, keeping the retry count.
// Called by the controller when it starts a round, never by an agent.
func (t *Tracker) Reset(_ context.Context, task, agent string, mode domain.Mode) error {
	return t.store.Update(domain.StatusKey(task, agent), func(old []byte) ([]byte, error) {
		rec := domain.AgentStatus{
			AgentID:   agent,
			TaskName:  task,
			Mode:      mode,
			Status:    domain.LifecycleWorking,
			Decision:  domain.DecisionPending,
			UpdatedAt: t.clock.Now(),
		}
		if old != nil {
			if prev, err := decode(old); err == nil {
				rec.RetryCount = prev.RetryCount
				rec.LastIntegratedChange = prev.LastIntegratedChange
			}
		}
		return yaml.Marshal(&rec)
	})
}

// Reconcile marks an agent as re-invoked after it went stale and returns the new retry count.
// It is only used by recovery.
func (t *Tracker) Reconcile(_ context.Context, task, agent string, mode domain.Mode) (int, error) {
	var count int
	err := t.store.Update(domain.StatusKey(task, agent), func(old []byte) ([]byte, error) {
		rec := &domain.AgentStatus{AgentID: agent, TaskName: task, Mode: mode}
		if old != nil {
			if prev, err := decode(old); err == nil {
				rec = prev
			}
		}
		rec.RetryCount++
		rec.Status = domain.LifecycleWorking
		rec.Decision = domain.DecisionPending
		rec.UpdatedAt = t.clock.Now()
		count = rec.RetryCount
		return yaml.Marshal(rec)
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile status: %w", err)
	}
	return count, nil
}

// DeleteAll removes every record of task.
func (t *Tracker) DeleteAll(_ context.Context, task string) error {
	keys, err := t.store.List(domain.StatusPrefix(task))
	if err != nil {
		return fmt.Errorf("list status: %w", err)
	}
	for _, key := range keys {
		if err := t.store.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func decode(data []byte) (*domain.AgentStatus, error) {
	var rec domain.AgentStatus
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
