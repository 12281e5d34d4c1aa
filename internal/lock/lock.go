// Package lock grants exclusive ownership of a task to one session.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// UnreadableOwner is reported as the holder of a lock whose token cannot be parsed.
const UnreadableOwner = "<unreadable>"

// Manager acquires and releases task locks.
// Fields are ordered to minimize memory padding.
type Manager struct {
	store   domain.Store
	clock   domain.Clock
	logger  domain.Logger
	metrics domain.Metrics
}

// NewManager creates a new Manager.
func NewManager(store domain.Store, clock domain.Clock, logger domain.Logger, metrics domain.Metrics) *Manager {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Manager{store: store, clock: clock, logger: logger, metrics: metrics}
}

// Acquire creates the lock token for task. The check and the write are a single
// atomic create, so of two concurrent callers exactly one succeeds.
func (m *Manager) Acquire(ctx context.Context, task, owner string) (*domain.LockToken, error) {
	if owner == "" {
		return nil, domain.ErrNoSession
	}
	token := &domain.LockToken{
		OwnerID:   owner,
		TaskName:  task,
		State:     domain.StateInit,
		CreatedAt: m.clock.Now(),
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock token: %w", err)
	}

	err = m.store.Create(domain.LockKey(task), data)
	if errors.Is(err, domain.ErrKeyExists) {
		holder := UnreadableOwner
		if existing, getErr := m.Get(ctx, task); getErr == nil {
			holder = existing.OwnerID
		}
		m.metrics.LockConflict()
		m.logger.Info(task, "lock", fmt.Sprintf("acquire by %s refused: held by %s", owner, holder))
		return nil, &domain.LockConflictError{Task: task, Owner: holder}
	}
	if err != nil {
		return nil, fmt.Errorf("create lock: %w", err)
	}

	m.metrics.LockAcquired()
	m.logger.Info(task, "lock", "acquired by "+owner)
	return token, nil
}

// Release deletes the lock token if owner holds it.
// Releasing a lock that no longer exists is not an error.
func (m *Manager) Release(_ context.Context, task, owner string) error {
	err := m.store.Update(domain.LockKey(task), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, nil
		}
		token, err := decode(old)
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable lock token for %s", domain.ErrOwnershipMismatch, task)
		}
		if token.OwnerID != owner {
			return nil, &domain.OwnershipMismatchError{Task: task, Owner: token.OwnerID, Caller: owner}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	m.logger.Info(task, "lock", "released by "+owner)
	return nil
}

// UpdateState mirrors the task's state into the lock token.
func (m *Manager) UpdateState(_ context.Context, task, owner string, state domain.State) error {
	return m.store.Update(domain.LockKey(task), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotFound, task)
		}
		token, err := decode(old)
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable lock token for %s", domain.ErrOwnershipMismatch, task)
		}
		if token.OwnerID != owner {
			return nil, &domain.OwnershipMismatchError{Task: task, Owner: token.OwnerID, Caller: owner}
		}
		token.State = state
		return json.MarshalIndent(token, "", "  ")
	})
}

// Verify checks that owner holds the lock for task.
func (m *Manager) Verify(ctx context.Context, task, owner string) (*domain.LockToken, error) {
	token, err := m.Get(ctx, task)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != owner {
		return nil, &domain.OwnershipMismatchError{Task: task, Owner: token.OwnerID, Caller: owner}
	}
	return token, nil
}

// Get reads the lock token for task.
// A missing lock returns ErrLockNotFound; an unparseable one is returned as a decode error.
func (m *Manager) Get(_ context.Context, task string) (*domain.LockToken, error) {
	data, err := m.store.Get(domain.LockKey(task))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockNotFound, task)
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	token, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse lock for %s: %w", task, err)
	}
	return token, nil
}

// Entry is one lock as seen by List. Token is nil when the stored token cannot be parsed.
type Entry struct {
	Token *domain.LockToken
	Err   error
	Task  string
}

// List returns every lock, including unparseable ones.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	keys, err := m.store.List(domain.LockPrefix)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		task := key[len(domain.LockPrefix):]
		token, err := m.Get(ctx, task)
		if errors.Is(err, domain.ErrLockNotFound) {
			continue // released between List and Get
		}
		entries = append(entries, Entry{Task: task, Token: token, Err: err})
	}
	return entries, nil
}

func decode(data []byte) (*domain.LockToken, error) {
	var token domain.LockToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	if token.OwnerID == "" || token.TaskName == "" {
		return nil, errors.New("lock token missing owner_id or task_name")
	}
	return &token, nil
}
