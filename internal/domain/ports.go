package domain

import (
	"context"
	"time"
)

// Store is the key-value storage injected into every component.
// Keys are slash separated; values are opaque bytes.
type Store interface {
	// Get returns the value for key or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Create stores value only if key does not exist; otherwise ErrKeyExists.
	Create(key string, value []byte) error

	// Put atomically replaces the value for key.
	Put(key string, value []byte) error

	// Update atomically rewrites key with fn's result while holding the store lock.
	// old is nil when key is absent. A nil result deletes the key.
	// If fn returns an error nothing is written.
	Update(key string, fn func(old []byte) ([]byte, error)) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns keys under prefix, sorted.
	List(prefix string) ([]string, error)
}

// WorktreeManager creates isolated working copies (git worktrees).
type WorktreeManager interface {
	// Create creates a worktree at path for branch, creating the branch from base if needed.
	Create(branch, base, path string) (string, error)

	// Resolve returns the path of an existing worktree for the branch.
	Resolve(branch string) (string, error)

	// Remove deletes the worktree at path.
	Remove(path string, force bool) error

	// Exists checks if a worktree exists for the branch.
	Exists(branch string) (bool, error)

	// List returns all worktrees.
	List() ([]WorktreeInfo, error)
}

// WorktreeInfo contains information about a worktree.
type WorktreeInfo struct {
	Path   string // Absolute path to worktree
	Branch string // Branch name
}

// VersionControl is the version-history substrate.
type VersionControl interface {
	// CurrentIntegrationPoint returns the head commit of branch.
	CurrentIntegrationPoint(branch string) (string, error)

	// RefExists checks whether branch exists.
	RefExists(branch string) (bool, error)

	// HeadOf returns the commit checked out in a workspace.
	HeadOf(workspace string) (string, error)

	// CurrentBranch returns the branch checked out at the repository root.
	CurrentBranch() (string, error)

	// Integrate merges source into the branch checked out in workspace.
	// A conflicting merge is aborted and reported as ErrIntegrationConflict.
	Integrate(ctx context.Context, source, workspace string) error

	// Rebase replays the workspace's branch onto the tip of onto.
	// A conflicting rebase is aborted and reported as ErrIntegrationConflict.
	Rebase(ctx context.Context, workspace, onto string) error

	// ListBranches returns local branches under prefix, sorted.
	ListBranches(prefix string) ([]string, error)

	// DeleteBranch deletes a branch.
	DeleteBranch(branch string, force bool) error

	// HasUncommittedChanges checks for uncommitted changes in a workspace.
	HasUncommittedChanges(workspace string) (bool, error)
}

// ValidationResult is the outcome of building and testing a workspace.
type ValidationResult struct {
	Details string
	Passed  bool
}

// Validator builds and tests a workspace.
type Validator interface {
	Validate(ctx context.Context, workspace string) (ValidationResult, error)
}

// Classifier computes the risk classification of a change.
type Classifier interface {
	Classify(files []string, description string) Classification
}

// AgentInvoker starts an agent for a round. It does not wait for the agent to finish.
type AgentInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) error
}

// SessionManager runs agents in named terminal sessions a human can attach to.
type SessionManager interface {
	// Start creates a detached session running opts.Command.
	Start(ctx context.Context, opts StartSessionOptions) error

	// Stop terminates a session and the processes running in it.
	Stop(name string) error

	// Attach replaces the current process with a client of the session.
	Attach(name string) error

	// Peek captures the last lines of a session's screen.
	Peek(name string, lines int) (string, error)

	// IsRunning reports whether a session exists.
	IsRunning(name string) (bool, error)
}

// StartSessionOptions configures session creation.
type StartSessionOptions struct {
	Name    string
	Dir     string
	Command string
	Env     []string // KEY=VALUE pairs added to the session environment
}

// InvokeRequest describes one agent invocation.
type InvokeRequest struct {
	Task      string
	Agent     string
	Mode      Mode
	Workspace string
	Feedback  string
}

// ConfigLoader loads configuration from files.
type ConfigLoader interface {
	// Load returns the merged configuration (global + repo).
	Load() (*Config, error)
}

// Logger writes operational logs, optionally scoped to a task.
type Logger interface {
	Info(task, category, msg string)
	Debug(task, category, msg string)
	Warn(task, category, msg string)
	Error(task, category, msg string)
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Info(_, _, _ string)  {}
func (NopLogger) Debug(_, _, _ string) {}
func (NopLogger) Warn(_, _, _ string)  {}
func (NopLogger) Error(_, _, _ string) {}

// Metrics records engine events.
type Metrics interface {
	Transition(from, to State)
	PreconditionFailed(to State)
	LockAcquired()
	LockConflict()
	Recovery(action string)
	Escalation()
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) Transition(_, _ State)      {}
func (NopMetrics) PreconditionFailed(_ State) {}
func (NopMetrics) LockAcquired()              {}
func (NopMetrics) LockConflict()              {}
func (NopMetrics) Recovery(_ string)          {}
func (NopMetrics) Escalation()                {}

// Clock provides time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}
