// Package testutil provides shared test utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// MockClock is a test double for domain.Clock.
type MockClock struct {
	NowTime time.Time
	mu      sync.Mutex
}

// NewMockClock returns a clock fixed at a stable instant.
func NewMockClock() *MockClock {
	return &MockClock{NowTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the configured time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NowTime
}

// Advance moves the clock forward.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NowTime = m.NowTime.Add(d)
}

// FakeRepo is an in-memory git repository implementing both
// domain.WorktreeManager and domain.VersionControl.
// Fields are ordered to minimize memory padding.
type FakeRepo struct {
	Branches      map[string]string // branch -> head commit
	Trees         map[string]string // worktree path -> branch
	Dirty         map[string]bool   // worktree path -> uncommitted changes
	CreateErr     error
	IntegrateErrs []error // consumed one per Integrate call
	RebaseErr     error
	Root          string
	Current       string
	Integrations  []string // "source->workspace"
	Rebases       []string
	Removed       []string
	seq           int
	mu            sync.Mutex
}

// NewFakeRepo creates a repository with a main branch.
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		Branches: map[string]string{"main": "c0"},
		Trees:    map[string]string{},
		Dirty:    map[string]bool{},
		Root:     "/repo",
		Current:  "main",
	}
}

// Ensure FakeRepo implements the git ports.
var (
	_ domain.WorktreeManager = (*FakeRepo)(nil)
	_ domain.VersionControl  = (*FakeRepo)(nil)
)

// Commit advances branch to a new commit and returns it.
func (f *FakeRepo) Commit(branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitLocked(branch)
}

func (f *FakeRepo) commitLocked(branch string) string {
	f.seq++
	c := fmt.Sprintf("c%d", f.seq)
	f.Branches[branch] = c
	return c
}

// Create creates a worktree for branch at path, branching from base if needed.
func (f *FakeRepo) Create(branch, base, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	for p, b := range f.Trees {
		if b == branch {
			return p, nil
		}
	}
	if _, ok := f.Branches[branch]; !ok {
		head, ok := f.Branches[base]
		if !ok {
			return "", fmt.Errorf("base %s does not exist", base)
		}
		f.Branches[branch] = head
	}
	f.Trees[path] = branch
	return path, nil
}

// Resolve returns the worktree path for branch.
func (f *FakeRepo) Resolve(branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, b := range f.Trees {
		if b == branch {
			return p, nil
		}
	}
	return "", domain.ErrWorkspaceNotFound
}

// Remove removes the worktree at path. The branch is kept.
func (f *FakeRepo) Remove(path string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Trees[path]; !ok {
		return domain.ErrWorkspaceNotFound
	}
	delete(f.Trees, path)
	f.Removed = append(f.Removed, path)
	return nil
}

// Exists reports whether a worktree exists for branch.
func (f *FakeRepo) Exists(branch string) (bool, error) {
	_, err := f.Resolve(branch)
	return err == nil, nil
}

// List returns all worktrees sorted by path.
func (f *FakeRepo) List() ([]domain.WorktreeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WorktreeInfo, 0, len(f.Trees))
	for p, b := range f.Trees {
		out = append(out, domain.WorktreeInfo{Path: p, Branch: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CurrentIntegrationPoint returns the head of branch.
func (f *FakeRepo) CurrentIntegrationPoint(branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Branches[branch]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrHistoryRefMissing, branch)
	}
	return c, nil
}

// RefExists reports whether branch exists.
func (f *FakeRepo) RefExists(branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Branches[branch]
	return ok, nil
}

// HeadOf returns the head of the branch checked out at workspace.
func (f *FakeRepo) HeadOf(workspace string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filepath.Clean(workspace) == f.Root {
		return f.Branches[f.Current], nil
	}
	b, ok := f.Trees[workspace]
	if !ok {
		return "", domain.ErrWorkspaceNotFound
	}
	return f.Branches[b], nil
}

// CurrentBranch returns the branch at the repository root.
func (f *FakeRepo) CurrentBranch() (string, error) {
	return f.Current, nil
}

// Integrate records a merge of source into the branch at workspace and advances it.
func (f *FakeRepo) Integrate(_ context.Context, source, workspace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Integrations = append(f.Integrations, source+"->"+workspace)
	if len(f.IntegrateErrs) > 0 {
		err := f.IntegrateErrs[0]
		f.IntegrateErrs = f.IntegrateErrs[1:]
		if err != nil {
			return err
		}
	}
	target := f.Current
	if filepath.Clean(workspace) != f.Root {
		b, ok := f.Trees[workspace]
		if !ok {
			return domain.ErrWorkspaceNotFound
		}
		target = b
	}
	if _, ok := f.Branches[source]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrHistoryRefMissing, source)
	}
	f.commitLocked(target)
	return nil
}

// Rebase records a rebase of workspace onto a branch.
func (f *FakeRepo) Rebase(_ context.Context, workspace, onto string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rebases = append(f.Rebases, workspace+"->"+onto)
	return f.RebaseErr
}

// DeleteBranch deletes a branch.
func (f *FakeRepo) DeleteBranch(branch string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Branches, branch)
	return nil
}

// HasUncommittedChanges returns the configured dirty flag.
func (f *FakeRepo) HasUncommittedChanges(workspace string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Dirty[workspace], nil
}

// ListBranches returns existing branches under prefix, sorted.
func (f *FakeRepo) ListBranches(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for b := range f.Branches {
		if strings.HasPrefix(b, prefix) {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MockValidator is a test double for domain.Validator.
// Workspaces listed in Failing fail; everything else passes.
type MockValidator struct {
	Failing map[string]bool
	Err     error
	Calls   []string
	mu      sync.Mutex
}

// NewMockValidator creates a validator that passes every workspace.
func NewMockValidator() *MockValidator {
	return &MockValidator{Failing: map[string]bool{}}
}

// Ensure MockValidator implements domain.Validator interface.
var _ domain.Validator = (*MockValidator)(nil)

// Validate records the call and returns the configured result.
func (m *MockValidator) Validate(_ context.Context, workspace string) (domain.ValidationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, workspace)
	if m.Err != nil {
		return domain.ValidationResult{}, m.Err
	}
	if m.Failing[workspace] {
		return domain.ValidationResult{Passed: false, Details: "tests failed"}, nil
	}
	return domain.ValidationResult{Passed: true}, nil
}

// MockInvoker is a test double for domain.AgentInvoker.
type MockInvoker struct {
	Err   error
	Calls []domain.InvokeRequest
	mu    sync.Mutex
}

// Ensure MockInvoker implements domain.AgentInvoker interface.
var _ domain.AgentInvoker = (*MockInvoker)(nil)

// Invoke records the request.
func (m *MockInvoker) Invoke(_ context.Context, req domain.InvokeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	return m.Err
}

// MockSessionManager is a test double for domain.SessionManager.
type MockSessionManager struct {
	IsRunningErr error
	StartErr     error
	StopErr      error
	AttachErr    error
	PeekErr      error
	PeekOutput   string
	StartOpts    domain.StartSessionOptions
	PeekName     string
	PeekLines    int
	IsRunningVal bool
	StartCalled  bool
	StopCalled   bool
	AttachCalled bool
}

// NewMockSessionManager creates a new MockSessionManager.
func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{}
}

// Ensure MockSessionManager implements domain.SessionManager interface.
var _ domain.SessionManager = (*MockSessionManager)(nil)

// Start records the call and returns configured error.
func (m *MockSessionManager) Start(_ context.Context, opts domain.StartSessionOptions) error {
	m.StartCalled = true
	m.StartOpts = opts
	return m.StartErr
}

// Stop records the call and returns configured error.
func (m *MockSessionManager) Stop(_ string) error {
	m.StopCalled = true
	return m.StopErr
}

// Attach records the call and returns configured error.
func (m *MockSessionManager) Attach(_ string) error {
	m.AttachCalled = true
	return m.AttachErr
}

// Peek records the call and returns configured output or error.
func (m *MockSessionManager) Peek(name string, lines int) (string, error) {
	m.PeekName = name
	m.PeekLines = lines
	if m.PeekErr != nil {
		return "", m.PeekErr
	}
	return m.PeekOutput, nil
}

// IsRunning returns the configured value or error.
func (m *MockSessionManager) IsRunning(_ string) (bool, error) {
	if m.IsRunningErr != nil {
		return false, m.IsRunningErr
	}
	return m.IsRunningVal, nil
}

// MockClassifier is a test double for domain.Classifier.
type MockClassifier struct {
	Result domain.Classification
}

// Ensure MockClassifier implements domain.Classifier interface.
var _ domain.Classifier = (*MockClassifier)(nil)

// Classify returns the configured classification.
func (m *MockClassifier) Classify(_ []string, _ string) domain.Classification {
	return m.Result
}

// MockMetrics counts engine events.
type MockMetrics struct {
	Transitions   map[string]int
	Preconditions map[domain.State]int
	Recoveries    map[string]int
	Acquired      int
	Conflicts     int
	Escalations   int
	mu            sync.Mutex
}

// NewMockMetrics creates an empty MockMetrics.
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Transitions:   map[string]int{},
		Preconditions: map[domain.State]int{},
		Recoveries:    map[string]int{},
	}
}

// Ensure MockMetrics implements domain.Metrics interface.
var _ domain.Metrics = (*MockMetrics)(nil)

func (m *MockMetrics) Transition(from, to domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions[string(from)+"->"+string(to)]++
}

func (m *MockMetrics) PreconditionFailed(to domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Preconditions[to]++
}

func (m *MockMetrics) LockAcquired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acquired++
}

func (m *MockMetrics) LockConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Conflicts++
}

func (m *MockMetrics) Recovery(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recoveries[action]++
}

func (m *MockMetrics) Escalation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Escalations++
}

// MockConfigLoader is a test double for domain.ConfigLoader.
type MockConfigLoader struct {
	Config  *domain.Config
	LoadErr error
}

// NewMockConfigLoader creates a new MockConfigLoader with default config.
func NewMockConfigLoader() *MockConfigLoader {
	return &MockConfigLoader{
		Config: domain.NewDefaultConfig(),
	}
}

// Ensure MockConfigLoader implements domain.ConfigLoader interface.
var _ domain.ConfigLoader = (*MockConfigLoader)(nil)

// Load returns the configured config or error.
func (m *MockConfigLoader) Load() (*domain.Config, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Config, nil
}
