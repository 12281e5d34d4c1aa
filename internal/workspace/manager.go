// Package workspace manages the isolated git worktrees of tasks and agents.
//
// Each task owns one integration workspace on branch taskflow/<task>/main. Each agent
// works in its own workspace on taskflow/<task>/agents/<agent>, branched from the task
// branch. Agent work reaches the task workspace only through Integrate.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// OwnerVerifier checks task ownership.
type OwnerVerifier interface {
	Verify(ctx context.Context, task, owner string) (*domain.LockToken, error)
}

// Manager creates, integrates, restores and removes workspaces.
// Fields are ordered to minimize memory padding.
type Manager struct {
	locks     OwnerVerifier
	worktrees domain.WorktreeManager
	vcs       domain.VersionControl
	validator domain.Validator
	logger    domain.Logger
	dataDir   string
	retries   int
}

// NewManager creates a new Manager. retries bounds rebase-and-retry during integration.
func NewManager(
	locks OwnerVerifier,
	worktrees domain.WorktreeManager,
	vcs domain.VersionControl,
	validator domain.Validator,
	logger domain.Logger,
	dataDir string,
	retries int,
) *Manager {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	if retries < 1 {
		retries = domain.DefaultIntegrateRetries
	}
	return &Manager{
		locks:     locks,
		worktrees: worktrees,
		vcs:       vcs,
		validator: validator,
		logger:    logger,
		dataDir:   dataDir,
		retries:   retries,
	}
}

// TaskPath returns the path of the task workspace.
func (m *Manager) TaskPath(task string) string {
	return domain.TaskWorkspacePath(m.dataDir, task)
}

// AgentPath returns the path of an agent workspace.
func (m *Manager) AgentPath(task, agent string) string {
	return domain.AgentWorkspacePath(m.dataDir, task, agent)
}

// CreateTaskWorkspace creates the task workspace from base.
// Calling it again for the rightful owner returns the existing workspace.
func (m *Manager) CreateTaskWorkspace(ctx context.Context, task, owner, base string) (string, error) {
	if _, err := m.locks.Verify(ctx, task, owner); err != nil {
		return "", err
	}
	branch := domain.TaskBranch(task)
	if path, err := m.worktrees.Resolve(branch); err == nil {
		return path, nil
	}
	path, err := m.worktrees.Create(branch, base, m.TaskPath(task))
	if err != nil {
		return "", fmt.Errorf("create task workspace: %w", err)
	}
	m.logger.Info(task, "workspace", fmt.Sprintf("created %s from %s", branch, base))
	return path, nil
}

// CreateAgentWorkspace creates an agent workspace at the task branch's current integration point.
// An existing workspace is returned unchanged.
func (m *Manager) CreateAgentWorkspace(_ context.Context, task, agent string) (string, error) {
	branch := domain.AgentBranch(task, agent)
	if path, err := m.worktrees.Resolve(branch); err == nil {
		return path, nil
	}
	taskBranch := domain.TaskBranch(task)
	ok, err := m.vcs.RefExists(taskBranch)
	if err != nil {
		return "", fmt.Errorf("check task branch: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrHistoryRefMissing, taskBranch)
	}
	path, err := m.worktrees.Create(branch, taskBranch, m.AgentPath(task, agent))
	if err != nil {
		return "", fmt.Errorf("create agent workspace: %w", err)
	}
	m.logger.Info(task, "workspace", "created "+branch)
	return path, nil
}

// RemoveWorkspace removes the workspace at path.
// It refuses when cwd is the workspace or inside it.
func (m *Manager) RemoveWorkspace(_ context.Context, path, cwd string) error {
	if isWithin(cwd, path) {
		return fmt.Errorf("%w: %s", domain.ErrRemoveFromInside, path)
	}
	if err := m.worktrees.Remove(path, true); err != nil && !errors.Is(err, domain.ErrWorkspaceNotFound) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// Integrate merges an agent's branch into the task workspace and returns the new
// integration point. The agent workspace must pass validation first. When the merge
// conflicts, the agent workspace is rebased onto the task branch, re-validated and
// the merge is retried.
func (m *Manager) Integrate(ctx context.Context, task, agent string) (string, error) {
	agentPath, err := m.worktrees.Resolve(domain.AgentBranch(task, agent))
	if err != nil {
		return "", fmt.Errorf("resolve agent workspace: %w", err)
	}
	taskPath, err := m.worktrees.Resolve(domain.TaskBranch(task))
	if err != nil {
		return "", fmt.Errorf("resolve task workspace: %w", err)
	}
	dirty, err := m.vcs.HasUncommittedChanges(agentPath)
	if err != nil {
		return "", fmt.Errorf("check agent workspace: %w", err)
	}
	if dirty {
		return "", fmt.Errorf("%w in %s", domain.ErrUncommittedChanges, agentPath)
	}

	for attempt := 1; ; attempt++ {
		if err := m.validateLocal(ctx, task, agent, agentPath); err != nil {
			return "", err
		}
		err := m.vcs.Integrate(ctx, domain.AgentBranch(task, agent), taskPath)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrIntegrationConflict) {
			return "", fmt.Errorf("integrate %s: %w", agent, err)
		}
		if attempt >= m.retries {
			return "", fmt.Errorf("integrate %s after %d attempts: %w", agent, attempt, err)
		}
		m.logger.Info(task, "workspace", fmt.Sprintf("integration of %s conflicted, rebasing (attempt %d)", agent, attempt))
		if err := m.vcs.Rebase(ctx, agentPath, domain.TaskBranch(task)); err != nil {
			return "", fmt.Errorf("rebase %s: %w", agent, err)
		}
	}

	point, err := m.vcs.CurrentIntegrationPoint(domain.TaskBranch(task))
	if err != nil {
		return "", fmt.Errorf("read integration point: %w", err)
	}
	m.logger.Info(task, "workspace", fmt.Sprintf("integrated %s at %s", agent, point))
	return point, nil
}

func (m *Manager) validateLocal(ctx context.Context, task, agent, path string) error {
	res, err := m.validator.Validate(ctx, path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", agent, err)
	}
	if !res.Passed {
		m.logger.Warn(task, "workspace", fmt.Sprintf("local validation failed for %s", agent))
		return fmt.Errorf("%w for %s: %s", domain.ErrLocalValidationFailed, agent, res.Details)
	}
	return nil
}

// ValidateTask runs full validation in the task workspace.
func (m *Manager) ValidateTask(ctx context.Context, task string) (domain.ValidationResult, error) {
	path, err := m.worktrees.Resolve(domain.TaskBranch(task))
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("resolve task workspace: %w", err)
	}
	return m.validator.Validate(ctx, path)
}

// Exists reports whether the workspace of agent exists. An empty agent means the task workspace.
func (m *Manager) Exists(_ context.Context, task, agent string) (bool, error) {
	return m.worktrees.Exists(BranchOf(task, agent))
}

// Restore recreates a missing workspace from its own branch.
// It never substitutes another ref; a missing branch yields ErrHistoryRefMissing.
func (m *Manager) Restore(_ context.Context, task, agent string) (string, error) {
	branch := BranchOf(task, agent)
	if path, err := m.worktrees.Resolve(branch); err == nil {
		return path, nil
	}
	ok, err := m.vcs.RefExists(branch)
	if err != nil {
		return "", fmt.Errorf("check %s: %w", branch, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrHistoryRefMissing, branch)
	}
	path := m.TaskPath(task)
	if agent != "" {
		path = m.AgentPath(task, agent)
	}
	path, err = m.worktrees.Create(branch, branch, path)
	if err != nil {
		return "", fmt.Errorf("restore %s: %w", branch, err)
	}
	m.logger.Info(task, "recovery", "restored workspace for "+branch)
	return path, nil
}

// Teardown removes every workspace of task, agents first.
// Branches are deleted unless keepBranches is set.
func (m *Manager) Teardown(ctx context.Context, task, cwd string, keepBranches bool) error {
	trees, err := m.worktrees.List()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	prefix := "taskflow/" + task + "/"
	agentPrefix := prefix + "agents/"
	var agents []domain.WorktreeInfo
	for _, wt := range trees {
		if strings.HasPrefix(wt.Branch, agentPrefix) {
			agents = append(agents, wt)
		}
	}
	for _, wt := range agents {
		if err := m.RemoveWorkspace(ctx, wt.Path, cwd); err != nil {
			return err
		}
	}
	for _, wt := range trees {
		if wt.Branch == domain.TaskBranch(task) {
			if err := m.RemoveWorkspace(ctx, wt.Path, cwd); err != nil {
				return err
			}
		}
	}
	if keepBranches {
		return nil
	}
	branches, err := m.vcs.ListBranches(prefix)
	if err != nil {
		return fmt.Errorf("list branches: %w", err)
	}
	for _, b := range branches {
		if err := m.vcs.DeleteBranch(b, true); err != nil {
			m.logger.Warn(task, "workspace", fmt.Sprintf("delete %s: %v", b, err))
		}
	}
	m.logger.Info(task, "workspace", "workspaces removed")
	return nil
}

// BranchOf returns the branch of an agent workspace, or of the task workspace when agent is empty.
func BranchOf(task, agent string) string {
	if agent == "" {
		return domain.TaskBranch(task)
	}
	return domain.AgentBranch(task, agent)
}

// isWithin reports whether p is dir or a descendant of dir.
func isWithin(p, dir string) bool {
	if p == "" || dir == "" {
		return false
	}
	p, dir = clean(p), clean(dir)
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func clean(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return p
}
