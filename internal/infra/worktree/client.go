// Package worktree provides git worktree operations.
package worktree

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Client manages git worktrees of one repository.
type Client struct {
	repoRoot string
}

// NewClient creates a new worktree client for the repository at repoRoot.
func NewClient(repoRoot string) *Client {
	return &Client{repoRoot: repoRoot}
}

// Ensure Client implements domain.WorktreeManager interface.
var _ domain.WorktreeManager = (*Client)(nil)

// Create creates a worktree at path for branch.
// If branch does not exist it is created from base. An existing worktree for branch
// is returned as is, wherever it lives.
func (c *Client) Create(branch, base, path string) (string, error) {
	if existing, err := c.Resolve(branch); err == nil {
		if _, statErr := os.Stat(existing); statErr == nil {
			return existing, nil
		}
	}

	branchExists, err := c.branchExists(branch)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create worktree parent: %w", err)
	}

	var args []string
	if branchExists {
		args = []string{"worktree", "add", path, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, path, base}
	}

	out, err := c.git(args...)
	if err != nil {
		// Registered but directory missing: prune stale entries and retry once.
		if !strings.Contains(out, "already registered") && !strings.Contains(out, "missing but") {
			return "", fmt.Errorf("create worktree: %w: %s", err, out)
		}
		if _, pruneErr := c.git("worktree", "prune"); pruneErr != nil {
			return "", fmt.Errorf("prune stale worktrees: %w", pruneErr)
		}
		if out, err = c.git(args...); err != nil {
			return "", fmt.Errorf("create worktree after prune: %w: %s", err, out)
		}
	}
	return path, nil
}

// Resolve returns the path of an existing worktree for the branch.
func (c *Client) Resolve(branch string) (string, error) {
	worktrees, err := c.List()
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}
	return "", domain.ErrWorkspaceNotFound
}

// Remove deletes the worktree at path. Without force a dirty worktree is kept
// and ErrUncommittedChanges is returned. The branch is never touched.
func (c *Client) Remove(path string, force bool) error {
	registered, err := c.registered(path)
	if err != nil {
		return err
	}
	if !registered {
		return domain.ErrWorkspaceNotFound
	}

	args := []string{"worktree", "remove", path}
	if force {
		args = []string{"worktree", "remove", "--force", path}
	}
	out, err := c.git(args...)
	if err != nil {
		if strings.Contains(out, "contains modified or untracked files") ||
			strings.Contains(out, "is dirty") {
			return domain.ErrUncommittedChanges
		}
		return fmt.Errorf("remove worktree: %w: %s", err, out)
	}
	return nil
}

// Exists checks if a worktree exists for the branch.
// Both the git registration and the directory must exist.
func (c *Client) Exists(branch string) (bool, error) {
	path, err := c.Resolve(branch)
	if errors.Is(err, domain.ErrWorkspaceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("check worktree directory: %w", err)
	}
	return true, nil
}

// List returns all worktrees, the main one included.
func (c *Client) List() ([]domain.WorktreeInfo, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = c.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(string(out))
}

// parseWorktreeList parses the porcelain output of git worktree list.
// Format:
//
//	worktree /path/to/worktree
//	HEAD abc123
//	branch refs/heads/branch-name
//	<blank line>
func parseWorktreeList(output string) ([]domain.WorktreeInfo, error) {
	var worktrees []domain.WorktreeInfo
	var current domain.WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = domain.WorktreeInfo{}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

func (c *Client) registered(path string) (bool, error) {
	worktrees, err := c.List()
	if err != nil {
		return false, err
	}
	want := canonical(path)
	for _, wt := range worktrees {
		if canonical(wt.Path) == want {
			return true, nil
		}
	}
	return false, nil
}

// branchExists checks if a local branch exists.
func (c *Client) branchExists(branch string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = c.repoRoot
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

func (c *Client) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.repoRoot
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// canonical resolves symlinks so paths reported by git compare equal to ours
// (macOS /var vs /private/var).
func canonical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
