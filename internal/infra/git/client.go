// Package git provides the version-history substrate: refs are read through go-git,
// merges and rebases run through the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Client provides git operations.
// Fields are ordered to minimize memory padding.
type Client struct {
	repo     *git.Repository
	repoRoot string // Main repository root (parent of .git)
	gitDir   string // Common .git directory
}

// NewClient creates a new git client by detecting the repository root from the given directory.
// It handles both regular repositories and worktrees.
func NewClient(dir string) (*Client, error) {
	repoRoot, gitDir, err := findGitRoot(dir)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return &Client{repo: repo, repoRoot: repoRoot, gitDir: gitDir}, nil
}

// Ensure Client implements domain.VersionControl interface.
var _ domain.VersionControl = (*Client)(nil)

// RepoRoot returns the repository root directory.
func (c *Client) RepoRoot() string {
	return c.repoRoot
}

// GitDir returns the .git directory path.
func (c *Client) GitDir() string {
	return c.gitDir
}

// CurrentIntegrationPoint returns the commit branch points at.
func (c *Client) CurrentIntegrationPoint(branch string) (string, error) {
	ref, err := c.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("%w: %s", domain.ErrHistoryRefMissing, branch)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

// RefExists checks if a local branch exists.
func (c *Client) RefExists(branch string) (bool, error) {
	_, err := c.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", branch, err)
	}
	return true, nil
}

// HeadOf returns the commit checked out in workspace, which may be a linked worktree.
func (c *Client) HeadOf(workspace string) (string, error) {
	repo, err := git.PlainOpenWithOptions(workspace, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", fmt.Errorf("%w: %s", domain.ErrWorkspaceNotFound, workspace)
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", workspace, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD of %s: %w", workspace, err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the branch checked out at the repository root.
func (c *Client) CurrentBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", errors.New("repository root is in detached HEAD state")
	}
	return head.Name().Short(), nil
}

// Integrate merges source into the branch checked out in workspace with a merge commit.
// A conflicting merge is aborted, leaving the workspace as it was.
func (c *Client) Integrate(ctx context.Context, source, workspace string) error {
	out, err := run(ctx, workspace, "merge", "--no-ff", "--no-edit", source)
	if err == nil {
		return nil
	}
	if isConflict(out) {
		_, _ = run(ctx, workspace, "merge", "--abort")
		return fmt.Errorf("%w: merging %s: %s", domain.ErrIntegrationConflict, source, out)
	}
	return fmt.Errorf("merge %s: %w: %s", source, err, out)
}

// Rebase replays the branch checked out in workspace onto onto.
// A conflicting rebase is aborted.
func (c *Client) Rebase(ctx context.Context, workspace, onto string) error {
	out, err := run(ctx, workspace, "rebase", onto)
	if err == nil {
		return nil
	}
	if isConflict(out) {
		_, _ = run(ctx, workspace, "rebase", "--abort")
		return fmt.Errorf("%w: rebasing onto %s: %s", domain.ErrIntegrationConflict, onto, out)
	}
	return fmt.Errorf("rebase onto %s: %w: %s", onto, err, out)
}

// ListBranches returns local branches under prefix, sorted.
func (c *Client) ListBranches(prefix string) ([]string, error) {
	iter, err := c.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if name := ref.Name().Short(); strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	sort.Strings(branches)
	return branches, nil
}

// DeleteBranch deletes a branch.
// If force is true, it uses -D (force delete), otherwise -d.
func (c *Client) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if out, err := run(context.Background(), c.repoRoot, "branch", flag, branch); err != nil {
		return fmt.Errorf("delete branch %s: %w: %s", branch, err, out)
	}
	return nil
}

// HasUncommittedChanges checks for staged, unstaged or untracked changes in workspace.
func (c *Client) HasUncommittedChanges(workspace string) (bool, error) {
	out, err := run(context.Background(), workspace, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("check uncommitted changes: %w", err)
	}
	return out != "", nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func isConflict(out string) bool {
	return strings.Contains(out, "CONFLICT") ||
		strings.Contains(out, "Automatic merge failed") ||
		strings.Contains(out, "could not apply")
}

// findGitRoot finds the main repository root and the common .git directory from dir.
// This works both in the main repository and inside worktrees.
func findGitRoot(dir string) (repoRoot, gitDir string, err error) {
	cmd := exec.Command("git", "rev-parse", "--git-common-dir")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", "", domain.ErrNotGitRepository
	}
	gitDir = strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}
	gitDir = filepath.Clean(gitDir)
	return filepath.Dir(gitDir), gitDir, nil
}
