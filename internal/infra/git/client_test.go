package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// setupGitRepo creates a temporary git repository with one commit on main.
func setupGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	runGit(t, dir, "init")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
	writeFile(t, dir, "README.md", "# Test\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")
	return dir
}

// runGit executes a git command and fails the test if it errors.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func commitFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	writeFile(t, dir, name, content)
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-m", "update "+name)
	return runGit(t, dir, "rev-parse", "HEAD")
}

// addWorktree creates branch from main in a linked worktree and returns its path.
func addWorktree(t *testing.T, repo, branch string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wt")
	runGit(t, repo, "worktree", "add", "-b", branch, path, "main")
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path
}

func TestNewClient(t *testing.T) {
	dir := setupGitRepo(t)

	client, err := NewClient(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, client.RepoRoot())
	assert.Equal(t, filepath.Join(dir, ".git"), client.GitDir())

	_, err = NewClient(t.TempDir())
	assert.ErrorIs(t, err, domain.ErrNotGitRepository)
}

func TestNewClient_FromWorktree(t *testing.T) {
	dir := setupGitRepo(t)
	wt := addWorktree(t, dir, "taskflow/t1/main")

	client, err := NewClient(wt)
	require.NoError(t, err)
	assert.Equal(t, dir, client.RepoRoot())
}

func TestClient_Refs(t *testing.T) {
	dir := setupGitRepo(t)
	client, err := NewClient(dir)
	require.NoError(t, err)

	head := runGit(t, dir, "rev-parse", "HEAD")
	got, err := client.CurrentIntegrationPoint("main")
	require.NoError(t, err)
	assert.Equal(t, head, got)

	ok, err := client.RefExists("main")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.RefExists("taskflow/none/main")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.CurrentIntegrationPoint("taskflow/none/main")
	assert.ErrorIs(t, err, domain.ErrHistoryRefMissing)

	branch, err := client.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestClient_HeadOf_Worktree(t *testing.T) {
	dir := setupGitRepo(t)
	wt := addWorktree(t, dir, "taskflow/t1/main")
	commit := commitFile(t, wt, "a.go", "package a\n")

	client, err := NewClient(dir)
	require.NoError(t, err)
	got, err := client.HeadOf(wt)
	require.NoError(t, err)
	assert.Equal(t, commit, got)

	point, err := client.CurrentIntegrationPoint("taskflow/t1/main")
	require.NoError(t, err)
	assert.Equal(t, commit, point)
}

func TestClient_ListBranches(t *testing.T) {
	dir := setupGitRepo(t)
	runGit(t, dir, "branch", "taskflow/t1/main")
	runGit(t, dir, "branch", "taskflow/t1/agents/engineer")
	runGit(t, dir, "branch", "taskflow/t2/main")

	client, err := NewClient(dir)
	require.NoError(t, err)
	branches, err := client.ListBranches("taskflow/t1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"taskflow/t1/agents/engineer", "taskflow/t1/main"}, branches)

	require.NoError(t, client.DeleteBranch("taskflow/t1/main", true))
	branches, err = client.ListBranches("taskflow/t1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"taskflow/t1/agents/engineer"}, branches)
}

func TestClient_Integrate(t *testing.T) {
	dir := setupGitRepo(t)
	task := addWorktree(t, dir, "taskflow/t1/main")
	runGit(t, dir, "branch", "taskflow/t1/agents/engineer", "main")
	agent := filepath.Join(t.TempDir(), "agent")
	runGit(t, dir, "worktree", "add", agent, "taskflow/t1/agents/engineer")
	agentCommit := commitFile(t, agent, "a.go", "package a\n")

	client, err := NewClient(dir)
	require.NoError(t, err)
	require.NoError(t, client.Integrate(context.Background(), "taskflow/t1/agents/engineer", task))

	assert.FileExists(t, filepath.Join(task, "a.go"))
	parents := runGit(t, task, "log", "-1", "--format=%P")
	assert.Contains(t, parents, agentCommit)
}

func TestClient_Integrate_ConflictAborts(t *testing.T) {
	dir := setupGitRepo(t)
	task := addWorktree(t, dir, "taskflow/t1/main")
	runGit(t, dir, "branch", "taskflow/t1/agents/engineer", "main")
	agent := filepath.Join(t.TempDir(), "agent")
	runGit(t, dir, "worktree", "add", agent, "taskflow/t1/agents/engineer")

	before := commitFile(t, task, "README.md", "task side\n")
	commitFile(t, agent, "README.md", "agent side\n")

	client, err := NewClient(dir)
	require.NoError(t, err)
	err = client.Integrate(context.Background(), "taskflow/t1/agents/engineer", task)
	assert.ErrorIs(t, err, domain.ErrIntegrationConflict)

	head, err := client.HeadOf(task)
	require.NoError(t, err)
	assert.Equal(t, before, head)
	dirty, err := client.HasUncommittedChanges(task)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestClient_Rebase(t *testing.T) {
	dir := setupGitRepo(t)
	task := addWorktree(t, dir, "taskflow/t1/main")
	runGit(t, dir, "branch", "taskflow/t1/agents/engineer", "main")
	agent := filepath.Join(t.TempDir(), "agent")
	runGit(t, dir, "worktree", "add", agent, "taskflow/t1/agents/engineer")

	commitFile(t, task, "b.go", "package b\n")
	commitFile(t, agent, "a.go", "package a\n")

	client, err := NewClient(dir)
	require.NoError(t, err)
	require.NoError(t, client.Rebase(context.Background(), agent, "taskflow/t1/main"))
	assert.FileExists(t, filepath.Join(agent, "b.go"))
	assert.FileExists(t, filepath.Join(agent, "a.go"))
}

func TestClient_HasUncommittedChanges(t *testing.T) {
	dir := setupGitRepo(t)
	client, err := NewClient(dir)
	require.NoError(t, err)

	dirty, err := client.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "new.txt", "x")
	dirty, err = client.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}
