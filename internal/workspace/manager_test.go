package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/kvstore"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/testutil"
)

type fixture struct {
	mgr       *Manager
	locks     *lock.Manager
	repo      *testutil.FakeRepo
	validator *testutil.MockValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	locks := lock.NewManager(kvstore.NewMemory(), testutil.NewMockClock(), nil, nil)
	repo := testutil.NewFakeRepo()
	validator := testutil.NewMockValidator()
	mgr := NewManager(locks, repo, repo, validator, nil, "/repo/.git/taskflow", 3)
	_, err := locks.Acquire(context.Background(), "t1", "owner-a")
	require.NoError(t, err)
	return &fixture{mgr: mgr, locks: locks, repo: repo, validator: validator}
}

func TestManager_CreateTaskWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	assert.Equal(t, "/repo/.git/taskflow/worktrees/t1/main", path)

	// Idempotent for the owner
	again, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Len(t, f.repo.Trees, 1)

	// Refused for anyone else
	_, err = f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-b", "main")
	assert.ErrorIs(t, err, domain.ErrOwnershipMismatch)
}

func TestManager_CreateAgentWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	assert.ErrorIs(t, err, domain.ErrHistoryRefMissing)

	_, err = f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	head := f.repo.Commit(domain.TaskBranch("t1"))

	path, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	assert.Equal(t, "/repo/.git/taskflow/worktrees/t1/agents/engineer", path)

	got, err := f.repo.HeadOf(path)
	require.NoError(t, err)
	assert.Equal(t, head, got)
}

func TestManager_RemoveWorkspace_FromInside(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)

	err = f.mgr.RemoveWorkspace(ctx, path, path)
	assert.ErrorIs(t, err, domain.ErrRemoveFromInside)
	err = f.mgr.RemoveWorkspace(ctx, path, filepath.Join(path, "internal", "pkg"))
	assert.ErrorIs(t, err, domain.ErrRemoveFromInside)
	assert.Len(t, f.repo.Trees, 1)

	// A sibling with a shared prefix is not inside
	require.NoError(t, f.mgr.RemoveWorkspace(ctx, path, path+"-other"))
	assert.Empty(t, f.repo.Trees)
}

func TestManager_Integrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	agentPath, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	before, _ := f.repo.CurrentIntegrationPoint(domain.TaskBranch("t1"))

	point, err := f.mgr.Integrate(ctx, "t1", "engineer")
	require.NoError(t, err)
	assert.NotEqual(t, before, point)
	assert.Equal(t, []string{agentPath}, f.validator.Calls)
}

func TestManager_Integrate_LocalValidationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	agentPath, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	f.validator.Failing[agentPath] = true
	before, _ := f.repo.CurrentIntegrationPoint(domain.TaskBranch("t1"))

	_, err = f.mgr.Integrate(ctx, "t1", "engineer")
	assert.ErrorIs(t, err, domain.ErrLocalValidationFailed)
	assert.Empty(t, f.repo.Integrations)

	after, _ := f.repo.CurrentIntegrationPoint(domain.TaskBranch("t1"))
	assert.Equal(t, before, after)
}

func TestManager_Integrate_UncommittedChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	agentPath, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	f.repo.Dirty[agentPath] = true

	_, err = f.mgr.Integrate(ctx, "t1", "engineer")
	assert.ErrorIs(t, err, domain.ErrUncommittedChanges)
}

func TestManager_Integrate_ConflictRebasesAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	agentPath, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "tester")
	require.NoError(t, err)
	f.repo.IntegrateErrs = []error{domain.ErrIntegrationConflict}

	_, err = f.mgr.Integrate(ctx, "t1", "tester")
	require.NoError(t, err)
	assert.Equal(t, []string{agentPath + "->" + domain.TaskBranch("t1")}, f.repo.Rebases)
	assert.Len(t, f.repo.Integrations, 2)
	assert.Len(t, f.validator.Calls, 2)
}

func TestManager_Integrate_ConflictExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	_, err = f.mgr.CreateAgentWorkspace(ctx, "t1", "tester")
	require.NoError(t, err)
	f.repo.IntegrateErrs = []error{
		domain.ErrIntegrationConflict, domain.ErrIntegrationConflict, domain.ErrIntegrationConflict,
	}

	_, err = f.mgr.Integrate(ctx, "t1", "tester")
	assert.ErrorIs(t, err, domain.ErrIntegrationConflict)
	assert.Len(t, f.repo.Integrations, 3)
}

func TestManager_Restore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	agentPath, err := f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	work := f.repo.Commit(domain.AgentBranch("t1", "engineer"))

	// Workspace lost, branch kept
	require.NoError(t, f.repo.Remove(agentPath, true))
	ok, _ := f.mgr.Exists(ctx, "t1", "engineer")
	assert.False(t, ok)

	path, err := f.mgr.Restore(ctx, "t1", "engineer")
	require.NoError(t, err)
	assert.Equal(t, agentPath, path)
	head, _ := f.repo.HeadOf(path)
	assert.Equal(t, work, head)

	// Branch lost too
	require.NoError(t, f.repo.Remove(agentPath, true))
	require.NoError(t, f.repo.DeleteBranch(domain.AgentBranch("t1", "engineer"), true))
	_, err = f.mgr.Restore(ctx, "t1", "engineer")
	assert.ErrorIs(t, err, domain.ErrHistoryRefMissing)
}

func TestManager_Teardown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateTaskWorkspace(ctx, "t1", "owner-a", "main")
	require.NoError(t, err)
	_, err = f.mgr.CreateAgentWorkspace(ctx, "t1", "engineer")
	require.NoError(t, err)
	_, err = f.mgr.CreateAgentWorkspace(ctx, "t1", "tester")
	require.NoError(t, err)

	require.NoError(t, f.mgr.Teardown(ctx, "t1", "/repo", true))
	assert.Empty(t, f.repo.Trees)
	branches, _ := f.repo.ListBranches("taskflow/t1/")
	assert.Len(t, branches, 3)
	// Agents are removed before the task workspace
	assert.Equal(t, f.mgr.TaskPath("t1"), f.repo.Removed[len(f.repo.Removed)-1])

	require.NoError(t, f.mgr.Teardown(ctx, "t1", "/repo", false))
	branches, _ = f.repo.ListBranches("taskflow/t1/")
	assert.Empty(t, branches)
	_, ok := f.repo.Branches["main"]
	assert.True(t, ok)
}
