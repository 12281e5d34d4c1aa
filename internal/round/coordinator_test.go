package round

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/kvstore"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/testutil"
)

type fakeWorkspaces struct {
	created []string
	passed  bool
}

func (f *fakeWorkspaces) CreateAgentWorkspace(_ context.Context, task, agent string) (string, error) {
	f.created = append(f.created, agent)
	return "/ws/" + task + "/" + agent, nil
}

func (f *fakeWorkspaces) ValidateTask(_ context.Context, _ string) (domain.ValidationResult, error) {
	return domain.ValidationResult{Passed: f.passed}, nil
}

func (f *fakeWorkspaces) TaskPath(task string) string { return "/ws/" + task + "/main" }

type fixture struct {
	coord    *Coordinator
	statuses *status.Tracker
	ws       *fakeWorkspaces
	invoker  *testutil.MockInvoker
	clock    *testutil.MockClock
	rec      *domain.TaskRecord
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kvstore.NewMemory()
	clock := testutil.NewMockClock()
	statuses := status.NewTracker(store, clock, nil)
	ws := &fakeWorkspaces{passed: true}
	invoker := &testutil.MockInvoker{}
	coord := NewCoordinator(statuses, ws, invoker, store, clock, nil, Config{
		Authorities: domain.Authorities{"security": domain.AuthoritySafety},
		ScopeFactor: 2,
	})
	rec := domain.NewTaskRecord("t1", "owner", "desc", "main", clock.Now())
	rec.RiskLevel = domain.RiskHigh
	rec.RequiredAgents = []string{"engineer", "tester"}
	rec.Evidence[domain.StateClassified] = domain.Evidence{domain.EvidenceFiles: "a.go,b.go"}
	return &fixture{coord: coord, statuses: statuses, ws: ws, invoker: invoker, clock: clock, rec: rec}
}

func (f *fixture) report(t *testing.T, agent string, mode domain.Mode, st domain.Lifecycle, d domain.Decision, remaining string) {
	t.Helper()
	_, err := f.statuses.Report(context.Background(), domain.AgentStatus{
		AgentID: agent, TaskName: "t1", Mode: mode, Status: st, Decision: d, WorkRemaining: remaining,
	})
	require.NoError(t, err)
}

func TestCoordinator_StartRound(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.StartRound(context.Background(), f.rec, domain.ModeReview, ""))

	assert.Equal(t, []string{"engineer", "tester"}, f.ws.created)
	require.Len(t, f.invoker.Calls, 2)
	assert.Equal(t, "/ws/t1/main", f.invoker.Calls[0].Workspace)
	assert.Equal(t, domain.ModeReview, f.invoker.Calls[0].Mode)

	rec, err := f.statuses.Get(context.Background(), "t1", "engineer")
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleWorking, rec.Status)
}

func TestCoordinator_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		f := newFixture(t)
		f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		res, err := f.coord.Evaluate(ctx, f.rec, domain.ModeReview)
		require.NoError(t, err)
		assert.True(t, res.Complete)
	})

	t.Run("agent claims are not enough", func(t *testing.T) {
		f := newFixture(t)
		f.ws.passed = false
		f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		res, err := f.coord.Evaluate(ctx, f.rec, domain.ModeReview)
		require.NoError(t, err)
		assert.False(t, res.Complete)
	})

	t.Run("one pending", func(t *testing.T) {
		f := newFixture(t)
		f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		f.report(t, "tester", domain.ModeReview, domain.LifecycleInProgress, domain.DecisionPending, "reviewing")
		res, err := f.coord.Evaluate(ctx, f.rec, domain.ModeReview)
		require.NoError(t, err)
		assert.False(t, res.Complete)
		assert.NotEmpty(t, res.Unmet)
	})
}

func TestCoordinator_DecideRejection(t *testing.T) {
	ctx := context.Background()

	t.Run("no rejection", func(t *testing.T) {
		f := newFixture(t)
		f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")
		_, err := f.coord.DecideRejection(ctx, f.rec)
		assert.ErrorIs(t, err, domain.ErrNotRejecting)
	})

	t.Run("small fix loops back", func(t *testing.T) {
		f := newFixture(t)
		f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected, "add a test to a_test.go")
		d, err := f.coord.DecideRejection(ctx, f.rec)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAnotherRound, d.Outcome)
		assert.Equal(t, []string{"tester"}, d.Rejecting)
	})

	t.Run("large fix negotiates", func(t *testing.T) {
		f := newFixture(t)
		f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected,
			"rewrite c.go d.go e.go")
		f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected,
			"also f.go and g.go")
		d, err := f.coord.DecideRejection(ctx, f.rec)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeNegotiate, d.Outcome)
		assert.Len(t, d.Estimate.ResolutionFiles, 5)
		assert.Equal(t, 2, d.Estimate.OriginalFiles)
	})
}

func TestCoordinator_ResolveConflict(t *testing.T) {
	f := newFixture(t)
	sec := domain.Feedback{Agent: "security", Domain: domain.AuthoritySafety, Position: "reject"}
	eng := domain.Feedback{Agent: "engineer", Domain: domain.AuthorityQuality, Position: "accept"}
	assert.Equal(t, sec, f.coord.ResolveConflict(eng, sec))
}
