package recovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/approval"
	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/kvstore"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/testutil"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

const owner = "session-1"

// hookStore lets a test rewrite values as they are read.
type hookStore struct {
	domain.Store
	onGet func(key string, data []byte) []byte
}

func (h *hookStore) Get(key string) ([]byte, error) {
	data, err := h.Store.Get(key)
	if err == nil && h.onGet != nil {
		data = h.onGet(key, data)
	}
	return data, err
}

type fixture struct {
	sub        *Subsystem
	ctrl       *controller.Controller
	store      *hookStore
	repo       *testutil.FakeRepo
	invoker    *testutil.MockInvoker
	clock      *testutil.MockClock
	metrics    *testutil.MockMetrics
	statuses   *status.Tracker
	locks      *lock.Manager
	workspaces *workspace.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &hookStore{Store: kvstore.NewMemory()}
	clock := testutil.NewMockClock()
	metrics := testutil.NewMockMetrics()
	repo := testutil.NewFakeRepo()
	invoker := &testutil.MockInvoker{}

	locks := lock.NewManager(store, clock, nil, metrics)
	gate := approval.NewGate(store, clock, nil)
	statuses := status.NewTracker(store, clock, nil)
	workspaces := workspace.NewManager(locks, repo, repo, testutil.NewMockValidator(), nil, "/repo/.git/taskflow", 3)
	rounds := round.NewCoordinator(statuses, workspaces, invoker, store, clock, nil, round.Config{})
	ctrl := controller.New(controller.Deps{
		Store:      store,
		Locks:      locks,
		Gate:       gate,
		Workspaces: workspaces,
		Rounds:     rounds,
		Statuses:   statuses,
		VCS:        repo,
		Classifier: &testutil.MockClassifier{Result: domain.HighRisk{RequiredAgents: []string{"engineer", "tester"}}},
		Clock:      clock,
		Metrics:    metrics,
	}, controller.Options{RepoRoot: "/repo", Cwd: "/repo"})

	sub := New(Deps{
		Controller: ctrl,
		Locks:      locks,
		Workspaces: workspaces,
		Statuses:   statuses,
		Invoker:    invoker,
		Clock:      clock,
		Metrics:    metrics,
	}, Config{StaleAfter: 30 * time.Minute, MaxRetries: 2})

	return &fixture{
		sub: sub, ctrl: ctrl, store: store, repo: repo, invoker: invoker, clock: clock,
		metrics: metrics, statuses: statuses, locks: locks, workspaces: workspaces,
	}
}

func (f *fixture) toSynthesis(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ctrl.Start(ctx, "t1", owner, "add retry to fetcher", "main")
	require.NoError(t, err)
	_, err = f.ctrl.Classify(ctx, "t1", owner, []string{"fetch.go"})
	require.NoError(t, err)
	_, err = f.ctrl.Advance(ctx, "t1", owner, domain.StateRequirements, nil, "")
	require.NoError(t, err)
	_, err = f.ctrl.Advance(ctx, "t1", owner, domain.StateSynthesis, domain.Evidence{
		domain.EvidenceReportPrefix + "engineer": "e.md",
		domain.EvidenceReportPrefix + "tester":   "t.md",
	}, "")
	require.NoError(t, err)
}

func (f *fixture) toImplementation(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.toSynthesis(t)
	p, err := f.ctrl.Present(ctx, "t1", owner, domain.CheckpointPlanApproval, "the plan")
	require.NoError(t, err)
	in := domain.InterpretInteraction("approve PLAN-APPROVAL " + p.Digest[:10])
	_, err = f.ctrl.Approve(ctx, "t1", owner, domain.CheckpointPlanApproval, in.Confirmation)
	require.NoError(t, err)
	_, err = f.ctrl.Advance(ctx, "t1", owner, domain.StateImplementation, domain.Evidence{domain.EvidencePlan: "plan.md"}, "")
	require.NoError(t, err)
}

func (f *fixture) editRecord(t *testing.T, fn func(rec *domain.TaskRecord)) {
	t.Helper()
	data, err := f.store.Get(domain.TaskKey("t1"))
	require.NoError(t, err)
	var rec domain.TaskRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	fn(&rec)
	data, err = json.Marshal(&rec)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(domain.TaskKey("t1"), data))
}

func TestRecover_ConsistentTaskIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toImplementation(t)

	reports, err := f.sub.Detect(ctx, owner)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Consistent(), "%+v", reports[0].Findings)
	assert.Equal(t, domain.StateImplementation, reports[0].State)

	before, err := f.store.Get(domain.TaskKey("t1"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		res, err := f.sub.Recover(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, res.Actions)
		assert.Empty(t, res.Escalations)
		assert.NoError(t, res.Err())
	}
	after, err := f.store.Get(domain.TaskKey("t1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDetect_OtherOwnersAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Start(ctx, "t1", owner, "d", "main")
	require.NoError(t, err)

	reports, err := f.sub.Detect(ctx, "session-2")
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = f.sub.Detect(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestRecover_RestoresWorkspaceFromItsBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toImplementation(t)

	agentBranch := domain.AgentBranch("t1", "engineer")
	head := f.repo.Commit(agentBranch)
	delete(f.repo.Trees, f.workspaces.AgentPath("t1", "engineer"))

	report := f.sub.DetectTask(ctx, "t1", owner)
	assert.True(t, report.Has(IssueAgentWorkspaceMissing))

	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, IssueAgentWorkspaceMissing, res.Actions[0].Issue)
	assert.Equal(t, "engineer", res.Actions[0].Agent)

	got, err := f.repo.HeadOf(f.workspaces.AgentPath("t1", "engineer"))
	require.NoError(t, err)
	assert.Equal(t, head, got)
	assert.Equal(t, 1, f.metrics.Recoveries[string(IssueAgentWorkspaceMissing)])

	res, err = f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
}

func TestRecover_MissingBranchEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toImplementation(t)

	delete(f.repo.Trees, f.workspaces.AgentPath("t1", "tester"))
	delete(f.repo.Branches, domain.AgentBranch("t1", "tester"))

	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	require.Len(t, res.Escalations, 1)
	esc := res.Escalations[0]
	assert.Equal(t, "t1", esc.Task)
	assert.Equal(t, domain.StateImplementation, esc.State)
	assert.NotEmpty(t, esc.Attempted)
	assert.NotEmpty(t, esc.Options)
	assert.Equal(t, domain.ResultEscalation, domain.ResultCodeOf(res.Err()))

	_, err = f.repo.HeadOf(f.workspaces.AgentPath("t1", "tester"))
	assert.ErrorIs(t, err, domain.ErrWorkspaceNotFound)
}

func TestRecover_RemirrorsLockState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toSynthesis(t)

	token, err := f.locks.Get(ctx, "t1")
	require.NoError(t, err)
	token.State = domain.StateClassified
	data, err := json.Marshal(token)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(domain.LockKey("t1"), data))

	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, IssueLockStateStale, res.Actions[0].Issue)

	token, err = f.locks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSynthesis, token.State)
}

func TestRecover_NeverGuessesState(t *testing.T) {
	tests := []struct {
		name    string
		issue   Issue
		corrupt func(t *testing.T, f *fixture)
	}{
		{
			name:    "malformed record",
			issue:   IssueRecordMalformed,
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Put(domain.TaskKey("t1"), []byte("{not json")))
			},
		},
		{
			name:    "missing record",
			issue:   IssueRecordMissing,
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Delete(domain.TaskKey("t1")))
			},
		},
		{
			name:    "log disagrees with state",
			issue:   IssueLogMismatch,
			corrupt: func(t *testing.T, f *fixture) {
				f.editRecord(t, func(rec *domain.TaskRecord) { rec.State = domain.StateReview })
			},
		},
		{
			name:    "unreadable lock",
			issue:   IssueLockUnreadable,
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Put(domain.LockKey("t1"), []byte("garbage")))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.toSynthesis(t)
			tt.corrupt(t, f)
			record, _ := f.store.Get(domain.TaskKey("t1"))
			token, _ := f.store.Get(domain.LockKey("t1"))

			res, err := f.sub.Recover(ctx, owner)
			require.NoError(t, err)
			require.Len(t, res.Reports, 1)
			assert.True(t, res.Reports[0].Has(tt.issue))
			assert.Empty(t, res.Actions)
			require.Len(t, res.Escalations, 1)
			assert.NotEmpty(t, res.Escalations[0].Options)
			assert.Equal(t, 1, f.metrics.Escalations)

			gotRecord, _ := f.store.Get(domain.TaskKey("t1"))
			gotToken, _ := f.store.Get(domain.LockKey("t1"))
			assert.Equal(t, record, gotRecord)
			assert.Equal(t, token, gotToken)
		})
	}
}

func TestRecover_ReinvokesStaleAgentsThenEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toImplementation(t)
	invoked := len(f.invoker.Calls)

	// Within the window nothing is stale.
	f.clock.Advance(10 * time.Minute)
	report := f.sub.DetectTask(ctx, "t1", owner)
	assert.True(t, report.Consistent())

	for attempt := 1; attempt <= 2; attempt++ {
		f.clock.Advance(31 * time.Minute)
		res, err := f.sub.Recover(ctx, owner)
		require.NoError(t, err)
		require.Len(t, res.Actions, 2, "attempt %d", attempt)
		assert.Empty(t, res.Escalations)

		st, err := f.statuses.Get(ctx, "t1", "engineer")
		require.NoError(t, err)
		assert.Equal(t, attempt, st.RetryCount)
		assert.Equal(t, domain.LifecycleWorking, st.Status)
	}
	assert.Len(t, f.invoker.Calls, invoked+4)
	last := f.invoker.Calls[len(f.invoker.Calls)-1]
	assert.Equal(t, domain.ModeImplementation, last.Mode)
	assert.Equal(t, f.workspaces.AgentPath("t1", last.Agent), last.Workspace)

	f.clock.Advance(31 * time.Minute)
	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	assert.Len(t, res.Escalations, 2)
	assert.Len(t, f.invoker.Calls, invoked+4)
}

func TestRecover_ReinvokesFailedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toImplementation(t)

	_, err := f.statuses.Report(ctx, domain.AgentStatus{
		AgentID: "tester", TaskName: "t1", Mode: domain.ModeImplementation,
		Status: domain.LifecycleError, WorkRemaining: "test runner crashed",
	})
	require.NoError(t, err)

	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, IssueAgentFailed, res.Actions[0].Issue)
	assert.Equal(t, "tester", res.Actions[0].Agent)
}

func TestRecover_FinishesInterruptedCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toSynthesis(t)
	f.editRecord(t, func(rec *domain.TaskRecord) {
		rec.TransitionLog = append(rec.TransitionLog, domain.Transition{From: rec.State, To: domain.StateCleanup})
		rec.State = domain.StateCleanup
	})
	require.NoError(t, f.locks.UpdateState(ctx, "t1", owner, domain.StateCleanup))

	res, err := f.sub.Recover(ctx, owner)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, IssueCleanupPending, res.Actions[0].Issue)

	_, err = f.ctrl.Load(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.Empty(t, f.repo.Trees)

	reports, err := f.sub.Detect(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestHandleInterruption(t *testing.T) {
	ctx := context.Background()

	t.Run("unrelated text at a checkpoint changes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.toSynthesis(t)
		for _, text := range []string{"ok", "continue", "looks fine to me", ""} {
			out, err := f.sub.HandleInterruption(ctx, "t1", owner, text)
			var awaiting *domain.AwaitingApprovalError
			require.ErrorAs(t, err, &awaiting, text)
			assert.Equal(t, domain.CheckpointPlanApproval, awaiting.Checkpoint)
			assert.Equal(t, domain.InteractionOther, out.Kind)
			assert.Nil(t, out.Flag)
		}
		ok, err := approval.NewGate(f.store, f.clock, nil).IsSatisfied(ctx, "t1", domain.CheckpointPlanApproval)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unrelated text outside a checkpoint", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctrl.Start(ctx, "t1", owner, "d", "main")
		require.NoError(t, err)
		out, err := f.sub.HandleInterruption(ctx, "t1", owner, "continue")
		require.NoError(t, err)
		assert.Equal(t, domain.StateInit, out.State)
	})

	t.Run("explicit approval records the flag", func(t *testing.T) {
		f := newFixture(t)
		f.toSynthesis(t)
		p, err := f.ctrl.Present(ctx, "t1", owner, domain.CheckpointPlanApproval, "the plan")
		require.NoError(t, err)

		out, err := f.sub.HandleInterruption(ctx, "t1", owner, "approve plan-approval "+p.Digest[:8])
		require.NoError(t, err)
		require.NotNil(t, out.Flag)
		assert.Equal(t, p.Digest, out.Flag.Digest)
		assert.Equal(t, domain.StateSynthesis, out.State)
	})

	t.Run("approval of other content is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.toSynthesis(t)
		_, err := f.ctrl.Present(ctx, "t1", owner, domain.CheckpointPlanApproval, "the plan")
		require.NoError(t, err)

		_, err = f.sub.HandleInterruption(ctx, "t1", owner, "approve PLAN-APPROVAL deadbeefdeadbeef")
		assert.ErrorIs(t, err, domain.ErrApprovalNotSpecific)
	})

	t.Run("resume runs recovery", func(t *testing.T) {
		f := newFixture(t)
		f.toImplementation(t)
		delete(f.repo.Trees, f.workspaces.TaskPath("t1"))

		out, err := f.sub.HandleInterruption(ctx, "t1", owner, "resume")
		require.NoError(t, err)
		require.NotNil(t, out.Recovery)
		require.Len(t, out.Recovery.Actions, 1)
		assert.Equal(t, IssueTaskWorkspaceMissing, out.Recovery.Actions[0].Issue)
	})

	t.Run("state changed underneath is a violation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctrl.Start(ctx, "t1", owner, "d", "main")
		require.NoError(t, err)

		reads := 0
		f.store.onGet = func(key string, data []byte) []byte {
			if key != domain.TaskKey("t1") {
				return data
			}
			reads++
			if reads == 1 {
				return data
			}
			var rec domain.TaskRecord
			require.NoError(t, json.Unmarshal(data, &rec))
			rec.State = domain.StateClassified
			out, _ := json.Marshal(&rec)
			return out
		}

		_, err = f.sub.HandleInterruption(ctx, "t1", owner, "continue")
		var v *ViolationError
		require.ErrorAs(t, err, &v)
		assert.Equal(t, domain.StateInit, v.Before)
		assert.Equal(t, domain.StateClassified, v.After)
		require.Len(t, v.Reports, 1)
		assert.True(t, v.Reports[0].Has(IssueLogMismatch))
		assert.Equal(t, domain.ResultEscalation, domain.ResultCodeOf(err))
	})
}
