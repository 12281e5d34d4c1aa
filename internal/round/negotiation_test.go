package round

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
)

func TestCoordinator_ClassifyObjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected, "x.go y.go z.go w.go v.go")
	f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionApproved, "none")

	// Only rejecting, required agents classify
	_, err := f.coord.ClassifyObjections(ctx, f.rec, "engineer", []domain.Objection{{Text: "x", Severity: domain.SeverityDeferrable}})
	assert.ErrorIs(t, err, domain.ErrNotRejecting)
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "outsider", nil)
	assert.ErrorIs(t, err, domain.ErrAgentNotRequired)

	// A rejection must carry at least one objection
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "tester", nil)
	assert.ErrorIs(t, err, domain.ErrNoObjections)
	out, _, err := f.coord.ResolveNegotiation(ctx, f.rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"tester"}, out.Unclassified)

	set, err := f.coord.ClassifyObjections(ctx, f.rec, "tester", []domain.Objection{
		{Text: "missing auth check", Severity: domain.SeverityBlocking},
		{Text: "rename helper", Severity: domain.SeverityDeferrable},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing auth check"}, set.Blocking())

	// A blocking objection cannot be downgraded or dropped
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "tester", []domain.Objection{
		{Text: "missing auth check", Severity: domain.SeverityDeferrable},
	})
	assert.ErrorIs(t, err, domain.ErrBlockingLocked)
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "tester", []domain.Objection{
		{Text: "rename helper", Severity: domain.SeverityDeferrable},
	})
	assert.ErrorIs(t, err, domain.ErrBlockingLocked)

	// Upgrading a deferrable one is allowed
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "tester", []domain.Objection{
		{Text: "missing auth check", Severity: domain.SeverityBlocking},
		{Text: "rename helper", Severity: domain.SeverityBlocking},
	})
	assert.NoError(t, err)
}

func TestCoordinator_ResolveNegotiation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.report(t, "tester", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected, "lots")
	f.report(t, "engineer", domain.ModeReview, domain.LifecycleComplete, domain.DecisionRejected, "more")

	out, _, err := f.coord.ResolveNegotiation(ctx, f.rec)
	require.NoError(t, err)
	assert.False(t, out.Resolved())
	assert.Equal(t, []string{"engineer", "tester"}, out.Unclassified)

	_, err = f.coord.ClassifyObjections(ctx, f.rec, "tester", []domain.Objection{
		{Text: "document retries", Severity: domain.SeverityDeferrable},
	})
	require.NoError(t, err)
	_, err = f.coord.ClassifyObjections(ctx, f.rec, "engineer", []domain.Objection{
		{Text: "split package", Severity: domain.SeverityDeferrable},
	})
	require.NoError(t, err)

	out, followUps, err := f.coord.ResolveNegotiation(ctx, f.rec)
	require.NoError(t, err)
	assert.True(t, out.Resolved())
	assert.Empty(t, out.Blocking)
	require.Len(t, followUps, 2)

	// Ids are stable across calls
	again, again2, err := f.coord.ResolveNegotiation(ctx, f.rec)
	require.NoError(t, err)
	assert.Equal(t, out.Deferred, again.Deferred)
	assert.Len(t, again2, 2)

	require.NoError(t, f.coord.RecordFollowUps(ctx, followUps))
	require.NoError(t, f.coord.RecordFollowUps(ctx, followUps))
	stored, err := f.coord.FollowUps(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.NoError(t, f.coord.ClearNegotiation(ctx, "t1"))
	out, _, err = f.coord.ResolveNegotiation(ctx, f.rec)
	require.NoError(t, err)
	assert.Len(t, out.Unclassified, 2)
}
