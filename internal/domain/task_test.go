package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskRecord(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewTaskRecord("fix-auth", "owner-1", "fix auth", "main", now)

	assert.Equal(t, StateInit, rec.State)
	assert.True(t, rec.LogConsistent())
	assert.Equal(t, "fix auth", rec.Description())
	assert.Equal(t, "main", rec.BaseBranch())
	assert.Nil(t, rec.Classification())

	last, ok := rec.LastTransition()
	assert.True(t, ok)
	assert.Equal(t, State(""), last.From)
	assert.Equal(t, now, last.Timestamp)
}

func TestTaskRecord_Clone(t *testing.T) {
	rec := NewTaskRecord("t", "o", "d", "main", time.Now())
	c := rec.Clone()
	c.Evidence[StateInit][EvidenceDescription] = "changed"
	c.TransitionLog = append(c.TransitionLog, Transition{From: StateInit, To: StateClassified})
	c.RequiredAgents = append(c.RequiredAgents, "x")

	assert.Equal(t, "d", rec.Description())
	assert.Len(t, rec.TransitionLog, 1)
	assert.Empty(t, rec.RequiredAgents)
}

func TestTaskRecord_Classification(t *testing.T) {
	rec := NewTaskRecord("t", "o", "d", "main", time.Now())
	rec.RiskLevel = RiskMedium
	rec.RequiredAgents = []string{"engineer"}
	rec.Evidence[StateClassified] = Evidence{EvidenceChangeKind: string(ChangeDocs), EvidenceFiles: "README.md, docs/a.md"}

	c := rec.Classification()
	assert.Equal(t, MediumRisk{Kind: ChangeDocs, RequiredAgents: []string{"engineer"}}, c)
	assert.True(t, c.SkipsImplementation())
	assert.Equal(t, []string{"README.md", "docs/a.md"}, rec.Files())
	assert.True(t, rec.Requires("engineer"))
	assert.False(t, rec.Requires("tester"))
}

func TestTaskRecord_LogConsistent(t *testing.T) {
	rec := NewTaskRecord("t", "o", "d", "main", time.Now())
	rec.State = StateClassified
	assert.False(t, rec.LogConsistent())

	rec.TransitionLog = nil
	assert.False(t, rec.LogConsistent())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("task", "fix-auth_2"))
	assert.Error(t, ValidateName("task", ""))
	assert.Error(t, ValidateName("task", "a/b"))
	assert.Error(t, ValidateName("task", "a..b"))
	assert.Error(t, ValidateName("agent", "x.lock"))
	assert.Error(t, ValidateName("agent", "-x"))
}

func TestBranchNames(t *testing.T) {
	assert.Equal(t, "taskflow/t1/main", TaskBranch("t1"))
	assert.Equal(t, "taskflow/t1/agents/engineer", AgentBranch("t1", "engineer"))
	assert.Equal(t, "status/t1/engineer", StatusKey("t1", "engineer"))
	assert.Equal(t, "approvals/t1/PLAN-APPROVAL", ApprovalKey("t1", CheckpointPlanApproval))
}
