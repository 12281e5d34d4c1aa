package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/kvstore"
	"github.com/runoshun/git-taskflow/internal/testutil"
)

type harness struct {
	c       *app.Container
	repo    *testutil.FakeRepo
	invoker  *testutil.MockInvoker
	sessions *testutil.MockSessionManager
	dataDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dataDir := t.TempDir()
	repo := testutil.NewFakeRepo()
	invoker := &testutil.MockInvoker{}
	sessions := testutil.NewMockSessionManager()
	c := app.NewWithDeps(app.Config{
		RepoRoot: "/repo",
		GitDir:   "/repo/.git",
		DataDir:  dataDir,
		StoreDir: domain.StoreDir(dataDir),
		Cwd:      "/repo",
	}, nil, app.Deps{
		Store:     kvstore.NewMemory(),
		Worktrees: repo,
		VCS:       repo,
		Validator: testutil.NewMockValidator(),
		Invoker:   invoker,
		Sessions:  sessions,
		Classifier: &testutil.MockClassifier{
			Result: domain.HighRisk{RequiredAgents: []string{"engineer", "tester"}},
		},
		Clock: testutil.NewMockClock(),
	})
	return &harness{c: c, repo: repo, invoker: invoker, sessions: sessions, dataDir: dataDir}
}

// run executes the command line as session s1 and returns stdout.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(h.c, "test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--session", "s1"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, "", args...)
	require.NoError(t, err, "taskflow %s", strings.Join(args, " "))
	return out
}

var digestLine = regexp.MustCompile(`Digest: ([0-9a-f]{64})`)

// toSynthesis starts t1 and drives it to SYNTHESIS.
func (h *harness) toSynthesis(t *testing.T) {
	t.Helper()
	h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")
	h.mustRun(t, "classify", "t1", "--files", "fetch.go,fetch_test.go")
	h.mustRun(t, "advance", "t1", "REQUIREMENTS")
	h.mustRun(t, "advance", "t1", "SYNTHESIS",
		"-e", "report.engineer=req/engineer.md",
		"-e", "report.tester=req/tester.md")
}

// toImplementation continues from SYNTHESIS through PLAN-APPROVAL.
func (h *harness) toImplementation(t *testing.T) {
	t.Helper()
	out, err := h.run(t, "1. add retry\n2. test it\n", "present", "t1", "PLAN-APPROVAL")
	require.NoError(t, err)
	m := digestLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	h.mustRun(t, "approve", "t1", "PLAN-APPROVAL", m[1][:12])
	h.mustRun(t, "advance", "t1", "IMPLEMENTATION", "-e", "plan=plan.md")
}

func TestNewRootCommand_WithHelp_ShowsGroups(t *testing.T) {
	root := NewRootCommand(nil, "test-version")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Task Lifecycle:")
	assert.Contains(t, out.String(), "Agent Rounds:")
	assert.Contains(t, out.String(), "Recovery:")
}

func TestSessionNew_WithoutContainer(t *testing.T) {
	root := NewRootCommand(nil, "test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"session", "new"})

	require.NoError(t, root.Execute())
	assert.Regexp(t, `^[0-9a-f-]{36}\n$`, out.String())
}

func TestStart_RequiresSession(t *testing.T) {
	t.Setenv(SessionEnv, "")
	h := newHarness(t)
	root := NewRootCommand(h.c, "test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"start", "t1", "-d", "x"})

	err := root.Execute()
	require.ErrorIs(t, err, domain.ErrNoSession)
}

func TestStart_LockConflict(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")
	assert.Contains(t, out, "Started t1 from main")

	root := NewRootCommand(h.c, "test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--session", "s2", "start", "t1", "-d", "again"})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, domain.ResultLockConflict, domain.ResultCodeOf(err))
	assert.Equal(t, 3, domain.ResultCodeOf(err).ExitCode())
}

func TestClassifyAndShow(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")

	out := h.mustRun(t, "classify", "t1", "-f", "fetch.go")
	assert.Contains(t, out, "Risk: HIGH")
	assert.Contains(t, out, "Agents: engineer, tester")

	out = h.mustRun(t, "show", "t1")
	assert.Contains(t, out, "CLASSIFIED")
	assert.Contains(t, out, "add retry to fetcher")
	assert.Contains(t, out, "REQUIREMENTS")

	out = h.mustRun(t, "show", "t1", "--json")
	assert.Contains(t, out, `"task_name": "t1"`)
}

func TestAdvance_PreconditionNotMet(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")
	h.mustRun(t, "classify", "t1", "-f", "fetch.go")
	h.mustRun(t, "advance", "t1", "REQUIREMENTS")

	_, err := h.run(t, "", "advance", "t1", "SYNTHESIS")
	require.Error(t, err)
	assert.Equal(t, domain.ResultPreconditionNotMet, domain.ResultCodeOf(err))

	var buf bytes.Buffer
	PrintError(&buf, err)
	assert.Contains(t, buf.String(), "PRECONDITION_NOT_MET")
	assert.Contains(t, buf.String(), "engineer")
	assert.Contains(t, buf.String(), "tester")

	out := h.mustRun(t, "show", "t1")
	assert.Contains(t, out, "REQUIREMENTS")
}

func TestPresentAndApprove(t *testing.T) {
	h := newHarness(t)
	h.toSynthesis(t)

	t.Run("vague approval is refused", func(t *testing.T) {
		_, err := h.run(t, "", "approve", "t1", "PLAN-APPROVAL", "looks")
		require.Error(t, err)
		assert.Equal(t, domain.ResultAwaitingApproval, domain.ResultCodeOf(err))
	})

	t.Run("approval quoting the digest unlocks implementation", func(t *testing.T) {
		h.toImplementation(t)
		out := h.mustRun(t, "show", "t1")
		assert.Contains(t, out, "IMPLEMENTATION")
	})
}

func TestPresent_FromFile(t *testing.T) {
	h := newHarness(t)
	h.toSynthesis(t)
	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte("the plan"), 0o600))

	out := h.mustRun(t, "present", "t1", "PLAN-APPROVAL", "-f", path)
	assert.Contains(t, out, "the plan")
	assert.Contains(t, out, "taskflow approve t1 PLAN-APPROVAL ")
}

func TestInterrupt_VagueMessageKeepsState(t *testing.T) {
	h := newHarness(t)
	h.toSynthesis(t)

	out, err := h.run(t, "", "interrupt", "t1", "--", "looks", "good")
	var waiting *domain.AwaitingApprovalError
	require.True(t, errors.As(err, &waiting))
	assert.Equal(t, domain.CheckpointPlanApproval, waiting.Checkpoint)
	assert.Contains(t, out, "still in SYNTHESIS")

	show := h.mustRun(t, "show", "t1")
	assert.Contains(t, show, "SYNTHESIS")
}

func TestAgentReportAndRoundStatus(t *testing.T) {
	h := newHarness(t)
	h.toSynthesis(t)
	h.toImplementation(t)

	out := h.mustRun(t, "round", "status", "t1")
	assert.Contains(t, out, "engineer")
	assert.Contains(t, out, "tester")
	assert.NotContains(t, out, "Round settled.")

	t.Setenv("TASKFLOW_TASK", "t1")
	t.Setenv("TASKFLOW_AGENT", "engineer")
	out = h.mustRun(t, "agent", "report", "--status", "complete", "--decision", "approved")
	assert.Contains(t, out, "t1/engineer: COMPLETE APPROVED (implementation)")

	h.mustRun(t, "agent", "report", "-a", "tester", "-s", "COMPLETE", "-d", "APPROVED")

	out = h.mustRun(t, "round", "wait", "t1", "--timeout", "1s")
	assert.Contains(t, out, "Round settled.")
}

func TestAgentReport_RequiresTarget(t *testing.T) {
	t.Setenv("TASKFLOW_TASK", "")
	t.Setenv("TASKFLOW_AGENT", "")
	h := newHarness(t)

	_, err := h.run(t, "", "agent", "report", "--status", "COMPLETE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKFLOW_TASK")
}

func TestAgentInvoke(t *testing.T) {
	h := newHarness(t)
	h.toSynthesis(t)
	h.toImplementation(t)
	calls := len(h.invoker.Calls)

	out := h.mustRun(t, "agent", "invoke", "t1", "engineer")
	assert.Contains(t, out, "Invoked engineer (implementation)")
	require.Len(t, h.invoker.Calls, calls+1)
	assert.Equal(t, domain.ModeImplementation, h.invoker.Calls[calls].Mode)
}

func TestAgentPeek(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")
	h.mustRun(t, "classify", "t1", "-f", "fetch.go")

	_, err := h.run(t, "", "agent", "peek", "t1", "engineer")
	assert.ErrorIs(t, err, domain.ErrSessionNotRunning)

	h.sessions.IsRunningVal = true
	h.sessions.PeekOutput = "editing fetch.go"
	out := h.mustRun(t, "agent", "peek", "t1", "engineer", "-n", "5")
	assert.Equal(t, "editing fetch.go\n", out)
	assert.Equal(t, 5, h.sessions.PeekLines)
}

func TestRoundStatus_OutsideRound(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "start", "t1", "-d", "x")

	_, err := h.run(t, "", "round", "status", "t1")
	require.Error(t, err)
	assert.Equal(t, domain.ResultPreconditionNotMet, domain.ResultCodeOf(err))
}

func TestListAndAbandon(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "list")
	assert.Contains(t, out, "No tasks.")

	h.mustRun(t, "start", "t1", "-d", "add retry to fetcher")
	out = h.mustRun(t, "list")
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "INIT")
	assert.Contains(t, out, "s1")

	out = h.mustRun(t, "abandon", "t1", "--note", "superseded")
	assert.Contains(t, out, "Abandoned t1")

	out = h.mustRun(t, "list")
	assert.Contains(t, out, "No tasks.")
}

func TestResume_NothingHeld(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "resume")
	assert.Contains(t, out, "No tasks held by this session.")
}

func TestResume_ConsistentTask(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "start", "t1", "-d", "x")

	out := h.mustRun(t, "resume")
	assert.Contains(t, out, "t1 (INIT) consistent")
}

func TestConfigInitAndShow(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "config", "init")
	assert.Contains(t, out, filepath.Join(h.dataDir, domain.ConfigFileName))

	_, err := h.run(t, "", "config", "init")
	require.Error(t, err)

	out = h.mustRun(t, "config", "show")
	assert.Contains(t, out, "[Loaded from]")
	assert.Contains(t, out, filepath.Join(h.dataDir, domain.ConfigFileName))
	assert.Contains(t, out, "[Effective Config]")
}

func TestPrintError_Escalation(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, &domain.EscalationError{Report: domain.EscalationReport{
		Task:      "t1",
		State:     domain.StateImplementation,
		Issue:     "merge conflict in fetch.go",
		Attempted: []string{"rebase onto task branch"},
		Options:   []string{"resolve manually", "abandon"},
	}})

	s := buf.String()
	assert.Contains(t, s, "ESCALATION_REQUIRED")
	assert.Contains(t, s, "merge conflict in fetch.go")
	assert.Contains(t, s, "rebase onto task branch")
	assert.Contains(t, s, "resolve manually")
}
