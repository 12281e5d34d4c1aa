package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/testutil"
)

func TestRender(t *testing.T) {
	req := domain.InvokeRequest{Task: "t1", Agent: "engineer", Mode: domain.ModeReview, Workspace: "/w"}

	got, err := Render("agent --task {{.Task}} --as {{.Agent}} --mode {{.Mode}} -C {{.Workspace}}", req)
	require.NoError(t, err)
	assert.Equal(t, "agent --task t1 --as engineer --mode review -C /w", got)

	_, err = Render("agent {{.Nope}}", req)
	assert.Error(t, err)
	_, err = Render("agent {{", req)
	assert.Error(t, err)
}

func TestInvoker_Invoke(t *testing.T) {
	workspace := t.TempDir()
	logDir := t.TempDir()
	inv := NewInvoker(map[string]domain.AgentConfig{
		"engineer": {Command: `echo "{{.Agent}} $TASKFLOW_MODE $TASKFLOW_FEEDBACK" > out.txt; echo done`},
	}, nil, logDir)

	err := inv.Invoke(context.Background(), domain.InvokeRequest{
		Task: "t1", Agent: "engineer", Mode: domain.ModeImplementation, Workspace: workspace, Feedback: "fix a.go",
	})
	require.NoError(t, err)

	out := filepath.Join(workspace, "out.txt")
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && string(data) == "engineer implementation fix a.go\n"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(logDir, "agents", "t1-engineer.log"))
		return err == nil && string(data) == "done\n"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestInvoker_UnknownAgent(t *testing.T) {
	inv := NewInvoker(map[string]domain.AgentConfig{"engineer": {}}, nil, t.TempDir())

	err := inv.Invoke(context.Background(), domain.InvokeRequest{Task: "t1", Agent: "tester"})
	assert.ErrorContains(t, err, "no command configured")
	err = inv.Invoke(context.Background(), domain.InvokeRequest{Task: "t1", Agent: "engineer"})
	assert.Error(t, err)
}

func TestInvoker_InSession(t *testing.T) {
	agents := map[string]domain.AgentConfig{
		"engineer": {Command: "agent --mode {{.Mode}}", Runner: domain.RunnerTmux},
	}
	req := domain.InvokeRequest{Task: "t1", Agent: "engineer", Mode: domain.ModeReview, Workspace: "/w", Feedback: "fix a.go"}

	t.Run("starts a session", func(t *testing.T) {
		sessions := testutil.NewMockSessionManager()
		inv := NewInvoker(agents, sessions, t.TempDir())

		require.NoError(t, inv.Invoke(context.Background(), req))

		assert.True(t, sessions.StopCalled)
		assert.True(t, sessions.StartCalled)
		assert.Equal(t, "taskflow-t1-engineer", sessions.StartOpts.Name)
		assert.Equal(t, "/w", sessions.StartOpts.Dir)
		assert.Equal(t, "agent --mode review", sessions.StartOpts.Command)
		assert.Contains(t, sessions.StartOpts.Env, "TASKFLOW_FEEDBACK=fix a.go")
		assert.Contains(t, sessions.StartOpts.Env, "TASKFLOW_TASK=t1")
	})

	t.Run("start error", func(t *testing.T) {
		sessions := testutil.NewMockSessionManager()
		sessions.StartErr = assert.AnError
		inv := NewInvoker(agents, sessions, t.TempDir())

		assert.ErrorIs(t, inv.Invoke(context.Background(), req), assert.AnError)
	})

	t.Run("no session manager", func(t *testing.T) {
		inv := NewInvoker(agents, nil, t.TempDir())

		assert.ErrorContains(t, inv.Invoke(context.Background(), req), "no session manager")
	})
}
