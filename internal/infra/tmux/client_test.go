package tmux

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// newTestClient returns a client on a private socket and kills its server on cleanup.
func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tmux.sock")
	t.Cleanup(func() {
		_ = exec.Command("tmux", "-S", socketPath, "kill-server").Run()
	})
	return NewClient(socketPath), dir
}

func TestNewClient(t *testing.T) {
	client := NewClient("/path/to/socket")

	assert.Equal(t, "/path/to/socket", client.socketPath)
	assert.NotNil(t, client.execFunc)
}

func TestClient_Start_And_IsRunning(t *testing.T) {
	client, dir := newTestClient(t)
	name := domain.AgentSessionName("t1", "engineer")

	running, err := client.IsRunning(name)
	require.NoError(t, err)
	assert.False(t, running)

	err = client.Start(context.Background(), domain.StartSessionOptions{
		Name:    name,
		Dir:     dir,
		Command: "sleep 60",
	})
	require.NoError(t, err)

	running, err = client.IsRunning(name)
	require.NoError(t, err)
	assert.True(t, running)

	err = client.Start(context.Background(), domain.StartSessionOptions{Name: name, Dir: dir, Command: "sleep 60"})
	assert.ErrorIs(t, err, domain.ErrSessionRunning)
}

func TestClient_Start_PassesEnvironment(t *testing.T) {
	client, dir := newTestClient(t)
	name := domain.AgentSessionName("t1", "tester")

	err := client.Start(context.Background(), domain.StartSessionOptions{
		Name:    name,
		Dir:     dir,
		Command: `echo "agent=$TASKFLOW_AGENT"; sleep 60`,
		Env:     []string{"TASKFLOW_AGENT=tester"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		out, err := client.Peek(name, 10)
		return err == nil && strings.Contains(out, "agent=tester")
	}, 2*time.Second, 50*time.Millisecond)
}

func TestClient_Stop(t *testing.T) {
	client, dir := newTestClient(t)
	name := domain.AgentSessionName("t1", "engineer")

	require.NoError(t, client.Start(context.Background(), domain.StartSessionOptions{
		Name:    name,
		Dir:     dir,
		Command: "sleep 60",
	}))

	require.NoError(t, client.Stop(name))
	running, err := client.IsRunning(name)
	require.NoError(t, err)
	assert.False(t, running)

	// Stopping again is a no-op.
	assert.NoError(t, client.Stop(name))
}

func TestClient_Peek_NoSession(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Peek("non-existent", 10)
	assert.ErrorIs(t, err, domain.ErrSessionNotRunning)
}

func TestClient_Attach(t *testing.T) {
	client, dir := newTestClient(t)
	name := domain.AgentSessionName("t1", "engineer")

	t.Run("no session", func(t *testing.T) {
		assert.ErrorIs(t, client.Attach(name), domain.ErrSessionNotRunning)
	})

	t.Run("execs tmux attach", func(t *testing.T) {
		require.NoError(t, client.Start(context.Background(), domain.StartSessionOptions{
			Name:    name,
			Dir:     dir,
			Command: "sleep 60",
		}))
		var argv []string
		client.SetExecFunc(func(_ string, a []string, _ []string) error {
			argv = a
			return nil
		})

		require.NoError(t, client.Attach(name))
		assert.Equal(t, []string{"tmux", "-S", client.socketPath, "attach", "-t", name}, argv)
	})
}

func TestClient_IsRunning_NoSocket(t *testing.T) {
	client, _ := newTestClient(t)

	running, err := client.IsRunning("anything")
	require.NoError(t, err)
	assert.False(t, running)
}
