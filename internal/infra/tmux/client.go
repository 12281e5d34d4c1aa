// Package tmux runs agents in tmux sessions a human can peek at or attach to.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// ExecFunc is the function signature for syscall.Exec.
// It is used to allow testing of the Attach method.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Client manages agent sessions on a private tmux server.
type Client struct {
	execFunc   ExecFunc // Function to use for exec (default: syscall.Exec)
	socketPath string   // Path to the tmux socket
}

// NewClient creates a new tmux client.
// socketPath is the path to the tmux socket (typically .git/taskflow/tmux.sock).
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		execFunc:   syscall.Exec,
	}
}

// SetExecFunc sets the exec function for testing purposes.
func (c *Client) SetExecFunc(fn ExecFunc) {
	c.execFunc = fn
}

// Ensure Client implements domain.SessionManager interface.
var _ domain.SessionManager = (*Client)(nil)

// Start creates a detached session running opts.Command in opts.Dir.
func (c *Client) Start(ctx context.Context, opts domain.StartSessionOptions) error {
	running, err := c.IsRunning(opts.Name)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if running {
		return domain.ErrSessionRunning
	}

	// tmux -S <socket> new-session -d -s <name> -c <dir> [-e KEY=VAL]... <command>
	args := []string{
		"-S", c.socketPath,
		"new-session",
		"-d",
		"-s", opts.Name,
		"-c", opts.Dir,
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Dir = opts.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("start session: %w: %s", err, string(out))
	}
	return nil
}

// Stop terminates a session. Child processes of every pane get SIGTERM first
// so agents do not outlive their session.
func (c *Client) Stop(name string) error {
	running, err := c.IsRunning(name)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !running {
		return nil
	}

	listCmd := exec.Command("tmux", //nolint:gosec // name comes from domain.AgentSessionName
		"-S", c.socketPath,
		"list-panes",
		"-t", name,
		"-F", "#{pane_pid}",
	)
	if out, err := listCmd.Output(); err == nil {
		for _, pid := range strings.Fields(string(out)) {
			// The pane may have no children or have exited already.
			_ = exec.Command("pkill", "-TERM", "-P", pid).Run()
		}
	}

	cmd := exec.Command("tmux", "-S", c.socketPath, "kill-session", "-t", name) //nolint:gosec // name comes from domain.AgentSessionName
	if out, err := cmd.CombinedOutput(); err != nil {
		// Killing the children may already have ended the session.
		stillRunning, checkErr := c.IsRunning(name)
		if checkErr != nil || stillRunning {
			return fmt.Errorf("stop session: %w: %s", err, string(out))
		}
	}
	return nil
}

// Attach replaces the current process with a tmux client attached to the session.
func (c *Client) Attach(name string) error {
	running, err := c.IsRunning(name)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !running {
		return domain.ErrSessionNotRunning
	}

	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("find tmux: %w", err)
	}
	argv := []string{"tmux", "-S", c.socketPath, "attach", "-t", name}
	if err := c.execFunc(tmuxPath, argv, os.Environ()); err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	return nil
}

// Peek captures the last lines of a session's screen.
func (c *Client) Peek(name string, lines int) (string, error) {
	running, err := c.IsRunning(name)
	if err != nil {
		return "", fmt.Errorf("check session: %w", err)
	}
	if !running {
		return "", domain.ErrSessionNotRunning
	}

	// -p prints to stdout, -S -<n> starts n lines above the cursor
	cmd := exec.Command("tmux", //nolint:gosec // name comes from domain.AgentSessionName
		"-S", c.socketPath,
		"capture-pane",
		"-t", name,
		"-p",
		"-S", fmt.Sprintf("-%d", lines),
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("peek session: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// IsRunning checks if a session exists. A missing server or socket counts as not running.
func (c *Client) IsRunning(name string) (bool, error) {
	cmd := exec.Command("tmux", //nolint:gosec // name comes from domain.AgentSessionName
		"-S", c.socketPath,
		"has-session",
		"-t", name,
	)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return false, fmt.Errorf("find tmux: %w", err)
	}
	return false, nil
}
