// Package runner starts agents for a round.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"text/template"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Invoker implements domain.AgentInvoker by running each agent's configured command
// in the background, or in a terminal session for agents with runner = "tmux".
// The command is a text/template over domain.InvokeRequest.
type Invoker struct {
	agents   map[string]domain.AgentConfig
	sessions domain.SessionManager
	logDir   string
}

// NewInvoker creates an invoker. Background agent output goes to
// logDir/agents/<task>-<agent>.log. sessions may be nil when no agent runs in a session.
func NewInvoker(agents map[string]domain.AgentConfig, sessions domain.SessionManager, logDir string) *Invoker {
	return &Invoker{agents: agents, sessions: sessions, logDir: logDir}
}

// Ensure Invoker implements domain.AgentInvoker interface.
var _ domain.AgentInvoker = (*Invoker)(nil)

// Invoke starts the agent and returns without waiting for it.
// The agent reports progress through its status record.
func (r *Invoker) Invoke(ctx context.Context, req domain.InvokeRequest) error {
	cfg, ok := r.agents[req.Agent]
	if !ok || cfg.Command == "" {
		return fmt.Errorf("no command configured for agent %s ([agents.%s] command)", req.Agent, req.Agent)
	}
	script, err := Render(cfg.Command, req)
	if err != nil {
		return err
	}
	if cfg.InSession() {
		return r.invokeInSession(ctx, req, script)
	}

	logPath := filepath.Join(r.logDir, "agents", req.Task+"-"+req.Agent+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return fmt.Errorf("create agent log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open agent log: %w", err)
	}
	defer logFile.Close()

	// #nosec G204 - command comes from the user's own configuration
	cmd := exec.Command("sh", "-c", script)
	cmd.Dir = req.Workspace
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), agentEnv(req)...)
	// Detach so the agent outlives this invocation.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent %s: %w", req.Agent, err)
	}
	return cmd.Process.Release()
}

// invokeInSession replaces any session left by an earlier invocation of the agent.
func (r *Invoker) invokeInSession(ctx context.Context, req domain.InvokeRequest, script string) error {
	if r.sessions == nil {
		return fmt.Errorf("agent %s runs in a session but no session manager is available", req.Agent)
	}
	name := domain.AgentSessionName(req.Task, req.Agent)
	if err := r.sessions.Stop(name); err != nil {
		return fmt.Errorf("stop previous session of %s: %w", req.Agent, err)
	}
	err := r.sessions.Start(ctx, domain.StartSessionOptions{
		Name:    name,
		Dir:     req.Workspace,
		Command: script,
		Env:     agentEnv(req),
	})
	if err != nil {
		return fmt.Errorf("start agent %s: %w", req.Agent, err)
	}
	return nil
}

func agentEnv(req domain.InvokeRequest) []string {
	return []string{
		"TASKFLOW_TASK=" + req.Task,
		"TASKFLOW_AGENT=" + req.Agent,
		"TASKFLOW_MODE=" + string(req.Mode),
		"TASKFLOW_WORKSPACE=" + req.Workspace,
		"TASKFLOW_FEEDBACK=" + req.Feedback,
	}
}

// Render expands an agent command template.
func Render(command string, req domain.InvokeRequest) (string, error) {
	tmpl, err := template.New("agent").Option("missingkey=error").Parse(command)
	if err != nil {
		return "", fmt.Errorf("parse agent command: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render agent command: %w", err)
	}
	return buf.String(), nil
}
