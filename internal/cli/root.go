// Package cli provides the command-line interface for git-taskflow.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// Command group IDs.
const (
	groupSetup    = "setup"
	groupTask     = "task"
	groupRound    = "round"
	groupRecovery = "recovery"
)

// SessionEnv names the environment variable holding the session identity.
const SessionEnv = "TASKFLOW_SESSION"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	Session string
}

// NewRootCommand creates the root command for git-taskflow.
// It receives the container for dependency injection and version for display.
func NewRootCommand(c *app.Container, version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Multi-agent task orchestration",
		Long: `git-taskflow drives a task through a fixed sequence of states,
with one lock per task, an isolated git worktree per task and per agent,
and two human checkpoints (PLAN-APPROVAL and CHANGE-REVIEW).

Every command is stateless: the task's state is rebuilt from
.git/taskflow on each invocation, so an interrupted session continues
with 'taskflow resume'.

Mint a session identity once and export it:
  export TASKFLOW_SESSION=$(taskflow session new)`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Skip if container is nil (e.g. in tests)
			if c == nil || c.AppConfig == nil {
				return
			}
			for _, w := range c.AppConfig.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.Session, "session", "",
		"Session identity that owns tasks (default $"+SessionEnv+")")

	root.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Lifecycle:"},
		&cobra.Group{ID: groupRound, Title: "Agent Rounds:"},
		&cobra.Group{ID: groupRecovery, Title: "Recovery:"},
	)

	for _, cmd := range []*cobra.Command{
		newSessionCommand(c),
		newConfigCommand(c),
	} {
		cmd.GroupID = groupSetup
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newStartCommand(c, opts),
		newClassifyCommand(c, opts),
		newAdvanceCommand(c, opts),
		newPresentCommand(c, opts),
		newApproveCommand(c, opts),
		newShowCommand(c),
		newListCommand(c),
		newAbandonCommand(c, opts),
	} {
		cmd.GroupID = groupTask
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newAgentCommand(c, opts),
		newRoundCommand(c),
		newNegotiateCommand(c),
	} {
		cmd.GroupID = groupRound
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newResumeCommand(c, opts),
		newInterruptCommand(c, opts),
	} {
		cmd.GroupID = groupRecovery
		root.AddCommand(cmd)
	}

	return root
}

// session returns the caller's identity from --session or the environment.
func (o *globalOptions) session() string {
	if o.Session != "" {
		return o.Session
	}
	return strings.TrimSpace(os.Getenv(SessionEnv))
}

// requireSession returns the caller's identity or ErrNoSession.
func (o *globalOptions) requireSession() (string, error) {
	s := o.session()
	if s == "" {
		return "", fmt.Errorf("%w: pass --session or set %s", domain.ErrNoSession, SessionEnv)
	}
	return s, nil
}
