package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

// Environment set for an agent process by the invoker.
const (
	taskEnv  = "TASKFLOW_TASK"
	agentEnv = "TASKFLOW_AGENT"
)

// agentTarget resolves the task and agent from flags, falling back to the
// environment an invoked agent runs in.
type agentTarget struct {
	Task  string
	Agent string
}

func (t *agentTarget) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.Task, "task", "t", "", "Task name (default $"+taskEnv+")")
	cmd.Flags().StringVarP(&t.Agent, "agent", "a", "", "Agent name (default $"+agentEnv+")")
}

func (t *agentTarget) resolve() (task, agent string, err error) {
	task, agent = t.Task, t.Agent
	if task == "" {
		task = os.Getenv(taskEnv)
	}
	if agent == "" {
		agent = os.Getenv(agentEnv)
	}
	if task == "" || agent == "" {
		return "", "", fmt.Errorf("task and agent are required: pass --task and --agent or set %s and %s", taskEnv, agentEnv)
	}
	return task, agent, nil
}

// newAgentCommand creates the agent command with subcommands.
func newAgentCommand(c *app.Container, g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Work with agent workspaces and status",
		Long: `Commands used by the orchestrator to run agents, and by agents to
report on their work.

An invoked agent has TASKFLOW_TASK and TASKFLOW_AGENT set, so inside an
agent 'taskflow agent report --status COMPLETE --decision APPROVED' is enough.`,
	}

	cmd.AddCommand(
		newAgentWorkspaceCommand(c),
		newAgentReportCommand(c),
		newAgentIntegrateCommand(c, g),
		newAgentInvokeCommand(c, g),
		newAgentPeekCommand(c),
		newAgentAttachCommand(c),
	)
	return cmd
}

func newAgentWorkspaceCommand(c *app.Container) *cobra.Command {
	var target agentTarget

	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Print an agent's workspace path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, agent, err := target.resolve()
			if err != nil {
				return err
			}
			out, err := c.AgentWorkspaceUseCase().Execute(cmd.Context(), usecase.AgentWorkspaceInput{
				Task:  task,
				Agent: agent,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Path)
			if !out.Exists {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Note: workspace for %s is not created yet (branch %s)\n", agent, out.Branch)
			}
			return nil
		},
	}
	target.bind(cmd)
	return cmd
}

func newAgentReportCommand(c *app.Container) *cobra.Command {
	var target agentTarget
	var opts struct {
		Status    string
		Decision  string
		Remaining string
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an agent's status record",
		Long: `Write the status record the orchestrator polls.

Status is one of WORKING, IN_PROGRESS, COMPLETE or ERROR.
Decision is one of APPROVED, REJECTED or PENDING.
A reviewer that rejects reports COMPLETE with the work remaining; the round
only counts an agent as done when work remaining is "none".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, agent, err := target.resolve()
			if err != nil {
				return err
			}
			out, err := c.ReportStatusUseCase().Execute(cmd.Context(), usecase.ReportStatusInput{
				Task:          task,
				Agent:         agent,
				Status:        opts.Status,
				Decision:      opts.Decision,
				WorkRemaining: opts.Remaining,
			})
			if err != nil {
				return err
			}
			st := out.Status
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s %s (%s)\n", task, agent, st.Status, st.Decision, st.Mode)
			return nil
		},
	}
	target.bind(cmd)
	cmd.Flags().StringVarP(&opts.Status, "status", "s", "", "Lifecycle status (required)")
	cmd.Flags().StringVarP(&opts.Decision, "decision", "d", "PENDING", "Decision")
	cmd.Flags().StringVarP(&opts.Remaining, "remaining", "r", "none", "Work remaining")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newAgentIntegrateCommand(c *app.Container, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "integrate <task> <agent>",
		Short: "Merge an agent's branch into the task branch",
		Long: `Commit the agent's workspace, merge its branch into the task branch and
fan the result out to the other agents.

Only possible in IMPLEMENTATION after the agent reported COMPLETE. A
conflict that cannot be resolved escalates with the merge aborted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.IntegrateAgentUseCase().Execute(cmd.Context(), usecase.IntegrateAgentInput{
				Task:  args[0],
				Owner: owner,
				Agent: args[1],
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Integrated %s into %s at %s\n", args[1], args[0], shortRef(out.IntegrationPoint))
			return nil
		},
	}
}

func newAgentInvokeCommand(c *app.Container, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <task> <agent>",
		Short: "Start an agent in its workspace",
		Long: `Start the configured command for an agent in the current round's mode.

The agent runs detached and reports through 'taskflow agent report'.
Its output goes to .git/taskflow/agents/<task>-<agent>.log, or to a tmux
session for agents configured with runner = "tmux".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.InvokeAgentUseCase().Execute(cmd.Context(), usecase.InvokeAgentInput{
				Task:  args[0],
				Owner: owner,
				Agent: args[1],
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Invoked %s (%s) in %s\n", out.Request.Agent, out.Request.Mode, out.Request.Workspace)
			return nil
		},
	}
}

func newAgentPeekCommand(c *app.Container) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "peek <task> <agent>",
		Short: "Show the last lines of an agent's session",
		Long: `Capture the screen of an agent running in a tmux session without attaching.

Only agents configured with runner = "tmux" have a session.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.PeekAgentUseCase().Execute(cmd.Context(), usecase.PeekAgentInput{
				Task:  args[0],
				Agent: args[1],
				Lines: lines,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Output)
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", usecase.DefaultPeekLines, "Number of lines to display")
	return cmd
}

func newAgentAttachCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <task> <agent>",
		Short: "Attach to an agent's session",
		Long: `Attach the terminal to an agent running in a tmux session.
Detach again with the tmux prefix key followed by d.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.AttachAgentUseCase().Execute(cmd.Context(), usecase.AttachAgentInput{
				Task:  args[0],
				Agent: args[1],
			})
		},
	}
}

func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
