package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

// newRoundCommand creates the round command with subcommands.
func newRoundCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Observe and route the current agent round",
	}

	cmd.AddCommand(
		newRoundStatusCommand(c),
		newRoundWaitCommand(c),
		newRoundDecideCommand(c),
	)
	return cmd
}

func newRoundStatusCommand(c *app.Container) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <task>",
		Short: "Poll every required agent once",
		Long: `Show each required agent as complete, pending or stale.

An agent is stale when its status record has not changed for longer than
[round] stale_after.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.RoundStatusUseCase().Execute(cmd.Context(), usecase.RoundStatusInput{Task: args[0]})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printPoll(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func newRoundWaitCommand(c *app.Container) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <task>",
		Short: "Block until the round settles",
		Long: `Wait until every required agent is COMPLETE or ERROR, or one goes stale.

Status changes are picked up as they are written; polling backs off from
[round] poll_interval up to max_poll_interval in between.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.RoundStatusUseCase().Execute(cmd.Context(), usecase.RoundStatusInput{
				Task:    args[0],
				Wait:    true,
				Timeout: timeout,
			})
			if out != nil {
				printPoll(cmd.OutOrStdout(), out)
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
	return cmd
}

func newRoundDecideCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <task>",
		Short: "Show how a rejected review will be routed",
		Long: `Estimate the effort of resolving the rejections of a REVIEW round.

If the files the rejections reference exceed the original scope by the
configured factor the task goes to SCOPE_NEGOTIATION, otherwise back to
IMPLEMENTATION. Nothing is changed; advance the task to the printed state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.DecideRejectionUseCase().Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRejection(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

// newNegotiateCommand creates the negotiate command with subcommands.
func newNegotiateCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "Classify objections during scope negotiation",
	}

	cmd.AddCommand(
		newNegotiateClassifyCommand(c),
		newNegotiateResolveCommand(c),
	)
	return cmd
}

func newNegotiateClassifyCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Agent      string
		Blocking   []string
		Deferrable []string
	}

	cmd := &cobra.Command{
		Use:   "classify <task>",
		Short: "Record an agent's objections as blocking or deferrable",
		Long: `Record the objections of a rejecting agent.

A blocking objection must be resolved before the change can be approved.
A deferrable one becomes a follow-up. An objection once classified as
blocking stays blocking.

Example:
  taskflow negotiate classify fetch-retry -a security \
    --blocking "token logged in plaintext" \
    --deferrable "rotate the retry key"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Agent == "" {
				return errors.New("--agent is required")
			}
			out, err := c.ClassifyObjectionsUseCase().Execute(cmd.Context(), usecase.ClassifyObjectionsInput{
				Task:       args[0],
				Agent:      opts.Agent,
				Blocking:   opts.Blocking,
				Deferrable: opts.Deferrable,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d blocking, %d deferrable\n",
				opts.Agent, len(out.Set.Blocking()), len(out.Set.Objections)-len(out.Set.Blocking()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Agent, "agent", "a", "", "Rejecting agent")
	cmd.Flags().StringArrayVarP(&opts.Blocking, "blocking", "b", nil, "Blocking objection (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Deferrable, "deferrable", "d", nil, "Deferrable objection (repeatable)")
	return cmd
}

func newNegotiateResolveCommand(c *app.Container) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resolve <task>",
		Short: "Summarize the negotiation and the state to advance to",
		Long: `Summarize every rejecting agent's objections.

While anything blocks, the task returns to SYNTHESIS for a revised plan.
Otherwise it proceeds to AWAITING_APPROVAL. Either way deferrable objections
are recorded as follow-ups when the task advances.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ResolveNegotiationUseCase().Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printNegotiation(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
