package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

// newResumeCommand creates the resume command.
func newResumeCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Check and repair the tasks held by this session",
		Long: `Rebuild every task this session holds from its persisted state and check
that the lock, record, workspaces and agent status records agree.

Safe repairs (a missing agent workspace, an errored agent under its retry
limit) are made. Anything else is escalated with the options available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.ResumeUseCase().Execute(cmd.Context(), usecase.ResumeInput{Owner: owner})
			if out != nil {
				if jsonOutput {
					if jerr := writeJSON(cmd.OutOrStdout(), out.Result); jerr != nil {
						return jerr
					}
				} else {
					printRecovery(cmd.OutOrStdout(), out)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// newInterruptCommand creates the interrupt command.
func newInterruptCommand(c *app.Container, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <task> -- <message>",
		Short: "Deliver a human message to a waiting task",
		Long: `Interpret a message that arrived while a task was suspended.

Only an explicit approval quoting the checkpoint and digest, or "resume",
has an effect. Anything else, including "looks good", leaves the task
where it is and reports what it is waiting for.

Examples:
  taskflow interrupt fetch-retry -- approve PLAN-APPROVAL 3f9a1c0d
  taskflow interrupt fetch-retry -- resume`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.InterruptUseCase().Execute(cmd.Context(), usecase.InterruptInput{
				Task:  args[0],
				Owner: owner,
				Text:  strings.Join(args[1:], " "),
			})
			if out == nil {
				return err
			}
			w := cmd.OutOrStdout()
			it := out.Interruption
			switch it.Kind {
			case domain.InteractionApproval:
				if it.Flag != nil {
					_, _ = fmt.Fprintf(w, "%s %s for %s\n", styles.Success.Render("Approved"), it.Flag.Checkpoint, args[0])
				}
			case domain.InteractionResume:
				printRecovery(w, &usecase.ResumeOutput{Result: it.Recovery})
			default:
				var waiting *domain.AwaitingApprovalError
				if errors.As(err, &waiting) {
					_, _ = fmt.Fprintf(w, "%s is still in %s. Approve explicitly:\n  taskflow approve %s %s <digest>\n",
						args[0], it.State, args[0], waiting.Checkpoint)
				} else {
					_, _ = fmt.Fprintf(w, "Message not understood; %s stays in %s.\n", args[0], it.State)
				}
			}
			return err
		},
	}
}
