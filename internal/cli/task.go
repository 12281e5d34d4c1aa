package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

// newStartCommand creates the start command.
func newStartCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var opts struct {
		Description string
		Base        string
	}

	cmd := &cobra.Command{
		Use:   "start <task>",
		Short: "Lock a task and create its workspace",
		Long: `Acquire the lock on a task, create its record in INIT and its
integration workspace on branch taskflow/<task>/main.

Starting a task held by another session fails with LOCK_CONFLICT.

Examples:
  taskflow start fetch-retry -d "add retry with backoff to the fetcher"
  taskflow start fetch-retry -d "..." --base develop`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.StartTaskUseCase().Execute(cmd.Context(), usecase.StartTaskInput{
				Task:        args[0],
				Owner:       owner,
				Description: opts.Description,
				Base:        opts.Base,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started %s from %s\nWorkspace: %s\n",
				out.Task.TaskName, out.Task.BaseBranch(), out.Workspace)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "Task description (required)")
	cmd.Flags().StringVar(&opts.Base, "base", "", "Base branch (default: config base_branch, then current branch)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

// newClassifyCommand creates the classify command.
func newClassifyCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "classify <task> --files <path>...",
		Short: "Compute the risk tier and required agents",
		Long: `Classify the change a task will make and move it to CLASSIFIED.

The tier comes from the changed files ([classifier] patterns). Keywords in
the task description ([risk] escalation_keywords) raise it by one level.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.ClassifyTaskUseCase().Execute(cmd.Context(), usecase.ClassifyTaskInput{
				Task:  args[0],
				Owner: owner,
				Files: files,
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Risk: %s\n", out.Classification.Level())
			if out.EscalatedBy != "" {
				_, _ = fmt.Fprintf(w, "%s raised by keyword %q\n", styles.Warning.Render("Escalated:"), out.EscalatedBy)
			}
			_, _ = fmt.Fprintf(w, "Agents: %s\n", strings.Join(out.Task.RequiredAgents, ", "))
			if out.Classification.SkipsImplementation() {
				_, _ = fmt.Fprintln(w, styles.Muted.Render("Implementation, validation and review are skipped for this tier."))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "files", "f", nil, "Changed files (repeatable or comma-separated)")
	_ = cmd.MarkFlagRequired("files")
	return cmd
}

// newAdvanceCommand creates the advance command.
func newAdvanceCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var opts struct {
		Justification string
		Evidence      []string
	}

	cmd := &cobra.Command{
		Use:   "advance <task> <state>",
		Short: "Move a task to its next state",
		Long: `Request a transition. Evidence given with --evidence is recorded for the
current state before its exit conditions are checked.

A refused transition lists every unmet condition and changes nothing.

Examples:
  taskflow advance fetch-retry REQUIREMENTS
  taskflow advance fetch-retry SYNTHESIS -e report.engineer=req/engineer.md -e report.tester=req/tester.md
  taskflow advance fetch-retry IMPLEMENTATION -e plan=plan.md`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.AdvanceTaskUseCase().Execute(cmd.Context(), usecase.AdvanceTaskInput{
				Task:          args[0],
				Owner:         owner,
				Target:        args[1],
				Justification: opts.Justification,
				Evidence:      opts.Evidence,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", out.Task.TaskName, out.From,
				styles.StateStyle(out.Task.State).Render(string(out.Task.State)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Justification, "justification", "j", "", "Reason recorded in the transition log")
	cmd.Flags().StringArrayVarP(&opts.Evidence, "evidence", "e", nil, "Evidence as key=value (repeatable)")
	return cmd
}

// newPresentCommand creates the present command.
func newPresentCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "present <task> <checkpoint>",
		Short: "Present content for human approval",
		Long: `Store the content a human is asked to approve and print its digest.

PLAN-APPROVAL is presented in SYNTHESIS; CHANGE-REVIEW in AWAITING_APPROVAL.
The approval must quote the digest, so the human approves exactly what was shown.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			var content []byte
			if file == "" || file == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			out, err := c.PresentCheckpointUseCase().Execute(cmd.Context(), usecase.PresentCheckpointInput{
				Task:       args[0],
				Owner:      owner,
				Checkpoint: args[1],
				Content:    string(content),
			})
			if err != nil {
				return err
			}
			p := out.Presentation
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w, styles.Title.Render(string(p.Checkpoint)))
			_, _ = fmt.Fprintln(w, p.Content)
			if p.ChangeRef != "" {
				_, _ = fmt.Fprintf(w, "Change: %s\n", p.ChangeRef)
			}
			_, _ = fmt.Fprintf(w, "Digest: %s\n\nTo approve:\n  taskflow approve %s %s %s\n",
				p.Digest, args[0], p.Checkpoint, p.Digest[:12])
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the content (default: stdin)")
	return cmd
}

// newApproveCommand creates the approve command.
func newApproveCommand(c *app.Container, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task> <checkpoint> <digest>",
		Short: "Record an explicit human approval",
		Long: `Record the approval of presented content.

The digest (or a prefix of at least 8 hex digits) must match the content
presented last. A CHANGE-REVIEW approval is bound to the current
integration point and lapses when the task branch moves.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			out, err := c.ApproveCheckpointUseCase().Execute(cmd.Context(), usecase.ApproveCheckpointInput{
				Task:       args[0],
				Owner:      owner,
				Checkpoint: args[1],
				Digest:     args[2],
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s\n",
				styles.Success.Render("Approved"), out.Flag.Checkpoint, args[0])
			return nil
		},
	}
}

// newShowCommand creates the show command.
func newShowCommand(c *app.Container) *cobra.Command {
	var opts struct {
		LogLines int
		JSON     bool
	}

	cmd := &cobra.Command{
		Use:   "show <task>",
		Short: "Show a task's record, agents and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ShowTaskUseCase().Execute(cmd.Context(), usecase.ShowTaskInput{
				Task:     args[0],
				LogLines: opts.LogLines,
			})
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printTaskDetails(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")
	cmd.Flags().IntVarP(&opts.LogLines, "log", "n", 10, "Number of task log entries to include")
	return cmd
}

// newListCommand creates the list command.
func newListCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.ListTasksUseCase().Execute(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out.Tasks) == 0 && len(out.Unreadable) == 0 {
				_, _ = fmt.Fprintln(w, "No tasks.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TASK\tSTATE\tRISK\tOWNER\tDESCRIPTION")
			for _, t := range out.Tasks {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.TaskName,
					styles.StateStyle(t.State).Render(string(t.State)), t.RiskLevel, t.OwnerID, t.Description())
			}
			for _, name := range sortedKeys(out.Unreadable) {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t\t\t%v\n", name, styles.Error.Render("UNREADABLE"), out.Unreadable[name])
			}
			return tw.Flush()
		},
	}
}

// newAbandonCommand creates the abandon command.
func newAbandonCommand(c *app.Container, g *globalOptions) *cobra.Command {
	var opts struct {
		Note     string
		Preserve bool
	}

	cmd := &cobra.Command{
		Use:   "abandon <task>",
		Short: "Tear a task down without merging",
		Long: `Remove a task's workspaces and record and release its lock.
Nothing is merged. With --preserve the task and agent branches are kept;
with --note the reason is kept as a follow-up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := g.requireSession()
			if err != nil {
				return err
			}
			err = c.AbandonTaskUseCase().Execute(cmd.Context(), usecase.AbandonTaskInput{
				Task:     args[0],
				Owner:    owner,
				Note:     opts.Note,
				Preserve: opts.Preserve,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Note, "note", "", "Reason, kept as a follow-up")
	cmd.Flags().BoolVar(&opts.Preserve, "preserve", false, "Keep the task and agent branches")
	return cmd
}
