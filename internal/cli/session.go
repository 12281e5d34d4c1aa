package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

// newSessionCommand creates the session command group.
func newSessionCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage session identities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Print a new session identity",
		Long: `Print a new random session identity.

A session identity owns the tasks it starts. Every mutating command
needs it, through --session or $TASKFLOW_SESSION.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := &usecase.NewSession{}
			if c != nil {
				uc = c.NewSessionUseCase()
			}
			out, err := uc.Execute(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return nil
		},
	})
	return cmd
}
