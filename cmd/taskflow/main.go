// Package main is the entry point for the git-taskflow CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/runoshun/git-taskflow/internal/app"
	"github.com/runoshun/git-taskflow/internal/cli"
	"github.com/runoshun/git-taskflow/internal/domain"
)

// version is set at build time using -ldflags.
var version = "dev"

// newRootCommand is replaced in tests.
var newRootCommand = cli.NewRootCommand

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(domain.ResultCodeOf(err).ExitCode())
	}
}

func run(ctx context.Context) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	container, err := app.New(cwd)
	if err != nil {
		// Allow help, version and session commands outside a repository
		if errors.Is(err, domain.ErrNotGitRepository) {
			return runWithoutContainer(ctx, err)
		}
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if cerr := container.Close(); cerr != nil {
			container.Stderr.Warn("close", "error", cerr)
		}
	}()

	return execute(ctx, newRootCommand(container, version))
}

// runWithoutContainer handles cases where git repo is not found.
func runWithoutContainer(ctx context.Context, gitErr error) error {
	if canRunWithoutGit(os.Args[1:]) {
		return execute(ctx, newRootCommand(nil, version))
	}
	return gitErr
}

func execute(ctx context.Context, root *cobra.Command) error {
	return root.ExecuteContext(ctx)
}

func canRunWithoutGit(args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "help", "session", "completion":
		return true
	}
	for _, arg := range args {
		if arg == "--version" || arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
