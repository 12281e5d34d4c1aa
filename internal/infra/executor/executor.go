// Package executor runs the configured validation command in a workspace.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// maxDetails bounds how much command output is kept in a result.
const maxDetails = 4096

// Validator implements domain.Validator with a shell command.
type Validator struct {
	command string
	timeout time.Duration
}

// NewValidator creates a validator running command with sh -c.
// An empty command makes every validation fail.
func NewValidator(command string, timeout time.Duration) *Validator {
	return &Validator{command: strings.TrimSpace(command), timeout: timeout}
}

// Ensure Validator implements domain.Validator interface.
var _ domain.Validator = (*Validator)(nil)

// Validate builds and tests workspace. A failing command is a failed result, not an error;
// errors are reserved for commands that could not be started.
func (v *Validator) Validate(ctx context.Context, workspace string) (domain.ValidationResult, error) {
	if v.command == "" {
		return domain.ValidationResult{Details: domain.ErrNoValidateCommand.Error()}, nil
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	// #nosec G204 - command comes from the user's own configuration
	cmd := exec.CommandContext(ctx, "sh", "-c", v.command)
	cmd.Dir = workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	switch {
	case err == nil:
		return domain.ValidationResult{Passed: true, Details: tail(out.String())}, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ValidationResult{Details: fmt.Sprintf("timed out after %s\n%s", v.timeout, tail(out.String()))}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return domain.ValidationResult{Details: fmt.Sprintf("exit status %d\n%s", exitErr.ExitCode(), tail(out.String()))}, nil
	}
	return domain.ValidationResult{}, fmt.Errorf("run validate command: %w", err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetails {
		return s
	}
	return "..." + s[len(s)-maxDetails:]
}
