// Package round drives the implement, validate and review cycles among a task's agents.
package round

import (
	"context"
	"fmt"
	"strings"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/status"
)

// Workspaces is the part of the workspace manager the coordinator uses.
type Workspaces interface {
	CreateAgentWorkspace(ctx context.Context, task, agent string) (string, error)
	ValidateTask(ctx context.Context, task string) (domain.ValidationResult, error)
	TaskPath(task string) string
}

// Coordinator evaluates rounds and routes rejections.
// Fields are ordered to minimize memory padding.
type Coordinator struct {
	statuses   *status.Tracker
	workspaces Workspaces
	invoker    domain.AgentInvoker
	store      domain.Store
	clock      domain.Clock
	logger     domain.Logger
	auth       domain.Authorities
	factor     float64
}

// Config holds coordinator settings.
type Config struct {
	Authorities domain.Authorities
	ScopeFactor float64
}

// NewCoordinator creates a new Coordinator. invoker may be nil when agents are started externally.
func NewCoordinator(
	statuses *status.Tracker,
	workspaces Workspaces,
	invoker domain.AgentInvoker,
	store domain.Store,
	clock domain.Clock,
	logger domain.Logger,
	cfg Config,
) *Coordinator {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	factor := cfg.ScopeFactor
	if factor <= 0 {
		factor = domain.DefaultScopeFactor
	}
	return &Coordinator{
		statuses:   statuses,
		workspaces: workspaces,
		invoker:    invoker,
		store:      store,
		clock:      clock,
		logger:     logger,
		auth:       cfg.Authorities,
		factor:     factor,
	}
}

// StartRound prepares a round: every required agent gets its workspace and a fresh
// WORKING record, then is invoked. feedback is passed to implementation rounds that
// follow a rejection.
func (c *Coordinator) StartRound(ctx context.Context, rec *domain.TaskRecord, mode domain.Mode, feedback string) error {
	for _, agent := range rec.RequiredAgents {
		path, err := c.workspaces.CreateAgentWorkspace(ctx, rec.TaskName, agent)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", agent, err)
		}
		if err := c.statuses.Reset(ctx, rec.TaskName, agent, mode); err != nil {
			return fmt.Errorf("reset status of %s: %w", agent, err)
		}
		if c.invoker == nil {
			continue
		}
		if mode == domain.ModeReview {
			path = c.workspaces.TaskPath(rec.TaskName)
		}
		req := domain.InvokeRequest{Task: rec.TaskName, Agent: agent, Mode: mode, Workspace: path, Feedback: feedback}
		if err := c.invoker.Invoke(ctx, req); err != nil {
			return fmt.Errorf("invoke %s: %w", agent, err)
		}
	}
	c.logger.Info(rec.TaskName, "round", fmt.Sprintf("%s round started for %s", mode, strings.Join(rec.RequiredAgents, ", ")))
	return nil
}

// Result is a round evaluation together with the independent validation it used.
type Result struct {
	Validation domain.ValidationResult
	domain.RoundEvaluation
}

// Evaluate applies the round-completion predicate. Agent claims alone never complete a
// round; the task workspace is validated independently every time.
func (c *Coordinator) Evaluate(ctx context.Context, rec *domain.TaskRecord, mode domain.Mode) (Result, error) {
	records, err := c.statuses.List(ctx, rec.TaskName)
	if err != nil {
		return Result{}, err
	}
	validation, err := c.workspaces.ValidateTask(ctx, rec.TaskName)
	if err != nil {
		return Result{}, fmt.Errorf("validate task workspace: %w", err)
	}
	eval := domain.EvaluateRound(rec.RequiredAgents, records, mode, validation.Passed)
	return Result{RoundEvaluation: eval, Validation: validation}, nil
}

// RejectionDecision is the route chosen after a rejected review.
type RejectionDecision struct {
	Outcome   domain.RejectionOutcome
	Rejecting []string
	Estimate  domain.ScopeEstimate
}

// DecideRejection estimates the effort of resolving the rejections and picks another
// round or scope negotiation. It returns ErrNotRejecting when no required agent rejected.
func (c *Coordinator) DecideRejection(ctx context.Context, rec *domain.TaskRecord) (RejectionDecision, error) {
	records, err := c.statuses.List(ctx, rec.TaskName)
	if err != nil {
		return RejectionDecision{}, err
	}
	rejecting := domain.Rejections(rec.RequiredAgents, records)
	if len(rejecting) == 0 {
		return RejectionDecision{}, domain.ErrNotRejecting
	}
	texts := make([]string, 0, len(rejecting))
	for _, agent := range rejecting {
		texts = append(texts, records[agent].WorkRemaining)
	}
	est := domain.ScopeEstimate{
		ResolutionFiles: domain.ReferencedFiles(texts...),
		OriginalFiles:   len(rec.Files()),
		Factor:          c.factor,
	}
	d := RejectionDecision{Outcome: est.Outcome(), Rejecting: rejecting, Estimate: est}
	c.logger.Info(rec.TaskName, "round", fmt.Sprintf("rejected by %s: %d files to resolve vs %d original, %s",
		strings.Join(rejecting, ", "), len(est.ResolutionFiles), est.OriginalFiles, d.Outcome))
	return d, nil
}

// Feedback returns the remaining work of rejecting agents, one line per agent.
func (c *Coordinator) Feedback(ctx context.Context, rec *domain.TaskRecord) (string, error) {
	records, err := c.statuses.List(ctx, rec.TaskName)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, agent := range domain.Rejections(rec.RequiredAgents, records) {
		lines = append(lines, agent+": "+records[agent].WorkRemaining)
	}
	return strings.Join(lines, "\n"), nil
}

// ResolveConflict applies the authority rule to two conflicting positions.
func (c *Coordinator) ResolveConflict(a, b domain.Feedback) domain.Feedback {
	return domain.ResolveConflict(a, b, c.auth)
}
