// Package controller drives a task through the state machine.
//
// Every transition is checked against persisted evidence before anything is written.
// A rejected transition reports each unmet condition and leaves the Task Record, the
// lock token and every workspace exactly as they were.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/runoshun/git-taskflow/internal/approval"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// Options holds controller settings.
type Options struct {
	TierAgents         map[domain.RiskLevel][]string
	EscalationKeywords []string
	RepoRoot           string // working tree the base branch is checked out in
	Cwd                string // process working directory, guarded during teardown
}

// Controller owns Task Records and performs state transitions.
// Fields are ordered to minimize memory padding.
type Controller struct {
	store      domain.Store
	locks      *lock.Manager
	gate       *approval.Gate
	workspaces *workspace.Manager
	rounds     *round.Coordinator
	statuses   *status.Tracker
	vcs        domain.VersionControl
	classifier domain.Classifier
	clock      domain.Clock
	logger     domain.Logger
	metrics    domain.Metrics
	opts       Options
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Store      domain.Store
	Locks      *lock.Manager
	Gate       *approval.Gate
	Workspaces *workspace.Manager
	Rounds     *round.Coordinator
	Statuses   *status.Tracker
	VCS        domain.VersionControl
	Classifier domain.Classifier
	Clock      domain.Clock
	Logger     domain.Logger
	Metrics    domain.Metrics
}

// New creates a new Controller.
func New(deps Deps, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = domain.NopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = domain.NopMetrics{}
	}
	if opts.EscalationKeywords == nil {
		opts.EscalationKeywords = domain.DefaultEscalationKeywords
	}
	return &Controller{
		store:      deps.Store,
		locks:      deps.Locks,
		gate:       deps.Gate,
		workspaces: deps.Workspaces,
		rounds:     deps.Rounds,
		statuses:   deps.Statuses,
		vcs:        deps.VCS,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		opts:       opts,
	}
}

// Start acquires the lock for task, creates its record in INIT and its task workspace.
// If any step fails the lock is released again, so a failed start leaves nothing behind.
func (c *Controller) Start(ctx context.Context, task, owner, description, base string) (_ *domain.TaskRecord, err error) {
	if err := domain.ValidateName("task", task); err != nil {
		return nil, err
	}
	if base == "" {
		if base, err = c.vcs.CurrentBranch(); err != nil {
			return nil, fmt.Errorf("resolve base branch: %w", err)
		}
	}
	if _, err := c.locks.Acquire(ctx, task, owner); err != nil {
		return nil, err
	}
	recordCreated := false
	defer func() {
		if err == nil {
			return
		}
		if recordCreated {
			_ = c.store.Delete(domain.TaskKey(task))
		}
		if relErr := c.locks.Release(ctx, task, owner); relErr != nil {
			c.logger.Error(task, "lock", "rollback release failed: "+relErr.Error())
		}
	}()

	rec := domain.NewTaskRecord(task, owner, description, base, c.clock.Now())
	data, err := marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := c.store.Create(domain.TaskKey(task), data); err != nil {
		if errors.Is(err, domain.ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskExists, task)
		}
		return nil, fmt.Errorf("create task record: %w", err)
	}
	recordCreated = true

	if _, err := c.workspaces.CreateTaskWorkspace(ctx, task, owner, base); err != nil {
		return nil, err
	}
	c.logger.Info(task, "state", fmt.Sprintf("started by %s from %s", owner, base))
	return rec, nil
}

// Load reads a Task Record.
func (c *Controller) Load(_ context.Context, task string) (*domain.TaskRecord, error) {
	data, err := c.store.Get(domain.TaskKey(task))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, task)
	}
	if err != nil {
		return nil, fmt.Errorf("read task record: %w", err)
	}
	return unmarshal(data)
}

// List returns the names of all tasks with a record.
func (c *Controller) List(_ context.Context) ([]string, error) {
	keys, err := c.store.List("tasks/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, "tasks/"))
	}
	return names, nil
}

// Classify computes the risk classification from the changed files and the description,
// applies keyword escalation, and moves the task from INIT to CLASSIFIED.
func (c *Controller) Classify(ctx context.Context, task, owner string, files []string) (*domain.TaskRecord, error) {
	return c.transition(ctx, task, owner, domain.StateClassified, "classified", func(rec *domain.TaskRecord) error {
		cls := c.classifier.Classify(files, rec.Description())
		cls, keyword := domain.Escalate(cls, rec.Description(), c.opts.EscalationKeywords, c.opts.TierAgents)
		kind := domain.ChangeCode
		if m, ok := cls.(domain.MediumRisk); ok && m.Kind != "" {
			kind = m.Kind
		}
		rec.RiskLevel = cls.Level()
		rec.RequiredAgents = append([]string{}, cls.Agents()...)
		ev := domain.Evidence{}
		rec.Evidence[domain.StateClassified] = ev
		ev[domain.EvidenceFiles] = domain.JoinList(files)
		ev[domain.EvidenceChangeKind] = string(kind)
		if keyword != "" {
			ev[domain.EvidenceEscalation] = keyword
		}
		return nil
	})
}

// Advance moves the task to target. evidence is recorded for the current state before
// the preconditions of leaving it are evaluated.
func (c *Controller) Advance(ctx context.Context, task, owner string, target domain.State, evidence domain.Evidence, justification string) (*domain.TaskRecord, error) {
	return c.transition(ctx, task, owner, target, justification, func(rec *domain.TaskRecord) error {
		if len(evidence) == 0 {
			return nil
		}
		ev := rec.Evidence[rec.State]
		for k, v := range evidence {
			ev[k] = v
		}
		return nil
	})
}

// transition is the single path by which a record changes state.
func (c *Controller) transition(
	ctx context.Context,
	task, owner string,
	target domain.State,
	justification string,
	prepare func(rec *domain.TaskRecord) error,
) (*domain.TaskRecord, error) {
	rec, err := c.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := c.verifyOwner(ctx, rec, owner); err != nil {
		return nil, err
	}

	from := rec.State
	if !from.CanTransitionTo(target) {
		c.metrics.PreconditionFailed(target)
		return nil, &domain.PreconditionError{From: from, To: target, Missing: []string{
			fmt.Sprintf("no transition from %s to %s (allowed: %s)", from, target, joinStates(from.Next())),
		}}
	}

	next := rec.Clone()
	if next.Evidence[from] == nil {
		next.Evidence[from] = domain.Evidence{}
	}
	if prepare != nil {
		if err := prepare(next); err != nil {
			return nil, err
		}
	}

	plan, err := c.check(ctx, next, owner, target)
	if err != nil {
		return nil, err
	}
	if cp, gated := from.GatedBy(target); gated && !plan.approved {
		plan.missing = append(plan.missing, fmt.Sprintf("%s approval flag (present the content, then approve %s <digest>)", cp, cp))
	}
	if len(plan.missing) > 0 {
		c.metrics.PreconditionFailed(target)
		c.logger.Info(task, "state", fmt.Sprintf("%s -> %s refused: %s", from, target, strings.Join(plan.missing, "; ")))
		return nil, &domain.PreconditionError{From: from, To: target, Missing: plan.missing}
	}

	for k, v := range plan.evidence {
		next.Evidence[from][k] = v
	}
	if plan.before != nil {
		if err := plan.before(ctx, next); err != nil {
			return nil, err
		}
	}

	if justification == "" {
		justification = "preconditions met"
	}
	next.State = target
	next.TransitionLog = append(next.TransitionLog, domain.Transition{
		From:          from,
		To:            target,
		Timestamp:     c.clock.Now(),
		Justification: justification,
	})
	if err := c.commit(rec, next); err != nil {
		return nil, err
	}
	if err := c.locks.UpdateState(ctx, task, owner, target); err != nil {
		return next, fmt.Errorf("mirror state into lock: %w", err)
	}
	c.metrics.Transition(from, target)
	c.logger.Info(task, "state", fmt.Sprintf("%s -> %s: %s", from, target, justification))

	if plan.after != nil {
		if err := plan.after(ctx, next); err != nil {
			return next, fmt.Errorf("after %s: %w", target, err)
		}
	}
	return next, nil
}

// commit writes next if the stored record still matches prev.
func (c *Controller) commit(prev, next *domain.TaskRecord) error {
	data, err := marshal(next)
	if err != nil {
		return err
	}
	return c.store.Update(domain.TaskKey(next.TaskName), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, next.TaskName)
		}
		cur, err := unmarshal(old)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConsistencyViolation, err)
		}
		if cur.State != prev.State || len(cur.TransitionLog) != len(prev.TransitionLog) || cur.OwnerID != prev.OwnerID {
			return nil, fmt.Errorf("%w: record of %s changed concurrently", domain.ErrConsistencyViolation, next.TaskName)
		}
		return data, nil
	})
}

func (c *Controller) verifyOwner(ctx context.Context, rec *domain.TaskRecord, owner string) error {
	if _, err := c.locks.Verify(ctx, rec.TaskName, owner); err != nil {
		return err
	}
	if rec.OwnerID != owner {
		return &domain.OwnershipMismatchError{Task: rec.TaskName, Owner: rec.OwnerID, Caller: owner}
	}
	return nil
}

// Present stores checkpoint content for human inspection. PLAN-APPROVAL content can
// only be presented in SYNTHESIS and CHANGE-REVIEW content only in AWAITING_APPROVAL,
// where it is bound to the task branch's current integration point.
func (c *Controller) Present(ctx context.Context, task, owner string, cp domain.Checkpoint, content string) (*domain.Presentation, error) {
	rec, err := c.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := c.verifyOwner(ctx, rec, owner); err != nil {
		return nil, err
	}
	var changeRef string
	switch cp {
	case domain.CheckpointPlanApproval:
		if rec.State != domain.StateSynthesis {
			return nil, &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{"plan can only be presented in SYNTHESIS"}}
		}
	case domain.CheckpointChangeReview:
		if rec.State != domain.StateAwaitingApproval {
			return nil, &domain.PreconditionError{From: rec.State, To: rec.State, Missing: []string{"change can only be presented in AWAITING_APPROVAL"}}
		}
		if changeRef, err = c.vcs.CurrentIntegrationPoint(domain.TaskBranch(task)); err != nil {
			return nil, fmt.Errorf("read integration point: %w", err)
		}
	default:
		return nil, domain.ErrInvalidCheckpoint
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("presentation content is empty")
	}
	return c.gate.Present(ctx, task, cp, content, changeRef)
}

// Approve records a human confirmation for cp. Only an explicit, content-specific
// confirmation creates a flag.
func (c *Controller) Approve(ctx context.Context, task, owner string, cp domain.Checkpoint, conf domain.Confirmation) (*domain.ApprovalFlag, error) {
	rec, err := c.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := c.verifyOwner(ctx, rec, owner); err != nil {
		return nil, err
	}
	return c.gate.RecordApproval(ctx, task, cp, conf)
}

// Abandon tears a task down without completing it. note, when set, is kept as a
// follow-up. With preserve the branches survive so the work can be picked up later.
func (c *Controller) Abandon(ctx context.Context, task, owner string, preserve bool, note string) error {
	rec, err := c.Load(ctx, task)
	if err != nil {
		return err
	}
	if err := c.verifyOwner(ctx, rec, owner); err != nil {
		return err
	}
	if note != "" {
		if _, err := c.rounds.NewFollowUp(ctx, task, "", note); err != nil {
			return err
		}
	}
	if err := c.purge(ctx, task, owner, preserve); err != nil {
		return err
	}
	c.logger.Info(task, "state", fmt.Sprintf("abandoned in %s (preserve=%v)", rec.State, preserve))
	return nil
}

// purge deletes every resource of task and finally its lock.
func (c *Controller) purge(ctx context.Context, task, owner string, keepBranches bool) error {
	if err := c.workspaces.Teardown(ctx, task, c.opts.Cwd, keepBranches); err != nil {
		return err
	}
	if err := c.statuses.DeleteAll(ctx, task); err != nil {
		return err
	}
	if err := c.rounds.ClearNegotiation(ctx, task); err != nil {
		return err
	}
	if err := c.gate.Purge(ctx, task); err != nil {
		return err
	}
	if err := c.store.Delete(domain.TaskKey(task)); err != nil {
		return fmt.Errorf("delete task record: %w", err)
	}
	return c.locks.Release(ctx, task, owner)
}

// FinishCleanup completes a CLEANUP that was interrupted after the state was recorded.
func (c *Controller) FinishCleanup(ctx context.Context, task, owner string) error {
	rec, err := c.Load(ctx, task)
	if err != nil {
		return err
	}
	if rec.State != domain.StateCleanup {
		return &domain.PreconditionError{From: rec.State, To: domain.StateCleanup, Missing: []string{"task is not in CLEANUP"}}
	}
	if err := c.verifyOwner(ctx, rec, owner); err != nil {
		return err
	}
	return c.purge(ctx, task, owner, false)
}

func marshal(rec *domain.TaskRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal task record: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse task record: %w", err)
	}
	if rec.TaskName == "" || !rec.State.IsValid() {
		return nil, fmt.Errorf("parse task record: invalid name or state %q", rec.State)
	}
	if rec.Evidence == nil {
		rec.Evidence = map[domain.State]domain.Evidence{}
	}
	return &rec, nil
}

func joinStates(states []domain.State) string {
	if len(states) == 0 {
		return "none"
	}
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
