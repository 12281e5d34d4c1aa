// Package recovery reconciles persisted task state with the physical resources it implies.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// Issue identifies one failed detection check.
type Issue string

// Detection checks.
const (
	IssueLockUnreadable        Issue = "lock_unreadable"
	IssueLockMissing           Issue = "lock_missing"
	IssueOwnerMismatch         Issue = "owner_mismatch"
	IssueRecordMissing         Issue = "record_missing"
	IssueRecordMalformed       Issue = "record_malformed"
	IssueTaskWorkspaceMissing  Issue = "task_workspace_missing"
	IssueAgentWorkspaceMissing Issue = "agent_workspace_missing"
	IssueLogMismatch           Issue = "log_mismatch"
	IssueLockStateStale        Issue = "lock_state_stale"
	IssueAgentStale            Issue = "agent_stale"
	IssueAgentFailed           Issue = "agent_failed"
	IssueCleanupPending        Issue = "cleanup_pending"
)

// Finding is one failed check.
type Finding struct {
	Issue  Issue  `json:"issue"`
	Agent  string `json:"agent,omitempty"`
	Detail string `json:"detail"`
}

// Report holds every finding for one task. State is empty when the record is unreadable.
type Report struct {
	Task     string       `json:"task"`
	State    domain.State `json:"state,omitempty"`
	Findings []Finding    `json:"findings"`
}

// Consistent reports whether every check passed.
func (r Report) Consistent() bool {
	return len(r.Findings) == 0
}

// Has reports whether the report contains issue.
func (r Report) Has(issue Issue) bool {
	for _, f := range r.Findings {
		if f.Issue == issue {
			return true
		}
	}
	return false
}

func (r *Report) add(issue Issue, agent, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Issue: issue, Agent: agent, Detail: fmt.Sprintf(format, args...)})
}

// Config holds recovery settings.
type Config struct {
	StaleAfter time.Duration
	MaxRetries int
}

// Subsystem detects and repairs inconsistencies for one session identity.
// Fields are ordered to minimize memory padding.
type Subsystem struct {
	ctrl       *controller.Controller
	locks      *lock.Manager
	workspaces *workspace.Manager
	statuses   *status.Tracker
	poller     *round.Poller
	invoker    domain.AgentInvoker
	logger     domain.Logger
	metrics    domain.Metrics
	maxRetries int
}

// Deps bundles the subsystem's collaborators.
type Deps struct {
	Controller *controller.Controller
	Locks      *lock.Manager
	Workspaces *workspace.Manager
	Statuses   *status.Tracker
	Invoker    domain.AgentInvoker
	Clock      domain.Clock
	Logger     domain.Logger
	Metrics    domain.Metrics
}

// New creates a new Subsystem. Invoker may be nil, in which case stale agents are escalated.
func New(deps Deps, cfg Config) *Subsystem {
	if deps.Logger == nil {
		deps.Logger = domain.NopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = domain.NopMetrics{}
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = domain.DefaultStaleAfter
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}
	return &Subsystem{
		ctrl:       deps.Controller,
		locks:      deps.Locks,
		workspaces: deps.Workspaces,
		statuses:   deps.Statuses,
		poller:     round.NewPoller(deps.Statuses, deps.Clock, cfg.StaleAfter, 0, 0),
		invoker:    deps.Invoker,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		maxRetries: cfg.MaxRetries,
	}
}

// Detect inspects every task owned by owner, plus tasks whose lock cannot be parsed.
// Each check is evaluated even when an earlier one failed.
func (s *Subsystem) Detect(ctx context.Context, owner string) ([]Report, error) {
	if owner == "" {
		return nil, domain.ErrNoSession
	}
	entries, err := s.locks.List(ctx)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]bool, len(entries))
	var reports []Report
	for _, e := range entries {
		locked[e.Task] = true
		if e.Err == nil && e.Token.OwnerID != owner {
			continue
		}
		reports = append(reports, s.inspect(ctx, e.Task, owner, e.Token, e.Err))
	}

	// Records owned by owner whose lock has vanished.
	names, err := s.ctrl.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if locked[name] {
			continue
		}
		rec, err := s.ctrl.Load(ctx, name)
		if err != nil || rec.OwnerID != owner {
			continue
		}
		reports = append(reports, s.inspect(ctx, name, owner, nil, nil))
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Task < reports[j].Task })
	return reports, nil
}

// DetectTask inspects a single task.
func (s *Subsystem) DetectTask(ctx context.Context, task, owner string) Report {
	token, err := s.locks.Get(ctx, task)
	if errors.Is(err, domain.ErrLockNotFound) {
		token, err = nil, nil
	}
	return s.inspect(ctx, task, owner, token, err)
}

func (s *Subsystem) inspect(ctx context.Context, task, owner string, token *domain.LockToken, tokenErr error) Report {
	r := Report{Task: task}
	switch {
	case tokenErr != nil:
		r.add(IssueLockUnreadable, "", "lock token cannot be parsed: %v", tokenErr)
	case token == nil:
		r.add(IssueLockMissing, "", "no lock token exists")
	case token.OwnerID != owner:
		r.add(IssueOwnerMismatch, "", "lock is held by %s", token.OwnerID)
	}

	rec, err := s.ctrl.Load(ctx, task)
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		r.add(IssueRecordMissing, "", "task record does not exist")
	case err != nil:
		r.add(IssueRecordMalformed, "", "%v", err)
	}
	if rec == nil {
		if ok, _ := s.workspaces.Exists(ctx, task, ""); !ok {
			r.add(IssueTaskWorkspaceMissing, "", "task workspace does not exist")
		}
		return r
	}
	r.State = rec.State

	if rec.OwnerID != owner {
		r.add(IssueOwnerMismatch, "", "record is owned by %s", rec.OwnerID)
	}
	if !rec.LogConsistent() {
		last, _ := rec.LastTransition()
		r.add(IssueLogMismatch, "", "state is %s but the transition log ends in %q", rec.State, last.To)
	}
	if token != nil && token.State != rec.State {
		r.add(IssueLockStateStale, "", "lock records %s, task record %s", token.State, rec.State)
	}

	if rec.State == domain.StateCleanup {
		r.add(IssueCleanupPending, "", "cleanup was interrupted")
		return r
	}
	if ok, err := s.workspaces.Exists(ctx, task, ""); err != nil || !ok {
		r.add(IssueTaskWorkspaceMissing, "", "task workspace does not exist")
	}
	if rec.State.UsesAgentWorkspaces() {
		for _, agent := range rec.RequiredAgents {
			if ok, err := s.workspaces.Exists(ctx, task, agent); err != nil || !ok {
				r.add(IssueAgentWorkspaceMissing, agent, "workspace of %s does not exist", agent)
			}
		}
	}
	s.inspectAgents(ctx, rec, &r)
	return r
}

// inspectAgents flags agents of an open round that went stale or reported ERROR.
func (s *Subsystem) inspectAgents(ctx context.Context, rec *domain.TaskRecord, r *Report) {
	mode, ok := roundMode(rec.State)
	if !ok {
		return
	}
	since := time.Time{}
	if last, ok := rec.LastTransition(); ok {
		since = last.Timestamp
	}
	res, err := s.poller.Poll(ctx, rec.TaskName, rec.RequiredAgents, since)
	if err != nil {
		return
	}
	for _, agent := range res.Stale {
		r.add(IssueAgentStale, agent, "%s has not updated its status within the staleness window", agent)
	}
	for _, agent := range res.Complete {
		st := res.Records[agent]
		if st.Mode == mode && st.Status == domain.LifecycleError {
			r.add(IssueAgentFailed, agent, "%s reported ERROR: %s", agent, st.WorkRemaining)
		}
	}
}

// roundMode returns the mode of the round that is open in state.
func roundMode(state domain.State) (domain.Mode, bool) {
	switch state {
	case domain.StateImplementation:
		return domain.ModeImplementation, true
	case domain.StateReview:
		return domain.ModeReview, true
	default:
		return "", false
	}
}
