package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Action is one repair that was carried out.
type Action struct {
	Task   string `json:"task"`
	Issue  Issue  `json:"issue"`
	Agent  string `json:"agent,omitempty"`
	Detail string `json:"detail"`
}

// Result is the outcome of a recovery run.
type Result struct {
	Reports     []Report                  `json:"reports"`
	Actions     []Action                  `json:"actions"`
	Escalations []domain.EscalationReport `json:"escalations"`
}

// Err returns an EscalationError for the first escalation, or nil.
func (r *Result) Err() error {
	if len(r.Escalations) == 0 {
		return nil
	}
	return &domain.EscalationError{Report: r.Escalations[0]}
}

// fatal issues are never repaired automatically.
var fatal = []Issue{
	IssueLockUnreadable,
	IssueLockMissing,
	IssueOwnerMismatch,
	IssueRecordMissing,
	IssueRecordMalformed,
	IssueLogMismatch,
}

// Recover repairs what Detect finds for owner. Problems that would require guessing the
// intended state are escalated instead. Running it on a consistent task does nothing.
func (s *Subsystem) Recover(ctx context.Context, owner string) (*Result, error) {
	reports, err := s.Detect(ctx, owner)
	if err != nil {
		return nil, err
	}
	res := &Result{Reports: reports}
	for _, r := range reports {
		if r.Consistent() {
			continue
		}
		if err := s.repair(ctx, owner, r, res); err != nil {
			return res, fmt.Errorf("recover %s: %w", r.Task, err)
		}
	}
	return res, nil
}

func (s *Subsystem) repair(ctx context.Context, owner string, r Report, res *Result) error {
	for _, issue := range fatal {
		if r.Has(issue) {
			s.escalate(res, r, nil, fatalOptions(r))
			return nil
		}
	}
	if r.Has(IssueCleanupPending) {
		if err := s.ctrl.FinishCleanup(ctx, r.Task, owner); err != nil {
			return err
		}
		s.record(res, Action{Task: r.Task, Issue: IssueCleanupPending, Detail: "finished cleanup"})
		return nil
	}

	rec, err := s.ctrl.Load(ctx, r.Task)
	if err != nil {
		return err
	}
	var attempted []string
	for _, f := range r.Findings {
		switch f.Issue {
		case IssueLockStateStale:
			if err := s.locks.UpdateState(ctx, r.Task, owner, rec.State); err != nil {
				return err
			}
			s.record(res, Action{Task: r.Task, Issue: f.Issue, Detail: "lock state set to " + string(rec.State)})

		case IssueTaskWorkspaceMissing, IssueAgentWorkspaceMissing:
			path, err := s.workspaces.Restore(ctx, r.Task, f.Agent)
			if errors.Is(err, domain.ErrHistoryRefMissing) {
				attempted = append(attempted, "restore workspace: "+err.Error())
				s.escalate(res, r, attempted, []string{
					"recreate the branch from a known commit, then run resume",
					"abandon the task (taskflow abandon " + r.Task + ")",
				})
				return nil
			}
			if err != nil {
				return err
			}
			s.record(res, Action{Task: r.Task, Issue: f.Issue, Agent: f.Agent, Detail: "restored " + path})

		case IssueAgentStale, IssueAgentFailed:
			if err := s.reinvoke(ctx, rec, f, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// reinvoke restarts an agent of the open round, or escalates once its retries are used up.
func (s *Subsystem) reinvoke(ctx context.Context, rec *domain.TaskRecord, f Finding, res *Result) error {
	mode, _ := roundMode(rec.State)
	r := Report{Task: rec.TaskName, State: rec.State, Findings: []Finding{f}}

	// An unreadable record counts as a first attempt.
	st, _ := s.statuses.Get(ctx, rec.TaskName, f.Agent)
	if st != nil && st.RetryCount >= s.maxRetries {
		s.escalate(res, r, []string{fmt.Sprintf("re-invoked %s %d times", f.Agent, st.RetryCount)}, []string{
			"inspect the agent workspace and finish the work by hand",
			"fix the agent configuration and reset its retry count",
			"abandon the task (taskflow abandon " + rec.TaskName + ")",
		})
		return nil
	}
	if s.invoker == nil {
		s.escalate(res, r, nil, []string{"start " + f.Agent + " manually", "configure [agents." + f.Agent + "] command"})
		return nil
	}

	count, err := s.statuses.Reconcile(ctx, rec.TaskName, f.Agent, mode)
	if err != nil {
		return err
	}
	path := s.workspaces.AgentPath(rec.TaskName, f.Agent)
	if mode == domain.ModeReview {
		path = s.workspaces.TaskPath(rec.TaskName)
	}
	req := domain.InvokeRequest{Task: rec.TaskName, Agent: f.Agent, Mode: mode, Workspace: path}
	if err := s.invoker.Invoke(ctx, req); err != nil {
		return fmt.Errorf("invoke %s: %w", f.Agent, err)
	}
	s.record(res, Action{Task: rec.TaskName, Issue: f.Issue, Agent: f.Agent,
		Detail: fmt.Sprintf("re-invoked (attempt %d of %d)", count, s.maxRetries)})
	return nil
}

func (s *Subsystem) record(res *Result, a Action) {
	res.Actions = append(res.Actions, a)
	s.metrics.Recovery(string(a.Issue))
	s.logger.Info(a.Task, "recovery", fmt.Sprintf("%s: %s", a.Issue, a.Detail))
}

func (s *Subsystem) escalate(res *Result, r Report, attempted, options []string) {
	details := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		details = append(details, f.Detail)
	}
	report := domain.EscalationReport{
		Task:      r.Task,
		Issue:     strings.Join(details, "; "),
		State:     r.State,
		Attempted: attempted,
		Options:   options,
	}
	res.Escalations = append(res.Escalations, report)
	s.metrics.Escalation()
	s.logger.Warn(r.Task, "recovery", "escalated: "+report.Issue)
}

func fatalOptions(r Report) []string {
	switch {
	case r.Has(IssueRecordMissing), r.Has(IssueRecordMalformed):
		return []string{
			"restore the task record from a backup of the store",
			"delete the lock and workspaces by hand and start the task again",
		}
	case r.Has(IssueLogMismatch):
		return []string{
			"inspect the transition log and correct the state field by hand",
			"abandon the task (taskflow abandon " + r.Task + ")",
		}
	case r.Has(IssueLockMissing):
		return []string{
			"re-acquire the task by hand after confirming no other session works on it",
			"delete the task record and start over",
		}
	default:
		return []string{
			"confirm which session owns the task and resume from that session",
			"remove the lock file by hand once no session works on the task",
		}
	}
}
