package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// transitionPlan is the outcome of checking one transition.
// evidence is recorded for the state being left; before runs after every check has
// passed and before the record is written; after runs once the new state is persisted.
type transitionPlan struct {
	evidence domain.Evidence
	before   func(ctx context.Context, next *domain.TaskRecord) error
	after    func(ctx context.Context, next *domain.TaskRecord) error
	missing  []string
	approved bool
}

func (p *transitionPlan) require(ok bool, format string, args ...any) {
	if !ok {
		p.missing = append(p.missing, fmt.Sprintf(format, args...))
	}
}

// check evaluates the preconditions of moving rec to target without side effects.
func (c *Controller) check(ctx context.Context, rec *domain.TaskRecord, owner string, target domain.State) (*transitionPlan, error) {
	p := &transitionPlan{evidence: domain.Evidence{}}
	from := rec.State
	var err error

	switch {
	case target == domain.StateClassified:
		p.require(rec.RiskLevel != "", "classification result supplied (run classify with the changed files)")

	case target == domain.StateRequirements:
		_, levelErr := domain.ParseRiskLevel(string(rec.RiskLevel))
		p.require(levelErr == nil, "risk level recorded")
		p.require(len(rec.RequiredAgents) > 0, "required agent set recorded")

	case from == domain.StateRequirements && target == domain.StateSynthesis:
		for _, agent := range rec.RequiredAgents {
			p.require(rec.Get(domain.StateRequirements, domain.EvidenceReportPrefix+agent) != "",
				"requirements report from %s (evidence %s%s=...)", agent, domain.EvidenceReportPrefix, agent)
		}

	case from == domain.StateScopeNegotiation && target == domain.StateSynthesis:
		err = c.checkNegotiationToSynthesis(ctx, rec, p)

	case from == domain.StateSynthesis:
		err = c.checkLeaveSynthesis(ctx, rec, target, p)

	case from == domain.StateImplementation && target == domain.StateValidation:
		err = c.checkImplementationDone(ctx, rec, p)

	case from == domain.StateValidation && target == domain.StateReview:
		err = c.checkValidation(ctx, rec, p)

	case from == domain.StateReview && target == domain.StateAwaitingApproval:
		err = c.checkReviewApproved(ctx, rec, p)

	case from == domain.StateReview:
		err = c.checkRejection(ctx, rec, target, p)

	case from == domain.StateScopeNegotiation && target == domain.StateAwaitingApproval:
		err = c.checkNegotiationDeferred(ctx, rec, p)

	case target == domain.StateComplete:
		err = c.checkChangeApproved(ctx, rec, p)

	case target == domain.StateCleanup:
		p.require(rec.Get(domain.StateAwaitingApproval, domain.EvidenceMergeCommit) != "", "merge commit recorded")
		p.after = func(ctx context.Context, next *domain.TaskRecord) error {
			return c.purge(ctx, next.TaskName, owner, false)
		}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Controller) checkLeaveSynthesis(ctx context.Context, rec *domain.TaskRecord, target domain.State, p *transitionPlan) error {
	p.require(rec.Get(domain.StateSynthesis, domain.EvidencePlan) != "", "plan recorded (evidence %s=...)", domain.EvidencePlan)
	cls := rec.Classification()
	if cls == nil {
		p.require(false, "classification recorded")
	} else {
		skip := cls.SkipsImplementation()
		switch target {
		case domain.StateImplementation:
			p.require(!skip, "%s task of kind %s skips implementation; advance to %s",
				cls.Level(), rec.Get(domain.StateClassified, domain.EvidenceChangeKind), domain.StateAwaitingApproval)
		case domain.StateAwaitingApproval:
			p.require(skip, "%s task requires %s before approval", cls.Level(), domain.StateImplementation)
		}
	}
	ok, err := c.gate.IsSatisfied(ctx, rec.TaskName, domain.CheckpointPlanApproval)
	if err != nil {
		return err
	}
	p.approved = ok

	if target == domain.StateImplementation {
		p.before = c.ensureAgentWorkspaces
		p.after = func(ctx context.Context, next *domain.TaskRecord) error {
			return c.rounds.StartRound(ctx, next, domain.ModeImplementation, next.Get(domain.StateSynthesis, domain.EvidencePlan))
		}
	}
	return nil
}

func (c *Controller) checkImplementationDone(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	res, err := c.rounds.Evaluate(ctx, rec, domain.ModeImplementation)
	if err != nil {
		return err
	}
	p.missing = append(p.missing, res.Unmet...)
	point, err := c.vcs.CurrentIntegrationPoint(domain.TaskBranch(rec.TaskName))
	if err != nil {
		return fmt.Errorf("read integration point: %w", err)
	}
	p.evidence[domain.EvidenceIntegrationPoint] = point
	return nil
}

func (c *Controller) checkValidation(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	point, err := c.vcs.CurrentIntegrationPoint(domain.TaskBranch(rec.TaskName))
	if err != nil {
		return fmt.Errorf("read integration point: %w", err)
	}
	res, err := c.workspaces.ValidateTask(ctx, rec.TaskName)
	if err != nil {
		return fmt.Errorf("validate task workspace: %w", err)
	}
	p.require(res.Passed, "task workspace passes validation at %s: %s", point, res.Details)
	p.evidence[domain.EvidenceValidatedAt] = c.clock.Now().UTC().Format(time.RFC3339)
	p.evidence[domain.EvidenceIntegrationPoint] = point
	p.after = func(ctx context.Context, next *domain.TaskRecord) error {
		return c.rounds.StartRound(ctx, next, domain.ModeReview, "")
	}
	return nil
}

func (c *Controller) checkReviewApproved(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	res, err := c.rounds.Evaluate(ctx, rec, domain.ModeReview)
	if err != nil {
		return err
	}
	p.missing = append(p.missing, res.Unmet...)
	point, err := c.vcs.CurrentIntegrationPoint(domain.TaskBranch(rec.TaskName))
	if err != nil {
		return fmt.Errorf("read integration point: %w", err)
	}
	validated := rec.Get(domain.StateValidation, domain.EvidenceIntegrationPoint)
	p.require(validated == point, "integration point %s matches the validated one (%s)", point, validated)
	p.evidence[domain.EvidenceIntegrationPoint] = point
	return nil
}

func (c *Controller) checkRejection(ctx context.Context, rec *domain.TaskRecord, target domain.State, p *transitionPlan) error {
	d, err := c.rounds.DecideRejection(ctx, rec)
	if errors.Is(err, domain.ErrNotRejecting) {
		p.require(false, "at least one required agent rejected the change")
		return nil
	}
	if err != nil {
		return err
	}
	want := domain.OutcomeNegotiate
	if target == domain.StateImplementation {
		want = domain.OutcomeAnotherRound
	}
	p.require(d.Outcome == want, "rejection requires %s: %d files to resolve against %d original (factor %.1f)",
		d.Outcome, len(d.Estimate.ResolutionFiles), d.Estimate.OriginalFiles, d.Estimate.Factor)
	p.evidence[domain.EvidenceRejectedBy] = domain.JoinList(d.Rejecting)
	p.evidence[domain.EvidenceDecision] = string(d.Outcome)

	if target == domain.StateImplementation {
		feedback, err := c.rounds.Feedback(ctx, rec)
		if err != nil {
			return err
		}
		p.after = func(ctx context.Context, next *domain.TaskRecord) error {
			return c.rounds.StartRound(ctx, next, domain.ModeImplementation, feedback)
		}
	}
	return nil
}

func (c *Controller) checkNegotiationToSynthesis(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	out, followUps, err := c.rounds.ResolveNegotiation(ctx, rec)
	if err != nil {
		return err
	}
	p.require(out.Resolved(), "objections classified by %s", strings.Join(out.Unclassified, ", "))
	p.require(len(out.Blocking) > 0, "at least one blocking objection (none remain; advance to %s)", domain.StateAwaitingApproval)
	p.evidence[domain.EvidenceBlocking] = strings.Join(out.Blocking, "; ")
	// Deferrable objections raised alongside blocking ones outlive the objection sets.
	p.evidence[domain.EvidenceDeferred] = domain.JoinList(out.Deferred)
	p.before = func(ctx context.Context, _ *domain.TaskRecord) error {
		return c.rounds.RecordFollowUps(ctx, followUps)
	}
	p.after = func(ctx context.Context, next *domain.TaskRecord) error {
		return c.rounds.ClearNegotiation(ctx, next.TaskName)
	}
	return nil
}

func (c *Controller) checkNegotiationDeferred(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	out, followUps, err := c.rounds.ResolveNegotiation(ctx, rec)
	if err != nil {
		return err
	}
	p.require(out.Resolved(), "objections classified by %s", strings.Join(out.Unclassified, ", "))
	p.require(len(out.Blocking) == 0, "no blocking objections (remaining: %s)", strings.Join(out.Blocking, "; "))
	p.evidence[domain.EvidenceDeferred] = domain.JoinList(out.Deferred)
	p.before = func(ctx context.Context, _ *domain.TaskRecord) error {
		return c.rounds.RecordFollowUps(ctx, followUps)
	}
	return nil
}

func (c *Controller) checkChangeApproved(ctx context.Context, rec *domain.TaskRecord, p *transitionPlan) error {
	task := rec.TaskName
	point, err := c.vcs.CurrentIntegrationPoint(domain.TaskBranch(task))
	if err != nil {
		return fmt.Errorf("read integration point: %w", err)
	}
	flag, err := c.gate.Get(ctx, task, domain.CheckpointChangeReview)
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		p.approved = true
		p.require(flag.ChangeRef == point,
			"approved change %s is the current integration point (task branch is at %s; present %s again and approve the new digest)",
			flag.ChangeRef, point, domain.CheckpointChangeReview)
	}

	base := rec.BaseBranch()
	current, err := c.vcs.CurrentBranch()
	if err != nil {
		return fmt.Errorf("read current branch: %w", err)
	}
	p.require(current == base, "repository root has %s checked out (currently %s)", base, current)
	dirty, err := c.vcs.HasUncommittedChanges(c.workspaces.TaskPath(task))
	if err != nil {
		return fmt.Errorf("check task workspace: %w", err)
	}
	p.require(!dirty, "task workspace has no uncommitted changes")

	p.before = func(ctx context.Context, next *domain.TaskRecord) error {
		if err := c.vcs.Integrate(ctx, domain.TaskBranch(task), c.opts.RepoRoot); err != nil {
			return fmt.Errorf("merge into %s: %w", base, err)
		}
		merge, err := c.vcs.CurrentIntegrationPoint(base)
		if err != nil {
			return fmt.Errorf("read merge commit: %w", err)
		}
		next.Evidence[domain.StateAwaitingApproval][domain.EvidenceMergeCommit] = merge
		next.Evidence[domain.StateAwaitingApproval][domain.EvidenceApprovedChange] = flag.ChangeRef
		return nil
	}
	return nil
}

func (c *Controller) ensureAgentWorkspaces(ctx context.Context, next *domain.TaskRecord) error {
	for _, agent := range next.RequiredAgents {
		if _, err := c.workspaces.CreateAgentWorkspace(ctx, next.TaskName, agent); err != nil {
			return err
		}
	}
	return nil
}
