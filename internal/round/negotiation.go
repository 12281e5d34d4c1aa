package round

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// followUpNamespace scopes deterministic follow-up ids.
var followUpNamespace = uuid.MustParse("6f1c2d4e-8a57-4b7e-9a0b-2f3c4d5e6f70")

// ClassifyObjections stores a rejecting agent's own classification of its objections.
// Only a required agent whose current review is REJECTED may classify, and an objection
// once classified BLOCKING stays BLOCKING in every later submission. A rejection
// needs at least one objection, blocking or deferrable.
func (c *Coordinator) ClassifyObjections(ctx context.Context, rec *domain.TaskRecord, agent string, objections []domain.Objection) (*domain.ObjectionSet, error) {
	if !rec.Requires(agent) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotRequired, agent)
	}
	st, err := c.statuses.Get(ctx, rec.TaskName, agent)
	if err != nil || st.Decision != domain.DecisionRejected {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotRejecting, agent)
	}
	if len(objections) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoObjections, agent)
	}
	for _, o := range objections {
		if strings.TrimSpace(o.Text) == "" {
			return nil, errors.New("objection text is required")
		}
		if o.Severity != domain.SeverityBlocking && o.Severity != domain.SeverityDeferrable {
			return nil, fmt.Errorf("invalid severity %q", o.Severity)
		}
	}

	set := &domain.ObjectionSet{
		Updated:    c.clock.Now(),
		Agent:      agent,
		Task:       rec.TaskName,
		Objections: objections,
	}
	err = c.store.Update(domain.ObjectionKey(rec.TaskName, agent), func(old []byte) ([]byte, error) {
		if old != nil {
			var prev domain.ObjectionSet
			if err := yaml.Unmarshal(old, &prev); err != nil {
				return nil, fmt.Errorf("parse objections: %w", err)
			}
			if err := keepsBlocking(&prev, set); err != nil {
				return nil, err
			}
		}
		return yaml.Marshal(set)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(rec.TaskName, "negotiation", fmt.Sprintf("%s classified %d objections (%d blocking)",
		agent, len(objections), len(set.Blocking())))
	return set, nil
}

// keepsBlocking rejects a submission that drops or downgrades a blocking objection.
func keepsBlocking(prev, next *domain.ObjectionSet) error {
	current := make(map[string]domain.Severity, len(next.Objections))
	for _, o := range next.Objections {
		current[o.Text] = o.Severity
	}
	for _, text := range prev.Blocking() {
		if current[text] != domain.SeverityBlocking {
			return fmt.Errorf("%w: %q", domain.ErrBlockingLocked, text)
		}
	}
	return nil
}

// ResolveNegotiation summarizes the classifications of every rejecting agent.
// Deferred objections are identified by deterministic follow-up ids.
func (c *Coordinator) ResolveNegotiation(ctx context.Context, rec *domain.TaskRecord) (domain.NegotiationOutcome, []domain.FollowUp, error) {
	records, err := c.statuses.List(ctx, rec.TaskName)
	if err != nil {
		return domain.NegotiationOutcome{}, nil, err
	}
	var out domain.NegotiationOutcome
	var followUps []domain.FollowUp
	for _, agent := range domain.Rejections(rec.RequiredAgents, records) {
		set, err := c.objections(rec.TaskName, agent)
		if errors.Is(err, domain.ErrKeyNotFound) {
			out.Unclassified = append(out.Unclassified, agent)
			continue
		}
		if err != nil {
			return domain.NegotiationOutcome{}, nil, err
		}
		for _, o := range set.Objections {
			switch o.Severity {
			case domain.SeverityBlocking:
				out.Blocking = append(out.Blocking, agent+": "+o.Text)
			case domain.SeverityDeferrable:
				f := domain.FollowUp{
					ID:        followUpID(rec.TaskName, agent, o.Text),
					Task:      rec.TaskName,
					Agent:     agent,
					Objection: o.Text,
					Created:   c.clock.Now(),
				}
				followUps = append(followUps, f)
				out.Deferred = append(out.Deferred, f.ID)
			}
		}
	}
	return out, followUps, nil
}

// RecordFollowUps persists deferred objections. Existing records are kept.
func (c *Coordinator) RecordFollowUps(_ context.Context, followUps []domain.FollowUp) error {
	for _, f := range followUps {
		data, err := yaml.Marshal(&f)
		if err != nil {
			return fmt.Errorf("marshal follow-up: %w", err)
		}
		err = c.store.Create(domain.FollowUpKey(f.Task, f.ID), data)
		if err != nil && !errors.Is(err, domain.ErrKeyExists) {
			return fmt.Errorf("store follow-up: %w", err)
		}
		c.logger.Info(f.Task, "negotiation", fmt.Sprintf("deferred %s from %s as follow-up %s", f.Objection, f.Agent, f.ID))
	}
	return nil
}

// NewFollowUp records an ad-hoc follow-up, used when a task is abandoned.
func (c *Coordinator) NewFollowUp(ctx context.Context, task, agent, text string) (domain.FollowUp, error) {
	f := domain.FollowUp{
		ID:        uuid.NewString(),
		Task:      task,
		Agent:     agent,
		Objection: text,
		Created:   c.clock.Now(),
	}
	return f, c.RecordFollowUps(ctx, []domain.FollowUp{f})
}

// FollowUps returns the follow-up records of task.
func (c *Coordinator) FollowUps(_ context.Context, task string) ([]domain.FollowUp, error) {
	keys, err := c.store.List(domain.FollowUpPrefix(task))
	if err != nil {
		return nil, err
	}
	out := make([]domain.FollowUp, 0, len(keys))
	for _, key := range keys {
		data, err := c.store.Get(key)
		if err != nil {
			continue
		}
		var f domain.FollowUp
		if err := yaml.Unmarshal(data, &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// ClearNegotiation removes every objection set of task, before a new round.
func (c *Coordinator) ClearNegotiation(_ context.Context, task string) error {
	keys, err := c.store.List(domain.ObjectionPrefix(task))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := c.store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) objections(task, agent string) (*domain.ObjectionSet, error) {
	data, err := c.store.Get(domain.ObjectionKey(task, agent))
	if err != nil {
		return nil, err
	}
	var set domain.ObjectionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse objections of %s: %w", agent, err)
	}
	return &set, nil
}

func followUpID(task, agent, text string) string {
	return uuid.NewSHA1(followUpNamespace, []byte(task+"\x00"+agent+"\x00"+text)).String()
}
