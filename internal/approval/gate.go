// Package approval implements the human checkpoints that gate plan execution and merge.
//
// A checkpoint is satisfied only by a flag created from an explicit confirmation that
// quotes the digest of content previously presented for that checkpoint. No other input
// creates a flag, and nothing but Purge removes one.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Gate stores presentations and approval flags.
type Gate struct {
	store  domain.Store
	clock  domain.Clock
	logger domain.Logger
}

// NewGate creates a new Gate.
func NewGate(store domain.Store, clock domain.Clock, logger domain.Logger) *Gate {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	return &Gate{store: store, clock: clock, logger: logger}
}

// Present records content shown to the human for cp and returns it with its digest.
// Presenting again replaces the previous presentation; an existing flag is not affected.
func (g *Gate) Present(_ context.Context, task string, cp domain.Checkpoint, content, changeRef string) (*domain.Presentation, error) {
	p := &domain.Presentation{
		PresentedAt: g.clock.Now(),
		Checkpoint:  cp,
		Digest:      domain.ContentDigest(content, changeRef),
		ChangeRef:   changeRef,
		Content:     content,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal presentation: %w", err)
	}
	if err := g.store.Put(domain.PresentationKey(task, cp), data); err != nil {
		return nil, fmt.Errorf("store presentation: %w", err)
	}
	g.logger.Info(task, "approval", fmt.Sprintf("presented %s (digest %s)", cp, p.Digest[:12]))
	return p, nil
}

// Presentation returns the latest presentation for cp, or ErrNoPresentation.
func (g *Gate) Presentation(_ context.Context, task string, cp domain.Checkpoint) (*domain.Presentation, error) {
	data, err := g.store.Get(domain.PresentationKey(task, cp))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, domain.ErrNoPresentation
	}
	if err != nil {
		return nil, err
	}
	var p domain.Presentation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse presentation: %w", err)
	}
	return &p, nil
}

// RecordApproval creates the flag for cp from an explicit confirmation.
// The confirmation must name cp, quote the presented digest, and be affirmative.
// Recording an approval for the change an existing flag already covers is a no-op;
// approving a newly presented change replaces a flag bound to an older one.
func (g *Gate) RecordApproval(ctx context.Context, task string, cp domain.Checkpoint, c domain.Confirmation) (*domain.ApprovalFlag, error) {
	existing, err := g.Get(ctx, task, cp)
	if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
		return nil, err
	}
	p, err := g.Presentation(ctx, task, cp)
	if existing != nil && (errors.Is(err, domain.ErrNoPresentation) || (err == nil && p.ChangeRef == existing.ChangeRef)) {
		return existing, nil
	}
	if errors.Is(err, domain.ErrNoPresentation) {
		return nil, fmt.Errorf("%w: %s has not been presented", domain.ErrApprovalNotSpecific, cp)
	}
	if err != nil {
		return nil, err
	}
	if c.Checkpoint != cp || !c.Matches(p) {
		g.logger.Warn(task, "approval", fmt.Sprintf("confirmation for %s rejected", cp))
		return nil, domain.ErrApprovalNotSpecific
	}

	flag := &domain.ApprovalFlag{
		ApprovedAt: g.clock.Now(),
		Checkpoint: cp,
		ChangeRef:  p.ChangeRef,
		Digest:     p.Digest,
	}
	data, err := json.MarshalIndent(flag, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal approval: %w", err)
	}
	if existing != nil {
		if err := g.store.Put(domain.ApprovalKey(task, cp), data); err != nil {
			return nil, fmt.Errorf("store approval: %w", err)
		}
		g.logger.Info(task, "approval", fmt.Sprintf("%s re-approved for %s (was %s, digest %s)",
			cp, p.ChangeRef, existing.ChangeRef, p.Digest[:12]))
		return flag, nil
	}
	err = g.store.Create(domain.ApprovalKey(task, cp), data)
	if errors.Is(err, domain.ErrKeyExists) {
		return g.Get(ctx, task, cp)
	}
	if err != nil {
		return nil, fmt.Errorf("store approval: %w", err)
	}
	g.logger.Info(task, "approval", fmt.Sprintf("%s approved (digest %s)", cp, p.Digest[:12]))
	return flag, nil
}

// Get returns the flag for cp, or ErrKeyNotFound.
func (g *Gate) Get(_ context.Context, task string, cp domain.Checkpoint) (*domain.ApprovalFlag, error) {
	data, err := g.store.Get(domain.ApprovalKey(task, cp))
	if err != nil {
		return nil, err
	}
	var flag domain.ApprovalFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return nil, fmt.Errorf("parse approval: %w", err)
	}
	return &flag, nil
}

// IsSatisfied reports whether a flag exists for cp. An unreadable flag does not satisfy the gate.
func (g *Gate) IsSatisfied(ctx context.Context, task string, cp domain.Checkpoint) (bool, error) {
	_, err := g.Get(ctx, task, cp)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Purge removes all flags and presentations of task.
func (g *Gate) Purge(_ context.Context, task string) error {
	for _, cp := range []domain.Checkpoint{domain.CheckpointPlanApproval, domain.CheckpointChangeReview} {
		if err := g.store.Delete(domain.ApprovalKey(task, cp)); err != nil {
			return fmt.Errorf("delete approval: %w", err)
		}
		if err := g.store.Delete(domain.PresentationKey(task, cp)); err != nil {
			return fmt.Errorf("delete presentation: %w", err)
		}
	}
	return nil
}
