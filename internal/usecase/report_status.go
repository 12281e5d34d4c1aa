package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/status"
)

// ReportStatusInput contains an agent's self-reported status.
type ReportStatusInput struct {
	Task          string
	Agent         string
	Status        string // WORKING, IN_PROGRESS, COMPLETE or ERROR
	Decision      string // APPROVED, REJECTED or PENDING
	WorkRemaining string // "none" when nothing is left
}

// ReportStatusOutput contains the stored record.
type ReportStatusOutput struct {
	Status *domain.AgentStatus
}

// ReportStatus is the use case agents call to write their own status record.
type ReportStatus struct {
	ctrl     *controller.Controller
	statuses *status.Tracker
}

// NewReportStatus creates a new ReportStatus use case.
func NewReportStatus(ctrl *controller.Controller, statuses *status.Tracker) *ReportStatus {
	return &ReportStatus{ctrl: ctrl, statuses: statuses}
}

// Execute writes the record for the current round. The mode follows the task state,
// and the last integrated change is kept from the previous record.
func (uc *ReportStatus) Execute(ctx context.Context, in ReportStatusInput) (*ReportStatusOutput, error) {
	rec, err := uc.ctrl.Load(ctx, in.Task)
	if err != nil {
		return nil, err
	}
	if err := requireAgent(rec, in.Agent); err != nil {
		return nil, err
	}
	mode, err := requireRound(rec)
	if err != nil {
		return nil, err
	}

	next := domain.AgentStatus{
		AgentID:       in.Agent,
		TaskName:      in.Task,
		Mode:          mode,
		Status:        domain.Lifecycle(strings.ToUpper(in.Status)),
		Decision:      domain.Decision(strings.ToUpper(in.Decision)),
		WorkRemaining: in.WorkRemaining,
	}
	prev, err := uc.statuses.Get(ctx, in.Task, in.Agent)
	switch {
	case err == nil && prev.Mode == mode:
		next.LastIntegratedChange = prev.LastIntegratedChange
	case err != nil && !errors.Is(err, domain.ErrKeyNotFound):
		return nil, err
	}
	st, err := uc.statuses.Report(ctx, next)
	if err != nil {
		return nil, err
	}
	return &ReportStatusOutput{Status: st}, nil
}
