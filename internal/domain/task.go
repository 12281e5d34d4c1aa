// Package domain contains core business entities and interfaces.
package domain

import (
	"strings"
	"time"
)

// Evidence keys recorded on the Task Record.
const (
	EvidenceDescription      = "description"       // INIT: task description
	EvidenceBaseBranch       = "base_branch"       // INIT: branch the change merges into
	EvidenceFiles            = "files"             // CLASSIFIED: comma separated file set
	EvidenceChangeKind       = "change_kind"       // CLASSIFIED: code, docs or config
	EvidenceEscalation       = "escalated_by"      // CLASSIFIED: keyword that raised the tier
	EvidencePlan             = "plan"              // SYNTHESIS: plan reference
	EvidenceReportPrefix     = "report."           // REQUIREMENTS: report.<agent>
	EvidenceValidatedAt      = "validated_at"      // VALIDATION/REVIEW: build success timestamp
	EvidenceIntegrationPoint = "integration_point" // commit the evidence refers to
	EvidenceRejectedBy       = "rejected_by"       // rejecting agents
	EvidenceDecision         = "decision"          // another_round or negotiate
	EvidenceBlocking         = "blocking"          // SCOPE_NEGOTIATION: blocking objections
	EvidenceDeferred         = "deferred"          // SCOPE_NEGOTIATION: follow-up ids
	EvidenceMergeCommit      = "merge_commit"      // COMPLETE: commit on the base branch
	EvidenceApprovedChange   = "approved_change"   // COMPLETE: change ref named by the approval
)

// Evidence is the proof recorded for one state.
type Evidence map[string]string

// Transition is one entry of the append-only transition log.
type Transition struct {
	From          State     `json:"from_state"`
	To            State     `json:"to_state"`
	Timestamp     time.Time `json:"timestamp"`
	Justification string    `json:"justification"`
}

// TaskRecord represents one unit of work.
// Only the lock owner may mutate it, through controller transitions.
type TaskRecord struct {
	Evidence       map[State]Evidence `json:"evidence"`
	OwnerID        string             `json:"owner_id"`
	TaskName       string             `json:"task_name"`
	State          State              `json:"state"`
	RiskLevel      RiskLevel          `json:"risk_level"`
	RequiredAgents []string           `json:"required_agents"`
	TransitionLog  []Transition       `json:"transition_log"`
}

// NewTaskRecord returns a record in INIT with its first log entry.
func NewTaskRecord(name, owner, description, base string, now time.Time) *TaskRecord {
	return &TaskRecord{
		OwnerID:  owner,
		TaskName: name,
		State:    StateInit,
		Evidence: map[State]Evidence{
			StateInit: {EvidenceDescription: description, EvidenceBaseBranch: base},
		},
		RequiredAgents: []string{},
		TransitionLog: []Transition{{
			To:            StateInit,
			Timestamp:     now,
			Justification: "lock acquired",
		}},
	}
}

// Clone returns a deep copy of the record.
func (t *TaskRecord) Clone() *TaskRecord {
	c := *t
	c.RequiredAgents = append([]string(nil), t.RequiredAgents...)
	c.TransitionLog = append([]Transition(nil), t.TransitionLog...)
	c.Evidence = make(map[State]Evidence, len(t.Evidence))
	for state, ev := range t.Evidence {
		cp := make(Evidence, len(ev))
		for k, v := range ev {
			cp[k] = v
		}
		c.Evidence[state] = cp
	}
	return &c
}

// LastTransition returns the final log entry, if any.
func (t *TaskRecord) LastTransition() (Transition, bool) {
	if len(t.TransitionLog) == 0 {
		return Transition{}, false
	}
	return t.TransitionLog[len(t.TransitionLog)-1], true
}

// LogConsistent reports whether the log is non-empty and ends in the current state.
func (t *TaskRecord) LogConsistent() bool {
	last, ok := t.LastTransition()
	return ok && last.To == t.State
}

// Get returns an evidence value recorded for state.
func (t *TaskRecord) Get(state State, key string) string {
	return t.Evidence[state][key]
}

// Description returns the task description recorded at INIT.
func (t *TaskRecord) Description() string {
	return t.Get(StateInit, EvidenceDescription)
}

// BaseBranch returns the branch the change merges into.
func (t *TaskRecord) BaseBranch() string {
	return t.Get(StateInit, EvidenceBaseBranch)
}

// Files returns the classified file set.
func (t *TaskRecord) Files() []string {
	return SplitList(t.Get(StateClassified, EvidenceFiles))
}

// Classification reconstructs the classification recorded at CLASSIFIED.
// It returns nil before classification.
func (t *TaskRecord) Classification() Classification {
	if t.RiskLevel == "" {
		return nil
	}
	kind := ChangeKind(t.Get(StateClassified, EvidenceChangeKind))
	if kind == "" {
		kind = ChangeCode
	}
	return NewClassification(t.RiskLevel, kind, t.RequiredAgents)
}

// Requires reports whether agent is in the required agent set.
func (t *TaskRecord) Requires(agent string) bool {
	return containsString(t.RequiredAgents, agent)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// JoinList joins items with commas.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// LockToken is the exclusive ownership marker for a task.
// It is stored apart from the Task Record so acquisition never depends on the record.
type LockToken struct {
	CreatedAt time.Time `json:"created_at"`
	OwnerID   string    `json:"owner_id"`
	TaskName  string    `json:"task_name"`
	State     State     `json:"state"`
}

// FollowUp is a deferred objection preserved as a future unit of work.
type FollowUp struct {
	Created   time.Time `yaml:"created" json:"created"`
	ID        string    `yaml:"id" json:"id"`
	Task      string    `yaml:"task" json:"task"`
	Agent     string    `yaml:"agent" json:"agent"`
	Objection string    `yaml:"objection" json:"objection"`
}
