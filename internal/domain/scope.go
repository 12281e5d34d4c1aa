package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// RejectionOutcome is the route taken after a REJECTED review.
type RejectionOutcome string

// Rejection outcomes.
const (
	OutcomeAnotherRound RejectionOutcome = "another_round"
	OutcomeNegotiate    RejectionOutcome = "negotiate"
)

// DefaultScopeFactor is the effort multiple above which rejections go to scope negotiation.
const DefaultScopeFactor = 2.0

// ScopeEstimate compares the effort needed to resolve rejections with the original scope.
// Effort is measured in distinct files.
type ScopeEstimate struct {
	ResolutionFiles []string
	OriginalFiles   int
	Factor          float64
}

// Exceeds reports whether resolution effort is above Factor times the original scope.
// An empty original scope counts as one file.
func (e ScopeEstimate) Exceeds() bool {
	orig := e.OriginalFiles
	if orig < 1 {
		orig = 1
	}
	factor := e.Factor
	if factor <= 0 {
		factor = DefaultScopeFactor
	}
	return float64(len(e.ResolutionFiles)) > factor*float64(orig)
}

// Outcome returns the route implied by the estimate.
func (e ScopeEstimate) Outcome() RejectionOutcome {
	if e.Exceeds() {
		return OutcomeNegotiate
	}
	return OutcomeAnotherRound
}

var filePattern = regexp.MustCompile(`[A-Za-z0-9_\-./]*[A-Za-z0-9_\-]\.[A-Za-z0-9]+`)

// ReferencedFiles extracts distinct file-like tokens from remaining-work descriptions.
func ReferencedFiles(texts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, text := range texts {
		for _, m := range filePattern.FindAllString(text, -1) {
			m = strings.TrimPrefix(strings.TrimSuffix(m, "."), "./")
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Severity is an objection classification made by the rejecting agent itself.
type Severity string

// Severities.
const (
	SeverityBlocking   Severity = "BLOCKING"
	SeverityDeferrable Severity = "DEFERRABLE"
)

// Objection is one point of rejected review feedback.
type Objection struct {
	Text     string   `yaml:"text"`
	Severity Severity `yaml:"severity"`
}

// ObjectionSet is the classification submitted by one rejecting agent.
type ObjectionSet struct {
	Updated    time.Time   `yaml:"updated"`
	Agent      string      `yaml:"agent"`
	Task       string      `yaml:"task"`
	Objections []Objection `yaml:"objections"`
}

// Blocking returns the texts of blocking objections.
func (s *ObjectionSet) Blocking() []string {
	var out []string
	for _, o := range s.Objections {
		if o.Severity == SeverityBlocking {
			out = append(out, o.Text)
		}
	}
	return out
}

// NegotiationOutcome summarizes all classified objections of a task.
type NegotiationOutcome struct {
	Blocking     []string // "agent: objection"
	Deferred     []string // follow-up ids
	Unclassified []string // rejecting agents that have not classified yet
}

// Resolved reports whether every rejecting agent has classified its objections.
func (o NegotiationOutcome) Resolved() bool {
	return len(o.Unclassified) == 0
}
