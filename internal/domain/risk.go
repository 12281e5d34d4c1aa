package domain

import (
	"fmt"
	"strings"
)

// RiskLevel determines which workflow variant applies to a task.
type RiskLevel string

// Risk levels.
const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// ParseRiskLevel parses a risk level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskHigh:
		return RiskHigh, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskLow:
		return RiskLow, nil
	default:
		return "", fmt.Errorf("invalid risk level %q", s)
	}
}

// ChangeKind describes what a change touches.
type ChangeKind string

// Change kinds.
const (
	ChangeCode   ChangeKind = "code"
	ChangeDocs   ChangeKind = "docs"
	ChangeConfig ChangeKind = "config"
)

// Classification is the result of classifying a task.
// Its variants are HighRisk, MediumRisk and LowRisk.
type Classification interface {
	Level() RiskLevel
	Agents() []string
	// SkipsImplementation reports whether IMPLEMENTATION, VALIDATION and REVIEW are skipped.
	SkipsImplementation() bool
	sealed()
}

// HighRisk executes every state.
type HighRisk struct {
	RequiredAgents []string
}

// MediumRisk skips implementation when the change is documentation-only or config-only.
type MediumRisk struct {
	Kind           ChangeKind
	RequiredAgents []string
}

// LowRisk always skips implementation, validation and review.
type LowRisk struct {
	RequiredAgents []string
}

func (HighRisk) Level() RiskLevel   { return RiskHigh }
func (MediumRisk) Level() RiskLevel { return RiskMedium }
func (LowRisk) Level() RiskLevel    { return RiskLow }

func (c HighRisk) Agents() []string   { return c.RequiredAgents }
func (c MediumRisk) Agents() []string { return c.RequiredAgents }
func (c LowRisk) Agents() []string    { return c.RequiredAgents }

func (HighRisk) SkipsImplementation() bool { return false }
func (c MediumRisk) SkipsImplementation() bool {
	return c.Kind == ChangeDocs || c.Kind == ChangeConfig
}
func (LowRisk) SkipsImplementation() bool { return true }

func (HighRisk) sealed()   {}
func (MediumRisk) sealed() {}
func (LowRisk) sealed()    {}

// NewClassification builds the variant for level.
func NewClassification(level RiskLevel, kind ChangeKind, agents []string) Classification {
	switch level {
	case RiskHigh:
		return HighRisk{RequiredAgents: agents}
	case RiskMedium:
		return MediumRisk{Kind: kind, RequiredAgents: agents}
	default:
		return LowRisk{RequiredAgents: agents}
	}
}

// DefaultEscalationKeywords are the description keywords that force a higher risk tier.
var DefaultEscalationKeywords = []string{
	"security",
	"architecture",
	"breaking",
	"concurrency",
	"thread",
	"persistence",
	"database",
	"external interface",
	"external-interface",
	"api",
	"cross-module",
	"dependency",
	"dependencies",
}

// EscalationKeyword returns the first keyword found in description.
func EscalationKeyword(description string, keywords []string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	text := " " + strings.Join(words, " ") + " "
	for _, kw := range keywords {
		if strings.Contains(text, " "+strings.ToLower(kw)+" ") {
			return kw, true
		}
	}
	return "", false
}

// Escalate moves c one tier up when description contains an escalation keyword.
// The escalated variant requires the union of c's agents and the agents configured for the new tier.
func Escalate(c Classification, description string, keywords []string, tierAgents map[RiskLevel][]string) (Classification, string) {
	kw, ok := EscalationKeyword(description, keywords)
	if !ok {
		return c, ""
	}
	switch v := c.(type) {
	case LowRisk:
		return MediumRisk{Kind: ChangeCode, RequiredAgents: mergeAgents(v.RequiredAgents, tierAgents[RiskMedium])}, kw
	case MediumRisk:
		return HighRisk{RequiredAgents: mergeAgents(v.RequiredAgents, tierAgents[RiskHigh])}, kw
	default:
		return c, kw
	}
}

// mergeAgents returns a followed by the members of b not already in a.
func mergeAgents(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, name := range b {
		if !containsString(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
