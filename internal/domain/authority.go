package domain

// AuthorityDomain is an area in which one agent has final say.
type AuthorityDomain string

// Authority domains, highest priority first.
const (
	AuthoritySafety        AuthorityDomain = "safety"
	AuthorityDeployability AuthorityDomain = "deployability"
	AuthorityArchitecture  AuthorityDomain = "architecture"
	AuthorityQuality       AuthorityDomain = "quality"
	AuthorityStyle         AuthorityDomain = "style"
)

var domainPriority = map[AuthorityDomain]int{
	AuthoritySafety:        50,
	AuthorityDeployability: 40,
	AuthorityArchitecture:  30,
	AuthorityQuality:       20,
	AuthorityStyle:         10,
}

// Priority returns the precedence of the domain. Unknown domains rank lowest.
func (d AuthorityDomain) Priority() int {
	return domainPriority[d]
}

// Feedback is one agent's position on a contested point.
type Feedback struct {
	Agent    string
	Domain   AuthorityDomain // domain the feedback concerns
	Position string
}

// Authorities maps an agent to the domain it has sole final authority over.
type Authorities map[string]AuthorityDomain

// ResolveConflict picks the winning feedback when two agents disagree.
// An agent speaking inside its own domain of authority wins outright; when neither or both do,
// the feedback concerning the higher-priority domain wins. Ties go to a.
func ResolveConflict(a, b Feedback, auth Authorities) Feedback {
	aSole := auth[a.Agent] != "" && auth[a.Agent] == a.Domain
	bSole := auth[b.Agent] != "" && auth[b.Agent] == b.Domain
	switch {
	case aSole && !bSole:
		return a
	case bSole && !aSole:
		return b
	}
	if b.Domain.Priority() > a.Domain.Priority() {
		return b
	}
	return a
}
