package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Checkpoint is a mandatory human confirmation gate.
type Checkpoint string

// The two checkpoints.
const (
	CheckpointPlanApproval Checkpoint = "PLAN-APPROVAL"
	CheckpointChangeReview Checkpoint = "CHANGE-REVIEW"
)

// ParseCheckpoint parses a checkpoint name, accepting lower case and underscores.
func ParseCheckpoint(s string) (Checkpoint, error) {
	c := Checkpoint(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", "-"))
	switch c {
	case CheckpointPlanApproval, CheckpointChangeReview:
		return c, nil
	default:
		return "", ErrInvalidCheckpoint
	}
}

// MinDigestPrefix is the shortest digest prefix accepted in a confirmation.
const MinDigestPrefix = 8

// Presentation is content surfaced for human inspection at a checkpoint.
type Presentation struct {
	PresentedAt time.Time  `json:"presented_at"`
	Checkpoint  Checkpoint `json:"checkpoint"`
	Digest      string     `json:"digest"`
	ChangeRef   string     `json:"change_ref,omitempty"`
	Content     string     `json:"content"`
}

// ContentDigest returns the hex sha256 of the presented content and change ref.
func ContentDigest(content, changeRef string) string {
	sum := sha256.Sum256([]byte(changeRef + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// ApprovalFlag proves a checkpoint was satisfied. Its existence is the signal.
type ApprovalFlag struct {
	ApprovedAt time.Time  `json:"approved_at"`
	Checkpoint Checkpoint `json:"checkpoint"`
	ChangeRef  string     `json:"change_ref,omitempty"`
	Digest     string     `json:"digest"`
}

// Confirmation is an explicit human statement about presented content.
type Confirmation struct {
	Checkpoint  Checkpoint
	Digest      string
	Affirmative bool
}

// Matches reports whether the confirmation refers to p.
func (c Confirmation) Matches(p *Presentation) bool {
	if p == nil || !c.Affirmative || c.Checkpoint != p.Checkpoint {
		return false
	}
	d := strings.ToLower(strings.TrimSpace(c.Digest))
	return len(d) >= MinDigestPrefix && strings.HasPrefix(p.Digest, d)
}

// InteractionKind classifies a message received while a task is suspended.
type InteractionKind string

// Interaction kinds.
const (
	InteractionApproval InteractionKind = "approval"
	InteractionResume   InteractionKind = "resume"
	InteractionOther    InteractionKind = "other"
)

// Interaction is a classified message.
type Interaction struct {
	Kind         InteractionKind
	Confirmation Confirmation
}

// InterpretInteraction classifies free text.
// Only "approve <checkpoint> <digest>" counts as approval, and "resume" as a resume signal.
// Everything else, including "ok", "continue" or silence, is InteractionOther.
func InterpretInteraction(text string) Interaction {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 1 && strings.EqualFold(fields[0], "resume") {
		return Interaction{Kind: InteractionResume}
	}
	if len(fields) == 3 && strings.EqualFold(fields[0], "approve") {
		cp, err := ParseCheckpoint(fields[1])
		if err == nil && len(fields[2]) >= MinDigestPrefix && isHex(fields[2]) {
			return Interaction{
				Kind: InteractionApproval,
				Confirmation: Confirmation{
					Checkpoint:  cp,
					Digest:      strings.ToLower(fields[2]),
					Affirmative: true,
				},
			}
		}
	}
	return Interaction{Kind: InteractionOther}
}

func isHex(s string) bool {
	for _, r := range strings.ToLower(s) {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
