package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpretInteraction(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind InteractionKind
	}{
		{"ok is not approval", "ok", InteractionOther},
		{"continue is not approval", "continue", InteractionOther},
		{"looks good is not approval", "looks good to me", InteractionOther},
		{"empty", "", InteractionOther},
		{"resume", "resume", InteractionResume},
		{"resume mixed case", "  Resume ", InteractionResume},
		{"approve without digest", "approve PLAN-APPROVAL", InteractionOther},
		{"approve with short digest", "approve PLAN-APPROVAL abc", InteractionOther},
		{"approve with non-hex digest", "approve PLAN-APPROVAL zzzzzzzzzz", InteractionOther},
		{"approve unknown checkpoint", "approve DEPLOY 0123456789ab", InteractionOther},
		{"approve specific", "approve plan-approval 0123456789AB", InteractionApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, InterpretInteraction(tt.text).Kind)
		})
	}

	got := InterpretInteraction("approve change_review DEADBEEF00")
	assert.Equal(t, CheckpointChangeReview, got.Confirmation.Checkpoint)
	assert.Equal(t, "deadbeef00", got.Confirmation.Digest)
	assert.True(t, got.Confirmation.Affirmative)
}

func TestConfirmation_Matches(t *testing.T) {
	p := &Presentation{Checkpoint: CheckpointPlanApproval, Digest: ContentDigest("plan", "")}

	assert.True(t, Confirmation{Checkpoint: CheckpointPlanApproval, Digest: p.Digest, Affirmative: true}.Matches(p))
	assert.True(t, Confirmation{Checkpoint: CheckpointPlanApproval, Digest: p.Digest[:8], Affirmative: true}.Matches(p))
	assert.False(t, Confirmation{Checkpoint: CheckpointPlanApproval, Digest: p.Digest[:7], Affirmative: true}.Matches(p))
	assert.False(t, Confirmation{Checkpoint: CheckpointChangeReview, Digest: p.Digest, Affirmative: true}.Matches(p))
	assert.False(t, Confirmation{Checkpoint: CheckpointPlanApproval, Digest: p.Digest}.Matches(p))
	assert.False(t, Confirmation{Checkpoint: CheckpointPlanApproval, Digest: p.Digest, Affirmative: true}.Matches(nil))
}

func TestContentDigest_BindsChangeRef(t *testing.T) {
	assert.NotEqual(t, ContentDigest("diff", "abc"), ContentDigest("diff", "def"))
	assert.Equal(t, ContentDigest("diff", "abc"), ContentDigest("diff", "abc"))
}
