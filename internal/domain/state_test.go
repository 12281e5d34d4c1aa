package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		to     State
		expect bool
	}{
		{"init -> classified", StateInit, StateClassified, true},
		{"init -> synthesis", StateInit, StateSynthesis, false},
		{"classified -> requirements", StateClassified, StateRequirements, true},
		{"requirements -> synthesis", StateRequirements, StateSynthesis, true},
		{"synthesis -> implementation", StateSynthesis, StateImplementation, true},
		{"synthesis -> awaiting_approval", StateSynthesis, StateAwaitingApproval, true},
		{"synthesis -> complete", StateSynthesis, StateComplete, false},
		{"implementation -> validation", StateImplementation, StateValidation, true},
		{"implementation -> review", StateImplementation, StateReview, false},
		{"validation -> review", StateValidation, StateReview, true},
		{"review -> awaiting_approval", StateReview, StateAwaitingApproval, true},
		{"review -> implementation", StateReview, StateImplementation, true},
		{"review -> scope_negotiation", StateReview, StateScopeNegotiation, true},
		{"review -> complete", StateReview, StateComplete, false},
		{"scope_negotiation -> synthesis", StateScopeNegotiation, StateSynthesis, true},
		{"scope_negotiation -> awaiting_approval", StateScopeNegotiation, StateAwaitingApproval, true},
		{"scope_negotiation -> implementation", StateScopeNegotiation, StateImplementation, false},
		{"awaiting_approval -> complete", StateAwaitingApproval, StateComplete, true},
		{"awaiting_approval -> cleanup", StateAwaitingApproval, StateCleanup, false},
		{"complete -> cleanup", StateComplete, StateCleanup, true},
		{"cleanup -> init", StateCleanup, StateInit, false},
		{"unknown -> init", State("BOGUS"), StateInit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestState_EveryStateReachable(t *testing.T) {
	reached := map[State]bool{StateInit: true}
	queue := []State{StateInit}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range s.Next() {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range AllStates() {
		assert.True(t, reached[s], "state %s unreachable from INIT", s)
	}
}

func TestState_GatedBy(t *testing.T) {
	cp, ok := StateSynthesis.GatedBy(StateImplementation)
	assert.True(t, ok)
	assert.Equal(t, CheckpointPlanApproval, cp)

	cp, ok = StateSynthesis.GatedBy(StateAwaitingApproval)
	assert.True(t, ok)
	assert.Equal(t, CheckpointPlanApproval, cp)

	cp, ok = StateAwaitingApproval.GatedBy(StateComplete)
	assert.True(t, ok)
	assert.Equal(t, CheckpointChangeReview, cp)

	_, ok = StateReview.GatedBy(StateAwaitingApproval)
	assert.False(t, ok)
	_, ok = StateInit.GatedBy(StateClassified)
	assert.False(t, ok)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("scope-negotiation")
	require.NoError(t, err)
	assert.Equal(t, StateScopeNegotiation, s)

	_, err = ParseState("done")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestState_UsesAgentWorkspaces(t *testing.T) {
	assert.True(t, StateImplementation.UsesAgentWorkspaces())
	assert.True(t, StateReview.UsesAgentWorkspaces())
	assert.False(t, StateSynthesis.UsesAgentWorkspaces())
	assert.False(t, StateAwaitingApproval.UsesAgentWorkspaces())
}
