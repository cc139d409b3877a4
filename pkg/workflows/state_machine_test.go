package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	sm := NewStateMachine()

	tests := []struct {
		from    string
		to      string
		allowed bool
	}{
		{"PENDING", "IN_REVIEW", true},
		{"PENDING", "APPROVED", true},
		{"PENDING", "FINAL_APPROVED", false},
		{"IN_REVIEW", "APPROVED", true},
		{"IN_REVIEW", "IN_REVIEW", true}, // reassignment
		{"APPROVED", "FINAL_APPROVED", true},
		{"APPROVED", "REVERT_REQUESTED", true},
		{"APPROVED", "PENDING", false},
		{"REVERT_REQUESTED", "REVERTED", true},
		{"REVERT_REQUESTED", "APPROVED", true},
		{"REVERT_REQUESTED", "FINAL_APPROVED", false},
		{"FINAL_APPROVED", "REJECTED", false},
		{"REJECTED", "PENDING", false},
		{"REVERTED", "PENDING", false},
		{"UNKNOWN", "PENDING", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, sm.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.IsTerminal("FINAL_APPROVED"))
	assert.True(t, sm.IsTerminal("REJECTED"))
	assert.True(t, sm.IsTerminal("REVERTED"))
	assert.False(t, sm.IsTerminal("PENDING"))
	assert.False(t, sm.IsTerminal("APPROVED"))
	assert.False(t, sm.IsTerminal("UNKNOWN"))
}

func TestGetAllowedTransitions(t *testing.T) {
	sm := NewStateMachine()

	assert.ElementsMatch(t, []string{"FINAL_APPROVED", "REVERT_REQUESTED", "REJECTED"},
		sm.GetAllowedTransitions("APPROVED"))
	assert.Empty(t, sm.GetAllowedTransitions("REJECTED"))
	assert.Empty(t, sm.GetAllowedTransitions("UNKNOWN"))
}
