package workflows

// StateMachine enforces verification request status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a new state machine with allowed transitions
func NewStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"PENDING":          {"IN_REVIEW", "APPROVED", "REJECTED"},
			"IN_REVIEW":        {"IN_REVIEW", "APPROVED", "REJECTED"},
			"APPROVED":         {"FINAL_APPROVED", "REVERT_REQUESTED", "REJECTED"},
			"REVERT_REQUESTED": {"REVERTED", "APPROVED", "REJECTED"},
			"FINAL_APPROVED":   {},
			"REJECTED":         {},
			"REVERTED":         {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
