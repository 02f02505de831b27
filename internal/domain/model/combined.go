package model

// StateRequired pairs a check state with whether the check is required for
// submission.
type StateRequired struct {
	State    CheckState
	Required bool
}

// CombineCheckStates folds check states into a CombinedCheckState.
// Optional checks never influence the result:
//   - no required checks: NOT_RELEVANT
//   - any required check failing: FAILED
//   - any required check in progress: IN_PROGRESS
//   - otherwise: SUCCESSFUL
func CombineCheckStates(states []StateRequired) CombinedCheckState {
	var required, inProgress int
	for _, s := range states {
		if !s.Required {
			continue
		}
		required++
		if s.State.IsFailing() {
			return CombinedCheckStateFailed
		}
		if s.State.IsInProgress() {
			inProgress++
		}
	}

	switch {
	case required == 0:
		return CombinedCheckStateNotRelevant
	case inProgress > 0:
		return CombinedCheckStateInProgress
	default:
		return CombinedCheckStateSuccessful
	}
}
