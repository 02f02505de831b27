package model

import "strings"

// CheckState is the state of a single check on a revision.
type CheckState string

const (
	CheckStateNotStarted  CheckState = "NOT_STARTED"
	CheckStateScheduled   CheckState = "SCHEDULED"
	CheckStateRunning     CheckState = "RUNNING"
	CheckStateSuccessful  CheckState = "SUCCESSFUL"
	CheckStateFailed      CheckState = "FAILED"
	CheckStateNotRelevant CheckState = "NOT_RELEVANT"
)

// AllCheckStates lists every known check state in severity-independent order.
var AllCheckStates = []CheckState{
	CheckStateNotStarted,
	CheckStateScheduled,
	CheckStateRunning,
	CheckStateSuccessful,
	CheckStateFailed,
	CheckStateNotRelevant,
}

// ParseCheckState resolves s case-insensitively. Spaces are treated as underscores.
func ParseCheckState(s string) (CheckState, bool) {
	norm := CheckState(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	for _, st := range AllCheckStates {
		if st == norm {
			return st, true
		}
	}
	return "", false
}

// IsInProgress reports whether the check has not reached a terminal state.
func (s CheckState) IsInProgress() bool {
	switch s {
	case CheckStateNotStarted, CheckStateScheduled, CheckStateRunning:
		return true
	}
	return false
}

// IsPassing reports whether s is a terminal state that does not block.
func (s CheckState) IsPassing() bool {
	return s == CheckStateSuccessful || s == CheckStateNotRelevant
}

// IsFailing reports whether s is a terminal state that blocks.
func (s CheckState) IsFailing() bool {
	return s == CheckStateFailed
}

// CheckerStatus is the lifecycle status of a checker.
type CheckerStatus string

const (
	CheckerStatusEnabled  CheckerStatus = "ENABLED"
	CheckerStatusDisabled CheckerStatus = "DISABLED"
)

// ParseCheckerStatus resolves s case-insensitively.
func ParseCheckerStatus(s string) (CheckerStatus, bool) {
	switch CheckerStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case CheckerStatusEnabled:
		return CheckerStatusEnabled, true
	case CheckerStatusDisabled:
		return CheckerStatusDisabled, true
	}
	return "", false
}

// BlockingCondition decides whether a checker's check can block submission.
type BlockingCondition string

// BlockingStateNotPassing blocks submission while the check is not passing.
// It is currently the only legal condition.
const BlockingStateNotPassing BlockingCondition = "STATE_NOT_PASSING"

// ParseBlockingCondition resolves s case-insensitively; spaces and
// underscores are interchangeable ("state not passing").
func ParseBlockingCondition(s string) (BlockingCondition, bool) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	if BlockingCondition(norm) == BlockingStateNotPassing {
		return BlockingStateNotPassing, true
	}
	return "", false
}

// CombinedCheckState is the single signal folded over all checks of a revision.
type CombinedCheckState string

const (
	CombinedCheckStateNotRelevant CombinedCheckState = "NOT_RELEVANT"
	CombinedCheckStateInProgress  CombinedCheckState = "IN_PROGRESS"
	CombinedCheckStateFailed      CombinedCheckState = "FAILED"
	CombinedCheckStateSuccessful  CombinedCheckState = "SUCCESSFUL"
)

// ParseCombinedCheckState resolves a persisted combined state value.
func ParseCombinedCheckState(s string) (CombinedCheckState, bool) {
	switch c := CombinedCheckState(s); c {
	case CombinedCheckStateNotRelevant, CombinedCheckStateInProgress,
		CombinedCheckStateFailed, CombinedCheckStateSuccessful:
		return c, true
	}
	return "", false
}

// IsPassing reports whether the combined state allows submission.
// NOT_RELEVANT passes: a revision without any required checker is not gated.
func (c CombinedCheckState) IsPassing() bool {
	return c == CombinedCheckStateSuccessful || c == CombinedCheckStateNotRelevant
}

// ChangeStatus is the host status of a change.
type ChangeStatus string

const (
	ChangeStatusOpen      ChangeStatus = "open"
	ChangeStatusMerged    ChangeStatus = "merged"
	ChangeStatusAbandoned ChangeStatus = "abandoned"
)

// IsOpen reports whether the change is still under review.
func (s ChangeStatus) IsOpen() bool { return s == ChangeStatusOpen }
