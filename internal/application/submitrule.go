package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// SubmitStatus is the verdict of the submit rule.
type SubmitStatus string

const (
	SubmitStatusOK        SubmitStatus = "OK"
	SubmitStatusNotReady  SubmitStatus = "NOT_READY"
	SubmitStatusRuleError SubmitStatus = "RULE_ERROR"
)

// SubmitRequirement names a condition that must hold before submission.
type SubmitRequirement struct {
	Type         string
	FallbackText string
}

// PassingAllBlockingChecks is reported while required checks are not passing.
var PassingAllBlockingChecks = SubmitRequirement{
	Type:         "passing_all_blocking_checks",
	FallbackText: "Passing all blocking checks required",
}

// SubmitRecord is the outcome of evaluating the submit rule on a change.
type SubmitRecord struct {
	Status        SubmitStatus
	ErrorMessage  string // Set for RULE_ERROR.
	Requirements  []SubmitRequirement
	CombinedState model.CombinedCheckState // Unset for RULE_ERROR.
}

// SubmitRule gates submission of a change on the checks of its current
// patch set.
type SubmitRule struct {
	checks *CheckService
}

// NewSubmitRule creates a SubmitRule reading through checks.
func NewSubmitRule(checks *CheckService) *SubmitRule {
	return &SubmitRule{checks: checks}
}

// Evaluate computes the submit record of a change. Failures to read checks
// or checkers yield a RULE_ERROR record. A missing change is returned as an
// error wrapping driven.ErrNotFound. Stored checkers that contradict the read
// path yield an error wrapping ErrInternalConsistency.
func (r *SubmitRule) Evaluate(ctx context.Context, repository string, number int) (SubmitRecord, error) {
	change, err := r.checks.changes.GetChange(ctx, repository, number)
	if errors.Is(err, driven.ErrNotFound) {
		return SubmitRecord{}, fmt.Errorf("get change %d of %s: %w", number, repository, err)
	}
	if err != nil {
		return ruleError(repository, number, "failed to load the change", err), nil
	}
	psID := change.CurrentPatchSet.ID

	details, err := r.checks.GetCheckDetails(ctx, repository, psID, GetChecksOptions{Backfill: true})
	if err != nil {
		return ruleError(repository, number, "failed to load the checks", err), nil
	}
	checkers, err := r.checks.checkers.CheckersOf(ctx, repository)
	if err != nil {
		return ruleError(repository, number, "failed to load the checkers", err), nil
	}

	byUUID := make(map[string]CheckDetail, len(details))
	for _, d := range details {
		byUUID[d.Check.Key.CheckerUUID.String()] = d
	}

	states := make([]model.StateRequired, 0, len(checkers))
	for _, checker := range checkers {
		if !checker.IsEnabled() || len(checker.BlockingConditions) == 0 {
			continue
		}
		if !legalBlocking(checker.BlockingConditions) {
			return SubmitRecord{}, fmt.Errorf("%w: checker %s has illegal blocking conditions %v",
				ErrInternalConsistency, checker.UUID, checker.BlockingConditions)
		}

		d, ok := byUUID[checker.UUID.String()]
		if !ok {
			if r.checks.relevant(ctx, *change, checker) {
				return SubmitRecord{}, fmt.Errorf("%w: no check of required checker %s on %s",
					ErrInternalConsistency, checker.UUID, psID)
			}
			continue
		}
		states = append(states, model.StateRequired{State: d.Check.State, Required: !d.Override.Overridden})
	}

	combined := model.CombineCheckStates(states)
	if combined.IsPassing() {
		return SubmitRecord{Status: SubmitStatusOK, CombinedState: combined}, nil
	}
	return SubmitRecord{
		Status:        SubmitStatusNotReady,
		Requirements:  []SubmitRequirement{PassingAllBlockingChecks},
		CombinedState: combined,
	}, nil
}

func ruleError(repository string, number int, msg string, err error) SubmitRecord {
	slog.Error("submit rule failed", "repo", repository, "change", number, "error", err)
	return SubmitRecord{
		Status:       SubmitStatusRuleError,
		ErrorMessage: fmt.Sprintf("%s for change %d", msg, number),
	}
}

// legalBlocking reports whether conditions is exactly {STATE_NOT_PASSING}.
func legalBlocking(conditions []model.BlockingCondition) bool {
	return len(conditions) == 1 && conditions[0] == model.BlockingStateNotPassing
}
