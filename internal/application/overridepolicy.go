package application

import "github.com/ericfisherdev/checkgate/internal/domain/model"

// OverrideImpact is the effect a set of overrides has on a check.
type OverrideImpact struct {
	Overridden bool
	Message    string // Optional explanation shown next to the check.
}

// OverridePolicy decides whether the overrides recorded on a check waive it.
// An overridden required check no longer gates submission.
type OverridePolicy interface {
	ComputeImpact(overrides []model.CheckOverride) OverrideImpact
}

// SingleOverridePolicy waives a check as soon as anyone overrides it.
type SingleOverridePolicy struct{}

// Compile-time interface satisfaction check.
var _ OverridePolicy = SingleOverridePolicy{}

// ComputeImpact implements OverridePolicy.
func (SingleOverridePolicy) ComputeImpact(overrides []model.CheckOverride) OverrideImpact {
	return OverrideImpact{Overridden: len(overrides) > 0}
}
