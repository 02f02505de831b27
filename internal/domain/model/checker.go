package model

import "time"

// Checker describes an external verification job and the policy attached to it.
type Checker struct {
	UUID               CheckerUUID
	Name               string
	Description        string // Empty when unset.
	URL                string // Empty when unset.
	Repository         string // Repository the checker applies to.
	Status             CheckerStatus
	BlockingConditions []BlockingCondition // Sorted, deduplicated.
	Query              string              // Change search restricting relevant changes; empty means all open changes.
	Created            time.Time
	Updated            time.Time
	RefState           string // Tip of the checker's config ref when it was read.
}

// IsEnabled reports whether the checker is enabled.
func (c Checker) IsEnabled() bool { return c.Status == CheckerStatusEnabled }

// IsDisabled reports whether the checker is disabled.
func (c Checker) IsDisabled() bool { return c.Status == CheckerStatusDisabled }

// IsRequired reports whether checks of this checker take part in submit gating.
func (c Checker) IsRequired() bool {
	return c.IsEnabled() && len(c.BlockingConditions) > 0
}

// CheckerCreation carries the mandatory properties of a new checker.
type CheckerCreation struct {
	UUID       CheckerUUID
	Name       string
	Repository string
}

// CheckerUpdate is a partial update of a checker. Nil fields are left
// untouched; an empty string unsets an optional string property.
type CheckerUpdate struct {
	Name               *string
	Description        *string
	URL                *string
	Repository         *string
	Status             *CheckerStatus
	BlockingConditions *[]BlockingCondition
	Query              *string
}

// IsEmpty reports whether the update touches no property.
func (u CheckerUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.URL == nil && u.Repository == nil &&
		u.Status == nil && u.BlockingConditions == nil && u.Query == nil
}
