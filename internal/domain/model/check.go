package model

import (
	"fmt"
	"time"
)

// PatchSetID identifies an immutable revision of a change.
type PatchSetID struct {
	Change int
	Number int
}

// String renders the id as "change,patchset".
func (id PatchSetID) String() string {
	return fmt.Sprintf("%d,%d", id.Change, id.Number)
}

// CheckKey identifies a check: one checker on one patch set of one repository.
type CheckKey struct {
	Repository  string
	PatchSet    PatchSetID
	CheckerUUID CheckerUUID
}

// String renders the key for logs and error messages.
func (k CheckKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Repository, k.PatchSet, k.CheckerUUID)
}

// Check is the result of one checker on one patch set.
type Check struct {
	Key        CheckKey
	State      CheckState
	Message    string    // Empty when unset.
	URL        string    // Empty when unset.
	Started    time.Time // Zero when unset.
	Finished   time.Time // Zero when unset.
	Created    time.Time
	Updated    time.Time
	Overrides  []CheckOverride // Ordered by creation.
	Backfilled bool            // Synthesized from checker applicability; never persisted.
}

// NewBackfilledCheck synthesizes the NOT_STARTED check implied by a relevant
// checker that has no stored record for ps yet.
func NewBackfilledCheck(repository string, ps PatchSet, checker Checker) Check {
	return Check{
		Key: CheckKey{
			Repository:  repository,
			PatchSet:    ps.ID,
			CheckerUUID: checker.UUID,
		},
		State:      CheckStateNotStarted,
		Created:    ps.Created,
		Updated:    ps.Created,
		Backfilled: true,
	}
}

// OverriddenBy reports whether overrider already overrode the check.
func (c Check) OverriddenBy(overrider string) bool {
	for _, o := range c.Overrides {
		if o.Overrider == overrider {
			return true
		}
	}
	return false
}

// CheckOverride records that an identity waived a check.
type CheckOverride struct {
	Overrider string
	Reason    string
	Created   time.Time
}

// MaxOverrideReasonLength bounds CheckOverride.Reason.
const MaxOverrideReasonLength = 300

// CheckUpdate is a partial, field-level update of a check. Nil fields are
// left untouched. An empty Message or URL clears the field; a zero Started
// or Finished time clears the timestamp.
type CheckUpdate struct {
	State       *CheckState
	Message     *string
	URL         *string
	Started     *time.Time
	Finished    *time.Time
	NewOverride *CheckOverride
}

// Change is the host's view of a change under review.
type Change struct {
	Repository      string
	Number          int
	Status          ChangeStatus
	Owner           string
	Branch          string
	Subject         string
	CurrentPatchSet PatchSet
	Created         time.Time
	Updated         time.Time
}

// PatchSet is one immutable revision of a change.
type PatchSet struct {
	ID       PatchSetID
	Revision string // Commit id of the revision.
	Created  time.Time
}
