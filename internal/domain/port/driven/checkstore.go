package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

var (
	// ErrNotFound is returned when a requested checker, check, change or patch set does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when creating something that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConfigInvalid is returned when a stored record cannot be decoded.
	ErrConfigInvalid = errors.New("invalid stored config")

	// ErrDuplicateOverride is returned when an identity overrides the same check twice.
	ErrDuplicateOverride = errors.New("check already overridden by this identity")
)

// StoredCheck is one persisted check record of a revision. Exactly one of
// Check and Err is set; Err wraps ErrConfigInvalid when the record could not
// be decoded.
type StoredCheck struct {
	CheckerUUID string // Raw key as stored.
	Check       *model.Check
	Err         error
}

// CheckStore defines the driven port for check persistence. Checks of one
// change live in a single log ref; every write rewrites the whole
// per-revision map through compare-and-swap.
type CheckStore interface {
	// ListChecks returns the stored check records of a revision. A revision
	// without records yields an empty slice.
	ListChecks(ctx context.Context, repository string, ps model.PatchSet) ([]StoredCheck, error)

	// CreateCheck inserts the first record for key. It fails with
	// ErrDuplicateKey if a record exists and with ErrNotFound if the checker
	// does not exist. update.State is mandatory.
	CreateCheck(ctx context.Context, key model.CheckKey, revision string, update model.CheckUpdate) (*model.Check, error)

	// UpdateCheck merges update into the existing record for key. It fails with
	// ErrNotFound if no record exists. A no-op update writes nothing and
	// returns the unchanged check.
	UpdateCheck(ctx context.Context, key model.CheckKey, revision string, update model.CheckUpdate) (*model.Check, error)
}
