package driven

import (
	"context"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// CheckerStore defines the driven port for checker persistence.
type CheckerStore interface {
	// Get returns the checker with the given UUID. Returns ErrNotFound if it
	// does not exist and an error wrapping ErrConfigInvalid if its stored
	// config cannot be decoded.
	Get(ctx context.Context, uuid model.CheckerUUID) (*model.Checker, error)

	// List returns all checkers sorted by UUID. Invalid checkers are skipped.
	List(ctx context.Context) ([]model.Checker, error)

	// ListByScheme returns all checkers of a scheme sorted by UUID. Invalid
	// checkers are skipped.
	ListByScheme(ctx context.Context, scheme string) ([]model.Checker, error)

	// CheckersOf returns all checkers scoped to the repository regardless of
	// status, sorted by UUID. Invalid checkers are skipped.
	CheckersOf(ctx context.Context, repository string) ([]model.Checker, error)

	// Create stores a new checker, applying update on top of the creation
	// defaults. Returns ErrDuplicateKey if the UUID is taken.
	Create(ctx context.Context, creation model.CheckerCreation, update model.CheckerUpdate) (*model.Checker, error)

	// Update applies a partial update. Returns ErrNotFound if the checker does
	// not exist.
	Update(ctx context.Context, uuid model.CheckerUUID, update model.CheckerUpdate) (*model.Checker, error)

	// DeleteRef removes the checker ref and its repository index entry. This
	// is an administrative correction; disabling is the normal soft delete.
	DeleteRef(ctx context.Context, uuid model.CheckerUUID) error
}
