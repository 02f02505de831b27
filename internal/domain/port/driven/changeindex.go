package driven

import (
	"context"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// ChangeIndex defines the driven port onto the host's change model.
type ChangeIndex interface {
	// GetChange returns the change with its current patch set. Returns
	// ErrNotFound if it does not exist.
	GetChange(ctx context.Context, repository string, number int) (*model.Change, error)

	// GetPatchSet returns a single patch set. Returns ErrNotFound if it does
	// not exist.
	GetPatchSet(ctx context.Context, repository string, id model.PatchSetID) (*model.PatchSet, error)

	// Query returns up to limit changes of repository matching the change
	// search query, most recently updated first. limit <= 0 means no limit.
	Query(ctx context.Context, repository string, query string, limit int) ([]model.Change, error)

	// Match evaluates a change search query against a single change.
	Match(ctx context.Context, change model.Change, query string) (bool, error)

	// ValidateQuery reports whether query is a parseable change search.
	ValidateQuery(query string) error
}
