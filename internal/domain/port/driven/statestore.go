package driven

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// CombinedStateKey keys cached combined check states.
type CombinedStateKey struct {
	Repository string
	PatchSet   model.PatchSetID
}

// String renders a storage key. Numbers come first so repository names
// containing separators stay unambiguous.
func (k CombinedStateKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.PatchSet.Change, k.PatchSet.Number, k.Repository)
}

// CombinedStateStore defines the driven port for the bounded persistent cache
// behind the combined check state. It holds no ground truth: every value is
// reconstructible from the checks.
type CombinedStateStore interface {
	// Get returns the cached state and whether it was present.
	Get(ctx context.Context, key CombinedStateKey) (model.CombinedCheckState, bool, error)
	// Put stores the state, possibly evicting other entries.
	Put(ctx context.Context, key CombinedStateKey, state model.CombinedCheckState) error
}
