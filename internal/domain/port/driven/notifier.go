package driven

import (
	"context"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// CombinedStateChange describes a transition of a patch set's combined check state.
type CombinedStateChange struct {
	Change   model.Change
	PatchSet model.PatchSet
	Old      model.CombinedCheckState
	New      model.CombinedCheckState
	Check    model.Check   // The check whose update caused the transition.
	Checker  model.Checker // Checker of Check.
}

// Notifier defines the driven port for best-effort notifications. Callers log
// returned errors and never propagate them into the write path.
type Notifier interface {
	NotifyCombinedStateChanged(ctx context.Context, ev CombinedStateChange) error
}
