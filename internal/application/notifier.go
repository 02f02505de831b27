package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.Notifier          = (*LogNotifier)(nil)
	_ driven.RefUpdateListener = (*AuditListener)(nil)
)

// LogNotifier is the Notifier used when no external system is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyCombinedStateChanged implements driven.Notifier.
func (n *LogNotifier) NotifyCombinedStateChanged(ctx context.Context, ev driven.CombinedStateChange) error {
	n.logger.InfoContext(ctx, "combined check state changed",
		"repo", ev.Change.Repository,
		"change", ev.Change.Number,
		"patch_set", ev.PatchSet.ID.Number,
		"old", ev.Old,
		"new", ev.New,
		"checker", ev.Check.Key.CheckerUUID.String(),
		"check_state", ev.Check.State,
	)
	return nil
}

// AuditListener logs every ref advance of the check store.
type AuditListener struct {
	logger *slog.Logger
}

// NewAuditListener creates an AuditListener writing to logger.
func NewAuditListener(logger *slog.Logger) *AuditListener {
	return &AuditListener{logger: logger}
}

// OnRefUpdated implements driven.RefUpdateListener.
func (l *AuditListener) OnRefUpdated(ctx context.Context, ev driven.RefUpdate) {
	attrs := []any{"ref", ev.Ref, "old", string(ev.OldID), "new", string(ev.NewID), "message", ev.Message}
	if ev.PatchSet != nil {
		attrs = append(attrs, "repo", ev.Repository, "patch_set", ev.PatchSet.String())
	}
	l.logger.InfoContext(ctx, "ref updated", attrs...)
}
