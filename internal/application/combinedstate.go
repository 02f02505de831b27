package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// CombinedStateLoader computes the combined check state of a patch set from
// the stored checks.
type CombinedStateLoader interface {
	GetCombinedCheckState(ctx context.Context, repository string, ps model.PatchSetID) (model.CombinedCheckState, error)
}

// Compile-time interface satisfaction check.
var _ driven.RefUpdateListener = (*CombinedStateCache)(nil)

// CombinedStateCache memoizes the combined check state per patch set.
//
// Reload reads, computes and writes without holding a lock: two concurrent
// reloads of one patch set may finish in either order and leave the older
// value behind until the next reload, which any view of the change or write
// to the patch set triggers.
type CombinedStateCache struct {
	store   driven.CombinedStateStore
	loader  CombinedStateLoader
	metrics *metrics.Metrics
}

// NewCombinedStateCache creates a CombinedStateCache.
func NewCombinedStateCache(store driven.CombinedStateStore, loader CombinedStateLoader, m *metrics.Metrics) *CombinedStateCache {
	return &CombinedStateCache{store: store, loader: loader, metrics: m}
}

// Get returns the cached state, computing and caching it on a miss.
func (c *CombinedStateCache) Get(ctx context.Context, repository string, ps model.PatchSetID) (model.CombinedCheckState, error) {
	key := driven.CombinedStateKey{Repository: repository, PatchSet: ps}

	state, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("combined state cache read failed", "key", key.String(), "error", err)
	}
	c.metrics.RecordCacheLookup(ok && err == nil)
	if ok && err == nil {
		return state, nil
	}

	return c.Reload(ctx, repository, ps)
}

// Reload recomputes the state and writes it to the cache only if it differs
// from the cached value. It returns the fresh state.
func (c *CombinedStateCache) Reload(ctx context.Context, repository string, ps model.PatchSetID) (model.CombinedCheckState, error) {
	key := driven.CombinedStateKey{Repository: repository, PatchSet: ps}

	fresh, err := c.loader.GetCombinedCheckState(ctx, repository, ps)
	if err != nil {
		return "", fmt.Errorf("compute combined state of %s: %w", key, err)
	}

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("combined state cache read failed", "key", key.String(), "error", err)
		ok = false
	}

	changed := !ok || cached != fresh
	c.metrics.RecordReload(changed)
	if changed {
		if err := c.store.Put(ctx, key, fresh); err != nil {
			slog.Warn("combined state cache write failed", "key", key.String(), "error", err)
		}
	}
	return fresh, nil
}

// UpdateIfNecessary reloads the state, logging instead of returning errors.
func (c *CombinedStateCache) UpdateIfNecessary(ctx context.Context, repository string, ps model.PatchSetID) {
	if _, err := c.Reload(ctx, repository, ps); err != nil {
		slog.Warn("failed to update combined check state", "repo", repository, "patch_set", ps.String(), "error", err)
	}
}

// OnRefUpdated refreshes the state of the patch set whose checks were written.
func (c *CombinedStateCache) OnRefUpdated(ctx context.Context, ev driven.RefUpdate) {
	if ev.PatchSet == nil {
		return
	}
	c.UpdateIfNecessary(ctx, ev.Repository, *ev.PatchSet)
}
