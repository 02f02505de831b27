package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// defaultCheckerQuery restricts checkers without a query to open changes.
const defaultCheckerQuery = "status:open"

// GetChecksOptions controls the read path.
type GetChecksOptions struct {
	// Backfill synthesizes NOT_STARTED checks for relevant enabled checkers
	// that have not reported yet.
	Backfill bool
}

// CheckDetail is a check together with the checker it belongs to.
type CheckDetail struct {
	Check    model.Check
	Checker  model.Checker
	Required bool // The checker gates submission.
	Override OverrideImpact
}

// Gating reports whether the check takes part in the combined state.
func (d CheckDetail) Gating() bool {
	return d.Required && !d.Override.Overridden
}

// CheckService implements reading and writing checks. Writes refresh the
// combined state cache through the check store's listeners and publish
// combined state transitions of the current patch set.
type CheckService struct {
	checks   driven.CheckStore
	checkers driven.CheckerStore
	changes  driven.ChangeIndex
	notifier driven.Notifier
	policy   OverridePolicy
	cache    *CombinedStateCache
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCheckService creates a CheckService and the combined state cache it
// loads. A nil notifier disables notifications; a nil policy means
// SingleOverridePolicy.
func NewCheckService(
	checks driven.CheckStore,
	checkers driven.CheckerStore,
	changes driven.ChangeIndex,
	states driven.CombinedStateStore,
	notifier driven.Notifier,
	policy OverridePolicy,
	m *metrics.Metrics,
) *CheckService {
	if policy == nil {
		policy = SingleOverridePolicy{}
	}
	s := &CheckService{
		checks:   checks,
		checkers: checkers,
		changes:  changes,
		notifier: notifier,
		policy:   policy,
		metrics:  m,
		now:      time.Now,
	}
	s.cache = NewCombinedStateCache(states, s, m)
	return s
}

// StateCache returns the combined state cache backed by this service. It must
// be registered as a listener of the check store.
func (s *CheckService) StateCache() *CombinedStateCache {
	return s.cache
}

// GetCheckDetails returns the checks of a patch set sorted by checker UUID.
// Stored checks of disabled checkers and of checkers no longer scoped to the
// repository are omitted. Undecodable records are logged and skipped; with
// backfill their checker is treated as not having reported.
func (s *CheckService) GetCheckDetails(ctx context.Context, repository string, psID model.PatchSetID, opts GetChecksOptions) ([]CheckDetail, error) {
	ps, err := s.changes.GetPatchSet(ctx, repository, psID)
	if err != nil {
		return nil, fmt.Errorf("get patch set %s of %s: %w", psID, repository, err)
	}

	applicable, err := s.checkers.CheckersOf(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("list checkers of %s: %w", repository, err)
	}
	byUUID := make(map[string]model.Checker, len(applicable))
	for _, c := range applicable {
		byUUID[c.UUID.String()] = c
	}

	stored, err := s.checks.ListChecks(ctx, repository, *ps)
	if err != nil {
		return nil, fmt.Errorf("list checks of %s: %w", psID, err)
	}

	consumed := make(map[string]bool, len(stored))
	details := make([]CheckDetail, 0, len(applicable))
	for _, sc := range stored {
		if sc.Err != nil {
			slog.Warn("skipping unreadable check",
				"repo", repository, "patch_set", psID.String(), "checker", sc.CheckerUUID, "error", sc.Err)
			continue
		}
		uuid := sc.Check.Key.CheckerUUID.String()
		checker, ok := byUUID[uuid]
		if !ok {
			continue
		}
		consumed[uuid] = true
		if checker.IsDisabled() {
			continue
		}
		details = append(details, s.detail(*sc.Check, checker))
	}

	if opts.Backfill {
		var change *model.Change
		for _, checker := range applicable {
			if consumed[checker.UUID.String()] || !checker.IsEnabled() {
				continue
			}
			if change == nil {
				change, err = s.changes.GetChange(ctx, repository, psID.Change)
				if err != nil {
					return nil, fmt.Errorf("get change %d of %s: %w", psID.Change, repository, err)
				}
			}
			if !s.relevant(ctx, *change, checker) {
				continue
			}
			details = append(details, s.detail(model.NewBackfilledCheck(repository, *ps, checker), checker))
		}
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Check.Key.CheckerUUID.Compare(details[j].Check.Key.CheckerUUID) < 0
	})
	return details, nil
}

// GetChecks is GetCheckDetails without the checker details.
func (s *CheckService) GetChecks(ctx context.Context, repository string, psID model.PatchSetID, opts GetChecksOptions) ([]model.Check, error) {
	details, err := s.GetCheckDetails(ctx, repository, psID, opts)
	if err != nil {
		return nil, err
	}
	checks := make([]model.Check, 0, len(details))
	for _, d := range details {
		checks = append(checks, d.Check)
	}
	return checks, nil
}

// GetCheck returns a single check. A check that is not stored is backfilled
// when requested and its checker is enabled and relevant for the change;
// otherwise ErrNotFound is returned.
func (s *CheckService) GetCheck(ctx context.Context, key model.CheckKey, opts GetChecksOptions) (*CheckDetail, error) {
	ps, err := s.changes.GetPatchSet(ctx, key.Repository, key.PatchSet)
	if err != nil {
		return nil, fmt.Errorf("get patch set %s of %s: %w", key.PatchSet, key.Repository, err)
	}

	checker, err := s.checkers.Get(ctx, key.CheckerUUID)
	if err != nil {
		return nil, fmt.Errorf("get checker %s: %w", key.CheckerUUID, err)
	}
	if checker.Repository != key.Repository || checker.IsDisabled() {
		return nil, fmt.Errorf("check %s: %w", key, driven.ErrNotFound)
	}

	stored, err := s.findStored(ctx, key, *ps)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		d := s.detail(*stored, *checker)
		return &d, nil
	}

	if !opts.Backfill {
		return nil, fmt.Errorf("check %s: %w", key, driven.ErrNotFound)
	}
	change, err := s.changes.GetChange(ctx, key.Repository, key.PatchSet.Change)
	if err != nil {
		return nil, fmt.Errorf("get change %d of %s: %w", key.PatchSet.Change, key.Repository, err)
	}
	if !s.relevant(ctx, *change, *checker) {
		return nil, fmt.Errorf("check %s: %w", key, driven.ErrNotFound)
	}
	d := s.detail(model.NewBackfilledCheck(key.Repository, *ps, *checker), *checker)
	return &d, nil
}

// GetCombinedCheckState folds the backfilled checks of a patch set. Checks of
// required checkers gate unless the override policy waives them.
func (s *CheckService) GetCombinedCheckState(ctx context.Context, repository string, psID model.PatchSetID) (model.CombinedCheckState, error) {
	details, err := s.GetCheckDetails(ctx, repository, psID, GetChecksOptions{Backfill: true})
	if err != nil {
		return "", err
	}
	states := make([]model.StateRequired, 0, len(details))
	for _, d := range details {
		states = append(states, model.StateRequired{State: d.Check.State, Required: d.Gating()})
	}
	return model.CombineCheckStates(states), nil
}

// CombinedStateOfChange returns the combined state of the change's current
// patch set. Viewing a change reloads its cache entry, which repairs values
// left stale by racing reloads or checker edits.
func (s *CheckService) CombinedStateOfChange(ctx context.Context, repository string, number int) (*model.Change, model.CombinedCheckState, error) {
	change, err := s.changes.GetChange(ctx, repository, number)
	if err != nil {
		return nil, "", fmt.Errorf("get change %d of %s: %w", number, repository, err)
	}
	state, err := s.cache.Reload(ctx, repository, change.CurrentPatchSet.ID)
	if err != nil {
		return nil, "", err
	}
	return change, state, nil
}

// CombinedStateOfPatchSet is CombinedStateOfChange for a given patch set.
func (s *CheckService) CombinedStateOfPatchSet(ctx context.Context, repository string, psID model.PatchSetID) (model.CombinedCheckState, error) {
	return s.cache.Reload(ctx, repository, psID)
}

// PostCheck creates the check if none is stored, otherwise updates it.
// Creating requires the checker to exist and a state to be given.
func (s *CheckService) PostCheck(ctx context.Context, repository string, psID model.PatchSetID, rawUUID string, update model.CheckUpdate) (*model.Check, error) {
	key, ps, err := s.resolve(ctx, repository, psID, rawUUID)
	if err != nil {
		return nil, err
	}

	update.NewOverride = nil
	if update.URL != nil {
		cleaned, err := cleanURL(*update.URL)
		if err != nil {
			return nil, err
		}
		update.URL = &cleaned
	}
	if update.Message != nil {
		trimmed := strings.TrimSpace(*update.Message)
		update.Message = &trimmed
	}

	existing, err := s.findStored(ctx, key, *ps)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.write(ctx, *ps, key, func() (*model.Check, error) {
			return s.checks.UpdateCheck(ctx, key, ps.Revision, update)
		})
	}

	if _, err := s.checkers.Get(ctx, key.CheckerUUID); err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			return nil, fmt.Errorf("%w: checker %s not found", ErrInvalidInput, key.CheckerUUID)
		}
		return nil, fmt.Errorf("get checker %s: %w", key.CheckerUUID, err)
	}
	if update.State == nil {
		return nil, fmt.Errorf("%w: state is required to create a check", ErrInvalidInput)
	}
	return s.write(ctx, *ps, key, func() (*model.Check, error) {
		return s.checks.CreateCheck(ctx, key, ps.Revision, update)
	})
}

// RerunCheck resets a check to NOT_STARTED and clears its progress fields.
// A check that was never stored is already in that state; it is returned
// backfilled without a write.
func (s *CheckService) RerunCheck(ctx context.Context, repository string, psID model.PatchSetID, rawUUID string) (*model.Check, error) {
	key, ps, err := s.resolve(ctx, repository, psID, rawUUID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findStored(ctx, key, *ps)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		checker, err := s.checkers.Get(ctx, key.CheckerUUID)
		if err != nil {
			return nil, fmt.Errorf("get checker %s: %w", key.CheckerUUID, err)
		}
		c := model.NewBackfilledCheck(repository, *ps, *checker)
		return &c, nil
	}

	state := model.CheckStateNotStarted
	empty := ""
	var zero time.Time
	update := model.CheckUpdate{
		State:    &state,
		Message:  &empty,
		URL:      &empty,
		Started:  &zero,
		Finished: &zero,
	}
	return s.write(ctx, *ps, key, func() (*model.Check, error) {
		return s.checks.UpdateCheck(ctx, key, ps.Revision, update)
	})
}

// OverrideCheck records that overrider waives the check. A check that was
// never stored is created as NOT_STARTED carrying the override.
func (s *CheckService) OverrideCheck(ctx context.Context, repository string, psID model.PatchSetID, rawUUID, overrider, reason string) (*model.Check, error) {
	overrider = strings.TrimSpace(overrider)
	reason = strings.TrimSpace(reason)
	switch {
	case overrider == "":
		return nil, fmt.Errorf("%w: overrider is required", ErrInvalidInput)
	case reason == "":
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	case len(reason) > model.MaxOverrideReasonLength:
		return nil, fmt.Errorf("%w: reason must be at most %d characters", ErrInvalidInput, model.MaxOverrideReasonLength)
	}

	key, ps, err := s.resolve(ctx, repository, psID, rawUUID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findStored(ctx, key, *ps)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.OverriddenBy(overrider) {
		return nil, fmt.Errorf("%w: %s already overrode check %s", ErrResourceConflict, overrider, key)
	}

	update := model.CheckUpdate{
		NewOverride: &model.CheckOverride{Overrider: overrider, Reason: reason, Created: s.now().UTC()},
	}

	check, err := s.write(ctx, *ps, key, func() (*model.Check, error) {
		if existing != nil {
			return s.checks.UpdateCheck(ctx, key, ps.Revision, update)
		}
		if _, err := s.checkers.Get(ctx, key.CheckerUUID); err != nil {
			return nil, fmt.Errorf("get checker %s: %w", key.CheckerUUID, err)
		}
		state := model.CheckStateNotStarted
		update.State = &state
		return s.checks.CreateCheck(ctx, key, ps.Revision, update)
	})
	if errors.Is(err, driven.ErrDuplicateOverride) {
		return nil, fmt.Errorf("%w: %w", ErrResourceConflict, err)
	}
	return check, err
}

// write runs fn and publishes the combined state transition it caused.
func (s *CheckService) write(ctx context.Context, ps model.PatchSet, key model.CheckKey, fn func() (*model.Check, error)) (*model.Check, error) {
	old, oldErr := s.cache.Get(ctx, key.Repository, ps.ID)
	if oldErr != nil {
		slog.Warn("failed to read combined state before write", "check", key.String(), "error", oldErr)
	}

	check, err := fn()
	if err != nil {
		return nil, err
	}

	if oldErr == nil {
		s.publish(ctx, ps, *check, old)
	}
	return check, nil
}

// publish notifies about a combined state transition of the change's current
// patch set. Failures are logged only.
func (s *CheckService) publish(ctx context.Context, ps model.PatchSet, check model.Check, old model.CombinedCheckState) {
	if s.notifier == nil {
		return
	}
	repository := check.Key.Repository

	current, err := s.cache.Get(ctx, repository, ps.ID)
	if err != nil {
		slog.Warn("failed to read combined state after write", "check", check.Key.String(), "error", err)
		return
	}
	if current == old {
		return
	}

	change, err := s.changes.GetChange(ctx, repository, ps.ID.Change)
	if err != nil {
		slog.Warn("failed to load change for notification", "repo", repository, "change", ps.ID.Change, "error", err)
		return
	}
	if change.CurrentPatchSet.ID != ps.ID {
		return
	}

	ev := driven.CombinedStateChange{Change: *change, PatchSet: ps, Old: old, New: current, Check: check}
	if checker, err := s.checkers.Get(ctx, check.Key.CheckerUUID); err == nil {
		ev.Checker = *checker
	}

	err = s.notifier.NotifyCombinedStateChanged(ctx, ev)
	s.metrics.RecordNotification(err)
	if err != nil {
		slog.Error("combined state notification failed",
			"repo", repository, "change", ps.ID.Change, "old", old, "new", current, "error", err)
		return
	}
	slog.Info("combined state changed", "repo", repository, "patch_set", ps.ID.String(), "old", old, "new", current)
}

// resolve parses the checker UUID and loads the patch set.
func (s *CheckService) resolve(ctx context.Context, repository string, psID model.PatchSetID, rawUUID string) (model.CheckKey, *model.PatchSet, error) {
	uuid, err := model.ParseCheckerUUID(strings.TrimSpace(rawUUID))
	if err != nil {
		return model.CheckKey{}, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	ps, err := s.changes.GetPatchSet(ctx, repository, psID)
	if err != nil {
		return model.CheckKey{}, nil, fmt.Errorf("get patch set %s of %s: %w", psID, repository, err)
	}
	return model.CheckKey{Repository: repository, PatchSet: psID, CheckerUUID: uuid}, ps, nil
}

// findStored returns the stored check for key regardless of its checker's
// status, or nil if there is none. An undecodable record is an error.
func (s *CheckService) findStored(ctx context.Context, key model.CheckKey, ps model.PatchSet) (*model.Check, error) {
	stored, err := s.checks.ListChecks(ctx, key.Repository, ps)
	if err != nil {
		return nil, fmt.Errorf("list checks of %s: %w", ps.ID, err)
	}
	for _, sc := range stored {
		if sc.CheckerUUID != key.CheckerUUID.String() {
			continue
		}
		if sc.Err != nil {
			return nil, fmt.Errorf("read check %s: %w", key, sc.Err)
		}
		return sc.Check, nil
	}
	return nil, nil
}

// relevant reports whether checker applies to change. Queries that cannot be
// evaluated count as not matching.
func (s *CheckService) relevant(ctx context.Context, change model.Change, checker model.Checker) bool {
	q := checker.Query
	if strings.TrimSpace(q) == "" {
		q = defaultCheckerQuery
	}
	ok, err := s.changes.Match(ctx, change, q)
	if err != nil {
		slog.Warn("cannot evaluate checker query",
			"checker", checker.UUID.String(), "query", q, "change", change.Number, "error", err)
		return false
	}
	return ok
}

func (s *CheckService) detail(check model.Check, checker model.Checker) CheckDetail {
	return CheckDetail{
		Check:    check,
		Checker:  checker,
		Required: checker.IsRequired(),
		Override: s.policy.ComputeImpact(check.Overrides),
	}
}

// cleanURL trims raw and accepts only absolute http and https URLs. An empty
// result clears the field.
func cleanURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL %q: %v", ErrInvalidInput, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: only http/https URLs supported: %q", ErrInvalidInput, raw)
	}
	return u.String(), nil
}
