package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ericfisherdev/checkgate/internal/domain/checkquery"
	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// DefaultMaxSchemeCheckers bounds the fan-out of a scheme query.
const DefaultMaxSchemeCheckers = 10

// PendingChecks lists the matching checks of one patch set.
type PendingChecks struct {
	Repository string
	PatchSet   model.PatchSetID
	Checks     map[string]model.CheckState // Keyed by checker UUID.
}

// PendingChecksService answers check queries across changes, typically used
// by checker implementations polling for work.
type PendingChecksService struct {
	checks            *CheckService
	maxSchemeCheckers int
}

// NewPendingChecksService creates a PendingChecksService. maxSchemeCheckers
// <= 0 selects DefaultMaxSchemeCheckers.
func NewPendingChecksService(checks *CheckService, maxSchemeCheckers int) *PendingChecksService {
	if maxSchemeCheckers <= 0 {
		maxSchemeCheckers = DefaultMaxSchemeCheckers
	}
	return &PendingChecksService{checks: checks, maxSchemeCheckers: maxSchemeCheckers}
}

// Query returns the checks matching q on the current patch sets of the
// changes relevant to the anchored checkers. A query without a state
// operator only matches NOT_STARTED checks. The query is validated before
// any storage access.
func (s *PendingChecksService) Query(ctx context.Context, q string) ([]PendingChecks, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	node, anchor, err := checkquery.Compile(q)
	if err != nil {
		return nil, err
	}

	checkers, err := s.anchoredCheckers(ctx, anchor)
	if err != nil {
		return nil, err
	}

	byPatchSet := make(map[string]*PendingChecks)
	var order []string
	for _, checker := range checkers {
		query := checker.Query
		if strings.TrimSpace(query) == "" {
			query = defaultCheckerQuery
		}
		changes, err := s.checks.changes.Query(ctx, checker.Repository, query, 0)
		if err != nil {
			return nil, fmt.Errorf("query changes for checker %s: %w", checker.UUID, err)
		}

		for _, change := range changes {
			key := model.CheckKey{
				Repository:  checker.Repository,
				PatchSet:    change.CurrentPatchSet.ID,
				CheckerUUID: checker.UUID,
			}
			d, err := s.checks.GetCheck(ctx, key, GetChecksOptions{Backfill: true})
			if errors.Is(err, driven.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !node.Match(d.Check) {
				continue
			}

			id := checker.Repository + "/" + key.PatchSet.String()
			pc, ok := byPatchSet[id]
			if !ok {
				pc = &PendingChecks{
					Repository: checker.Repository,
					PatchSet:   key.PatchSet,
					Checks:     make(map[string]model.CheckState),
				}
				byPatchSet[id] = pc
				order = append(order, id)
			}
			pc.Checks[checker.UUID.String()] = d.Check.State
		}
	}

	out := make([]PendingChecks, 0, len(order))
	for _, id := range order {
		out = append(out, *byPatchSet[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Repository != out[j].Repository {
			return out[i].Repository < out[j].Repository
		}
		if out[i].PatchSet.Change != out[j].PatchSet.Change {
			return out[i].PatchSet.Change < out[j].PatchSet.Change
		}
		return out[i].PatchSet.Number < out[j].PatchSet.Number
	})
	return out, nil
}

// anchoredCheckers resolves the enabled checkers the query is bound to.
func (s *PendingChecksService) anchoredCheckers(ctx context.Context, anchor checkquery.Anchor) ([]model.Checker, error) {
	if anchor.Kind == checkquery.KindChecker {
		checker, err := s.checks.checkers.Get(ctx, anchor.Checker)
		if errors.Is(err, driven.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get checker %s: %w", anchor.Checker, err)
		}
		if !checker.IsEnabled() {
			return nil, nil
		}
		return []model.Checker{*checker}, nil
	}

	all, err := s.checks.checkers.ListByScheme(ctx, anchor.Scheme)
	if err != nil {
		return nil, fmt.Errorf("list checkers of scheme %s: %w", anchor.Scheme, err)
	}
	enabled := make([]model.Checker, 0, len(all))
	for _, c := range all {
		if c.IsEnabled() {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) > s.maxSchemeCheckers {
		return nil, fmt.Errorf("%w: too many checkers for scheme %s: %d (max %d)",
			ErrResourceConflict, anchor.Scheme, len(enabled), s.maxSchemeCheckers)
	}
	return enabled, nil
}
