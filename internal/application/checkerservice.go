package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// CheckerService validates and applies checker administration.
type CheckerService struct {
	checkers driven.CheckerStore
	changes  driven.ChangeIndex
}

// NewCheckerService creates a CheckerService.
func NewCheckerService(checkers driven.CheckerStore, changes driven.ChangeIndex) *CheckerService {
	return &CheckerService{checkers: checkers, changes: changes}
}

// Create registers a new checker. Name and repository are mandatory.
func (s *CheckerService) Create(ctx context.Context, rawUUID string, update model.CheckerUpdate) (*model.Checker, error) {
	uuid, err := model.ParseCheckerUUID(strings.TrimSpace(rawUUID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if update.Name == nil || strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if update.Repository == nil || strings.TrimSpace(*update.Repository) == "" {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidInput)
	}

	update, err = s.validate(update)
	if err != nil {
		return nil, err
	}

	creation := model.CheckerCreation{UUID: uuid, Name: *update.Name, Repository: *update.Repository}
	update.Name, update.Repository = nil, nil

	c, err := s.checkers.Create(ctx, creation, update)
	if errors.Is(err, driven.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: checker %s already exists: %w", ErrResourceConflict, uuid, err)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("checker created", "checker", c.UUID.String(), "repo", c.Repository)
	return c, nil
}

// Update applies a partial update to an existing checker.
func (s *CheckerService) Update(ctx context.Context, rawUUID string, update model.CheckerUpdate) (*model.Checker, error) {
	uuid, err := s.parse(rawUUID)
	if err != nil {
		return nil, err
	}
	update, err = s.validate(update)
	if err != nil {
		return nil, err
	}

	c, err := s.checkers.Update(ctx, uuid, update)
	if err != nil {
		return nil, err
	}
	slog.Info("checker updated", "checker", c.UUID.String(), "status", c.Status)
	return c, nil
}

// Get returns a single checker.
func (s *CheckerService) Get(ctx context.Context, rawUUID string) (*model.Checker, error) {
	uuid, err := s.parse(rawUUID)
	if err != nil {
		return nil, err
	}
	return s.checkers.Get(ctx, uuid)
}

// List returns all checkers, or those of scheme when it is non-empty.
func (s *CheckerService) List(ctx context.Context, scheme string) ([]model.Checker, error) {
	if scheme = strings.TrimSpace(scheme); scheme != "" {
		return s.checkers.ListByScheme(ctx, scheme)
	}
	return s.checkers.List(ctx)
}

// Delete removes a checker's ref. Disabling is the regular way to retire a
// checker; deletion corrects administrative mistakes.
func (s *CheckerService) Delete(ctx context.Context, rawUUID string) error {
	uuid, err := s.parse(rawUUID)
	if err != nil {
		return err
	}
	if err := s.checkers.DeleteRef(ctx, uuid); err != nil {
		return err
	}
	slog.Warn("checker ref deleted", "checker", uuid.String())
	return nil
}

func (s *CheckerService) parse(rawUUID string) (model.CheckerUUID, error) {
	uuid, err := model.ParseCheckerUUID(strings.TrimSpace(rawUUID))
	if err != nil {
		// Malformed identifiers cannot name an existing checker.
		return model.CheckerUUID{}, fmt.Errorf("%w: %w", driven.ErrNotFound, err)
	}
	return uuid, nil
}

// validate normalizes the set fields of update.
func (s *CheckerService) validate(update model.CheckerUpdate) (model.CheckerUpdate, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return update, fmt.Errorf("%w: name cannot be unset", ErrInvalidInput)
		}
		update.Name = &name
	}
	if update.Repository != nil {
		repo := strings.TrimSpace(*update.Repository)
		if repo == "" {
			return update, fmt.Errorf("%w: repository cannot be unset", ErrInvalidInput)
		}
		update.Repository = &repo
	}
	if update.Description != nil {
		desc := strings.TrimSpace(*update.Description)
		update.Description = &desc
	}
	if update.URL != nil {
		cleaned, err := cleanURL(*update.URL)
		if err != nil {
			return update, err
		}
		update.URL = &cleaned
	}
	if update.BlockingConditions != nil {
		bcs := *update.BlockingConditions
		if len(bcs) > 0 && !legalBlocking(dedupBlocking(bcs)) {
			return update, fmt.Errorf("%w: blocking conditions must be empty or [%s]",
				ErrInvalidInput, model.BlockingStateNotPassing)
		}
	}
	if update.Query != nil {
		q := strings.TrimSpace(*update.Query)
		if q != "" {
			if err := s.changes.ValidateQuery(q); err != nil {
				return update, fmt.Errorf("%w: invalid checker query: %w", ErrInvalidInput, err)
			}
		}
		update.Query = &q
	}
	return update, nil
}

func dedupBlocking(bcs []model.BlockingCondition) []model.BlockingCondition {
	seen := make(map[model.BlockingCondition]bool, len(bcs))
	out := make([]model.BlockingCondition, 0, len(bcs))
	for _, bc := range bcs {
		if !seen[bc] {
			seen[bc] = true
			out = append(out, bc)
		}
	}
	return out
}
