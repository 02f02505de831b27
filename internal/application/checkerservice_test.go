package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

func newTestCheckerService() (*CheckerService, *mockCheckerStore) {
	store := newMockCheckerStore()
	return NewCheckerService(store, newMockChangeIndex()), store
}

func TestCheckerService_Create(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestCheckerService()

	c, err := svc.Create(ctx, "CI:Lint", model.CheckerUpdate{
		Name:               ptr("  Lint  "),
		Repository:         ptr(testRepo),
		URL:                ptr("https://ci.example.com/lint"),
		BlockingConditions: &[]model.BlockingCondition{model.BlockingStateNotPassing, model.BlockingStateNotPassing},
		Query:              ptr("status:open branch:main"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ci:Lint", c.UUID.String())
	assert.Equal(t, "Lint", c.Name)
	assert.Equal(t, testRepo, c.Repository)
	assert.Equal(t, "https://ci.example.com/lint", c.URL)
	assert.Equal(t, "status:open branch:main", c.Query)
	assert.Contains(t, store.checkers, "ci:Lint")

	_, err = svc.Create(ctx, "ci:Lint", model.CheckerUpdate{Name: ptr("x"), Repository: ptr(testRepo)})
	assert.ErrorIs(t, err, ErrResourceConflict)
	assert.ErrorIs(t, err, driven.ErrDuplicateKey)
}

func TestCheckerService_CreateValidation(t *testing.T) {
	valid := func() model.CheckerUpdate {
		return model.CheckerUpdate{Name: ptr("Lint"), Repository: ptr(testRepo)}
	}

	tests := []struct {
		name   string
		uuid   string
		mutate func(*model.CheckerUpdate)
	}{
		{"invalid uuid", "lint", func(*model.CheckerUpdate) {}},
		{"uuid with space", "ci:a b", func(*model.CheckerUpdate) {}},
		{"missing name", "ci:lint", func(u *model.CheckerUpdate) { u.Name = nil }},
		{"blank name", "ci:lint", func(u *model.CheckerUpdate) { u.Name = ptr(" ") }},
		{"missing repository", "ci:lint", func(u *model.CheckerUpdate) { u.Repository = nil }},
		{"bad url", "ci:lint", func(u *model.CheckerUpdate) { u.URL = ptr("mailto:ci@example.com") }},
		{"bad blocking", "ci:lint", func(u *model.CheckerUpdate) {
			u.BlockingConditions = &[]model.BlockingCondition{"STATE_FAILED"}
		}},
		{"bad query", "ci:lint", func(u *model.CheckerUpdate) { u.Query = ptr("owner:someone") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestCheckerService()
			u := valid()
			tt.mutate(&u)

			_, err := svc.Create(context.Background(), tt.uuid, u)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, store.checkers)
		})
	}
}

func TestCheckerService_Update(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestCheckerService()
	_, err := svc.Create(ctx, "ci:lint", model.CheckerUpdate{Name: ptr("Lint"), Repository: ptr(testRepo)})
	require.NoError(t, err)

	c, err := svc.Update(ctx, "ci:lint", model.CheckerUpdate{
		Status: ptr(model.CheckerStatusDisabled),
		URL:    ptr(""),
		Query:  ptr("  "),
	})
	require.NoError(t, err)
	assert.True(t, c.IsDisabled())
	assert.Empty(t, c.URL)
	assert.Empty(t, c.Query)

	_, err = svc.Update(ctx, "ci:lint", model.CheckerUpdate{Name: ptr("")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Lint", store.checkers["ci:lint"].Name)

	_, err = svc.Update(ctx, "ci:nope", model.CheckerUpdate{Name: ptr("x")})
	assert.ErrorIs(t, err, driven.ErrNotFound)

	_, err = svc.Update(ctx, "not a uuid", model.CheckerUpdate{Name: ptr("x")})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestCheckerService_ListGetDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCheckerService()
	for _, uuid := range []string{"ci:b", "ext:a", "ci:a"} {
		_, err := svc.Create(ctx, uuid, model.CheckerUpdate{Name: ptr(uuid), Repository: ptr(testRepo)})
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ci, err := svc.List(ctx, "CI")
	require.NoError(t, err)
	require.Len(t, ci, 2)
	assert.Equal(t, "ci:a", ci[0].UUID.String())
	assert.Equal(t, "ci:b", ci[1].UUID.String())

	got, err := svc.Get(ctx, "ext:a")
	require.NoError(t, err)
	assert.Equal(t, "ext:a", got.Name)

	require.NoError(t, svc.Delete(ctx, "ext:a"))
	_, err = svc.Get(ctx, "ext:a")
	assert.ErrorIs(t, err, driven.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "ext:a"), driven.ErrNotFound)
}
