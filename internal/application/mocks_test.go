package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

const testRepo = "acme/widgets"

var (
	psCreated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeTime = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
)

func ptr[T any](v T) *T { return &v }

// --- mockChangeIndex ---

// mockChangeIndex understands "status:open" and "branch:<name>" terms joined
// by whitespace; anything else is an invalid query.
type mockChangeIndex struct {
	changes    map[int]model.Change
	patchSets  map[model.PatchSetID]model.PatchSet
	getErr     error
	queryCalls int
}

func newMockChangeIndex() *mockChangeIndex {
	return &mockChangeIndex{
		changes:   make(map[int]model.Change),
		patchSets: make(map[model.PatchSetID]model.PatchSet),
	}
}

// addChange registers an open change on main with patch sets 1..patchSets.
func (m *mockChangeIndex) addChange(number, patchSets int) model.Change {
	var current model.PatchSet
	for n := 1; n <= patchSets; n++ {
		ps := model.PatchSet{
			ID:       model.PatchSetID{Change: number, Number: n},
			Revision: fmt.Sprintf("%038d%02d", number, n),
			Created:  psCreated.Add(time.Duration(n) * time.Minute),
		}
		m.patchSets[ps.ID] = ps
		current = ps
	}
	c := model.Change{
		Repository:      testRepo,
		Number:          number,
		Status:          model.ChangeStatusOpen,
		Branch:          "main",
		CurrentPatchSet: current,
	}
	m.changes[number] = c
	return c
}

func (m *mockChangeIndex) GetChange(_ context.Context, repository string, number int) (*model.Change, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.changes[number]
	if !ok || c.Repository != repository {
		return nil, driven.ErrNotFound
	}
	return &c, nil
}

func (m *mockChangeIndex) GetPatchSet(_ context.Context, repository string, id model.PatchSetID) (*model.PatchSet, error) {
	c, ok := m.changes[id.Change]
	if !ok || c.Repository != repository {
		return nil, driven.ErrNotFound
	}
	ps, ok := m.patchSets[id]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return &ps, nil
}

func (m *mockChangeIndex) Query(ctx context.Context, repository string, query string, limit int) ([]model.Change, error) {
	m.queryCalls++
	numbers := make([]int, 0, len(m.changes))
	for n := range m.changes {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var out []model.Change
	for _, n := range numbers {
		c := m.changes[n]
		if c.Repository != repository {
			continue
		}
		ok, err := m.Match(ctx, c, query)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockChangeIndex) Match(_ context.Context, change model.Change, query string) (bool, error) {
	if err := m.ValidateQuery(query); err != nil {
		return false, err
	}
	for _, term := range strings.Fields(query) {
		switch {
		case term == "status:open":
			if !change.Status.IsOpen() {
				return false, nil
			}
		case strings.HasPrefix(term, "branch:"):
			if change.Branch != strings.TrimPrefix(term, "branch:") {
				return false, nil
			}
		}
	}
	return true, nil
}

func (m *mockChangeIndex) ValidateQuery(query string) error {
	for _, term := range strings.Fields(query) {
		if term != "status:open" && !strings.HasPrefix(term, "branch:") {
			return fmt.Errorf("unsupported search term %q", term)
		}
	}
	return nil
}

// --- mockCheckerStore ---

type mockCheckerStore struct {
	checkers      map[string]model.Checker
	checkersOfErr error
	calls         int
}

func newMockCheckerStore(cs ...model.Checker) *mockCheckerStore {
	m := &mockCheckerStore{checkers: make(map[string]model.Checker)}
	for _, c := range cs {
		m.checkers[c.UUID.String()] = c
	}
	return m
}

func (m *mockCheckerStore) sorted(keep func(model.Checker) bool) []model.Checker {
	var out []model.Checker
	for _, c := range m.checkers {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID.Compare(out[j].UUID) < 0 })
	return out
}

func (m *mockCheckerStore) Get(_ context.Context, uuid model.CheckerUUID) (*model.Checker, error) {
	m.calls++
	c, ok := m.checkers[uuid.String()]
	if !ok {
		return nil, fmt.Errorf("get checker %s: %w", uuid, driven.ErrNotFound)
	}
	return &c, nil
}

func (m *mockCheckerStore) List(_ context.Context) ([]model.Checker, error) {
	m.calls++
	return m.sorted(func(model.Checker) bool { return true }), nil
}

func (m *mockCheckerStore) ListByScheme(_ context.Context, scheme string) ([]model.Checker, error) {
	m.calls++
	return m.sorted(func(c model.Checker) bool { return c.UUID.Scheme() == strings.ToLower(scheme) }), nil
}

func (m *mockCheckerStore) CheckersOf(_ context.Context, repository string) ([]model.Checker, error) {
	m.calls++
	if m.checkersOfErr != nil {
		return nil, m.checkersOfErr
	}
	return m.sorted(func(c model.Checker) bool { return c.Repository == repository }), nil
}

func (m *mockCheckerStore) Create(_ context.Context, creation model.CheckerCreation, update model.CheckerUpdate) (*model.Checker, error) {
	if _, ok := m.checkers[creation.UUID.String()]; ok {
		return nil, driven.ErrDuplicateKey
	}
	c := model.Checker{
		UUID:       creation.UUID,
		Name:       creation.Name,
		Repository: creation.Repository,
		Status:     model.CheckerStatusEnabled,
		Query:      "status:open",
	}
	applyCheckerUpdate(&c, update)
	m.checkers[c.UUID.String()] = c
	return &c, nil
}

func (m *mockCheckerStore) Update(_ context.Context, uuid model.CheckerUUID, update model.CheckerUpdate) (*model.Checker, error) {
	c, ok := m.checkers[uuid.String()]
	if !ok {
		return nil, driven.ErrNotFound
	}
	applyCheckerUpdate(&c, update)
	m.checkers[uuid.String()] = c
	return &c, nil
}

func (m *mockCheckerStore) DeleteRef(_ context.Context, uuid model.CheckerUUID) error {
	if _, ok := m.checkers[uuid.String()]; !ok {
		return driven.ErrNotFound
	}
	delete(m.checkers, uuid.String())
	return nil
}

func applyCheckerUpdate(c *model.Checker, u model.CheckerUpdate) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.URL != nil {
		c.URL = *u.URL
	}
	if u.Repository != nil {
		c.Repository = *u.Repository
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.BlockingConditions != nil {
		c.BlockingConditions = *u.BlockingConditions
	}
	if u.Query != nil {
		c.Query = *u.Query
	}
}

// --- mockCheckStore ---

// mockCheckStore keeps checks in memory and notifies listeners after every
// write that modified a record, like the log-backed store.
type mockCheckStore struct {
	mu        sync.Mutex
	checks    map[string]model.Check
	corrupt   map[string]string // raw checker UUID -> patch set
	listeners []driven.RefUpdateListener
	listErr   error
	writes    int
}

func newMockCheckStore() *mockCheckStore {
	return &mockCheckStore{checks: make(map[string]model.Check), corrupt: make(map[string]string)}
}

func (m *mockCheckStore) put(c model.Check) {
	m.checks[c.Key.String()] = c
}

func (m *mockCheckStore) ListChecks(_ context.Context, repository string, ps model.PatchSet) ([]driven.StoredCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []driven.StoredCheck
	for _, c := range m.checks {
		if c.Key.Repository == repository && c.Key.PatchSet == ps.ID {
			out = append(out, driven.StoredCheck{CheckerUUID: c.Key.CheckerUUID.String(), Check: &c})
		}
	}
	for raw, psKey := range m.corrupt {
		if psKey == ps.ID.String() {
			out = append(out, driven.StoredCheck{
				CheckerUUID: raw,
				Err:         fmt.Errorf("%w: state %q", driven.ErrConfigInvalid, "BOGUS"),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckerUUID < out[j].CheckerUUID })
	return out, nil
}

func (m *mockCheckStore) CreateCheck(ctx context.Context, key model.CheckKey, _ string, update model.CheckUpdate) (*model.Check, error) {
	m.mu.Lock()
	if _, ok := m.checks[key.String()]; ok {
		m.mu.Unlock()
		return nil, driven.ErrDuplicateKey
	}
	if update.State == nil {
		m.mu.Unlock()
		return nil, errors.New("state is required")
	}
	c := model.Check{Key: key, Created: writeTime, Updated: writeTime}
	if _, err := applyCheckUpdate(&c, update); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.checks[key.String()] = c
	m.writes++
	m.mu.Unlock()

	m.notify(ctx, key, "Insert check "+key.CheckerUUID.String())
	return &c, nil
}

func (m *mockCheckStore) UpdateCheck(ctx context.Context, key model.CheckKey, _ string, update model.CheckUpdate) (*model.Check, error) {
	m.mu.Lock()
	c, ok := m.checks[key.String()]
	if !ok {
		m.mu.Unlock()
		return nil, driven.ErrNotFound
	}
	modified, err := applyCheckUpdate(&c, update)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !modified {
		m.mu.Unlock()
		return &c, nil
	}
	c.Updated = writeTime
	m.checks[key.String()] = c
	m.writes++
	m.mu.Unlock()

	m.notify(ctx, key, "Update check "+key.CheckerUUID.String())
	return &c, nil
}

func (m *mockCheckStore) notify(ctx context.Context, key model.CheckKey, msg string) {
	ps := key.PatchSet
	for _, l := range m.listeners {
		l.OnRefUpdated(ctx, driven.RefUpdate{
			Ref:        fmt.Sprintf("refs/changes/%02d/%d/checks", ps.Change%100, ps.Change),
			Message:    msg,
			Repository: key.Repository,
			PatchSet:   &ps,
		})
	}
}

func applyCheckUpdate(c *model.Check, u model.CheckUpdate) (bool, error) {
	modified := false
	if u.State != nil && c.State != *u.State {
		c.State = *u.State
		modified = true
	}
	if u.Message != nil && c.Message != *u.Message {
		c.Message = *u.Message
		modified = true
	}
	if u.URL != nil && c.URL != *u.URL {
		c.URL = *u.URL
		modified = true
	}
	if u.Started != nil && !c.Started.Equal(*u.Started) {
		c.Started = *u.Started
		modified = true
	}
	if u.Finished != nil && !c.Finished.Equal(*u.Finished) {
		c.Finished = *u.Finished
		modified = true
	}
	if u.NewOverride != nil {
		if c.OverriddenBy(u.NewOverride.Overrider) {
			return false, driven.ErrDuplicateOverride
		}
		c.Overrides = append(c.Overrides, *u.NewOverride)
		modified = true
	}
	return modified, nil
}

// --- mockStateStore ---

type mockStateStore struct {
	states map[driven.CombinedStateKey]model.CombinedCheckState
	puts   int
	getErr error
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{states: make(map[driven.CombinedStateKey]model.CombinedCheckState)}
}

func (m *mockStateStore) Get(_ context.Context, key driven.CombinedStateKey) (model.CombinedCheckState, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	s, ok := m.states[key]
	return s, ok, nil
}

func (m *mockStateStore) Put(_ context.Context, key driven.CombinedStateKey, state model.CombinedCheckState) error {
	m.puts++
	m.states[key] = state
	return nil
}

// --- mockNotifier ---

type mockNotifier struct {
	events []driven.CombinedStateChange
	err    error
}

func (m *mockNotifier) NotifyCombinedStateChanged(_ context.Context, ev driven.CombinedStateChange) error {
	m.events = append(m.events, ev)
	return m.err
}

// --- fixture ---

type checkerOpt func(*model.Checker)

func disabled() checkerOpt {
	return func(c *model.Checker) { c.Status = model.CheckerStatusDisabled }
}

func optional() checkerOpt {
	return func(c *model.Checker) { c.BlockingConditions = nil }
}

func withQuery(q string) checkerOpt {
	return func(c *model.Checker) { c.Query = q }
}

func inRepo(repo string) checkerOpt {
	return func(c *model.Checker) { c.Repository = repo }
}

// newChecker returns an enabled, blocking checker of testRepo.
func newChecker(uuid string, opts ...checkerOpt) model.Checker {
	c := model.Checker{
		UUID:               model.MustParseCheckerUUID(uuid),
		Name:               uuid,
		Repository:         testRepo,
		Status:             model.CheckerStatusEnabled,
		BlockingConditions: []model.BlockingCondition{model.BlockingStateNotPassing},
		Query:              "status:open",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type serviceFixture struct {
	changes  *mockChangeIndex
	checkers *mockCheckerStore
	checks   *mockCheckStore
	states   *mockStateStore
	notifier *mockNotifier
	svc      *CheckService
}

// newServiceFixture wires a CheckService whose cache listens on the check
// store. Change 1 has patch sets 1 and 2.
func newServiceFixture(checkers ...model.Checker) *serviceFixture {
	f := &serviceFixture{
		changes:  newMockChangeIndex(),
		checkers: newMockCheckerStore(checkers...),
		checks:   newMockCheckStore(),
		states:   newMockStateStore(),
		notifier: &mockNotifier{},
	}
	f.changes.addChange(1, 2)
	f.svc = NewCheckService(f.checks, f.checkers, f.changes, f.states, f.notifier, nil, nil)
	f.svc.now = func() time.Time { return writeTime }
	f.checks.listeners = append(f.checks.listeners, f.svc.StateCache())
	return f
}

func psID(change, number int) model.PatchSetID {
	return model.PatchSetID{Change: change, Number: number}
}

func checkKey(uuid string, ps model.PatchSetID) model.CheckKey {
	return model.CheckKey{Repository: testRepo, PatchSet: ps, CheckerUUID: model.MustParseCheckerUUID(uuid)}
}

func storedCheck(uuid string, ps model.PatchSetID, state model.CheckState) model.Check {
	return model.Check{
		Key:     checkKey(uuid, ps),
		State:   state,
		Created: writeTime.Add(-time.Hour),
		Updated: writeTime.Add(-time.Hour),
	}
}
