package checklog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

type recordingListener struct {
	mu     sync.Mutex
	events []driven.RefUpdate
}

func (l *recordingListener) OnRefUpdated(_ context.Context, ev driven.RefUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

type checkFixture struct {
	log      *memLog
	checkers *CheckerRepo
	checks   *CheckRepo
	listener *recordingListener
	ps       model.PatchSet
}

func newCheckFixture(t *testing.T, m *metrics.Metrics) *checkFixture {
	t.Helper()
	log := newMemLog()
	checkers := newTestCheckerRepo(log)
	checks := NewCheckRepo(log, checkers, fastRetry, m)
	checks.now = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }
	l := &recordingListener{}
	checks.AddListener(l)

	createChecker(t, checkers, "test:a", "R", model.CheckerUpdate{})
	createChecker(t, checkers, "test:b", "R", model.CheckerUpdate{})

	return &checkFixture{
		log:      log,
		checkers: checkers,
		checks:   checks,
		listener: l,
		ps: model.PatchSet{
			ID:       model.PatchSetID{Change: 7, Number: 1},
			Revision: "1111111111111111111111111111111111111111",
		},
	}
}

func (f *checkFixture) key(uuid string) model.CheckKey {
	return model.CheckKey{Repository: "R", PatchSet: f.ps.ID, CheckerUUID: model.MustParseCheckerUUID(uuid)}
}

func TestCheckRepo_CreateListUpdate(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()

	stored, err := f.checks.ListChecks(ctx, "R", f.ps)
	require.NoError(t, err)
	assert.Empty(t, stored)

	created, err := f.checks.CreateCheck(ctx, f.key("test:b"), f.ps.Revision, model.CheckUpdate{
		State:   ptr(model.CheckStateScheduled),
		Message: ptr("queued"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CheckStateScheduled, created.State)
	assert.Equal(t, "queued", created.Message)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), created.Created)

	_, err = f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	require.NoError(t, err)

	stored, err = f.checks.ListChecks(ctx, "R", f.ps)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "test:a", stored[0].CheckerUUID)
	assert.Equal(t, "test:b", stored[1].CheckerUUID)
	assert.Equal(t, model.CheckStateRunning, stored[0].Check.State)

	f.checks.now = func() time.Time { return time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC) }
	updated, err := f.checks.UpdateCheck(ctx, f.key("test:b"), f.ps.Revision, model.CheckUpdate{
		State:   ptr(model.CheckStateSuccessful),
		Message: ptr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CheckStateSuccessful, updated.State)
	assert.Empty(t, updated.Message)
	assert.Equal(t, created.Created, updated.Created)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC), updated.Updated)

	require.Len(t, f.listener.events, 3)
	ev := f.listener.events[2]
	assert.Equal(t, ChecksRef("R", 7), ev.Ref)
	assert.Equal(t, "R", ev.Repository)
	assert.Equal(t, f.ps.ID, *ev.PatchSet)
	assert.True(t, strings.HasPrefix(ev.Message, "Update check test:b"))
}

func TestCheckRepo_Errors(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()

	_, err := f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{})
	assert.Error(t, err, "state is mandatory on create")

	_, err = f.checks.CreateCheck(ctx, f.key("test:unknown"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	assert.ErrorIs(t, err, driven.ErrNotFound)

	_, err = f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	assert.ErrorIs(t, err, driven.ErrNotFound)

	_, err = f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	require.NoError(t, err)
	_, err = f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	assert.ErrorIs(t, err, driven.ErrDuplicateKey)
}

func TestCheckRepo_IdempotentUpdateWritesOnce(t *testing.T) {
	m := metrics.New()
	f := newCheckFixture(t, m)
	ctx := context.Background()
	ref := ChecksRef("R", f.ps.ID.Change)

	_, err := f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateScheduled)})
	require.NoError(t, err)

	update := model.CheckUpdate{State: ptr(model.CheckStateRunning), URL: ptr("https://ci/7")}
	first, err := f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, update)
	require.NoError(t, err)
	second, err := f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, update)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, f.log.commitCount(ref), "create plus exactly one update")
	assert.Len(t, f.listener.events, 2)
}

func TestCheckRepo_RetriesLockFailure(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()
	ref := ChecksRef("R", f.ps.ID.Change)

	_, err := f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	require.NoError(t, err)

	// A concurrent writer creates test:b between our read and our CAS once.
	other := NewCheckRepo(f.log, f.checkers, fastRetry, nil)
	var once sync.Once
	f.log.beforeCAS = func(r string) {
		if r != ref {
			return
		}
		once.Do(func() {
			f.log.mu.Lock()
			f.log.beforeCAS = nil
			f.log.mu.Unlock()
			_, err := other.CreateCheck(ctx, f.key("test:b"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateFailed)})
			require.NoError(t, err)
		})
	}

	got, err := f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateSuccessful)})
	require.NoError(t, err)
	assert.Equal(t, model.CheckStateSuccessful, got.State)

	stored, err := f.checks.ListChecks(ctx, "R", f.ps)
	require.NoError(t, err)
	require.Len(t, stored, 2, "both writes survive")
	assert.Equal(t, model.CheckStateSuccessful, stored[0].Check.State)
	assert.Equal(t, model.CheckStateFailed, stored[1].Check.State)
}

func TestCheckRepo_GivesUpAfterRetryBudget(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()
	ref := ChecksRef("R", f.ps.ID.Change)

	_, err := f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateRunning)})
	require.NoError(t, err)

	// Every attempt loses the race.
	f.log.beforeCAS = func(r string) {
		if r == ref {
			f.log.put(ref, mustTree(t, f.log, ref))
		}
	}
	before := f.log.casCalls

	_, err = f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateFailed)})
	assert.ErrorIs(t, err, driven.ErrLockFailure)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")

	f.log.beforeCAS = nil
	assert.Equal(t, fastRetry.MaxRetries+1, f.log.casCalls-before)
}

func mustTree(t *testing.T, log *memLog, ref string) map[string][]byte {
	t.Helper()
	tip, err := log.ReadTip(context.Background(), ref)
	require.NoError(t, err)
	tree, err := log.ReadTree(context.Background(), tip)
	require.NoError(t, err)
	return tree
}

func TestCheckRepo_CorruptRecordIsIsolated(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()
	ref := ChecksRef("R", f.ps.ID.Change)

	f.log.put(ref, map[string][]byte{f.ps.Revision: []byte(`{"checks":{
		"test:a":{"state":"RUNNING","created":"2026-02-01T10:00:00Z","updated":"2026-02-01T10:00:00Z"},
		"test:b":{"state":"NOPE","created":"2026-02-01T10:00:00Z","updated":"2026-02-01T10:00:00Z"},
		"not a uuid":{"state":"RUNNING"}
	}}`)})

	stored, err := f.checks.ListChecks(ctx, "R", f.ps)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	byKey := map[string]driven.StoredCheck{}
	for _, s := range stored {
		byKey[s.CheckerUUID] = s
	}
	require.NoError(t, byKey["test:a"].Err)
	assert.Equal(t, model.CheckStateRunning, byKey["test:a"].Check.State)
	assert.ErrorIs(t, byKey["test:b"].Err, driven.ErrConfigInvalid)
	assert.ErrorIs(t, byKey["not a uuid"].Err, driven.ErrConfigInvalid)

	// Writes to a healthy sibling keep the corrupt record as is.
	_, err = f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateSuccessful)})
	require.NoError(t, err)
	assert.Contains(t, string(mustTree(t, f.log, ref)[f.ps.Revision]), `"NOPE"`)
}

func TestCheckRepo_History(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()

	for _, st := range []model.CheckState{model.CheckStateScheduled, model.CheckStateRunning, model.CheckStateSuccessful} {
		var err error
		if st == model.CheckStateScheduled {
			_, err = f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(st)})
		} else {
			_, err = f.checks.UpdateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(st)})
		}
		require.NoError(t, err)
	}

	all, err := f.checks.History(ctx, "R", f.ps.ID.Change, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, strings.HasPrefix(all[0].Message, "Update check"))
	assert.True(t, strings.HasPrefix(all[2].Message, "Insert check"))
	assert.Equal(t, committer, all[0].Author)

	two, err := f.checks.History(ctx, "R", f.ps.ID.Change, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	none, err := f.checks.History(ctx, "R", 99, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := f.checks.History(ctx, "S", f.ps.ID.Change, 0)
	require.NoError(t, err)
	assert.Empty(t, other, "same change number in another repository")
}

func TestCheckRepo_RepositoriesAreIndependent(t *testing.T) {
	f := newCheckFixture(t, nil)
	ctx := context.Background()

	// A fork shares revisions and may reuse change numbers.
	_, err := f.checks.CreateCheck(ctx, f.key("test:a"), f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateFailed)})
	require.NoError(t, err)

	assert.NotEqual(t, ChecksRef("R", 7), ChecksRef("S", 7))

	stored, err := f.checks.ListChecks(ctx, "S", f.ps)
	require.NoError(t, err)
	assert.Empty(t, stored)

	keyS := model.CheckKey{Repository: "S", PatchSet: f.ps.ID, CheckerUUID: model.MustParseCheckerUUID("test:a")}
	_, err = f.checks.UpdateCheck(ctx, keyS, f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateSuccessful)})
	assert.ErrorIs(t, err, driven.ErrNotFound)

	_, err = f.checks.CreateCheck(ctx, keyS, f.ps.Revision, model.CheckUpdate{State: ptr(model.CheckStateSuccessful)})
	require.NoError(t, err)

	storedR, err := f.checks.ListChecks(ctx, "R", f.ps)
	require.NoError(t, err)
	require.Len(t, storedR, 1)
	assert.Equal(t, model.CheckStateFailed, storedR[0].Check.State)

	storedS, err := f.checks.ListChecks(ctx, "S", f.ps)
	require.NoError(t, err)
	require.Len(t, storedS, 1)
	assert.Equal(t, model.CheckStateSuccessful, storedS[0].Check.State)
	assert.Equal(t, "S", storedS[0].Check.Key.Repository)

	assert.Equal(t, 1, f.log.commitCount(ChecksRef("R", 7)))
	assert.Equal(t, 1, f.log.commitCount(ChecksRef("S", 7)))
}

func TestChecksRef(t *testing.T) {
	tests := []struct {
		repository string
		change     int
		suffix     string
	}{
		{"R", 1, "/01/1/checks"},
		{"R", 7, "/07/7/checks"},
		{"acme/widgets", 1234, "/34/1234/checks"},
	}
	for _, tt := range tests {
		ref := ChecksRef(tt.repository, tt.change)
		assert.Equal(t, "refs/changes/"+repositoryIndexPath(tt.repository)+tt.suffix, ref)
		n, ok := ParseChecksRef(ref)
		assert.True(t, ok, ref)
		assert.Equal(t, tt.change, n)
	}

	h := repositoryIndexPath("R")
	for _, bad := range []string{
		"refs/changes/" + h + "/01/1/meta",
		"refs/changes/" + h + "/02/1/checks",
		"refs/changes/01/1/checks",
		"refs/changes/zz/" + strings.Repeat("z", 40) + "/01/1/checks",
		"refs/changes/ab/" + h[3:] + "/01/1/checks",
		"refs/heads/main",
	} {
		_, ok := ParseChecksRef(bad)
		assert.False(t, ok, bad)
	}
}

func TestRepositoryIndexPath(t *testing.T) {
	p := repositoryIndexPath("R")
	assert.Len(t, p, 43)
	assert.Equal(t, p[:2], p[3:5])
	assert.NotEqual(t, p, repositoryIndexPath("S"))
}
