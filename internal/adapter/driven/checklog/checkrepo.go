package checklog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.CheckStore = (*CheckRepo)(nil)

const committer = "checkgate"

// CheckRepo implements driven.CheckStore on a RevisionLog. Checks of one
// change share the ref returned by ChecksRef; its tree holds one note per
// revision.
type CheckRepo struct {
	log       driven.RevisionLog
	checkers  driven.CheckerStore
	retry     RetryPolicy
	metrics   *metrics.Metrics
	listeners []driven.RefUpdateListener
	now       func() time.Time
}

// NewCheckRepo creates a CheckRepo. m may be nil.
func NewCheckRepo(log driven.RevisionLog, checkers driven.CheckerStore, retry RetryPolicy, m *metrics.Metrics) *CheckRepo {
	return &CheckRepo{
		log:      log,
		checkers: checkers,
		retry:    retry,
		metrics:  m,
		now:      time.Now,
	}
}

// AddListener registers l to be notified after every successful write.
// Listeners must be added before the repo is used concurrently.
func (r *CheckRepo) AddListener(l driven.RefUpdateListener) {
	r.listeners = append(r.listeners, l)
}

// ListChecks returns the stored checks of a revision sorted by checker UUID.
// Records that fail to decode are returned with Err set.
func (r *CheckRepo) ListChecks(ctx context.Context, repository string, ps model.PatchSet) ([]driven.StoredCheck, error) {
	_, tree, err := r.readChecksTree(ctx, repository, ps.ID.Change)
	if err != nil {
		return nil, err
	}

	note, err := parseRevisionNote(tree[ps.Revision])
	if err != nil {
		return nil, fmt.Errorf("list checks of %s: %w", ps.ID, err)
	}

	keys := make([]string, 0, len(note.checks))
	for k := range note.checks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]driven.StoredCheck, 0, len(keys))
	for _, k := range keys {
		out = append(out, decodeStored(repository, ps.ID, k, note.checks[k]))
	}
	return out, nil
}

func decodeStored(repository string, ps model.PatchSetID, rawUUID string, raw []byte) driven.StoredCheck {
	sc := driven.StoredCheck{CheckerUUID: rawUUID}

	uuid, err := model.ParseCheckerUUID(rawUUID)
	if err != nil {
		sc.Err = fmt.Errorf("%w: %v", driven.ErrConfigInvalid, err)
		return sc
	}

	rec, err := decodeCheckRecord(raw)
	if err != nil {
		sc.Err = err
		return sc
	}

	key := model.CheckKey{Repository: repository, PatchSet: ps, CheckerUUID: uuid}
	sc.Check, sc.Err = rec.toCheck(key)
	return sc
}

// CreateCheck inserts the first record for key.
func (r *CheckRepo) CreateCheck(ctx context.Context, key model.CheckKey, revision string, update model.CheckUpdate) (*model.Check, error) {
	if update.State == nil {
		return nil, fmt.Errorf("create check %s: state is required", key)
	}
	if _, err := r.checkers.Get(ctx, key.CheckerUUID); err != nil {
		return nil, fmt.Errorf("create check %s: checker: %w", key, err)
	}
	return r.upsert(ctx, true, key, revision, update)
}

// UpdateCheck merges update into the existing record for key.
func (r *CheckRepo) UpdateCheck(ctx context.Context, key model.CheckKey, revision string, update model.CheckUpdate) (*model.Check, error) {
	return r.upsert(ctx, false, key, revision, update)
}

func (r *CheckRepo) upsert(ctx context.Context, create bool, key model.CheckKey, revision string, update model.CheckUpdate) (*model.Check, error) {
	op, verb := "update", "Update"
	if create {
		op, verb = "create", "Insert"
	}

	ref := ChecksRef(key.Repository, key.PatchSet.Change)
	uuid := key.CheckerUUID.String()

	var (
		result  *model.Check
		event   *driven.RefUpdate
		written bool
	)

	err := r.retry.run(ctx, r.metrics, "checks", func() error {
		event, written = nil, false

		tip, tree, err := r.readChecksTree(ctx, key.Repository, key.PatchSet.Change)
		if err != nil {
			return err
		}
		note, err := parseRevisionNote(tree[revision])
		if err != nil {
			return err
		}

		raw, exists := note.checks[uuid]
		var rec *checkRecord
		switch {
		case create && exists:
			return fmt.Errorf("%w: check %s", driven.ErrDuplicateKey, key)
		case !create && !exists:
			return fmt.Errorf("%w: check %s", driven.ErrNotFound, key)
		case create:
			rec = &checkRecord{}
		default:
			if rec, err = decodeCheckRecord(raw); err != nil {
				return err
			}
		}

		modified, err := rec.applyUpdate(update)
		if err != nil {
			return err
		}
		if !modified {
			result, err = rec.toCheck(key)
			return err
		}

		now := formatTime(r.now())
		if create {
			rec.Created = &now
		}
		rec.Updated = &now

		encoded, err := rec.encode()
		if err != nil {
			return err
		}
		note.checks[uuid] = encoded
		blob, err := note.encode()
		if err != nil {
			return err
		}

		newTree := make(map[string][]byte, len(tree)+1)
		for p, b := range tree {
			newTree[p] = b
		}
		newTree[revision] = blob

		msg := fmt.Sprintf("%s check %s\n\nPatch-set: %s\nRevision: %s\n", verb, uuid, key.PatchSet, revision)
		newID, err := r.log.CASAppend(ctx, ref, tip, driven.NewCommit{
			Tree:    newTree,
			Message: msg,
			Author:  committer,
			When:    r.now(),
		})
		if err != nil {
			return err
		}

		if result, err = rec.toCheck(key); err != nil {
			return err
		}
		ps := key.PatchSet
		event = &driven.RefUpdate{
			Ref:        ref,
			OldID:      tip,
			NewID:      newID,
			Message:    msg,
			Repository: key.Repository,
			PatchSet:   &ps,
		}
		written = true
		return nil
	})
	if err != nil {
		r.metrics.RecordCheckWrite(op, metrics.WriteResultError)
		return nil, fmt.Errorf("%s check %s: %w", op, key, err)
	}

	if !written {
		r.metrics.RecordCheckWrite(op, metrics.WriteResultNoop)
		return result, nil
	}

	r.metrics.RecordCheckWrite(op, metrics.WriteResultWritten)
	for _, l := range r.listeners {
		l.OnRefUpdated(ctx, *event)
	}
	return result, nil
}

func (r *CheckRepo) readChecksTree(ctx context.Context, repository string, change int) (driven.ObjectID, map[string][]byte, error) {
	ref := ChecksRef(repository, change)
	tip, err := r.log.ReadTip(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("read tip of %s: %w", ref, err)
	}
	if tip.IsZero() {
		return driven.ZeroObjectID, map[string][]byte{}, nil
	}
	tree, err := r.log.ReadTree(ctx, tip)
	if err != nil {
		return "", nil, fmt.Errorf("read tree of %s: %w", ref, err)
	}
	return tip, tree, nil
}

// History returns up to limit commits of a change's checks ref, newest first.
// limit <= 0 means all.
func (r *CheckRepo) History(ctx context.Context, repository string, change, limit int) ([]driven.CommitInfo, error) {
	ref := ChecksRef(repository, change)
	id, err := r.log.ReadTip(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("read tip of %s: %w", ref, err)
	}

	var out []driven.CommitInfo
	for !id.IsZero() && (limit <= 0 || len(out) < limit) {
		c, err := r.log.ReadCommit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", id, err)
		}
		out = append(out, *c)
		id = c.Parent
	}
	return out, nil
}
