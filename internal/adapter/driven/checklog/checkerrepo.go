package checklog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.CheckerStore = (*CheckerRepo)(nil)

// CheckerRepo implements driven.CheckerStore on a RevisionLog. Each checker
// lives on its own ref; refs/meta/checkers indexes checkers by repository.
type CheckerRepo struct {
	log     driven.RevisionLog
	retry   RetryPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCheckerRepo creates a CheckerRepo. m may be nil.
func NewCheckerRepo(log driven.RevisionLog, retry RetryPolicy, m *metrics.Metrics) *CheckerRepo {
	return &CheckerRepo{log: log, retry: retry, metrics: m, now: time.Now}
}

// Get returns a single checker.
func (r *CheckerRepo) Get(ctx context.Context, uuid model.CheckerUUID) (*model.Checker, error) {
	tip, cfg, err := r.readConfig(ctx, uuid.RefName())
	if err != nil {
		return nil, fmt.Errorf("get checker %s: %w", uuid, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("get checker %s: %w", uuid, driven.ErrNotFound)
	}
	c, err := readChecker(cfg, tip)
	if err != nil {
		return nil, fmt.Errorf("get checker %s: %w", uuid, err)
	}
	return c, nil
}

// List returns all valid checkers sorted by UUID.
func (r *CheckerRepo) List(ctx context.Context) ([]model.Checker, error) {
	return r.listPrefix(ctx, checkerRefPrefix)
}

// ListByScheme returns the valid checkers of one scheme sorted by UUID.
func (r *CheckerRepo) ListByScheme(ctx context.Context, scheme string) ([]model.Checker, error) {
	return r.listPrefix(ctx, checkerRefPrefix+strings.ToLower(scheme)+"/")
}

func (r *CheckerRepo) listPrefix(ctx context.Context, prefix string) ([]model.Checker, error) {
	refs, err := r.log.ListRefs(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list checker refs: %w", err)
	}

	out := make([]model.Checker, 0, len(refs))
	for ref := range refs {
		tip, cfg, err := r.readConfig(ctx, ref)
		if err != nil && !errors.Is(err, driven.ErrConfigInvalid) {
			return nil, fmt.Errorf("read checker ref %s: %w", ref, err)
		}
		if err == nil && cfg == nil {
			continue // deleted concurrently
		}
		var c *model.Checker
		if err == nil {
			c, err = readChecker(cfg, tip)
		}
		if err != nil {
			slog.Warn("skipping invalid checker", "ref", ref, "error", err)
			continue
		}
		out = append(out, *c)
	}
	sortCheckers(out)
	return out, nil
}

// CheckersOf returns the valid checkers scoped to repository, any status.
func (r *CheckerRepo) CheckersOf(ctx context.Context, repository string) ([]model.Checker, error) {
	uuids, err := r.indexed(ctx, repository)
	if err != nil {
		return nil, err
	}

	out := make([]model.Checker, 0, len(uuids))
	for _, s := range uuids {
		uuid, err := model.ParseCheckerUUID(s)
		if err != nil {
			slog.Warn("skipping invalid checker UUID in index", "repo", repository, "checker", s)
			continue
		}
		c, err := r.Get(ctx, uuid)
		switch {
		case errors.Is(err, driven.ErrNotFound):
			slog.Warn("checker index points at missing checker", "repo", repository, "checker", s)
			continue
		case errors.Is(err, driven.ErrConfigInvalid):
			slog.Warn("skipping invalid checker", "repo", repository, "checker", s, "error", err)
			continue
		case err != nil:
			return nil, err
		}
		if c.Repository != repository {
			continue
		}
		out = append(out, *c)
	}
	sortCheckers(out)
	return out, nil
}

// Create stores a new checker and adds it to the repository index.
//
// The index entry is written before the checker ref. CheckersOf skips entries
// whose checker is missing or belongs to another repository, so a failed ref
// write leaves nothing visible and a retry finds no duplicate.
func (r *CheckerRepo) Create(ctx context.Context, creation model.CheckerCreation, update model.CheckerUpdate) (*model.Checker, error) {
	ref := creation.UUID.RefName()
	now := r.now()
	cfg := newCheckerConfig(creation, update, now)
	draft, err := readChecker(cfg, driven.ZeroObjectID)
	if err != nil {
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, err)
	}
	blob, err := cfg.encode()
	if err != nil {
		return nil, err
	}

	tip, err := r.log.ReadTip(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, err)
	}
	if !tip.IsZero() {
		r.reindex(ctx, creation.UUID)
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, driven.ErrDuplicateKey)
	}

	if err := r.updateIndex(ctx, draft.Repository, creation.UUID, true); err != nil {
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, err)
	}

	newID, err := r.log.CASAppend(ctx, ref, driven.ZeroObjectID, driven.NewCommit{
		Tree:    map[string][]byte{checkerConfigFile: blob},
		Message: "Create checker",
		Author:  committer,
		When:    now,
	})
	if errors.Is(err, driven.ErrLockFailure) {
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, driven.ErrDuplicateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("create checker %s: %w", creation.UUID, err)
	}

	return readChecker(cfg, newID)
}

// reindex makes sure an existing checker is listed under its repository.
// It repairs entries lost when an earlier write failed between the index and
// the checker ref.
func (r *CheckerRepo) reindex(ctx context.Context, uuid model.CheckerUUID) {
	tip, cfg, err := r.readConfig(ctx, uuid.RefName())
	if err != nil || cfg == nil {
		return
	}
	c, err := readChecker(cfg, tip)
	if err != nil {
		return
	}
	if err := r.updateIndex(ctx, c.Repository, uuid, true); err != nil {
		slog.Warn("failed to repair checker index", "checker", uuid.String(), "repo", c.Repository, "error", err)
	}
}

// Update applies a partial update to an existing checker. A change of
// repository moves the checker between index entries: the new entry is
// added before the checker ref moves, the old one removed afterwards.
func (r *CheckerRepo) Update(ctx context.Context, uuid model.CheckerUUID, update model.CheckerUpdate) (*model.Checker, error) {
	ref := uuid.RefName()

	if update.Repository != nil {
		if _, cfg, err := r.readConfig(ctx, ref); err == nil && cfg == nil {
			return nil, fmt.Errorf("update checker %s: %w", uuid, driven.ErrNotFound)
		}
		if err := r.updateIndex(ctx, *update.Repository, uuid, true); err != nil {
			return nil, fmt.Errorf("update checker %s: %w", uuid, err)
		}
	}

	var (
		result  *model.Checker
		oldRepo string
	)
	err := r.retry.run(ctx, r.metrics, "checkers", func() error {
		tip, cfg, err := r.readConfig(ctx, ref)
		if err != nil {
			return err
		}
		if cfg == nil {
			return driven.ErrNotFound
		}
		old, err := readChecker(cfg, tip)
		if err != nil {
			return err
		}
		oldRepo = old.Repository

		if !applyCheckerUpdate(cfg, update) {
			result = old
			return nil
		}
		now := r.now()
		cfg["updated"] = formatTime(now)

		// Reject updates that would leave an undecodable config.
		if _, err := readChecker(cfg, tip); err != nil {
			return err
		}
		blob, err := cfg.encode()
		if err != nil {
			return err
		}
		newID, err := r.log.CASAppend(ctx, ref, tip, driven.NewCommit{
			Tree:    map[string][]byte{checkerConfigFile: blob},
			Message: "Update checker",
			Author:  committer,
			When:    now,
		})
		if err != nil {
			return err
		}
		result, err = readChecker(cfg, newID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update checker %s: %w", uuid, err)
	}

	// A stale entry under the old repository is filtered by CheckersOf.
	if result.Repository != oldRepo {
		if err := r.updateIndex(ctx, oldRepo, uuid, false); err != nil {
			slog.Warn("failed to remove checker from old repository index", "checker", uuid.String(), "repo", oldRepo, "error", err)
		}
	}
	return result, nil
}

// DeleteRef removes the checker ref and its index entry.
func (r *CheckerRepo) DeleteRef(ctx context.Context, uuid model.CheckerUUID) error {
	ref := uuid.RefName()
	tip, cfg, err := r.readConfig(ctx, ref)
	if err != nil && !errors.Is(err, driven.ErrConfigInvalid) {
		return fmt.Errorf("delete checker %s: %w", uuid, err)
	}
	if tip.IsZero() {
		return fmt.Errorf("delete checker %s: %w", uuid, driven.ErrNotFound)
	}

	// Broken configs can still be removed; their index entry is then left to
	// CheckersOf, which skips missing checkers.
	var repo string
	if cfg != nil {
		repo, _ = optionalString(cfg, "repository")
	}

	if err := r.log.DeleteRef(ctx, ref, tip); err != nil {
		return fmt.Errorf("delete checker %s: %w", uuid, err)
	}
	if repo != "" {
		return r.updateIndex(ctx, repo, uuid, false)
	}
	return nil
}

// readConfig returns the config at ref's tip, or a nil config if the ref
// does not exist. The tip is returned alongside ErrConfigInvalid.
func (r *CheckerRepo) readConfig(ctx context.Context, ref string) (driven.ObjectID, checkerConfig, error) {
	tip, err := r.log.ReadTip(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	if tip.IsZero() {
		return tip, nil, nil
	}
	tree, err := r.log.ReadTree(ctx, tip)
	if err != nil {
		return "", nil, err
	}
	blob, ok := tree[checkerConfigFile]
	if !ok {
		return tip, nil, fmt.Errorf("%w: %s has no %s", driven.ErrConfigInvalid, ref, checkerConfigFile)
	}
	cfg, err := parseCheckerConfig(blob)
	if err != nil {
		return tip, nil, err
	}
	return tip, cfg, nil
}

func (r *CheckerRepo) indexed(ctx context.Context, repository string) ([]string, error) {
	tip, err := r.log.ReadTip(ctx, checkerIndexRef)
	if err != nil {
		return nil, fmt.Errorf("read checker index: %w", err)
	}
	if tip.IsZero() {
		return nil, nil
	}
	tree, err := r.log.ReadTree(ctx, tip)
	if err != nil {
		return nil, fmt.Errorf("read checker index: %w", err)
	}
	return parseIndexEntry(tree[repositoryIndexPath(repository)]), nil
}

// updateIndex adds or removes uuid from the repository's index entry.
func (r *CheckerRepo) updateIndex(ctx context.Context, repository string, uuid model.CheckerUUID, add bool) error {
	path := repositoryIndexPath(repository)
	err := r.retry.run(ctx, r.metrics, "checker_index", func() error {
		tip, err := r.log.ReadTip(ctx, checkerIndexRef)
		if err != nil {
			return err
		}
		tree := map[string][]byte{}
		if !tip.IsZero() {
			if tree, err = r.log.ReadTree(ctx, tip); err != nil {
				return err
			}
		}

		entries := parseIndexEntry(tree[path])
		i := slices.Index(entries, uuid.String())
		found := i >= 0
		switch {
		case add && found, !add && !found:
			return nil
		case add:
			entries = append(entries, uuid.String())
			sort.Strings(entries)
		default:
			entries = append(entries[:i], entries[i+1:]...)
		}

		if len(entries) == 0 {
			delete(tree, path)
		} else {
			tree[path] = []byte(strings.Join(entries, "\n") + "\n")
		}

		verb := "Add"
		if !add {
			verb = "Remove"
		}
		_, err = r.log.CASAppend(ctx, checkerIndexRef, tip, driven.NewCommit{
			Tree:    tree,
			Message: fmt.Sprintf("%s checker %s for repository %s", verb, uuid, repository),
			Author:  committer,
			When:    r.now(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("update checker index for %s: %w", repository, err)
	}
	return nil
}

func parseIndexEntry(b []byte) []string {
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortCheckers(cs []model.Checker) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].UUID.Compare(cs[j].UUID) < 0 })
}
