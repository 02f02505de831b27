package driven

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// ErrLockFailure is returned by CASAppend and DeleteRef when the ref no longer
// points at the expected old object, i.e. a concurrent writer won the race.
var ErrLockFailure = errors.New("lock failure: ref was updated concurrently")

// ObjectID is the hex id of a content-addressed object in the revision log.
type ObjectID string

// ZeroObjectID is the sentinel tip of a ref that does not exist.
const ZeroObjectID ObjectID = "0000000000000000000000000000000000000000"

// IsZero reports whether id is the zero sentinel (or empty).
func (id ObjectID) IsZero() bool {
	return id == "" || strings.Trim(string(id), "0") == ""
}

// CommitInfo describes a stored commit.
type CommitInfo struct {
	ID      ObjectID
	Parent  ObjectID // ZeroObjectID for a root commit.
	Tree    ObjectID
	Message string
	Author  string
	When    time.Time
}

// NewCommit describes a commit to append. Tree maps slash-separated paths to
// blob contents; it replaces the parent's tree entirely.
type NewCommit struct {
	Tree    map[string][]byte
	Message string
	Author  string
	When    time.Time
}

// RevisionLog is a content-addressed, branch-like commit log. Every ref holds
// an independent history; refs only move through compare-and-swap.
type RevisionLog interface {
	// ReadTip returns the commit a ref points at, or ZeroObjectID if the ref
	// does not exist.
	ReadTip(ctx context.Context, ref string) (ObjectID, error)
	// ReadTree returns all blobs of the commit's tree keyed by path.
	ReadTree(ctx context.Context, commit ObjectID) (map[string][]byte, error)
	// ReadCommit returns metadata of a single commit.
	ReadCommit(ctx context.Context, commit ObjectID) (*CommitInfo, error)
	// CASAppend writes the commit with expectedOld as parent and advances ref
	// to it only if ref still points at expectedOld. It returns ErrLockFailure
	// otherwise.
	CASAppend(ctx context.Context, ref string, expectedOld ObjectID, c NewCommit) (ObjectID, error)
	// ListRefs returns every ref whose name starts with prefix.
	ListRefs(ctx context.Context, prefix string) (map[string]ObjectID, error)
	// DeleteRef removes ref if it still points at expectedOld.
	DeleteRef(ctx context.Context, ref string, expectedOld ObjectID) error
}

// RefUpdate describes a successful ref advance.
type RefUpdate struct {
	Ref     string
	OldID   ObjectID
	NewID   ObjectID
	Message string
	// Repository and PatchSet are set when the ref holds checks of a change.
	Repository string
	PatchSet   *model.PatchSetID
}

// RefUpdateListener is notified after a ref was advanced.
type RefUpdateListener interface {
	OnRefUpdated(ctx context.Context, ev RefUpdate)
}
