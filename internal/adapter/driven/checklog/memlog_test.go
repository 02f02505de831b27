package checklog

import (
	"context"
	"crypto/sha1" //nolint:gosec // test object ids.
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// memLog is an in-memory driven.RevisionLog for tests.
type memLog struct {
	mu      sync.Mutex
	refs    map[string]driven.ObjectID
	trees   map[driven.ObjectID]map[string][]byte
	commits map[driven.ObjectID]driven.CommitInfo
	seq     int

	// beforeCAS runs once per CASAppend before the ref is compared. It may
	// write to the log to simulate a concurrent writer.
	beforeCAS func(ref string)
	// casErr fails a CASAppend on ref before anything is written.
	casErr   func(ref string) error
	casCalls int
}

func newMemLog() *memLog {
	return &memLog{
		refs:    make(map[string]driven.ObjectID),
		trees:   make(map[driven.ObjectID]map[string][]byte),
		commits: make(map[driven.ObjectID]driven.CommitInfo),
	}
}

func (l *memLog) ReadTip(_ context.Context, ref string) (driven.ObjectID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.refs[ref]; ok {
		return id, nil
	}
	return driven.ZeroObjectID, nil
}

func (l *memLog) ReadTree(_ context.Context, commit driven.ObjectID) (map[string][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tree, ok := l.trees[commit]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", commit, driven.ErrNotFound)
	}
	out := make(map[string][]byte, len(tree))
	for p, b := range tree {
		out[p] = append([]byte(nil), b...)
	}
	return out, nil
}

func (l *memLog) ReadCommit(_ context.Context, commit driven.ObjectID) (*driven.CommitInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.commits[commit]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", commit, driven.ErrNotFound)
	}
	return &c, nil
}

func (l *memLog) CASAppend(_ context.Context, ref string, expectedOld driven.ObjectID, nc driven.NewCommit) (driven.ObjectID, error) {
	l.mu.Lock()
	hook, fail := l.beforeCAS, l.casErr
	l.casCalls++
	l.mu.Unlock()
	if fail != nil {
		if err := fail(ref); err != nil {
			return "", err
		}
	}
	if hook != nil {
		hook(ref)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.refs[ref]
	if !ok {
		current = driven.ZeroObjectID
	}
	if current != expectedOld {
		return "", driven.ErrLockFailure
	}
	return l.appendLocked(ref, expectedOld, nc), nil
}

func (l *memLog) appendLocked(ref string, parent driven.ObjectID, nc driven.NewCommit) driven.ObjectID {
	l.seq++
	sum := sha1.Sum([]byte(fmt.Sprintf("%s/%d", ref, l.seq))) //nolint:gosec // see import.
	id := driven.ObjectID(hex.EncodeToString(sum[:]))

	tree := make(map[string][]byte, len(nc.Tree))
	for p, b := range nc.Tree {
		tree[p] = append([]byte(nil), b...)
	}
	l.trees[id] = tree
	l.commits[id] = driven.CommitInfo{ID: id, Parent: parent, Message: nc.Message, Author: nc.Author, When: nc.When}
	l.refs[ref] = id
	return id
}

func (l *memLog) ListRefs(_ context.Context, prefix string) (map[string]driven.ObjectID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]driven.ObjectID)
	for r, id := range l.refs {
		if strings.HasPrefix(r, prefix) {
			out[r] = id
		}
	}
	return out, nil
}

func (l *memLog) DeleteRef(_ context.Context, ref string, expectedOld driven.ObjectID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[ref] != expectedOld {
		return driven.ErrLockFailure
	}
	delete(l.refs, ref)
	return nil
}

// put advances ref to a new commit holding tree, bypassing CAS and hooks.
func (l *memLog) put(ref string, tree map[string][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	parent, ok := l.refs[ref]
	if !ok {
		parent = driven.ZeroObjectID
	}
	l.appendLocked(ref, parent, driven.NewCommit{Tree: tree, When: time.Now()})
}

func (l *memLog) commitCount(ref string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id := l.refs[ref]; !id.IsZero(); id = l.commits[id].Parent {
		n++
	}
	return n
}

// fastRetry keeps tests quick.
var fastRetry = RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
