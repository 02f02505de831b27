package sqlite

import (
	"context"
	"crypto/sha1" //nolint:gosec // object ids follow git's SHA-1 addressing.
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RevisionLog = (*RevisionLog)(nil)

// RevisionLog is a git-like commit log stored in SQLite. Blobs, trees and
// commits are addressed by the SHA-1 of their canonical encoding; refs move
// only through compare-and-swap inside a writer transaction.
type RevisionLog struct {
	db *DB
}

// NewRevisionLog creates a new RevisionLog backed by the given DB.
func NewRevisionLog(db *DB) *RevisionLog {
	return &RevisionLog{db: db}
}

// ReadTip returns the commit ref points at, or ZeroObjectID.
func (l *RevisionLog) ReadTip(ctx context.Context, ref string) (driven.ObjectID, error) {
	const query = `SELECT target FROM refs WHERE name = ?`

	var target string
	err := l.db.Reader.QueryRowContext(ctx, query, ref).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return driven.ZeroObjectID, nil
	}
	if err != nil {
		return "", fmt.Errorf("read ref %s: %w", ref, err)
	}
	return driven.ObjectID(target), nil
}

// ReadTree returns every blob of the commit's tree keyed by path.
func (l *RevisionLog) ReadTree(ctx context.Context, commit driven.ObjectID) (map[string][]byte, error) {
	const query = `
		SELECT te.path, b.data
		FROM commits c
		JOIN tree_entries te ON te.tree_id = c.tree_id
		JOIN blobs b ON b.id = te.blob_id
		WHERE c.id = ?
	`

	rows, err := l.db.Reader.QueryContext(ctx, query, string(commit))
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", commit, err)
	}
	defer rows.Close()

	tree := make(map[string][]byte)
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return nil, fmt.Errorf("scan tree entry: %w", err)
		}
		tree[path] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tree of %s: %w", commit, err)
	}

	if len(tree) == 0 {
		// An empty tree is legal; an unknown commit is not.
		if _, err := l.ReadCommit(ctx, commit); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// ReadCommit returns the metadata of one commit.
func (l *RevisionLog) ReadCommit(ctx context.Context, commit driven.ObjectID) (*driven.CommitInfo, error) {
	const query = `SELECT id, parent_id, tree_id, message, author, committed_at FROM commits WHERE id = ?`

	c, err := scanCommit(l.db.Reader.QueryRowContext(ctx, query, string(commit)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read commit %s: %w", commit, driven.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", commit, err)
	}
	return c, nil
}

// CASAppend stores the commit with expectedOld as parent and advances ref to
// it if ref still points at expectedOld.
func (l *RevisionLog) CASAppend(ctx context.Context, ref string, expectedOld driven.ObjectID, nc driven.NewCommit) (driven.ObjectID, error) {
	if expectedOld == "" {
		expectedOld = driven.ZeroObjectID
	}
	when := nc.When
	if when.IsZero() {
		when = time.Now()
	}
	when = when.UTC()

	tx, err := l.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var current string
	err = tx.QueryRowContext(ctx, `SELECT target FROM refs WHERE name = ?`, ref).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = string(driven.ZeroObjectID)
	case err != nil:
		return "", fmt.Errorf("read ref %s: %w", ref, err)
	}
	if driven.ObjectID(current) != expectedOld {
		return "", fmt.Errorf("ref %s at %s, expected %s: %w", ref, current, expectedOld, driven.ErrLockFailure)
	}

	treeID, err := writeTree(ctx, tx, nc.Tree)
	if err != nil {
		return "", err
	}

	commitID := hashObject("commit", []byte(fmt.Sprintf("tree %s\nparent %s\nauthor %s %s\n\n%s",
		treeID, expectedOld, nc.Author, when.Format(time.RFC3339Nano), nc.Message)))

	const insertCommit = `
		INSERT OR IGNORE INTO commits (id, tree_id, parent_id, message, author, committed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insertCommit, commitID, treeID, string(expectedOld),
		nc.Message, nc.Author, formatTime(when)); err != nil {
		return "", fmt.Errorf("insert commit: %w", err)
	}

	now := formatTime(time.Now())
	if expectedOld.IsZero() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO refs (name, target, updated_at) VALUES (?, ?, ?)`,
			ref, commitID, now); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return "", fmt.Errorf("create ref %s: %w", ref, driven.ErrLockFailure)
			}
			return "", fmt.Errorf("create ref %s: %w", ref, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE refs SET target = ?, updated_at = ? WHERE name = ? AND target = ?`,
			commitID, now, ref, string(expectedOld))
		if err != nil {
			return "", fmt.Errorf("update ref %s: %w", ref, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("check rows affected: %w", err)
		}
		if n == 0 {
			return "", fmt.Errorf("update ref %s: %w", ref, driven.ErrLockFailure)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit ref %s: %w", ref, err)
	}
	return driven.ObjectID(commitID), nil
}

// ListRefs returns every ref starting with prefix.
func (l *RevisionLog) ListRefs(ctx context.Context, prefix string) (map[string]driven.ObjectID, error) {
	const query = `SELECT name, target FROM refs WHERE substr(name, 1, ?) = ? ORDER BY name`

	rows, err := l.db.Reader.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list refs %s: %w", prefix, err)
	}
	defer rows.Close()

	refs := make(map[string]driven.ObjectID)
	for rows.Next() {
		var name, target string
		if err := rows.Scan(&name, &target); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		refs[name] = driven.ObjectID(target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refs: %w", err)
	}
	return refs, nil
}

// DeleteRef removes ref if it still points at expectedOld. Objects stay in
// place.
func (l *RevisionLog) DeleteRef(ctx context.Context, ref string, expectedOld driven.ObjectID) error {
	res, err := l.db.Writer.ExecContext(ctx, `DELETE FROM refs WHERE name = ? AND target = ?`, ref, string(expectedOld))
	if err != nil {
		return fmt.Errorf("delete ref %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete ref %s: %w", ref, driven.ErrLockFailure)
	}
	return nil
}

// writeTree stores the blobs and the flat tree listing them and returns the
// tree id.
func writeTree(ctx context.Context, tx *sql.Tx, tree map[string][]byte) (string, error) {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var listing strings.Builder
	blobIDs := make([]string, len(paths))
	for i, p := range paths {
		data := tree[p]
		if data == nil {
			data = []byte{}
		}
		id := hashObject("blob", data)
		blobIDs[i] = id
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO blobs (id, data) VALUES (?, ?)`, id, data); err != nil {
			return "", fmt.Errorf("insert blob %s: %w", p, err)
		}
		listing.WriteString(id)
		listing.WriteByte(' ')
		listing.WriteString(p)
		listing.WriteByte(0)
	}

	treeID := hashObject("tree", []byte(listing.String()))
	for i, p := range paths {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tree_entries (tree_id, path, blob_id) VALUES (?, ?, ?)`,
			treeID, p, blobIDs[i]); err != nil {
			return "", fmt.Errorf("insert tree entry %s: %w", p, err)
		}
	}
	return treeID, nil
}

// hashObject returns the git-style object id "<kind> <len>\x00<data>".
func hashObject(kind string, data []byte) string {
	h := sha1.New() //nolint:gosec // see import.
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func scanCommit(s scanner) (*driven.CommitInfo, error) {
	var c driven.CommitInfo
	var id, parent, tree, when string

	if err := s.Scan(&id, &parent, &tree, &c.Message, &c.Author, &when); err != nil {
		return nil, err
	}
	c.ID, c.Parent, c.Tree = driven.ObjectID(id), driven.ObjectID(parent), driven.ObjectID(tree)

	var err error
	c.When, err = parseTime(when)
	if err != nil {
		return nil, fmt.Errorf("parse committed_at: %w", err)
	}
	return &c, nil
}
