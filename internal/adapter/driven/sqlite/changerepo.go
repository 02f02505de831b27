package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChangeIndex = (*ChangeRepo)(nil)

// ChangeRepo is the SQLite mirror of the host's changes and patch sets. It
// implements the ChangeIndex port.
type ChangeRepo struct {
	db *DB
}

// NewChangeRepo creates a new ChangeRepo backed by the given DB.
func NewChangeRepo(db *DB) *ChangeRepo {
	return &ChangeRepo{db: db}
}

// UpsertChange inserts or updates a change. If the change carries a current
// patch set it is stored too.
func (r *ChangeRepo) UpsertChange(ctx context.Context, c model.Change) error {
	const query = `
		INSERT INTO changes (repository, number, status, owner, branch, subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repository, number) DO UPDATE SET
			status = excluded.status,
			owner = excluded.owner,
			branch = excluded.branch,
			subject = excluded.subject,
			updated_at = excluded.updated_at
	`

	created, updated := c.Created, c.Updated
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}
	status := c.Status
	if status == "" {
		status = model.ChangeStatusOpen
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if _, err := tx.ExecContext(ctx, query, c.Repository, c.Number, string(status), c.Owner, c.Branch,
		c.Subject, formatTime(created), formatTime(updated)); err != nil {
		return fmt.Errorf("upsert change %s/%d: %w", c.Repository, c.Number, err)
	}

	if c.CurrentPatchSet.ID.Number > 0 {
		ps := c.CurrentPatchSet
		ps.ID.Change = c.Number
		if err := insertPatchSet(ctx, tx, c.Repository, ps); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit change %s/%d: %w", c.Repository, c.Number, err)
	}
	return nil
}

// AddPatchSet stores a new patch set of an existing change.
func (r *ChangeRepo) AddPatchSet(ctx context.Context, repository string, ps model.PatchSet) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if err := insertPatchSet(ctx, tx, repository, ps); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patch set %s: %w", ps.ID, err)
	}
	return nil
}

func insertPatchSet(ctx context.Context, tx *sql.Tx, repository string, ps model.PatchSet) error {
	const query = `
		INSERT INTO patch_sets (repository, change_number, number, revision, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repository, change_number, number) DO UPDATE SET revision = excluded.revision
	`

	created := ps.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := tx.ExecContext(ctx, query, repository, ps.ID.Change, ps.ID.Number, ps.Revision, formatTime(created))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return fmt.Errorf("insert patch set %s/%s: %w", repository, ps.ID, driven.ErrNotFound)
		}
		return fmt.Errorf("insert patch set %s/%s: %w", repository, ps.ID, err)
	}
	return nil
}

const changeColumns = `
	c.repository, c.number, c.status, c.owner, c.branch, c.subject, c.created_at, c.updated_at,
	COALESCE(ps.number, 0), COALESCE(ps.revision, ''), COALESCE(ps.created_at, c.created_at)
`

// currentPatchSetJoin joins the highest-numbered patch set of each change.
const currentPatchSetJoin = `
	LEFT JOIN patch_sets ps ON ps.repository = c.repository AND ps.change_number = c.number
		AND ps.number = (SELECT MAX(number) FROM patch_sets
			WHERE repository = c.repository AND change_number = c.number)
`

// GetChange returns a change with its current patch set.
func (r *ChangeRepo) GetChange(ctx context.Context, repository string, number int) (*model.Change, error) {
	query := `SELECT ` + changeColumns + ` FROM changes c ` + currentPatchSetJoin +
		` WHERE c.repository = ? AND c.number = ?`

	c, err := scanChange(r.db.Reader.QueryRowContext(ctx, query, repository, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get change %s/%d: %w", repository, number, driven.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get change %s/%d: %w", repository, number, err)
	}
	return c, nil
}

// GetPatchSet returns one patch set.
func (r *ChangeRepo) GetPatchSet(ctx context.Context, repository string, id model.PatchSetID) (*model.PatchSet, error) {
	const query = `
		SELECT change_number, number, revision, created_at
		FROM patch_sets
		WHERE repository = ? AND change_number = ? AND number = ?
	`

	var ps model.PatchSet
	var created string
	err := r.db.Reader.QueryRowContext(ctx, query, repository, id.Change, id.Number).
		Scan(&ps.ID.Change, &ps.ID.Number, &ps.Revision, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get patch set %s/%s: %w", repository, id, driven.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get patch set %s/%s: %w", repository, id, err)
	}
	if ps.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &ps, nil
}

// Query returns up to limit changes of repository matching the change
// search, most recently updated first.
func (r *ChangeRepo) Query(ctx context.Context, repository, query string, limit int) ([]model.Change, error) {
	terms, err := parseChangeQuery(query)
	if err != nil {
		return nil, err
	}

	where := []string{"c.repository = ?"}
	args := []any{repository}
	for _, t := range terms {
		clause, a := t.sql()
		where = append(where, clause)
		args = append(args, a...)
	}

	stmt := `SELECT ` + changeColumns + ` FROM changes c ` + currentPatchSetJoin +
		` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY c.updated_at DESC, c.number DESC`
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Reader.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes of %s: %w", repository, err)
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// Match evaluates a change search against one change without touching the
// database.
func (r *ChangeRepo) Match(_ context.Context, change model.Change, query string) (bool, error) {
	terms, err := parseChangeQuery(query)
	if err != nil {
		return false, err
	}
	return matchAll(terms, change), nil
}

// ValidateQuery reports whether query parses.
func (r *ChangeRepo) ValidateQuery(query string) error {
	_, err := parseChangeQuery(query)
	return err
}

func scanChange(s scanner) (*model.Change, error) {
	var c model.Change
	var status, created, updated, psCreated string

	err := s.Scan(&c.Repository, &c.Number, &status, &c.Owner, &c.Branch, &c.Subject, &created, &updated,
		&c.CurrentPatchSet.ID.Number, &c.CurrentPatchSet.Revision, &psCreated)
	if err != nil {
		return nil, err
	}
	c.Status = model.ChangeStatus(status)
	c.CurrentPatchSet.ID.Change = c.Number

	if c.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.Updated, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if c.CurrentPatchSet.Created, err = parseTime(psCreated); err != nil {
		return nil, fmt.Errorf("parse patch set created_at: %w", err)
	}
	return &c, nil
}
