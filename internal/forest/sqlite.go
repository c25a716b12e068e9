package forest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kerfworks/kerf/api"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists the forest in a SQLite database shared with the CRUD
// layer. Only the score and dirty columns are written by recalculation.
type SQLiteStore struct {
	db        *sql.DB
	batchSize int
	now       func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	id          TEXT NOT NULL,
	parent_kind TEXT NOT NULL DEFAULT '',
	parent_id   TEXT NOT NULL DEFAULT '',
	project_id  TEXT NOT NULL,
	attributes  JSON,
	score       REAL NOT NULL DEFAULT 0,
	scored      INTEGER NOT NULL DEFAULT 0,
	dirty       INTEGER NOT NULL DEFAULT 0,
	dirty_gen   INTEGER NOT NULL DEFAULT 0,
	dirtied_at  INTEGER NOT NULL DEFAULT 0,
	scored_at   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (kind, id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_kind, parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project_id, kind, seq);
CREATE INDEX IF NOT EXISTS idx_nodes_dirty ON nodes(dirty, kind, seq);
`

const nodeColumns = `seq, kind, id, parent_kind, parent_id, project_id, attributes,
	score, scored, dirty, dirty_gen, dirtied_at, scored_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLiteStore opens (creating if needed) the forest database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: transactions and PRAGMAs stay on the same handle.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, batchSize: 1000, now: time.Now}, nil
}

// DB exposes the underlying handle for read-only reporting queries.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetNode implements Reader.
func (s *SQLiteStore) GetNode(ctx context.Context, ref Ref) (*Node, error) {
	return getNode(ctx, s.db, ref)
}

func getNode(ctx context.Context, q querier, ref Ref) (*Node, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE kind = ? AND id = ?`,
		ref.Kind.String(), ref.ID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return n, nil
}

// Children implements Reader.
func (s *SQLiteStore) Children(ctx context.Context, ref Ref) ([]*Node, error) {
	if _, err := getNode(ctx, s.db, ref); err != nil {
		return nil, err
	}
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_kind = ? AND parent_id = ? ORDER BY seq`,
		ref.Kind.String(), ref.ID)
}

// ParentChain implements Reader.
func (s *SQLiteStore) ParentChain(ctx context.Context, ref Ref) ([]*Node, error) {
	n, err := getNode(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	var chain []*Node
	for p := n.Parent; !p.IsZero(); {
		pn, err := getNode(ctx, s.db, p)
		if err != nil {
			return nil, fmt.Errorf("parent of %s: %w", ref, err)
		}
		chain = append(chain, pn)
		p = pn.Parent
	}
	return chain, nil
}

// Query implements Reader.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*Node, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + nodeColumns + ` FROM nodes WHERE seq > ?`)
	args := []any{q.After}
	if q.Project != "" {
		sb.WriteString(` AND project_id = ?`)
		args = append(args, q.Project)
	}
	if q.Kind != api.KindUnknown {
		sb.WriteString(` AND kind = ?`)
		args = append(args, q.Kind.String())
	}
	if q.DirtyOnly {
		sb.WriteString(` AND dirty = 1`)
	}
	sb.WriteString(` ORDER BY seq LIMIT ?`)
	args = append(args, q.limit())
	return s.queryNodes(ctx, sb.String(), args...)
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetScore implements Store.
func (s *SQLiteStore) SetScore(ctx context.Context, ref Ref, score float64, clearAt uint64) (bool, error) {
	var dirty bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE nodes SET
			score = ?,
			scored = 1,
			scored_at = ?,
			dirty = CASE WHEN ? <> 0 AND dirty_gen = ? THEN 0 ELSE dirty END
		WHERE kind = ? AND id = ?
		RETURNING dirty`,
		score, s.now().UnixNano(), clearAt, clearAt, ref.Kind.String(), ref.ID,
	).Scan(&dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("set score %s: %w", ref, err)
	}
	return clearAt != 0 && !dirty, nil
}

// SetDirty implements Store.
func (s *SQLiteStore) SetDirty(ctx context.Context, ref Ref) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return markChain(ctx, tx, ref, s.now())
	})
}

// markChain dirties ref and every ancestor, bumping their generations.
func markChain(ctx context.Context, q querier, ref Ref, now time.Time) error {
	for r := ref; !r.IsZero(); {
		var pkind, pid string
		err := q.QueryRowContext(ctx, `
			UPDATE nodes SET dirty = 1, dirty_gen = dirty_gen + 1, dirtied_at = ?
			WHERE kind = ? AND id = ?
			RETURNING parent_kind, parent_id`,
			now.UnixNano(), r.Kind.String(), r.ID,
		).Scan(&pkind, &pid)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", r, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("mark %s: %w", r, err)
		}
		parent, err := refFromColumns(pkind, pid)
		if err != nil {
			return err
		}
		r = parent
	}
	return nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, n *Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.put(ctx, tx, n)
	})
}

// PutBatch implements Store. Nodes are committed in transactions of
// batchSize rows; a failure leaves earlier batches in place.
func (s *SQLiteStore) PutBatch(ctx context.Context, nodes []*Node) error {
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	for start := 0; start < len(nodes); start += s.batchSize {
		end := min(start+s.batchSize, len(nodes))
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, n := range nodes[start:end] {
				if err := s.put(ctx, tx, n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) put(ctx context.Context, tx *sql.Tx, n *Node) error {
	now := s.now()
	project := n.Ref.ID
	if !n.Parent.IsZero() {
		err := tx.QueryRowContext(ctx,
			`SELECT project_id FROM nodes WHERE kind = ? AND id = ?`,
			n.Parent.Kind.String(), n.Parent.ID).Scan(&project)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s: %w", ErrBadParent, n.Parent, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup parent %s: %w", n.Parent, err)
		}
	}

	attrs, err := json.Marshal(n.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes of %s: %w", n.Ref, err)
	}

	existing, err := getNode(ctx, tx, n.Ref)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (kind, id, parent_kind, parent_id, project_id, attributes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.Ref.Kind.String(), n.Ref.ID, parentKindColumn(n.Parent), n.Parent.ID, project, string(attrs))
		if err != nil {
			return fmt.Errorf("insert %s: %w", n.Ref, err)
		}
	case err != nil:
		return err
	default:
		if existing.Project != project {
			return fmt.Errorf("%w: %s cannot move from project %s to %s", ErrBadParent, n.Ref, existing.Project, project)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE nodes SET attributes = ?, parent_kind = ?, parent_id = ?
			WHERE kind = ? AND id = ?`,
			string(attrs), parentKindColumn(n.Parent), n.Parent.ID, n.Ref.Kind.String(), n.Ref.ID)
		if err != nil {
			return fmt.Errorf("update %s: %w", n.Ref, err)
		}
		if existing.Parent != n.Parent {
			if err := markChain(ctx, tx, existing.Parent, now); err != nil {
				return err
			}
		}
	}
	return markChain(ctx, tx, n.Ref, now)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ref Ref) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := getNode(ctx, tx, ref)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			WITH RECURSIVE subtree(kind, id) AS (
				SELECT kind, id FROM nodes WHERE kind = ? AND id = ?
				UNION ALL
				SELECT c.kind, c.id FROM nodes c
				JOIN subtree p ON c.parent_kind = p.kind AND c.parent_id = p.id
			)
			DELETE FROM nodes WHERE (kind, id) IN (SELECT kind, id FROM subtree)`,
			ref.Kind.String(), ref.ID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		if n.Parent.IsZero() {
			return nil
		}
		return markChain(ctx, tx, n.Parent, s.now())
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n                   Node
		kind, pkind, pid    string
		attrs               sql.NullString
		scored, dirty       bool
		dirtiedAt, scoredAt int64
	)
	if err := row.Scan(&n.Seq, &kind, &n.Ref.ID, &pkind, &pid, &n.Project, &attrs,
		&n.Score, &scored, &dirty, &n.Gen, &dirtiedAt, &scoredAt); err != nil {
		return nil, err
	}
	k, err := api.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", n.Seq, err)
	}
	n.Ref.Kind = k
	if n.Parent, err = refFromColumns(pkind, pid); err != nil {
		return nil, fmt.Errorf("row %d: %w", n.Seq, err)
	}
	if attrs.Valid && attrs.String != "" && attrs.String != "null" {
		if err := json.Unmarshal([]byte(attrs.String), &n.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", n.Ref, err)
		}
	}
	n.Scored, n.Dirty = scored, dirty
	n.DirtiedAt = unixNano(dirtiedAt)
	n.ScoredAt = unixNano(scoredAt)
	return &n, nil
}

func refFromColumns(kind, id string) (Ref, error) {
	if kind == "" {
		return Ref{}, nil
	}
	k, err := api.ParseKind(kind)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Kind: k, ID: id}, nil
}

func parentKindColumn(r Ref) string {
	if r.IsZero() {
		return ""
	}
	return r.Kind.String()
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

var _ Store = (*SQLiteStore)(nil)
