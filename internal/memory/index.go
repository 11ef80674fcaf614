package memory

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// entry is one persisted index row.
type entry struct {
	caseID int64
	vector []float32
}

// sqliteIndex persists index vectors in SQLite.
//
// Vectors are held in memory for search; the database is only written on
// append and rebuild.
type sqliteIndex struct {
	db *sql.DB
}

// openIndex creates or opens the index database at path.
//
// The database is configured like every other SQLite file in the tree:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection (SQLite has one writer)
func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect index: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &sqliteIndex{db: db}, nil
}

func (x *sqliteIndex) close() error {
	if x.db == nil {
		return nil
	}
	return x.db.Close()
}

// load returns the persisted dimension (0 if unset) and entries in position
// order.
func (x *sqliteIndex) load(ctx context.Context) (int, []entry, error) {
	var dimText string
	err := x.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dim'`).Scan(&dimText)
	dim := 0
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, nil, fmt.Errorf("read index dim: %w", err)
	default:
		if dim, err = strconv.Atoi(dimText); err != nil {
			return 0, nil, fmt.Errorf("parse index dim %q: %w", dimText, err)
		}
	}

	rows, err := x.db.QueryContext(ctx, `SELECT case_id, vector FROM vectors ORDER BY position`)
	if err != nil {
		return 0, nil, fmt.Errorf("read index: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var e entry
		var blob []byte
		if err := rows.Scan(&e.caseID, &blob); err != nil {
			return 0, nil, fmt.Errorf("scan index row: %w", err)
		}
		e.vector = decodeVector(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate index: %w", err)
	}
	return dim, entries, nil
}

// replace atomically swaps the whole index content.
func (x *sqliteIndex) replace(ctx context.Context, dim int, entries []entry) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := setDim(ctx, tx, dim); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vectors (position, case_id, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.caseID, encodeVector(e.vector)); err != nil {
			return fmt.Errorf("insert vector %d: %w", e.caseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// add persists one entry at position.
func (x *sqliteIndex) add(ctx context.Context, dim, position int, e entry) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if err := setDim(ctx, tx, dim); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vectors (position, case_id, vector) VALUES (?, ?, ?)`,
		position, e.caseID, encodeVector(e.vector)); err != nil {
		return fmt.Errorf("insert vector %d: %w", e.caseID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func setDim(ctx context.Context, tx *sql.Tx, dim int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('dim', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("write index dim: %w", err)
	}
	return nil
}
