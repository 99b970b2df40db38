// Package sqlite keeps the saga journal and the audit log in a local SQLite
// file for single-node deployments without PostgreSQL. It uses the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_journal (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    idea_id      TEXT    NOT NULL,
    run_id       TEXT    NOT NULL,
    step         TEXT    NOT NULL,
    signature    TEXT    NOT NULL DEFAULT '',
    refs         TEXT,
    created_at   INTEGER NOT NULL,
    completed_at INTEGER,
    UNIQUE (run_id, step)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_idea ON saga_journal(idea_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_audit_at     ON audit_log(created_at DESC);
`

// Store implements domain.SagaJournal and domain.AuditStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a confirmed saga step. A repeated step of the same run is
// ignored.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	refs, err := json.Marshal(e.Refs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal journal refs: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO saga_journal (idea_id, run_id, step, signature, refs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.IdeaID, e.RunID, string(e.Step), e.Signature, string(refs), created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append journal %s/%s: %w", e.RunID, e.Step, err)
	}
	return nil
}

// Latest returns the entries of the most recent unfinished run for ideaID,
// or domain.ErrNotFound.
func (s *Store) Latest(ctx context.Context, ideaID string) ([]domain.JournalEntry, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM saga_journal
		 WHERE idea_id = ? AND completed_at IS NULL
		 ORDER BY id DESC LIMIT 1`, ideaID,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest run %s: %w", ideaID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idea_id, run_id, step, signature, refs, created_at
		 FROM saga_journal WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: journal entries %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			step    string
			refs    sql.NullString
			created int64
		)
		if err := rows.Scan(&e.IdeaID, &e.RunID, &step, &e.Signature, &refs, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan journal entry: %w", err)
		}
		e.Step = domain.SagaStep(step)
		e.CreatedAt = time.Unix(0, created).UTC()
		if refs.Valid && refs.String != "" && refs.String != "null" {
			if err := json.Unmarshal([]byte(refs.String), &e.Refs); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal journal refs: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: journal rows: %w", err)
	}
	domain.SortJournal(entries)
	return entries, nil
}

// Complete marks the run finished.
func (s *Store) Complete(ctx context.Context, ideaID, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE saga_journal SET completed_at = ?
		 WHERE idea_id = ? AND run_id = ? AND completed_at IS NULL`,
		s.now().UnixNano(), ideaID, runID)
	if err != nil {
		return fmt.Errorf("sqlite: complete journal %s: %w", runID, err)
	}
	return nil
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(data), s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if opts.Event != "" {
		where = append(where, "event = ?")
		args = append(args, opts.Event)
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, opts.Until.UnixNano())
	}
	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
