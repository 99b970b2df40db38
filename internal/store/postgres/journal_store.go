package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// JournalStore implements domain.SagaJournal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append records a confirmed saga step. Recording the same step of a run
// twice keeps the first entry.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	refs, err := json.Marshal(e.Refs)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal refs: %w", err)
	}

	const query = `
		INSERT INTO saga_journal (idea_id, run_id, step, signature, refs, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (run_id, step) DO NOTHING`
	_, err = s.pool.Exec(ctx, query, e.IdeaID, e.RunID, string(e.Step), e.Signature, refs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append journal %s/%s: %w", e.RunID, e.Step, err)
	}
	return nil
}

// Latest returns the entries of the most recent unfinished run for ideaID.
func (s *JournalStore) Latest(ctx context.Context, ideaID string) ([]domain.JournalEntry, error) {
	const query = `
		WITH latest AS (
			SELECT run_id FROM saga_journal
			WHERE idea_id = $1 AND completed_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		SELECT idea_id, run_id, step, COALESCE(signature, ''), refs, created_at
		FROM saga_journal
		WHERE run_id = (SELECT run_id FROM latest)
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, ideaID)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest journal %s: %w", ideaID, err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			step    string
			refsRaw []byte
		)
		if err := rows.Scan(&e.IdeaID, &e.RunID, &step, &e.Signature, &refsRaw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Step = domain.SagaStep(step)
		if len(refsRaw) > 0 {
			if err := json.Unmarshal(refsRaw, &e.Refs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal refs: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest journal rows: %w", err)
	}
	if len(entries) == 0 {
		return nil, domain.ErrNotFound
	}
	domain.SortJournal(entries)
	return entries, nil
}

// Complete marks every entry of the run finished.
func (s *JournalStore) Complete(ctx context.Context, ideaID, runID string) error {
	const query = `
		UPDATE saga_journal SET completed_at = NOW()
		WHERE idea_id = $1 AND run_id = $2 AND completed_at IS NULL`
	if _, err := s.pool.Exec(ctx, query, ideaID, runID); err != nil {
		return fmt.Errorf("postgres: complete journal %s: %w", runID, err)
	}
	return nil
}
