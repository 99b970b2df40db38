package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
}

// IdeaStore is the off-chain idea registry. Implementations normalize every
// response into a Result; transport failures become Fail as well.
type IdeaStore interface {
	GetIdea(ctx context.Context, ideaID string) Result[Idea]
	CreateIdeaPool(ctx context.Context, ideaID string, mapping PoolMapping) Result[Idea]
	GetIdeaMarketStats(ctx context.Context, ideaID string) Result[MarketStats]
	FinalizeIdea(ctx context.Context, ideaID string, rec FinalizeRecord) Result[Idea]
}

// SagaJournal records confirmed saga steps per idea.
type SagaJournal interface {
	Append(ctx context.Context, entry JournalEntry) error
	// Latest returns the entries of the most recent unfinished run for
	// ideaID, ordered by step. It returns ErrNotFound when there is none.
	Latest(ctx context.Context, ideaID string) ([]JournalEntry, error)
	// Complete marks the run finished so it is not resumed again.
	Complete(ctx context.Context, ideaID, runID string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
