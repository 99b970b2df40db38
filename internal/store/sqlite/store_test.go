package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(run string, step domain.SagaStep, sig string) domain.JournalEntry {
	return domain.JournalEntry{
		IdeaID:    "idea-1",
		RunID:     run,
		Step:      step,
		Signature: sig,
		Refs:      map[string]string{"dao": "Dao111"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestJournalLatestReturnsNewestUnfinishedRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "idea-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Append(ctx, entry("run-a", domain.StepDAOReady, "a1")))
	require.NoError(t, s.Append(ctx, entry("run-b", domain.StepDAOReady, "b1")))
	require.NoError(t, s.Append(ctx, entry("run-b", domain.StepProposalContainerCreated, "b2")))
	// Duplicate step is ignored.
	require.NoError(t, s.Append(ctx, entry("run-b", domain.StepDAOReady, "b1-again")))

	got, err := s.Latest(ctx, "idea-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run-b", got[0].RunID)
	assert.Equal(t, domain.StepDAOReady, got[0].Step)
	assert.Equal(t, "b1", got[0].Signature)
	assert.Equal(t, "Dao111", got[0].Refs["dao"])
	assert.Equal(t, domain.StepProposalContainerCreated, got[1].Step)

	require.NoError(t, s.Complete(ctx, "idea-1", "run-b"))
	got, err = s.Latest(ctx, "idea-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-a", got[0].RunID)

	require.NoError(t, s.Complete(ctx, "idea-1", "run-a"))
	_, err = s.Latest(ctx, "idea-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJournalIsolatesIdeas(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, entry("run-a", domain.StepDAOReady, "a1")))

	_, err := s.Latest(ctx, "idea-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditLog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "pool_created", map[string]any{"idea_id": "idea-1"}))
	require.NoError(t, s.Log(ctx, "trade", map[string]any{"amount": 1500000}))
	require.NoError(t, s.Log(ctx, "trade", map[string]any{"amount": 20}))

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "trade", all[0].Event)
	assert.InDelta(t, 20, all[0].Detail["amount"], 0)

	trades, err := s.List(ctx, domain.ListOpts{Event: "trade", Limit: 1})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	created, err := s.List(ctx, domain.ListOpts{Event: "pool_created"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "idea-1", created[0].Detail["idea_id"])
}
