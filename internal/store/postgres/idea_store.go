package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// IdeaStore implements domain.IdeaStore on the ideas table for deployments
// that host the idea registry themselves. Every call is normalized into a
// domain.Result; database errors are logged and reported as Fail.
type IdeaStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewIdeaStore creates a new IdeaStore backed by the given connection pool.
func NewIdeaStore(pool *pgxpool.Pool, logger *slog.Logger) *IdeaStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdeaStore{pool: pool, logger: logger.With(slog.String("component", "idea_store"))}
}

const ideaColumns = `
	id, title, votes, governance_realm_address, proposal_pubkey,
	pass_pool_address, fail_pool_address, pool_status, final_decision,
	pool_create_tx, pool_finalize_tx, finalized_at`

func scanIdea(row pgx.Row) (domain.Idea, error) {
	var (
		i                                 domain.Idea
		dao, proposal, passPool, failPool *string
		status                            string
		decision, createTx, finalizeTx    *string
	)
	err := row.Scan(
		&i.ID, &i.Title, &i.Votes, &dao, &proposal,
		&passPool, &failPool, &status, &decision,
		&createTx, &finalizeTx, &i.FinalizedAt,
	)
	if err != nil {
		return domain.Idea{}, err
	}
	i.GovernanceRealmAddress = deref(dao)
	i.ProposalPubkey = deref(proposal)
	i.PassPoolAddress = deref(passPool)
	i.FailPoolAddress = deref(failPool)
	i.PoolStatus = domain.PoolStatus(status)
	i.FinalDecision = domain.Decision(deref(decision))
	i.PoolCreateTx = deref(createTx)
	i.PoolFinalizeTx = deref(finalizeTx)
	return i, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// errIdeaNotFound reads as "idea not found" and matches domain.ErrNotFound.
var errIdeaNotFound = fmt.Errorf("idea %w", domain.ErrNotFound)

// failResult logs err and turns it into a Fail result. Missing rows report
// domain.ErrNotFound; anything else is reported generically.
func failResult[T any](ctx context.Context, logger *slog.Logger, op, ideaID string, err error) domain.Result[T] {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FailErr[T](errIdeaNotFound)
	}
	logger.ErrorContext(ctx, "idea store query failed",
		slog.String("op", op),
		slog.String("idea_id", ideaID),
		slog.String("error", err.Error()),
	)
	return domain.Fail[T](fmt.Sprintf("%s failed", op))
}

// GetIdea returns a single idea.
func (s *IdeaStore) GetIdea(ctx context.Context, ideaID string) domain.Result[domain.Idea] {
	idea, err := scanIdea(s.pool.QueryRow(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id = $1`, ideaID))
	if err != nil {
		return failResult[domain.Idea](ctx, s.logger, "get idea", ideaID, err)
	}
	return domain.Ok(idea)
}

// CreateIdeaPool writes the pool mapping and marks the idea active. It is
// refused when the idea already has a proposal or is finalized, which keeps
// pool creation monotonic even across deployments sharing the database.
func (s *IdeaStore) CreateIdeaPool(ctx context.Context, ideaID string, m domain.PoolMapping) domain.Result[domain.Idea] {
	refs, err := json.Marshal(m.OnchainRefs)
	if err != nil {
		return domain.Fail[domain.Idea](fmt.Sprintf("encode onchain refs: %v", err))
	}

	const query = `
		UPDATE ideas SET
			governance_realm_address = $2,
			proposal_pubkey          = $3,
			pass_pool_address        = $4,
			fail_pool_address        = $5,
			pool_create_tx           = $6,
			sponsor                  = $7,
			onchain_refs             = $8,
			pool_status              = 'active',
			updated_at               = NOW()
		WHERE id = $1
		  AND proposal_pubkey IS NULL
		  AND pool_status IN ('none', 'pending')
		RETURNING ` + ideaColumns

	idea, err := scanIdea(s.pool.QueryRow(ctx, query,
		ideaID, m.DAOAddress, m.ProposalPubkey,
		m.PassPoolAddress, m.FailPoolAddress,
		m.PoolCreateTx, m.Sponsor, refs,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.explainNoRows(ctx, ideaID, domain.ErrPoolAlreadyActive)
	}
	if err != nil {
		return failResult[domain.Idea](ctx, s.logger, "create pool", ideaID, err)
	}
	return domain.Ok(idea)
}

// GetIdeaMarketStats returns the recorded pool balances of an idea.
func (s *IdeaStore) GetIdeaMarketStats(ctx context.Context, ideaID string) domain.Result[domain.MarketStats] {
	const query = `
		SELECT pool_status, proposal_pubkey, pass_pool_address, fail_pool_address,
		       pass_pool_balance::float8, fail_pool_balance::float8,
		       final_decision, finalized_at, updated_at
		FROM ideas WHERE id = $1`

	var (
		st                                  domain.MarketStats
		status                              string
		proposal, passPool, failPool, final *string
		updated                             time.Time
	)
	err := s.pool.QueryRow(ctx, query, ideaID).Scan(
		&status, &proposal, &passPool, &failPool,
		&st.PassPoolBalance, &st.FailPoolBalance,
		&final, &st.FinalizedAt, &updated,
	)
	if err != nil {
		return failResult[domain.MarketStats](ctx, s.logger, "market stats", ideaID, err)
	}
	st.PoolStatus = domain.PoolStatus(status)
	st.ProposalPubkey = deref(proposal)
	st.PassPoolAddress = deref(passPool)
	st.FailPoolAddress = deref(failPool)
	st.FinalDecision = domain.Decision(deref(final))
	st.UpdatedAt = updated.UTC()
	st.Source = "store"
	return domain.Ok(st.WithProbabilities())
}

// FinalizeIdea records the decision of an active idea. Finalization is
// terminal, so an already finalized idea is rejected.
func (s *IdeaStore) FinalizeIdea(ctx context.Context, ideaID string, rec domain.FinalizeRecord) domain.Result[domain.Idea] {
	const query = `
		UPDATE ideas SET
			pool_status      = 'finalized',
			final_decision   = $2,
			pool_finalize_tx = $3,
			finalized_at     = NOW(),
			updated_at       = NOW()
		WHERE id = $1
		  AND pool_status = 'active'
		  AND ($4 = '' OR proposal_pubkey = $4)
		RETURNING ` + ideaColumns

	idea, err := scanIdea(s.pool.QueryRow(ctx, query, ideaID, string(rec.Decision), rec.OnchainTx, rec.ProposalPubkey))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.explainNoRows(ctx, ideaID, errors.New("idea is not active or proposal does not match"))
	}
	if err != nil {
		return failResult[domain.Idea](ctx, s.logger, "finalize", ideaID, err)
	}
	return domain.Ok(idea)
}

// explainNoRows distinguishes a missing idea from a guarded update that
// matched nothing.
func (s *IdeaStore) explainNoRows(ctx context.Context, ideaID string, guard error) domain.Result[domain.Idea] {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ideas WHERE id = $1)`, ideaID).Scan(&exists)
	if err != nil {
		return failResult[domain.Idea](ctx, s.logger, "check idea", ideaID, err)
	}
	if !exists {
		return domain.FailErr[domain.Idea](errIdeaNotFound)
	}
	return domain.FailErr[domain.Idea](guard)
}
