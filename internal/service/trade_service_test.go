package service

import (
	"context"
	"testing"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradeFixture struct {
	chain    *fakeLedger
	protocol *futarchy.Client
	store    *fakeStore
	cache    *memCache
	limiter  domain.RateLimiter
	rec      *recorder
	seed     seeded
	cfg      TradeConfig
}

func newTradeFixture(t *testing.T, state futarchy.ProposalState) *tradeFixture {
	t.Helper()
	chain := newFakeLedger()
	protocol := futarchy.NewClient(futarchy.DefaultPrograms(), chain)
	seed := seedProposal(t, chain, protocol, state)
	store := newFakeStore(domain.Idea{
		ID:                     "idea-1",
		Title:                  "Community garden",
		GovernanceRealmAddress: seed.dao.String(),
		ProposalPubkey:         seed.proposal.String(),
		PoolStatus:             domain.PoolStatusActive,
	})
	store.stats["idea-1"] = domain.MarketStats{PoolStatus: domain.PoolStatusActive, PassPoolBalance: 30, FailPoolBalance: 10}
	return &tradeFixture{
		chain:    chain,
		protocol: protocol,
		store:    store,
		cache:    newMemCache(),
		limiter:  fixedLimiter{allow: true},
		rec:      &recorder{},
		seed:     seed,
		cfg:      TradeConfig{QuoteDecimals: 6, BaseDecimals: 9, MaxTradesPerMinute: 10},
	}
}

func (f *tradeFixture) service() *TradeService {
	return NewTradeService(f.store, f.cache, f.limiter, f.chain, f.protocol, f.rec.outputs(), f.cfg, nil)
}

func buy(market domain.Market, amount string) TradeRequest {
	return TradeRequest{IdeaID: "idea-1", Market: market, Amount: decimal.RequireFromString(amount)}
}

func TestTradeSubmitsSwap(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)

	res, err := f.service().Trade(context.Background(), buy(domain.MarketPass, "1.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), res.InputAmount)
	assert.Zero(t, res.MinOutput, "no tolerance means no minimum")
	assert.Equal(t, testSignature(1).String(), res.Signature)
	assert.Contains(t, res.ExplorerURL, res.Signature)

	require.Equal(t, 1, f.chain.sentCount())
	require.Len(t, f.chain.sent[0], 1)
	assert.Equal(t, f.protocol.Futarchy, f.chain.sent[0][0].ProgramID())

	require.NotNil(t, res.Stats)
	require.NotNil(t, res.Stats.PassProbability)
	assert.InDelta(t, 0.75, *res.Stats.PassProbability, 1e-9)
	assert.Equal(t, []string{"idea-1"}, f.cache.invalidated)
	assert.Equal(t, []string{"trade"}, f.rec.audits)
}

func TestTradeSlippageSetsMinimumOutput(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	f.chain.balances[f.seed.pools.FailQuote] = 50_000_000
	f.chain.balances[f.seed.pools.FailBase] = 200_000_000_000
	bps := 100
	req := buy(domain.MarketFail, "2")
	req.SlippageBps = &bps

	res, err := f.service().Trade(context.Background(), req)
	require.NoError(t, err)

	expected := futarchy.ExpectedSwapOutput(50_000_000, 200_000_000_000, 2_000_000, futarchy.AmmFeeBps)
	assert.Positive(t, expected)
	assert.Equal(t, futarchy.MinOutputWithSlippage(expected, 100), res.MinOutput)
	assert.Less(t, res.MinOutput, expected)
}

func TestTradePreconditionsSendNothing(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *tradeFixture)
		req    TradeRequest
		target error
	}{
		{
			name:   "wallet disconnected",
			setup:  func(f *tradeFixture) { f.chain.connected = false },
			req:    buy(domain.MarketPass, "1"),
			target: domain.ErrWalletNotConnected,
		},
		{
			name:   "zero amount",
			req:    buy(domain.MarketPass, "0"),
			target: domain.ErrInvalidAmount,
		},
		{
			name:   "too many decimals",
			req:    buy(domain.MarketPass, "0.0000001"),
			target: domain.ErrInvalidAmount,
		},
		{
			name:   "unknown market",
			req:    buy(domain.Market("spot"), "1"),
			target: domain.ErrInvalidMarket,
		},
		{
			name: "no pool",
			setup: func(f *tradeFixture) {
				f.store.ideas["idea-1"] = domain.Idea{ID: "idea-1", PoolStatus: domain.PoolStatusNone}
			},
			req:    buy(domain.MarketPass, "1"),
			target: domain.ErrMissingPoolRefs,
		},
		{
			name: "idea finalized",
			setup: func(f *tradeFixture) {
				idea := f.store.ideas["idea-1"]
				idea.PoolStatus = domain.PoolStatusFinalized
				f.store.ideas["idea-1"] = idea
			},
			req:    buy(domain.MarketPass, "1"),
			target: domain.ErrAlreadyFinalized,
		},
		{
			name:   "rate limited",
			setup:  func(f *tradeFixture) { f.limiter = fixedLimiter{allow: false} },
			req:    buy(domain.MarketPass, "1"),
			target: domain.ErrRateLimited,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTradeFixture(t, futarchy.ProposalPending)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.service().Trade(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.target)
			assert.Zero(t, f.chain.sentCount())
		})
	}
}

func TestTradeRefusesFinalProposal(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPassed)
	_, err := f.service().Trade(context.Background(), buy(domain.MarketPass, "1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Zero(t, f.chain.sentCount())
}

func TestTradeUnconfirmedKeepsSignature(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	sig := testSignature(9)
	f.chain.failAt = 1
	f.chain.failSig = sig
	f.chain.failErr = &ledger.TxError{Kind: domain.ErrConfirmationTimeout, Signature: sig}

	res, err := f.service().Trade(context.Background(), buy(domain.MarketPass, "1"))
	assert.ErrorIs(t, err, domain.ErrTradeUnconfirmed)
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	assert.True(t, domain.IsIndeterminate(err))
	assert.Contains(t, err.Error(), sig.String())
	assert.Equal(t, sig.String(), res.Signature)
	assert.Empty(t, f.rec.audits)
}

func TestTradeSubmissionFailureIsNotUnconfirmed(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	f.chain.failAt = 1
	f.chain.failErr = &ledger.TxError{Kind: domain.ErrSubmissionFailed}

	res, err := f.service().Trade(context.Background(), buy(domain.MarketPass, "1"))
	assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.NotErrorIs(t, err, domain.ErrTradeUnconfirmed)
	assert.Empty(t, res.Signature)
}

func TestMarketStatsUsesCache(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	svc := f.service()

	first, err := svc.MarketStats(context.Background(), "idea-1")
	require.NoError(t, err)
	second, err := svc.MarketStats(context.Background(), "idea-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.statsCalls)
	assert.Equal(t, first, second)
	require.NotNil(t, first.FailProbability)
	assert.InDelta(t, 0.25, *first.FailProbability, 1e-9)
}

func TestMarketStatsEmptyPools(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	f.store.stats["idea-1"] = domain.MarketStats{PoolStatus: domain.PoolStatusActive}

	stats, err := f.service().MarketStats(context.Background(), "idea-1")
	require.NoError(t, err)
	assert.Nil(t, stats.PassProbability)
	assert.Nil(t, stats.FailProbability)
}

func TestChainMarketStatsReadsPoolBalances(t *testing.T) {
	f := newTradeFixture(t, futarchy.ProposalPending)
	f.chain.balances[f.seed.pools.PassQuote] = 1_000_000
	f.chain.balances[f.seed.pools.FailQuote] = 3_000_000

	stats, err := f.service().ChainMarketStats(context.Background(), "idea-1")
	require.NoError(t, err)
	assert.Equal(t, "chain", stats.Source)
	assert.Equal(t, f.seed.pools.PassQuote.String(), stats.PassPoolAddress)
	assert.InDelta(t, 1.0, stats.PassPoolBalance, 1e-9)
	assert.InDelta(t, 3.0, stats.FailPoolBalance, 1e-9)
	require.NotNil(t, stats.PassProbability)
	assert.InDelta(t, 0.25, *stats.PassProbability, 1e-9)
}
