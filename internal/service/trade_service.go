package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TradeConfig holds trading session parameters.
type TradeConfig struct {
	QuoteDecimals      int32
	BaseDecimals       int32
	AmountEpsilon      decimal.Decimal
	DefaultSlippageBps int
	MaxTradesPerMinute int
}

// TradeRequest is a conditional buy of market with Amount units of
// collateral. SlippageBps overrides the configured default; zero or less
// means no minimum output.
type TradeRequest struct {
	IdeaID      string          `json:"ideaId"`
	Market      domain.Market   `json:"market"`
	Amount      decimal.Decimal `json:"amount"`
	SlippageBps *int            `json:"slippageBps,omitempty"`
}

// TradeResult reports a confirmed trade.
type TradeResult struct {
	Signature   string              `json:"signature"`
	ExplorerURL string              `json:"explorerUrl,omitempty"`
	InputAmount uint64              `json:"inputAmount"`
	MinOutput   uint64              `json:"minOutput"`
	Stats       *domain.MarketStats `json:"stats,omitempty"`
}

// TradeService serves market statistics and submits conditional trades.
type TradeService struct {
	store    domain.IdeaStore
	cache    domain.StatsCache
	limiter  domain.RateLimiter
	chain    Ledger
	protocol *futarchy.Client
	fx       sideEffects
	cfg      TradeConfig
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. cache and limiter may be nil.
func NewTradeService(
	store domain.IdeaStore,
	cache domain.StatsCache,
	limiter domain.RateLimiter,
	chain Ledger,
	protocol *futarchy.Client,
	out Outputs,
	cfg TradeConfig,
	logger *slog.Logger,
) *TradeService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "trade_service"))
	return &TradeService{
		store:    store,
		cache:    cache,
		limiter:  limiter,
		chain:    chain,
		protocol: protocol,
		fx:       out.with(logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// MarketStats returns the idea store's market projection with implied
// probabilities, served from the cache when fresh.
func (s *TradeService) MarketStats(ctx context.Context, ideaID string) (domain.MarketStats, error) {
	if s.cache != nil {
		if stats, err := s.cache.Get(ctx, ideaID); err == nil {
			return stats, nil
		}
	}

	stats, err := s.store.GetIdeaMarketStats(ctx, ideaID).Unwrap()
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("trade_service: market stats %s: %w", ideaID, err)
	}
	stats = stats.WithProbabilities()
	s.cacheStats(ctx, ideaID, stats)
	return stats, nil
}

// ChainMarketStats recomputes the statistics from the conditional pool
// balances on the ledger, bypassing the idea store's projection.
func (s *TradeService) ChainMarketStats(ctx context.Context, ideaID string) (domain.MarketStats, error) {
	idea, err := s.store.GetIdea(ctx, ideaID).Unwrap()
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("trade_service: get idea %s: %w", ideaID, err)
	}
	if !idea.HasPool() {
		return domain.MarketStats{}, fmt.Errorf("trade_service: idea %s: %w", ideaID, domain.ErrMissingPoolRefs)
	}

	pass, fail, err := s.poolAddresses(ctx, idea)
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("trade_service: pools of %s: %w", ideaID, err)
	}
	var passBal, failBal uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if passBal, err = s.chain.TokenBalance(gctx, pass); err != nil {
			return fmt.Errorf("trade_service: pass pool balance: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if failBal, err = s.chain.TokenBalance(gctx, fail); err != nil {
			return fmt.Errorf("trade_service: fail pool balance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.MarketStats{}, err
	}

	stats := domain.MarketStats{
		PoolStatus:      idea.PoolStatus,
		ProposalPubkey:  idea.ProposalPubkey,
		PassPoolAddress: pass.String(),
		FailPoolAddress: fail.String(),
		PassPoolBalance: futarchy.FromBaseUnits(passBal, s.cfg.QuoteDecimals).InexactFloat64(),
		FailPoolBalance: futarchy.FromBaseUnits(failBal, s.cfg.QuoteDecimals).InexactFloat64(),
		FinalDecision:   idea.FinalDecision,
		FinalizedAt:     idea.FinalizedAt,
		UpdatedAt:       time.Now().UTC(),
		Source:          "chain",
	}.WithProbabilities()
	s.cacheStats(ctx, ideaID, stats)
	return stats, nil
}

// poolAddresses returns the idea's recorded pools, deriving them from the
// proposal when the store has none.
func (s *TradeService) poolAddresses(ctx context.Context, idea domain.Idea) (pass, fail solana.PublicKey, err error) {
	if idea.PassPoolAddress != "" && idea.FailPoolAddress != "" {
		if pass, err = solana.PublicKeyFromBase58(idea.PassPoolAddress); err != nil {
			return
		}
		fail, err = solana.PublicKeyFromBase58(idea.FailPoolAddress)
		return
	}
	refs, _, err := s.proposalRefs(ctx, idea)
	if err != nil {
		return
	}
	pools, err := refs.Pools()
	if err != nil {
		return
	}
	return pools.PassQuote, pools.FailQuote, nil
}

func (s *TradeService) proposalRefs(ctx context.Context, idea domain.Idea) (futarchy.ProposalRefs, futarchy.Proposal, error) {
	dao, err := solana.PublicKeyFromBase58(idea.GovernanceRealmAddress)
	if err != nil {
		return futarchy.ProposalRefs{}, futarchy.Proposal{}, fmt.Errorf("parse dao address: %w", err)
	}
	prop, err := solana.PublicKeyFromBase58(idea.ProposalPubkey)
	if err != nil {
		return futarchy.ProposalRefs{}, futarchy.Proposal{}, fmt.Errorf("parse proposal address: %w", err)
	}
	return s.protocol.ProposalRefs(ctx, dao, prop)
}

// Trade buys into the pass or fail market of an idea with a collateral
// amount. Without a slippage tolerance the minimum output is zero. When
// confirmation fails or cannot be verified the error wraps
// domain.ErrTradeUnconfirmed and the result still carries the signature.
func (s *TradeService) Trade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	if !s.chain.Connected() {
		return TradeResult{}, domain.ErrWalletNotConnected
	}
	market, err := toProtocolMarket(req.Market)
	if err != nil {
		return TradeResult{}, err
	}
	amount, err := futarchy.ToBaseUnits(req.Amount, s.cfg.QuoteDecimals, s.cfg.AmountEpsilon)
	if err != nil {
		return TradeResult{}, err
	}

	idea, err := s.store.GetIdea(ctx, req.IdeaID).Unwrap()
	if err != nil {
		return TradeResult{}, fmt.Errorf("trade_service: get idea %s: %w", req.IdeaID, err)
	}
	if !idea.HasPool() {
		return TradeResult{}, fmt.Errorf("trade_service: idea %s: %w", req.IdeaID, domain.ErrMissingPoolRefs)
	}
	if idea.IsFinalized() {
		return TradeResult{}, fmt.Errorf("trade_service: idea %s: %w", req.IdeaID, domain.ErrAlreadyFinalized)
	}

	trader := s.chain.PublicKey()
	if s.limiter != nil && s.cfg.MaxTradesPerMinute > 0 {
		ok, err := s.limiter.Allow(ctx, "trade:"+trader.String(), s.cfg.MaxTradesPerMinute, time.Minute)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return TradeResult{}, fmt.Errorf("trade_service: %w", domain.ErrRateLimited)
		}
	}

	refs, prop, err := s.proposalRefs(ctx, idea)
	if err != nil {
		return TradeResult{}, fmt.Errorf("trade_service: load proposal: %w", err)
	}
	if prop.IsFinal() {
		return TradeResult{}, fmt.Errorf("trade_service: proposal %s is %s: %w", refs.Address, prop.State, domain.ErrAlreadyFinalized)
	}

	minOut, err := s.minOutput(ctx, req, refs, market, amount)
	if err != nil {
		return TradeResult{}, err
	}

	ix, err := s.protocol.ConditionalSwap(refs, trader, market, futarchy.SwapBuy, amount, minOut)
	if err != nil {
		return TradeResult{}, fmt.Errorf("trade_service: build swap: %w", err)
	}

	s.logger.InfoContext(ctx, "submitting trade",
		slog.String("idea_id", req.IdeaID),
		slog.String("market", string(req.Market)),
		slog.Uint64("amount", amount),
		slog.Uint64("min_output", minOut),
	)
	sig, err := s.chain.SignAndSend(ctx, []solana.Instruction{ix})
	result := TradeResult{InputAmount: amount, MinOutput: minOut}
	if sig != (solana.Signature{}) {
		result.Signature = sig.String()
		result.ExplorerURL = s.chain.ExplorerLink(sig)
	}
	if err != nil {
		var txErr *ledger.TxError
		if errors.As(err, &txErr) && txErr.HasSignature() {
			return result, fmt.Errorf("trade_service: %w (tx %s): %w", domain.ErrTradeUnconfirmed, sig, err)
		}
		return result, fmt.Errorf("trade_service: submit trade: %w", err)
	}

	fxCtx, cancel := detached(ctx)
	defer cancel()
	s.fx.auditLog(fxCtx, "trade", map[string]any{
		"idea_id":    req.IdeaID,
		"market":     string(req.Market),
		"amount":     amount,
		"min_output": minOut,
		"trader":     trader.String(),
		"signature":  result.Signature,
	})
	if s.cache != nil {
		if err := s.cache.Invalidate(fxCtx, req.IdeaID); err != nil {
			s.logger.WarnContext(ctx, "stats cache invalidate failed", slog.String("error", err.Error()))
		}
	}
	if stats, err := s.MarketStats(fxCtx, req.IdeaID); err == nil {
		result.Stats = &stats
	} else {
		s.logger.WarnContext(ctx, "stats refresh failed", slog.String("error", err.Error()))
	}
	return result, nil
}

// minOutput quotes the swap against the conditional pool reserves and
// applies the slippage tolerance. A tolerance of zero disables the check.
func (s *TradeService) minOutput(ctx context.Context, req TradeRequest, refs futarchy.ProposalRefs, market futarchy.Market, amount uint64) (uint64, error) {
	bps := s.cfg.DefaultSlippageBps
	if req.SlippageBps != nil {
		bps = *req.SlippageBps
	}
	if bps <= 0 {
		return 0, nil
	}
	pools, err := refs.Pools()
	if err != nil {
		return 0, err
	}
	quotePool, basePool := pools.PassQuote, pools.PassBase
	if market == futarchy.MarketFail {
		quotePool, basePool = pools.FailQuote, pools.FailBase
	}
	reserveIn, err := s.chain.TokenBalance(ctx, quotePool)
	if err != nil {
		return 0, fmt.Errorf("trade_service: quote reserve: %w", err)
	}
	reserveOut, err := s.chain.TokenBalance(ctx, basePool)
	if err != nil {
		return 0, fmt.Errorf("trade_service: base reserve: %w", err)
	}
	expected := futarchy.ExpectedSwapOutput(reserveIn, reserveOut, amount, futarchy.AmmFeeBps)
	return futarchy.MinOutputWithSlippage(expected, bps), nil
}

func (s *TradeService) cacheStats(ctx context.Context, ideaID string, stats domain.MarketStats) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, ideaID, stats); err != nil {
		s.logger.WarnContext(ctx, "stats cache set failed",
			slog.String("idea_id", ideaID),
			slog.String("error", err.Error()),
		)
	}
}

func toProtocolMarket(m domain.Market) (futarchy.Market, error) {
	switch m {
	case domain.MarketPass:
		return futarchy.MarketPass, nil
	case domain.MarketFail:
		return futarchy.MarketFail, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidMarket, m)
	}
}
