package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/service"
	"github.com/shopspring/decimal"
)

// Trader serves market statistics and conditional trades.
// *service.TradeService satisfies it.
type Trader interface {
	MarketStats(ctx context.Context, ideaID string) (domain.MarketStats, error)
	ChainMarketStats(ctx context.Context, ideaID string) (domain.MarketStats, error)
	Trade(ctx context.Context, req service.TradeRequest) (service.TradeResult, error)
}

// TradeHandler serves the trading endpoints of an idea.
type TradeHandler struct {
	trader Trader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trader Trader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trader: trader, logger: logHandler(logger, "trade")}
}

// Stats returns the market statistics of an idea. source=chain re-reads the
// pool balances from the ledger instead of the idea store projection.
// GET /api/ideas/{id}/stats
func (h *TradeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var (
		stats domain.MarketStats
		err   error
	)
	switch r.URL.Query().Get("source") {
	case "", "store":
		stats, err = h.trader.MarketStats(r.Context(), id)
	case "chain":
		stats, err = h.trader.ChainMarketStats(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "source must be store or chain")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type tradeBody struct {
	Market      string          `json:"market"`
	Amount      decimal.Decimal `json:"amount"`
	SlippageBps *int            `json:"slippageBps,omitempty"`
}

// Trade buys into the pass or fail market of an idea.
// POST /api/ideas/{id}/trades
func (h *TradeHandler) Trade(w http.ResponseWriter, r *http.Request) {
	var body tradeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	market, err := domain.ParseMarket(body.Market)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	if body.SlippageBps != nil && (*body.SlippageBps < 0 || *body.SlippageBps > 10_000) {
		writeError(w, http.StatusBadRequest, "slippageBps must be between 0 and 10000")
		return
	}

	res, err := h.trader.Trade(r.Context(), service.TradeRequest{
		IdeaID:      pathParam(r, "id"),
		Market:      market,
		Amount:      body.Amount,
		SlippageBps: body.SlippageBps,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
