package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/service"
)

// TradeService defines the methods the trade handler requires.
type TradeService interface {
	Buy(ctx context.Context, marketID, user string, side domain.Side, collateralInFP, minSharesOutFP int64) (domain.Fill, error)
	Sell(ctx context.Context, marketID, user string, side domain.Side, sharesInFP, minCollateralOutFP int64) (domain.Fill, error)
	QuoteBuy(ctx context.Context, marketID string, side domain.Side, collateralInFP int64) (service.Quote, error)
	ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error)
}

// PriceService defines the price read the trade handler requires.
type PriceService interface {
	Current(ctx context.Context, marketID string) (domain.PricePoint, error)
}

// TradeHandler serves trading, quoting, and price endpoints.
type TradeHandler struct {
	trades TradeService
	prices PriceService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, prices PriceService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		prices: prices,
		logger: logger,
	}
}

type buyRequest struct {
	User           string      `json:"user"`
	Side           domain.Side `json:"side"`
	CollateralInFP int64       `json:"collateral_in_fp"`
	MinSharesOutFP int64       `json:"min_shares_out_fp"`
}

// Buy spends collateral on outcome shares.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	fill, err := h.trades.Buy(r.Context(), id, req.User, req.Side, req.CollateralInFP, req.MinSharesOutFP)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

type sellRequest struct {
	User               string      `json:"user"`
	Side               domain.Side `json:"side"`
	SharesInFP         int64       `json:"shares_in_fp"`
	MinCollateralOutFP int64       `json:"min_collateral_out_fp"`
}

// Sell converts outcome shares back into collateral.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req sellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	fill, err := h.trades.Sell(r.Context(), id, req.User, req.Side, req.SharesInFP, req.MinCollateralOutFP)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// QuoteBuy previews a buy without executing it. An unaffordable or
// untradeable quote is all zeros, never an error.
// GET /api/markets/{id}/quote?side=hit&collateral_in_fp=1000000
func (h *TradeHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	q := r.URL.Query()

	side := domain.Side(q.Get("side"))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be hit or miss")
		return
	}
	collateralInFP, err := strconv.ParseInt(q.Get("collateral_in_fp"), 10, 64)
	if err != nil || collateralInFP <= 0 {
		writeError(w, http.StatusBadRequest, "collateral_in_fp must be a positive integer")
		return
	}

	quote, err := h.trades.QuoteBuy(r.Context(), id, side, collateralInFP)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetPrice returns the current hit/miss prices in milli-units.
// GET /api/markets/{id}/price
func (h *TradeHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	point, err := h.prices.Current(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

type listFillsResponse struct {
	Fills  []domain.Fill `json:"fills"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListFills returns a market's fill history, newest first.
// GET /api/markets/{id}/fills?limit=50&offset=0
func (h *TradeHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	fills, err := h.trades.ListFills(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}

	writeJSON(w, http.StatusOK, listFillsResponse{
		Fills:  fills,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
