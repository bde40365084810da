package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/engine"
	"github.com/btorressz/milestone-amm/internal/service"
)

// MarketService defines the methods the market handler requires from the
// service layer. Declared locally so the handler depends only on what it
// calls.
type MarketService interface {
	Init(ctx context.Context, creator, milestoneID, authority string, params domain.MarketParams) (domain.Market, error)
	Snapshot(ctx context.Context, marketID string) (service.MarketSnapshot, error)
	Seed(ctx context.Context, marketID, authority string, amountFP int64) (domain.Market, error)
	SetPaused(ctx context.Context, marketID, actor string, paused bool) (domain.Market, error)
	UpdateParams(ctx context.Context, marketID, actor string, upd engine.ParamUpdate) (domain.Market, error)
	ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market lifecycle and admin endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type initMarketRequest struct {
	Creator     string              `json:"creator"`
	MilestoneID string              `json:"milestone_id"`
	Authority   string              `json:"authority"`
	Params      domain.MarketParams `json:"params"`
}

// InitMarket creates a new market with a content-derived id.
// POST /api/markets
func (h *MarketHandler) InitMarket(w http.ResponseWriter, r *http.Request) {
	var req initMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Creator == "" || req.MilestoneID == "" {
		writeError(w, http.StatusBadRequest, "creator and milestone_id are required")
		return
	}
	authority := req.Authority
	if authority == "" {
		authority = req.Creator
	}

	m, err := h.markets.Init(r.Context(), req.Creator, req.MilestoneID, authority, req.Params)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns unresolved markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListUnresolved(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a market with its derived phase and current prices.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	snap, err := h.markets.Snapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type updateMarketRequest struct {
	Actor           string  `json:"actor"`
	BFP             *int64  `json:"b_fp"`
	FeeBps          *int64  `json:"fee_bps"`
	DeadlineTS      *int64  `json:"deadline_ts"`
	GracePeriodSecs *int64  `json:"grace_period_secs"`
	MaxTradeFP      *int64  `json:"max_trade_fp"`
	MaxPositionFP   *int64  `json:"max_position_fp"`
	CapSellProceeds *bool   `json:"cap_sell_proceeds"`
	Treasury        *string `json:"treasury"`
	Oracle          *string `json:"oracle"`
}

// UpdateMarket applies a partial admin parameter update. Omitted fields are
// left unchanged.
// PATCH /api/markets/{id}
func (h *MarketHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req updateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	upd := engine.ParamUpdate{
		BFP:             req.BFP,
		FeeBps:          req.FeeBps,
		DeadlineTS:      req.DeadlineTS,
		GracePeriodSecs: req.GracePeriodSecs,
		MaxTradeFP:      req.MaxTradeFP,
		MaxPositionFP:   req.MaxPositionFP,
		CapSellProceeds: req.CapSellProceeds,
		Treasury:        req.Treasury,
		Oracle:          req.Oracle,
	}

	m, err := h.markets.UpdateParams(r.Context(), id, req.Actor, upd)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type pauseMarketRequest struct {
	Actor  string `json:"actor"`
	Paused bool   `json:"paused"`
}

// PauseMarket pauses or unpauses trading.
// POST /api/markets/{id}/pause
func (h *MarketHandler) PauseMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req pauseMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	m, err := h.markets.SetPaused(r.Context(), id, req.Actor, req.Paused)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type seedMarketRequest struct {
	Authority string `json:"authority"`
	AmountFP  int64  `json:"amount_fp"`
}

// SeedMarket adds authority collateral to the vault. Trading opens once the
// vault covers the LMSR worst-case loss.
// POST /api/markets/{id}/seed
func (h *MarketHandler) SeedMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req seedMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Authority == "" {
		writeError(w, http.StatusBadRequest, "authority is required")
		return
	}

	m, err := h.markets.Seed(r.Context(), id, req.Authority, req.AmountFP)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
