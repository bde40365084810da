package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// SettlementService defines the methods the settlement handler requires.
type SettlementService interface {
	Resolve(ctx context.Context, marketID, actor string, outcome domain.Outcome) (domain.Market, error)
	Redeem(ctx context.Context, marketID, user string) (int64, error)
}

// SettlementHandler serves resolution and redemption endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logger,
	}
}

type resolveRequest struct {
	Actor   string         `json:"actor"`
	Outcome domain.Outcome `json:"outcome"`
}

// Resolve records the milestone outcome. Legal only during the grace window
// and only for the authority or the configured oracle.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	m, err := h.settlement.Resolve(r.Context(), id, req.Actor, req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type redeemRequest struct {
	User string `json:"user"`
}

type redeemResponse struct {
	MarketID        string `json:"market_id"`
	User            string `json:"user"`
	CollateralOutFP int64  `json:"collateral_out_fp"`
}

// Redeem settles the user's position against a terminal market. A zero
// payout is a valid result.
// POST /api/markets/{id}/redeem
func (h *SettlementHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	payout, err := h.settlement.Redeem(r.Context(), id, req.User)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		MarketID:        id,
		User:            req.User,
		CollateralOutFP: payout,
	})
}
