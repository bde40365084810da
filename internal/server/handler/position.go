package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	Get(ctx context.Context, marketID, user string) (domain.Position, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error)
	UserFills(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Fill, error)
}

// PositionHandler serves position read endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// GetPosition returns one user's share balances in a market. A user who
// never traded the market gets a zero-value position, not a 404.
// GET /api/markets/{id}/positions/{user}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	user := pathParam(r, "user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}

	pos, err := h.positions.Get(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListPositions returns all positions in a market, largest holders first.
// GET /api/markets/{id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	positions, err := h.positions.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// ListUserFills returns a user's fill history across markets.
// GET /api/users/{user}/fills
func (h *PositionHandler) ListUserFills(w http.ResponseWriter, r *http.Request) {
	user := pathParam(r, "user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}
	opts := parseListOpts(r)

	fills, err := h.positions.UserFills(r.Context(), user, opts)
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
