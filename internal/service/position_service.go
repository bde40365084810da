package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// PositionService serves position reads and per-user fill history.
type PositionService struct {
	positions domain.PositionStore
	fills     domain.FillStore
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(positions domain.PositionStore, fills domain.FillStore, logger *slog.Logger) *PositionService {
	return &PositionService{positions: positions, fills: fills, logger: logger}
}

// Get returns the user's position in a market; a zero-value position when
// the user never traded it.
func (s *PositionService) Get(ctx context.Context, marketID, user string) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, marketID, user)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s/%s: %w", marketID, user, err)
	}
	return pos, nil
}

// ListByMarket returns all positions in a market.
func (s *PositionService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	ps, err := s.positions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s: %w", marketID, err)
	}
	return ps, nil
}

// UserFills returns the user's fill history across markets.
func (s *PositionService) UserFills(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Fill, error) {
	fs, err := s.fills.ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: fills %s: %w", user, err)
	}
	return fs, nil
}
