package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// PriceService serves current market prices, cache-first with an engine
// fallback.
type PriceService struct {
	markets domain.MarketStore
	prices  domain.PriceCache
	clock   domain.Clock
	logger  *slog.Logger
}

// NewPriceService creates a PriceService. prices may be nil; every read
// then computes from market state.
func NewPriceService(markets domain.MarketStore, prices domain.PriceCache, clock domain.Clock, logger *slog.Logger) *PriceService {
	return &PriceService{markets: markets, prices: prices, clock: clock, logger: logger}
}

// Current returns the latest price point for a market. Cache misses fall
// back to computing from the stored share quantities and repopulate the
// cache.
func (s *PriceService) Current(ctx context.Context, marketID string) (domain.PricePoint, error) {
	if s.prices != nil {
		p, err := s.prices.GetPrice(ctx, marketID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("price_service: current %s: %w", marketID, err)
	}
	hit, miss, err := currentPricesMilli(m)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("price_service: current %s: %w", marketID, err)
	}

	point := domain.PricePoint{HitMilli: hit, MissMilli: miss, Ts: s.clock.Now()}
	if s.prices != nil {
		if err := s.prices.SetPrice(ctx, marketID, point); err != nil {
			s.logger.WarnContext(ctx, "price_service: cache write failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return point, nil
}
