package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/engine"
)

// Quote is a read-only trade preview. An unaffordable quote is all zeros.
type Quote struct {
	Side           domain.Side `json:"side"`
	CollateralInFP int64       `json:"collateral_in_fp"`
	SharesOutFP    int64       `json:"shares_out_fp"`
	FeeFP          int64       `json:"fee_fp"`
	PriceHitMilli  int64       `json:"price_hit_milli"`
}

// TradeService executes buys and sells and serves quotes. Every mutation
// runs under the per-market lock and commits market, position, ledger, and
// fill in one transaction.
type TradeService struct {
	tx      domain.Transactor
	markets domain.MarketStore
	locks   domain.LockManager
	clock   domain.Clock
	prices  domain.PriceCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewTradeService creates a TradeService. prices, bus, and audit may be nil.
func NewTradeService(
	tx domain.Transactor,
	markets domain.MarketStore,
	locks domain.LockManager,
	clock domain.Clock,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		tx:      tx,
		markets: markets,
		locks:   locks,
		clock:   clock,
		prices:  prices,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Buy spends collateral on outcome shares. The collateral moves from the
// user's ledger account into the vault (and the fee on to the treasury when
// one is configured) in the same transaction that commits the new market
// and position state.
func (s *TradeService) Buy(ctx context.Context, marketID, user string, side domain.Side, collateralInFP, minSharesOutFP int64) (domain.Fill, error) {
	if user == "" {
		return domain.Fill{}, fmt.Errorf("trade_service: %w: user required", domain.ErrInvalidParams)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("trade_service: buy %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var fill domain.Fill
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		pos, err := stores.Positions.Get(ctx, marketID, user)
		if err != nil {
			return err
		}

		res, err := engine.Buy(&m, &pos, side, collateralInFP, minSharesOutFP, now)
		if err != nil {
			return err
		}

		if err := stores.Collateral.Transfer(ctx, user, m.VaultAccount(), res.CollateralFP); err != nil {
			return err
		}
		if m.Params.Treasury != "" && res.FeeFP > 0 {
			if err := stores.Collateral.Transfer(ctx, m.VaultAccount(), m.Params.Treasury, res.FeeFP); err != nil {
				return err
			}
		}

		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		if err := stores.Positions.Upsert(ctx, pos); err != nil {
			return err
		}
		fill = newFill(marketID, user, domain.FillBuy, side, res.CollateralFP, res.SharesFP, res.FeeFP, res.PriceHitMilli, now)
		return stores.Fills.Insert(ctx, fill)
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("trade_service: buy %s: %w",
			marketID, freezeOnSolvencyFailure(ctx, s.tx, s.logger, marketID, err))
	}

	s.afterTrade(ctx, fill)
	return fill, nil
}

// Sell returns shares to the curve for collateral. The net payout moves
// from the vault to the user; the fee moves to the treasury when one is
// configured.
func (s *TradeService) Sell(ctx context.Context, marketID, user string, side domain.Side, sharesInFP, minCollateralOutFP int64) (domain.Fill, error) {
	if user == "" {
		return domain.Fill{}, fmt.Errorf("trade_service: %w: user required", domain.ErrInvalidParams)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("trade_service: sell %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var fill domain.Fill
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		pos, err := stores.Positions.Get(ctx, marketID, user)
		if err != nil {
			return err
		}

		res, err := engine.Sell(&m, &pos, side, sharesInFP, minCollateralOutFP, now)
		if err != nil {
			return err
		}

		if err := stores.Collateral.Transfer(ctx, m.VaultAccount(), user, res.CollateralFP); err != nil {
			return err
		}
		if m.Params.Treasury != "" && res.FeeFP > 0 {
			if err := stores.Collateral.Transfer(ctx, m.VaultAccount(), m.Params.Treasury, res.FeeFP); err != nil {
				return err
			}
		}

		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		if err := stores.Positions.Upsert(ctx, pos); err != nil {
			return err
		}
		fill = newFill(marketID, user, domain.FillSell, side, res.CollateralFP, res.SharesFP, res.FeeFP, res.PriceHitMilli, now)
		return stores.Fills.Insert(ctx, fill)
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("trade_service: sell %s: %w",
			marketID, freezeOnSolvencyFailure(ctx, s.tx, s.logger, marketID, err))
	}

	s.afterTrade(ctx, fill)
	return fill, nil
}

// QuoteBuy previews a buy without mutating anything. It runs the real
// engine against throwaway copies, so the preview prices exactly as an
// execution would. An unaffordable or out-of-phase quote returns zeros
// rather than an error.
func (s *TradeService) QuoteBuy(ctx context.Context, marketID string, side domain.Side, collateralInFP int64) (Quote, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return Quote{}, fmt.Errorf("trade_service: quote %s: %w", marketID, err)
	}

	staged := m
	pos := domain.Position{MarketID: marketID, User: "quote"}
	res, err := engine.Buy(&staged, &pos, side, collateralInFP, 0, s.clock.Now())
	if err != nil {
		// A quote never fails on market conditions, only on lookup.
		return Quote{Side: side, CollateralInFP: collateralInFP}, nil
	}
	return Quote{
		Side:           side,
		CollateralInFP: collateralInFP,
		SharesOutFP:    res.SharesFP,
		FeeFP:          res.FeeFP,
		PriceHitMilli:  res.PriceHitMilli,
	}, nil
}

// ListFills returns the fill history for a market.
func (s *TradeService) ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	var fills []domain.Fill
	err := s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		var err error
		fills, err = stores.Fills.ListByMarket(ctx, marketID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trade_service: list fills %s: %w", marketID, err)
	}
	return fills, nil
}

// afterTrade refreshes the price cache, publishes the trade event, appends
// to the durable fill stream, and writes the audit row. All best-effort;
// the trade is already committed.
func (s *TradeService) afterTrade(ctx context.Context, fill domain.Fill) {
	if s.prices != nil {
		point := domain.PricePoint{
			HitMilli:  fill.PriceHitMilli,
			MissMilli: domain.PriceMilliScale - fill.PriceHitMilli,
			Ts:        fill.CreatedAt,
		}
		if err := s.prices.SetPrice(ctx, fill.MarketID, point); err != nil {
			s.logger.WarnContext(ctx, "trade_service: price cache update failed",
				slog.String("market_id", fill.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":           "trade_executed",
			"fill_id":         fill.ID,
			"market_id":       fill.MarketID,
			"kind":            fill.Kind,
			"side":            fill.Side,
			"collateral_fp":   fill.CollateralFP,
			"shares_fp":       fill.SharesFP,
			"fee_fp":          fill.FeeFP,
			"price_hit_milli": fill.PriceHitMilli,
		})
		if err := s.bus.Publish(ctx, tradesChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "trade_service: publish failed",
				slog.String("fill_id", fill.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, fillsStream, payload); err != nil {
			s.logger.WarnContext(ctx, "trade_service: stream append failed",
				slog.String("fill_id", fill.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "trade_executed", map[string]any{
			"fill_id":   fill.ID,
			"market_id": fill.MarketID,
			"user":      fill.User,
			"kind":      string(fill.Kind),
		}); err != nil {
			s.logger.WarnContext(ctx, "trade_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("market_id", fill.MarketID),
		slog.String("kind", string(fill.Kind)),
		slog.String("side", string(fill.Side)),
		slog.Int64("collateral_fp", fill.CollateralFP),
		slog.Int64("shares_fp", fill.SharesFP),
	)
}
