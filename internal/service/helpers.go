package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/fixedpoint"
)

// tradesChannel carries executed-trade events on the signal bus; fillsStream
// is the durable copy.
const (
	tradesChannel = "amm:trades"
	fillsStream   = "amm:fills"
)

func newFill(marketID, user string, kind domain.FillKind, side domain.Side, collateralFP, sharesFP, feeFP, priceMilli int64, now time.Time) domain.Fill {
	return domain.Fill{
		ID:            uuid.NewString(),
		MarketID:      marketID,
		User:          user,
		Kind:          kind,
		Side:          side,
		CollateralFP:  collateralFP,
		SharesFP:      sharesFP,
		FeeFP:         feeFP,
		PriceHitMilli: priceMilli,
		CreatedAt:     now,
	}
}

// currentPricesMilli samples the instantaneous prices of a market.
func currentPricesMilli(m domain.Market) (hit, miss int64, err error) {
	curve, err := m.Curve()
	if err != nil {
		return 0, 0, err
	}
	p, err := curve.PriceHit(m.QHitFP, m.QMissFP)
	if err != nil {
		return 0, 0, err
	}
	hit, err = fixedpoint.MulDiv(p, domain.PriceMilliScale, fixedpoint.Scale)
	if err != nil {
		return 0, 0, err
	}
	return hit, domain.PriceMilliScale - hit, nil
}

// freezeOnSolvencyFailure persists the frozen flag when an engine call
// reports a solvency violation. The failed operation itself was rolled
// back; the freeze is written in its own transaction so the market stops
// accepting mutations. Returns the original error.
func freezeOnSolvencyFailure(ctx context.Context, tx domain.Transactor, logger *slog.Logger, marketID string, opErr error) error {
	if !errors.Is(opErr, domain.ErrSolvencyViolated) {
		return opErr
	}
	ferr := tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Frozen {
			return nil
		}
		m.Frozen = true
		m.Paused = true
		return stores.Markets.Update(ctx, m)
	})
	if ferr != nil {
		logger.ErrorContext(ctx, "service: failed to freeze market after solvency violation",
			slog.String("market_id", marketID),
			slog.String("error", ferr.Error()),
		)
	} else {
		logger.ErrorContext(ctx, "service: market frozen on solvency violation",
			slog.String("market_id", marketID),
		)
	}
	return fmt.Errorf("market %s frozen: %w", marketID, opErr)
}
