package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/engine"
)

// SettlementService owns resolution, redemption, and the expiry sweep.
type SettlementService struct {
	tx       domain.Transactor
	markets  domain.MarketStore
	locks    domain.LockManager
	clock    domain.Clock
	bus      domain.SignalBus
	audit    domain.AuditStore
	archiver domain.Archiver
	logger   *slog.Logger

	mu       sync.Mutex
	archived map[string]bool
}

// NewSettlementService creates a SettlementService. bus, audit, and
// archiver may be nil.
func NewSettlementService(
	tx domain.Transactor,
	markets domain.MarketStore,
	locks domain.LockManager,
	clock domain.Clock,
	bus domain.SignalBus,
	audit domain.AuditStore,
	archiver domain.Archiver,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		tx:       tx,
		markets:  markets,
		locks:    locks,
		clock:    clock,
		bus:      bus,
		audit:    audit,
		archiver: archiver,
		logger:   logger,
		archived: make(map[string]bool),
	}
}

// Resolve records the milestone outcome during the grace window. Only the
// authority or the configured oracle may resolve.
func (s *SettlementService) Resolve(ctx context.Context, marketID, actor string, outcome domain.Outcome) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: resolve %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var out domain.Market
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if err := engine.Resolve(&m, actor, outcome, now); err != nil {
			return err
		}
		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: resolve %s: %w", marketID, err)
	}

	s.logEvent(ctx, "market_resolved", map[string]any{
		"market_id": marketID,
		"outcome":   string(outcome),
		"actor":     actor,
	})
	s.logger.InfoContext(ctx, "settlement_service: market resolved",
		slog.String("market_id", marketID),
		slog.String("outcome", string(outcome)),
	)

	s.archive(ctx, marketID)
	return out, nil
}

// Redeem settles a user's position against a terminal market and pays the
// proceeds out of the vault. All-or-nothing: the position is zeroed on both
// sides. A zero payout is a valid result.
func (s *SettlementService) Redeem(ctx context.Context, marketID, user string) (int64, error) {
	if user == "" {
		return 0, fmt.Errorf("settlement_service: %w: user required", domain.ErrInvalidParams)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: redeem %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var payout int64
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		pos, err := stores.Positions.Get(ctx, marketID, user)
		if err != nil {
			return err
		}

		payout, err = engine.Redeem(&m, &pos, now)
		if err != nil {
			return err
		}
		if payout > 0 {
			if err := stores.Collateral.Transfer(ctx, m.VaultAccount(), user, payout); err != nil {
				return err
			}
		}
		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		if err := stores.Positions.Upsert(ctx, pos); err != nil {
			return err
		}
		return stores.Fills.Insert(ctx, newFill(marketID, user, domain.FillRedeem, "", payout, 0, 0, 0, now))
	})
	if err != nil {
		return 0, fmt.Errorf("settlement_service: redeem %s: %w",
			marketID, freezeOnSolvencyFailure(ctx, s.tx, s.logger, marketID, err))
	}

	s.logEvent(ctx, "position_redeemed", map[string]any{
		"market_id": marketID,
		"user":      user,
		"payout_fp": payout,
	})
	return payout, nil
}

// SweepExpired archives markets whose grace window lapsed without a
// resolution. Called periodically from the app run loop; each market is
// archived once per process lifetime.
func (s *SettlementService) SweepExpired(ctx context.Context) error {
	now := s.clock.Now()
	markets, err := s.markets.ListUnresolved(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("settlement_service: sweep: %w", err)
	}

	for _, m := range markets {
		if m.PhaseAt(now) != domain.PhaseExpired {
			continue
		}
		s.mu.Lock()
		seen := s.archived[m.ID]
		s.mu.Unlock()
		if seen {
			continue
		}

		s.logEvent(ctx, "market_expired", map[string]any{
			"market_id": m.ID,
			"vault_fp":  m.CollateralFP,
		})
		s.logger.InfoContext(ctx, "settlement_service: market expired",
			slog.String("market_id", m.ID),
		)
		s.archive(ctx, m.ID)
	}
	return nil
}

// RunSweeper runs SweepExpired on the given interval until ctx ends.
func (s *SettlementService) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepExpired(ctx); err != nil {
				s.logger.WarnContext(ctx, "settlement_service: sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archive snapshots a terminal market to cold storage, best-effort.
func (s *SettlementService) archive(ctx context.Context, marketID string) {
	if s.archiver == nil {
		return
	}
	s.mu.Lock()
	if s.archived[marketID] {
		s.mu.Unlock()
		return
	}
	s.archived[marketID] = true
	s.mu.Unlock()

	path, err := s.archiver.ArchiveMarket(ctx, marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: archive failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		delete(s.archived, marketID)
		s.mu.Unlock()
		return
	}
	s.logger.InfoContext(ctx, "settlement_service: market archived",
		slog.String("market_id", marketID),
		slog.String("path", path),
	)
}

func (s *SettlementService) logEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		detail["event"] = event
		payload, _ := json.Marshal(detail)
		if err := s.bus.Publish(ctx, lifecycleChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: publish failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
