package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/engine"
)

// lockTTL bounds how long a per-market mutation lock may be held before the
// backing store reclaims it from a crashed process.
const lockTTL = 10 * time.Second

// lifecycleChannel carries market lifecycle events on the signal bus.
const lifecycleChannel = "amm:lifecycle"

func lockKey(marketID string) string { return "market:" + marketID }

// MarketSnapshot is a market with its derived, time-dependent fields.
type MarketSnapshot struct {
	Market         domain.Market `json:"market"`
	Phase          domain.Phase  `json:"phase"`
	PriceHitMilli  int64         `json:"price_hit_milli"`
	PriceMissMilli int64         `json:"price_miss_milli"`
}

// MarketService owns market creation, seeding, pause, and admin updates.
type MarketService struct {
	tx      domain.Transactor
	markets domain.MarketStore
	locks   domain.LockManager
	clock   domain.Clock
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. bus and audit may be nil in
// ephemeral setups; events and audit rows are then skipped.
func NewMarketService(
	tx domain.Transactor,
	markets domain.MarketStore,
	locks domain.LockManager,
	clock domain.Clock,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		tx:      tx,
		markets: markets,
		locks:   locks,
		clock:   clock,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Init creates a market with a content-derived ID. One market per
// (creator, milestone) pair; a second init fails with ErrAlreadyExists.
func (s *MarketService) Init(ctx context.Context, creator, milestoneID, authority string, params domain.MarketParams) (domain.Market, error) {
	if creator == "" || milestoneID == "" || authority == "" {
		return domain.Market{}, fmt.Errorf("market_service: %w: creator, milestone, authority required", domain.ErrInvalidParams)
	}
	now := s.clock.Now()
	if err := params.Validate(now); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: init: %w", err)
	}

	m := domain.Market{
		ID:          domain.DeriveMarketID(creator, milestoneID),
		Creator:     creator,
		MilestoneID: milestoneID,
		Authority:   authority,
		Params:      params,
		Outcome:     domain.OutcomeUnresolved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		return stores.Markets.Create(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: init %s: %w", m.ID, err)
	}

	s.logEvent(ctx, "market_initialized", map[string]any{
		"market_id": m.ID,
		"creator":   creator,
		"milestone": milestoneID,
		"b_fp":      params.BFP,
		"fee_bps":   params.FeeBps,
	})
	s.logger.InfoContext(ctx, "market_service: market initialized",
		slog.String("market_id", m.ID),
		slog.String("milestone", milestoneID),
	)
	return m, nil
}

// Get returns the raw market state.
func (s *MarketService) Get(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", marketID, err)
	}
	return m, nil
}

// Snapshot returns the market with its derived phase and current prices.
func (s *MarketService) Snapshot(ctx context.Context, marketID string) (MarketSnapshot, error) {
	m, err := s.Get(ctx, marketID)
	if err != nil {
		return MarketSnapshot{}, err
	}
	hit, miss, err := currentPricesMilli(m)
	if err != nil {
		return MarketSnapshot{}, fmt.Errorf("market_service: snapshot %s: %w", marketID, err)
	}
	return MarketSnapshot{
		Market:         m,
		Phase:          m.PhaseAt(s.clock.Now()),
		PriceHitMilli:  hit,
		PriceMissMilli: miss,
	}, nil
}

// Seed moves liquidity collateral from the authority's ledger account into
// the vault. Authority-only, and only before the deadline.
func (s *MarketService) Seed(ctx context.Context, marketID, authority string, amountFP int64) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: seed %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var out domain.Market
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if err := engine.Seed(&m, authority, amountFP, now); err != nil {
			return err
		}
		if err := stores.Collateral.Transfer(ctx, authority, m.VaultAccount(), amountFP); err != nil {
			return err
		}
		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		if err := stores.Fills.Insert(ctx, newFill(m.ID, authority, domain.FillSeed, "", amountFP, 0, 0, 0, now)); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: seed %s: %w", marketID, err)
	}

	s.logEvent(ctx, "market_seeded", map[string]any{
		"market_id": marketID,
		"amount_fp": amountFP,
	})
	s.logger.InfoContext(ctx, "market_service: seeded",
		slog.String("market_id", marketID),
		slog.Int64("amount_fp", amountFP),
		slog.Int64("vault_fp", out.CollateralFP),
	)
	return out, nil
}

// SetPaused flips the trading pause switch.
func (s *MarketService) SetPaused(ctx context.Context, marketID, actor string, paused bool) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: pause %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var out domain.Market
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if err := engine.SetPaused(&m, actor, paused, now); err != nil {
			return err
		}
		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: pause %s: %w", marketID, err)
	}

	s.logEvent(ctx, "market_pause_set", map[string]any{
		"market_id": marketID,
		"paused":    paused,
	})
	return out, nil
}

// UpdateParams applies an admin parameter update.
func (s *MarketService) UpdateParams(ctx context.Context, marketID, actor string, upd engine.ParamUpdate) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(marketID), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update %s: %w", marketID, err)
	}
	defer unlock()

	now := s.clock.Now()
	var out domain.Market
	err = s.tx.WithinTx(ctx, func(stores domain.TxStores) error {
		m, err := stores.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if err := engine.UpdateParams(&m, actor, upd, now); err != nil {
			return err
		}
		if err := stores.Markets.Update(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update %s: %w", marketID, err)
	}

	s.logEvent(ctx, "market_params_updated", map[string]any{
		"market_id": marketID,
	})
	return out, nil
}

// ListUnresolved lists markets that have not resolved yet.
func (s *MarketService) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	ms, err := s.markets.ListUnresolved(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return ms, nil
}

// logEvent writes the audit row and publishes the lifecycle event; both are
// best-effort.
func (s *MarketService) logEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		detail["event"] = event
		payload, _ := json.Marshal(detail)
		if err := s.bus.Publish(ctx, lifecycleChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "market_service: publish failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
