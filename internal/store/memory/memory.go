// Package memory provides in-process implementations of the domain store
// interfaces. It backs the ephemeral server mode and the service tests.
// WithinTx clones the whole state, applies the mutation to the clone, and
// swaps it in on success, so commits are atomic and failed operations leave
// nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
)

type state struct {
	markets   map[string]domain.Market
	positions map[string]domain.Position // marketID + "\x00" + user
	fills     []domain.Fill
	balances  map[string]int64
	audit     []domain.AuditEntry
	auditSeq  int64
}

func newState() *state {
	return &state{
		markets:   make(map[string]domain.Market),
		positions: make(map[string]domain.Position),
		balances:  make(map[string]int64),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.markets {
		c.markets[k] = v
	}
	for k, v := range st.positions {
		c.positions[k] = v
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	c.fills = append(c.fills, st.fills...)
	c.audit = append(c.audit, st.audit...)
	c.auditSeq = st.auditSeq
	return c
}

func posKey(marketID, user string) string { return marketID + "\x00" + user }

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Store is the in-memory database. Individual store views share its state
// and mutex; WithinTx commits against a clone.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// Markets returns the MarketStore view.
func (s *Store) Markets() domain.MarketStore { return &marketStore{s: s} }

// Positions returns the PositionStore view.
func (s *Store) Positions() domain.PositionStore { return &positionStore{s: s} }

// Fills returns the FillStore view.
func (s *Store) Fills() domain.FillStore { return &fillStore{s: s} }

// Ledger returns the CollateralLedger view.
func (s *Store) Ledger() domain.CollateralLedger { return &ledger{s: s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() domain.AuditStore { return &auditStore{s: s} }

// WithinTx runs fn against a clone of the state and swaps the clone in only
// when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(domain.TxStores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.st.clone()
	if err := fn(domain.TxStores{
		Markets:    &marketStore{st: clone},
		Positions:  &positionStore{st: clone},
		Fills:      &fillStore{st: clone},
		Collateral: &ledger{st: clone},
	}); err != nil {
		return err
	}
	s.st = clone
	return nil
}

var _ domain.Transactor = (*Store)(nil)

// view types: when s is set they lock and use the live state, when st is
// set they operate directly on a tx clone already under the store lock.

type marketStore struct {
	s  *Store
	st *state
}

func (m *marketStore) run(write bool, fn func(*state) error) error {
	if m.st != nil {
		return fn(m.st)
	}
	if write {
		m.s.mu.Lock()
		defer m.s.mu.Unlock()
	} else {
		m.s.mu.RLock()
		defer m.s.mu.RUnlock()
	}
	return fn(m.s.st)
}

func (m *marketStore) Create(ctx context.Context, mk domain.Market) error {
	return m.run(true, func(st *state) error {
		if _, ok := st.markets[mk.ID]; ok {
			return fmt.Errorf("memory: market %s: %w", mk.ID, domain.ErrAlreadyExists)
		}
		st.markets[mk.ID] = mk
		return nil
	})
}

func (m *marketStore) Update(ctx context.Context, mk domain.Market) error {
	return m.run(true, func(st *state) error {
		if _, ok := st.markets[mk.ID]; !ok {
			return fmt.Errorf("memory: market %s: %w", mk.ID, domain.ErrNotFound)
		}
		st.markets[mk.ID] = mk
		return nil
	})
}

func (m *marketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	var out domain.Market
	err := m.run(false, func(st *state) error {
		mk, ok := st.markets[id]
		if !ok {
			return fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
		}
		out = mk
		return nil
	})
	return out, err
}

func (m *marketStore) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := m.run(false, func(st *state) error {
		for _, mk := range st.markets {
			if mk.Outcome == domain.OutcomeUnresolved {
				out = append(out, mk)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

func (m *marketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := m.run(false, func(st *state) error {
		n = int64(len(st.markets))
		return nil
	})
	return n, err
}

type positionStore struct {
	s  *Store
	st *state
}

func (p *positionStore) run(write bool, fn func(*state) error) error {
	if p.st != nil {
		return fn(p.st)
	}
	if write {
		p.s.mu.Lock()
		defer p.s.mu.Unlock()
	} else {
		p.s.mu.RLock()
		defer p.s.mu.RUnlock()
	}
	return fn(p.s.st)
}

func (p *positionStore) Get(ctx context.Context, marketID, user string) (domain.Position, error) {
	out := domain.Position{MarketID: marketID, User: user}
	err := p.run(false, func(st *state) error {
		if pos, ok := st.positions[posKey(marketID, user)]; ok {
			out = pos
		}
		return nil
	})
	return out, err
}

func (p *positionStore) Upsert(ctx context.Context, pos domain.Position) error {
	return p.run(true, func(st *state) error {
		st.positions[posKey(pos.MarketID, pos.User)] = pos
		return nil
	})
}

func (p *positionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	err := p.run(false, func(st *state) error {
		for _, pos := range st.positions {
			if pos.MarketID == marketID {
				out = append(out, pos)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

type fillStore struct {
	s  *Store
	st *state
}

func (f *fillStore) run(write bool, fn func(*state) error) error {
	if f.st != nil {
		return fn(f.st)
	}
	if write {
		f.s.mu.Lock()
		defer f.s.mu.Unlock()
	} else {
		f.s.mu.RLock()
		defer f.s.mu.RUnlock()
	}
	return fn(f.s.st)
}

func (f *fillStore) Insert(ctx context.Context, fill domain.Fill) error {
	return f.run(true, func(st *state) error {
		st.fills = append(st.fills, fill)
		return nil
	})
}

func (f *fillStore) list(match func(domain.Fill) bool, opts domain.ListOpts) ([]domain.Fill, error) {
	var out []domain.Fill
	err := f.run(false, func(st *state) error {
		for _, fl := range st.fills {
			if match(fl) {
				out = append(out, fl)
			}
		}
		out = paginate(out, opts)
		return nil
	})
	return out, err
}

func (f *fillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	return f.list(func(fl domain.Fill) bool { return fl.MarketID == marketID }, opts)
}

func (f *fillStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Fill, error) {
	return f.list(func(fl domain.Fill) bool { return fl.User == user }, opts)
}

type ledger struct {
	s  *Store
	st *state
}

func (l *ledger) run(write bool, fn func(*state) error) error {
	if l.st != nil {
		return fn(l.st)
	}
	if write {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
	} else {
		l.s.mu.RLock()
		defer l.s.mu.RUnlock()
	}
	return fn(l.s.st)
}

func (l *ledger) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	err := l.run(false, func(st *state) error {
		bal = st.balances[account]
		return nil
	})
	return bal, err
}

func (l *ledger) Credit(ctx context.Context, account string, amountFP int64) error {
	return l.run(true, func(st *state) error {
		if amountFP < 0 {
			return fmt.Errorf("memory: negative credit: %w", domain.ErrInvalidParams)
		}
		st.balances[account] += amountFP
		return nil
	})
}

func (l *ledger) Transfer(ctx context.Context, from, to string, amountFP int64) error {
	return l.run(true, func(st *state) error {
		if amountFP < 0 {
			return fmt.Errorf("memory: negative transfer: %w", domain.ErrInvalidParams)
		}
		if amountFP == 0 {
			return nil
		}
		if st.balances[from] < amountFP {
			return fmt.Errorf("memory: account %s short: %w", from, domain.ErrInsufficientFunds)
		}
		st.balances[from] -= amountFP
		st.balances[to] += amountFP
		return nil
	})
}

type auditStore struct {
	s *Store
}

func (a *auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.st.auditSeq++
	a.s.st.audit = append(a.s.st.audit, domain.AuditEntry{
		ID:        a.s.st.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (a *auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]domain.AuditEntry, len(a.s.st.audit))
	copy(out, a.s.st.audit)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}
