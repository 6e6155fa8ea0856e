// Package paper keeps the simulated accounts used in simulation mode.
package paper

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/storage/simstate"
)

type holding struct {
	quantity decimal.Decimal
	price    decimal.Decimal
}

type book struct {
	accountID string
	cash      decimal.Decimal
	holdings  map[string]holding
	updatedAt time.Time
	store     *simstate.Store
}

// Ledger holds one paper book per client. Books are seeded from the real
// account on first use and persisted after every fill. Safe for concurrent use.
type Ledger struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	books map[string]*book
}

// NewLedger creates a ledger persisting books under dir.
func NewLedger(dir string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		books:  make(map[string]*book),
	}
}

// Snapshot returns the paper account of clientID. When no book exists yet,
// neither in memory nor on disk, it is seeded from seed. Holdings are marked
// to the prices found in seed.
func (l *Ledger) Snapshot(clientID string, seed domain.AccountSnapshot) (domain.AccountSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.bookLocked(clientID, seed)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	for _, h := range seed.Holdings {
		if cur, ok := b.holdings[h.Symbol]; ok && h.Price.IsPositive() {
			cur.price = h.Price
			b.holdings[h.Symbol] = cur
		}
	}

	return b.snapshot(l.now()), nil
}

// Fill applies a simulated execution: positive quantity buys, negative sells.
func (l *Ledger) Fill(clientID, symbol string, qty, price decimal.Decimal) error {
	if qty.IsZero() {
		return nil
	}
	if !price.IsPositive() {
		return fmt.Errorf("simulated fill of %s needs a positive price", symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.books[clientID]
	if !ok {
		return fmt.Errorf("no paper book for client %s", clientID)
	}

	cur := b.holdings[symbol]
	next := cur.quantity.Add(qty)
	if next.IsNegative() {
		return fmt.Errorf("simulated sell of %s %s exceeds holding %s", qty.Neg(), symbol, cur.quantity)
	}

	b.cash = b.cash.Sub(qty.Mul(price))
	if next.IsZero() {
		delete(b.holdings, symbol)
	} else {
		b.holdings[symbol] = holding{quantity: next, price: price}
	}
	b.updatedAt = l.now()

	l.logger.Debug("simulated fill",
		zap.String("client", clientID),
		zap.String("symbol", symbol),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.String("cash", b.cash.String()))

	return l.persist(clientID, b)
}

// Reset drops the book of clientID so the next Snapshot reseeds it.
func (l *Ledger) Reset(clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	store, err := simstate.NewStore(l.dir, clientID)
	if err != nil {
		return errors.Wrap(err, "open paper book store")
	}
	delete(l.books, clientID)
	return store.Remove()
}

func (l *Ledger) bookLocked(clientID string, seed domain.AccountSnapshot) (*book, error) {
	if b, ok := l.books[clientID]; ok {
		return b, nil
	}

	store, err := simstate.NewStore(l.dir, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "open paper book store")
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	var b *book
	if state != nil {
		b, err = fromState(state)
		if err != nil {
			return nil, err
		}
		l.logger.Info("restored paper book", zap.String("client", clientID), zap.String("cash", b.cash.String()))
	} else {
		b = seedBook(seed, l.now())
		l.logger.Info("seeded paper book from account",
			zap.String("client", clientID),
			zap.String("account", seed.AccountID),
			zap.String("cash", b.cash.String()),
			zap.Int("holdings", len(b.holdings)))
	}
	b.store = store
	l.books[clientID] = b

	if state == nil {
		if err := l.persist(clientID, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func seedBook(seed domain.AccountSnapshot, now time.Time) *book {
	cash := seed.Cash
	if cash.IsZero() {
		cash = seed.Equity.Sub(seed.PositionsValue())
		if cash.IsNegative() {
			cash = decimal.Zero
		}
	}

	b := &book{
		accountID: seed.AccountID,
		cash:      cash,
		holdings:  make(map[string]holding, len(seed.Holdings)),
		updatedAt: now,
	}
	for _, h := range seed.Holdings {
		if h.Quantity.IsZero() {
			continue
		}
		b.holdings[h.Symbol] = holding{quantity: h.Quantity, price: h.Price}
	}
	return b
}

func (b *book) snapshot(now time.Time) domain.AccountSnapshot {
	symbols := make([]string, 0, len(b.holdings))
	for s := range b.holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	s := domain.AccountSnapshot{
		AccountID:  b.accountID,
		Cash:       b.cash,
		CapturedAt: now,
		Holdings:   make([]domain.Holding, 0, len(symbols)),
	}
	for _, sym := range symbols {
		h := b.holdings[sym]
		s.Holdings = append(s.Holdings, domain.Holding{Symbol: sym, Quantity: h.quantity, Price: h.price})
	}
	s.Equity = b.cash.Add(s.PositionsValue())
	s.BuyingPower = decimal.Max(b.cash, decimal.Zero)
	return s
}

func (l *Ledger) persist(clientID string, b *book) error {
	state := simstate.State{
		ClientID:    clientID,
		AccountID:   b.accountID,
		Cash:        b.cash.String(),
		BuyingPower: decimal.Max(b.cash, decimal.Zero).String(),
		Holdings:    make(map[string]simstate.StoredHolding, len(b.holdings)),
		UpdatedAt:   b.updatedAt,
	}
	for sym, h := range b.holdings {
		state.Holdings[sym] = simstate.StoredHolding{Quantity: h.quantity.String(), Price: h.price.String()}
	}
	if err := b.store.Save(state); err != nil {
		return errors.Wrapf(err, "persist paper book %s", clientID)
	}
	return nil
}

func fromState(st *simstate.State) (*book, error) {
	cash, err := decimal.NewFromString(st.Cash)
	if err != nil {
		return nil, errors.Wrap(err, "decode paper cash")
	}

	b := &book{
		accountID: st.AccountID,
		cash:      cash,
		holdings:  make(map[string]holding, len(st.Holdings)),
		updatedAt: st.UpdatedAt,
	}
	for sym, h := range st.Holdings {
		qty, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "decode paper quantity of %s", sym)
		}
		price := decimal.Zero
		if h.Price != "" {
			price, err = decimal.NewFromString(h.Price)
			if err != nil {
				return nil, errors.Wrapf(err, "decode paper price of %s", sym)
			}
		}
		b.holdings[sym] = holding{quantity: qty, price: price}
	}
	return b, nil
}
