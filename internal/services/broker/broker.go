// Package broker adapts exchange accounts to the engine's broker capability.
package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// ErrUnknownAccount is returned when no adapter is registered for an account.
var ErrUnknownAccount = errors.New("no broker registered for account")

// Exchange is one account on one venue.
type Exchange interface {
	FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
}

// Router dispatches by account id to the adapter that owns the account.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Exchange
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Exchange)}
}

// Register binds accountID to ex. An account can be bound once.
func (r *Router) Register(accountID string, ex Exchange) error {
	if accountID == "" || ex == nil {
		return errors.New("account id and exchange are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[accountID]; ok {
		return errors.Errorf("account %s is already registered", accountID)
	}
	r.routes[accountID] = ex
	return nil
}

// Accounts lists the registered account ids.
func (r *Router) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for id := range r.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Router) route(accountID string) (Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.routes[accountID]
	if !ok {
		return nil, errors.Wrap(ErrUnknownAccount, accountID)
	}
	return ex, nil
}

func (r *Router) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	ex, err := r.route(accountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return ex.FetchAccountSnapshot(ctx, accountID)
}

func (r *Router) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	ex, err := r.route(req.AccountID)
	if err != nil {
		return domain.OrderAck{}, err
	}
	return ex.PlaceOrder(ctx, req)
}

// Balance is one asset balance as reported by a venue.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// buildSnapshot values balances in the quote asset. Assets without a price are
// kept with a zero price and left out of equity.
func buildSnapshot(accountID, quote string, balances []Balance, prices map[string]decimal.Decimal, at time.Time) domain.AccountSnapshot {
	snap := domain.AccountSnapshot{AccountID: accountID, CapturedAt: at}

	for _, b := range balances {
		if b.Asset == quote {
			snap.Cash = snap.Cash.Add(b.Total())
			snap.BuyingPower = snap.BuyingPower.Add(b.Free)
			continue
		}
		if !b.Total().IsPositive() {
			continue
		}
		snap.Holdings = append(snap.Holdings, domain.Holding{
			Symbol:   b.Asset,
			Quantity: b.Total(),
			Price:    prices[b.Asset],
		})
	}
	sort.Slice(snap.Holdings, func(i, j int) bool {
		return snap.Holdings[i].Symbol < snap.Holdings[j].Symbol
	})

	snap.Equity = snap.Cash.Add(snap.PositionsValue())
	return snap
}

// pricedAssets returns the non-quote assets with a positive balance.
func pricedAssets(quote string, balances []Balance) []string {
	var out []string
	for _, b := range balances {
		if b.Asset != quote && b.Total().IsPositive() {
			out = append(out, b.Asset)
		}
	}
	sort.Strings(out)
	return out
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, v)
	}
	return d, nil
}

// Offline stands in for an account whose adapter could not be built, such as
// one with missing credentials. Every call fails as unauthorized.
type Offline struct {
	Reason error
}

func (o Offline) err() error {
	return &domain.BrokerError{StatusCode: 401, Message: o.Reason.Error()}
}

func (o Offline) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{}, o.err()
}

func (o Offline) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	return domain.OrderAck{}, o.err()
}
