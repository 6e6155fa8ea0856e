// Package cache keeps the latest account snapshots and refreshes them in the background.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Fetcher reads a fresh snapshot from the broker.
type Fetcher interface {
	FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
}

// Cache maps account ids to immutable snapshots. Readers get a copy of the
// latest snapshot; writers replace it wholesale.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.AccountSnapshot
	maxAge    time.Duration
	now       func() time.Time
}

// Option configures the cache.
type Option func(*Cache)

// WithMaxAge marks snapshots older than d as stale. Zero keeps them fresh forever.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		c.maxAge = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		snapshots: make(map[string]*domain.AccountSnapshot),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the latest snapshot of accountID or domain.ErrNoSnapshot.
// Snapshots older than the max age are returned with Stale set.
func (c *Cache) Get(accountID string) (domain.AccountSnapshot, error) {
	c.mu.RLock()
	s, ok := c.snapshots[accountID]
	c.mu.RUnlock()
	if !ok {
		return domain.AccountSnapshot{}, errors.Wrapf(domain.ErrNoSnapshot, "account %s", accountID)
	}
	out := clone(s)
	out.Stale = c.maxAge > 0 && s.Age(c.now()) > c.maxAge
	return out, nil
}

// Put stores s as the latest snapshot of its account.
func (c *Cache) Put(s domain.AccountSnapshot) {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = c.now()
	}
	stored := clone(&s)
	stored.Stale = false
	c.mu.Lock()
	c.snapshots[s.AccountID] = &stored
	c.mu.Unlock()
}

// Invalidate drops the snapshot of accountID.
func (c *Cache) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.snapshots, accountID)
	c.mu.Unlock()
}

// IsStale reports whether the snapshot is missing or older than the max age.
func (c *Cache) IsStale(accountID string) bool {
	c.mu.RLock()
	s, ok := c.snapshots[accountID]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return c.maxAge > 0 && s.Age(c.now()) > c.maxAge
}

// Accounts lists the cached account ids in order.
func (c *Cache) Accounts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.snapshots))
	for id := range c.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Refresh fetches accountID and stores the result.
func (c *Cache) Refresh(ctx context.Context, f Fetcher, accountID string) (domain.AccountSnapshot, error) {
	s, err := f.FetchAccountSnapshot(ctx, accountID)
	if err != nil {
		return domain.AccountSnapshot{}, errors.Wrapf(err, "fetch snapshot %s", accountID)
	}
	if s.AccountID == "" {
		s.AccountID = accountID
	}
	c.Put(s)
	return s, nil
}

// GetOrLoad returns the latest snapshot of accountID, stale or not; keeping
// it current is the Refresher's job. Only an account that was never cached
// is loaded through f.
func (c *Cache) GetOrLoad(ctx context.Context, f Fetcher, accountID string) (domain.AccountSnapshot, error) {
	s, err := c.Get(accountID)
	if err == nil || f == nil || !errors.Is(err, domain.ErrNoSnapshot) {
		return s, err
	}
	return c.Refresh(ctx, f, accountID)
}

func clone(s *domain.AccountSnapshot) domain.AccountSnapshot {
	out := *s
	out.Holdings = append([]domain.Holding(nil), s.Holdings...)
	return out
}
