package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultRefreshWorkers = 4

// RefreshEvent reports the outcome of one refresh round.
type RefreshEvent struct {
	At        time.Time
	Refreshed []string
	Failed    map[string]error
}

// OK reports whether every account refreshed.
func (e RefreshEvent) OK() bool {
	return len(e.Failed) == 0
}

// Refresher periodically refreshes a fixed set of accounts and publishes the
// outcome of every round on its event channel.
type Refresher struct {
	cache    *Cache
	fetcher  Fetcher
	accounts []string
	interval time.Duration
	workers  int
	logger   *zap.Logger
	events   chan RefreshEvent
}

// NewRefresher creates a refresher for accounts.
func NewRefresher(c *Cache, f Fetcher, accounts []string, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cache:    c,
		fetcher:  f,
		accounts: append([]string(nil), accounts...),
		interval: interval,
		workers:  defaultRefreshWorkers,
		logger:   logger,
		events:   make(chan RefreshEvent, 1),
	}
}

// Events delivers refresh outcomes. Closed when Run returns.
// A slow reader only misses older events, never blocks the refresher.
func (r *Refresher) Events() <-chan RefreshEvent {
	return r.events
}

// RefreshAll refreshes every account concurrently.
func (r *Refresher) RefreshAll(ctx context.Context) RefreshEvent {
	var (
		mu  sync.Mutex
		evt = RefreshEvent{At: time.Now(), Failed: make(map[string]error)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range r.accounts {
		g.Go(func() error {
			_, err := r.cache.Refresh(gctx, r.fetcher, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				evt.Failed[id] = err
				return nil
			}
			evt.Refreshed = append(evt.Refreshed, id)
			return nil
		})
	}
	_ = g.Wait()

	return evt
}

// Run refreshes immediately and then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	defer close(r.events)

	if r.interval <= 0 {
		r.publish(r.RefreshAll(ctx))
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("starting snapshot refresher",
		zap.Int("accounts", len(r.accounts)),
		zap.Duration("interval", r.interval))

	r.publish(r.RefreshAll(ctx))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("snapshot refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.publish(r.RefreshAll(ctx))
		}
	}
}

func (r *Refresher) publish(evt RefreshEvent) {
	for id, err := range evt.Failed {
		r.logger.Warn("snapshot refresh failed", zap.String("account", id), zap.Error(err))
	}

	// keep only the latest undelivered event
	select {
	case r.events <- evt:
		return
	default:
	}
	select {
	case <-r.events:
	default:
	}
	select {
	case r.events <- evt:
	default:
	}
}
