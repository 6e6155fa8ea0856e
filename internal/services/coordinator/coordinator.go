// Package coordinator fans one sync run out over all enabled clients.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/synchronizer"
)

const defaultWorkers = 4

// ClientSyncer syncs a single client.
type ClientSyncer interface {
	Sync(ctx context.Context, req synchronizer.Request) domain.ClientResult
}

// Budget exposes the session error budget.
type Budget interface {
	Exhausted() bool
	Critical() bool
}

// Coordinator runs client syncs concurrently with a bounded worker pool.
type Coordinator struct {
	syncer  ClientSyncer
	budget  Budget
	workers int
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a coordinator. workers <= 0 selects the default pool size.
func New(syncer ClientSyncer, budget Budget, workers int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Coordinator{syncer: syncer, budget: budget, workers: workers, logger: logger, now: time.Now}
}

// Run syncs every enabled client against main. Results keep the order of
// clients; a failing or panicking client never affects the others.
func (c *Coordinator) Run(ctx context.Context, main domain.AccountSnapshot, clients []domain.ClientConfig, mode domain.OperatingMode, source string) domain.SyncRunResult {
	run := domain.SyncRunResult{
		RunID:     ulid.Make().String(),
		Mode:      mode,
		Source:    source,
		StartedAt: c.now(),
	}

	enabled := make([]domain.ClientConfig, 0, len(clients))
	for _, cl := range clients {
		if cl.Enabled {
			enabled = append(enabled, cl)
		}
	}

	logger := c.logger.With(zap.String("run_id", run.RunID), zap.String("mode", mode.String()), zap.String("source", source))
	logger.Info("sync run started", zap.Int("clients", len(enabled)))

	results := make([]domain.ClientResult, len(enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, cl := range enabled {
		g.Go(func() error {
			results[i] = c.syncOne(gctx, run, main, cl, logger)
			return nil
		})
	}
	_ = g.Wait()

	run.Clients = results
	run.FinishedAt = c.now()
	if c.budget != nil {
		run.BudgetExhausted = c.budget.Exhausted()
		run.Critical = c.budget.Critical()
	}

	logger.Info("sync run finished",
		zap.String("summary", run.Summary()),
		zap.Duration("duration", run.Duration()))

	return run
}

func (c *Coordinator) syncOne(ctx context.Context, run domain.SyncRunResult, main domain.AccountSnapshot, cl domain.ClientConfig, logger *zap.Logger) (res domain.ClientResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("client sync panicked", zap.String("client", cl.ID), zap.Any("panic", r))
			res = domain.ClientResult{
				ClientID: cl.ID,
				Failed:   true,
				Errors:   []domain.ErrorRecord{{Kind: domain.ErrorKindUnknown, Message: fmt.Sprintf("panic: %v", r)}},
			}
		}
	}()

	if c.budget != nil && c.budget.Exhausted() {
		return domain.ClientResult{ClientID: cl.ID, Failed: true, Skipped: synchronizer.SkipBudgetExhausted}
	}
	if ctx.Err() != nil {
		return domain.ClientResult{ClientID: cl.ID, Failed: true, Skipped: synchronizer.SkipCancelled}
	}

	return c.syncer.Sync(ctx, synchronizer.Request{
		RunID:  run.RunID,
		Main:   main,
		Client: cl,
		Mode:   run.Mode,
	})
}
