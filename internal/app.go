package internal

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/mirror/config"
	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/events"
	"github.com/vadiminshakov/mirror/internal/services/broker"
	"github.com/vadiminshakov/mirror/internal/services/cache"
	"github.com/vadiminshakov/mirror/internal/services/calculator"
	"github.com/vadiminshakov/mirror/internal/services/calendar"
	"github.com/vadiminshakov/mirror/internal/services/coordinator"
	"github.com/vadiminshakov/mirror/internal/services/executor"
	"github.com/vadiminshakov/mirror/internal/services/failures"
	"github.com/vadiminshakov/mirror/internal/services/paper"
	"github.com/vadiminshakov/mirror/internal/services/synchronizer"
	"github.com/vadiminshakov/mirror/internal/services/syncservice"
	"github.com/vadiminshakov/mirror/internal/services/validator"
	"github.com/vadiminshakov/mirror/internal/storage/autosync"
	"github.com/vadiminshakov/mirror/internal/storage/history"
)

// App wires the engine from a Config.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	events    *events.Broadcaster
	router    *broker.Router
	cache     *cache.Cache
	refresher *cache.Refresher
	history   *history.WALStore
	tracker   *failures.Tracker
	service   *syncservice.Service
}

// Option customises an App.
type Option func(*appOptions)

type appOptions struct {
	exchanges map[string]broker.Exchange
}

// WithExchange registers ex for accountID instead of building a platform adapter.
func WithExchange(accountID string, ex broker.Exchange) Option {
	return func(o *appOptions) {
		if o.exchanges == nil {
			o.exchanges = make(map[string]broker.Exchange)
		}
		o.exchanges[accountID] = ex
	}
}

// NewApp builds every component. Slave accounts whose adapter cannot be
// built are registered offline so the other clients keep syncing; the main
// account must be reachable.
func NewApp(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	factory, err := newExchangeFactory(cfg.Platform, cfg.QuoteAsset, logger)
	if err != nil {
		return nil, err
	}

	router := broker.NewRouter()
	register := func(accountID, ref string, required bool) error {
		ex, ok := o.exchanges[accountID]
		if !ok {
			built, err := factory.Exchange(accountID, ref)
			if err != nil {
				if required {
					return errors.Wrapf(err, "account %s", accountID)
				}
				logger.Warn("account adapter unavailable, client will fail", zap.String("account", accountID), zap.Error(err))
				built = broker.Offline{Reason: err}
			}
			ex = built
		}
		return router.Register(accountID, ex)
	}
	if err := register(cfg.MainAccount.ID, cfg.MainAccount.Credentials, true); err != nil {
		return nil, err
	}
	accounts := []string{cfg.MainAccount.ID}
	for _, cl := range cfg.EnabledClients() {
		if err := register(cl.AccountID, cl.CredentialsRef, false); err != nil {
			return nil, err
		}
		accounts = append(accounts, cl.AccountID)
	}

	cal, err := calendar.New()
	if err != nil {
		return nil, errors.Wrap(err, "market calendar")
	}

	hist, err := history.NewWALStore(cfg.Path("history"))
	if err != nil {
		return nil, errors.Wrap(err, "open history")
	}

	stateStore, err := autosync.NewStore(cfg.DataDir)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	snapshots := cache.New(cache.WithMaxAge(cfg.CacheMaxAge))
	tracker := failures.NewTracker(failures.Settings{
		MaxConsecutive: cfg.ErrorHandling.MaxErrorsPerSession,
		StopOnCritical: cfg.ErrorHandling.StopOnCritical,
	}, logger)

	exec := executor.New(executor.Settings{
		RetryCount:     cfg.ErrorHandling.RetryCount,
		BaseDelay:      cfg.ErrorHandling.BaseDelay,
		MaxDelay:       cfg.ErrorHandling.MaxDelay,
		AttemptTimeout: cfg.ErrorHandling.AttemptTimeout,
		Jitter:         executor.DefaultSettings().Jitter,
	}, tracker, logger)

	syncer, err := synchronizer.New(synchronizer.Config{
		Limits:                cfg.Limits,
		Precision:             cfg.Precision,
		Rounding:              cfg.Rounding,
		AllowClosedSimulation: cfg.AutoSync.AllowClosedSimulation,
	}, synchronizer.Deps{
		Calculator: calculator.New(logger),
		Validator:  validator.New(cal, logger),
		Executor:   exec,
		Broker:     router,
		Cache:      snapshots,
		Ledger:     paper.NewLedger(cfg.Path("simulation"), logger),
		History:    hist,
	}, logger)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	bus := events.NewBroadcaster(64)
	refresher := cache.NewRefresher(snapshots, router, accounts, cfg.CacheRefreshInterval, logger)

	svc, err := syncservice.New(syncservice.Config{
		Mode:          cfg.Mode,
		MainAccountID: cfg.MainAccount.ID,
		Clients:       cfg.Clients,
		Interval:      cfg.AutoSync.Interval,
		Hours:         cfg.AutoSync.Hours,
	}, syncservice.Deps{
		Runner:    coordinator.New(syncer, tracker, cfg.Workers, logger),
		Cache:     snapshots,
		Fetcher:   executor.WrapFetcher(exec, router),
		Store:     stateStore,
		Budget:    tracker,
		Events:    bus,
		Refreshes: refresher.Events(),
	}, logger)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		events:    bus,
		router:    router,
		cache:     snapshots,
		refresher: refresher,
		history:   hist,
		tracker:   tracker,
		service:   svc,
	}, nil
}

// Events exposes the notification stream.
func (a *App) Events() *events.Broadcaster {
	return a.events
}

// Service exposes Auto Sync control.
func (a *App) Service() *syncservice.Service {
	return a.service
}

// History returns the recorded entries of a client in one sequence.
func (a *App) History(seq domain.HistorySequence, clientID string) ([]domain.HistoryEntry, error) {
	return a.history.Entries(seq, clientID)
}

// Run is the daemon: crash recovery, cache refresher and the Auto Sync loop.
// With autoStart Auto Sync is switched on once recovery is done.
func (a *App) Run(ctx context.Context, autoStart bool) error {
	if err := a.service.Recover(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.refresher.Run(ctx)
	})
	g.Go(func() error {
		return a.service.Run(ctx)
	})
	g.Go(func() error {
		a.logEvents(ctx)
		return nil
	})

	if autoStart {
		if err := a.service.Start(ctx, syncservice.StartRequest{}); err != nil {
			if errors.Is(err, syncservice.ErrAlreadyRunning) {
				a.logger.Info("auto sync already running", zap.Error(err))
			} else {
				a.logger.Error("failed to start auto sync", zap.Error(err))
			}
		}
	}

	a.logger.Info("mirror engine running",
		zap.String("mode", a.cfg.Mode.String()),
		zap.String("main_account", a.cfg.MainAccount.ID),
		zap.Int("clients", len(a.cfg.EnabledClients())),
		zap.Int("pid", os.Getpid()))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) logEvents(ctx context.Context) {
	ch := a.events.Subscribe()
	defer a.events.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			a.logger.Debug("event",
				zap.String("kind", string(e.Kind)),
				zap.String("run_id", e.RunID),
				zap.String("message", e.Message))
		}
	}
}

// SyncOnce performs a single blocking run.
func (a *App) SyncOnce(ctx context.Context) (domain.SyncRunResult, error) {
	return a.service.RunOnce(ctx)
}

// Close releases storage.
func (a *App) Close() error {
	a.service.Wait()
	return a.history.Close()
}
