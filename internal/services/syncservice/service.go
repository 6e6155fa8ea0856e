// Package syncservice owns Auto Sync: the recurring schedule, the persisted
// on/off state and the single in-flight sync gate shared with manual runs.
package syncservice

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/events"
	"github.com/vadiminshakov/mirror/internal/services/cache"
	"github.com/vadiminshakov/mirror/internal/services/scheduler"
)

// State of the Auto Sync state machine.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const (
	SourceAuto   = "auto"
	SourceManual = "manual"

	defaultInterval = 5 * time.Minute
)

var (
	ErrSyncInFlight   = errors.New("a sync run is already in flight")
	ErrAlreadyRunning = errors.New("auto sync is already running")
	ErrNotRunning     = errors.New("auto sync is not running")
)

// Runner executes one sync run over all clients.
type Runner interface {
	Run(ctx context.Context, main domain.AccountSnapshot, clients []domain.ClientConfig, mode domain.OperatingMode, source string) domain.SyncRunResult
}

// AccountCache supplies the main account snapshot.
type AccountCache interface {
	GetOrLoad(ctx context.Context, f cache.Fetcher, accountID string) (domain.AccountSnapshot, error)
}

// StateStore persists the Auto Sync singleton.
type StateStore interface {
	Load() (domain.AutoSyncState, error)
	Save(state domain.AutoSyncState) error
}

// Budget is the session error budget.
type Budget interface {
	Exhausted() bool
	ShouldHalt() bool
	Reset()
}

// Config describes what a run syncs.
type Config struct {
	Mode          domain.OperatingMode
	MainAccountID string
	Clients       []domain.ClientConfig
	Interval      time.Duration
	Hours         domain.ActiveHours
}

// Deps are the collaborators of the service.
type Deps struct {
	Runner  Runner
	Cache   AccountCache
	Fetcher cache.Fetcher
	Store   StateStore
	Budget  Budget
	Events  *events.Broadcaster
	// Refreshes, when set, is drained by Run.
	Refreshes <-chan cache.RefreshEvent
}

// StartRequest configures an Auto Sync session. Zero values fall back to Config.
type StartRequest struct {
	Interval time.Duration
	Hours    *domain.ActiveHours
}

// Status is a point-in-time view of the service.
type Status struct {
	State        State                 `json:"state"`
	Observer     bool                  `json:"observer"`
	OwnerPID     int                   `json:"owner_pid,omitempty"`
	Interval     string                `json:"interval"`
	ActiveHours  string                `json:"active_hours"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	NextTick     *time.Time            `json:"next_tick,omitempty"`
	InFlight     bool                  `json:"in_flight"`
	Runs         int                   `json:"runs"`
	SkippedTicks int                   `json:"skipped_ticks"`
	LastRun      *domain.SyncRunResult `json:"last_run,omitempty"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithProcess sets the pid recorded as owner and the liveness probe used by Recover.
func WithProcess(pid int, alive func(pid int) bool) Option {
	return func(s *Service) {
		s.pid = pid
		if alive != nil {
			s.alive = alive
		}
	}
}

type tick struct{}

// Service drives Auto Sync. At most one sync run is in flight at any time,
// whether triggered by a tick or manually.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
	pid    int
	alive  func(int) bool
	sched  *scheduler.Scheduler[tick]

	mu        sync.Mutex
	state     State
	observer  bool
	ownerPID  int
	interval  time.Duration
	hours     domain.ActiveHours
	startedAt *time.Time
	handle    scheduler.Handle
	scheduled bool
	inFlight  bool
	runs      int
	skipped   int
	lastRun   *domain.SyncRunResult

	wg sync.WaitGroup
}

// New creates a stopped service. Call Recover before Start.
func New(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) (*Service, error) {
	if deps.Runner == nil || deps.Cache == nil || deps.Fetcher == nil || deps.Store == nil {
		return nil, errors.New("syncservice: runner, cache, fetcher and store are required")
	}
	if cfg.MainAccountID == "" {
		return nil, errors.New("syncservice: main account id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	s := &Service{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		pid:      os.Getpid(),
		alive:    ProcessAlive,
		sched:    scheduler.New[tick](),
		state:    StateStopped,
		interval: cfg.Interval,
		hours:    cfg.Hours,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recover reconciles the persisted state at startup. A live foreign owner
// turns this service into an observer; a dead owner means the previous
// process crashed, so the state is reset to stopped and never resumed.
func (s *Service) Recover(ctx context.Context) error {
	st, err := s.deps.Store.Load()
	if err != nil {
		return errors.Wrap(err, "load auto sync state")
	}
	if !st.Running {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.PID != s.pid && s.alive(st.PID) {
		s.observer = true
		s.ownerPID = st.PID
		s.logger.Info("auto sync is owned by another process, observing",
			zap.Int("owner_pid", st.PID),
			zap.String("interval", st.Interval))
		return nil
	}

	if err := s.deps.Store.Save(domain.AutoSyncState{Interval: st.Interval}); err != nil {
		return errors.Wrap(err, "reset auto sync state")
	}
	msg := fmt.Sprintf("recovered from crash: auto sync was running under pid %d and has been stopped", st.PID)
	s.logger.Warn(msg, zap.Int("pid", st.PID))
	s.deps.Events.Publish(events.Event{Kind: events.KindCrashRecovered, Message: msg})
	return nil
}

// Start turns Auto Sync on. The state is persisted before Start returns and
// the first tick is due immediately.
func (s *Service) Start(ctx context.Context, req StartRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.observer {
		return errors.Wrapf(ErrAlreadyRunning, "owned by pid %d", s.ownerPID)
	}
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.state = StateStarting

	interval := s.cfg.Interval
	if req.Interval > 0 {
		interval = req.Interval
	}
	hours := s.cfg.Hours
	if req.Hours != nil {
		hours = *req.Hours
	}

	now := s.now()
	state := domain.AutoSyncState{
		Running:   true,
		StartedAt: &now,
		Interval:  interval.String(),
		PID:       s.pid,
	}
	if err := s.deps.Store.Save(state); err != nil {
		s.state = StateStopped
		return errors.Wrap(err, "persist auto sync state")
	}

	s.interval = interval
	s.hours = hours
	s.startedAt = &now
	s.skipped = 0
	if s.deps.Budget != nil {
		s.deps.Budget.Reset()
	}
	s.handle = s.sched.Schedule(tick{}, now)
	s.scheduled = true
	s.state = StateRunning

	s.logger.Info("auto sync started",
		zap.Duration("interval", interval),
		zap.String("active_hours", hours.String()))
	s.deps.Events.Publish(events.Event{
		Kind:    events.KindAutoSyncStarted,
		Message: fmt.Sprintf("every %s, active %s", interval, hours),
	})
	return nil
}

// Stop turns Auto Sync off. A run already in flight completes and is recorded.
// An observer writes the stop request for the owning process to honour.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.observer {
		if _, err := RequestStop(s.deps.Store); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		s.logger.Info("stop requested from observer", zap.Int("owner_pid", s.ownerPID))
		s.deps.Events.Publish(events.Event{
			Kind:    events.KindAutoSyncStopped,
			Message: fmt.Sprintf("stop requested for pid %d", s.ownerPID),
		})
		s.observer = false
		s.ownerPID = 0
		return nil
	}

	if s.state != StateRunning {
		return ErrNotRunning
	}
	return s.haltLocked("stopped", true)
}

// RequestStop asks the process owning Auto Sync to stop: the persisted state
// is marked not running and keeps the owner pid. The owner halts on its next
// tick. It returns the state as it was before the request.
func RequestStop(store StateStore) (domain.AutoSyncState, error) {
	st, err := store.Load()
	if err != nil {
		return st, errors.Wrap(err, "load auto sync state")
	}
	if !st.Running {
		return st, ErrNotRunning
	}
	req := st
	req.Running = false
	if err := store.Save(req); err != nil {
		return st, errors.Wrap(err, "persist stop request")
	}
	return st, nil
}

// haltLocked moves the machine to stopped. s.mu must be held.
func (s *Service) haltLocked(reason string, persist bool) error {
	s.state = StateStopping
	if s.scheduled {
		s.sched.Cancel(s.handle)
		s.scheduled = false
	}

	var err error
	if persist {
		err = s.deps.Store.Save(domain.AutoSyncState{Interval: s.interval.String()})
		if err != nil {
			err = errors.Wrap(err, "persist auto sync state")
		}
	}
	s.startedAt = nil
	s.state = StateStopped

	s.logger.Info("auto sync stopped", zap.String("reason", reason))
	s.deps.Events.Publish(events.Event{Kind: events.KindAutoSyncStopped, Message: reason})
	return err
}

// Run drives the schedule until ctx is done, then waits for an in-flight run.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	refreshes := s.deps.Refreshes
	for {
		var fire <-chan time.Time
		if next, ok := s.sched.NextDue(); ok {
			timer.Reset(max(next.Sub(s.now()), 0))
			fire = timer.C
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.shutdown()
			return ctx.Err()
		case <-s.sched.Wakeup():
		case <-fire:
			if len(s.sched.PopDue(s.now())) > 0 {
				s.onTick(ctx)
			}
		case evt, ok := <-refreshes:
			if !ok {
				refreshes = nil
				continue
			}
			s.onRefresh(evt)
		}
	}
}

// onTick handles one due tick. The next tick is always scheduled while the
// service stays running.
func (s *Service) onTick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	if s.scheduled {
		s.sched.Cancel(s.handle)
		s.scheduled = false
	}
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}

	st, err := s.deps.Store.Load()
	switch {
	case err != nil:
		s.logger.Warn("failed to read auto sync state", zap.Error(err))
	case !st.Running:
		_ = s.haltLocked("stopped externally", false)
		s.mu.Unlock()
		return
	case st.PID != s.pid:
		_ = s.haltLocked(fmt.Sprintf("taken over by pid %d", st.PID), false)
		s.mu.Unlock()
		return
	}

	s.handle = s.sched.Schedule(tick{}, now.Add(s.interval))
	s.scheduled = true

	if s.deps.Budget != nil && s.deps.Budget.ShouldHalt() {
		_ = s.haltLocked("error budget exhausted", true)
		s.mu.Unlock()
		return
	}

	hours := s.hours
	s.mu.Unlock()

	if !s.begin() {
		s.skip("sync run still in flight")
		return
	}
	if !hours.Contains(now) {
		s.end()
		s.logger.Debug("tick outside active hours", zap.String("active_hours", hours.String()))
		return
	}

	go func() {
		defer s.end()
		s.execute(ctx, SourceAuto)
	}()
}

func (s *Service) skip(reason string) {
	s.mu.Lock()
	s.skipped++
	n := s.skipped
	s.mu.Unlock()

	s.logger.Warn("tick skipped", zap.String("reason", reason), zap.Int("skipped_total", n))
	s.deps.Events.Publish(events.Event{Kind: events.KindTickSkipped, Message: reason})
}

func (s *Service) onRefresh(evt cache.RefreshEvent) {
	if evt.OK() {
		s.logger.Debug("accounts refreshed", zap.Strings("accounts", evt.Refreshed))
		return
	}
	for account, err := range evt.Failed {
		s.logger.Warn("account refresh failed", zap.String("account", account), zap.Error(err))
		s.deps.Events.Publish(events.Event{
			Timestamp: evt.At,
			Kind:      events.KindCacheRefreshFailed,
			Message:   fmt.Sprintf("%s: %v", account, err),
		})
	}
}

// begin takes the in-flight gate.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	s.wg.Add(1)
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
	s.wg.Done()
}

// TriggerSync starts a run in the background and returns at once.
func (s *Service) TriggerSync(ctx context.Context) error {
	if !s.begin() {
		return ErrSyncInFlight
	}
	go func() {
		defer s.end()
		s.execute(ctx, SourceManual)
	}()
	return nil
}

// RunOnce performs one run and blocks until it finishes.
func (s *Service) RunOnce(ctx context.Context) (domain.SyncRunResult, error) {
	if !s.begin() {
		return domain.SyncRunResult{}, ErrSyncInFlight
	}
	defer s.end()

	res := s.execute(ctx, SourceManual)
	if res.Err != "" {
		return res, errors.New(res.Err)
	}
	return res, nil
}

// Wait blocks until no run is in flight.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, source string) domain.SyncRunResult {
	s.deps.Events.Publish(events.Event{Kind: events.KindRunStarted, Message: source})

	var res domain.SyncRunResult
	main, err := s.deps.Cache.GetOrLoad(ctx, s.deps.Fetcher, s.cfg.MainAccountID)
	if err != nil {
		now := s.now()
		res = domain.SyncRunResult{
			RunID:      ulid.Make().String(),
			Mode:       s.cfg.Mode,
			Source:     source,
			StartedAt:  now,
			FinishedAt: now,
			Err:        errors.Wrap(err, "main account snapshot").Error(),
		}
		s.logger.Error("sync run aborted", zap.String("source", source), zap.Error(err))
	} else {
		res = s.deps.Runner.Run(ctx, main, s.cfg.Clients, s.cfg.Mode, source)
	}

	s.mu.Lock()
	s.runs++
	s.lastRun = &res
	s.mu.Unlock()

	s.logger.Info("sync run finished",
		zap.String("run_id", res.RunID),
		zap.String("source", source),
		zap.String("summary", res.Summary()))
	s.deps.Events.Publish(events.Event{
		Kind:    events.KindRunFinished,
		RunID:   res.RunID,
		Message: res.Summary(),
		Result:  &res,
	})

	if res.BudgetExhausted {
		s.deps.Events.Publish(events.Event{
			Kind:    events.KindBudgetExhausted,
			RunID:   res.RunID,
			Message: "error budget exhausted",
		})
	}
	s.haltIfRequired()
	return res
}

func (s *Service) haltIfRequired() {
	if s.deps.Budget == nil || !s.deps.Budget.ShouldHalt() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	reason := "critical broker error"
	if s.deps.Budget.Exhausted() {
		reason = "error budget exhausted"
	}
	if err := s.haltLocked(reason, true); err != nil {
		s.logger.Error("failed to persist halted state", zap.Error(err))
	}
}

// shutdown stops a running session on process exit, so the next start does
// not mistake a clean exit for a crash. A state file already owned by another
// process is left alone.
func (s *Service) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	persist := true
	if st, err := s.deps.Store.Load(); err == nil && st.Running && st.PID != s.pid {
		persist = false
	}
	if err := s.haltLocked("shutdown", persist); err != nil {
		s.logger.Error("failed to persist halted state", zap.Error(err))
	}
}

// Status reports the current state. An observer reports the owner's persisted state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        s.state,
		Observer:     s.observer,
		OwnerPID:     s.ownerPID,
		Interval:     s.interval.String(),
		ActiveHours:  s.hours.String(),
		StartedAt:    s.startedAt,
		InFlight:     s.inFlight,
		Runs:         s.runs,
		SkippedTicks: s.skipped,
		LastRun:      s.lastRun,
	}
	if s.state == StateRunning {
		st.OwnerPID = s.pid
		if next, ok := s.sched.NextDue(); ok {
			st.NextTick = &next
		}
	}
	if s.observer {
		if persisted, err := s.deps.Store.Load(); err == nil {
			st.Interval = persisted.Interval
			st.StartedAt = persisted.StartedAt
			if persisted.Running {
				st.State = StateRunning
			}
		}
	}
	return st
}
