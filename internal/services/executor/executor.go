// Package executor runs broker calls with classified retries.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/failures"
	"github.com/vadiminshakov/mirror/pkg/retrier"
)

const (
	defaultRetryCount = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
)

// Settings configure the retry behaviour.
type Settings struct {
	// RetryCount is the number of retries after the first attempt.
	RetryCount int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// AttemptTimeout bounds each attempt, zero disables it.
	AttemptTimeout time.Duration
	// Jitter is the fraction of the delay randomised on each wait.
	Jitter float64
}

// DefaultSettings returns the default retry configuration.
func DefaultSettings() Settings {
	return Settings{
		RetryCount: defaultRetryCount,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
		Jitter:     0.1,
	}
}

// Result describes the attempts made for one call.
type Result struct {
	Attempts int
	// Errors holds one record per failed attempt.
	Errors []domain.ErrorRecord
}

// LastError returns the record of the final failed attempt.
func (r Result) LastError() (domain.ErrorRecord, bool) {
	if len(r.Errors) == 0 {
		return domain.ErrorRecord{}, false
	}
	return r.Errors[len(r.Errors)-1], true
}

// Executor retries retryable failures and reports every attempt to the session tracker.
type Executor struct {
	settings Settings
	tracker  *failures.Tracker
	logger   *zap.Logger
}

// New creates an executor. A nil tracker gets a private one without a budget.
func New(settings Settings, tracker *failures.Tracker, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = failures.NewTracker(failures.Settings{}, logger)
	}
	if settings.RetryCount < 0 {
		settings.RetryCount = 0
	}
	if settings.BaseDelay <= 0 {
		settings.BaseDelay = defaultBaseDelay
	}
	if settings.MaxDelay < settings.BaseDelay {
		settings.MaxDelay = settings.BaseDelay
	}
	return &Executor{settings: settings, tracker: tracker, logger: logger}
}

// Tracker returns the session tracker shared by this executor.
func (e *Executor) Tracker() *failures.Tracker {
	return e.tracker
}

// Do runs fn until it succeeds, fails with a non-retryable kind, the retry
// budget is spent or the session error budget is exhausted.
func (e *Executor) Do(ctx context.Context, symbol string, fn func(ctx context.Context) error) (Result, error) {
	var res Result

	r := retrier.New(
		retrier.WithMaxRetries(e.settings.RetryCount),
		retrier.WithInitialInterval(e.settings.BaseDelay),
		retrier.WithMaxInterval(e.settings.MaxDelay),
		retrier.WithMultiplier(2),
		retrier.WithJitter(e.settings.Jitter),
		retrier.WithAttemptTimeout(e.settings.AttemptTimeout),
		retrier.WithOnAttemptError(func(attempt int, err error) {
			rec := e.tracker.Failure(failures.Record(err, symbol))
			res.Errors = append(res.Errors, rec)

			e.logger.Warn("broker call failed",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", e.settings.RetryCount+1),
				zap.String("kind", string(rec.Kind)),
				zap.Bool("retryable", rec.Retryable),
				zap.Error(err))
		}),
		retrier.WithRetryIf(func(err error) bool {
			return failures.IsRetryable(err) && !e.tracker.Exhausted()
		}),
	)

	err := r.Do(ctx, func(ctx context.Context) error {
		res.Attempts++
		return fn(ctx)
	})
	if err != nil {
		return res, err
	}

	e.tracker.Success()
	return res, nil
}

// DoWithData is Do for calls returning a value.
func DoWithData[T any](ctx context.Context, e *Executor, symbol string, fn func(ctx context.Context) (T, error)) (T, Result, error) {
	var out T
	res, err := e.Do(ctx, symbol, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, res, err
}
