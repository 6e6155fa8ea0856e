// Package synchronizer mirrors the main account onto one slave account.
package synchronizer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/cache"
	"github.com/vadiminshakov/mirror/internal/services/calculator"
	"github.com/vadiminshakov/mirror/internal/services/executor"
	"github.com/vadiminshakov/mirror/internal/services/failures"
	"github.com/vadiminshakov/mirror/internal/services/validator"
)

const (
	SkipSnapshotUnavailable = "slave snapshot unavailable"
	SkipScaleUndefined      = "scale undefined"
	SkipBudgetExhausted     = "error budget exhausted"
	SkipCancelled           = "cancelled"
)

// Broker is the slave-side broker capability.
type Broker interface {
	cache.Fetcher
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
}

// AccountCache serves the latest snapshots; f loads accounts never cached.
type AccountCache interface {
	GetOrLoad(ctx context.Context, f cache.Fetcher, accountID string) (domain.AccountSnapshot, error)
}

// PaperLedger holds simulated slave accounts.
type PaperLedger interface {
	Snapshot(clientID string, seed domain.AccountSnapshot) (domain.AccountSnapshot, error)
	Fill(clientID, symbol string, qty, price decimal.Decimal) error
}

// HistoryRecorder appends history entries.
type HistoryRecorder interface {
	Append(seq domain.HistorySequence, entry domain.HistoryEntry) error
	AppendIfChanged(seq domain.HistorySequence, entry domain.HistoryEntry) (bool, error)
}

// Config holds the engine-wide sizing and validation settings.
type Config struct {
	Limits                domain.TradingLimits
	Precision             int32
	Rounding              calculator.Rounding
	AllowClosedSimulation bool
}

// Deps are the collaborators of a Synchronizer. Ledger may be nil when
// simulation mode is never used.
type Deps struct {
	Calculator *calculator.Calculator
	Validator  *validator.Validator
	Executor   *executor.Executor
	Broker     Broker
	Cache      AccountCache
	Ledger     PaperLedger
	History    HistoryRecorder
}

// Request describes one client sync.
type Request struct {
	RunID  string
	Main   domain.AccountSnapshot
	Client domain.ClientConfig
	Mode   domain.OperatingMode
	Now    time.Time
}

// Synchronizer runs calculate, validate, execute and record for one client.
type Synchronizer struct {
	cfg    Config
	deps   Deps
	loader cache.Fetcher
	logger *zap.Logger
	now    func() time.Time
}

// New creates a synchronizer.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Synchronizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Calculator == nil || deps.Validator == nil || deps.Executor == nil {
		return nil, errors.New("calculator, validator and executor are required")
	}
	if deps.Broker == nil || deps.Cache == nil || deps.History == nil {
		return nil, errors.New("broker, cache and history are required")
	}
	if !cfg.Rounding.IsValid() {
		cfg.Rounding = calculator.RoundNearest
	}
	return &Synchronizer{
		cfg:    cfg,
		deps:   deps,
		loader: executor.WrapFetcher(deps.Executor, deps.Broker),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Sync mirrors req.Main onto the client's account. It never returns an error:
// every failure is reported in the ClientResult.
func (s *Synchronizer) Sync(ctx context.Context, req Request) (res domain.ClientResult) {
	started := time.Now()
	client := req.Client
	logger := s.logger.With(
		zap.String("run_id", req.RunID),
		zap.String("client", client.ID),
		zap.String("mode", req.Mode.String()))

	res = domain.ClientResult{ClientID: client.ID}
	defer func() { res.Duration = time.Since(started) }()

	if req.Now.IsZero() {
		req.Now = s.now()
	}

	slave, err := s.slaveSnapshot(ctx, req)
	if err != nil {
		logger.Error("failed to load slave snapshot", zap.Error(err))
		res.Failed = true
		res.Skipped = SkipSnapshotUnavailable
		res.Errors = append(res.Errors, failures.Record(err, ""))
		return res
	}

	plan, err := s.deps.Calculator.Plan(req.Main, slave, calculator.ParamsFor(client, s.cfg.Precision, s.cfg.Rounding))
	if err != nil {
		logger.Error("failed to calculate plan", zap.Error(err))
		res.Failed = true
		res.Skipped = SkipScaleUndefined
		res.Errors = append(res.Errors, failures.Record(err, ""))
		return res
	}

	validation := s.deps.Validator.Validate(plan, validator.Input{
		Limits:                s.cfg.Limits.Merge(client.Limits),
		MarginPercent:         client.MarginPercent,
		Slave:                 slave,
		Now:                   req.Now,
		Mode:                  req.Mode,
		AllowClosedSimulation: s.cfg.AllowClosedSimulation,
		Precision:             s.cfg.Precision,
	})
	res.Verdicts = validation.Verdicts

	for _, v := range validation.Verdicts {
		if v.Kind == domain.VerdictRejected && !v.Silent {
			logger.Info("order rejected", zap.String("symbol", v.Order.Symbol), zap.String("reason", v.Reason))
		}
	}

	logger.Info("plan validated",
		zap.String("scale", plan.Scale.String()),
		zap.String("fingerprint", plan.Fingerprint()),
		zap.Int("allowed", len(validation.Allowed())),
		zap.Bool("proceed", validation.Proceed))

	if !validation.Proceed {
		res.Skipped = validation.AbortReason
		return res
	}

	for _, v := range validation.Allowed() {
		if ctx.Err() != nil {
			res.Skipped = SkipCancelled
			break
		}
		if s.deps.Executor.Tracker().Exhausted() {
			res.Skipped = SkipBudgetExhausted
			break
		}

		rec := s.execute(ctx, req, v, logger)
		res.Attempted++
		if rec.Outcome == domain.OutcomeFilled || rec.Outcome == domain.OutcomeSimulated {
			res.Placed++
		}
		res.Orders = append(res.Orders, rec.OrderRecord)
		if rec.err != nil {
			res.Errors = append(res.Errors, *rec.err)
		}
	}

	recorded, err := s.record(req, plan, res)
	if err != nil {
		logger.Error("failed to record history", zap.Error(err))
		res.Errors = append(res.Errors, domain.ErrorRecord{Kind: domain.ErrorKindUnknown, Message: err.Error()})
	}
	res.Recorded = recorded

	return res
}

func (s *Synchronizer) slaveSnapshot(ctx context.Context, req Request) (domain.AccountSnapshot, error) {
	actual, err := s.deps.Cache.GetOrLoad(ctx, s.loader, req.Client.AccountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	if actual.Stale {
		s.logger.Warn("using stale slave snapshot",
			zap.String("client", req.Client.ID),
			zap.Time("captured_at", actual.CapturedAt))
	}
	if !req.Mode.UsesPaperLedger() {
		return actual, nil
	}
	if s.deps.Ledger == nil {
		return domain.AccountSnapshot{}, errors.New("simulation mode needs a paper ledger")
	}
	return s.deps.Ledger.Snapshot(req.Client.ID, actual)
}

type execResult struct {
	domain.OrderRecord
	err *domain.ErrorRecord
}

func (s *Synchronizer) execute(ctx context.Context, req Request, v domain.Verdict, logger *zap.Logger) execResult {
	order := v.Order
	qty := v.Quantity.Abs()
	side := domain.SideBuy
	if v.Quantity.IsNegative() {
		side = domain.SideSell
	}

	rec := domain.OrderRecord{
		ClientID:      req.Client.ID,
		Symbol:        order.Symbol,
		Side:          side,
		Quantity:      qty,
		Price:         order.Price,
		ClientOrderID: uuid.NewString(),
	}
	if v.Kind == domain.VerdictClipped {
		rec.Message = "clipped: " + v.Reason
	}
	if v.NonExecutable {
		rec.Message = appendMessage(rec.Message, "market closed")
	}

	switch req.Mode {
	case domain.ModeLive:
		ack, attempts, err := executor.DoWithData(ctx, s.deps.Executor, order.Symbol, func(ctx context.Context) (domain.OrderAck, error) {
			return s.deps.Broker.PlaceOrder(ctx, domain.OrderRequest{
				AccountID:     req.Client.AccountID,
				Symbol:        order.Symbol,
				Side:          side,
				Quantity:      qty,
				ClientOrderID: rec.ClientOrderID,
			})
		})
		rec.Timestamp = s.now()
		if err != nil {
			last, _ := attempts.LastError()
			last.Symbol = order.Symbol
			rec.Outcome = domain.OutcomeError
			if last.Kind == domain.ErrorKindBadRequest {
				rec.Outcome = domain.OutcomeRejected
			}
			rec.Message = appendMessage(rec.Message, err.Error())
			logger.Error("order failed",
				zap.String("symbol", order.Symbol),
				zap.String("side", string(side)),
				zap.String("qty", qty.String()),
				zap.Int("attempts", attempts.Attempts),
				zap.Error(err))
			return execResult{OrderRecord: rec, err: &last}
		}
		rec.Outcome = domain.OutcomeFilled
		rec.BrokerOrderID = ack.BrokerOrderID
		if ack.AvgPrice.IsPositive() {
			rec.Price = ack.AvgPrice
		}
		logger.Info("order placed",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(side)),
			zap.String("qty", qty.String()),
			zap.String("broker_order_id", ack.BrokerOrderID))

	case domain.ModeSimulation:
		rec.Timestamp = s.now()
		if err := s.deps.Ledger.Fill(req.Client.ID, order.Symbol, v.Quantity, order.Price); err != nil {
			rec.Outcome = domain.OutcomeError
			rec.Message = appendMessage(rec.Message, err.Error())
			errRec := failures.Record(err, order.Symbol)
			return execResult{OrderRecord: rec, err: &errRec}
		}
		rec.Outcome = domain.OutcomeSimulated
		logger.Info("order simulated", zap.String("symbol", order.Symbol), zap.String("side", string(side)), zap.String("qty", qty.String()))

	default:
		rec.Timestamp = s.now()
		rec.Outcome = domain.OutcomeSimulated
		logger.Info("dry run order", zap.String("symbol", order.Symbol), zap.String("side", string(side)), zap.String("qty", qty.String()))
	}

	return execResult{OrderRecord: rec}
}

// record appends the run to history. Live runs are recorded only when at
// least one order reached the market; simulated runs once per distinct plan.
func (s *Synchronizer) record(req Request, plan domain.SyncPlan, res domain.ClientResult) (bool, error) {
	entry := domain.HistoryEntry{
		RunID:       req.RunID,
		ClientID:    req.Client.ID,
		Mode:        req.Mode,
		Fingerprint: plan.Fingerprint(),
		Timestamp:   s.now(),
		Orders:      res.Orders,
	}

	if req.Mode == domain.ModeLive {
		placed := false
		for _, o := range res.Orders {
			if o.Placed() {
				placed = true
				break
			}
		}
		if !placed {
			return false, nil
		}
		if err := s.deps.History.Append(domain.SequenceLive, entry); err != nil {
			return false, err
		}
		return true, nil
	}

	return s.deps.History.AppendIfChanged(req.Mode.Sequence(), entry)
}

func appendMessage(msg, extra string) string {
	if msg == "" {
		return extra
	}
	return msg + "; " + extra
}
