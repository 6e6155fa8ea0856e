package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/cache"
	"github.com/vadiminshakov/mirror/internal/services/calculator"
	"github.com/vadiminshakov/mirror/internal/services/executor"
	"github.com/vadiminshakov/mirror/internal/services/failures"
	"github.com/vadiminshakov/mirror/internal/services/paper"
	"github.com/vadiminshakov/mirror/internal/services/validator"
	"github.com/vadiminshakov/mirror/internal/storage/history"
)

type fixedCalendar bool

func (c fixedCalendar) IsOpen(time.Time) bool { return bool(c) }

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.AccountSnapshot), args.Error(1)
}

func (m *mockBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.OrderAck), args.Error(1)
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	sync    *Synchronizer
	broker  *mockBroker
	cache   *cache.Cache
	history *history.WALStore
	tracker *failures.Tracker
}

func newFixture(t *testing.T, open bool, limits domain.TradingLimits) *fixture {
	t.Helper()

	h, err := history.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	tracker := failures.NewTracker(failures.Settings{MaxConsecutive: 5}, nil)
	broker := &mockBroker{}
	c := cache.New(cache.WithMaxAge(2 * time.Minute))

	s, err := New(Config{Limits: limits}, Deps{
		Calculator: calculator.New(nil),
		Validator:  validator.New(fixedCalendar(open), nil),
		Executor:   executor.New(executor.Settings{RetryCount: 3, BaseDelay: time.Millisecond}, tracker, nil),
		Broker:     broker,
		Cache:      c,
		Ledger:     paper.NewLedger(t.TempDir(), nil),
		History:    h,
	}, nil)
	require.NoError(t, err)

	return &fixture{sync: s, broker: broker, cache: c, history: h, tracker: tracker}
}

func mainSnapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID: "main",
		Equity:    d("100000"),
		Holdings:  []domain.Holding{{Symbol: "AAPL", Quantity: d("100"), Price: d("150")}},
	}
}

func client() domain.ClientConfig {
	return domain.ClientConfig{ID: "c1", AccountID: "slave", Enabled: true, ScaleMethod: domain.ScaleEquityRatio}
}

func TestSync_SimulationIdenticalNoopPlansRecordedOnce(t *testing.T) {
	f := newFixture(t, true, domain.DefaultTradingLimits())
	f.cache.Put(domain.AccountSnapshot{
		AccountID: "slave",
		Equity:    d("10000"),
		Cash:      d("8500"),
		Holdings:  []domain.Holding{{Symbol: "AAPL", Quantity: d("10"), Price: d("150")}},
	})
	req := Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeSimulation}

	first := f.sync.Sync(context.Background(), req)
	require.True(t, first.OK(), "%+v", first.Errors)
	assert.True(t, first.Recorded)
	assert.Zero(t, first.Attempted)

	entries, err := f.history.Entries(domain.SequenceSimulated, "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	req.RunID = "r2"
	second := f.sync.Sync(context.Background(), req)
	assert.False(t, second.Recorded)

	entries, err = f.history.Entries(domain.SequenceSimulated, "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	live, err := f.history.Entries(domain.SequenceLive, "")
	require.NoError(t, err)
	assert.Empty(t, live)
	f.broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSync_SimulationFillsPaperLedger(t *testing.T) {
	f := newFixture(t, true, domain.DefaultTradingLimits())
	f.cache.Put(domain.AccountSnapshot{AccountID: "slave", Equity: d("10000"), Cash: d("10000"), BuyingPower: d("10000")})
	req := Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeSimulation}

	res := f.sync.Sync(context.Background(), req)
	require.True(t, res.OK())
	require.Len(t, res.Orders, 1)
	assert.Equal(t, domain.OutcomeSimulated, res.Orders[0].Outcome)
	assert.True(t, res.Orders[0].Quantity.Equal(d("10")))
	assert.Equal(t, 1, res.Placed)

	// the paper account now holds the target, so the next plan is a no-op
	res = f.sync.Sync(context.Background(), req)
	assert.Zero(t, res.Attempted)
	assert.True(t, res.Recorded, "a new plan fingerprint is recorded once")

	res = f.sync.Sync(context.Background(), req)
	assert.False(t, res.Recorded)
}

func TestSync_LiveClipsAndPlaces(t *testing.T) {
	limits := domain.DefaultTradingLimits()
	limits.MaxOrderSize = d("5")
	f := newFixture(t, true, limits)
	f.cache.Put(domain.AccountSnapshot{AccountID: "slave", Equity: d("10000"), BuyingPower: d("10000")})

	f.broker.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r domain.OrderRequest) bool {
		return r.Symbol == "AAPL" && r.Side == domain.SideBuy && r.Quantity.Equal(d("5")) && r.ClientOrderID != ""
	})).Return(domain.OrderAck{BrokerOrderID: "42", AvgPrice: d("151")}, nil).Once()

	res := f.sync.Sync(context.Background(), Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeLive})

	require.True(t, res.OK(), "%+v", res.Errors)
	assert.Equal(t, domain.VerdictClipped, res.Verdicts[0].Kind)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, domain.OutcomeFilled, res.Orders[0].Outcome)
	assert.Equal(t, "42", res.Orders[0].BrokerOrderID)
	assert.True(t, res.Orders[0].Price.Equal(d("151")))
	assert.True(t, res.Recorded)

	entries, err := f.history.Entries(domain.SequenceLive, "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	f.broker.AssertExpectations(t)
}

func TestSync_LiveUnauthorizedIsNotRetriedNorRecorded(t *testing.T) {
	f := newFixture(t, true, domain.DefaultTradingLimits())
	f.cache.Put(domain.AccountSnapshot{AccountID: "slave", Equity: d("10000"), BuyingPower: d("10000")})

	f.broker.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(domain.OrderAck{}, &domain.BrokerError{StatusCode: 401, Message: "bad token"}).Once()

	res := f.sync.Sync(context.Background(), Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeLive})

	assert.False(t, res.OK())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.ErrorKindUnauthorized, res.Errors[0].Kind)
	assert.Equal(t, "AAPL", res.Errors[0].Symbol)
	assert.Equal(t, domain.OutcomeError, res.Orders[0].Outcome)
	assert.False(t, res.Recorded)
	assert.True(t, f.tracker.Critical())
	f.broker.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestSync_LiveMarketClosed(t *testing.T) {
	f := newFixture(t, false, domain.DefaultTradingLimits())
	f.cache.Put(domain.AccountSnapshot{AccountID: "slave", Equity: d("10000"), BuyingPower: d("10000")})

	res := f.sync.Sync(context.Background(), Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeLive})

	assert.Equal(t, validator.ReasonMarketClosed, res.Skipped)
	for _, v := range res.Verdicts {
		assert.Equal(t, domain.VerdictRejected, v.Kind)
	}
	assert.Zero(t, res.Attempted)
	f.broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSync_StaleSlaveSnapshotIsServedWithoutFetching(t *testing.T) {
	f := newFixture(t, true, domain.DefaultTradingLimits())
	f.cache.Put(domain.AccountSnapshot{
		AccountID:  "slave",
		Equity:     d("10000"),
		Cash:       d("8500"),
		Holdings:   []domain.Holding{{Symbol: "AAPL", Quantity: d("10"), Price: d("150")}},
		CapturedAt: time.Now().Add(-time.Hour),
	})

	res := f.sync.Sync(context.Background(), Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeDryRun})
	require.True(t, res.OK(), "%+v", res.Errors)
	f.broker.AssertNotCalled(t, "FetchAccountSnapshot", mock.Anything, mock.Anything)
}

func TestSync_FailuresAreReportedPerClient(t *testing.T) {
	f := newFixture(t, true, domain.DefaultTradingLimits())
	f.broker.On("FetchAccountSnapshot", mock.Anything, "slave").Return(domain.AccountSnapshot{}, &domain.BrokerError{StatusCode: 503})

	res := f.sync.Sync(context.Background(), Request{RunID: "r1", Main: mainSnapshot(), Client: client(), Mode: domain.ModeLive})
	assert.True(t, res.Failed)
	assert.Equal(t, SkipSnapshotUnavailable, res.Skipped)
	f.broker.AssertNumberOfCalls(t, "FetchAccountSnapshot", 4)
	assert.Equal(t, 4, f.tracker.Summary().Consecutive, "cold loads go through the retry budget")

	f.cache.Put(domain.AccountSnapshot{AccountID: "slave", Equity: d("10000")})
	zeroMain := mainSnapshot()
	zeroMain.Equity = decimal.Zero
	res = f.sync.Sync(context.Background(), Request{RunID: "r2", Main: zeroMain, Client: client(), Mode: domain.ModeLive})
	assert.True(t, res.Failed)
	assert.Equal(t, SkipScaleUndefined, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.ErrorKindUndefined, res.Errors[0].Kind)
}
