package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/failures"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.AccountSnapshot), args.Error(1)
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.OrderAck), args.Error(1)
}

func TestRouter_Dispatch(t *testing.T) {
	ctx := context.Background()
	main, slave := &mockExchange{}, &mockExchange{}
	main.On("FetchAccountSnapshot", ctx, "main").Return(domain.AccountSnapshot{AccountID: "main"}, nil)
	req := domain.OrderRequest{AccountID: "slave", Symbol: "BTC", Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}
	slave.On("PlaceOrder", ctx, req).Return(domain.OrderAck{BrokerOrderID: "42"}, nil)

	r := NewRouter()
	require.NoError(t, r.Register("main", main))
	require.NoError(t, r.Register("slave", slave))
	assert.Error(t, r.Register("main", slave))
	assert.Equal(t, []string{"main", "slave"}, r.Accounts())

	snap, err := r.FetchAccountSnapshot(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "main", snap.AccountID)

	ack, err := r.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "42", ack.BrokerOrderID)

	_, err = r.FetchAccountSnapshot(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	main.AssertExpectations(t)
	slave.AssertExpectations(t)
}

func TestBuildSnapshot(t *testing.T) {
	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	balances := []Balance{
		{Asset: "USDT", Free: decimal.NewFromInt(900), Locked: decimal.NewFromInt(100)},
		{Asset: "ETH", Free: decimal.NewFromInt(2)},
		{Asset: "BTC", Free: decimal.RequireFromString("0.5")},
		{Asset: "DOGE"},
		{Asset: "XYZ", Free: decimal.NewFromInt(10)},
	}
	prices := map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(60000),
		"ETH": decimal.NewFromInt(3000),
	}

	snap := buildSnapshot("acc", "USDT", balances, prices, at)

	assert.Equal(t, "acc", snap.AccountID)
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.BuyingPower.Equal(decimal.NewFromInt(900)))
	require.Len(t, snap.Holdings, 3)
	assert.Equal(t, "BTC", snap.Holdings[0].Symbol)
	assert.Equal(t, "ETH", snap.Holdings[1].Symbol)
	assert.Equal(t, "XYZ", snap.Holdings[2].Symbol)
	assert.True(t, snap.Holdings[2].Price.IsZero(), "unpriced assets are kept without value")
	assert.True(t, snap.Equity.Equal(decimal.NewFromInt(1000+30000+6000)))
	assert.Equal(t, at, snap.CapturedAt)
}

func newBinanceServer(t *testing.T, mux *http.ServeMux) *Binance {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := binance.NewClient("key", "secret")
	client.BaseURL = srv.URL
	return NewBinance(client, "bn-1", "usdt", nil)
}

func TestBinance_FetchAccountSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balances":[
			{"asset":"USDT","free":"500.00","locked":"0.00"},
			{"asset":"BTC","free":"0.10","locked":"0.00"},
			{"asset":"BNB","free":"0.00","locked":"0.00"}]}`))
	})
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"50000.00"}]`))
	})
	b := newBinanceServer(t, mux)

	snap, err := b.FetchAccountSnapshot(context.Background(), "bn-1")
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "BTC", snap.Holdings[0].Symbol)
	assert.True(t, snap.Holdings[0].Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, snap.Equity.Equal(decimal.NewFromInt(5500)))

	_, err = b.FetchAccountSnapshot(context.Background(), "other")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestBinance_PlaceOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "BTCUSDT", r.Form.Get("symbol"))
		assert.Equal(t, "BUY", r.Form.Get("side"))
		assert.Equal(t, "MARKET", r.Form.Get("type"))
		assert.Equal(t, "cid-1", r.Form.Get("newClientOrderId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":77,"clientOrderId":"cid-1",
			"executedQty":"0.2","cummulativeQuoteQty":"10000","status":"FILLED"}`))
	})
	b := newBinanceServer(t, mux)

	ack, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		AccountID:     "bn-1",
		Symbol:        "BTC",
		Side:          domain.SideBuy,
		Quantity:      decimal.RequireFromString("0.2"),
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "77", ack.BrokerOrderID)
	assert.Equal(t, "FILLED", ack.Status)
	assert.True(t, ack.FilledQty.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, ack.AvgPrice.Equal(decimal.NewFromInt(50000)))
}

func TestBinance_PlaceOrderRejectedIsClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})
	b := newBinanceServer(t, mux)

	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		AccountID: "bn-1",
		Symbol:    "BTC",
		Side:      domain.SideSell,
		Quantity:  decimal.NewFromInt(1),
	})
	require.Error(t, err)

	var apiErr *common.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.EqualValues(t, -2010, apiErr.Code)
	assert.Equal(t, domain.ErrorKindBadRequest, failures.Classify(err))
}

func TestOffline_FailsUnauthorized(t *testing.T) {
	off := Offline{Reason: errors.New("ACME_API_KEY and ACME_API_SECRET must be set")}

	_, err := off.FetchAccountSnapshot(context.Background(), "acc")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindUnauthorized, failures.Classify(err))

	_, err = off.PlaceOrder(context.Background(), domain.OrderRequest{})
	assert.Contains(t, err.Error(), "ACME_API_KEY")
}
