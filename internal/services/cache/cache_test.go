package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/mirror/internal/domain"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.AccountSnapshot), args.Error(1)
}

func snap(id string, equity int64) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID: id,
		Equity:    decimal.NewFromInt(equity),
		Holdings:  []domain.Holding{{Symbol: "AAPL", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)}},
	}
}

func TestCache_GetPut(t *testing.T) {
	c := New()

	_, err := c.Get("main")
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	c.Put(snap("main", 1000))
	got, err := c.Get("main")
	require.NoError(t, err)
	assert.True(t, got.Equity.Equal(decimal.NewFromInt(1000)))
	assert.False(t, got.CapturedAt.IsZero())

	// callers can't mutate the stored snapshot
	got.Holdings[0].Quantity = decimal.NewFromInt(99)
	again, _ := c.Get("main")
	assert.True(t, again.Holdings[0].Quantity.Equal(decimal.NewFromInt(1)))

	assert.Equal(t, []string{"main"}, c.Accounts())
	c.Invalidate("main")
	assert.Empty(t, c.Accounts())
}

func TestCache_Staleness(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	c := New(WithMaxAge(time.Minute), WithClock(func() time.Time { return now }))

	assert.True(t, c.IsStale("main"))
	c.Put(snap("main", 1000))
	assert.False(t, c.IsStale("main"))

	now = now.Add(2 * time.Minute)
	assert.True(t, c.IsStale("main"))

	got, err := c.Get("main")
	require.NoError(t, err)
	assert.True(t, got.Stale)

	c.Put(got)
	fresh, err := c.Get("main")
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
}

func TestCache_GetOrLoadServesStaleSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	c := New(WithMaxAge(2*time.Minute), WithClock(func() time.Time { return now }))
	c.Put(snap("main", 1000))
	now = now.Add(3 * time.Minute)

	f := &mockFetcher{}
	got, err := c.GetOrLoad(context.Background(), f, "main")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.True(t, got.Equity.Equal(decimal.NewFromInt(1000)))
	f.AssertNotCalled(t, "FetchAccountSnapshot", mock.Anything, mock.Anything)
}

func TestCache_GetOrLoadFetchesMissingAccountOnce(t *testing.T) {
	c := New()
	f := &mockFetcher{}
	f.On("FetchAccountSnapshot", mock.Anything, "main").Return(snap("main", 2000), nil).Once()

	got, err := c.GetOrLoad(context.Background(), f, "main")
	require.NoError(t, err)
	assert.True(t, got.Equity.Equal(decimal.NewFromInt(2000)))

	again, err := c.GetOrLoad(context.Background(), f, "main")
	require.NoError(t, err)
	assert.True(t, again.Equity.Equal(decimal.NewFromInt(2000)))
	f.AssertExpectations(t)

	_, err = c.GetOrLoad(context.Background(), nil, "slave")
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Put(snap("main", int64(i)))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = c.Get("main")
		}()
	}
	wg.Wait()
	_, err := c.Get("main")
	assert.NoError(t, err)
}

func TestRefresher_RefreshAll(t *testing.T) {
	c := New()
	f := &mockFetcher{}
	f.On("FetchAccountSnapshot", mock.Anything, "main").Return(snap("main", 1000), nil)
	f.On("FetchAccountSnapshot", mock.Anything, "slave").Return(domain.AccountSnapshot{}, assert.AnError)

	r := NewRefresher(c, f, []string{"main", "slave"}, time.Hour, nil)
	evt := r.RefreshAll(context.Background())

	assert.Equal(t, []string{"main"}, evt.Refreshed)
	assert.Len(t, evt.Failed, 1)
	assert.ErrorIs(t, evt.Failed["slave"], assert.AnError)
	assert.False(t, evt.OK())

	_, err := c.Get("main")
	assert.NoError(t, err)
	_, err = c.Get("slave")
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestRefresher_RunPublishesAndCloses(t *testing.T) {
	c := New()
	f := &mockFetcher{}
	f.On("FetchAccountSnapshot", mock.Anything, "main").Return(snap("main", 1000), nil)

	r := NewRefresher(c, f, []string{"main"}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case evt := <-r.Events():
		assert.True(t, evt.OK())
		assert.Equal(t, []string{"main"}, evt.Refreshed)
	case <-time.After(time.Second):
		t.Fatal("no refresh event")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, open := <-r.Events()
	assert.False(t, open)
}
