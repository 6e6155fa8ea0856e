package simstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	s, err := NewStore(t.TempDir(), "Client #1")
	require.NoError(t, err)

	st, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, st)

	want := State{
		ClientID:  "Client #1",
		Cash:      "1000.5",
		Holdings:  map[string]StoredHolding{"AAPL": {Quantity: "10", Price: "150"}},
		UpdatedAt: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Cash, got.Cash)
	assert.Equal(t, want.Holdings, got.Holdings)

	require.NoError(t, s.Remove())
	got, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSanitizeScope(t *testing.T) {
	assert.Equal(t, "client_1", sanitizeScope("  Client #1 "))
	assert.Equal(t, "", sanitizeScope("###"))

	_, err := NewStore(t.TempDir(), "###")
	assert.Error(t, err)
}
