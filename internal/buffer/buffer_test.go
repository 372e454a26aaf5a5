package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics/internal/models"
)

func tick(i int) models.Tick {
	return models.Tick{Timestamp: float64(i * 1000), Symbol: "BTCUSDT", Price: float64(100 + i), Quantity: 1}
}

func TestTickBufferNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 3, 10, 64} {
		b := New(capacity)
		for i := 0; i < capacity*5+2; i++ {
			b.Add(tick(i))
			require.LessOrEqual(t, b.Len(), capacity)
		}

		// most recent ticks are retained in arrival order
		got := b.Snapshot()
		require.Len(t, got, capacity)
		last := capacity*5 + 1
		for i, tk := range got {
			assert.Equal(t, tick(last-capacity+1+i), tk)
		}
	}
}

func TestRecentN(t *testing.T) {
	b := New(5)
	for i := 0; i < 7; i++ {
		b.Add(tick(i))
	}

	got := b.RecentN(3)
	assert.Equal(t, []models.Tick{tick(4), tick(5), tick(6)}, got)

	assert.Len(t, b.RecentN(50), 5)
	assert.Empty(t, b.RecentN(0))

	// returned slice is a copy
	got[0].Price = -1
	assert.Equal(t, tick(4), b.RecentN(3)[0])
}

func TestSince(t *testing.T) {
	b := New(10)
	for i := 0; i < 6; i++ {
		b.Add(tick(i))
	}

	got := b.Since(3000)
	assert.Equal(t, []models.Tick{tick(3), tick(4), tick(5)}, got)
	assert.Empty(t, b.Since(1e15))
}

func TestEmptyBuffer(t *testing.T) {
	b := New(4)
	assert.Empty(t, b.RecentN(10))
	assert.Empty(t, b.Since(0))
	_, ok := b.Latest()
	assert.False(t, ok)
}

func TestLatestAfterWrap(t *testing.T) {
	b := New(2)
	b.Add(tick(1))
	b.Add(tick(2))
	b.Add(tick(3))

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, tick(3), latest)
	assert.Equal(t, 2, b.Cap())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}
