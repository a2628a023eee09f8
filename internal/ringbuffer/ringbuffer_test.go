package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_Debounce(t *testing.T) {
	s := New()
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 100}, 1_000, Retention)
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 101}, 1_500, Retention)
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 102}, 1_000+SampleInterval, Retention)

	stats, ok := s.WindowStats("binance", "futures", "BTCUSDT", 1_000+SampleInterval, Retention)
	require.True(t, ok)
	// second sample arrived inside the debounce window, so it must have
	// mutated the single stored point (keeping its ts at 1_000) rather
	// than appended a second one; the third sample, SampleInterval after
	// that ts, is appended.
	assert.Equal(t, 2, stats.Points)
	assert.Equal(t, 101.0, stats.Oldest)
	assert.Equal(t, 102.0, stats.Current)
}

func TestAppend_NewSampleAfterDebounceWindow(t *testing.T) {
	s := New()
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 100}, 1_000, Retention)
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 105}, 1_000+SampleInterval+1, Retention)

	stats, ok := s.WindowStats("binance", "futures", "BTCUSDT", 1_000+SampleInterval+1, Retention)
	require.True(t, ok)
	assert.Equal(t, 2, stats.Points)
	assert.Equal(t, 100.0, stats.Oldest)
	assert.Equal(t, 105.0, stats.Current)
}

func TestAppend_IgnoresNonPositivePrice(t *testing.T) {
	s := New()
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": -1, "ETHUSDT": 0}, 1_000, Retention)

	_, ok := s.WindowStats("binance", "futures", "BTCUSDT", 1_000, Retention)
	assert.False(t, ok)
	_, ok = s.WindowStats("binance", "futures", "ETHUSDT", 1_000, Retention)
	assert.False(t, ok)
}

func TestAppend_EvictsOldPointsAndTruncates(t *testing.T) {
	s := New()
	ts := int64(0)
	for i := 0; i < MaxPoints+20; i++ {
		ts += SampleInterval + 1
		s.Append("binance", "spot", map[string]float64{"BTCUSDT": float64(i + 1)}, ts, 10_000_000)
	}
	stats, ok := s.WindowStats("binance", "spot", "BTCUSDT", ts, 10_000_000)
	require.True(t, ok)
	assert.Equal(t, MaxPoints, stats.Points)
}

func TestWindowStats_NoPoints(t *testing.T) {
	s := New()
	_, ok := s.WindowStats("binance", "futures", "BTCUSDT", 1_000, 300)
	assert.False(t, ok)
}

func TestWindowStats_BridgePoint(t *testing.T) {
	s := New()
	// A single point well outside the window, followed by a single
	// point inside it: fewer than MinPointsInWindow fall strictly
	// inside, so the bridge point must be pulled in as the baseline.
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 60000}, 0, 10_000_000)
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 63100}, 300_000+SampleInterval+1, 10_000_000)

	stats, ok := s.WindowStats("binance", "futures", "BTCUSDT", 300_000+SampleInterval+1, 300)
	require.True(t, ok)
	assert.Equal(t, 2, stats.Points)
	assert.Equal(t, 60000.0, stats.Oldest)
	assert.Equal(t, 63100.0, stats.Current)
	assert.Equal(t, 60000.0, stats.Min)
	assert.Equal(t, 63100.0, stats.Max)
}

func TestWindowStats_InsufficientEvenWithBridge(t *testing.T) {
	s := New()
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 60000}, 0, 10_000_000)

	_, ok := s.WindowStats("binance", "futures", "BTCUSDT", 300_000, 300)
	assert.False(t, ok)
}

func TestActiveSymbols(t *testing.T) {
	s := New()
	s.Append("binance", "futures", map[string]float64{"BTCUSDT": 1, "ETHUSDT": 2}, 0, Retention)
	s.Append("okx", "futures", map[string]float64{"SOLUSDT": 3}, 0, Retention)

	got := s.ActiveSymbols("binance", "futures")
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}
