package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weqory/alertengine/internal/complexcache"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/internal/ringbuffer"
)

func TestSweepOnce_CatchesWindowAdvanceWithoutNewTick(t *testing.T) {
	entry := &complexcache.Entry{
		AlertID:      5,
		Exchange:     "binance",
		Market:       "futures",
		AlertForMode: model.AlertForAll,
		Threshold:    5,
		TimeframeSec: 300,
	}
	e, sink, buf := newTestEvaluator(entry)

	buf.Append("binance", "futures", map[string]float64{"BTCUSDT": 60000}, 0, 10_000_000)
	buf.Append("binance", "futures", map[string]float64{"BTCUSDT": 63100}, ringbuffer.SampleInterval+1, 10_000_000)

	s := NewSweeper(e, time.Hour, nil)
	// no new tick arrives; the sweep scans the ring buffer directly at a
	// later wall-clock instant, where the 63100 point is in the window and
	// the 60000 point is its bridge, a span above the threshold.
	s.sweepOnceAt(context.Background(), 300_000+ringbuffer.SampleInterval+1)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(5), events[0].Complex.AlertID)
}

func TestSweep_NonReentrant(t *testing.T) {
	entry := &complexcache.Entry{
		AlertID: 6, Exchange: "binance", Market: "futures",
		AlertForMode: model.AlertForAll, Threshold: 5, TimeframeSec: 300,
	}
	e, _, _ := newTestEvaluator(entry)
	s := NewSweeper(e, time.Hour, nil)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.tick(context.Background())
	assert.Equal(t, int64(1), s.SkippedCycles())
}
