// Package ringbuffer implements the per-(exchange, market, symbol) bounded
// time-series store (§4.C): debounced appends, retention/length eviction,
// and window statistics with bridge-point fallback.
package ringbuffer

import (
	"hash/fnv"
	"sync"

	"github.com/weqory/alertengine/internal/model"
)

const (
	// SampleInterval is the minimum spacing between two distinct stored
	// points for the same key; faster updates mutate the latest point
	// in place instead of appending.
	SampleInterval = 3 * 1000 // ms

	// Retention is the default retention horizon for callers that don't
	// need a longer one (e.g. the price-alert paths never call this
	// package directly; the Tick Evaluator raises this per its cache).
	Retention = 7 * 60 // seconds

	MaxPoints = 180

	// MinPointsInWindow is the minimum effective sample count windowStats
	// requires before returning a result.
	MinPointsInWindow = 2

	numShards = 32
)

type shard struct {
	mu      sync.RWMutex
	buffers map[string][]model.PricePoint
}

// Store is a sharded collection of per-key ring buffers. Sharding bounds
// lock contention between the fan-in writer and the evaluator readers
// (§5: "use per-(exchange, market) sharding with one writer and many
// readers, or a sharded lock").
type Store struct {
	shards [numShards]*shard
}

// New creates an empty ring-buffer store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{buffers: make(map[string][]model.PricePoint)}
	}
	return s
}

func key(exchange, market, symbol string) string {
	return exchange + "|" + market + "|" + symbol
}

func (s *Store) shardFor(k string) *shard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return s.shards[h.Sum32()%numShards]
}

// Append records one price observation per symbol in priceMap, applying
// the per-sample debounce, then evicts points older than retentionSec and
// truncates to MaxPoints. Non-positive or non-finite prices are ignored.
func (s *Store) Append(exchange, market string, priceMap map[string]float64, nowMs int64, retentionSec int64) {
	if retentionSec <= 0 {
		retentionSec = Retention
	}
	for symbol, price := range priceMap {
		if !validPrice(price) {
			continue
		}
		k := key(exchange, market, symbol)
		sh := s.shardFor(k)

		sh.mu.Lock()
		points := sh.buffers[k]
		if n := len(points); n > 0 && nowMs-points[n-1].TS < SampleInterval {
			// Debounce: update the latest point's price without
			// advancing its ts, per the "keep ts fixed" choice (§9
			// open question) — windowStats needs distinct-ts samples
			// spanning the timeframe, not just the latest value.
			points[n-1].Price = price
		} else {
			points = append(points, model.PricePoint{TS: nowMs, Price: price})
		}

		points = evict(points, nowMs, retentionSec)
		sh.buffers[k] = points
		sh.mu.Unlock()
	}
}

func validPrice(p float64) bool {
	return p > 0 && p == p && p < (1<<62) && p > -(1<<62)
}

func evict(points []model.PricePoint, nowMs int64, retentionSec int64) []model.PricePoint {
	cutoff := nowMs - retentionSec*1000
	start := 0
	for start < len(points) && points[start].TS < cutoff {
		start++
	}
	if start > 0 {
		points = append([]model.PricePoint(nil), points[start:]...)
	}
	if len(points) > MaxPoints {
		points = append([]model.PricePoint(nil), points[len(points)-MaxPoints:]...)
	}
	return points
}

// WindowStats computes min/max/oldest/current over the trailing
// lookbackSec window, bridging in the single most recent pre-window point
// when fewer than MinPointsInWindow points fall strictly inside it (§4.C).
// It returns false when no usable window can be formed.
func (s *Store) WindowStats(exchange, market, symbol string, nowMs int64, lookbackSec int64) (model.WindowStats, bool) {
	k := key(exchange, market, symbol)
	sh := s.shardFor(k)

	sh.mu.RLock()
	points := sh.buffers[k]
	snapshot := make([]model.PricePoint, len(points))
	copy(snapshot, points)
	sh.mu.RUnlock()

	if len(snapshot) == 0 {
		return model.WindowStats{}, false
	}

	cutoff := nowMs - lookbackSec*1000
	firstIn := len(snapshot)
	for i, p := range snapshot {
		if p.TS >= cutoff {
			firstIn = i
			break
		}
	}

	effective := snapshot[firstIn:]
	if len(effective) < MinPointsInWindow && firstIn > 0 {
		bridge := snapshot[firstIn-1]
		effective = append([]model.PricePoint{bridge}, effective...)
	}

	if len(effective) < MinPointsInWindow {
		return model.WindowStats{}, false
	}

	stats := model.WindowStats{
		Min:     effective[0].Price,
		Max:     effective[0].Price,
		Oldest:  effective[0].Price,
		Current: effective[len(effective)-1].Price,
		Points:  len(effective),
	}
	anyPositive := false
	for _, p := range effective {
		if !validPrice(p.Price) {
			continue
		}
		anyPositive = true
		if p.Price < stats.Min {
			stats.Min = p.Price
		}
		if p.Price > stats.Max {
			stats.Max = p.Price
		}
	}
	if !anyPositive {
		return model.WindowStats{}, false
	}
	return stats, true
}

// ActiveSymbols returns every symbol currently tracked for an
// (exchange, market) pair, used by the Safety-Net Sweeper to iterate
// beyond the most recent tick's symbol set (§4.F).
func (s *Store) ActiveSymbols(exchange, market string) []string {
	prefix := exchange + "|" + market + "|"
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.buffers {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				out = append(out, k[len(prefix):])
			}
		}
		sh.mu.RUnlock()
	}
	return out
}
