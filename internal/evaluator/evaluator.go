// Package evaluator implements the complex-alert evaluation shared by the
// per-tick path (§4.E) and the periodic safety-net sweep (§4.F): scope
// check, cooldown, window stats, and firing.
package evaluator

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/complexcache"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/internal/ringbuffer"
)

// Sink receives a fired trigger event and carries out persistence,
// realtime push, and messenger dispatch (§4.J). It is implemented by
// internal/trigger.
type Sink interface {
	Fire(ctx context.Context, event model.TriggerEvent)
}

// Evaluator holds the dependencies shared by the tick path and the sweep
// path: the ring buffer they both read, the complex alert cache, the
// cooldown tracker, and the trigger sink.
type Evaluator struct {
	Buffer   *ringbuffer.Store
	Cache    *complexcache.Cache
	Cooldown *CooldownTracker
	Sink     Sink
	Logger   *slog.Logger

	evaluateRuns atomic.Int64
	fireCount    atomic.Int64
}

// EvaluateRuns returns the cumulative count of evaluate cycles run across
// the tick path and the sweep path.
func (e *Evaluator) EvaluateRuns() int64 { return e.evaluateRuns.Load() }

// FireCount returns the cumulative count of complex alert fires.
func (e *Evaluator) FireCount() int64 { return e.fireCount.Load() }

// evaluateSymbol runs the scope check, cooldown check, window stats, and
// threshold comparison for one (entry, symbol) pair at time now, firing
// through the sink on a match. Shared verbatim by the tick path and the
// sweep path (§4.E steps 3-4, §4.F).
func (e *Evaluator) evaluateSymbol(ctx context.Context, entry *complexcache.Entry, symbol string, nowMs int64) {
	e.evaluateRuns.Add(1)
	if !inScope(entry, symbol) {
		return
	}

	now := time.UnixMilli(nowMs)
	if !e.Cooldown.CanEmit(entry.AlertID, symbol, now) {
		return
	}

	stats, ok := e.Buffer.WindowStats(entry.Exchange, entry.Market, symbol, nowMs, entry.TimeframeSec)
	if !ok {
		return
	}

	spanPct := (stats.Max - stats.Min) / stats.Min * 100
	if spanPct < entry.Threshold {
		return
	}

	if !e.Cooldown.TryFire(entry.AlertID, symbol, now) {
		return
	}

	e.fireCount.Add(1)
	payload := buildPayload(entry, symbol, stats, spanPct, now)
	e.Sink.Fire(ctx, model.TriggerEvent{Complex: &payload})
}

// inScope applies §4.E's scope check: whitelist alerts require symbol
// membership in the declared set (tolerating the .P alias either way);
// "all" alerts require a USDT pair (ignoring any .P suffix).
func inScope(entry *complexcache.Entry, symbol string) bool {
	if entry.AlertForMode == model.AlertForWhitelist {
		if _, ok := entry.SymbolSet[symbol]; ok {
			return true
		}
		if strings.HasSuffix(symbol, ".P") {
			_, ok := entry.SymbolSet[strings.TrimSuffix(symbol, ".P")]
			return ok
		}
		_, ok := entry.SymbolSet[adapter.PerpetualAlias(symbol)]
		return ok
	}
	return adapter.IsUSDTPair(symbol)
}

func buildPayload(entry *complexcache.Entry, symbol string, stats model.WindowStats, spanPct float64, now time.Time) model.ComplexPayload {
	baseline, current := stats.Min, stats.Max
	if stats.Current < stats.Oldest {
		baseline, current = stats.Max, stats.Min
	}

	return model.ComplexPayload{
		TriggerHeader: model.TriggerHeader{
			AlertID:     entry.AlertID,
			UserID:      entry.UserID,
			Name:        entry.Name,
			Description: entry.Description,
			Triggered:   true,
			TriggeredAt: now,
		},
		Symbol:        symbol,
		Exchange:      entry.Exchange,
		Market:        model.Market(entry.Market),
		PctChange:     signedPct(stats, spanPct),
		BaselinePrice: baseline,
		CurrentPrice:  current,
		WindowSeconds: entry.TimeframeSec,
	}
}

func signedPct(stats model.WindowStats, spanPct float64) float64 {
	if stats.Current < stats.Oldest {
		return -spanPct
	}
	return spanPct
}
