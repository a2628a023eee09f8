// Package klines implements the Klines Sweep (component H): a
// low-frequency recovery pass over exchange candle history that catches
// crossings the Fast Price Alert Loop missed during outages, cold
// starts, or lease flapping.
package klines

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/model"
)

// DefaultInterval is KLINES_SWEEP_INTERVAL.
const DefaultInterval = 2 * time.Minute

// DefaultLookback bounds how far back a sweep looks for a crossing when
// an alert's createdAt is older than this. Each sweep fetches only the
// latest klineLimit candles of klineInterval (500 one-minute candles,
// about 8h20m), so candles older than that are not examined even when
// the lookback reaches further back.
const DefaultLookback = 24 * time.Hour

// DefaultWarmupDelay is how long the sweep waits after startup before its
// first pass, letting adapters warm up.
const DefaultWarmupDelay = 30 * time.Second

const klineInterval = "1m"
const klineLimit = 500

// Store is the read access the sweep needs from the persistent layer.
type Store interface {
	ListActivePriceAlerts(ctx context.Context) ([]model.Alert, error)
}

// Sink receives a fired price alert trigger (§4.J).
type Sink interface {
	Fire(ctx context.Context, event model.TriggerEvent)
}

// Sweep is the Klines Sweep.
type Sweep struct {
	Store    Store
	Registry *adapter.Registry
	Sink     Sink
	Interval time.Duration
	Lookback time.Duration
	Logger   *slog.Logger
}

// New creates a Klines Sweep.
func New(store Store, registry *adapter.Registry, sink Sink, interval, lookback time.Duration, logger *slog.Logger) *Sweep {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Sweep{Store: store, Registry: registry, Sink: sink, Interval: interval, Lookback: lookback, Logger: logger}
}

// Run waits DefaultWarmupDelay, then drives the periodic sweep until ctx
// is done (§4.H: "initial kick-off delayed to let adapters warm").
func (s *Sweep) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(DefaultWarmupDelay):
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweep) runOnce(ctx context.Context) {
	alerts, err := s.Store.ListActivePriceAlerts(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("klines: list active price alerts failed", slog.String("error", err.Error()))
		}
		return
	}

	now := time.Now()
	for _, a := range alerts {
		s.checkAlert(ctx, a, now)
	}
}

func (s *Sweep) checkAlert(ctx context.Context, a model.Alert, now time.Time) {
	if a.TargetValue == nil || a.FirstSymbol() == "" {
		return
	}
	ad, ok := s.Registry.Get(a.Exchange)
	if !ok {
		return
	}

	since := a.CreatedAt
	if since.IsZero() || now.Sub(since) > s.Lookback {
		since = now.Add(-s.Lookback)
	}

	candles, err := ad.FetchKlines(ctx, a.FirstSymbol(), string(a.Market), klineInterval, klineLimit, time.Time{})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("klines: fetch failed", slog.Int64("alertId", a.ID), slog.String("error", err.Error()))
		}
		return
	}

	target := *a.TargetValue
	var crossingCandle *adapter.Kline
	for i := range candles {
		c := candles[i]
		if time.Unix(c.Time, 0).Before(since) {
			continue
		}
		if crosses(c, target) {
			crossingCandle = &c
			break
		}
	}
	if crossingCandle == nil {
		return
	}

	condition := a.FireDirection(target)
	payload := model.PricePayload{
		TriggerHeader: model.TriggerHeader{
			AlertID:     a.ID,
			UserID:      a.UserID,
			Name:        a.Name,
			Description: a.Description,
			Triggered:   true,
			TriggeredAt: now,
		},
		Symbol:       adapter.NormalizeSymbol(a.FirstSymbol()),
		CurrentPrice: crossingCandle.Close,
		TargetValue:  target,
		Condition:    condition,
		AlertType:    model.AlertTypePrice,
	}
	s.Sink.Fire(ctx, model.TriggerEvent{Price: &payload})
}

// crosses reports whether target lies within [low, high] of the candle,
// which subsumes both "target between open and an extreme" and "target
// strictly between consecutive closes" (§4.H).
func crosses(c adapter.Kline, target float64) bool {
	lo, hi := math.Min(c.Low, c.High), math.Max(c.Low, c.High)
	return target >= lo && target <= hi
}

