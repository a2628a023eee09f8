// Package fastloop implements the Fast Price Alert Loop (component G):
// a sub-second loop that fetches current prices for every active price
// alert and fires on touch or cross.
package fastloop

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/model"
)

// DefaultInterval is FAST_PRICE_INTERVAL.
const DefaultInterval = 300 * time.Millisecond

// MinInterval is the configured floor.
const MinInterval = 150 * time.Millisecond

// FreshPerGroupLimit bounds the per-symbol "fresh" requests issued per
// (exchange, market) group to avoid tripping exchange rate limits.
const FreshPerGroupLimit = 30

// Store is the read access the loop needs from the persistent layer.
type Store interface {
	ListActivePriceAlerts(ctx context.Context) ([]model.Alert, error)
}

// Sink receives a fired price alert trigger (§4.J).
type Sink interface {
	Fire(ctx context.Context, event model.TriggerEvent)
}

// Loop is the Fast Price Alert Loop.
type Loop struct {
	Store    Store
	Registry *adapter.Registry
	Sink     Sink
	Interval time.Duration
	Logger   *slog.Logger

	mu       sync.Mutex
	observed map[int64]float64
	warned   map[int64]bool
	running  bool
	skipped  int64
}

// New creates a Fast Price Alert Loop. Interval is clamped to MinInterval.
func New(store Store, registry *adapter.Registry, sink Sink, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Loop{
		Store:    store,
		Registry: registry,
		Sink:     sink,
		Interval: interval,
		Logger:   logger,
		observed: make(map[int64]float64),
		warned:   make(map[int64]bool),
	}
}

// Run drives the loop until ctx is done. Non-reentrant: an overrunning
// cycle causes the next tick to be skipped and counted (§5).
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.skipped++
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.runOnce(ctx)
}

type group struct {
	exchange string
	market   string
	alerts   []model.Alert
	symbols  map[string]struct{}
}

func (l *Loop) runOnce(ctx context.Context) {
	alerts, err := l.Store.ListActivePriceAlerts(ctx)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Error("fastloop: list active price alerts failed", slog.String("error", err.Error()))
		}
		return
	}

	groups := make(map[string]*group)
	for _, a := range alerts {
		if a.FirstSymbol() == "" {
			continue
		}
		key := a.Exchange + "|" + string(a.Market)
		g, ok := groups[key]
		if !ok {
			g = &group{exchange: a.Exchange, market: string(a.Market), symbols: make(map[string]struct{})}
			groups[key] = g
		}
		g.alerts = append(g.alerts, a)
		g.symbols[adapter.NormalizeSymbol(a.FirstSymbol())] = struct{}{}
	}

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *group) {
			defer wg.Done()
			l.processGroup(ctx, g)
		}(g)
	}
	wg.Wait()
}

func (l *Loop) processGroup(ctx context.Context, g *group) {
	ad, ok := l.Registry.Get(g.exchange)
	if !ok {
		return
	}

	symbols := make([]string, 0, len(g.symbols))
	for s := range g.symbols {
		symbols = append(symbols, s)
	}

	prices, err := ad.GetLastPricesBySymbols(ctx, symbols, g.market, adapter.LastPriceOptions{})
	if err != nil {
		if l.Logger != nil {
			l.Logger.Warn("fastloop: bulk price fetch failed",
				slog.String("exchange", g.exchange), slog.String("market", g.market), slog.String("error", err.Error()))
		}
		prices = make(map[string]float64)
	}

	freshSymbols := symbols
	sort.Strings(freshSymbols)
	if len(freshSymbols) > FreshPerGroupLimit {
		freshSymbols = freshSymbols[:FreshPerGroupLimit]
	}

	var freshMu sync.Mutex
	var freshWg sync.WaitGroup
	for _, symbol := range freshSymbols {
		freshWg.Add(1)
		go func(symbol string) {
			defer freshWg.Done()
			fresh, err := ad.GetLastPricesBySymbols(ctx, []string{symbol}, g.market, adapter.LastPriceOptions{ExchangeOnly: true})
			if err != nil || len(fresh) == 0 {
				return
			}
			freshMu.Lock()
			for k, v := range fresh {
				prices[k] = v
			}
			freshMu.Unlock()
		}(symbol)
	}
	freshWg.Wait()

	now := time.Now()
	for _, a := range g.alerts {
		l.evaluateAlert(ctx, a, prices, now)
	}
}

func (l *Loop) evaluateAlert(ctx context.Context, a model.Alert, prices map[string]float64, now time.Time) {
	if a.TargetValue == nil {
		return
	}
	symbol := adapter.NormalizeSymbol(a.FirstSymbol())
	current, ok := prices[symbol]
	if !ok {
		l.mu.Lock()
		alreadyWarned := l.warned[a.ID]
		l.warned[a.ID] = true
		l.mu.Unlock()
		if !alreadyWarned && l.Logger != nil {
			l.Logger.Warn("fastloop: no price available for alert", slog.Int64("alertId", a.ID), slog.String("symbol", symbol))
		}
		return
	}

	target := *a.TargetValue
	tolerance := math.Max(math.Abs(target)*1e-4, 1e-8)

	l.mu.Lock()
	previous, hasPrevious := l.observed[a.ID]
	l.mu.Unlock()
	if !hasPrevious && a.InitialPrice != nil {
		previous = *a.InitialPrice
		hasPrevious = true
	}

	touched := math.Abs(current-target) <= tolerance
	crossed := hasPrevious && (previous-target)*(current-target) < 0

	legacyFallback := false
	if !hasPrevious && a.InitialPrice == nil && a.Condition != nil {
		switch *a.Condition {
		case model.ConditionAbove:
			legacyFallback = current >= target-tolerance
		case model.ConditionBelow:
			legacyFallback = current <= target+tolerance
		}
	}

	if touched || crossed || legacyFallback {
		l.mu.Lock()
		delete(l.observed, a.ID)
		delete(l.warned, a.ID)
		l.mu.Unlock()

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
			Symbol:       symbol,
			CurrentPrice: current,
			TargetValue:  target,
			Condition:    condition,
			AlertType:    model.AlertTypePrice,
		}
		l.Sink.Fire(ctx, model.TriggerEvent{Price: &payload})
		return
	}

	l.mu.Lock()
	l.observed[a.ID] = current
	l.mu.Unlock()
}

// SkippedCycles returns how many ticks were skipped due to reentrancy.
func (l *Loop) SkippedCycles() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}
