// Package complexcache maintains the in-memory snapshot of active complex
// alerts the Tick Evaluator and Safety-Net Sweeper read on every cycle
// (§4.D). It never talks to the adapters or the fan-in; it only mirrors
// the persistent store.
package complexcache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/metrics"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/pkg/validator"
)

// DefaultRefreshInterval is COMPLEX_CACHE_REFRESH.
const DefaultRefreshInterval = 30 * time.Second

// MinLookbackSec is the floor COMPLEX_HISTORY_LOOKBACK the Tick Evaluator
// must retain regardless of configured timeframes.
const MinLookbackSec = 65

// Entry is a precomputed complex alert ready for evaluation.
type Entry struct {
	AlertID      int64
	UserID       int64
	Name         string
	Description  string
	Exchange     string
	Market       string
	AlertForMode model.AlertForMode
	SymbolSet    map[string]struct{}
	Threshold    float64
	TimeframeSec int64
}

// Store is the read access the cache needs from the persistent layer.
type Store interface {
	ListActiveComplexAlerts(ctx context.Context) ([]model.Alert, error)
}

// Cache is the Complex Alert Cache (component D).
type Cache struct {
	store    Store
	validate *validator.Validator
	logger   *slog.Logger

	mu                    sync.RWMutex
	byID                  map[int64]*Entry
	byExchangeMarket      map[string][]*Entry
	activeExchangeMarkets map[string]struct{}
	maxLookback           int64
}

// New creates an empty cache backed by store. Every refresh validates
// each alert against pkg/validator before it enters the cache (§7's
// "Invalid alert data" kind: unparseable symbols, non-finite threshold,
// unknown timeframe).
func New(store Store, logger *slog.Logger) *Cache {
	return &Cache{
		store:                 store,
		validate:              validator.New(),
		logger:                logger,
		byID:                  make(map[int64]*Entry),
		byExchangeMarket:      make(map[string][]*Entry),
		activeExchangeMarkets: make(map[string]struct{}),
		maxLookback:           MinLookbackSec,
	}
}

func exchangeMarketKey(exchange, market string) string { return exchange + "|" + market }

// Refresh reloads every active complex alert from the store and rebuilds
// the derived indexes. Safe to call concurrently with reads.
func (c *Cache) Refresh(ctx context.Context) error {
	alerts, err := c.store.ListActiveComplexAlerts(ctx)
	if err != nil {
		metrics.ComplexCacheRefreshError()
		return err
	}

	byID := make(map[int64]*Entry, len(alerts))
	byExchangeMarket := make(map[string][]*Entry)
	activeExchangeMarkets := make(map[string]struct{})
	maxLookback := int64(MinLookbackSec)

	for _, a := range alerts {
		entry := c.buildEntry(a)
		if entry == nil {
			continue
		}
		byID[entry.AlertID] = entry
		key := exchangeMarketKey(entry.Exchange, entry.Market)
		byExchangeMarket[key] = append(byExchangeMarket[key], entry)
		activeExchangeMarkets[key] = struct{}{}
		if floor := entry.TimeframeSec + 5; floor > maxLookback {
			maxLookback = floor
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.byExchangeMarket = byExchangeMarket
	c.activeExchangeMarkets = activeExchangeMarkets
	c.maxLookback = maxLookback
	c.mu.Unlock()

	metrics.ComplexCacheRefreshSuccess()
	return nil
}

func (c *Cache) buildEntry(a model.Alert) *Entry {
	if a.AlertType != model.AlertTypeComplex || len(a.Conditions) == 0 {
		return nil
	}

	if err := c.validate.Validate(&a); err != nil {
		reason := invalidReason(err)
		metrics.InvalidAlertSkipped(reason)
		if c.logger != nil {
			c.logger.Warn("complexcache: invalid alert skipped", slog.Int64("alertId", a.ID), slog.String("reason", reason))
		}
		return nil
	}

	cond := a.Conditions[0]
	timeframeSec := cond.Timeframe.Seconds()
	if timeframeSec <= 0 {
		return nil
	}

	symbolSet := make(map[string]struct{}, len(a.Symbols))
	for _, s := range a.Symbols {
		symbolSet[canonicalAlertSymbol(s)] = struct{}{}
	}

	return &Entry{
		AlertID:      a.ID,
		UserID:       a.UserID,
		Name:         a.Name,
		Description:  a.Description,
		Exchange:     a.Exchange,
		Market:       string(a.Market),
		AlertForMode: a.NotificationOptions.AlertForMode,
		SymbolSet:    symbolSet,
		Threshold:    abs(cond.Value),
		TimeframeSec: timeframeSec,
	}
}

// invalidReason maps the first failing validator tag to a metric/log
// label, preferring the §7-named kinds (non-finite threshold, unknown
// timeframe, unparseable symbol) over a generic fallback.
func invalidReason(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid"
	}
	for _, tag := range verrs.Reasons() {
		switch tag {
		case "finite":
			return "non_finite_threshold"
		case "timeframe":
			return "unknown_timeframe"
		case "alertsymbol":
			return "invalid_symbol"
		}
	}
	return "invalid"
}

// canonicalAlertSymbol applies the cache's own quote-completion rule on
// top of the shared adapter normalization: a symbol that already names a
// quote currency is left alone, otherwise USDT is assumed (§4.D).
func canonicalAlertSymbol(raw string) string {
	s := adapter.NormalizeSymbol(raw)
	if strings.HasSuffix(s, "USDT") || strings.HasSuffix(s, "USD") {
		return s
	}
	return s + "USDT"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// IsActiveExchangeMarket reports whether any cached complex alert targets
// this (exchange, market) pair, letting the Tick Evaluator short-circuit
// (§4.E step 1).
func (c *Cache) IsActiveExchangeMarket(exchange, market string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.activeExchangeMarkets[exchangeMarketKey(exchange, market)]
	return ok
}

// EntriesFor returns every cached entry for (exchange, market).
func (c *Cache) EntriesFor(exchange, market string) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.byExchangeMarket[exchangeMarketKey(exchange, market)]
	out := make([]*Entry, len(entries))
	copy(out, entries)
	return out
}

// MaxLookbackSec returns the retention floor the Tick Evaluator should
// apply to the ring buffer: max(timeframes) + 5s, never below
// MinLookbackSec.
func (c *Cache) MaxLookbackSec() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxLookback
}

// ExchangeMarketPair names one (exchange, market) combination.
type ExchangeMarketPair struct {
	Exchange string
	Market   string
}

// ActiveExchangeMarketPairs lists every (exchange, market) combination with
// at least one cached complex alert, used by the Safety-Net Sweeper to
// iterate its periodic scan (§4.F).
func (c *Cache) ActiveExchangeMarketPairs() []ExchangeMarketPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ExchangeMarketPair, 0, len(c.activeExchangeMarkets))
	for key := range c.activeExchangeMarkets {
		exchange, market, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		out = append(out, ExchangeMarketPair{Exchange: exchange, Market: market})
	}
	return out
}

// Len reports how many complex alerts are currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// RefreshLoop runs Refresh every interval until ctx is done. It also
// exposes a manual trigger channel so CRUD events can force an
// out-of-band refresh (§4.D: "an explicit refresh hook invoked by the
// CRUD layer").
func (c *Cache) RefreshLoop(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		if err := c.Refresh(ctx); err != nil && c.logger != nil {
			c.logger.Error("complexcache: refresh failed", slog.String("error", err.Error()))
		}
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		case <-trigger:
			refresh()
		}
	}
}
