package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/internal/trigger"
	"github.com/weqory/alertengine/pkg/config"
)

type fakeStore struct {
	complex []model.Alert
	price   []model.Alert
}

func (f *fakeStore) ListActiveComplexAlerts(ctx context.Context) ([]model.Alert, error) {
	return f.complex, nil
}

func (f *fakeStore) ListActivePriceAlerts(ctx context.Context) ([]model.Alert, error) {
	return f.price, nil
}

func (f *fakeStore) DeletePriceAlert(ctx context.Context, alertID int64) (bool, error) {
	return true, nil
}

func (f *fakeStore) MarkComplexTriggered(ctx context.Context, alertID int64, header model.TriggerHeader) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertTriggerRecord(ctx context.Context, rec model.TriggerRecord) error {
	return nil
}

type fakeLeaseStore struct {
	mu      sync.Mutex
	ownedBy string
}

func (f *fakeLeaseStore) EnsureTable(ctx context.Context) error { return nil }

func (f *fakeLeaseStore) TryClaim(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownedBy == "" || f.ownedBy == ownerID {
		f.ownedBy = ownerID
		return true, nil
	}
	return false, nil
}

func (f *fakeLeaseStore) TryRenew(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownedBy == ownerID, nil
}

func (f *fakeLeaseStore) Release(ctx context.Context, name, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownedBy == ownerID {
		f.ownedBy = ""
	}
	return nil
}

type fakeAdapter struct {
	name    string
	active  map[string]struct{}
	tracked []string
	mu      sync.Mutex
}

func (f *fakeAdapter) Exchange() string { return f.name }

func (f *fakeAdapter) GetLastPricesBySymbols(ctx context.Context, symbols []string, market string, opts adapter.LastPriceOptions) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append([]string(nil), symbols...)
	return nil, nil
}

func (f *fakeAdapter) trackedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tracked...)
}

func (f *fakeAdapter) FetchActiveSymbols(ctx context.Context, market string) (map[string]struct{}, error) {
	return f.active, nil
}

func (f *fakeAdapter) FetchKlines(ctx context.Context, symbol, market, interval string, limit int, before time.Time) ([]adapter.Kline, error) {
	return nil, nil
}

func testLogger() *slog.Logger { return slog.Default() }

func whitelistComplexAlert(exchange string, market model.Market, symbols []string) model.Alert {
	return model.Alert{
		ID:         1,
		UserID:     7,
		Name:       "watch",
		AlertType:  model.AlertTypeComplex,
		Exchange:   exchange,
		Market:     market,
		Symbols:    symbols,
		IsActive:   true,
		Conditions: []model.AlertCondition{{Type: "pct_change", Value: 5, Timeframe: model.Timeframe5m}},
		NotificationOptions: model.NotificationOptions{
			AlertForMode: model.AlertForWhitelist,
		},
	}
}

func allModeComplexAlert(exchange string, market model.Market) model.Alert {
	a := whitelistComplexAlert(exchange, market, nil)
	a.NotificationOptions.AlertForMode = model.AlertForAll
	return a
}

func newTestEngine(t *testing.T, store *fakeStore, reg *adapter.Registry) *Engine {
	t.Helper()
	sink := trigger.New(store, nil, nil, testLogger())
	e := New(config.EngineConfig{
		LeaseName:           "test-lease",
		InstanceID:          "instance-a",
		FanInPollInterval:   time.Millisecond,
		ComplexCacheRefresh: time.Hour,
	}, Dependencies{
		Registry:   reg,
		Store:      store,
		LeaseStore: &fakeLeaseStore{},
		Sink:       sink,
		Logger:     testLogger(),
	})
	require.NotNil(t, e)
	return e
}

func TestSyncTracking_WhitelistAlertTracksOnlyItsSymbols(t *testing.T) {
	store := &fakeStore{complex: []model.Alert{whitelistComplexAlert("binance", model.MarketSpot, []string{"BTCUSDT"})}}
	fa := &fakeAdapter{name: "binance"}
	reg := adapter.NewRegistry(fa)
	e := newTestEngine(t, store, reg)

	require.NoError(t, e.cache.Refresh(context.Background()))
	e.syncTracking(context.Background())

	tick, ok := e.fanIn.GetPriceMap("binance", string(model.MarketSpot))
	_ = tick
	assert.False(t, ok, "no ticks should exist yet, only a tracked producer")
	assert.Eventually(t, func() bool {
		got := fa.trackedSymbols()
		return len(got) == 1 && got[0] == "BTCUSDT"
	}, time.Second, time.Millisecond)
}

func TestSyncTracking_AllModeAlertFetchesActiveSymbols(t *testing.T) {
	store := &fakeStore{complex: []model.Alert{allModeComplexAlert("binance", model.MarketSpot)}}
	fa := &fakeAdapter{name: "binance", active: map[string]struct{}{"ETHUSDT": {}}}
	reg := adapter.NewRegistry(fa)
	e := newTestEngine(t, store, reg)

	require.NoError(t, e.cache.Refresh(context.Background()))
	e.syncTracking(context.Background())

	pairs := e.cache.ActiveExchangeMarketPairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "binance", pairs[0].Exchange)
	assert.Eventually(t, func() bool {
		got := fa.trackedSymbols()
		return len(got) == 1 && got[0] == "ETHUSDT"
	}, time.Second, time.Millisecond)
}

func TestSyncTracking_UnknownExchangeSkipped(t *testing.T) {
	store := &fakeStore{complex: []model.Alert{whitelistComplexAlert("kraken", model.MarketSpot, []string{"BTCUSDT"})}}
	reg := adapter.NewRegistry()
	e := newTestEngine(t, store, reg)

	require.NoError(t, e.cache.Refresh(context.Background()))
	assert.NotPanics(t, func() { e.syncTracking(context.Background()) })
}

func TestStartStopWorkers_SubscribesAndUnsubscribes(t *testing.T) {
	store := &fakeStore{}
	reg := adapter.NewRegistry()
	e := newTestEngine(t, store, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.startWorkers(ctx)
	e.mu.Lock()
	subID := e.subID
	e.mu.Unlock()
	assert.NotZero(t, subID)

	e.stopWorkers()
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Zero(t, e.subID)
}

func TestRun_ShutsDownCleanlyOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	reg := adapter.NewRegistry()
	e := newTestEngine(t, store, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down in time")
	}
}
