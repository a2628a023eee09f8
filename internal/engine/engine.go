// Package engine is the orchestrator: it wires the Fan-In, Ring-Buffer
// Store, Complex Alert Cache, Tick Evaluator, Safety-Net Sweeper, Fast
// Price Alert Loop, Klines Sweep, Lease Coordinator, and Trigger Sink
// into one running Alert Evaluation Engine (spec §1/§5). Grounded on the
// teacher's internal/alert/engine.go lifecycle shape (Run/Stop,
// context-gated background loops, WaitGroup-bounded shutdown).
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/complexcache"
	"github.com/weqory/alertengine/internal/evaluator"
	"github.com/weqory/alertengine/internal/fanin"
	"github.com/weqory/alertengine/internal/fastloop"
	"github.com/weqory/alertengine/internal/klines"
	"github.com/weqory/alertengine/internal/lease"
	"github.com/weqory/alertengine/internal/metrics"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/internal/ringbuffer"
	"github.com/weqory/alertengine/internal/trigger"
	"github.com/weqory/alertengine/pkg/config"

	"github.com/google/uuid"
)

// Store is the persistence surface the engine needs; store.AlertStore
// satisfies it alongside complexcache.Store/fastloop.Store/klines.Store.
type Store interface {
	complexcache.Store
	fastloop.Store
}

// Engine is the Alert Evaluation Engine.
type Engine struct {
	cfg      config.EngineConfig
	logger   *slog.Logger
	registry *adapter.Registry

	buffer *ringbuffer.Store
	cache  *complexcache.Cache
	fanIn  *fanin.FanIn

	eval    *evaluator.Evaluator
	sweeper *evaluator.Sweeper
	fast    *fastloop.Loop
	klines  *klines.Sweep
	lease   *lease.Coordinator

	store Store
	sink  *trigger.Sink

	subID         int
	trackInterval time.Duration

	mu       sync.Mutex
	workerWG sync.WaitGroup
}

// Dependencies are the concrete adapters the engine wires together.
type Dependencies struct {
	Registry   *adapter.Registry
	Store      Store
	LeaseStore lease.Store
	Sink       *trigger.Sink
	Logger     *slog.Logger
}

// New builds an Engine from its dependencies and config.
func New(cfg config.EngineConfig, deps Dependencies) *Engine {
	logger := deps.Logger
	buffer := ringbuffer.New()
	cache := complexcache.New(deps.Store, logger)
	fanIn := fanin.New(logger, cfg.FanInPollInterval)

	eval := &evaluator.Evaluator{
		Buffer:   buffer,
		Cache:    cache,
		Cooldown: evaluator.NewCooldownTracker(evaluator.DefaultCooldown),
		Sink:     deps.Sink,
		Logger:   logger,
	}
	sweeper := evaluator.NewSweeper(eval, 0, logger)
	fast := fastloop.New(deps.Store, deps.Registry, deps.Sink, cfg.PriceAlertPollMs, logger)
	klinesSweep := klines.New(deps.Store, deps.Registry, deps.Sink, cfg.KlinesSweepInterval, 0, logger)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuidFallback()
	}
	coordinator := lease.New(deps.LeaseStore, cfg.LeaseName, instanceID, cfg.LeaseTTL, logger)
	if cfg.LeaseHeartbeat > 0 {
		coordinator.Heartbeat = cfg.LeaseHeartbeat
	}
	if cfg.LeaseRetry > 0 {
		coordinator.Retry = cfg.LeaseRetry
	}

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		registry:      deps.Registry,
		buffer:        buffer,
		cache:         cache,
		fanIn:         fanIn,
		eval:          eval,
		sweeper:       sweeper,
		fast:          fast,
		klines:        klinesSweep,
		lease:         coordinator,
		store:         deps.Store,
		sink:          deps.Sink,
		trackInterval: cfg.ComplexCacheRefresh,
	}
	return e
}

// Run starts the engine and blocks until ctx is cancelled. The fan-in,
// ring-buffer population, and complex cache refresh run regardless of
// lease ownership (§5: "the fan-in must continue populating ring
// buffers everywhere"); the evaluation/firing worker loops E-H run only
// while this instance holds the lease.
func (e *Engine) Run(ctx context.Context) error {
	metrics.EngineStarting()
	e.logger.Info("engine.starting")

	if err := e.cache.Refresh(ctx); err != nil {
		metrics.EngineStartFailed()
		e.logger.Error("engine.start.failed", slog.String("error", err.Error()))
		return err
	}

	e.workerWG.Add(2)
	go func() { defer e.workerWG.Done(); e.cache.RefreshLoop(ctx, e.cfg.ComplexCacheRefresh, nil) }()
	go func() { defer e.workerWG.Done(); e.trackLoop(ctx) }()

	// While this instance does not hold the lease, keep its ring buffers
	// filled from the fan-in; the lease holder's Tick Evaluator appends.
	warmID := e.fanIn.Subscribe(func(tick model.PriceTick) {
		if e.cfg.SingleWorker || e.lease.IsOwner() || !e.cache.IsActiveExchangeMarket(tick.Exchange, tick.Market) {
			return
		}
		e.buffer.Append(tick.Exchange, tick.Market, tick.Prices, tick.TS, e.cache.MaxLookbackSec())
	})
	defer e.fanIn.Unsubscribe(warmID)

	metrics.EngineStarted()
	e.logger.Info("engine.started")

	if e.cfg.SingleWorker {
		metrics.EngineStartFallback()
		e.logger.Info("engine.start.fallback", slog.String("reason", "single_worker"))
		e.startWorkers(ctx)
		<-ctx.Done()
		e.stopWorkers()
	} else {
		e.lease.Run(ctx, lease.Callbacks{
			OnAcquire: e.startWorkers,
			OnLose:    e.stopWorkers,
		})
	}

	e.workerWG.Wait()
	metrics.EngineStopped()
	e.logger.Info("engine.stopped")
	return nil
}

// startWorkers runs the lease-gated loops (components E-H): tick
// evaluation dispatch, the safety-net sweeper, the fast price loop, and
// the klines sweep. workerCtx is cancelled by the coordinator on lease
// loss or shutdown.
func (e *Engine) startWorkers(workerCtx context.Context) {
	e.logger.Info("worker.start")
	metrics.WorkerRunning.Set(1)

	e.mu.Lock()
	e.subID = e.fanIn.Subscribe(func(tick model.PriceTick) {
		e.eval.HandleTick(workerCtx, tick)
	})
	e.mu.Unlock()

	go e.sweeper.Run(workerCtx)
	go e.fast.Run(workerCtx)
	go e.klines.Run(workerCtx)

	go func() {
		<-workerCtx.Done()
		e.logger.Info("worker.stop")
		metrics.WorkerRunning.Set(0)
	}()
}

// stopWorkers unsubscribes the tick-evaluation callback; the sweeper,
// fast loop, and klines sweep already exit via workerCtx cancellation.
func (e *Engine) stopWorkers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subID != 0 {
		e.fanIn.Unsubscribe(e.subID)
		e.subID = 0
	}
}

// trackLoop keeps the Fan-In subscribed to every (exchange, market) the
// Complex Alert Cache references, expanding to
// the exchange's full active-symbol set for alertForMode=all complex
// alerts.
func (e *Engine) trackLoop(ctx context.Context) {
	interval := e.trackInterval
	if interval <= 0 {
		interval = complexcache.DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.syncTracking(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncTracking(ctx)
		}
	}
}

func (e *Engine) syncTracking(ctx context.Context) {
	for _, pair := range e.cache.ActiveExchangeMarketPairs() {
		ad, ok := e.registry.Get(pair.Exchange)
		if !ok {
			continue
		}

		symbols := map[string]struct{}{}
		needsAll := false
		for _, entry := range e.cache.EntriesFor(pair.Exchange, pair.Market) {
			if entry.AlertForMode == model.AlertForAll {
				needsAll = true
				continue
			}
			for s := range entry.SymbolSet {
				symbols[s] = struct{}{}
			}
		}

		if needsAll {
			active, err := ad.FetchActiveSymbols(ctx, pair.Market)
			if err != nil {
				e.logger.Warn("engine.track.fetchActiveSymbols.error", slog.String("exchange", pair.Exchange), slog.String("error", err.Error()))
			} else {
				for s := range active {
					symbols[s] = struct{}{}
				}
			}
		}

		if len(symbols) == 0 {
			continue
		}
		list := make([]string, 0, len(symbols))
		for s := range symbols {
			list = append(list, s)
		}
		e.fanIn.Track(ctx, pair.Exchange, pair.Market, ad, list)
	}
}

// uuidFallback generates an instance id when ALERT_ENGINE_INSTANCE_ID is
// unset, so two replicas started without explicit ids never collide on
// the lease row's owner column.
func uuidFallback() string {
	return uuid.NewString()
}
