// Package metrics exposes the Prometheus counters and gauges behind the
// structured log event list in spec §6, served at /metrics. Grounded on
// the teacher-adjacent chidi150c-coinbase/metrics.go pattern: package-
// level vector variables registered in init(), with small helper
// functions so call sites never touch the prometheus API directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EngineEvents counts lifecycle transitions: starting, started,
	// stopped, start.failed, start.fallback.
	EngineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_engine_events_total", Help: "Engine lifecycle events."},
		[]string{"event"},
	)

	// WorkerRunning reports whether this instance currently runs the
	// lease-gated workers (1) or stands by (0).
	WorkerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "alertengine_worker_running", Help: "1 if this instance holds the lease and runs workers."},
	)

	// LeaseEvents counts claim/renew/release outcomes.
	LeaseEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_lease_events_total", Help: "Lease coordinator events."},
		[]string{"event", "result"},
	)

	// EvaluateRuns counts Tick Evaluator / Safety-Net Sweeper invocations.
	EvaluateRuns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alertengine_evaluate_runs_total", Help: "Complex-alert evaluation runs."},
	)

	// EvaluateSkipReentry counts sweep cycles skipped because the prior
	// cycle was still running.
	EvaluateSkipReentry = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alertengine_evaluate_skip_reentry_total", Help: "Sweep cycles skipped due to reentry."},
	)

	// EvaluateErrors counts evaluation-path errors, split by which loop
	// produced them (complex tick/sweep vs. fast price loop).
	EvaluateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_evaluate_errors_total", Help: "Evaluation errors by loop."},
		[]string{"loop"},
	)

	// TriggerFired counts alerts fired, split by kind: price, complex, klines.
	TriggerFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_trigger_fired_total", Help: "Alerts fired by kind."},
		[]string{"kind"},
	)

	// ComplexCacheRefresh counts Complex Alert Cache refresh outcomes.
	ComplexCacheRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_complex_cache_refresh_total", Help: "Complex alert cache refreshes."},
		[]string{"result"},
	)

	// KlinesSweep counts Klines Sweep cycle outcomes.
	KlinesSweep = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_klines_sweep_total", Help: "Klines sweep cycles."},
		[]string{"result"},
	)

	// FanInDroppedEvents counts Fan-In subscriber mailbox overflow drops.
	FanInDroppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alertengine_fanin_dropped_events_total", Help: "Fan-In events dropped to bounded mailbox overflow."},
	)

	// FanInPollErrors counts Fan-In adapter poll errors.
	FanInPollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alertengine_fanin_poll_errors_total", Help: "Fan-In adapter poll errors."},
	)

	// InvalidAlertData counts alerts skipped at Complex Alert Cache
	// refresh because they failed domain validation (spec §7's "Invalid
	// alert data" kind), split by the failing reason.
	InvalidAlertData = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alertengine_invalid_alert_data_total", Help: "Alerts skipped at cache refresh due to invalid data, by reason."},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		EngineEvents, WorkerRunning, LeaseEvents,
		EvaluateRuns, EvaluateSkipReentry, EvaluateErrors,
		TriggerFired, ComplexCacheRefresh, KlinesSweep,
		FanInDroppedEvents, FanInPollErrors, InvalidAlertData,
	)
}

// Engine event helpers.
func EngineStarting()     { EngineEvents.WithLabelValues("starting").Inc() }
func EngineStarted()      { EngineEvents.WithLabelValues("started").Inc() }
func EngineStopped()      { EngineEvents.WithLabelValues("stopped").Inc() }
func EngineStartFailed()  { EngineEvents.WithLabelValues("start.failed").Inc() }
func EngineStartFallback() { EngineEvents.WithLabelValues("start.fallback").Inc() }

// Lease event helpers.
func LeaseClaimSuccess() { LeaseEvents.WithLabelValues("claim", "success").Inc() }
func LeaseClaimMiss()    { LeaseEvents.WithLabelValues("claim", "miss").Inc() }
func LeaseRenewSuccess() { LeaseEvents.WithLabelValues("renew", "success").Inc() }
func LeaseRenewLost()    { LeaseEvents.WithLabelValues("renew", "lost").Inc() }
func LeaseRelease()      { LeaseEvents.WithLabelValues("release", "success").Inc() }
func LeaseReleaseError() { LeaseEvents.WithLabelValues("release", "error").Inc() }

// Trigger helpers.
func TriggerPrice()   { TriggerFired.WithLabelValues("price").Inc() }
func TriggerComplex() { TriggerFired.WithLabelValues("complex").Inc() }
func TriggerKlines()  { TriggerFired.WithLabelValues("klines").Inc() }

// Complex cache helpers.
func ComplexCacheRefreshSuccess() { ComplexCacheRefresh.WithLabelValues("success").Inc() }
func ComplexCacheRefreshError()   { ComplexCacheRefresh.WithLabelValues("error").Inc() }

// Klines sweep helpers.
func KlinesSweepStart() { KlinesSweep.WithLabelValues("start").Inc() }
func KlinesSweepDone()  { KlinesSweep.WithLabelValues("done").Inc() }
func KlinesSweepError() { KlinesSweep.WithLabelValues("error").Inc() }

// InvalidAlertSkipped counts one alert skipped at cache refresh for the
// given reason (e.g. "non_finite_threshold", "unknown_timeframe",
// "invalid_symbol").
func InvalidAlertSkipped(reason string) { InvalidAlertData.WithLabelValues(reason).Inc() }
