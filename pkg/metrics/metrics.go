// Package metrics exports vault activity to Prometheus. Collector is an
// events.Sink, so it sees exactly the events the engines commit.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/vault"
)

// Collector holds the vault metrics on a private registry.
type Collector struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Event metrics
	events    *prometheus.CounterVec
	deposited *prometheus.CounterVec
	withdrawn *prometheus.CounterVec
	fees      *prometheus.CounterVec
	migrated  *prometheus.CounterVec

	// State metrics
	roundID     *prometheus.GaugeVec
	processing  *prometheus.GaugeVec
	sharePrice  *prometheus.GaugeVec
	queueSize   *prometheus.GaugeVec
	idleAssets  *prometheus.GaugeVec
	totalAssets *prometheus.GaugeVec
	totalSupply *prometheus.GaugeVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates and registers the collector's metrics.
func New(namespace string) *Collector {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()
	vaultLabel := []string{"vault"}

	m := &Collector{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed vault events by kind",
		}, []string{"vault", "kind"}),

		deposited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposited_assets_total",
			Help:      "Assets queued for conversion, in base units",
		}, vaultLabel),

		withdrawn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_assets_total",
			Help:      "Net assets paid out to receivers, in base units",
		}, vaultLabel),

		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_fees_total",
			Help:      "Withdrawal fees charged, in base units",
		}, vaultLabel),

		migrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrated_assets_total",
			Help:      "Assets moved out to other vaults, in base units",
		}, vaultLabel),

		roundID: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_id",
			Help:      "Current round number",
		}, vaultLabel),

		processing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_processing",
			Help:      "1 while the round is processing deposits",
		}, vaultLabel),

		sharePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "share_price",
			Help:      "Backing assets per share",
		}, vaultLabel),

		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deposit_queue_size",
			Help:      "Owners with a queued deposit",
		}, vaultLabel),

		idleAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_assets",
			Help:      "Queued, unconverted assets in base units",
		}, vaultLabel),

		totalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_assets",
			Help:      "Assets held by the vault and its strategy in base units",
		}, vaultLabel),

		totalSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_supply",
			Help:      "Outstanding shares",
		}, vaultLabel),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.events,
		m.deposited,
		m.withdrawn,
		m.fees,
		m.migrated,
		m.roundID,
		m.processing,
		m.sharePrice,
		m.queueSize,
		m.idleAssets,
		m.totalAssets,
		m.totalSupply,
		m.memoryUsage,
		m.goroutines,
	)
	return m
}

func (m *Collector) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done.
func (m *Collector) StartServer(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("Prometheus metrics available", "endpoint", "http://"+addr+"/metrics")
	return srv
}

// Publish counts a committed event.
func (m *Collector) Publish(e events.Event) {
	v := e.Source().Hex()
	m.events.WithLabelValues(v, string(e.Kind())).Inc()

	switch ev := e.(type) {
	case events.Deposited:
		m.deposited.WithLabelValues(v).Add(toFloat(ev.Assets))
	case events.Withdrawn:
		m.withdrawn.WithLabelValues(v).Add(toFloat(ev.Assets))
		m.fees.WithLabelValues(v).Add(toFloat(ev.Fee))
	case events.Migrated:
		m.migrated.WithLabelValues(v).Add(toFloat(ev.Assets))
	case events.StartRound:
		m.roundID.WithLabelValues(v).Set(float64(ev.RoundID))
		m.processing.WithLabelValues(v).Set(0)
	case events.EndRound:
		m.processing.WithLabelValues(v).Set(1)
	case events.SharePrice:
		m.sharePrice.WithLabelValues(v).Set(vault.PriceDecimal(ev.EndPrice).InexactFloat64())
	}
}

// Observe refreshes the state gauges from e. The caller must hold whatever
// lock serializes access to e.
func (m *Collector) Observe(e *vault.Engine) {
	v := e.Address().Hex()
	r := e.Round()
	m.roundID.WithLabelValues(v).Set(float64(r.ID))
	if r.State == vault.Processing {
		m.processing.WithLabelValues(v).Set(1)
	} else {
		m.processing.WithLabelValues(v).Set(0)
	}
	if p, err := e.SharePrice(); err == nil {
		m.sharePrice.WithLabelValues(v).Set(vault.PriceDecimal(p).InexactFloat64())
	}
	m.queueSize.WithLabelValues(v).Set(float64(e.DepositQueueSize()))
	m.idleAssets.WithLabelValues(v).Set(toFloat(e.TotalIdleAssets()))
	m.totalAssets.WithLabelValues(v).Set(toFloat(e.TotalAssets()))
	m.totalSupply.WithLabelValues(v).Set(toFloat(e.TotalSupply()))
}

// CollectSystemMetrics samples runtime stats every interval until ctx is done.
func (m *Collector) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

func toFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	return decimal.NewFromBigInt(x.ToBig(), 0).InexactFloat64()
}
