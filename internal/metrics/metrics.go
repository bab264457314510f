package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Block tally metrics
	PendingBlocksDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestion_pending_blocks_depth",
			Help: "Current length of PendingChainBlocks for a chain",
		},
		[]string{"chain"},
	)

	BlocksAdvanced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_blocks_advanced_total",
			Help: "Total number of blocks that reached quorum support and advanced LastProcessedBlock",
		},
		[]string{"chain"},
	)

	BlocksPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_blocks_purged_total",
			Help: "Total number of pending blocks purged due to quorum dissent",
		},
		[]string{"chain"},
	)

	// Reorg metrics
	ReorgsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_reorgs_applied_total",
			Help: "Total number of reorgs that reached quorum support and were applied",
		},
		[]string{"chain"},
	)

	ReorgFormulationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_reorg_formulation_duration_seconds",
			Help:    "Time taken to formulate a reorg (walk to common ancestor)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	ReorgFormulationIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_reorg_formulation_iterations",
			Help:    "Number of backward-walk iterations a reorg formulation required",
			Buckets: prometheus.LinearBuckets(1, 4, 10),
		},
		[]string{"chain"},
	)

	// Ingression queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestion_queue_depth",
			Help: "Current length of the ingression queue for a chain",
		},
		[]string{"chain"},
	)

	EventsIngressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_ingressed_total",
			Help: "Total number of events admitted by an ingress_queue round",
		},
		[]string{"chain", "kind", "outcome"},
	)

	IngressedUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_ingressed_usd_total",
			Help: "Total risk-adjusted USD value admitted by ingress_queue rounds",
		},
		[]string{"chain"},
	)

	// Worker metrics
	WorkerBusyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_worker_busy_total",
			Help: "Total number of worker ticks that found the named mutex unavailable",
		},
		[]string{"chain"},
	)

	WorkerTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_worker_tick_duration_seconds",
			Help:    "Duration of a single worker observation tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestion_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestion_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestion_goroutines",
			Help: "Number of active goroutines",
		},
	)

	startTime = time.Now()
)

// PendingBlocksDepthSet records the current PendingChainBlocks length.
func PendingBlocksDepthSet(chain string, depth int) {
	PendingBlocksDepth.WithLabelValues(chain).Set(float64(depth))
}

// BlocksAdvancedInc records a block reaching quorum support.
func BlocksAdvancedInc(chain string) {
	BlocksAdvanced.WithLabelValues(chain).Inc()
}

// BlocksPurgedInc records a pending-block purge on quorum dissent.
func BlocksPurgedInc(chain string, count int) {
	BlocksPurged.WithLabelValues(chain).Add(float64(count))
}

// ReorgsAppliedInc records a reorg reaching quorum support.
func ReorgsAppliedInc(chain string) {
	ReorgsApplied.WithLabelValues(chain).Inc()
}

// ReorgFormulationObserve records one formulate_reorg invocation.
func ReorgFormulationObserve(chain string, duration time.Duration, iterations int) {
	ReorgFormulationDuration.WithLabelValues(chain).Observe(duration.Seconds())
	ReorgFormulationIterations.WithLabelValues(chain).Observe(float64(iterations))
}

// QueueDepthSet records the current ingression queue length.
func QueueDepthSet(chain string, depth int) {
	QueueDepth.WithLabelValues(chain).Set(float64(depth))
}

// EventIngressedInc records one event's terminal outcome in an ingress round.
func EventIngressedInc(chain, kind, outcome string) {
	EventsIngressed.WithLabelValues(chain, kind, outcome).Inc()
}

// IngressedUSDAdd records USD admitted in an ingress round.
func IngressedUSDAdd(chain string, usd uint64) {
	IngressedUSD.WithLabelValues(chain).Add(float64(usd))
}

// WorkerBusyInc records a worker tick that could not acquire the named mutex.
func WorkerBusyInc(chain string) {
	WorkerBusyTotal.WithLabelValues(chain).Inc()
}

// WorkerTickObserve records the duration of one worker tick.
func WorkerTickObserve(chain string, duration time.Duration) {
	WorkerTickDuration.WithLabelValues(chain).Observe(duration.Seconds())
}

// ComponentHealthSet records whether component is currently healthy.
func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}
	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// ErrorsInc records an error against a component at a given severity.
func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))
}
