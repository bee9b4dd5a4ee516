package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	gatewayDurationHistogram *prometheus.HistogramVec
	shiftEventCounter        *prometheus.CounterVec
	reconciliationGapCounter *prometheus.CounterVec
	openReconciliationGauge  prometheus.Gauge
	priceCacheCounter        *prometheus.CounterVec
	idempotencyCounter       *prometheus.CounterVec
	workerRunCounter         *prometheus.CounterVec
	sessionEndCancelCounter  *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		gatewayDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Swap provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"})

		shiftEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shift_lifecycle_events_total",
			Help: "Shift lifecycle events by kind",
		}, []string{"event"})

		reconciliationGapCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shift_reconciliation_gaps_total",
			Help: "Provider-side effects that could not be mirrored locally",
		}, []string{"kind"})

		openReconciliationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shift_reconciliation_gaps_open",
			Help: "Current number of unresolved reconciliation gaps",
		})

		priceCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_cache_lookups_total",
			Help: "Price and coin cache lookups by result",
		}, []string{"result"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		sessionEndCancelCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shift_session_end_cancels_total",
			Help: "Cancel-on-session-end attempts by result",
		}, []string{"result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			gatewayDurationHistogram,
			shiftEventCounter,
			reconciliationGapCounter,
			openReconciliationGauge,
			priceCacheCounter,
			idempotencyCounter,
			workerRunCounter,
			sessionEndCancelCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func ObserveGatewayRequest(op, outcome string, duration time.Duration) {
	if gatewayDurationHistogram == nil {
		return
	}
	gatewayDurationHistogram.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

func IncrementShiftEvent(event string) {
	if shiftEventCounter == nil {
		return
	}
	shiftEventCounter.WithLabelValues(event).Inc()
}

func IncrementReconciliationGap(kind string) {
	if reconciliationGapCounter == nil {
		return
	}
	reconciliationGapCounter.WithLabelValues(kind).Inc()
}

func SetOpenReconciliationGaps(count int64) {
	if openReconciliationGauge == nil {
		return
	}
	openReconciliationGauge.Set(float64(count))
}

func IncrementPriceCache(result string) {
	if priceCacheCounter == nil {
		return
	}
	priceCacheCounter.WithLabelValues(result).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementSessionEndCancel(result string) {
	if sessionEndCancelCounter == nil {
		return
	}
	sessionEndCancelCounter.WithLabelValues(result).Inc()
}
