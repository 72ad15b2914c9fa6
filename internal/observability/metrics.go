package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgestream"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	flowCredits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "credits",
			Help:      "Credits currently available for transmission.",
		},
	)
	flowPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "pending_frames",
			Help:      "Sent frames awaiting correlation.",
		},
	)
	flowReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "reclaimed_credits_total",
			Help:      "Credits returned to the ledger, by kind (ack, sweep, abort).",
		},
		[]string{"kind"},
	)
	flowDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "stale_results_total",
			Help:      "Results at or below the watermark that granted no credit.",
		},
	)
	streamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Captured frames by send-loop outcome (sent, denied).",
		},
		[]string{"outcome"},
	)
	streamResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "results_total",
			Help:      "Results received from the server.",
		},
		[]string{"engine", "status", "superseded"},
	)
	streamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "result_latency_seconds",
			Help:      "Capture-to-result latency for correlated frames.",
			Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, .75, 1, 2, 5},
		},
		[]string{"engine"},
	)
	clockRTT = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "rtt_seconds",
			Help:      "Round trip of the retained clock sync sample.",
		},
		[]string{"phase"},
	)
	clockOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "offset_seconds",
			Help:      "Estimated server minus client clock offset.",
		},
		[]string{"phase"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			flowCredits, flowPending, flowReclaimed, flowDuplicates,
			streamFrames, streamResults, streamLatency,
			clockRTT, clockOffset,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func SetLedger(credits int64, pending int) {
	RegisterMetrics()
	flowCredits.Set(float64(credits))
	flowPending.Set(float64(pending))
}

func RecordReclaimed(kind string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	flowReclaimed.WithLabelValues(kind).Add(float64(n))
}

func RecordStaleResult() {
	RegisterMetrics()
	flowDuplicates.Inc()
}

func RecordFrame(outcome string) {
	RegisterMetrics()
	streamFrames.WithLabelValues(outcome).Inc()
}

func RecordResult(engine, status string, superseded bool, latency time.Duration) {
	RegisterMetrics()
	streamResults.WithLabelValues(engine, status, strconv.FormatBool(superseded)).Inc()
	if latency > 0 {
		streamLatency.WithLabelValues(engine).Observe(latency.Seconds())
	}
}

func RecordClockSync(phase string, rtt, offset time.Duration) {
	RegisterMetrics()
	clockRTT.WithLabelValues(phase).Set(rtt.Seconds())
	clockOffset.WithLabelValues(phase).Set(offset.Seconds())
}
