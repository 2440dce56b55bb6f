package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the terminal's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	syncEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kasirsync",
			Subsystem: "sync",
			Name:      "entries_total",
			Help:      "Pending entries processed by the sync engine, by result.",
		},
		[]string{"result"},
	)

	syncRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kasirsync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kasirsync",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending sales waiting to be pushed, per store.",
		},
		[]string{"store"},
	)

	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kasirsync",
			Subsystem: "scan",
			Name:      "total",
			Help:      "Scanned codes by source and result.",
		},
		[]string{"source", "result"},
	)

	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kasirsync",
			Subsystem: "checkout",
			Name:      "commits_total",
			Help:      "Committed carts by commit path.",
		},
		[]string{"mode"},
	)

	remoteOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kasirsync",
			Subsystem: "remote",
			Name:      "online",
			Help:      "1 when the system of record is reachable.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kasirsync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Local API requests handled.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		syncEntries,
		syncRuns,
		queueDepth,
		scans,
		commits,
		remoteOnline,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSyncEntry(result string) {
	syncEntries.WithLabelValues(result).Inc()
}

func RecordSyncRun(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	syncRuns.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetQueueDepth(storeID string, depth int) {
	queueDepth.WithLabelValues(storeID).Set(float64(depth))
}

func RecordScan(source string, result string) {
	if source == "" {
		source = "unknown"
	}
	scans.WithLabelValues(source, result).Inc()
}

func RecordCommit(mode string) {
	commits.WithLabelValues(mode).Inc()
}

func SetOnline(online bool) {
	if online {
		remoteOnline.Set(1)
		return
	}
	remoteOnline.Set(0)
}

// InstrumentHandler counts local API requests.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), canonicalPath(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath drops ids so they do not explode label cardinality:
// /api/v1/carts/abc/scan becomes /api/v1/carts.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" && len(parts) >= 3 {
		return "/" + strings.Join(parts[:3], "/")
	}
	return "/" + parts[0]
}
