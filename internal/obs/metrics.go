package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasmusic_downloads_total",
			Help: "Download attempts by terminal status.",
		},
		[]string{"status"},
	)

	downloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nasmusic_download_duration_seconds",
			Help:    "Wall time of a download attempt including transcoding.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"status"},
	)

	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nasmusic_audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nasmusic_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nasmusic_build_info",
			Help: "Running version and commit, always 1.",
		},
		[]string{"version", "commit"},
	)

	sweepRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasmusic_sweep_rows_total",
			Help: "Rows handled by the maintenance sweeper.",
		},
		[]string{"kind"},
	)
)

// Init registers all collectors in the default registry. Safe to call repeatedly.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			downloadsTotal, downloadDuration, auditFailures, sweepRemoved, readyGauge, buildInfo,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDownload records the outcome of one download attempt.
func ObserveDownload(status string, d time.Duration) {
	downloadsTotal.WithLabelValues(status).Inc()
	downloadDuration.WithLabelValues(status).Observe(d.Seconds())
}

// IncAuditFailure counts an audit append that failed.
func IncAuditFailure() {
	auditFailures.Inc()
}

// SetBuildInfo replaces the build_info series with one for version and commit.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetReady publishes the latest readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// AddSwept counts rows pruned or reconciled by the sweeper.
func AddSwept(kind string, n int64) {
	if n > 0 {
		sweepRemoved.WithLabelValues(kind).Add(float64(n))
	}
}

// Instrument wraps next with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses numeric resource ids so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
