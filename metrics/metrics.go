// Package metrics exposes Prometheus counters and histograms for period
// closes, report builds and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "bilan_"

	ResultSuccess = "success"
	ResultError   = "error"
)

// Report kinds for ObserveBuild.
const (
	ReportFinancier     = "financier"
	ReportServicesFaits = "services_faits"
)

var (
	registerOnce sync.Once

	closeTotal     *prometheus.CounterVec
	closeLatency   *prometheus.HistogramVec
	pinnedTotal    prometheus.Counter
	buildTotal     *prometheus.CounterVec
	buildLatency   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	integrityFails prometheus.Counter
	overdueOpen    prometheus.Gauge
)

// Init registers the metrics with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		closeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_close_total",
				Help: "Period closes by result",
			},
			[]string{"result"},
		)
		closeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "period_close_latency_seconds",
				Help:    "Period close latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		pinnedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "activities_pinned_total",
				Help: "Scheduled activities pinned by period closes",
			},
		)
		buildTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_build_total",
				Help: "Report builds by report and result",
			},
			[]string{"report", "result"},
		)
		buildLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_build_latency_seconds",
				Help:    "Report build latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report", "result"},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
		integrityFails = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "data_integrity_errors_total",
				Help: "Data integrity violations surfaced to callers",
			},
		)
		overdueOpen = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "periods_overdue",
				Help: "Open periods whose deadline has passed",
			},
		)

		prometheus.MustRegister(
			closeTotal,
			closeLatency,
			pinnedTotal,
			buildTotal,
			buildLatency,
			httpRequests,
			httpLatency,
			integrityFails,
			overdueOpen,
		)
	})
}

// ObserveClose records a period close and how many activities it pinned.
func ObserveClose(result string, pinned int, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if closeTotal != nil {
		closeTotal.WithLabelValues(result).Inc()
	}
	if closeLatency != nil {
		closeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if pinnedTotal != nil && pinned > 0 {
		pinnedTotal.Add(float64(pinned))
	}
}

// ObserveBuild records a report build.
func ObserveBuild(report, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if buildTotal != nil {
		buildTotal.WithLabelValues(report, result).Inc()
	}
	if buildLatency != nil {
		buildLatency.WithLabelValues(report, result).Observe(duration.Seconds())
	}
}

// ObserveHTTP records one request. route is the chi route pattern, never
// the raw path.
func ObserveHTTP(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// IncIntegrityError counts a fatal data integrity error.
func IncIntegrityError() {
	if integrityFails != nil {
		integrityFails.Inc()
	}
}

// SetOverduePeriods publishes the number of open periods past their deadline.
func SetOverduePeriods(n int) {
	if overdueOpen != nil {
		overdueOpen.Set(float64(n))
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
