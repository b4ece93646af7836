// Package metrics exposes Prometheus collectors for the listing tracker.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerAuditOutcomesTotal     *prometheus.CounterVec
	crawlerOfferVersionsTotal     *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerGeocodeTotal           *prometheus.CounterVec
	crawlerNotificationsTotal     *prometheus.CounterVec
	crawlerImagesTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of fetches, labeled by site, page class and status class.",
			},
			[]string{"site", "class", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerAuditOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_audit_outcomes_total",
				Help: "Total number of audit transitions, labeled by resulting state.",
			},
			[]string{"state"},
		)

		crawlerOfferVersionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_offer_versions_total",
				Help: "Total number of offer versions written, labeled by entity.",
			},
			[]string{"entity"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of finished runs, labeled by entity and result.",
			},
			[]string{"entity", "result"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a resource.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations, labeled by page class.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"class"},
		)

		crawlerGeocodeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_geocode_total",
				Help: "Total number of reverse geocoding attempts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_notifications_total",
				Help: "Total number of notifications, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		crawlerImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_images_total",
				Help: "Total number of offer image downloads, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status into "2xx".."5xx", or "error" for a
// transport failure.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch of a listing or detail page.
func ObserveFetch(site, class string, statusCode, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, class, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAuditOutcome counts an audit row reaching state.
func ObserveAuditOutcome(state string) {
	crawlerAuditOutcomesTotal.WithLabelValues(state).Inc()
}

// ObserveOfferVersion counts a written offer version.
func ObserveOfferVersion(entity string) {
	crawlerOfferVersionsTotal.WithLabelValues(entity).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(entity string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	crawlerRunsTotal.WithLabelValues(entity, result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(class string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(class).Observe(duration.Seconds())
}

// ObserveGeocode counts a reverse geocoding attempt.
func ObserveGeocode(result string) {
	crawlerGeocodeTotal.WithLabelValues(result).Inc()
}

// ObserveImage counts an offer image download.
func ObserveImage(result string) {
	crawlerImagesTotal.WithLabelValues(result).Inc()
}

// ObserveNotification counts a delivered or failed notification.
func ObserveNotification(backend string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	crawlerNotificationsTotal.WithLabelValues(backend, result).Inc()
}
