// Package metrics exposes Prometheus collectors for the crawler.
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
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchRetriesTotal      prometheus.Counter
	itemsTotal             *prometheus.CounterVec
	listingPagesTotal      *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesdb_fetch_attempts_total",
				Help: "Fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gamesdb_fetch_retries_total",
				Help: "Fetch attempts that were retried after a transient failure.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesdb_items_total",
				Help: "Work items processed, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)

		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesdb_listing_pages_total",
				Help: "Listing pages walked, labeled by target.",
			},
			[]string{"target"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gamesdb_active_workers",
				Help: "Number of pool workers currently executing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gamesdb_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesdb_http_requests_total",
				Help: "Requests served by the status endpoint, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(rawURL, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveRetry counts one retried attempt.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveItem counts a processed work item.
func ObserveItem(target, outcome string) {
	Init()
	itemsTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveListingPage counts a walked listing page.
func ObserveListingPage(target string) {
	Init()
	listingPagesTotal.WithLabelValues(target).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest counts a request served by the status endpoint.
func ObserveHTTPRequest(method, route string, code int) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
