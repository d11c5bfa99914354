// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry rather than the global default one.
type Metrics struct {
	registry    *prometheus.Registry
	reqTotal    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	autosaves   *prometheus.CounterVec
	publishes   *prometheus.CounterVec
	siteCache   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "helppages", Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "route", "status"},
		),
		reqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "helppages",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		autosaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "helppages", Name: "autosaves_total", Help: "Autosave requests by outcome"},
			[]string{"outcome"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "helppages", Name: "publishes_total", Help: "Publish operations by kind"},
			[]string{"kind"},
		),
		siteCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "helppages", Name: "site_cache_total", Help: "Public site cache lookups by result"},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reqTotal,
		m.reqDuration,
		m.autosaves,
		m.publishes,
		m.siteCache,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route := NormalizeRoute(path)
	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.reqDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Autosave(outcome string) {
	if m == nil {
		return
	}
	m.autosaves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Publish(kind string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(kind).Inc()
}

func (m *Metrics) SiteCache(result string) {
	if m == nil {
		return
	}
	m.siteCache.WithLabelValues(result).Inc()
}

var (
	idSegment     = regexp.MustCompile(`^([a-z]+_)?[0-9a-f]{16,}$|^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$|^[0-9]+$`)
	routeSegments = 6
)

// NormalizeRoute replaces identifiers with ":id" and collapses public site
// paths so label cardinality stays bounded.
func NormalizeRoute(path string) string {
	if strings.HasPrefix(path, "/_site/") {
		return "/_site/:doc/*"
	}
	if strings.HasPrefix(path, "/s/") {
		return "/s/:doc/*"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > routeSegments {
		parts = parts[:routeSegments]
	}
	for i, part := range parts {
		if idSegment.MatchString(strings.ToLower(part)) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
