// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the application metrics: request
// counts and latency per route, plus counters for the card quota and
// QR encodes that a dashboard for this app actually cares about.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cardsCreated     prometheus.Counter
	cardsDeleted     prometheus.Counter
	cardsRejected    *prometheus.CounterVec
	qrEncodes        prometheus.Counter
	signups          prometheus.Counter
	emailsConfirmed  prometheus.Counter
	activeSessions   prometheus.GaugeFunc
	sessionCountFunc func() float64
}

// NewCollector builds a Collector with its own registry, so tests can
// create as many as they want without duplicate-registration panics.
// sessionCount feeds the live-session gauge; nil means report zero.
func NewCollector(sessionCount func() float64) *Collector {
	if sessionCount == nil {
		sessionCount = func() float64 { return 0 }
	}

	c := &Collector{
		registry:         prometheus.NewRegistry(),
		sessionCountFunc: sessionCount,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wificards_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wificards_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cardsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wificards_cards_created_total",
			Help: "Cards saved successfully.",
		}),
		cardsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wificards_cards_deleted_total",
			Help: "Cards deleted.",
		}),
		cardsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wificards_cards_rejected_total",
			Help: "Card saves rejected, by reason.",
		}, []string{"reason"}),
		qrEncodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wificards_qr_encodes_total",
			Help: "QR images encoded, previews included.",
		}),
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wificards_signups_total",
			Help: "Accounts created.",
		}),
		emailsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wificards_emails_confirmed_total",
			Help: "Email addresses confirmed.",
		}),
	}
	c.activeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wificards_active_sessions",
		Help: "Device sessions currently held in memory.",
	}, c.sessionCountFunc)

	c.registry.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.cardsCreated,
		c.cardsDeleted,
		c.cardsRejected,
		c.qrEncodes,
		c.signups,
		c.emailsConfirmed,
		c.activeSessions,
	)
	return c
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed HTTP request. route is the chi
// route pattern ("/api/cards/{id}"), not the raw path, keeping the
// label cardinality bounded.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordCardCreated() { c.cardsCreated.Inc() }

func (c *Collector) RecordCardDeleted() { c.cardsDeleted.Inc() }

func (c *Collector) RecordCardRejected(reason string) { c.cardsRejected.WithLabelValues(reason).Inc() }

func (c *Collector) RecordQREncode() { c.qrEncodes.Inc() }

func (c *Collector) RecordSignup() { c.signups.Inc() }

func (c *Collector) RecordEmailConfirmed() { c.emailsConfirmed.Inc() }

// Middleware instruments every request with the route pattern resolved
// after routing, so parameterized routes collapse into one series.
func (c *Collector) Middleware(routePattern func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := routePattern(r)
			if route == "" {
				route = "unmatched"
			}
			c.RecordRequest(r.Method, route, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
