// Package metrics exposes Prometheus counters for the forum surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create as many instances
// as they like without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	postsCreated    prometheus.Counter
	votesToggled    prometheus.Counter
	commentsCreated prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_posts_created_total",
			Help: "Number of posts created.",
		}),
		votesToggled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_votes_toggled_total",
			Help: "Number of vote toggles applied.",
		}),
		commentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_comments_created_total",
			Help: "Number of comments created.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campushub_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.postsCreated,
		m.votesToggled,
		m.commentsCreated,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) PostCreated()    { m.postsCreated.Inc() }
func (m *Metrics) VoteToggled()    { m.votesToggled.Inc() }
func (m *Metrics) CommentCreated() { m.commentsCreated.Inc() }

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
