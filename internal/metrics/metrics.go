// Package metrics exposes a node's query counters to Prometheus and serves
// a small admin API next to them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rudransh-shrivastava/peer-seek/internal/node"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
)

const Namespace = "peerseek"

// Source is the part of a node the admin surface reads.
type Source interface {
	Stats() node.StatsSnapshot
	Neighbors() []peer.Identity
	ResetStats()
}

type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// New registers collectors that read src on every scrape, so the exported
// values always agree with #STAT.
func New(src Source) *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "admin_requests_total",
		Help:      "Admin HTTP requests by route and status.",
	}, []string{"route", "method", "status"})

	registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_received_total",
			Help:      "Search requests received from other nodes.",
		}, func() float64 { return float64(src.Stats().Received) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_forwarded_total",
			Help:      "Search requests forwarded to neighbors.",
		}, func() float64 { return float64(src.Stats().Forwarded) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_answered_total",
			Help:      "Search requests answered from the local catalog.",
		}, func() float64 { return float64(src.Stats().Answered) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "neighbors",
			Help:      "Current size of the neighbor table.",
		}, func() float64 { return float64(len(src.Neighbors())) }),
		requests,
	)

	return &Metrics{registry: registry, requests: requests}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests under route.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			m.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
