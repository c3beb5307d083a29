// metrics — prometheus-метрики users-service.
//
// Auth считает исходы операций сервиса (реализует service.Observer),
// HTTP — запросы и их длительность по шаблону маршрута chi.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "users"

// Auth — счётчики операций аутентификации.
type Auth struct {
	ops    *prometheus.CounterVec
	reused prometheus.Counter
}

// NewAuth регистрирует счётчики в reg.
func NewAuth(reg prometheus.Registerer) *Auth {
	a := &Auth{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by outcome (ok, rejected, reused, error).",
		}, []string{"op", "outcome"}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_token_reuse_total",
			Help:      "Refresh attempts with a token that no longer matches the stored one.",
		}),
	}
	reg.MustRegister(a.ops, a.reused)

	return a
}

// Observe реализует service.Observer.
func (a *Auth) Observe(op, outcome string) {
	a.ops.WithLabelValues(op, outcome).Inc()
	if outcome == "reused" {
		a.reused.Inc()
	}
}

// HTTP — метрики транспортного слоя.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP регистрирует метрики в reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(h.requests, h.duration)

	return h
}

// ObserveRequest фиксирует завершённый запрос. route — шаблон маршрута
// (например, "/api/v1/users/login"), а не сырой путь.
func (h *HTTP) ObserveRequest(method, route string, status int, dur time.Duration) {
	if route == "" {
		route = "unmatched"
	}

	h.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	h.duration.WithLabelValues(method, route).Observe(dur.Seconds())
}
