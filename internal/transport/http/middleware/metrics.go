package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RequestObserver — приёмник HTTP-метрик (metrics.HTTP).
type RequestObserver interface {
	ObserveRequest(method, route string, status int, dur time.Duration)
}

// Metrics фиксирует каждый запрос по шаблону маршрута chi, чтобы
// id в пути не раздували кардинальность.
func Metrics(obs RequestObserver) Middleware {
	return func(next http.Handler) http.Handler {
		if obs == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()

			next.ServeHTTP(sw, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			obs.ObserveRequest(r.Method, route, sw.Status(), time.Since(start))
		})
	}
}
