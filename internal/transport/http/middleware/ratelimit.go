package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pribylovaa/go-video-platform/internal/pkg/log"
	"github.com/pribylovaa/go-video-platform/internal/ratelimit"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

// RateLimit ограничивает число запросов с одного ключа (по умолчанию IP) за окно.
// Ключ дополняется путём запроса, так что login и refresh считаются раздельно.
// Ошибка бэкенда лимитера логируется, запрос пропускается.
func RateLimit(l ratelimit.Limiter, limit int, window time.Duration, keyFn func(*http.Request) string) Middleware {
	if keyFn == nil {
		keyFn = ClientIP
	}

	return func(next http.Handler) http.Handler {
		if l == nil || limit <= 0 || window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := l.Allow(r.Context(), r.URL.Path+"|"+key, limit, window)
			if err != nil {
				log.From(r.Context()).Warn("rate_limiter_unavailable", slog.String("err", err.Error()))
			}

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Round(time.Second).Seconds())))
				response.WriteError(w, r, response.ErrTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP — хост RemoteAddr. Заголовки прокси не учитываются: их задаёт клиент.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// TrustedClientIP строит ключ лимитера с учётом обратных прокси.
//
// Если соединение пришло не с адреса из trusted, используется ClientIP.
// Иначе X-Forwarded-For читается справа налево и берётся первый адрес вне
// trusted (левые записи подставляет клиент); без X-Forwarded-For берётся X-Real-Ip.
// Неразбираемая запись обрывает разбор: ключом остаётся последний проверенный адрес.
func TrustedClientIP(trusted []netip.Prefix) func(*http.Request) string {
	if len(trusted) == 0 {
		return ClientIP
	}

	isTrusted := func(a netip.Addr) bool {
		for _, p := range trusted {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := ClientIP(r)
		addr, err := netip.ParseAddr(peer)
		if err != nil || !isTrusted(addr.Unmap()) {
			return peer
		}

		if fwd := r.Header.Values("X-Forwarded-For"); len(fwd) > 0 {
			hops := strings.Split(strings.Join(fwd, ","), ",")
			client := addr.Unmap()
			for i := len(hops) - 1; i >= 0; i-- {
				hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
				if err != nil {
					break
				}
				client = hop.Unmap()
				if !isTrusted(client) {
					break
				}
			}
			return client.String()
		}

		if xr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
			return xr.Unmap().String()
		}

		return peer
	}
}
