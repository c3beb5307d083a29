// ratelimit ограничивает частоту запросов фиксированным окном.
//
// Redis-реализация разделяет счётчики между репликами сервиса;
// Memory используется, когда Redis не сконфигурирован (и в тестах).
package ratelimit

import (
	"context"
	"time"
)

// Limiter решает, пропускать ли очередной запрос с ключом key.
// При ошибке бэкенда реализация возвращает allowed=true вместе с ошибкой:
// недоступный Redis не должен блокировать вход.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// bypass сообщает, что ограничение не применяется.
func bypass(key string, limit int, window time.Duration) bool {
	return key == "" || limit <= 0 || window <= 0
}
