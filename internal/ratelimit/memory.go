package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneInterval — как часто Memory вычищает истёкшие окна.
const pruneInterval = time.Minute

type bucket struct {
	count     int
	windowEnd time.Time
}

// Memory — счётчики в памяти процесса. Безопасен для конкурентного использования.
type Memory struct {
	mu      sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	nextPrune time.Time
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*bucket), now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if bypass(key, limit, window) {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		if !now.Before(m.nextPrune) {
			m.prune(now)
			m.nextPrune = now.Add(pruneInterval)
		}
		m.buckets[key] = &bucket{count: 1, windowEnd: now.Add(window)}
		return true, nil
	}

	if b.count >= limit {
		return false, nil
	}
	b.count++

	return true, nil
}

// prune удаляет истёкшие окна, чтобы карта не росла бесконечно.
// Вызывается не чаще раза в pruneInterval, поэтому Allow в среднем O(1).
func (m *Memory) prune(now time.Time) {
	for k, b := range m.buckets {
		if !now.Before(b.windowEnd) {
			delete(m.buckets, k)
		}
	}
}
