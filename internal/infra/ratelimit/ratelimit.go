// Package ratelimit — скользящее окно запросов на пользователя для AI-команд.
// Лимит действует на каждого принципала, включая владельца: квоты провайдера
// общие, и любая активность их расходует.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter хранит по каждому пользователю временные метки недавних запросов.
//
// Память ограничена: корзины без активности дольше 2×window лениво вычищаются
// при каждом обращении.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[int64][]time.Time
	now     func() time.Time

	lastSweep time.Time
}

// New создаёт лимитер: не более max запросов в скользящем окне window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		window:  window,
		buckets: make(map[int64][]time.Time),
		now:     time.Now,
	}
}

// SetNowFunc подменяет источник времени. Используется в тестах.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// CheckAndConsume проверяет и учитывает запрос пользователя principalID.
// Возвращает (допущен ли запрос, сколько запросов осталось в окне, через
// сколько освободится слот при отказе).
func (l *Limiter) CheckAndConsume(principalID int64) (allowed bool, remaining int, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	bucket := l.pruneLocked(principalID, now)
	if len(bucket) >= l.max {
		// Слот освободится, когда самая старая метка выйдет из окна.
		retryAfter = bucket[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.buckets[principalID] = bucket
		return false, 0, retryAfter
	}

	bucket = append(bucket, now)
	l.buckets[principalID] = bucket
	return true, l.max - len(bucket), 0
}

// Peek возвращает текущее число запросов пользователя в окне, не потребляя слот.
func (l *Limiter) Peek(principalID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.pruneLocked(principalID, l.now())
	l.buckets[principalID] = bucket
	return len(bucket)
}

// pruneLocked убирает метки старше окна и возвращает живой хвост корзины.
func (l *Limiter) pruneLocked(principalID int64, now time.Time) []time.Time {
	bucket := l.buckets[principalID]
	cutoff := now.Add(-l.window)
	start := 0
	for start < len(bucket) && !bucket[start].After(cutoff) {
		start++
	}
	return bucket[start:]
}

// sweepLocked раз в окно выкидывает корзины, чья последняя активность старше
// 2×window. Ленивая зачистка вместо фонового тикера: обращений достаточно много.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-2 * l.window)
	for id, bucket := range l.buckets {
		if len(bucket) == 0 || bucket[len(bucket)-1].Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
