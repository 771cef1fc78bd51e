// Package chatlock — взаимное исключение анализов по чатам. На один чат
// допускается не более одного анализа истории одновременно; второй запрос
// отклоняется сразу, без очереди. Фоновый reaper снимает зависшие записи.
package chatlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sakaibot/internal/infra/logger"
)

const (
	// defaultTimeout — возраст записи, после которого она считается зависшей.
	defaultTimeout = 5 * time.Minute
	// defaultCleanupInterval — период фоновой зачистки.
	defaultCleanupInterval = time.Minute
)

// entry — активный анализ в чате.
type entry struct {
	userID    int64
	kind      string
	startedAt time.Time
}

// Registry хранит по одной записи на чат. Reaper и все операции ходят под
// одним мьютексом.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]entry

	timeout         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option настраивает Registry при создании.
type Option func(*Registry)

// WithTimeout меняет порог зависания записи.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithCleanupInterval меняет период зачистки.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) { r.cleanupInterval = d }
}

// WithNow подменяет источник времени. Используется в тестах.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New создаёт реестр чат-блокировок.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:         make(map[int64]entry),
		timeout:         defaultTimeout,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryBegin пытается начать анализ в чате. Возвращает admitted=false и причину
// для пользователя, если в чате уже идёт анализ.
func (r *Registry) TryBegin(chatID, userID int64, kind string) (admitted bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, busy := r.entries[chatID]; busy {
		return false, fmt.Sprintf("в этом чате уже выполняется анализ (%s), подождите завершения", cur.kind)
	}
	r.entries[chatID] = entry{userID: userID, kind: kind, startedAt: r.now()}
	return true, ""
}

// End снимает блокировку чата и логирует длительность анализа.
func (r *Registry) End(chatID int64, outcome string) {
	r.mu.Lock()
	cur, ok := r.entries[chatID]
	delete(r.entries, chatID)
	r.mu.Unlock()

	if ok {
		logger.Debugf("chatlock: analysis in chat %d finished (%s) after %v",
			chatID, outcome, r.now().Sub(cur.startedAt))
	}
}

// Active возвращает количество активных анализов. Для /status.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartReaper запускает фоновую зачистку зависших записей.
func (r *Registry) StartReaper(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.Reap()
			}
		}
	}()
}

// StopReaper останавливает зачистку и дожидается горутины. Идемпотентен.
func (r *Registry) StopReaper() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// Reap снимает записи старше timeout. Вынесен отдельно для вызова из тестов.
func (r *Registry) Reap() {
	cutoff := r.now().Add(-r.timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, cur := range r.entries {
		if cur.startedAt.Before(cutoff) {
			logger.Warnf("chatlock: reaping stale analysis in chat %d (kind=%s, started=%v)",
				chatID, cur.kind, cur.startedAt)
			delete(r.entries, chatID)
		}
	}
}
