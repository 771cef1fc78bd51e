// Package concurrency — вспомогательная инфраструктура конкурентного
// исполнения. Deduplicator — потокобезопасный кэш «недавно видели»,
// подавляющий повторную обработку апдейтов Telegram в пределах окна времени:
// сервер может прислать одно и то же сообщение несколько раз при переборе
// разницы состояний.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sakaibot/internal/infra/logger"
)

// Deduplicator хранит сигнатуры недавно обработанных событий. Ключ —
// `<chatID>:<msgID>:<editDate>`: правка сообщения меняет editDate и даёт
// новую сигнатуру. Структура потокобезопасна.
type Deduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key -> expireAt
	window time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeduplicator создаёт кэш подавления повторов с окном window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// Start поднимает фоновую очистку устаревших ключей. Повторные вызовы
// безопасны и игнорируются.
func (d *Deduplicator) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Cleanup()
			}
		}
	})
}

// Stop завершает фоновую очистку и дожидается её окончания.
func (d *Deduplicator) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

// Seen сообщает, видели ли уже событие с данной сигнатурой в пределах окна.
// Повтор — true; новое событие регистрируется и возвращается false.
func (d *Deduplicator) Seen(chatID int64, msgID, editDate int) bool {
	key := fmt.Sprintf("%d:%d:%d", chatID, msgID, editDate)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		logger.Debugf("dedup: repeated update %s", key)
		return true
	}
	d.seen[key] = now.Add(d.window)
	return false
}

// Cleanup удаляет записи с истёкшим сроком. Вызывается фоново из Start и
// доступен для синхронного вызова.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
}
