// Package status управляет онлайн-статусом аккаунта и эмуляцией «печатает».
// Менеджер реагирует на сигналы активности (пинги): удерживает аккаунт online,
// пока бот отвечает на команды, и по таймеру простоя уводит его в offline.
// Окна простоя случайные, чтобы поведение аккаунта выглядело менее шаблонным.
package status

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/telegram/connection"
)

// Границы случайного окна до авто-offline (мс): с вероятностью 80% короткое.
const (
	shortMinMs = 5678
	shortMaxMs = 12345
	longMinMs  = 34567
	longMaxMs  = 45678
	shortRatio = 0.8
)

type statusManager struct {
	client *telegram.Client
	pingCh chan int // буфер 1: всплески пингов схлопываются до одного сигнала
}

var (
	statusMu     sync.Mutex
	manager      *statusManager
	statusCancel context.CancelFunc
	statusWg     sync.WaitGroup
)

// Start запускает глобальный менеджер статуса. Повторный вызов игнорируется.
func Start(ctx context.Context, client *telegram.Client) {
	statusMu.Lock()
	defer statusMu.Unlock()
	if manager != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m := &statusManager{
		client: client,
		pingCh: make(chan int, 1),
	}
	manager = m
	statusCancel = cancel
	statusWg.Go(func() {
		m.run(runCtx, ctx)
	})
}

// Stop останавливает менеджер и дожидается ухода в offline. Идемпотентен.
func Stop() {
	statusMu.Lock()
	m := manager
	cancel := statusCancel
	manager = nil
	statusCancel = nil
	statusMu.Unlock()

	if m == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	statusWg.Wait()
}

// GoOnline сообщает менеджеру об активности: аккаунт переводится в online,
// таймер авто-offline перезапускается со случайным окном.
func GoOnline() {
	m := current()
	if m == nil {
		return
	}
	minMs, maxMs := shortMinMs, shortMaxMs
	if rand.Float64() >= shortRatio { // #nosec G404 -- криптостойкость не нужна
		minMs, maxMs = longMinMs, longMaxMs
	}
	m.ping(randomMs(minMs, maxMs))
}

// Typing включает статус «печатает» в чате и продлевает online. Ошибки API
// глотаются: индикатор — косметика.
func Typing(ctx context.Context, peer tg.InputPeerClass) {
	m := current()
	if m == nil {
		return
	}
	GoOnline()
	_, _ = m.client.API().MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
		Peer:   peer,
		Action: &tg.SendMessageTypingAction{},
	})
}

func current() *statusManager {
	statusMu.Lock()
	defer statusMu.Unlock()
	return manager
}

// ping передаёт сигнал активности. При заполненном буфере сигнал отбрасывается:
// таймер и так будет сброшен.
func (m *statusManager) ping(waitMs int) {
	select {
	case m.pingCh <- waitMs:
	default:
	}
}

// randomMs выбирает равномерное целое из [minMs, maxMs].
func randomMs(minMs, maxMs int) int {
	if maxMs < minMs {
		minMs, maxMs = maxMs, minMs
	}
	return rand.IntN(maxMs-minMs+1) + minMs // #nosec G404
}

// run — цикл менеджера: пинг включает online и заводит таймер простоя, тик
// таймера уводит в offline. На завершение контекста отправляется offline.
func (m *statusManager) run(runCtx, clientCtx context.Context) {
	online := false
	lastOnlineAt := time.Now()
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-runCtx.Done():
			m.setOffline(clientCtx, "exiting", &online)
			return
		case waitMs := <-m.pingCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			m.setOnline(clientCtx, &online, &lastOnlineAt)
			idle := time.Duration(waitMs) * time.Millisecond
			logger.Debugf("StatusManager: activity detected, next offline in %v", idle)
			timer.Reset(idle)
		case <-timer.C:
			m.setOffline(clientCtx, "idle timeout", &online)
		}
	}
}

// setOnline отправляет AccountUpdateStatus(online), но не чаще раза в минуту,
// чтобы не шуметь при частых пингах.
func (m *statusManager) setOnline(ctx context.Context, online *bool, lastOnlineAt *time.Time) {
	if *online && time.Since(*lastOnlineAt) < time.Minute {
		return
	}
	connection.WaitOnline(ctx)
	if _, err := m.client.API().AccountUpdateStatus(ctx, false); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		connection.HandleError(err)
		logger.Errorf("StatusManager: failed to go online: %v", err)
		return
	}
	logger.Debug("StatusManager: AccountUpdateStatus to online")
	*online = true
	*lastOnlineAt = time.Now()
}

// setOffline отправляет AccountUpdateStatus(offline), если были online.
func (m *statusManager) setOffline(ctx context.Context, reason string, online *bool) {
	if !*online {
		return
	}
	connection.WaitOnline(ctx)
	if _, err := m.client.API().AccountUpdateStatus(ctx, true); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		connection.HandleError(err)
		logger.Errorf("StatusManager: failed to go offline (%s): %v", reason, err)
		return
	}
	logger.Debugf("StatusManager: AccountUpdateStatus to offline (%s)", reason)
	*online = false
}
