package connection

// HealthMonitor — периодический liveness‑probe поверх менеджера соединения.
// Раз в interval выполняет лёгкий вызов Self() с коротким таймаутом; серию
// провалов эскалирует по уровням логирования, после порога дёргает внешний
// хук перезапуска (обычно скрипт рестарта прокси) и передаёт восстановление
// generational‑монитору через MarkDisconnected. На успешном восстановлении
// вызывает зарегистрированный recovery‑callback.

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"sakaibot/internal/infra/logger"

	"github.com/gotd/td/telegram"
)

const (
	// probeTimeout — максимальное время ожидания ответа на liveness‑probe.
	probeTimeout = 30 * time.Second
	// restartHookTimeout ограничивает время работы внешнего хука перезапуска.
	restartHookTimeout = 60 * time.Second
	// backoffBase и backoffMax задают экспоненциальную паузу перед повторной
	// попыткой восстановления: min(base × 2^(n−1), max).
	backoffBase = 5 * time.Second
	backoffMax  = 5 * time.Minute

	// Пороги эскалации уровня логирования по числу подряд идущих провалов.
	warnFailures     = 3
	criticalFailures = 5
)

// HealthConfig — параметры мониторинга здоровья соединения.
type HealthConfig struct {
	// Interval — период между liveness‑probe. Ноль заменяется дефолтом 120s.
	Interval time.Duration
	// RestartCmd — shell-команда перезапуска внешнего сетевого хелпера.
	// Пустая строка отключает хук.
	RestartCmd string
	// RestartThreshold — число подряд идущих провалов, после которого
	// вызывается RestartCmd перед следующей попыткой восстановления.
	RestartThreshold int
	// OnRecovery вызывается после успешного восстановления связи (probe ok
	// после серии провалов). Может быть nil.
	OnRecovery func()
}

// HealthMonitor выполняет периодические пробы и эскалацию. Создаётся один на
// процесс, живёт от Start до Stop.
type HealthMonitor struct {
	client *telegram.Client
	cfg    HealthConfig

	// probe подменяется в тестах; по умолчанию client.Self.
	probe func(ctx context.Context) error

	mu                  sync.Mutex
	consecutiveFailures int
	lastProbeOK         time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthMonitor создаёт монитор для данного клиента.
func NewHealthMonitor(client *telegram.Client, cfg HealthConfig) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	h := &HealthMonitor{
		client: client,
		cfg:    cfg,
	}
	h.probe = func(ctx context.Context) error {
		_, err := client.Self(ctx)
		return err
	}
	return h
}

// Start запускает цикл мониторинга в отдельной горутине.
func (h *HealthMonitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop(loopCtx)
	}()
	logger.Infof("HealthMonitor: started (interval=%v)", h.cfg.Interval)
}

// Stop останавливает цикл и дожидается завершения горутины. Идемпотентен.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		logger.Debug("HealthMonitor: stopped")
	})
}

// ConsecutiveFailures возвращает текущую длину серии провалов. Для /status.
func (h *HealthMonitor) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// LastProbeOK возвращает время последней успешной пробы. Для /status.
func (h *HealthMonitor) LastProbeOK() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastProbeOK
}

// loop — основной цикл: probe раз в interval; при провале — эскалация,
// backoff и попытка восстановления.
func (h *HealthMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := h.runProbe(ctx); err == nil {
			h.onProbeSuccess()
			continue
		} else if ctx.Err() != nil {
			return
		} else {
			h.onProbeFailure(ctx, err)
		}
	}
}

// runProbe выполняет одну пробу с таймаутом.
func (h *HealthMonitor) runProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return h.probe(probeCtx)
}

// onProbeSuccess сбрасывает серию провалов; если серия была — уведомляет о
// восстановлении.
func (h *HealthMonitor) onProbeSuccess() {
	h.mu.Lock()
	wasFailing := h.consecutiveFailures > 0
	failures := h.consecutiveFailures
	h.consecutiveFailures = 0
	h.lastProbeOK = time.Now()
	h.mu.Unlock()

	if wasFailing {
		logger.Infof("HealthMonitor: connection recovered after %d failed probes", failures)
		if h.cfg.OnRecovery != nil {
			h.cfg.OnRecovery()
		}
	}
}

// onProbeFailure увеличивает серию, логирует с эскалацией уровня, выдерживает
// backoff и инициирует восстановление. После RestartThreshold подряд идущих
// провалов перед попыткой вызывается внешний хук перезапуска.
func (h *HealthMonitor) onProbeFailure(ctx context.Context, err error) {
	h.mu.Lock()
	h.consecutiveFailures++
	failures := h.consecutiveFailures
	h.mu.Unlock()

	switch {
	case failures >= criticalFailures:
		logger.Errorf("HealthMonitor: probe failed (consecutive=%d): %v", failures, err)
	case failures >= warnFailures:
		logger.Warnf("HealthMonitor: probe failed (consecutive=%d): %v", failures, err)
	default:
		logger.Infof("HealthMonitor: probe failed (consecutive=%d): %v", failures, err)
	}

	if h.cfg.RestartThreshold > 0 && failures >= h.cfg.RestartThreshold && h.cfg.RestartCmd != "" {
		h.runRestartHook(ctx)
	}

	if !sleepCtx(ctx, backoffDelay(failures)) {
		return
	}

	// Восстановление делегируем генерационному монитору: он пингует Self()
	// до успеха и закрывает wait-канал, разблокируя все WaitOnline.
	MarkDisconnected()
}

// runRestartHook запускает внешнюю команду перезапуска с собственным таймаутом.
// Провал хука логируется и не прерывает цикл восстановления.
func (h *HealthMonitor) runRestartHook(ctx context.Context) {
	hookCtx, cancel := context.WithTimeout(ctx, restartHookTimeout)
	defer cancel()

	logger.Warnf("HealthMonitor: invoking restart hook: %s", h.cfg.RestartCmd)
	cmd := exec.CommandContext(hookCtx, "sh", "-c", h.cfg.RestartCmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Errorf("HealthMonitor: restart hook failed: %v (output: %s)",
			err, strings.TrimSpace(string(out)))
		return
	}
	logger.Infof("HealthMonitor: restart hook completed")
}

// backoffDelay возвращает паузу перед n-й попыткой восстановления:
// min(base × 2^(n−1), max).
func backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// sleepCtx ждёт d или отмену контекста; false — контекст отменён.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
