// Package breaker — автоматический выключатель для внешних зависимостей.
// Два экземпляра живут на процесс: один для Telegram API, один для AI-провайдеров.
// После серии сбоев вызовы отклоняются мгновенно, пока зависимость не остынет.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/infra/logger"
)

// ErrOpen возвращается при вызове через открытый выключатель: зависимость
// считается лежащей, запрос не выполняется.
var ErrOpen = errors.New("circuit breaker is open")

// State — состояние выключателя.
type State int

const (
	// StateClosed — нормальный режим, вызовы проходят.
	StateClosed State = iota
	// StateOpen — зависимость лежит, вызовы отклоняются без выполнения.
	StateOpen
	// StateHalfOpen — пробный режим после таймаута: пропускаем вызовы и
	// считаем подряд идущие успехи.
	StateHalfOpen
)

// String возвращает имя состояния для /status и логов.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Breaker — closed/open/half-open автомат на одну внешнюю зависимость.
type Breaker struct {
	mu sync.Mutex

	name           string
	failToOpen     int
	successToClose int
	openTimeout    time.Duration

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time

	now func() time.Time
}

// New создаёт выключатель: failToOpen подряд идущих сбоев открывают цепь,
// successToClose успехов в half-open закрывают её, openTimeout — пауза перед
// пробным режимом.
func New(name string, failToOpen, successToClose int, openTimeout time.Duration) *Breaker {
	return &Breaker{
		name:           name,
		failToOpen:     failToOpen,
		successToClose: successToClose,
		openTimeout:    openTimeout,
		state:          StateClosed,
		now:            time.Now,
	}
}

// SetNowFunc подменяет источник времени. Используется в тестах.
func (b *Breaker) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Call выполняет f через выключатель. В открытом состоянии до истечения
// openTimeout возвращает ErrOpen не вызывая f; по истечении — атомарно
// переходит в half-open и пропускает этот вызов.
func (b *Breaker) Call(ctx context.Context, f func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State возвращает текущее состояние (с учётом возможного перехода open→half-open).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.openTimeout)) {
		return StateHalfOpen
	}
	return b.state
}

// admit решает, пропускать ли вызов, и выполняет переход open→half-open.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Before(b.openedAt.Add(b.openTimeout)) {
		return errors.Wrapf(ErrOpen, "%s unavailable", b.name)
	}
	b.state = StateHalfOpen
	b.consecutiveSuccesses = 0
	logger.Infof("breaker %s: open -> half-open", b.name)
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successToClose {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			logger.Infof("breaker %s: half-open -> closed", b.name)
		}
	case StateOpen:
		// Успех в open невозможен: admit не пропустил бы вызов.
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.openLocked()
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failToOpen {
			b.openLocked()
		}
	case StateOpen:
	}
}

// openLocked открывает цепь. Вызывается под мьютексом.
func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveSuccesses = 0
	logger.Warnf("breaker %s: opened after %d consecutive failures", b.name, b.consecutiveFailures)
}
