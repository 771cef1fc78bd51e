// Package keypool управляет пулом API-ключей AI-провайдера с ротацией при отказах.
// Каждый ключ имеет состояние (здоров / остывает после rate-limit / дневная квота
// исчерпана); пул выдаёт первый пригодный ключ по кругу и фиксирует исходы вызовов.
// Ключи в логах появляются только в маскированном виде.
package keypool

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/timeutil"
)

// ErrNoneAvailable возвращается, когда ни один ключ пула сейчас не пригоден.
// Вызывающая сторона обязана отказать пользователю, а не блокироваться.
var ErrNoneAvailable = errors.New("key pool: no usable credentials")

// Status — состояние отдельного ключа.
type Status int

const (
	// StatusHealthy — ключ работоспособен.
	StatusHealthy Status = iota
	// StatusCooling — ключ получил временную ошибку (429 и т. п.) и остывает.
	StatusCooling
	// StatusDayExhausted — дневная квота ключа исчерпана до полуночи
	// референсной таймзоны провайдера.
	StatusDayExhausted
)

// String возвращает человекочитаемое имя состояния для /status и логов.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusCooling:
		return "cooling"
	case StatusDayExhausted:
		return "day_exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// credential — внутреннее состояние одного ключа. Все поля защищены мьютексом пула.
type credential struct {
	secret            string
	status            Status
	lastFailure       time.Time
	errorCount        int
	dayExhaustedUntil time.Time
	lastUsed          time.Time
}

// usable сообщает, пригоден ли ключ в момент now. Остывание и дневное
// исчерпание снимаются временем, статус при этом не перезаписывается.
func (c *credential) usable(now time.Time, cooldown time.Duration) bool {
	switch c.status {
	case StatusDayExhausted:
		return !c.dayExhaustedUntil.After(now)
	case StatusCooling:
		return !now.Before(c.lastFailure.Add(cooldown))
	default:
		return true
	}
}

// Key — выданный пулом ключ. Index информационный: mark*-вызовы всегда
// относятся к текущему ключу пула.
type Key struct {
	Secret string
	Masked string
	Index  int
}

// Info — снимок состояния одного ключа для отчёта /status.
type Info struct {
	Masked            string
	Status            string
	ErrorCount        int
	DayExhaustedUntil time.Time
}

// Pool — упорядоченный набор ключей с текущим индексом.
//
// Потокобезопасность: один мьютекс сериализует все операции, включая
// сканирование «найди пригодный».
type Pool struct {
	mu       sync.Mutex
	creds    []*credential
	current  int
	cooldown time.Duration
	quotaLoc *time.Location
	now      func() time.Time
}

// Option настраивает пул при создании.
type Option func(*Pool)

// WithNow подменяет источник времени. Используется в тестах.
func WithNow(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New создаёт пул из упорядоченного списка ключей. cooldown — окно остывания
// после временной ошибки; quotaLoc — референсная таймзона сброса дневных квот.
func New(keys []string, cooldown time.Duration, quotaLoc *time.Location, opts ...Option) (*Pool, error) {
	if len(keys) == 0 {
		return nil, errors.New("key pool: at least one key required")
	}
	if quotaLoc == nil {
		quotaLoc = time.UTC
	}
	p := &Pool{
		creds:    make([]*credential, 0, len(keys)),
		cooldown: cooldown,
		quotaLoc: quotaLoc,
		now:      time.Now,
	}
	for _, k := range keys {
		p.creds = append(p.creds, &credential{secret: k, status: StatusHealthy})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Current возвращает ключ под текущим индексом, если он пригоден; иначе
// сканирует по кругу до первого пригодного и передвигает индекс. Если пригодных
// нет — ErrNoneAvailable без какой-либо мутации состояния.
func (p *Pool) Current() (Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.creds)
	for offset := 0; offset < n; offset++ {
		idx := (p.current + offset) % n
		if p.creds[idx].usable(now, p.cooldown) {
			if idx != p.current {
				logger.Debugf("keypool: rotating %s -> %s",
					Mask(p.creds[p.current].secret), Mask(p.creds[idx].secret))
				p.current = idx
			}
			c := p.creds[idx]
			return Key{Secret: c.secret, Masked: Mask(c.secret), Index: idx}, nil
		}
	}
	return Key{}, ErrNoneAvailable
}

// MarkSuccess фиксирует успешный вызов текущим ключом: статус HEALTHY, счётчик
// ошибок сброшен. Отметка дневного исчерпания снимается только временем,
// поэтому dayExhaustedUntil не очищается.
func (p *Pool) MarkSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.creds[p.current]
	c.status = StatusHealthy
	c.errorCount = 0
	c.lastUsed = p.now()
}

// MarkTransientFailure переводит текущий ключ в COOLING и сообщает, остался ли
// в пуле хоть один другой пригодный ключ (т. е. имеет ли смысл ретрай).
func (p *Pool) MarkTransientFailure(isRateLimit bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	c := p.creds[p.current]
	c.status = StatusCooling
	c.lastFailure = now
	c.errorCount++
	if isRateLimit {
		logger.Warnf("keypool: key %s rate-limited (errors=%d)", Mask(c.secret), c.errorCount)
	} else {
		logger.Warnf("keypool: key %s transient failure (errors=%d)", Mask(c.secret), c.errorCount)
	}
	return p.anyOtherUsableLocked(now)
}

// MarkDayExhausted переводит текущий ключ в DAY_EXHAUSTED до ближайшей полуночи
// референсной таймзоны. Возвращает, остался ли другой пригодный ключ.
func (p *Pool) MarkDayExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	c := p.creds[p.current]
	c.status = StatusDayExhausted
	c.dayExhaustedUntil = timeutil.NextMidnight(now, p.quotaLoc)
	logger.Warnf("keypool: key %s day quota exhausted until %s",
		Mask(c.secret), c.dayExhaustedUntil.Format(time.RFC3339))
	return p.anyOtherUsableLocked(now)
}

// ResetForModelSwitch сбрасывает отметки дневного исчерпания у всех ключей и
// возвращает индекс к началу. Разные модели одного провайдера имеют независимые
// дневные квоты, поэтому смена модели обнуляет «исчерпанность».
func (p *Pool) ResetForModelSwitch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		c.dayExhaustedUntil = time.Time{}
		if c.status == StatusDayExhausted {
			c.status = StatusHealthy
		}
	}
	p.current = 0
	logger.Info("keypool: reset for model switch")
}

// Snapshot возвращает маскированный снимок состояния всех ключей для /status.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Info, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, Info{
			Masked:            Mask(c.secret),
			Status:            c.status.String(),
			ErrorCount:        c.errorCount,
			DayExhaustedUntil: c.dayExhaustedUntil,
		})
	}
	return out
}

// Len возвращает количество ключей в пуле.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// anyOtherUsableLocked проверяет пригодность любого ключа, кроме текущего.
// Вызывается под мьютексом.
func (p *Pool) anyOtherUsableLocked(now time.Time) bool {
	for i, c := range p.creds {
		if i == p.current {
			continue
		}
		if c.usable(now, p.cooldown) {
			return true
		}
	}
	return false
}

// Mask маскирует ключ для логов: первые 6 и последние 4 символа, середина
// скрыта. Короткие ключи скрываются целиком.
func Mask(key string) string {
	const (
		prefixLen = 6
		suffixLen = 4
	)
	if len(key) <= prefixLen+suffixLen {
		return "***"
	}
	return key[:prefixLen] + "…" + key[len(key)-suffixLen:]
}
