package ai

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind — класс ошибки провайдера. От класса зависит реакция диспетчера:
// ротация ключа, пометка дневной квоты, повтор или отказ.
type Kind int

const (
	// KindRateLimit — минутный лимит запросов (429-класс): ключ в COOLING,
	// повтор со следующим ключом.
	KindRateLimit Kind = iota
	// KindQuota — дневная квота исчерпана: ключ в DAY_EXHAUSTED до полуночи.
	KindQuota
	// KindTransient — временная ошибка (сеть, 5xx): один повтор.
	KindTransient
	// KindPermanent — не повторяется, переводится в сообщение пользователю.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindQuota:
		return "quota_exhausted"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CallError — классифицированная ошибка вызова провайдера.
type CallError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// ErrorKind извлекает класс ошибки; ok=false для ошибок не от провайдера
// (отмена контекста и т.п.).
func ErrorKind(err error) (Kind, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsRateLimit сообщает, является ли ошибка минутным лимитом.
func IsRateLimit(err error) bool {
	k, ok := ErrorKind(err)
	return ok && k == KindRateLimit
}

// IsQuotaExhausted сообщает об исчерпании дневной квоты.
func IsQuotaExhausted(err error) bool {
	k, ok := ErrorKind(err)
	return ok && k == KindQuota
}

// IsRetriable — стоит ли повторять вызов (с тем же или другим ключом).
func IsRetriable(err error) bool {
	k, ok := ErrorKind(err)
	if !ok {
		return false
	}
	return k == KindRateLimit || k == KindQuota || k == KindTransient
}
