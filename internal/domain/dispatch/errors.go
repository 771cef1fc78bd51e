package dispatch

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/commands"
	"sakaibot/internal/infra/breaker"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/logger"
)

// userMessage переводит внутреннюю ошибку в короткий ответ пользователю.
// Секреты из провайдерских сообщений вырезаются тем же санитайзером, что и
// в логах.
func userMessage(err error) string {
	var usage *commands.UsageError
	if errors.As(err, &usage) {
		return "⚠️ " + usage.Hint
	}

	switch {
	case errors.Is(err, breaker.ErrOpen):
		return "⚠️ сервис временно недоступен, попробуйте через минуту"
	case errors.Is(err, keypool.ErrNoneAvailable):
		return "⚠️ все ключи провайдера исчерпаны, попробуйте позже"
	case errors.Is(err, categorize.ErrNoTargetGroup):
		return "⚠️ целевая группа категоризации не настроена"
	case errors.Is(err, categorize.ErrNoReply):
		return "⚠️ команда категоризации работает только ответом на сообщение"
	case errors.Is(err, categorize.ErrNotMapped):
		return "⚠️ эта команда не привязана к топику"
	}

	if kind, ok := ai.ErrorKind(err); ok {
		switch kind {
		case ai.KindRateLimit:
			return "⚠️ провайдер ограничил частоту запросов, попробуйте чуть позже"
		case ai.KindQuota:
			return "⚠️ дневная квота провайдера исчерпана"
		case ai.KindTransient:
			return "⚠️ временная ошибка провайдера, попробуйте ещё раз"
		default:
			return "⚠️ провайдер отклонил запрос: " + logger.SanitizeString(shortError(err))
		}
	}

	return "⚠️ внутренняя ошибка, подробности в логе"
}

// rateLimitMessage — отказ локального лимитера с оставшимся ожиданием.
func rateLimitMessage(retryAfter time.Duration) string {
	wait := retryAfter.Round(time.Second)
	if wait < time.Second {
		wait = time.Second
	}
	return fmt.Sprintf("⚠️ слишком много запросов, подождите %s", wait)
}

// shortError обрезает длинные провайдерские сообщения.
func shortError(err error) string {
	const maxLen = 200
	msg := err.Error()
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "…"
	}
	return msg
}
