package dispatch

import (
	"context"

	"github.com/go-faster/errors"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/infra/breaker"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/logger"
)

// Дефолты генерации; при необходимости переопределяются по месту вызова.
const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// TextGenerator объединяет провайдера, пул ключей и предохранитель в один
// вызов с ротацией. Им пользуются и текстовые команды диспетчера, и воркеры
// очередей (доводка промптов изображений, резюме расшифровок).
type TextGenerator struct {
	provider ai.Provider
	keys     *keypool.Pool
	brk      *breaker.Breaker
}

// NewTextGenerator создаёт генератор.
func NewTextGenerator(provider ai.Provider, keys *keypool.Pool, brk *breaker.Breaker) *TextGenerator {
	return &TextGenerator{provider: provider, keys: keys, brk: brk}
}

// Provider — активный провайдер, для /status.
func (g *TextGenerator) Provider() ai.Provider { return g.provider }

// Keys — пул ключей, для /status.
func (g *TextGenerator) Keys() *keypool.Pool { return g.keys }

// Generate выполняет запрос с ротацией ключей. Реакция на классы ошибок:
// 429 — ключ в COOLING и повтор со следующим; дневная квота — DAY_EXHAUSTED
// и повтор; временная — один повтор; постоянная — немедленный отказ.
// Число попыток ограничено размером пула плюс один временный повтор.
func (g *TextGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	attempts := g.keys.Len() + 1
	transientRetried := false

	var lastErr error
	for i := 0; i < attempts; i++ {
		key, err := g.keys.Current()
		if err != nil {
			if lastErr != nil {
				return "", errors.Wrap(lastErr, "all credentials exhausted")
			}
			return "", err
		}

		var out string
		err = g.brk.Call(ctx, func(ctx context.Context) error {
			var callErr error
			out, callErr = g.provider.Generate(ctx, key.Secret, ai.Request{
				SystemMessage: system,
				UserPrompt:    prompt,
				MaxTokens:     defaultMaxTokens,
				Temperature:   defaultTemperature,
			})
			return callErr
		})
		if err == nil {
			g.keys.MarkSuccess()
			return out, nil
		}
		lastErr = err

		if errors.Is(err, breaker.ErrOpen) || ctx.Err() != nil {
			return "", err
		}
		kind, classified := ai.ErrorKind(err)
		if !classified {
			return "", err
		}

		switch kind {
		case ai.KindRateLimit:
			logger.Warnf("textgen: key %s hit rate limit, rotating", key.Masked)
			if !g.keys.MarkTransientFailure(true) {
				return "", err
			}
		case ai.KindQuota:
			logger.Warnf("textgen: key %s exhausted daily quota, rotating", key.Masked)
			if !g.keys.MarkDayExhausted() {
				return "", err
			}
		case ai.KindTransient:
			g.keys.MarkTransientFailure(false)
			if transientRetried {
				return "", err
			}
			transientRetried = true
			logger.Warnf("textgen: transient provider error, retrying once: %v", err)
		default:
			g.keys.MarkTransientFailure(false)
			return "", err
		}
	}
	return "", lastErr
}
