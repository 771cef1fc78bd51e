// Package ai — адаптеры текстовых LLM-провайдеров (Gemini, OpenRouter) за
// единым интерфейсом. Ключ API передаётся в каждый вызов: ротацией ключей
// владеет вызывающий, адаптер ключи не хранит и не логирует.
package ai

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// callTimeout — потолок одного вызова провайдера.
const callTimeout = 90 * time.Second

// Request — параметры генерации.
type Request struct {
	SystemMessage string
	UserPrompt    string
	MaxTokens     int
	Temperature   float64
}

// Provider — текстовый LLM-провайдер.
type Provider interface {
	// Name — имя провайдера для логов и /status.
	Name() string
	// Model — активная модель.
	Model() string
	// Generate выполняет один запрос с данным ключом. Ошибки классифицированы
	// через CallError.
	Generate(ctx context.Context, apiKey string, req Request) (string, error)
}

// New создаёт провайдера по имени из конфигурации.
func New(provider, model string) (Provider, error) {
	switch provider {
	case "gemini":
		return NewGemini(model), nil
	case "openrouter":
		return NewOpenRouter(model), nil
	default:
		return nil, errors.Errorf("ai: unknown provider %q", provider)
	}
}

// newHTTPClient — общий HTTP-клиент адаптеров. Таймаут страхует от зависших
// соединений даже при живом контексте.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: callTimeout}
}
