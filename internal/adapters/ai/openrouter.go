package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
)

const openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter — адаптер chat/completions API OpenRouter.
type OpenRouter struct {
	model   string
	baseURL string
	httpc   *http.Client
}

// OROption настраивает адаптер OpenRouter.
type OROption func(*OpenRouter)

// WithORBaseURL подменяет базовый URL API.
func WithORBaseURL(u string) OROption {
	return func(o *OpenRouter) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithORHTTPClient подменяет HTTP-клиент.
func WithORHTTPClient(c *http.Client) OROption {
	return func(o *OpenRouter) { o.httpc = c }
}

// NewOpenRouter создаёт адаптер для модели model.
func NewOpenRouter(model string, opts ...OROption) *OpenRouter {
	o := &OpenRouter{
		model:   model,
		baseURL: openRouterDefaultBaseURL,
		httpc:   newHTTPClient(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenRouter) Name() string  { return "openrouter" }
func (o *OpenRouter) Model() string { return o.model }

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orRequest struct {
	Model       string      `json:"model"`
	Messages    []orMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type orResponse struct {
	Choices []struct {
		Message orMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate выполняет chat/completions с Bearer-авторизацией.
func (o *OpenRouter) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	messages := make([]orMessage, 0, 2)
	if req.SystemMessage != "" {
		messages = append(messages, orMessage{Role: "system", Content: req.SystemMessage})
	}
	messages = append(messages, orMessage{Role: "user", Content: req.UserPrompt})

	body, err := json.Marshal(orRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "openrouter: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "openrouter: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CallError{Kind: KindTransient, Provider: "openrouter", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &CallError{Kind: KindTransient, Provider: "openrouter", Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyOpenRouterError(resp.StatusCode, raw)
	}

	var out orResponse
	if err = json.Unmarshal(raw, &out); err != nil {
		return "", &CallError{Kind: KindTransient, Provider: "openrouter", Message: "decode response: " + err.Error()}
	}
	if out.Error != nil {
		return "", classifyOpenRouterError(out.Error.Code, []byte(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", &CallError{Kind: KindPermanent, Provider: "openrouter", Message: "empty choices in response"}
	}
	return out.Choices[0].Message.Content, nil
}

// classifyOpenRouterError: 429 — минутный лимит, 402 — кончились кредиты
// (эквивалент исчерпанной квоты), 5xx — временная.
func classifyOpenRouterError(status int, raw []byte) error {
	msg := string(raw)
	var envelope orResponse
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		msg = envelope.Error.Message
	}

	kind := KindPermanent
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusPaymentRequired:
		kind = KindQuota
	case status >= 500:
		kind = KindTransient
	}
	return &CallError{Kind: kind, Provider: "openrouter", StatusCode: status, Message: msg}
}
