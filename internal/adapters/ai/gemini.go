package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// Gemini — адаптер Google Generative Language API (generateContent).
type Gemini struct {
	model   string
	baseURL string
	httpc   *http.Client
}

// Option настраивает адаптер. Подмена baseURL и клиента нужна тестам.
type Option func(*Gemini)

// WithBaseURL подменяет базовый URL API.
func WithBaseURL(u string) Option {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.httpc = c }
}

// NewGemini создаёт адаптер для модели model.
func NewGemini(model string, opts ...Option) *Gemini {
	g := &Gemini{
		model:   model,
		baseURL: geminiDefaultBaseURL,
		httpc:   newHTTPClient(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

// Формы запроса/ответа generateContent. Описаны только используемые поля.
type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiAPIError `json:"error"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate выполняет generateContent. Ключ уходит в заголовок, не в URL,
// чтобы не светился в логах промежуточных прокси.
func (g *Gemini) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.SystemMessage != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemMessage}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "gemini: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CallError{Kind: KindTransient, Provider: "gemini", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &CallError{Kind: KindTransient, Provider: "gemini", Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", g.classifyHTTPError(resp.StatusCode, raw)
	}

	var out geminiResponse
	if err = json.Unmarshal(raw, &out); err != nil {
		return "", &CallError{Kind: KindTransient, Provider: "gemini", Message: "decode response: " + err.Error()}
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &CallError{Kind: KindPermanent, Provider: "gemini", Message: "empty candidates in response"}
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// classifyHTTPError переводит HTTP-статус и тело ошибки в CallError.
// 429 с упоминанием суточного лимита — исчерпание квоты, остальные 429 —
// минутный rate limit.
func (g *Gemini) classifyHTTPError(status int, raw []byte) error {
	msg := string(raw)
	var envelope geminiResponse
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		msg = envelope.Error.Message
	}

	kind := KindPermanent
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
		if isDailyQuotaMessage(msg) {
			kind = KindQuota
		}
	case status >= 500:
		kind = KindTransient
	}
	return &CallError{Kind: kind, Provider: "gemini", StatusCode: status, Message: msg}
}

// isDailyQuotaMessage эвристически отличает суточную квоту от минутного лимита.
func isDailyQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "perday") ||
		strings.Contains(m, "per day") ||
		strings.Contains(m, "daily") ||
		strings.Contains(m, "current quota")
}
