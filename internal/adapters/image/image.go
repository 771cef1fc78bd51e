// Package image — воркеры генерации изображений: FLUX (GET с промптом в
// query) и SDXL (POST JSON с Bearer-авторизацией). Ошибки классифицируются
// той же таксономией, что и у текстовых провайдеров.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/adapters/ai"
)

// generateTimeout — потолок одной генерации.
const generateTimeout = 120 * time.Second

// maxImageBytes — предохранитель от безразмерных ответов.
const maxImageBytes = 32 << 20

// Generator — один бэкенд генерации изображений.
type Generator interface {
	// Name — имя модели для логов и статусных сообщений.
	Name() string
	// Generate возвращает байты изображения по промпту.
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Flux — воркер FLUX: GET <base>?prompt=<url-encoded>, в ответе image/* байты.
type Flux struct {
	baseURL string
	httpc   *http.Client
}

// NewFlux создаёт воркер FLUX.
func NewFlux(baseURL string) *Flux {
	return &Flux{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: generateTimeout},
	}
}

func (f *Flux) Name() string { return "flux" }

func (f *Flux) Generate(ctx context.Context, prompt string) ([]byte, error) {
	reqURL := f.baseURL + "?prompt=" + url.QueryEscape(prompt)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "flux: build request")
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "flux", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyImageError("flux", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "flux", Message: "read image: " + err.Error()}
	}
	if len(data) == 0 {
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "flux", Message: "empty image body"}
	}
	return data, nil
}

// SDXL — воркер SDXL: POST <base> c JSON {"prompt": ...} и Bearer-ключом.
type SDXL struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewSDXL создаёт воркер SDXL.
func NewSDXL(baseURL, apiKey string) *SDXL {
	return &SDXL{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: generateTimeout},
	}
}

func (s *SDXL) Name() string { return "sdxl" }

// sdxlErrorBody — тело ошибки SDXL; оба поля опциональны.
type sdxlErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (s *SDXL) Generate(ctx context.Context, prompt string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, errors.Wrap(err, "sdxl: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "sdxl: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "sdxl", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(raw)
		var eb sdxlErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
			if eb.Details != "" {
				msg += ": " + eb.Details
			}
		}
		return nil, classifyImageError("sdxl", resp.StatusCode, msg)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "sdxl", Message: "read image: " + err.Error()}
	}
	if len(data) == 0 {
		return nil, &ai.CallError{Kind: ai.KindTransient, Provider: "sdxl", Message: "empty image body"}
	}
	return data, nil
}

// classifyImageError: 429 — лимит, 5xx — временная, остальное (400 невалидный
// промпт, 401 ключ, 405 метод) — постоянная.
func classifyImageError(provider string, status int, msg string) error {
	kind := ai.KindPermanent
	switch {
	case status == http.StatusTooManyRequests:
		kind = ai.KindRateLimit
	case status >= 500:
		kind = ai.KindTransient
	}
	return &ai.CallError{Kind: kind, Provider: provider, StatusCode: status, Message: msg}
}
