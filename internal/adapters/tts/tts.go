// Package tts — синтез речи через внешний HTTP-сервис. Результат пишется во
// временный файл; владение файлом переходит к вызывающему, который удаляет
// его после отправки голосового сообщения.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/infra/storage"
)

const (
	synthesizeTimeout = 60 * time.Second
	maxAudioBytes     = 16 << 20

	// DefaultVoice используется, когда пользователь голос не указал.
	DefaultVoice = "fa-IR-FaridNeural"
)

// Params — параметры синтеза. Rate и Volume — строки вида "+10%"/"-25%",
// проверенные парсером команд; пустые значения не передаются сервису.
type Params struct {
	Voice  string
	Rate   string
	Volume string
}

// Synthesizer — клиент TTS-сервиса.
type Synthesizer struct {
	baseURL string
	apiKey  string
	tempDir string
	httpc   *http.Client
}

// New создаёт клиент. Файлы результата складываются в tempDir.
func New(baseURL, apiKey, tempDir string) *Synthesizer {
	return &Synthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tempDir: tempDir,
		httpc:   &http.Client{Timeout: synthesizeTimeout},
	}
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Rate   string `json:"rate,omitempty"`
	Volume string `json:"volume,omitempty"`
}

// Synthesize озвучивает текст и возвращает путь к ogg-файлу во временном
// каталоге.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, p Params) (string, error) {
	voice := p.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:   text,
		Voice:  voice,
		Rate:   p.Rate,
		Volume: p.Volume,
	})
	if err != nil {
		return "", errors.Wrap(err, "tts: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "tts: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "tts", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := ai.KindPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = ai.KindRateLimit
		case resp.StatusCode >= 500:
			kind = ai.KindTransient
		}
		return "", &ai.CallError{Kind: kind, Provider: "tts", StatusCode: resp.StatusCode, Message: string(body)}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "tts", Message: "read audio: " + err.Error()}
	}
	if len(audio) == 0 {
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "tts", Message: "empty audio body"}
	}

	if err = storage.EnsureDirExists(s.tempDir); err != nil {
		return "", errors.Wrap(err, "tts: temp dir")
	}
	out, err := os.CreateTemp(s.tempDir, "tts-*.ogg")
	if err != nil {
		return "", errors.Wrap(err, "tts: create temp file")
	}
	path := out.Name()
	if _, err = out.Write(audio); err != nil {
		out.Close()
		os.Remove(path)
		return "", errors.Wrap(err, "tts: write audio")
	}
	if err = out.Close(); err != nil {
		os.Remove(path)
		return "", errors.Wrap(err, "tts: close audio file")
	}
	return filepath.Clean(path), nil
}
