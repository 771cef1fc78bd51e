// Package stt — распознавание голосовых сообщений: перекодирование внешним
// транскодером (если настроен), расшифровка через Gemini и формат ответа
// «расшифровка + резюме», который умеет разбирать обработчик /translate.
package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/storage"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

	// baseTimeout и perChunkTimeout масштабируют потолок вызова под размер
	// аудио; maxTimeout — абсолютный предел.
	baseTimeout     = 60 * time.Second
	perChunkTimeout = time.Second
	chunkSize       = 50 << 10
	maxTimeout      = 5 * time.Minute

	maxAudioBytes = 20 << 20

	transcodeTimeout = 60 * time.Second
)

// Заголовки сегментов ответа /stt. По ним обработчик /translate в reply-форме
// извлекает из сообщения только расшифровку.
const (
	transcriptHeader = "🎙 Transcript:"
	summaryHeader    = "📋 Summary:"
)

// Transcriber — клиент распознавания речи.
type Transcriber struct {
	model      string
	baseURL    string
	ffmpegPath string
	tempDir    string
	httpc      *http.Client
}

// Option настраивает Transcriber.
type Option func(*Transcriber)

// WithBaseURL подменяет базовый URL API. Для тестов.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = strings.TrimRight(u, "/") }
}

// New создаёт Transcriber. Пустой ffmpegPath отключает перекодирование:
// аудио уходит провайдеру как есть.
func New(model, ffmpegPath, tempDir string, opts ...Option) *Transcriber {
	t := &Transcriber{
		model:      model,
		baseURL:    geminiDefaultBaseURL,
		ffmpegPath: ffmpegPath,
		tempDir:    tempDir,
		httpc:      &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcribe распознаёт аудиофайл audioPath с данным ключом. Возвращает
// текст расшифровки.
func (t *Transcriber) Transcribe(ctx context.Context, apiKey, audioPath string) (string, error) {
	path := audioPath
	mime := mimeByExt(path)

	if t.ffmpegPath != "" {
		converted, err := t.transcode(ctx, audioPath)
		if err != nil {
			// Транскодер — оптимизация: при сбое пробуем исходный файл.
			logger.Warnf("stt: transcode failed, sending original audio: %v", err)
		} else {
			defer os.Remove(converted)
			path, mime = converted, "audio/mp3"
		}
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "stt: read audio %s", path)
	}
	if len(audio) == 0 {
		return "", errors.New("stt: empty audio file")
	}
	if len(audio) > maxAudioBytes {
		return "", &ai.CallError{Kind: ai.KindPermanent, Provider: "stt",
			Message: fmt.Sprintf("audio too large: %d bytes", len(audio))}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeoutForSize(len(audio)))
	defer cancel()
	return t.callGemini(callCtx, apiKey, mime, audio)
}

// transcode перегоняет аудио в mp3 внешним транскодером.
func (t *Transcriber) transcode(ctx context.Context, in string) (string, error) {
	if err := storage.EnsureDirExists(t.tempDir); err != nil {
		return "", err
	}
	out := filepath.Join(t.tempDir, fmt.Sprintf("stt-%d.mp3", time.Now().UnixNano()))

	runCtx, cancel := context.WithTimeout(ctx, transcodeTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffmpegPath, "-y", "-i", in, "-vn", "-acodec", "libmp3lame", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		return "", errors.Wrapf(err, "ffmpeg: %s", firstLine(output))
	}
	return out, nil
}

// Формы запроса generateContent с аудио во inline-данных.
type sttPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *sttInlineData `json:"inlineData,omitempty"`
}

type sttInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type sttRequest struct {
	Contents []struct {
		Role  string    `json:"role"`
		Parts []sttPart `json:"parts"`
	} `json:"contents"`
}

type sttResponse struct {
	Candidates []struct {
		Content struct {
			Parts []sttPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (t *Transcriber) callGemini(ctx context.Context, apiKey, mime string, audio []byte) (string, error) {
	var req sttRequest
	req.Contents = append(req.Contents, struct {
		Role  string    `json:"role"`
		Parts []sttPart `json:"parts"`
	}{
		Role: "user",
		Parts: []sttPart{
			{Text: ai.PromptTranscribe()},
			{InlineData: &sttInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(audio)}},
		},
	})

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "stt: marshal request")
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.baseURL, t.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "stt: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := t.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "stt", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "stt", Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var envelope sttResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			msg = envelope.Error.Message
		}
		kind := ai.KindPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = ai.KindRateLimit
		case resp.StatusCode >= 500:
			kind = ai.KindTransient
		}
		return "", &ai.CallError{Kind: kind, Provider: "stt", StatusCode: resp.StatusCode, Message: msg}
	}

	var out sttResponse
	if err = json.Unmarshal(raw, &out); err != nil {
		return "", &ai.CallError{Kind: ai.KindTransient, Provider: "stt", Message: "decode response: " + err.Error()}
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &ai.CallError{Kind: ai.KindPermanent, Provider: "stt", Message: "empty candidates in response"}
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// FormatReply собирает текст ответа /stt из расшифровки и резюме.
func FormatReply(transcript, summary string) string {
	var sb strings.Builder
	sb.WriteString(transcriptHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(transcript))
	sb.WriteString("\n\n")
	sb.WriteString(summaryHeader)
	sb.WriteString("\n")
	if summary == "" {
		summary = "резюме недоступно"
	}
	sb.WriteString(strings.TrimSpace(summary))
	return sb.String()
}

// ExtractTranscript вынимает сегмент расшифровки из сообщения формата
// FormatReply; ok=false, если сообщение этому формату не соответствует.
func ExtractTranscript(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, transcriptHeader) {
		return "", false
	}
	rest := strings.TrimPrefix(trimmed, transcriptHeader)
	if i := strings.Index(rest, summaryHeader); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest), true
}

// timeoutForSize масштабирует потолок вызова под размер аудио.
func timeoutForSize(size int) time.Duration {
	d := baseTimeout + time.Duration(size/chunkSize)*perChunkTimeout
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// mimeByExt — MIME по расширению файла; Telegram шлёт голос в ogg/opus.
func mimeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mp3"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/aac"
	default:
		return "audio/ogg"
	}
}

// firstLine — первая непустая строка вывода внешней команды для ошибки.
func firstLine(output []byte) string {
	for _, line := range strings.Split(string(output), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return "no output"
}
