package tts_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/tts"
)

func TestSynthesizeCreatesTempDir(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tts-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte("OggS fake audio"))
	}))
	defer srv.Close()

	// Каталог для результата ещё не существует: свежая установка.
	tempDir := filepath.Join(t.TempDir(), "data", "tmp")
	s := tts.New(srv.URL, "tts-key", tempDir)

	path, err := s.Synthesize(context.Background(), "سلام", tts.Params{})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	defer os.Remove(path)

	if filepath.Dir(path) != tempDir {
		t.Fatalf("audio path %q is outside temp dir %q", path, tempDir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("audio file not written: %v", err)
	}
	if string(data) != "OggS fake audio" {
		t.Fatalf("audio content = %q", data)
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := tts.New(srv.URL, "", t.TempDir())
	path, err := s.Synthesize(context.Background(), "hi", tts.Params{})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	os.Remove(path)

	if !strings.Contains(gotBody, tts.DefaultVoice) {
		t.Fatalf("request body %q lacks default voice", gotBody)
	}
}

func TestSynthesizeErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ai.Kind
	}{
		{429, ai.KindRateLimit},
		{503, ai.KindTransient},
		{400, ai.KindPermanent},
	}
	for _, tc := range cases {
		tc := tc
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := tts.New(srv.URL, "", t.TempDir()).Synthesize(context.Background(), "x", tts.Params{})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if kind, ok := ai.ErrorKind(err); !ok || kind != tc.want {
			t.Fatalf("status %d: kind = %v, want %v", tc.status, kind, tc.want)
		}
	}
}
