package image_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/image"
)

func TestFluxGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("prompt"); got != "sunset over sea" {
			t.Errorf("prompt = %q", got)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	data, err := image.NewFlux(srv.URL).Generate(context.Background(), "sunset over sea")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("image bytes = %d", len(data))
	}
}

func TestSDXLGenerateSendsBearer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sdxl-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte{0x89, 0x50})
	}))
	defer srv.Close()

	data, err := image.NewSDXL(srv.URL, "sdxl-key").Generate(context.Background(), "mountain")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("image bytes = %d", len(data))
	}
}

func TestImageErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ai.Kind
	}{
		{400, ai.KindPermanent},
		{401, ai.KindPermanent},
		{405, ai.KindPermanent},
		{429, ai.KindRateLimit},
		{503, ai.KindTransient},
	}
	for _, tc := range cases {
		tc := tc
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"bad","details":"reason"}`))
		}))

		_, err := image.NewSDXL(srv.URL, "k").Generate(context.Background(), "x")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if kind, ok := ai.ErrorKind(err); !ok || kind != tc.want {
			t.Fatalf("status %d: kind = %v, want %v", tc.status, kind, tc.want)
		}
	}
}
