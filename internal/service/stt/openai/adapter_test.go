package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3/option"

	"voicetotext-service/internal/service/stt"
)

var _ stt.Recognizer = (*Adapter)(nil)

const verboseBody = `{
  "task": "transcribe",
  "language": "ukrainian",
  "duration": 4.2,
  "text": " Добрий день. Як справи?",
  "segments": [
    {"id": 0, "seek": 0, "start": 0.0, "end": 1.8, "text": " Добрий день.", "avg_logprob": -0.21, "no_speech_prob": 0.01},
    {"id": 1, "seek": 0, "start": 1.8, "end": 4.2, "text": " Як справи?", "avg_logprob": -0.3, "no_speech_prob": 0.02}
  ]
}`

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, stt.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParseVerbose(t *testing.T) {
	res, err := parseVerbose([]byte(verboseBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Text != " Добрий день. Як справи?" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(res.Segments))
	}
	seg := res.Segments[1]
	if seg.Start != 1.8 || seg.End != 4.2 || seg.Text != " Як справи?" {
		t.Errorf("unexpected segment %+v", seg)
	}
	if string(seg.Extra["avg_logprob"]) != "-0.3" {
		t.Errorf("expected avg_logprob passed through, got %s", seg.Extra["avg_logprob"])
	}
	if res.Language != "" {
		t.Errorf("expected language name to be dropped, got %q", res.Language)
	}
}

func TestParseVerbose_TextOnly(t *testing.T) {
	res, err := parseVerbose([]byte(`{"text":"hello","language":"en"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "hello" {
		t.Errorf("expected single synthetic segment, got %+v", res.Segments)
	}
	if res.Language != "en" {
		t.Errorf("expected language 'en', got %q", res.Language)
	}
}

func TestParseVerbose_Invalid(t *testing.T) {
	if _, err := parseVerbose([]byte("not json")); err == nil {
		t.Error("expected error for invalid body")
	}
}

func TestAdapter_Transcribe(t *testing.T) {
	var gotModel, gotLang, gotFormat, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			gotFile = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, verboseBody)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := a.Transcribe(context.Background(), path, "uk")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotModel != "whisper-1" {
		t.Errorf("expected model whisper-1, got %q", gotModel)
	}
	if gotLang != "uk" {
		t.Errorf("expected language uk, got %q", gotLang)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("expected verbose_json, got %q", gotFormat)
	}
	if gotFile != "ID3audio" {
		t.Errorf("expected file content uploaded, got %q", gotFile)
	}
	if len(res.Segments) != 2 {
		t.Errorf("expected 2 segments, got %d", len(res.Segments))
	}
	if res.Language != "uk" {
		t.Errorf("expected requested language as fallback, got %q", res.Language)
	}
}

func TestAdapter_Transcribe_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Transcribe(context.Background(), path, "uk"); err == nil {
		t.Error("expected error from upstream 400")
	}
}
