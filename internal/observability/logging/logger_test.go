package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func initBuffer(t *testing.T, cfg Config) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	Init(cfg)
	t.Cleanup(func() { Init(Config{Level: "info", Output: &bytes.Buffer{}}) })
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestInit_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			initBuffer(t, Config{Level: tt.level})
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInit_ServiceField(t *testing.T) {
	buf := initBuffer(t, DefaultConfig())

	Logger().Info().Msg("hello")

	line := lastLine(t, buf)
	if line["service"] != "voicetotext-service" {
		t.Errorf("expected service field, got %v", line["service"])
	}
	if line["message"] != "hello" {
		t.Errorf("expected message, got %v", line["message"])
	}
}

func TestScopedLoggers(t *testing.T) {
	buf := initBuffer(t, Config{Level: "debug"})

	tests := []struct {
		name   string
		logger zerolog.Logger
		fields map[string]string
	}{
		{"job", WithJob("j1", "a.wav"), map[string]string{"component": "transcription", "jobId": "j1", "fileName": "a.wav"}},
		{"record", WithRecord("r1"), map[string]string{"component": "history", "recordId": "r1"}},
		{"observer", WithObserver("o1", "10.0.0.1:5000"), map[string]string{"component": "progress", "observerId": "o1", "remoteAddr": "10.0.0.1:5000"}},
		{"component", WithComponent("grpc"), map[string]string{"component": "grpc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.logger.Info().Msg("x")
			line := lastLine(t, buf)
			for k, want := range tt.fields {
				if line[k] != want {
					t.Errorf("%s: expected %q, got %v", k, want, line[k])
				}
			}
		})
	}
}
