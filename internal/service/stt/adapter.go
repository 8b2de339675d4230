// Package stt defines the interface for speech recognizers.
package stt

import (
	"context"
	"errors"

	"voicetotext-service/internal/models"
)

// ErrNotConfigured is returned when a provider is selected without the
// credentials it needs.
var ErrNotConfigured = errors.New("recognizer not configured")

// Result is the output of one recognition call.
type Result struct {
	Text     string
	Language string // language reported by the provider, if any
	Segments []models.Segment
}

// Recognizer transcribes a whole audio file in one blocking call. The file
// at audioPath stays in place until Transcribe returns.
type Recognizer interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Transcribe recognizes speech in audioPath. language is an ISO 639-1
	// code; implementations convert it to whatever the provider expects.
	Transcribe(ctx context.Context, audioPath, language string) (*Result, error)
}
