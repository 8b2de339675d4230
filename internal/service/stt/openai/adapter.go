// Package openai provides a Whisper recognizer backed by the OpenAI
// audio transcription API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voicetotext-service/internal/models"
	"voicetotext-service/internal/service/language"
	"voicetotext-service/internal/service/stt"
)

// Config holds connection settings.
type Config struct {
	APIKey  string
	BaseURL string // optional, for compatible servers
	Model   string // defaults to whisper-1
}

// Adapter implements stt.Recognizer.
type Adapter struct {
	client openai.Client
	model  string
}

// New creates an OpenAI recognizer. Extra options are appended after the
// ones derived from cfg.
func New(cfg Config, opts ...option.RequestOption) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is required", stt.ErrNotConfigured)
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Adapter{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
	}, nil
}

// Name implements stt.Recognizer.
func (a *Adapter) Name() string { return "openai" }

// Transcribe implements stt.Recognizer. Segments come back exactly as the
// API reports them, including fields this service does not interpret.
func (a *Adapter) Transcribe(ctx context.Context, audioPath, lang string) (*stt.Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(a.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if lang != "" && lang != "auto" {
		params.Language = openai.String(lang)
	}

	res, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcribe: %w", err)
	}
	out, err := parseVerbose([]byte(res.RawJSON()))
	if err != nil {
		return nil, err
	}
	if out.Language == "" {
		out.Language = lang
	}
	return out, nil
}

type verboseTranscription struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []models.Segment `json:"segments"`
}

// parseVerbose decodes a verbose_json transcription body.
func parseVerbose(raw []byte) (*stt.Result, error) {
	var v verboseTranscription
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}

	out := &stt.Result{
		Text:     v.Text,
		Segments: v.Segments,
	}
	if out.Segments == nil {
		out.Segments = []models.Segment{}
		if t := strings.TrimSpace(v.Text); t != "" {
			out.Segments = append(out.Segments, models.Segment{Text: v.Text})
		}
	}
	// Whisper reports names such as "ukrainian"; only codes are kept.
	if base, err := language.Normalize(v.Language); err == nil && len(base) <= 3 && base != "und" {
		out.Language = base
	}
	return out, nil
}
