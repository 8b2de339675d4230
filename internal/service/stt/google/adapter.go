// Package google provides a Google Cloud Speech-to-Text recognizer.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"voicetotext-service/internal/models"
	"voicetotext-service/internal/service/language"
	"voicetotext-service/internal/service/stt"
)

// maxInlineBytes is the largest file sent as inline request content.
const maxInlineBytes = 10 * 1024 * 1024

// Config holds recognition settings.
type Config struct {
	LanguageCode  string // BCP 47; used when a call passes no language
	SampleRateHz  int    // 0 lets the service read it from the file header
	AudioEncoding string // speechpb.RecognitionConfig_AudioEncoding name
	Punctuation   bool
}

// DefaultConfig returns settings suited to uploaded files with headers.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "uk-UA",
		SampleRateHz:  0,
		AudioEncoding: "ENCODING_UNSPECIFIED",
		Punctuation:   true,
	}
}

// Adapter implements stt.Recognizer using LongRunningRecognize.
type Adapter struct {
	client *speech.Client
	cfg    Config
}

// New creates a Google recognizer.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: google speech client: %v", stt.ErrNotConfigured, err)
	}
	return &Adapter{client: c, cfg: cfg}, nil
}

// Name implements stt.Recognizer.
func (a *Adapter) Name() string { return "google" }

// Transcribe implements stt.Recognizer.
func (a *Adapter) Transcribe(ctx context.Context, audioPath, lang string) (*stt.Result, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, err
	}
	if len(data) > maxInlineBytes {
		return nil, fmt.Errorf("google: %d bytes exceeds the %d byte inline limit", len(data), maxInlineBytes)
	}

	op, err := a.client.LongRunningRecognize(ctx, a.buildRequest(data, lang))
	if err != nil {
		return nil, fmt.Errorf("google: start recognition: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: wait for recognition: %w", err)
	}
	return resultsToTranscript(resp.GetResults()), nil
}

// Close releases the client connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) buildRequest(data []byte, lang string) *speechpb.LongRunningRecognizeRequest {
	code := a.cfg.LanguageCode
	if lang != "" {
		code = language.BCP47(lang)
	}
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
			SampleRateHertz:            int32(a.cfg.SampleRateHz),
			LanguageCode:               code,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: a.cfg.Punctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	}
}

// parseAudioEncoding maps an encoding name to its enum, falling back to
// ENCODING_UNSPECIFIED so the service sniffs the file header.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
}

// resultsToTranscript turns each final result into one segment. A segment
// starts at its first word offset, or where the previous one ended.
func resultsToTranscript(results []*speechpb.SpeechRecognitionResult) *stt.Result {
	out := &stt.Result{Segments: make([]models.Segment, 0, len(results))}
	var (
		texts   []string
		prevEnd float64
	)
	for i, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start, end := prevEnd, seconds(r.GetResultEndTime())
		if words := alt.GetWords(); len(words) > 0 {
			start = seconds(words[0].GetStartTime())
			if end == 0 {
				end = seconds(words[len(words)-1].GetEndTime())
			}
		}
		end = max(end, start)

		conf, _ := json.Marshal(alt.GetConfidence())
		seg := models.Segment{
			Start: start,
			End:   end,
			Text:  " " + text,
			Extra: map[string]json.RawMessage{
				"id":         json.RawMessage(fmt.Sprint(i)),
				"confidence": conf,
			},
		}
		out.Segments = append(out.Segments, seg)
		texts = append(texts, text)
		prevEnd = end

		if out.Language == "" && r.GetLanguageCode() != "" {
			out.Language = r.GetLanguageCode()
		}
	}
	if base, err := language.Normalize(out.Language); err == nil {
		out.Language = base
	}
	out.Text = strings.Join(texts, " ")
	return out
}

func seconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}
