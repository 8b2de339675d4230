// Package mock provides a mock recognizer for running without cloud
// credentials. It returns canned utterances after a configurable delay.
package mock

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicetotext-service/internal/models"
	"voicetotext-service/internal/service/stt"
)

// SimulatedUtterance is one canned transcript.
type SimulatedUtterance struct {
	Segments   []string // segment texts, each assumed to span SegmentLen
	Confidence float64
	Language   string
}

// SegmentLen is the time span given to each simulated segment.
const SegmentLen = 2.5

// DefaultUtterances provides sample transcripts for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Segments:   []string{"Добрий день.", "Це тестовий запис для перевірки розпізнавання."},
		Confidence: 0.94,
		Language:   "uk",
	},
	{
		Segments:   []string{"Доброго ранку, шановні колеги.", "Почнемо нашу нараду."},
		Confidence: 0.91,
		Language:   "uk",
	},
	{
		Segments:   []string{"Hello, this is a test recording.", "Thank you very much."},
		Confidence: 0.97,
		Language:   "en",
	},
}

// Adapter implements stt.Recognizer with canned responses.
type Adapter struct {
	delay      time.Duration
	utterances []SimulatedUtterance

	mu    sync.Mutex
	next  int
	calls int
	err   error
}

// New creates a mock recognizer that takes delay to answer.
func New(delay time.Duration) *Adapter {
	return &Adapter{delay: delay, utterances: DefaultUtterances}
}

// WithUtterances replaces the canned transcripts.
func (a *Adapter) WithUtterances(u ...SimulatedUtterance) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utterances = u
	a.next = 0
	return a
}

// FailWith makes every following call return err. A nil err clears it.
func (a *Adapter) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Calls returns how many times Transcribe has been invoked.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Name implements stt.Recognizer.
func (a *Adapter) Name() string { return "mock" }

// Transcribe cycles through the canned utterances. It still checks that the
// staged file exists so callers exercise their cleanup ordering.
func (a *Adapter) Transcribe(ctx context.Context, audioPath, language string) (*stt.Result, error) {
	a.mu.Lock()
	a.calls++
	failErr := a.err
	var utt SimulatedUtterance
	if len(a.utterances) > 0 {
		utt = a.utterances[a.next%len(a.utterances)]
		a.next++
	}
	a.mu.Unlock()

	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	res := &stt.Result{
		Language: utt.Language,
		Segments: make([]models.Segment, 0, len(utt.Segments)),
	}
	if res.Language == "" {
		res.Language = language
	}
	conf, _ := json.Marshal(utt.Confidence)
	texts := make([]string, 0, len(utt.Segments))
	for i, text := range utt.Segments {
		res.Segments = append(res.Segments, models.Segment{
			Start: float64(i) * SegmentLen,
			End:   float64(i+1) * SegmentLen,
			Text:  " " + text,
			Extra: map[string]json.RawMessage{
				"id":         json.RawMessage(strconv.Itoa(i)),
				"confidence": conf,
			},
		})
		texts = append(texts, text)
	}
	res.Text = " " + strings.Join(texts, " ")
	return res, nil
}
