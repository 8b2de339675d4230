package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/service/progress"
	"voicetotext-service/internal/service/stt"
	"voicetotext-service/internal/storage"
	"voicetotext-service/internal/storage/badger"
)

// recordingObserver keeps every frame it is sent.
type recordingObserver struct {
	mu     sync.Mutex
	frames []any
}

func (o *recordingObserver) Send(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, v)
	return nil
}

func (o *recordingObserver) Close() error { return nil }

func (o *recordingObserver) snapshot() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]any(nil), o.frames...)
}

func (o *recordingObserver) progress() []int {
	var out []int
	for _, f := range o.snapshot() {
		if p, ok := f.(models.ProgressFrame); ok {
			out = append(out, p.Progress)
		}
	}
	return out
}

func (o *recordingObserver) statuses() []models.StatusFrame {
	var out []models.StatusFrame
	for _, f := range o.snapshot() {
		if s, ok := f.(models.StatusFrame); ok {
			out = append(out, s)
		}
	}
	return out
}

func (o *recordingObserver) waitFor(t *testing.T, p int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, v := range o.progress() {
			if v == p {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never saw progress %d, got %v", p, o.progress())
}

type fakeRecognizer struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hook     func(ctx context.Context, path string) (*stt.Result, error)
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Transcribe(ctx context.Context, path, _ string) (*stt.Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if f.hook != nil {
		return f.hook(ctx, path)
	}
	return sampleResult(), nil
}

func sampleResult() *stt.Result {
	return &stt.Result{
		Text:     " Добрий день.",
		Language: "uk",
		Segments: []models.Segment{
			{Start: 0, End: 2.5, Text: " Добрий", Extra: map[string]json.RawMessage{"id": json.RawMessage("0")}},
			{Start: 2.5, End: 5, Text: " день.", Extra: map[string]json.RawMessage{"id": json.RawMessage("1")}},
		},
	}
}

type stubProber struct {
	d   float64
	err error
}

func (p stubProber) Duration(context.Context, string) (float64, error) { return p.d, p.err }

type fakeEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeEvents) Publish(_ context.Context, _ string, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixedDetector string

func (d fixedDetector) Detect(string) string { return string(d) }

// failingRepo fails every write.
type failingRepo struct{ storage.Repository }

func (failingRepo) Create(context.Context, models.Record, io.Reader) (models.Record, error) {
	return models.Record{}, errors.New("disk full")
}

type harness struct {
	orch     *Orchestrator
	observer *recordingObserver
	repo     storage.Repository
	events   *fakeEvents
	metrics  *metrics.Metrics
	tempDir  string
}

type harnessOpts struct {
	recognizer stt.Recognizer
	prober     stubProber
	repo       storage.Repository
	estimator  *progress.Estimator
	cfg        Config
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := opts.repo
	if repo == nil {
		r, err := badger.Open(badger.Config{InMemory: true}, m)
		if err != nil {
			t.Fatalf("open repository: %v", err)
		}
		t.Cleanup(func() { r.Close() })
		repo = r
	}
	if opts.recognizer == nil {
		opts.recognizer = &fakeRecognizer{}
	}
	if opts.estimator == nil {
		opts.estimator = progress.NewEstimator(2, time.Millisecond)
	}

	b := progress.NewBroadcaster(m)
	obs := &recordingObserver{}
	b.Register(obs)

	cfg := opts.cfg
	cfg.TempDir = t.TempDir()
	if cfg.Language == "" {
		cfg.Language = "uk"
	}
	events := &fakeEvents{}

	orch := New(cfg, Deps{
		Recognizer:  opts.recognizer,
		Prober:      opts.prober,
		Estimator:   opts.estimator,
		Broadcaster: b,
		Repository:  repo,
		Events:      events,
		Detector:    fixedDetector("uk"),
		Metrics:     m,
	})
	return &harness{orch: orch, observer: obs, repo: repo, events: events, metrics: m, tempDir: cfg.TempDir}
}

func (h *harness) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected staged files removed, found %d", len(entries))
	}
}

func audioUpload(body string) Upload {
	return Upload{FileName: "clip.mp3", ContentType: "audio/mpeg", Body: strings.NewReader(body)}
}

func TestTranscribe_Success(t *testing.T) {
	var framesAtReturn atomic.Int32
	h := newHarness(t, harnessOpts{prober: stubProber{d: 10}})
	h.orch.deps.Recognizer = &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		time.Sleep(30 * time.Millisecond)
		framesAtReturn.Store(int32(len(h.observer.snapshot())))
		return sampleResult(), nil
	}}

	rec, err := h.orch.Transcribe(context.Background(), audioUpload("ID3 fake audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	got := h.observer.progress()
	if len(got) < 2 || got[0] != 0 {
		t.Fatalf("expected progress to start at 0, got %v", got)
	}
	completes := 0
	for i, p := range got {
		if p == Complete {
			completes++
			if i != len(got)-1 {
				t.Errorf("progress reported after completion: %v", got)
			}
		}
		if i > 0 && p < got[i-1] {
			t.Errorf("progress decreased: %v", got)
		}
	}
	if completes != 1 {
		t.Errorf("expected exactly one %d, got %d in %v", Complete, completes, got)
	}
	if n := len(h.observer.snapshot()); int32(n-1) < framesAtReturn.Load() {
		t.Errorf("completion must follow the recognizer returning")
	}

	if rec.ID == "" {
		t.Error("expected repository-assigned id")
	}
	if rec.EditedText != rec.TranscribedText || len(rec.EditedSegments) != len(rec.Segments) {
		t.Error("expected edited copies to match recognized values")
	}
	if rec.DurationSeconds != 10 || rec.Language != "uk" || rec.DetectedLanguage != "uk" {
		t.Errorf("unexpected metadata %+v", rec)
	}
	if rec.ContentType != "audio/mpeg" || rec.AudioSize != int64(len("ID3 fake audio")) {
		t.Errorf("unexpected audio metadata %q %d", rec.ContentType, rec.AudioSize)
	}

	audio, err := h.repo.Audio(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("audio not stored: %v", err)
	}
	body, _ := io.ReadAll(audio.Body)
	if string(body) != "ID3 fake audio" {
		t.Errorf("stored audio mismatch: %q", body)
	}

	if types := h.events.types(); len(types) != 1 || types[0] != models.EventTranscriptionCompleted {
		t.Errorf("expected completed event, got %v", types)
	}
	if got := testutil.ToFloat64(h.metrics.TranscriptionsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected completed counter 1, got %v", got)
	}
	h.assertTempDirEmpty(t)
}

// A 10s clip with multiplier 2 is expected to take 20s: 25% at 5s, capped at
// 99 from 20s on, and 100 only after recognition returns.
func TestTranscribe_ProgressFollowsEstimate(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Unix(1_700_000_000, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	h := newHarness(t, harnessOpts{
		prober:    stubProber{d: 10},
		estimator: progress.NewEstimator(2, time.Millisecond).WithClock(clock),
	})
	h.orch.deps.Recognizer = &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		advance(5 * time.Second)
		h.observer.waitFor(t, 25)
		advance(15 * time.Second)
		h.observer.waitFor(t, progress.Cap)
		return sampleResult(), nil
	}}

	rec, err := h.orch.Transcribe(context.Background(), audioUpload("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := h.observer.progress()
	if got[len(got)-1] != Complete {
		t.Errorf("expected final frame %d, got %v", Complete, got)
	}
	caps := 0
	for _, p := range got {
		if p == progress.Cap {
			caps++
		}
	}
	if caps != 1 {
		t.Errorf("expected estimator to stop after reaching the cap once, got %v", got)
	}

	list, err := h.repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("expected the record in history, got %+v", list)
	}
	want := sampleResult().Segments
	if len(list[0].Segments) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(list[0].Segments))
	}
	for i := range want {
		if !list[0].Segments[i].Equal(want[i]) {
			t.Errorf("segment %d mismatch: %+v", i, list[0].Segments[i])
		}
	}
}

type explodingReader struct{ t *testing.T }

func (r explodingReader) Read([]byte) (int, error) {
	r.t.Error("body must not be read for a rejected upload")
	return 0, io.EOF
}

func TestTranscribe_RejectsNonAudio(t *testing.T) {
	tests := []string{"text/plain", "application/octet-stream", "", "video/mp4", "audio"}

	for _, ct := range tests {
		t.Run(ct, func(t *testing.T) {
			rec := &fakeRecognizer{}
			h := newHarness(t, harnessOpts{recognizer: rec})

			_, err := h.orch.Transcribe(context.Background(), Upload{
				FileName: "notes.txt", ContentType: ct, Body: explodingReader{t},
			})
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if rec.calls.Load() != 0 {
				t.Error("recognizer must not run")
			}
			if len(h.observer.snapshot()) != 0 {
				t.Errorf("expected no frames, got %v", h.observer.snapshot())
			}
			h.assertTempDirEmpty(t)
		})
	}
}

func TestTranscribe_StartReportedOnce(t *testing.T) {
	h := newHarness(t, harnessOpts{
		prober:    stubProber{d: 10},
		estimator: progress.NewEstimator(2, time.Hour),
	})
	h.orch.deps.Recognizer = &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return sampleResult(), nil
	}}

	if _, err := h.orch.Transcribe(context.Background(), audioUpload("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := h.observer.progress()
	want := []int{0, Complete}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTranscribe_DurationFailureDegrades(t *testing.T) {
	h := newHarness(t, harnessOpts{prober: stubProber{err: errors.New("ffprobe: not found")}})
	h.orch.deps.Recognizer = &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		h.observer.waitFor(t, progress.Cap)
		return sampleResult(), nil
	}}

	rec, err := h.orch.Transcribe(context.Background(), audioUpload("audio"))
	if err != nil {
		t.Fatalf("probe failure must not fail the request: %v", err)
	}
	if rec.DurationSeconds != 0 {
		t.Errorf("expected zero duration, got %v", rec.DurationSeconds)
	}

	got := h.observer.progress()
	want := []int{0, progress.Cap, Complete}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
	if got := testutil.ToFloat64(h.metrics.ProbeFailures); got != 1 {
		t.Errorf("expected probe failure counted, got %v", got)
	}
}

func TestTranscribe_RecognizerFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{
		prober: stubProber{d: 3600},
		recognizer: &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, errors.New("model crashed")
		}},
	})

	_, err := h.orch.Transcribe(context.Background(), audioUpload("audio"))
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if apperr.HTTPStatus(err) != 500 {
		t.Errorf("expected 500, got %d", apperr.HTTPStatus(err))
	}

	n := len(h.observer.snapshot())
	time.Sleep(20 * time.Millisecond)
	if after := len(h.observer.snapshot()); after != n {
		t.Errorf("estimator still broadcasting after failure: %d -> %d", n, after)
	}

	for _, p := range h.observer.progress() {
		if p == Complete {
			t.Error("failed job must not report completion")
		}
	}
	statuses := h.observer.statuses()
	if len(statuses) != 1 || statuses[0].Status != models.StatusFailed || statuses[0].JobID == "" {
		t.Errorf("expected one failed status frame, got %+v", statuses)
	}

	list, _ := h.repo.List(context.Background())
	if len(list) != 0 {
		t.Errorf("expected nothing persisted, got %d records", len(list))
	}
	if types := h.events.types(); len(types) != 1 || types[0] != models.EventTranscriptionFailed {
		t.Errorf("expected failed event, got %v", types)
	}
	h.assertTempDirEmpty(t)
}

func TestTranscribe_RepositoryFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{prober: stubProber{d: 1}, repo: failingRepo{}})

	_, err := h.orch.Transcribe(context.Background(), audioUpload("audio"))
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	statuses := h.observer.statuses()
	if len(statuses) != 1 || statuses[0].Status != models.StatusFailed {
		t.Errorf("expected failed status after completion, got %+v", statuses)
	}
	h.assertTempDirEmpty(t)
}

func TestTranscribe_RecognizerPanics(t *testing.T) {
	h := newHarness(t, harnessOpts{
		prober: stubProber{d: 3600},
		recognizer: &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
			panic("segfault in model")
		}},
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		h.orch.Transcribe(context.Background(), audioUpload("audio"))
	}()

	n := len(h.observer.snapshot())
	time.Sleep(20 * time.Millisecond)
	if after := len(h.observer.snapshot()); after != n {
		t.Errorf("estimator outlived the panic: %d -> %d", n, after)
	}
	h.assertTempDirEmpty(t)
}

func TestTranscribe_UploadLimits(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"too large", strings.Repeat("a", 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecognizer{}
			h := newHarness(t, harnessOpts{recognizer: rec, cfg: Config{MaxUploadBytes: 64}})

			_, err := h.orch.Transcribe(context.Background(), audioUpload(tt.body))
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if rec.calls.Load() != 0 {
				t.Error("recognizer must not run")
			}
			if len(h.observer.statuses()) != 0 {
				t.Error("no failure frame expected before progress started")
			}
			h.assertTempDirEmpty(t)
		})
	}
}

func TestTranscribe_ConcurrencyLimit(t *testing.T) {
	rec := &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		time.Sleep(15 * time.Millisecond)
		return sampleResult(), nil
	}}
	h := newHarness(t, harnessOpts{recognizer: rec, prober: stubProber{d: 1}, cfg: Config{MaxConcurrent: 1}})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.orch.Transcribe(context.Background(), audioUpload("audio"))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("job %d: %v", i, err)
		}
	}
	if got := rec.maxSeen.Load(); got != 1 {
		t.Errorf("expected at most 1 recognition in flight, saw %d", got)
	}
}

func TestTranscribe_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	rec := &fakeRecognizer{hook: func(context.Context, string) (*stt.Result, error) {
		<-release
		return sampleResult(), nil
	}}
	h := newHarness(t, harnessOpts{recognizer: rec, prober: stubProber{d: 1}, cfg: Config{MaxConcurrent: 1}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Transcribe(context.Background(), audioUpload("first"))
	}()
	for rec.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.orch.Transcribe(ctx, audioUpload("second")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	<-done
	h.assertTempDirEmpty(t)
}

func TestIsAudioContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"audio/mpeg", true},
		{"audio/wav", true},
		{"audio/webm; codecs=opus", true},
		{"AUDIO/OGG", true},
		{"video/webm", false},
		{"text/plain", false},
		{"", false},
		{"audio", false},
	}

	for _, tt := range tests {
		if got := IsAudioContentType(tt.ct); got != tt.want {
			t.Errorf("IsAudioContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestCleanFileName(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"clip.mp3", "clip.mp3", false},
		{"C:\\Users\\me\\clip.mp3", "clip.mp3", false},
		{"../../etc/passwd", "passwd", false},
		{"", "", true},
		{"/", "", true},
	}

	for _, tt := range tests {
		got, err := h.orch.CleanFileName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CleanFileName(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
