// Package transcription runs one upload through staging, duration probing,
// recognition and persistence while reporting progress to observers.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/schema"
	"voicetotext-service/internal/service/probe"
	"voicetotext-service/internal/service/progress"
	"voicetotext-service/internal/service/stt"
	"voicetotext-service/internal/storage"
)

// Complete is the terminal progress value. Only the orchestrator sends it.
const Complete = 100

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, key string, ev models.Event) error
}

// LanguageDetector guesses the language of a transcript; "" means unknown.
type LanguageDetector interface {
	Detect(text string) string
}

// Config holds orchestrator settings.
type Config struct {
	Language       string // ISO 639-1 code passed to the recognizer
	TempDir        string // "" uses os.TempDir()
	MaxUploadBytes int64
	MaxConcurrent  int64 // recognitions allowed at once; <= 0 means 1
}

// Deps are the collaborators of an Orchestrator. Events and Detector are
// optional.
type Deps struct {
	Recognizer  stt.Recognizer
	Prober      probe.Prober
	Estimator   *progress.Estimator
	Broadcaster *progress.Broadcaster
	Repository  storage.Repository
	Events      EventPublisher
	Detector    LanguageDetector
	Metrics     *metrics.Metrics
}

// Upload is one incoming audio file. Body is read at most once.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Orchestrator drives transcription jobs.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	validator *schema.Validator
	sem       *semaphore.Weighted
	logger    zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Estimator == nil {
		deps.Estimator = progress.NewEstimator(progress.DefaultMultiplier, progress.DefaultTick)
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		validator: schema.New(),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logging.WithComponent("transcription"),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// IsAudioContentType reports whether a declared Content-Type is audio/*.
func IsAudioContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "audio/")
}

// CleanFileName strips any client-side directory from an upload name and
// validates what is left.
func (o *Orchestrator) CleanFileName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if err := o.validator.ValidateFileName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Transcribe runs up through the whole pipeline and returns the persisted
// record. The content type is checked before anything touches the disk.
// Whatever step fails, the staged file is removed and the estimator is
// stopped before Transcribe returns.
func (o *Orchestrator) Transcribe(ctx context.Context, up Upload) (models.Record, error) {
	if !IsAudioContentType(up.ContentType) {
		o.deps.Metrics.RecordRejected()
		return models.Record{}, fmt.Errorf("%w: file must be audio, got content type %q", apperr.ErrInvalidInput, up.ContentType)
	}
	name, err := o.CleanFileName(up.FileName)
	if err != nil {
		o.deps.Metrics.RecordRejected()
		return models.Record{}, err
	}

	job := NewJob(o.newID(), name, o.now())
	logger := logging.WithJob(job.ID(), name)
	o.deps.Metrics.RecordTranscriptionStart()

	r := &run{o: o, job: job, logger: logger, contentType: up.ContentType}
	defer r.cleanup()

	outcome := "failed"
	defer func() {
		o.deps.Metrics.RecordTranscriptionEnd(outcome, o.now().Sub(job.StartedAt()).Seconds())
	}()

	rec, err := r.execute(ctx, up.Body)
	if err != nil {
		r.fail(ctx, err)
		if !errors.Is(err, apperr.ErrInvalidInput) && !errors.Is(err, apperr.ErrUpstream) {
			err = fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
		}
		return models.Record{}, err
	}
	outcome = "completed"
	return rec, nil
}

// run holds the scoped resources of one job.
type run struct {
	o           *Orchestrator
	job         *Job
	logger      zerolog.Logger
	contentType string

	staged          *os.File
	estimate        *progress.Run
	progressStarted bool
	duration        float64
}

func (r *run) execute(ctx context.Context, body io.Reader) (models.Record, error) {
	o := r.o

	size, err := r.stage(body)
	if err != nil {
		return models.Record{}, err
	}
	if err := r.job.Advance(StateStaged); err != nil {
		return models.Record{}, err
	}
	r.logger.Info().Int64("bytes", size).Str("path", r.staged.Name()).Msg("Upload staged")

	r.probe(ctx)
	if err := r.job.Advance(StateProbed); err != nil {
		return models.Record{}, err
	}

	res, err := r.recognize(ctx)
	if err != nil {
		return models.Record{}, err
	}

	if err := r.job.Advance(StateFinalizing); err != nil {
		return models.Record{}, err
	}
	o.deps.Broadcaster.Broadcast(r.job.ID(), Complete)

	rec, err := r.persist(ctx, res)
	if err != nil {
		return models.Record{}, err
	}
	if err := r.job.Advance(StatePersisted); err != nil {
		return models.Record{}, err
	}

	r.logger.Info().
		Str("recordId", rec.ID).
		Int("segments", len(rec.Segments)).
		Str("detectedLanguage", rec.DetectedLanguage).
		Msg("Transcription persisted")
	r.publish(ctx, models.Event{
		EventType:       models.EventTranscriptionCompleted,
		RecordID:        rec.ID,
		JobID:           r.job.ID(),
		FileName:        rec.FileName,
		DurationSeconds: rec.DurationSeconds,
		Segments:        len(rec.Segments),
	})
	return rec, nil
}

// stage copies the upload into a private temporary file.
func (r *run) stage(body io.Reader) (int64, error) {
	o := r.o
	ext := filepath.Ext(r.job.FileName())
	if len(ext) > 10 {
		ext = ""
	}
	f, err := os.CreateTemp(o.cfg.TempDir, "voicetotext-*"+ext)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	r.staged = f

	src := body
	if o.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(body, o.cfg.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return n, fmt.Errorf("write upload: %w", err)
	}
	if o.cfg.MaxUploadBytes > 0 && n > o.cfg.MaxUploadBytes {
		return n, fmt.Errorf("%w: upload exceeds %d bytes", apperr.ErrInvalidInput, o.cfg.MaxUploadBytes)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: audio file is empty", apperr.ErrInvalidInput)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("flush upload: %w", err)
	}
	o.deps.Metrics.RecordUpload(n)
	return n, nil
}

// probe never fails the job; an unknown duration becomes 0.
func (r *run) probe(ctx context.Context) {
	if r.o.deps.Prober == nil {
		return
	}
	d, err := r.o.deps.Prober.Duration(ctx, r.staged.Name())
	if err != nil {
		r.o.deps.Metrics.RecordProbeFailure()
		r.logger.Warn().
			Err(fmt.Errorf("%w: %w", apperr.ErrDegraded, err)).
			Msg("Duration probe failed, estimating from zero")
		return
	}
	r.duration = d
	r.logger.Debug().Float64("durationSeconds", d).Msg("Duration probed")
}

func (r *run) recognize(ctx context.Context) (*stt.Result, error) {
	o := r.o
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for recognizer slot: %w", err)
	}
	defer o.sem.Release(1)

	if err := r.job.Advance(StateTranscribing); err != nil {
		return nil, err
	}

	r.progressStarted = true
	o.deps.Broadcaster.Broadcast(r.job.ID(), 0)
	jobID := r.job.ID()
	r.estimate = o.deps.Estimator.Start(ctx, r.duration, func(p int) {
		o.deps.Broadcaster.Broadcast(jobID, p)
	})

	r.logger.Info().
		Str("provider", o.deps.Recognizer.Name()).
		Str("language", o.cfg.Language).
		Float64("durationSeconds", r.duration).
		Dur("estimatedTotal", o.deps.Estimator.EstimatedTotal(r.duration)).
		Msg("Recognition started")

	start := time.Now()
	res, err := o.deps.Recognizer.Transcribe(ctx, r.staged.Name(), o.cfg.Language)
	o.deps.Metrics.RecordRecognition(o.deps.Recognizer.Name(), time.Since(start).Seconds())

	// The estimator must be gone before anything else is broadcast.
	r.estimate.Stop()

	if err != nil {
		return nil, fmt.Errorf("%w: recognition: %w", apperr.ErrUpstream, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: recognizer returned no result", apperr.ErrUpstream)
	}
	return res, nil
}

func (r *run) persist(ctx context.Context, res *stt.Result) (models.Record, error) {
	o := r.o

	rec := models.NewRecord("", r.job.FileName(), res.Text, res.Segments, o.now())
	rec.ContentType = r.contentType
	rec.DurationSeconds = r.duration
	rec.Language = o.cfg.Language
	rec.DetectedLanguage = res.Language
	if o.deps.Detector != nil {
		if lang := o.deps.Detector.Detect(res.Text); lang != "" {
			rec.DetectedLanguage = lang
		}
	}

	if _, err := r.staged.Seek(0, io.SeekStart); err != nil {
		return models.Record{}, fmt.Errorf("%w: rewind staged upload: %v", apperr.ErrUpstream, err)
	}
	stored, err := o.deps.Repository.Create(ctx, rec, r.staged)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: store record: %w", apperr.ErrUpstream, err)
	}
	return stored, nil
}

func (r *run) fail(ctx context.Context, err error) {
	if !r.job.Fail(err) {
		return
	}
	r.logger.Error().Err(err).Str("state", r.job.State().String()).Msg("Transcription failed")

	// Observers that saw progress start must not be left waiting on it.
	if r.progressStarted {
		r.o.deps.Broadcaster.Publish(models.StatusFrame{
			Status: models.StatusFailed,
			JobID:  r.job.ID(),
			Error:  err.Error(),
		})
	}
	r.publish(context.WithoutCancel(ctx), models.Event{
		EventType: models.EventTranscriptionFailed,
		JobID:     r.job.ID(),
		FileName:  r.job.FileName(),
		Error:     err.Error(),
	})
}

func (r *run) publish(ctx context.Context, ev models.Event) {
	if r.o.deps.Events == nil {
		return
	}
	key := ev.RecordID
	if key == "" {
		key = ev.JobID
	}
	if err := r.o.deps.Events.Publish(ctx, key, ev); err != nil {
		r.logger.Warn().Err(err).Str("eventType", ev.EventType).Msg("Failed to publish event")
	}
}

// cleanup runs on every exit path.
func (r *run) cleanup() {
	if r.estimate != nil {
		r.estimate.Stop()
	}
	if r.staged == nil {
		return
	}
	path := r.staged.Name()
	if err := r.staged.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close staged upload")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Error().Err(err).Str("path", path).Msg("Failed to remove staged upload")
		return
	}
	r.logger.Debug().Str("path", path).Msg("Staged upload removed")
}
