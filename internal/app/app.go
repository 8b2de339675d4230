// Package app wires the service components together and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	grpcapi "voicetotext-service/internal/api/grpc"
	"voicetotext-service/internal/config"
	"voicetotext-service/internal/events"
	"voicetotext-service/internal/observability"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/service/language"
	"voicetotext-service/internal/service/probe"
	"voicetotext-service/internal/service/progress"
	"voicetotext-service/internal/service/stt"
	"voicetotext-service/internal/service/stt/google"
	"voicetotext-service/internal/service/stt/mock"
	"voicetotext-service/internal/service/stt/openai"
	"voicetotext-service/internal/service/transcription"
	"voicetotext-service/internal/storage/badger"
)

const gcInterval = 10 * time.Minute

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics      *metrics.Metrics
	Broadcaster  *progress.Broadcaster
	Repository   *badger.Repository
	Publisher    *events.Publisher
	Recognizer   stt.Recognizer
	Orchestrator *transcription.Orchestrator

	grpc  *grpcapi.Server
	ready atomic.Bool
}

// New constructs an Application from cfg. Everything opened here is released
// by Shutdown, or before New returns if construction fails.
func New(ctx context.Context, cfg *config.Config) (_ *Application, err error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	defer func() {
		if err != nil {
			a.release()
		}
	}()

	var targetLang string
	targetLang, err = language.Normalize(cfg.Transcription.Language)
	if err != nil {
		return nil, fmt.Errorf("transcription language: %w", err)
	}

	a.Repository, err = badger.Open(badger.Config{
		Dir:      cfg.Storage.Dir,
		InMemory: cfg.Storage.InMemory,
	}, a.Metrics)
	if err != nil {
		return nil, err
	}

	a.Recognizer, err = newRecognizer(ctx, cfg.STT, targetLang)
	if err != nil {
		return nil, err
	}

	var detector transcription.LanguageDetector
	if cfg.Transcription.DetectLanguage {
		d, err := language.NewDetector(append([]string{targetLang}, language.DefaultCandidates...)...)
		if err != nil {
			return nil, fmt.Errorf("language detector: %w", err)
		}
		detector = d
	}

	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	}, a.Metrics)

	a.Broadcaster = progress.NewBroadcaster(a.Metrics)
	a.Orchestrator = transcription.New(transcription.Config{
		Language:       targetLang,
		TempDir:        cfg.Transcription.TempDir,
		MaxUploadBytes: cfg.Transcription.MaxUploadBytes,
		MaxConcurrent:  cfg.Transcription.MaxConcurrent,
	}, transcription.Deps{
		Recognizer:  a.Recognizer,
		Prober:      probe.Default(cfg.Transcription.FFprobePath, cfg.Transcription.ProbeTimeout),
		Estimator:   progress.NewEstimator(cfg.Transcription.ProgressMultiplier, cfg.Transcription.ProgressTick),
		Broadcaster: a.Broadcaster,
		Repository:  a.Repository,
		Events:      a.Publisher,
		Detector:    detector,
		Metrics:     a.Metrics,
	})

	a.grpc = grpcapi.New(a.Metrics)

	appLogger.Info().
		Str("sttProvider", a.Recognizer.Name()).
		Str("language", targetLang).
		Bool("detectLanguage", detector != nil).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Voice-to-text application created")
	return a, nil
}

// newRecognizer selects the speech backend named by cfg.Provider.
func newRecognizer(ctx context.Context, cfg config.STTConfig, lang string) (stt.Recognizer, error) {
	switch cfg.Provider {
	case "", "mock":
		return mock.New(cfg.MockDelay), nil
	case "openai":
		r, err := openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = language.BCP47(lang)
		gcfg.SampleRateHz = cfg.GoogleSampleRateHz
		gcfg.AudioEncoding = cfg.GoogleAudioEncoding
		r, err := google.New(ctx, gcfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown STT provider %q", stt.ErrNotConfigured, cfg.Provider)
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Env == "dev" {
		format = "console"
	}
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = format
	logging.Init(lc)

	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Ready reports whether the service accepts traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Run serves handler on the HTTP port alongside the gRPC health and metrics
// servers until ctx is cancelled or one of them fails, then shuts everything
// down.
func (a *Application) Run(ctx context.Context, handler http.Handler) error {
	runLogger := a.Logger.With().
		Str("method", "Run").
		Logger()

	cfg := a.Cfg
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, nil, a.Ready)

	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runLogger.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.grpc.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(obsServer.ListenAndServe)
	g.Go(func() error {
		a.Repository.RunGC(gctx, gcInterval)
		return nil
	})

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.grpc.SetServing()
	runLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice-to-text service started")

	g.Go(func() error {
		<-gctx.Done()
		a.ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		a.grpc.Stop()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		a.Broadcaster.CloseAll()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			runLogger.Warn().Err(err).Msg("HTTP server shutdown")
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			runLogger.Warn().Err(err).Msg("Observability server shutdown")
		}
		return nil
	})

	return g.Wait()
}

// Shutdown releases storage, the recognizer and the event publisher. Call it
// after Run returns.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.release()
	shutdownLogger.Info().Msg("Voice-to-text service shut down")
}

func (a *Application) release() {
	if a.Broadcaster != nil {
		a.Broadcaster.CloseAll()
	}
	if c, ok := a.Recognizer.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing recognizer")
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing event publisher")
		}
	}
	if a.Repository != nil {
		if err := a.Repository.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing repository")
		}
	}
}
