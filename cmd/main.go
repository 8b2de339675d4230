package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"voicetotext-service/internal/app"
	"voicetotext-service/internal/config"
	httpapi "voicetotext-service/internal/http"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Orchestrator:   application.Orchestrator,
		Repository:     application.Repository,
		Broadcaster:    application.Broadcaster,
		Events:         application.Publisher,
		Metrics:        application.Metrics,
		CORS:           cfg.CORS,
		WebSocket:      cfg.WebSocket,
		MaxUploadBytes: cfg.Transcription.MaxUploadBytes,
		Ready:          application.Ready,
	})

	err = application.Run(ctx, router)
	application.Shutdown()
	if err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
}
