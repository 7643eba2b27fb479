package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"soradesk/internal/domain"
	"soradesk/internal/events"
	"soradesk/internal/gallery"
	"soradesk/internal/http/handlers"
	httpapi "soradesk/internal/http/httpapi"
	"soradesk/internal/infra"
	"soradesk/internal/providers/prompt"
	"soradesk/internal/providers/sora"
	"soradesk/internal/queue"
	"soradesk/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	kv, err := storage.OpenKV(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open slot store")
	}
	defer kv.Close()

	files, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open file store")
	}

	client, err := sora.NewClient(sora.Options{
		Endpoint:        cfg.AzureEndpoint,
		APIKey:          cfg.AzureAPIKey,
		APIVersion:      cfg.APIVersion,
		Model:           cfg.SoraModel,
		Logger:          &logger,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generation client")
	}

	enhancer, err := prompt.NewAzureEnhancer(prompt.AzureOptions{
		Endpoint:   cfg.EnhancerEndpoint,
		APIKey:     cfg.EnhancerAPIKey,
		Deployment: cfg.EnhancerDeployment,
		APIVersion: cfg.EnhancerAPIVersion,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build prompt enhancer")
	}

	ctx := context.Background()
	lib := gallery.NewLibrary(kv, files, &logger)
	lib.SetFetcher(client)
	if err := lib.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load gallery")
	}

	hub := events.NewHub(&logger)
	go hub.Run()

	controller := queue.NewController(queue.Options{
		Client:    client,
		Persister: queue.NewPersister(kv, &logger),
		Logger:    &logger,
		OnComplete: func(comp queue.Completion) {
			gen, err := lib.Add(ctx, comp.Generation, comp.Video)
			if err != nil {
				logger.Error().Err(err).Str("generation_id", comp.Generation.ID).Msg("failed to archive generation")
				return
			}
			hub.Broadcast("generation", gen)
		},
		OnNotice: func(n queue.Notice) {
			hub.Broadcast("notice", n)
		},
		OnJobs: func(jobs []domain.Job) {
			hub.Broadcast("jobs", handlers.JobsPayload(jobs))
		},
		MaxConcurrent:       cfg.MaxConcurrent,
		AdmissionInterval:   cfg.AdmissionInterval,
		MaxRetries:          cfg.MaxRetries,
		BaseRetryDelay:      cfg.BaseRetryDelay,
		RateLimitRetryDelay: cfg.RateLimitRetryDelay,
		SaveDebounce:        cfg.SaveDebounce,
	})

	queueCtx, stopQueue := context.WithCancel(ctx)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		_ = controller.Run(queueCtx)
	}()

	app := handlers.NewApp(controller, lib, enhancer, &logger)
	ws := events.NewHandler(hub, cfg.AllowedOrigins, &logger)
	router := httpapi.NewRouter(app, ws, cfg.AllowedOrigins, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("sidecar listening on 127.0.0.1:%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Stopping the queue flushes any pending persistence write.
	stopQueue()
	<-queueDone

	logger.Info().Msg("sidecar stopped")
}
