package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/adapter/repo"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/generate"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/http/handlers"
	httpapi "github.com/G858-debug/No-Safe-Word-sub002/internal/http/httpapi"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/identity"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/infra"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/jobs"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}

	characterRepo := repo.NewCharacterRepository(dbpool)
	imageRepo := repo.NewImageRepository(dbpool)
	jobRepo := repo.NewJobRepository(dbpool)
	loraRepo := repo.NewLoraRepository(dbpool)

	selfhosted, err := backend.NewSelfHostedClient(backend.SelfHostedOptions{
		BaseURL: cfg.SelfHostedBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init selfhosted backend")
	}

	var pollers []backend.AsyncPollable
	var runpod *backend.RunPodClient
	if cfg.RunPodAPIKey != "" && cfg.RunPodEndpointID != "" {
		runpod, err = backend.NewRunPodClient(backend.RunPodOptions{
			BaseURL:          cfg.RunPodBaseURL,
			APIKey:           cfg.RunPodAPIKey,
			EndpointID:       cfg.RunPodEndpointID,
			SubmitsPerMinute: cfg.RunPodSubmitsPerMinute,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init runpod backend")
		}
		pollers = append(pollers, runpod)
	}
	if cfg.ComfyDeployAPIKey != "" && cfg.ComfyDeployDeploymentID != "" {
		comfydeploy, err := backend.NewComfyDeployClient(backend.ComfyDeployOptions{
			BaseURL:      cfg.ComfyDeployBaseURL,
			APIKey:       cfg.ComfyDeployAPIKey,
			DeploymentID: cfg.ComfyDeployDeploymentID,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init comfydeploy backend")
		}
		pollers = append(pollers, comfydeploy)
	}

	sel := selector.NewService(loraRepo, logger)
	manager := jobs.NewManager(jobRepo, imageRepo, store, selfhosted, pollers, logger)
	gen := generate.NewService(characterRepo, imageRepo, sel, manager, domain.BackendKind(cfg.DefaultBackend), logger)

	var trainingPipeline *identity.Pipeline
	if cfg.EvaluatorBaseURL != "" && cfg.RunPodAPIKey != "" && cfg.TrainerEndpointID != "" {
		evaluator, err := identity.NewEvaluator(identity.EvaluatorOptions{BaseURL: cfg.EvaluatorBaseURL})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init face evaluator")
		}
		trainer, err := identity.NewTrainer(identity.TrainerOptions{
			BaseURL:    cfg.RunPodBaseURL,
			APIKey:     cfg.RunPodAPIKey,
			EndpointID: cfg.TrainerEndpointID,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init trainer")
		}
		var renderer identity.Renderer
		if runpod != nil {
			renderer = identity.NewPollRenderer(runpod, 5*time.Second)
		} else {
			renderer = identity.NewSyncRenderer(selfhosted)
		}
		trainingPipeline = identity.NewPipeline(
			characterRepo, loraRepo, store, renderer, evaluator, trainer, sel, logger,
			identity.Config{
				BaseModel:   cfg.IdentityBaseModel,
				DatasetSize: cfg.IdentityDatasetSize,
				TrainSteps:  cfg.IdentityTrainSteps,
			},
		)
	} else {
		logger.Warn().Msg("identity training disabled: evaluator or trainer not configured")
	}

	app := handlers.NewApp(gen, manager, trainingPipeline, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       cfg.StoragePath,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
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
	logger.Info().Msg("server stopped")
}
