package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "aide/app/configs"
	"aide/app/core/ingest"
	"aide/app/core/intent"
	"aide/app/core/interaction/cli"
	"aide/app/core/interaction/gateway"
	httpserver "aide/app/core/interaction/http"
	"aide/app/core/model"
	"aide/app/core/orchestrator"
	"aide/app/core/profile"
	"aide/app/core/scheduler"
	"aide/app/core/store"
	"aide/app/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	withCLI := flag.Bool("cli", false, "run the interactive terminal channel")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Storage.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("%s starting...", cfg.Agent.Name)

	database, err := store.NewSQLiteDB(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized")

	st := store.NewStore(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sel, err := buildSelector(ctx, cfg)
	if err != nil {
		logger.Error("Failed to build model clients: %v", err)
		os.Exit(1)
	}

	interp := intent.NewInterpreter(cfg.Selector.IntentConfidence)
	profiles := profile.NewManager(st, sel)
	orch := orchestrator.New(st, sel, interp, profiles,
		cfg.Task.DefaultUrgency, cfg.Task.MaxChunkSize, cfg.Task.SummaryLimit)
	ingestor := ingest.NewIngestor(st, sel, cfg.Ingest.DeepBodyThreshold, cfg.Task.DefaultUrgency)

	jobScheduler := scheduler.New()
	err = jobScheduler.Register(scheduler.Job{
		Name:     "email-ingest",
		Interval: time.Duration(cfg.Ingest.PollIntervalMinutes) * time.Minute,
		Timeout:  time.Duration(cfg.Model.CallTimeoutSec) * time.Second * time.Duration(cfg.Ingest.BatchSize),
		Run: func(jobCtx context.Context) error {
			batch, err := ingestor.IngestBatch(jobCtx, cfg.Ingest.BatchSize)
			if err != nil {
				return err
			}
			if batch.Examined > 0 {
				logger.Info("email-ingest: examined=%d ingested=%d skipped=%d failed=%d",
					batch.Examined, batch.Ingested, batch.Skipped, batch.Failed)
			}
			return nil
		},
	})
	if err != nil {
		logger.Error("Failed to register ingest job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown: %v", err)
		}
	}()

	server := httpserver.NewServer(cfg.HTTP.Port, orch, st, jobScheduler)
	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			cancel()
		}
	}()

	if *withCLI {
		gw := gateway.New(orchestrator.NewAgent(orch))
		gw.RegisterChannel(cli.NewCLIChannel(""))
		go func() {
			if err := gw.Start(ctx); err != nil {
				logger.Error("Gateway stopped: %v", err)
			}
			cancel()
		}()
	}

	logger.Info("%s is ready", cfg.Agent.Name)
	fmt.Printf("- HTTP API: http://localhost:%d/api/process (POST)\n", cfg.HTTP.Port)
	fmt.Printf("- Health:   http://localhost:%d/health\n", cfg.HTTP.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Received signal: %v. Shutting down...", sig)
	case <-ctx.Done():
	}
	cancel()
}

// buildSelector wires the two model tiers. The deep tier is optional: with
// no Gemini key the selector runs conversational-only and never escalates.
func buildSelector(ctx context.Context, cfg config.Config) (*model.Selector, error) {
	if cfg.Model.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	conversational, err := model.NewOpenAIClient(cfg.Model.OpenAIAPIKey, cfg.Model.ConversationalModel)
	if err != nil {
		return nil, err
	}

	var deep model.Capability
	if cfg.Model.GeminiAPIKey != "" {
		client, err := model.NewGeminiClient(ctx, cfg.Model.GeminiAPIKey, cfg.Model.DeepModel)
		if err != nil {
			return nil, err
		}
		deep = client
	} else {
		logger.Info("GEMINI_API_KEY not set, deep tier disabled")
	}

	params := model.Params{
		Temperature: cfg.Model.Temperature,
		TopP:        cfg.Model.TopP,
		TopK:        cfg.Model.TopK,
		MaxTokens:   cfg.Model.MaxTokens,
	}
	return model.NewSelector(conversational, deep,
		cfg.Selector.DeepInputThreshold,
		time.Duration(cfg.Model.CallTimeoutSec)*time.Second,
		params), nil
}
