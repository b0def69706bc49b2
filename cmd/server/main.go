// Command server runs the eventflow service: event ingestion, rule
// evaluation, triggered-event history, and the live event stream.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/eventflow/api"
	"github.com/liamcoop/eventflow/collab"
	"github.com/liamcoop/eventflow/condition"
	"github.com/liamcoop/eventflow/dispatch"
	"github.com/liamcoop/eventflow/engine"
	"github.com/liamcoop/eventflow/internal/config"
	"github.com/liamcoop/eventflow/internal/logger"
	"github.com/liamcoop/eventflow/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	log, logShutdown, err := logger.Setup(ctx, "eventflow")
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := logShutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
		}
	}()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		log.Info("database connected")
	} else {
		log.Warn("no database configured, running on in-memory stores")
	}

	evaluator, err := condition.NewEvaluator(condition.Options{
		Similarity: similarityClient(cfg),
		Graph:      graphClient(cfg),
		Location:   cfg.Location(),
		Timeout:    cfg.CollaboratorTimeout(),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("create evaluator: %w", err)
	}

	publisher := notify.NewPublisher(notify.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ClientBuffer:      cfg.Notify.ClientBuffer,
		Logger:            log,
	})
	publisher.Start()
	defer publisher.Stop()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	dispatcher := dispatch.NewDispatcher(dispatchCtx, dispatch.Config{
		Prompts:    promptClient(cfg),
		Workflows:  workflowClient(cfg),
		Intents:    intentClient(cfg),
		Publisher:  publisher,
		Workers:    cfg.Engine.ActionWorkers,
		QueueDepth: cfg.Engine.QueueDepth,
		Timeout:    cfg.ActionTimeout(),
		Logger:     log,
	})
	defer dispatcher.Shutdown()

	manager := engine.NewManager(engine.ManagerConfig{
		DB:         db,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		WindowSize: cfg.Engine.WindowSize,
		Logger:     log,
	})
	if err := manager.LoadProjects(ctx); err != nil {
		return fmt.Errorf("load projects: %w", err)
	}

	server := api.NewServer(api.Config{
		Manager:   manager,
		Publisher: publisher,
		DB:        db,
		UploadDir: cfg.Uploads.Dir,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	log.Info("server stopped")
	return nil
}

func similarityClient(cfg *config.Config) collab.SimilarityScorer {
	if cfg.Collaborators.SimilarityURL == "" {
		return nil
	}
	return collab.NewHTTPSimilarityScorer(cfg.Collaborators.SimilarityURL, cfg.CollaboratorTimeout())
}

func graphClient(cfg *config.Config) collab.GraphQuerier {
	if cfg.Collaborators.GraphURL == "" {
		return nil
	}
	return collab.NewHTTPGraphQuerier(cfg.Collaborators.GraphURL, cfg.CollaboratorTimeout())
}

func promptClient(cfg *config.Config) collab.PromptExecutor {
	if cfg.Collaborators.PromptURL == "" {
		return nil
	}
	return collab.NewHTTPPromptExecutor(cfg.Collaborators.PromptURL, cfg.CollaboratorTimeout())
}

func workflowClient(cfg *config.Config) collab.WorkflowSignaler {
	if cfg.Collaborators.WorkflowURL == "" {
		return nil
	}
	return collab.NewHTTPWorkflowSignaler(cfg.Collaborators.WorkflowURL, cfg.CollaboratorTimeout())
}

func intentClient(cfg *config.Config) collab.IntentEmitter {
	if cfg.Collaborators.IntentURL == "" {
		return nil
	}
	return collab.NewHTTPIntentEmitter(cfg.Collaborators.IntentURL, cfg.CollaboratorTimeout())
}
