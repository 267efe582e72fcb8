package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"github.com/finledger/finledger/internal/archive"
	"github.com/finledger/finledger/internal/categorize"
	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/jobs"
	"github.com/finledger/finledger/internal/jobs/inmemory"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/pipeline"
	"github.com/finledger/finledger/internal/review"
	"github.com/finledger/finledger/internal/segment"
	"github.com/finledger/finledger/internal/statement"
)

// Standalone statement worker. It consumes process-statement jobs and runs
// the ingestion pipeline over archived PDFs. The in-memory queue makes this
// binary mostly useful for local runs; a deployment would swap in Cloud
// Tasks or Pub/Sub behind the same Consumer interface.
func main() {
	var (
		configPath = flag.String("config", "", "path to finledger.yaml (built-in defaults when empty)")
		workers    = flag.Int("workers", 2, "number of concurrent job workers")
	)
	flag.Parse()

	log := logger.New()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("loading configuration failed")
		}
		cfg = loaded
	}
	if cfg.Storage.Bucket == "" {
		log.Fatal().Msg("worker requires an archive bucket in configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("creating storage client failed")
	}
	defer storageClient.Close()
	arc := archive.NewGCSArchive(storageClient, cfg.Storage.Bucket)

	modelClient, err := segment.NewGenAIClient(ctx, cfg.Model.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("creating model client failed")
	}
	segmenter := segment.New(modelClient, segment.Options{
		MaxPromptBytes: cfg.Model.MaxPromptBytes,
		MaxRetries:     cfg.Model.MaxRetries,
	}, log)

	catalog := cfg.Catalog()
	ingest := pipeline.NewIngestionPipeline(
		extract.New(),
		nil,
		statement.NewCleaner(statement.CleanOptions{LookAheadRows: cfg.Pipeline.LookAheadRows}, log),
		segmenter,
		categorize.NewEngine(nil, catalog, log),
		review.NewValidator(review.Options{OutlierMultiple: cfg.Pipeline.OutlierMultiple}, log),
		log,
	)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		statementJob, ok := job.(*jobs.ProcessStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type %T", job)
		}

		pdfBytes, err := arc.Fetch(ctx, statementJob.ArchiveURI)
		if err != nil {
			return fmt.Errorf("fetching archived statement: %w", err)
		}

		// The catalog comes from configuration so the worker needs no
		// database connection.
		out, err := ingest.Process(ctx, &pipeline.State{
			UserID:   statementJob.UserID,
			Filename: statementJob.Filename,
			PDFBytes: pdfBytes,
			Password: statementJob.Password,
			Catalog:  catalog,
		})
		if err != nil {
			return err
		}

		result, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encoding pipeline output: %w", err)
		}
		statementJob.Result = result

		log.Info().
			Str("job_id", statementJob.JobID).
			Str("user_id", statementJob.UserID).
			Int("transactions", len(out.Transactions)).
			Msg("statement processed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("starting job consumer failed")
	}
	log.Info().Int("workers", *workers).Msg("worker started, waiting for jobs")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker shutdown failed")
	}
}
