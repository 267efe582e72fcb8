package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gbq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/handlers"
	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/archive"
	"github.com/finledger/finledger/internal/categorize"
	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/importer"
	"github.com/finledger/finledger/internal/jobs"
	"github.com/finledger/finledger/internal/jobs/inmemory"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/pipeline"
	"github.com/finledger/finledger/internal/review"
	"github.com/finledger/finledger/internal/segment"
	"github.com/finledger/finledger/internal/statement"
	"github.com/finledger/finledger/internal/store"
	bqstore "github.com/finledger/finledger/internal/store/bigquery"
	"github.com/finledger/finledger/internal/store/sqlite"
)

// backendStores bundles the storage interfaces every backend implements.
type backendStores interface {
	store.TransactionStore
	store.BudgetStore
	store.CategoryCatalog
	io.Closer
}

func main() {
	var (
		configPath = flag.String("config", "", "path to finledger.yaml (built-in defaults when empty)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
		rulesPath  = flag.String("rules", "", "path to a categorization rules YAML (built-in rules when empty)")
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
	if *port != "" {
		cfg.Server.Port = *port
	}

	ctx := context.Background()

	stores := openStores(ctx, cfg, log)
	defer stores.Close()

	var arc archive.Service
	if cfg.Storage.Bucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("creating storage client failed")
		}
		defer storageClient.Close()
		arc = archive.NewGCSArchive(storageClient, cfg.Storage.Bucket)
	} else {
		log.Warn().Msg("no archive bucket configured, uploaded originals will not be retained")
	}

	modelClient, err := segment.NewGenAIClient(ctx, cfg.Model.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("creating model client failed")
	}
	segmenter := segment.New(modelClient, segment.Options{
		MaxPromptBytes: cfg.Model.MaxPromptBytes,
		MaxRetries:     cfg.Model.MaxRetries,
	}, log)

	var rules []categorize.Rule
	if *rulesPath != "" {
		rules, err = categorize.LoadRules(*rulesPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *rulesPath).Msg("loading categorization rules failed")
		}
	}

	ingest := pipeline.NewIngestionPipeline(
		extract.New(),
		stores,
		statement.NewCleaner(statement.CleanOptions{LookAheadRows: cfg.Pipeline.LookAheadRows}, log),
		segmenter,
		categorize.NewEngine(rules, cfg.Catalog(), log),
		review.NewValidator(review.Options{OutlierMultiple: cfg.Pipeline.OutlierMultiple}, log),
		log,
	)

	imp := importer.New(stores, stores, importer.Options{MaxBatchSize: cfg.Pipeline.MaxBatchSize}, log)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 2, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := jobQueue.Start(workerCtx, processStatement(ingest, arc, log)); err != nil {
		log.Fatal().Err(err).Msg("starting job workers failed")
	}

	statementsHandler := handlers.NewStatementsHandler(ingest, imp, arc, jobQueue, log)
	categoriesHandler := handlers.NewCategoriesHandler(stores, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/statements/upload", postOnly(statementsHandler.Upload))
	mux.HandleFunc("/api/statements/upload-async", postOnly(statementsHandler.UploadAsync))
	mux.HandleFunc("/api/statements/import", postOnly(statementsHandler.Import))

	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		categoriesHandler.ListCategories(w, r)
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		jobsHandler.ListJobs(w, r)
	})
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required", "")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler,
		// Uploads can take a while: PDF extraction plus a model round trip.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("backend", cfg.Storage.Backend).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("job queue shutdown failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}
		h(w, r)
	}
}

// openStores selects the storage backend named in configuration.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) backendStores {
	switch cfg.Storage.Backend {
	case "bigquery":
		client, err := gbq.NewClient(ctx, cfg.Storage.ProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("creating BigQuery client failed")
		}
		return bqstore.New(client, cfg.Storage.ProjectID, cfg.Storage.Dataset)
	case "sqlite", "":
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("opening sqlite database failed")
		}
		if err := db.SeedCategories(ctx, cfg.Catalog()); err != nil {
			log.Fatal().Err(err).Msg("seeding categories failed")
		}
		return db
	default:
		log.Fatal().Str("backend", cfg.Storage.Backend).Msg("unknown storage backend")
		return nil
	}
}

// processStatement handles queued async uploads: fetch the archived PDF,
// run the ingestion pipeline, and record the shaped output on the job.
func processStatement(ingest *pipeline.Pipeline, arc archive.Service, log zerolog.Logger) jobs.JobHandler {
	jobLog := log.With().Str("component", "statement_worker").Logger()

	return func(ctx context.Context, job jobs.Job) error {
		statementJob, ok := job.(*jobs.ProcessStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type %T", job)
		}
		if arc == nil {
			return fmt.Errorf("no archive configured, cannot fetch %s", statementJob.ArchiveURI)
		}

		pdfBytes, err := arc.Fetch(ctx, statementJob.ArchiveURI)
		if err != nil {
			return fmt.Errorf("fetching archived statement: %w", err)
		}

		out, err := ingest.Process(ctx, &pipeline.State{
			UserID:   statementJob.UserID,
			Filename: statementJob.Filename,
			PDFBytes: pdfBytes,
			Password: statementJob.Password,
		})
		if err != nil {
			return err
		}

		result, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encoding pipeline output: %w", err)
		}
		statementJob.Result = result

		jobLog.Info().
			Str("job_id", statementJob.JobID).
			Str("user_id", statementJob.UserID).
			Int("transactions", len(out.Transactions)).
			Msg("async statement processed")
		return nil
	}
}
