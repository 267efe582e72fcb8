package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/finledger/finledger/internal/categorize"
	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/pipeline"
	"github.com/finledger/finledger/internal/review"
	"github.com/finledger/finledger/internal/segment"
	"github.com/finledger/finledger/internal/statement"
)

// Local ingestion CLI: runs the full pipeline over a PDF on disk and
// prints the parsed statement as JSON. Nothing is written to storage.
func main() {
	var (
		pdfPath    = flag.String("pdf", "", "path to the statement PDF (required)")
		password   = flag.String("password", "", "PDF password, if the statement is protected")
		configPath = flag.String("config", "", "path to finledger.yaml (built-in defaults when empty)")
		userID     = flag.String("user", "local", "user ID to attribute the statement to")
	)
	flag.Parse()

	log := logger.New()

	if *pdfPath == "" {
		log.Fatal().Msg("-pdf is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("loading configuration failed")
		}
		cfg = loaded
	}

	pdfBytes, err := os.ReadFile(*pdfPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *pdfPath).Msg("reading PDF failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

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

	out, err := ingest.Process(ctx, &pipeline.State{
		UserID:   *userID,
		Filename: *pdfPath,
		PDFBytes: pdfBytes,
		Password: *password,
		Catalog:  catalog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ingestion failed")
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("encoding result failed")
	}
	fmt.Println(string(encoded))
}
