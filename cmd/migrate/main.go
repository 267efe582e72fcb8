package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/logger"
)

// Applies versioned SQL migrations to the BigQuery dataset. Files live in
// migrations/bigquery and are named NNNN_description.sql; applied versions
// are tracked in a schema_migrations table so reruns are safe.

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

var migrationFileRe = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	var (
		projectID = flag.String("project", "", "GCP project ID (required)")
		datasetID = flag.String("dataset", "finledger", "BigQuery dataset ID")
		dir       = flag.String("migrations", "migrations/bigquery", "path to the migrations directory")
		appliedBy = flag.String("applied-by", "migrate-cli", "recorded as the applier of new migrations")
	)
	flag.Parse()

	log := logger.New().With().Str("component", "migrate").Logger()

	if *projectID == "" {
		log.Fatal().Msg("-project is required")
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("creating BigQuery client failed")
	}
	defer client.Close()

	if err := ensureDataset(ctx, client, *datasetID); err != nil {
		log.Fatal().Err(err).Str("dataset", *datasetID).Msg("ensuring dataset failed")
	}
	if err := runQuery(ctx, client, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)`, *projectID, *datasetID)); err != nil {
		log.Fatal().Err(err).Msg("ensuring schema_migrations table failed")
	}

	migrations, err := readMigrations(*dir, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("reading migrations failed")
	}

	applied, err := appliedVersions(ctx, client, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("reading applied migrations failed")
	}

	log.Info().
		Str("project", *projectID).
		Str("dataset", *datasetID).
		Int("found", len(migrations)).
		Int("applied", len(applied)).
		Msg("starting migration run")

	ran := 0
	for _, m := range migrations {
		label := fmt.Sprintf("%04d_%s", m.Version, m.Name)
		if applied[m.Version] {
			log.Debug().Str("migration", label).Msg("already applied")
			continue
		}
		if err := runQuery(ctx, client, m.SQL); err != nil {
			log.Fatal().Err(err).Str("migration", label).Msg("migration failed")
		}
		if err := recordMigration(ctx, client, *projectID, *datasetID, m, *appliedBy); err != nil {
			log.Fatal().Err(err).Str("migration", label).Msg("recording migration failed")
		}
		log.Info().Str("migration", label).Msg("applied")
		ran++
	}

	if ran == 0 {
		log.Info().Msg("dataset is up to date")
	} else {
		log.Info().Int("count", ran).Msg("migrations applied")
	}
}

func ensureDataset(ctx context.Context, client *bigquery.Client, datasetID string) error {
	ds := client.Dataset(datasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return ds.Create(ctx, &bigquery.DatasetMetadata{Name: datasetID})
	}
	return err
}

func readMigrations(dir, projectID, datasetID string) ([]migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFileRe.FindStringSubmatch(file.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file.Name(), err)
		}

		// Checksum covers the template, not the rendered SQL, so the same
		// migration applied to different projects compares equal.
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, migration{
			Version:  version,
			Name:     matches[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func appliedVersions(ctx context.Context, client *bigquery.Client, projectID, datasetID string) (map[int]bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version FROM `+"`%s.%s.schema_migrations`"+` ORDER BY version
	`, projectID, datasetID))

	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return map[int]bool{}, nil
		}
		return nil, err
	}

	applied := make(map[int]bool)
	for {
		var row struct {
			Version int64 `bigquery:"version"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		applied[int(row.Version)] = true
	}
	return applied, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, projectID, datasetID string, m migration, appliedBy string) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, projectID, datasetID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	return runJob(ctx, q)
}

func runQuery(ctx context.Context, client *bigquery.Client, sql string) error {
	return runJob(ctx, client.Query(sql))
}

func runJob(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
