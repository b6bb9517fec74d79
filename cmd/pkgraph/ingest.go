package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkgraph/pkgraph-go/internal/config"
	"github.com/pkgraph/pkgraph-go/internal/graph"
	"github.com/pkgraph/pkgraph-go/internal/history"
	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/pipeline"
	"github.com/pkgraph/pkgraph-go/internal/resolve"
	"github.com/pkgraph/pkgraph-go/internal/schema"
	"github.com/pkgraph/pkgraph-go/internal/staging"
)

var fromStaging bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [record files...]",
	Short: "Ingest raw source records into the knowledge graph",
	Long: `Reads raw records from JSON files (or the staging store with
--from-staging), runs the full pipeline - normalize, resolve identities,
extract relations, assemble - and prints the run summary.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&fromStaging, "from-staging", false, "drain pending records from the staging store")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return err
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer hist.Close()

	p := pipeline.New(s, graph.NewAssembler(backend, hist), pipeline.Options{
		MergePolicy:     resolve.MergePolicy(cfg.Pipeline.MergePolicy),
		SnapshotSources: cfg.Pipeline.SnapshotSources,
	}, logger)

	var summary *models.Summary
	if fromStaging {
		store, err := buildStaging(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		summary, err = p.RunFromStaging(ctx, store, "", cfg.Pipeline.BatchSize)
		if err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("no record files given (or use --from-staging)")
		}
		records, err := loadRecordFiles(args)
		if err != nil {
			return err
		}
		summary, err = p.Run(ctx, records)
		if err != nil {
			return err
		}
	}

	printSummary(summary)
	return nil
}

// buildBackend creates the configured graph backend, wrapped with bounded
// retry and write pacing.
func buildBackend(ctx context.Context, cfg *config.Config) (graph.Backend, error) {
	var inner graph.Backend
	switch cfg.Graph.Type {
	case "memory":
		inner = graph.NewMemoryBackend()
	default:
		var err error
		inner, err = graph.NewNeo4jBackend(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
		if err != nil {
			return nil, err
		}
	}
	return graph.NewRetryingBackend(inner, graph.RetryConfig{
		MaxAttempts:  cfg.Graph.MaxRetries,
		BaseDelay:    cfg.Graph.RetryBackoff,
		WritesPerSec: cfg.Graph.WritesPerSec,
	}), nil
}

func buildStaging(ctx context.Context, cfg *config.Config) (staging.Store, error) {
	if cfg.Staging.Type == "postgres" {
		return staging.NewPostgresStore(ctx, cfg.Staging.Host, cfg.Staging.Port,
			cfg.Staging.Database, cfg.Staging.User, cfg.Staging.Password)
	}
	return staging.NewSQLiteStore(ctx, cfg.Staging.LocalPath)
}

// loadRecordFiles reads raw records from JSON files. Each file holds either
// a single record or an array of records; records missing a timestamp get
// the file's modification time as their source freshness.
func loadRecordFiles(paths []string) ([]models.RawRecord, error) {
	var records []models.RawRecord
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var batch []models.RawRecord
		if err := json.Unmarshal(data, &batch); err != nil {
			var single models.RawRecord
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("%s is not a record or record array: %w", path, err)
			}
			batch = []models.RawRecord{single}
		}

		var fallback time.Time
		if info, err := os.Stat(path); err == nil {
			fallback = info.ModTime()
		}
		for i := range batch {
			if batch[i].ObservedAt.IsZero() {
				batch[i].ObservedAt = fallback
			}
		}
		records = append(records, batch...)
	}
	return records, nil
}

func printSummary(s *models.Summary) {
	logger.WithFields(logrus.Fields{
		"run_id":           s.RunID,
		"duration":         s.Duration.String(),
		"vertices_created": s.VerticesCreated,
		"vertices_updated": s.VerticesUpdated,
		"edges_created":    s.EdgesCreated,
		"edges_rejected":   s.EdgesRejected,
		"records_skipped":  len(s.Skipped),
	}).Info("Run summary")

	for _, sk := range s.Skipped {
		fmt.Printf("skipped %s record %q: %s\n", sk.SourceType, sk.RecordHint, sk.Reason)
	}
	for _, rj := range s.Rejected {
		fmt.Printf("rejected %s %s -> %s: %s\n", rj.Edge.Label, rj.Edge.FromKey, rj.Edge.ToKey, rj.Reason)
	}
}
