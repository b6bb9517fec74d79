// Package pipeline orchestrates one full ingestion cycle: normalize raw
// records, resolve identities per entity type across the whole batch,
// extract relations, and assemble the result into the graph. Entity types
// are processed concurrently through normalization and resolution; relation
// extraction waits on the join of all resolution stages, because candidate
// edges must bind to canonical keys, not raw ones.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/graph"
	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/normalize"
	"github.com/pkgraph/pkgraph-go/internal/relation"
	"github.com/pkgraph/pkgraph-go/internal/resolve"
	"github.com/pkgraph/pkgraph-go/internal/schema"
	"github.com/pkgraph/pkgraph-go/internal/staging"
)

// Options tunes a pipeline instance.
type Options struct {
	// MergePolicy decides conflicting scalar attributes during identity
	// resolution. Empty means last-writer-wins.
	MergePolicy resolve.MergePolicy

	// SnapshotSources lists source types whose batches are full snapshots:
	// after a successful commit, known entities of the source's type that
	// were absent from the batch get an unobserved marker.
	SnapshotSources []string
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	schema     *schema.Schema
	normalizer *normalize.Normalizer
	resolver   *resolve.Resolver
	extractor  *relation.Extractor
	assembler  *graph.Assembler
	opts       Options
	logger     *logrus.Logger
}

// New creates a pipeline over the given schema and assembler.
func New(s *schema.Schema, assembler *graph.Assembler, opts Options, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		schema:     s,
		normalizer: normalize.New(s),
		resolver:   resolve.New(s, opts.MergePolicy, assembler.History()),
		extractor:  relation.NewExtractor(s),
		assembler:  assembler,
		opts:       opts,
		logger:     logger,
	}
}

// Run ingests one batch of raw records and returns the run summary. Record
// and edge level failures are aggregated into the summary; only schema
// misconfiguration and storage exhaustion surface as errors.
func (p *Pipeline) Run(ctx context.Context, records []models.RawRecord) (*models.Summary, error) {
	summary := &models.Summary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":  summary.RunID,
		"records": len(records),
	}).Info("Starting ingestion run")

	entities, skipped, err := p.normalizeAll(ctx, records)
	if err != nil {
		return nil, err
	}
	summary.Skipped = skipped

	ix, err := p.resolveAll(ctx, entities)
	if err != nil {
		return nil, err
	}

	// Barrier passed: every entity type is resolved, edges can bind.
	res := p.extractor.Extract(records, ix)
	retried := p.extractor.Retry(res.Deferred, ix)
	edges := make([]models.CandidateEdge, 0, len(res.Edges)+len(retried.Edges)+len(retried.Deferred))
	edges = append(edges, res.Edges...)
	edges = append(edges, retried.Edges...)
	// still-unresolved targets may exist in the graph from earlier runs;
	// the assembler's dangling check has the final word
	edges = append(edges, retried.Deferred...)

	input := graph.Input{
		Entities: ix.Entities(),
		Edges:    edges,
	}
	report, err := p.assembler.Commit(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := p.markSnapshots(records, input); err != nil {
		return nil, err
	}

	summary.VerticesCreated = report.VerticesCreated
	summary.VerticesUpdated = report.VerticesUpdated
	summary.EdgesCreated = report.EdgesCreated
	summary.EdgesRejected = len(report.Rejected)
	summary.Rejected = report.Rejected
	summary.Duration = time.Since(summary.StartedAt)

	p.logger.WithFields(logrus.Fields{
		"run_id":           summary.RunID,
		"duration":         summary.Duration.String(),
		"vertices_created": summary.VerticesCreated,
		"vertices_updated": summary.VerticesUpdated,
		"edges_created":    summary.EdgesCreated,
		"edges_rejected":   summary.EdgesRejected,
		"skipped":          len(summary.Skipped),
	}).Info("Ingestion run completed")

	return summary, nil
}

// RunFromStaging drains up to batchSize pending records from the staging
// store, ingests them, and marks them processed only after the commit
// succeeded. A failed run leaves the records pending.
func (p *Pipeline) RunFromStaging(ctx context.Context, store staging.Store, sourceType string, batchSize int) (*models.Summary, error) {
	staged, err := store.FetchPending(ctx, sourceType, batchSize)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		p.logger.Info("No pending staged records")
		return &models.Summary{RunID: uuid.New().String(), StartedAt: time.Now()}, nil
	}

	records := make([]models.RawRecord, len(staged))
	ids := make([]int64, len(staged))
	for i, sr := range staged {
		records[i] = sr.Record
		ids[i] = sr.ID
	}

	summary, err := p.Run(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := store.MarkProcessed(ctx, ids); err != nil {
		return nil, err
	}
	return summary, nil
}

// normalizeAll turns raw records into typed entities, concurrently per
// source type. Malformed records are skipped, not fatal.
func (p *Pipeline) normalizeAll(ctx context.Context, records []models.RawRecord) (map[models.EntityType][]models.Entity, []models.SkippedRecord, error) {
	bySource := make(map[string][]models.RawRecord)
	for _, rec := range records {
		bySource[rec.SourceType] = append(bySource[rec.SourceType], rec)
	}

	var (
		mu       sync.Mutex
		entities = make(map[models.EntityType][]models.Entity)
		skipped  []models.SkippedRecord
	)

	g, ctx := errgroup.WithContext(ctx)
	for sourceType, recs := range bySource {
		sourceType, recs := sourceType, recs
		g.Go(func() error {
			local := make(map[models.EntityType][]models.Entity)
			var localSkipped []models.SkippedRecord
			for _, rec := range recs {
				if err := ctx.Err(); err != nil {
					return err
				}
				primary, derived, err := p.normalizer.Normalize(rec)
				if err != nil {
					if pkgerrors.IsFatal(err) {
						return err
					}
					p.logger.WithFields(logrus.Fields{
						"source_type": sourceType,
						"record":      normalize.RecordHint(rec),
						"error":       err.Error(),
					}).Warn("Skipping malformed record")
					localSkipped = append(localSkipped, models.SkippedRecord{
						SourceType: sourceType,
						RecordHint: normalize.RecordHint(rec),
						Reason:     pkgerrors.Classified(err),
					})
					continue
				}
				local[primary.Type] = append(local[primary.Type], primary)
				for _, d := range derived {
					local[d.Type] = append(local[d.Type], d)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			for t, es := range local {
				entities[t] = append(entities[t], es...)
			}
			skipped = append(skipped, localSkipped...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entities, skipped, nil
}

// resolveAll partitions entities into equivalence classes, concurrently per
// entity type, and indexes the merged result for edge binding.
func (p *Pipeline) resolveAll(ctx context.Context, entities map[models.EntityType][]models.Entity) (*resolve.Index, error) {
	var mu sync.Mutex
	ix := resolve.NewIndex()

	g, _ := errgroup.WithContext(ctx)
	for t, es := range entities {
		t, es := t, es
		g.Go(func() error {
			resolved, err := p.resolver.Resolve(t, es)
			if err != nil {
				return err
			}
			mu.Lock()
			ix.Add(resolved)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ix, nil
}

// markSnapshots applies unobserved markers for full-snapshot sources that
// contributed to this batch.
func (p *Pipeline) markSnapshots(records []models.RawRecord, input graph.Input) error {
	if len(p.opts.SnapshotSources) == 0 {
		return nil
	}

	present := make(map[string]bool)
	for _, rec := range records {
		present[rec.SourceType] = true
	}

	asOf := time.Now()
	for _, sourceType := range p.opts.SnapshotSources {
		if !present[sourceType] {
			continue
		}
		src, err := p.schema.Source(sourceType)
		if err != nil {
			continue
		}
		marked, err := p.assembler.MarkUnobserved(models.EntityType(src.Entity), input, asOf)
		if err != nil {
			return err
		}
		if len(marked) > 0 {
			p.logger.WithFields(logrus.Fields{
				"source_type": sourceType,
				"entity_type": src.Entity,
				"count":       len(marked),
			}).Info("Marked entities as no longer observed")
		}
	}
	return nil
}
