// Package staging holds raw source records between fetch and ingestion.
// Records land here tagged with their source type and freshness timestamp;
// the pipeline drains them in batches and marks them processed only after
// a successful commit, so a failed run leaves them eligible for retry.
package staging

import (
	"context"

	"github.com/pkgraph/pkgraph-go/internal/models"
)

// StagedRecord is one raw record with its staging identity.
type StagedRecord struct {
	ID     int64
	Record models.RawRecord
}

// Store is a durable staging area for raw source records.
type Store interface {
	// Insert stages one raw record and returns its staging ID.
	Insert(ctx context.Context, rec models.RawRecord) (int64, error)

	// FetchPending returns up to limit unprocessed records of the source
	// type, oldest first. An empty sourceType matches all types.
	FetchPending(ctx context.Context, sourceType string, limit int) ([]StagedRecord, error)

	// MarkProcessed flags records as consumed by a successful run.
	MarkProcessed(ctx context.Context, ids []int64) error

	Close() error
}
