package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

// PostgresStore is the staging implementation backed by PostgreSQL,
// intended for deployments where fetchers and the pipeline run as
// separate processes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the staging table
// exists. Fails fast when the database is unreachable.
func NewPostgresStore(ctx context.Context, host string, port int, database, user, password string) (*PostgresStore, error) {
	if host == "" || database == "" || user == "" {
		return nil, pkgerrors.ConfigErrorf("postgres credentials missing: host=%s, db=%s, user=%s", host, database, user)
	}

	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, database, user, password,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "failed to create postgres pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.StorageUnavailableErrorf(err, "failed to connect to postgres at %s:%d", host, port)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: slog.Default().With("component", "staging_postgres"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("staging store connected", "host", host, "port", port, "database", database)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS staged_records (
			id           BIGSERIAL PRIMARY KEY,
			source_type  TEXT NOT NULL,
			observed_at  TIMESTAMPTZ NOT NULL,
			payload      JSONB NOT NULL,
			processed_at TIMESTAMPTZ
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return pkgerrors.StorageUnavailableError(err, "failed to create staging schema")
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.RawRecord) (int64, error) {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return 0, pkgerrors.MalformedRecordErrorf("failed to marshal record payload: %v", err)
	}

	query := `
		INSERT INTO staged_records (source_type, observed_at, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	if err := s.pool.QueryRow(ctx, query, rec.SourceType, rec.ObservedAt, payload).Scan(&id); err != nil {
		return 0, pkgerrors.StorageUnavailableError(err, "failed to stage record")
	}
	return id, nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, sourceType string, limit int) ([]StagedRecord, error) {
	query := `
		SELECT id, source_type, observed_at, payload
		FROM staged_records
		WHERE processed_at IS NULL AND ($1 = '' OR source_type = $1)
		ORDER BY id
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, sourceType, limit)
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "failed to fetch pending records")
	}
	defer rows.Close()

	var out []StagedRecord
	for rows.Next() {
		var (
			sr      StagedRecord
			payload []byte
		)
		if err := rows.Scan(&sr.ID, &sr.Record.SourceType, &sr.Record.ObservedAt, &payload); err != nil {
			return nil, pkgerrors.StorageUnavailableError(err, "failed to scan staged record")
		}
		if err := json.Unmarshal(payload, &sr.Record.Fields); err != nil {
			s.logger.Warn("skipping staged record with corrupt payload", "id", sr.ID, "error", err)
			continue
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "failed to read pending records")
	}
	return out, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE staged_records
		SET processed_at = $1
		WHERE id = ANY($2)
	`
	if _, err := s.pool.Exec(ctx, query, time.Now().UTC(), ids); err != nil {
		return pkgerrors.StorageUnavailableError(err, "failed to mark records processed")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	s.logger.Info("staging store closed")
	return nil
}
