package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

// SQLiteStore is the staging implementation backed by an embedded SQLite
// file, for single-host runs without a PostgreSQL deployment.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the staging database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pkgerrors.StorageUnavailableErrorf(err, "failed to open staging database %s", path)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "staging_sqlite"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS staged_records (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			source_type  TEXT NOT NULL,
			observed_at  TIMESTAMP NOT NULL,
			payload      TEXT NOT NULL,
			processed_at TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return pkgerrors.StorageUnavailableError(err, "failed to create staging schema")
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec models.RawRecord) (int64, error) {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return 0, pkgerrors.MalformedRecordErrorf("failed to marshal record payload: %v", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO staged_records (source_type, observed_at, payload) VALUES (?, ?, ?)",
		rec.SourceType, rec.ObservedAt.UTC(), string(payload))
	if err != nil {
		return 0, pkgerrors.StorageUnavailableError(err, "failed to stage record")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, pkgerrors.StorageUnavailableError(err, "failed to read staged record id")
	}
	return id, nil
}

func (s *SQLiteStore) FetchPending(ctx context.Context, sourceType string, limit int) ([]StagedRecord, error) {
	query := `
		SELECT id, source_type, observed_at, payload
		FROM staged_records
		WHERE processed_at IS NULL AND (? = '' OR source_type = ?)
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sourceType, sourceType, limit)
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "failed to fetch pending records")
	}
	defer rows.Close()

	var out []StagedRecord
	for rows.Next() {
		var (
			sr      StagedRecord
			payload string
		)
		if err := rows.Scan(&sr.ID, &sr.Record.SourceType, &sr.Record.ObservedAt, &payload); err != nil {
			return nil, pkgerrors.StorageUnavailableError(err, "failed to scan staged record")
		}
		if err := json.Unmarshal([]byte(payload), &sr.Record.Fields); err != nil {
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

func (s *SQLiteStore) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := "UPDATE staged_records SET processed_at = ? WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return pkgerrors.StorageUnavailableError(err, "failed to mark records processed")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
