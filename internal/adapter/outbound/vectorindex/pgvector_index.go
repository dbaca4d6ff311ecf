package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PgvectorIndex stores vectors in one Postgres table keyed by (namespace, id).
type PgvectorIndex struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPgvectorIndex creates an index on table. The table is created by EnsureTable.
func NewPgvectorIndex(pool *pgxpool.Pool, table string, dimensions int) (*PgvectorIndex, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if table == "" {
		return nil, errors.New("table name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}
	return &PgvectorIndex{
		pool:       pool,
		table:      pgx.Identifier{table}.Sanitize(),
		dimensions: dimensions,
	}, nil
}

// EnsureTable creates the vector extension and the table when missing.
func (p *PgvectorIndex) EnsureTable(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return WrapError(err, "create vector extension")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace   TEXT        NOT NULL,
		id          TEXT        NOT NULL,
		embedding   vector(%d)  NOT NULL,
		metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
		upserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, id)
	)`, p.table, p.dimensions)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return WrapError(err, "create vector table")
	}
	return nil
}

// Probe verifies the database is reachable and the table exists.
func (p *PgvectorIndex) Probe(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return WrapError(err, "ping vector database")
	}
	return p.EnsureTable(ctx)
}

// Upsert writes all records in one transaction.
func (p *PgvectorIndex) Upsert(ctx context.Context, namespace string, records []entity.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if namespace == "" {
		return errors.New("namespace is required")
	}

	query := fmt.Sprintf(`INSERT INTO %s (namespace, id, embedding, metadata, upserted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, id) DO UPDATE
		SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, upserted_at = EXCLUDED.upserted_at`,
		p.table)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, record := range records {
		if len(record.Values) != p.dimensions {
			return fmt.Errorf("vector %s has %d dimensions, expected %d", record.ID, len(record.Values), p.dimensions)
		}
		metadata, err := json.Marshal(metadataOrEmpty(record.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata of %s: %w", record.ID, err)
		}
		batch.Queue(query, namespace, record.ID, pgvector.NewVector(record.Values), metadata, now)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return WrapError(err, "begin upsert")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return WrapError(err, "upsert vectors")
		}
	}
	if err := results.Close(); err != nil {
		return WrapError(err, "upsert vectors")
	}
	if err := tx.Commit(ctx); err != nil {
		return WrapError(err, "commit upsert")
	}

	slogger.Debug(ctx, "Upserted vectors", slogger.Fields{
		"namespace": namespace,
		"count":     len(records),
		"table":     p.table,
	})
	return nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
