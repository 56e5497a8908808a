package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const pgUndefinedTable = "42P01"

// PostgresCollection stores one collection per table in PostgreSQL with the
// pgvector extension. A registry table records each collection's model.
type PostgresCollection struct {
	pool  *pgxpool.Pool
	name  string
	table string
}

// NewPostgresCollection connects and prepares the extension and registry.
func NewPostgresCollection(ctx context.Context, connString, name string) (*PostgresCollection, error) {
	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := &PostgresCollection{
		pool:  pool,
		name:  name,
		table: pgx.Identifier{name}.Sanitize(),
	}
	if err := c.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// initSchema creates the vector extension and the collection registry
func (c *PostgresCollection) initSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := c.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS frame_collections (
            name VARCHAR(255) PRIMARY KEY,
            embedding_model VARCHAR(255) NOT NULL,
            dimension INTEGER NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        )`)
	if err != nil {
		return fmt.Errorf("failed to create collection registry: %w", err)
	}
	return nil
}

func (c *PostgresCollection) Name() string { return c.name }

func (c *PostgresCollection) Info(ctx context.Context) (CollectionInfo, error) {
	return c.readInfo(ctx, c.pool)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *PostgresCollection) readInfo(ctx context.Context, q queryRower) (CollectionInfo, error) {
	info := CollectionInfo{Name: c.name}
	err := q.QueryRow(ctx,
		"SELECT embedding_model, dimension FROM frame_collections WHERE name = $1",
		c.name).Scan(&info.Model, &info.Dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return info, fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}
	if err != nil {
		return info, fmt.Errorf("error reading collection info: %w", err)
	}
	return info, nil
}

func (c *PostgresCollection) Ensure(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		stored, err := c.readInfo(ctx, tx)
		if err == nil {
			return CheckParity(stored, info)
		}
		if !errors.Is(err, ErrCollectionNotFound) {
			return err
		}
		return c.create(ctx, tx, info)
	})
}

func (c *PostgresCollection) Recreate(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+c.table); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", c.name, err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM frame_collections WHERE name = $1", c.name); err != nil {
			return fmt.Errorf("failed to unregister collection %s: %w", c.name, err)
		}
		return c.create(ctx, tx, info)
	})
}

func (c *PostgresCollection) create(ctx context.Context, tx pgx.Tx, info CollectionInfo) error {
	if info.Dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", info.Dimension)
	}

	_, err := tx.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id VARCHAR(64) PRIMARY KEY,
            document TEXT NOT NULL,
            video_filename VARCHAR(255) NOT NULL,
            frame_number INTEGER NOT NULL,
            timestamp DOUBLE PRECISION NOT NULL,
            embedding vector(%d) NOT NULL
        )`, c.table, info.Dimension))
	if err != nil {
		return fmt.Errorf("failed to create collection table: %w", err)
	}

	index := pgx.Identifier{c.name + "_embedding_idx"}.Sanitize()
	_, err = tx.Exec(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)", index, c.table))
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO frame_collections (name, embedding_model, dimension, created_at) VALUES ($1, $2, $3, $4)",
		c.name, info.Model, info.Dimension, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}
	return nil
}

func (c *PostgresCollection) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (id, document, video_filename, frame_number, timestamp, embedding)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            document = EXCLUDED.document,
            video_filename = EXCLUDED.video_filename,
            frame_number = EXCLUDED.frame_number,
            timestamp = EXCLUDED.timestamp,
            embedding = EXCLUDED.embedding`, c.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.Document, e.Metadata.VideoFilename, e.Metadata.FrameNumber,
			e.Metadata.Timestamp, pgvector.NewVector(e.Embedding))
	}

	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return c.wrap(fmt.Errorf("failed to upsert entries: %w", err))
	}
	return nil
}

// Query orders by cosine distance (<=>) and reports it as a Distance score.
func (c *PostgresCollection) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
        SELECT id, document, embedding <=> $1 AS distance
        FROM %s
        ORDER BY embedding <=> $1
        LIMIT $2`, c.table),
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, c.wrap(fmt.Errorf("failed to search collection: %w", err))
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		hit := Hit{Kind: Distance}
		if err := rows.Scan(&hit.ID, &hit.Document, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, c.wrap(rows.Err())
}

func (c *PostgresCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, "SELECT count(*) FROM "+c.table).Scan(&n)
	if err != nil {
		return 0, c.wrap(err)
	}
	return n, nil
}

// Close closes the database connection
func (c *PostgresCollection) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// wrap maps a missing table to ErrCollectionNotFound.
func (c *PostgresCollection) wrap(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}
	return err
}
