package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const uniqueViolation = "23505"

// VectorStore is a collection stored in a Postgres table with the pgvector
// extension. The table's vector column fixes the dimension at creation.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if err := checkCollection(&config); err != nil {
		return nil, err
	}
	if config.Metric == "" {
		config.Metric = types.MetricCosine
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.ConnString == "" {
		return nil, errors.New("pgvector backend requires a database URL")
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = vs.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rag_collections (
			name TEXT PRIMARY KEY,
			metric TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create collections table: %w", err)
	}

	var metric string
	var dim int
	err = vs.pool.QueryRow(ctx,
		`SELECT metric, dimension FROM rag_collections WHERE name = $1`, vs.config.Collection).Scan(&metric, &dim)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = vs.pool.Exec(ctx,
			`INSERT INTO rag_collections (name, metric, dimension) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
			vs.config.Collection, string(vs.config.Metric), vs.config.VectorDim)
		if err != nil {
			return fmt.Errorf("failed to register collection: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to load collection: %w", err)
	default:
		if types.Metric(metric) != vs.config.Metric {
			return fmt.Errorf("%w: collection %s uses %s, configured %s",
				types.ErrMetricMismatch, vs.config.Collection, metric, vs.config.Metric)
		}
		if dim != vs.config.VectorDim {
			return &types.DimensionMismatchError{Expected: dim, Got: vs.config.VectorDim}
		}
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.config.Collection, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Queries are exact scans; drop the ivfflat index older builds created.
	_, err = vs.pool.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s_embedding_idx", vs.config.Collection))
	if err != nil {
		return fmt.Errorf("failed to drop index: %w", err)
	}

	return nil
}

// distanceOp returns the pgvector distance operator for the metric and the
// SQL expression that turns its result into a match score.
func distanceOp(metric types.Metric) (op, score string) {
	if metric == types.MetricEuclidean {
		return "<->", "embedding <-> $1"
	}
	return "<=>", "1 - (embedding <=> $1)"
}

func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", vs.config.Collection)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) ExistsAndNonEmpty(ctx context.Context) (bool, error) {
	var exists bool
	err := vs.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s)", vs.config.Collection)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

func (vs *VectorStore) Add(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := checkBatch(entries, vs.config.VectorDim); err != nil {
		return err
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`INSERT INTO %s (id, content, embedding) VALUES ($1, $2, $3)`, vs.config.Collection)

	for _, e := range entries {
		_, err = tx.Exec(ctx, stmt, e.ID, e.Text, pgvector.NewVector(e.Embedding))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return &types.DuplicateIDError{ID: e.ID}
			}
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return []models.Match{}, nil
	}
	if len(queryEmbedding) != vs.config.VectorDim {
		return nil, &types.DimensionMismatchError{Expected: vs.config.VectorDim, Got: len(queryEmbedding)}
	}

	op, scoreSQL := distanceOp(vs.config.Metric)
	query := fmt.Sprintf(`
		SELECT id, content, %s AS score
		FROM %s
		ORDER BY embedding %s $1, seq
		LIMIT $2`,
		scoreSQL, vs.config.Collection, op)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	matches := []models.Match{}
	for rows.Next() {
		var m models.Match
		var s float64
		if err := rows.Scan(&m.ID, &m.Text, &s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.Score = float32(s)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return matches, nil
}

// Reset truncates the collection table.
func (vs *VectorStore) Reset(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", vs.config.Collection))
	if err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
