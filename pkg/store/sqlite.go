package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/store/migrations"
)

// SQLiteStore keeps a collection in a SQLite file so it survives restarts.
// Scoring is brute force over the stored vectors.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
	metric     types.Metric
}

func NewSQLite(config VectorStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, errors.New("sqlite backend requires a database path")
	}
	if err := checkCollection(&config); err != nil {
		return nil, err
	}
	if config.Metric == "" {
		config.Metric = types.MetricCosine
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:         db,
		path:       config.Path,
		collection: config.Collection,
		metric:     config.Metric,
	}

	ctx := context.Background()
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.ensureCollection(ctx, config.VectorDim); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
	}
	return nil
}

// ensureCollection creates the collection row on first open and rejects a
// reopen with a different metric or vector dimension.
func (s *SQLiteStore) ensureCollection(ctx context.Context, dim int) error {
	var metric string
	var stored int
	err := s.db.QueryRowContext(ctx,
		`SELECT metric, dimension FROM collections WHERE name = ?`, s.collection).Scan(&metric, &stored)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO collections (name, metric, dimension, created_at) VALUES (?, ?, 0, ?)`,
			s.collection, string(s.metric), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("loading collection: %w", err)
	}

	if types.Metric(metric) != s.metric {
		return fmt.Errorf("%w: collection %s uses %s, configured %s",
			types.ErrMetricMismatch, s.collection, metric, s.metric)
	}
	if dim > 0 && stored > 0 && dim != stored {
		return &types.DimensionMismatchError{Expected: stored, Got: dim}
	}
	return nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, s.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ExistsAndNonEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n > 0, err
}

func (s *SQLiteStore) dimension(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var dim int
	if err := q.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = ?`, s.collection).Scan(&dim); err != nil {
		return 0, fmt.Errorf("loading collection dimension: %w", err)
	}
	return dim, nil
}

// Add stores all entries in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := s.dimension(ctx, tx)
	if err != nil {
		return err
	}
	dim, err := checkBatch(entries, stored)
	if err != nil {
		return err
	}

	for _, e := range entries {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM entries WHERE collection = ? AND id = ?`, s.collection, e.ID).Scan(&exists)
		if err == nil {
			return &types.DuplicateIDError{ID: e.ID}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking id %s: %w", e.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (collection, id, text, embedding) VALUES (?, ?, ?, ?)`,
			s.collection, e.ID, e.Text, encodeVector(e.Embedding)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}

	if stored == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE collections SET dimension = ? WHERE name = ?`, dim, s.collection); err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return []models.Match{}, nil
	}

	dim, err := s.dimension(ctx, s.db)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, embedding FROM entries WHERE collection = ? ORDER BY seq`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	matches := []models.Match{}
	for rows.Next() {
		if len(embedding) != dim {
			return nil, &types.DimensionMismatchError{Expected: dim, Got: len(embedding)}
		}

		var id, text string
		var blob []byte
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, models.Match{
			ID:    id,
			Text:  text,
			Score: score(s.metric, embedding, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	return topK(s.metric, matches, k), nil
}

// Reset deletes every entry of the collection. The metric is kept, the
// dimension is cleared.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("deleting entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = 0 WHERE name = ?`, s.collection); err != nil {
		return fmt.Errorf("clearing dimension: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
