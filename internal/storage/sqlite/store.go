package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"serverwatch/internal/models"
	"serverwatch/internal/storage"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements storage.SampleStore on an SQLite file.
type Store struct {
	db *sql.DB
}

var _ storage.SampleStore = (*Store)(nil)

// New opens (or creates) the database file and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// A single connection keeps writes serialised and makes :memory: databases usable.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// migrate creates the schema. Archives written before target_key existed stored
// the lower-cased name in target, so the key is backfilled from it.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS samples (
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	target_key  TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	error       TEXT,
	checked_at  TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	var hasKey int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('samples') WHERE name = 'target_key'`).Scan(&hasKey); err != nil {
		return err
	}
	if hasKey == 0 {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE samples ADD COLUMN target_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE samples SET target_key = lower(trim(target)) WHERE target_key = ''`); err != nil {
		return err
	}

	indexes := `
DROP INDEX IF EXISTS idx_samples_target_checked_at;
CREATE INDEX IF NOT EXISTS idx_samples_key_checked_at ON samples (target_key, checked_at);
CREATE INDEX IF NOT EXISTS idx_samples_checked_at ON samples (checked_at);
`
	_, err := s.db.ExecContext(ctx, indexes)
	return err
}

// RecordSample archives one probe outcome, assigning an id when missing.
func (s *Store) RecordSample(ctx context.Context, sample *models.Sample) error {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.CheckedAt.IsZero() {
		sample.CheckedAt = time.Now().UTC()
	}
	var errText *string
	if sample.Error != "" {
		errText = &sample.Error
	}
	query := `INSERT INTO samples (id, target, target_key, address, ok, latency_ms, error, checked_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sample.ID,
		strings.TrimSpace(sample.Target),
		models.NameKey(sample.Target),
		sample.Address,
		boolToInt(sample.OK),
		sample.LatencyMs,
		errText,
		sample.CheckedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// GetSample retrieves a single sample by id.
func (s *Store) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	query := `SELECT id, target, address, ok, latency_ms, error, checked_at FROM samples WHERE id = ?`
	sample, err := scanSample(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sample: %w", err)
	}
	return &sample, nil
}

// ListSamples returns samples oldest first, optionally filtered by target and time.
func (s *Store) ListSamples(ctx context.Context, params storage.ListSamplesParams) ([]models.Sample, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString("SELECT id, target, address, ok, latency_ms, error, checked_at FROM samples WHERE 1=1")
	if params.Target != "" {
		args = append(args, models.NameKey(params.Target))
		qb.WriteString(" AND target_key = ?")
	}
	if !params.Since.IsZero() {
		args = append(args, params.Since.UTC().Format(timeLayout))
		qb.WriteString(" AND checked_at >= ?")
	}
	qb.WriteString(" ORDER BY checked_at, id")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		qb.WriteString(" LIMIT ?")
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (models.Sample, error) {
	var (
		sample       models.Sample
		ok           int
		errText      sql.NullString
		checkedAtStr string
	)
	if err := row.Scan(&sample.ID, &sample.Target, &sample.Address, &ok, &sample.LatencyMs, &errText, &checkedAtStr); err != nil {
		return models.Sample{}, err
	}
	sample.OK = ok != 0
	sample.Error = errText.String
	sample.CheckedAt, _ = time.Parse(timeLayout, checkedAtStr)
	return sample, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
