// Package store implements the durable, single-writer processed-state
// store described in spec.md §4.3: the processed-message ledger and the
// per-(normalizedName, topicName) processed-video table. Backing
// technology is an embedded SQLite database (modernc.org/sqlite, a
// cgo-free driver) opened through database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sipeed/tgvideosorter/pkg/logger"
)

// WildcardTopic is the legacy sentinel topic name meaning "globally
// processed under any topic". It is written only by the one-shot legacy
// migration (spec.md §3, §9); new ingestion code must never pass it as a
// topicName to PutVideo.
const WildcardTopic = "*"

// VideoRecord is one row of the processedVideos table (spec.md §3).
type VideoRecord struct {
	FileName       string
	NormalizedName string
	TopicName      string
	DurationSec    *int
	SizeMB         *float64
	Width          *int
	Height         *int
	MimeType       *string
	ProcessedAt    time.Time
}

// Store is the durable processed-state store. Safe for concurrent reads;
// writes serialize through the underlying *sql.DB connection pool, which
// is capped at one connection to honor the single-writer contract
// (spec.md §5).
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path,
// applying schema DDL idempotently, then running the one-shot legacy
// migration described in spec.md §4.3 if legacy files are present
// alongside path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite at %s: %w", path, err)
	}
	// Single-writer contract (spec.md §5): cap the pool at one
	// connection so SQLite's own single-writer lock never serializes
	// behind us in surprising ways.
	db.SetMaxOpenConns(1)

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{db: db}

	migrated, err := migrateLegacy(ctx, s, path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: legacy migration: %w", err)
	}
	if migrated {
		logger.InfoC("store", "legacy processed-state files migrated")
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func applySchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processedMessages (
			messageKey TEXT PRIMARY KEY,
			processedAt TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processedVideos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fileName TEXT NOT NULL,
			normalizedName TEXT NOT NULL,
			topicName TEXT NOT NULL,
			durationSec INTEGER,
			sizeMB REAL,
			width INTEGER,
			height INTEGER,
			mimeType TEXT,
			processedAt TIMESTAMP NOT NULL,
			UNIQUE(normalizedName, topicName)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_normalized_name ON processedVideos(normalizedName)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_topic_name ON processedVideos(topicName)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_normalized_topic ON processedVideos(normalizedName, topicName)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_duration ON processedVideos(durationSec)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_size ON processedVideos(sizeMB)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_mime ON processedVideos(mimeType)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// HasMessage reports whether messageKey has already been committed
// (spec.md §4.3, §4.7 step 1).
func (s *Store) HasMessage(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processedMessages WHERE messageKey = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has message: %w", err)
	}
	return true, nil
}

// PutMessage idempotently records messageKey as committed (spec.md
// §4.3, the pre-commit invariant). It must not fail on duplicate.
func (s *Store) PutMessage(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processedMessages (messageKey, processedAt) VALUES (?, ?)
		 ON CONFLICT(messageKey) DO NOTHING`,
		key, nowUTC())
	if err != nil {
		return fmt.Errorf("store: put message %s: %w", key, err)
	}
	return nil
}

// PutVideo idempotently inserts or replaces a processed-video row keyed
// by (normalizedName, topicName) (spec.md §4.3's pre-register operation).
func (s *Store) PutVideo(ctx context.Context, rec VideoRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processedVideos
			(fileName, normalizedName, topicName, durationSec, sizeMB, width, height, mimeType, processedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalizedName, topicName) DO UPDATE SET
			fileName = excluded.fileName,
			durationSec = excluded.durationSec,
			sizeMB = excluded.sizeMB,
			width = excluded.width,
			height = excluded.height,
			mimeType = excluded.mimeType,
			processedAt = excluded.processedAt
	`, rec.FileName, rec.NormalizedName, rec.TopicName, rec.DurationSec, rec.SizeMB, rec.Width, rec.Height, rec.MimeType, nowUTC())
	if err != nil {
		return fmt.Errorf("store: put video %s/%s: %w", rec.NormalizedName, rec.TopicName, err)
	}
	return nil
}

// DeleteVideos deletes rows whose normalizedName is in names and whose
// topicName is either topicName itself or the legacy wildcard (spec.md
// §4.3's deleteVideos). Returns the count of rows deleted.
func (s *Store) DeleteVideos(ctx context.Context, names []string, topicName string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(names))
	args := make([]any, 0, len(names)+2)
	for i, n := range names {
		placeholders[i] = "?"
		args = append(args, n)
	}
	args = append(args, topicName, WildcardTopic)

	query := fmt.Sprintf(
		`DELETE FROM processedVideos WHERE normalizedName IN (%s) AND topicName IN (?, ?)`,
		joinPlaceholders(placeholders),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete videos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete videos rows affected: %w", err)
	}
	return n, nil
}

// RowsByNormalizedName returns every row (across the target topic and
// the legacy wildcard) matching normalizedName exactly, in insertion
// order. Used by the Oracle's exact-name path (spec.md §4.4).
func (s *Store) RowsByNormalizedName(ctx context.Context, normalizedName, topicName string) ([]VideoRecord, error) {
	return s.queryRows(ctx, `
		SELECT fileName, normalizedName, topicName, durationSec, sizeMB, width, height, mimeType, processedAt
		FROM processedVideos
		WHERE normalizedName = ? AND topicName IN (?, ?)
		ORDER BY id ASC`, normalizedName, topicName, WildcardTopic)
}

// RowsByTopic returns every row in a topic (and the legacy wildcard), in
// insertion order. Used by the Oracle's near-name and metadata-only
// fallback paths.
func (s *Store) RowsByTopic(ctx context.Context, topicName string) ([]VideoRecord, error) {
	return s.queryRows(ctx, `
		SELECT fileName, normalizedName, topicName, durationSec, sizeMB, width, height, mimeType, processedAt
		FROM processedVideos
		WHERE topicName IN (?, ?)
		ORDER BY id ASC`, topicName, WildcardTopic)
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query rows: %w", err)
	}
	defer rows.Close()

	var out []VideoRecord
	for rows.Next() {
		var r VideoRecord
		if err := rows.Scan(&r.FileName, &r.NormalizedName, &r.TopicName, &r.DurationSec, &r.SizeMB, &r.Width, &r.Height, &r.MimeType, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows iteration: %w", err)
	}
	return out, nil
}

// CountMessages returns the total number of committed message keys.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processedMessages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// CountVideos returns the total number of processed-video rows, backing
// the shutdown summary (spec.md §7).
func (s *Store) CountVideos(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processedVideos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count videos: %w", err)
	}
	return n, nil
}

// CountVideosByTopic returns the number of processed-video rows per
// topic, backing the shutdown summary (spec.md §7).
func (s *Store) CountVideosByTopic(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topicName, COUNT(*) FROM processedVideos GROUP BY topicName`)
	if err != nil {
		return nil, fmt.Errorf("store: count videos by topic: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var topic string
		var n int64
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("store: scan topic count: %w", err)
		}
		out[topic] = n
	}
	return out, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
