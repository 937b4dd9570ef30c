package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/feedfilter/internal/storage"
)

// Store is a SQLite implementation of storage.Journal
type Store struct {
	db *sql.DB
}

var _ storage.Journal = (*Store)(nil)

// New opens (creating if needed) the database at dbPath. The parent
// directory of a file path is created.
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			participant TEXT NOT NULL,
			track_id TEXT NOT NULL,
			url TEXT,
			mode TEXT NOT NULL,
			trigger_detected INTEGER NOT NULL DEFAULT 0,
			trigger_name TEXT,
			confidence REAL NOT NULL,
			description TEXT,
			video_ended INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			decision TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			participant TEXT NOT NULL,
			track_id TEXT NOT NULL,
			type TEXT NOT NULL,
			command_id INTEGER,
			payload TEXT,
			delivered INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_track ON detections(track_id)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_track ON commands(track_id)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_command_id ON commands(command_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) RecordDetection(ctx context.Context, rec *storage.DetectionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO detections (participant, track_id, url, mode, trigger_detected, trigger_name,
		confidence, description, video_ended, failed, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		rec.Participant, rec.TrackID, rec.URL, rec.Mode, rec.TriggerDetected, rec.TriggerName,
		rec.Confidence, rec.Description, rec.VideoEnded, rec.Failed, rec.Decision, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *Store) RecordCommand(ctx context.Context, rec *storage.CommandRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO commands (participant, track_id, type, command_id, payload, delivered, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		rec.Participant, rec.TrackID, rec.Type, rec.CommandID, rec.Payload, rec.Delivered, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *Store) ListDetections(ctx context.Context, opts storage.ListOptions) ([]storage.DetectionRecord, error) {
	opts = opts.Normalize()

	query := `SELECT id, participant, track_id, url, mode, trigger_detected, trigger_name,
		confidence, description, video_ended, failed, decision, created_at
		FROM detections`
	args := []any{}
	if opts.TrackID != "" {
		query += ` WHERE track_id = ?`
		args = append(args, opts.TrackID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	out := []storage.DetectionRecord{}
	for rows.Next() {
		var rec storage.DetectionRecord
		var url, name, desc sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Participant, &rec.TrackID, &url, &rec.Mode, &rec.TriggerDetected,
			&name, &rec.Confidence, &desc, &rec.VideoEnded, &rec.Failed, &rec.Decision, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		rec.URL, rec.TriggerName, rec.Description = url.String, name.String, desc.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListCommands(ctx context.Context, opts storage.ListOptions) ([]storage.CommandRecord, error) {
	opts = opts.Normalize()

	query := `SELECT id, participant, track_id, type, command_id, payload, delivered, error, created_at
		FROM commands`
	args := []any{}
	if opts.TrackID != "" {
		query += ` WHERE track_id = ?`
		args = append(args, opts.TrackID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	out := []storage.CommandRecord{}
	for rows.Next() {
		var rec storage.CommandRecord
		var commandID sql.NullInt64
		var payload, errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Participant, &rec.TrackID, &rec.Type, &commandID,
			&payload, &rec.Delivered, &errText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		rec.CommandID, rec.Payload, rec.Error = commandID.Int64, payload.String, errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
