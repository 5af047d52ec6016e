package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

// SessionHistory is a SQLite-backed history of finished sessions
type SessionHistory struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repositories.SessionHistory = (*SessionHistory)(nil)

// Open opens (creating if needed) the history database at path
func Open(ctx context.Context, path string, logger *zap.Logger) (*SessionHistory, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	h := &SessionHistory{db: db, logger: logger}
	if err := h.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Session history opened", zap.String("path", path))
	return h, nil
}

func (h *SessionHistory) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    language_code TEXT,
    sample_rate INTEGER,
    outcome TEXT NOT NULL,
    error_code TEXT,
    transcript_length INTEGER,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_client_ended ON sessions(client_id, ended_at);
`
	if _, err := h.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the database
func (h *SessionHistory) Close() error {
	return h.db.Close()
}

// Save implements SessionHistory interface
func (h *SessionHistory) Save(ctx context.Context, record entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, client_id, language_code, sample_rate, outcome, error_code, transcript_length, started_at, ended_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   client_id=excluded.client_id, language_code=excluded.language_code, sample_rate=excluded.sample_rate,
		   outcome=excluded.outcome, error_code=excluded.error_code, transcript_length=excluded.transcript_length,
		   started_at=excluded.started_at, ended_at=excluded.ended_at`,
		record.SessionID, record.ClientID, record.LanguageCode, record.SampleRate,
		string(record.Outcome), string(record.ErrorKind), record.TranscriptLength,
		record.StartedAt.UnixNano(), record.EndedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// ListByClient implements SessionHistory interface
func (h *SessionHistory) ListByClient(ctx context.Context, clientID string, limit int) ([]entities.SessionRecord, error) {
	if limit <= 0 {
		limit = repositories.DefaultHistoryListLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT session_id, client_id, language_code, sample_rate, outcome, error_code, transcript_length, started_at, ended_at
		 FROM sessions WHERE client_id = ? ORDER BY ended_at DESC LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []entities.SessionRecord
	for rows.Next() {
		var (
			r                  entities.SessionRecord
			outcome, errorCode string
			started, ended     int64
		)
		if err := rows.Scan(&r.SessionID, &r.ClientID, &r.LanguageCode, &r.SampleRate,
			&outcome, &errorCode, &r.TranscriptLength, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		r.Outcome = entities.SessionState(outcome)
		r.ErrorKind = entities.ErrorKind(errorCode)
		r.StartedAt = time.Unix(0, started).UTC()
		r.EndedAt = time.Unix(0, ended).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}
