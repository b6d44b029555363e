package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY storms
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while a request writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS cv_sessions (
		session_id TEXT PRIMARY KEY,
		schema_version INTEGER,
		stage TEXT,
		data_json TEXT NOT NULL,
		metadata_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cv_sessions_updated ON cv_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS cv_artifacts (
		artifact_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cv_artifacts_session ON cv_artifacts(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Metadata is decoded as stored; the
// caller decides whether the session is compatible.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT session_id, data_json, metadata_json FROM cv_sessions WHERE session_id = ?`

	var session domain.Session
	var dataJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&session.ID, &dataJSON, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &session.Data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &session.Metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return &session, nil
}

// PutSession creates or replaces a session record.
func (s *SQLiteStore) PutSession(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("put session: missing id")
	}
	dataJSON, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}

	query := `
		INSERT INTO cv_sessions (session_id, schema_version, stage, data_json, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			stage = excluded.stage,
			data_json = excluded.data_json,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`

	createdAt := session.Metadata.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, s.retry, "put_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.Metadata.SchemaVersion, string(session.Metadata.Stage),
			string(dataJSON), string(metadataJSON),
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// PutArtifact stores a rendered document.
func (s *SQLiteStore) PutArtifact(ctx context.Context, artifact *domain.Artifact) error {
	query := `
		INSERT INTO cv_artifacts (artifact_id, session_id, content_type, page_count, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, s.retry, "put_artifact", func() error {
		_, err := s.db.ExecContext(ctx, query,
			artifact.ID, artifact.SessionID, artifact.ContentType, artifact.PageCount,
			artifact.Data, artifact.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		return nil
	})
}

// GetArtifact retrieves a rendered document.
func (s *SQLiteStore) GetArtifact(ctx context.Context, sessionID, artifactID string) (*domain.Artifact, error) {
	query := `
		SELECT artifact_id, session_id, content_type, page_count, data, created_at
		FROM cv_artifacts WHERE artifact_id = ? AND session_id = ?`

	var a domain.Artifact
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, artifactID, sessionID).Scan(
		&a.ID, &a.SessionID, &a.ContentType, &a.PageCount, &a.Data, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact row: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// DeleteSessionsBefore removes sessions not updated since cutoff, with their artifacts.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete_sessions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cleanup: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to rollback cleanup transaction", "error", rbErr)
			}
		}()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cv_artifacts WHERE session_id IN (SELECT session_id FROM cv_sessions WHERE updated_at < ?)`,
			cutoff.Unix()); err != nil {
			return fmt.Errorf("delete expired artifacts: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM cv_sessions WHERE updated_at < ?`, cutoff.Unix())
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("expired sessions rows affected: %w", err)
		}
		return tx.Commit()
	})
	return deleted, err
}
