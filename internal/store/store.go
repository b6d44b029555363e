// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
)

// Repository is the session key-value store. Writes are last-writer-wins;
// callers that need stronger guarantees must serialize requests per session.
type Repository interface {
	// GetSession retrieves a session by id. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// PutSession creates or replaces a session record.
	PutSession(ctx context.Context, session *domain.Session) error

	// PutArtifact stores a rendered document.
	PutArtifact(ctx context.Context, artifact *domain.Artifact) error

	// GetArtifact retrieves a rendered document. Returns nil, nil when absent.
	GetArtifact(ctx context.Context, sessionID, artifactID string) (*domain.Artifact, error)

	// DeleteSessionsBefore removes sessions (and their artifacts) not updated since cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// LoadSession fetches a session and rejects it when missing or incompatible.
// Incompatible sessions are returned untouched alongside the error.
func LoadSession(ctx context.Context, repo Repository, sessionID string) (*domain.Session, error) {
	s, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if err := s.CheckCompatible(); err != nil {
		return s, err
	}
	return s, nil
}
