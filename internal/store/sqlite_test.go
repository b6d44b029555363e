package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cv.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0).UTC()
	session := domain.NewSession("sess-1", now)
	session.Data.Contact.FullName = "Ada Lovelace"
	session.Data.WorkExperience = []domain.WorkEntry{{Employer: "Analytical Engines", Bullets: []string{"Wrote the first program"}}}
	session.Metadata.LockWorkRole(0)
	session.Metadata.PendingConfirmation = &domain.PendingConfirmation{Kind: domain.PendingImportPrefill, CreatedAt: now}

	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if diff := cmp.Diff(session, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestLegacyMetadataDecodesAsIncompatible(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cv_sessions (session_id, schema_version, stage, data_json, metadata_json, created_at, updated_at)
		 VALUES ('legacy', NULL, NULL, '{}', '{"stage_turn_counter": 2}', 0, 0)`)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, err := s.GetSession(ctx, "legacy")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if err := got.CheckCompatible(); err == nil {
		t.Fatal("expected legacy session to be incompatible")
	}
}

func TestArtifactRoundTripAndRetention(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	session := domain.NewSession("sess-2", time.Now())
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	artifact := &domain.Artifact{
		ID:          "art-1",
		SessionID:   "sess-2",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7"),
		PageCount:   2,
		CreatedAt:   time.Unix(1_700_000_000, 0),
	}
	if err := s.PutArtifact(ctx, artifact); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	got, err := s.GetArtifact(ctx, "sess-2", "art-1")
	if err != nil || got == nil {
		t.Fatalf("GetArtifact failed: %v %v", got, err)
	}
	if string(got.Data) != "%PDF-1.7" || got.PageCount != 2 {
		t.Fatalf("unexpected artifact: %+v", got)
	}
	if other, _ := s.GetArtifact(ctx, "other-session", "art-1"); other != nil {
		t.Fatal("artifact must not be readable through another session")
	}

	deleted, err := s.DeleteSessionsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteSessionsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}
	if got, _ := s.GetArtifact(ctx, "sess-2", "art-1"); got != nil {
		t.Fatal("expected artifact to be removed with its session")
	}
}
