// Package domain contains core domain types for the cvstudio service.
package domain

import (
	"time"
)

// CurrentSchemaVersion is the only session schema this build accepts.
const CurrentSchemaVersion = 2

// PendingKind identifies an outstanding implicit confirmation.
type PendingKind string

// PendingImportPrefill asks whether imported draft data should be adopted.
const PendingImportPrefill PendingKind = "import_prefill"

// PendingConfirmation is the single-slot record of an outstanding confirmation.
type PendingConfirmation struct {
	Kind      PendingKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConfirmedFlags records user confirmations required before generation.
type ConfirmedFlags struct {
	ContactConfirmed   bool `json:"contact_confirmed"`
	EducationConfirmed bool `json:"education_confirmed"`
}

// ArtifactRef points at a rendered document kept by the store.
type ArtifactRef struct {
	ArtifactID string    `json:"artifact_id"`
	PageCount  int       `json:"page_count"`
	ClampTier  int       `json:"clamp_tier"`
	CreatedAt  time.Time `json:"created_at"`
}

// Metadata is the workflow state of a session.
type Metadata struct {
	SchemaVersion        int                  `json:"schema_version"`
	Stage                Stage                `json:"stage"`
	StageTurnCounter     int                  `json:"stage_turn_counter"`
	PendingConfirmation  *PendingConfirmation `json:"pending_confirmation"`
	WorkRoleLocks        map[int]bool         `json:"work_role_locks,omitempty"`
	ConfirmedFlags       ConfirmedFlags       `json:"confirmed_flags"`
	RenderedArtifactRefs []ArtifactRef        `json:"rendered_artifact_refs,omitempty"`
	DraftImported        bool                 `json:"draft_imported,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Session is the authoritative persisted state of one CV workflow.
type Session struct {
	ID       string   `json:"session_id"`
	Data     CVData   `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// NewSession returns a session at BOOTSTRAP with the current schema version.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID: id,
		Metadata: Metadata{
			SchemaVersion: CurrentSchemaVersion,
			Stage:         StageBootstrap,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

// CheckCompatible rejects sessions this build cannot safely continue.
// Incompatible sessions are never migrated or repaired.
func (s *Session) CheckCompatible() error {
	switch {
	case s.Metadata.SchemaVersion == 0:
		return &IncompatibleError{SessionID: s.ID, Reason: "missing schema_version"}
	case s.Metadata.SchemaVersion != CurrentSchemaVersion:
		return &IncompatibleError{SessionID: s.ID, Reason: "unsupported schema_version"}
	case s.Metadata.Stage == "":
		return &IncompatibleError{SessionID: s.ID, Reason: "missing stage"}
	case !s.Metadata.Stage.Valid():
		return &IncompatibleError{SessionID: s.ID, Reason: "unknown stage " + string(s.Metadata.Stage)}
	}
	return nil
}

// IsWorkRoleLocked reports whether work entry i is locked against edits.
func (m *Metadata) IsWorkRoleLocked(i int) bool {
	return m.WorkRoleLocks[i]
}

// HasWorkRoleLocks reports whether any work entry is locked.
func (m *Metadata) HasWorkRoleLocks() bool {
	for _, locked := range m.WorkRoleLocks {
		if locked {
			return true
		}
	}
	return false
}

// LockWorkRole locks entry i. Locks are never released.
func (m *Metadata) LockWorkRole(i int) {
	if m.WorkRoleLocks == nil {
		m.WorkRoleLocks = make(map[int]bool)
	}
	m.WorkRoleLocks[i] = true
}

// AppendArtifact records a rendered artifact.
func (m *Metadata) AppendArtifact(ref ArtifactRef) {
	m.RenderedArtifactRefs = append(m.RenderedArtifactRefs, ref)
}

// LatestArtifact returns the most recent artifact ref, if any.
func (m *Metadata) LatestArtifact() (ArtifactRef, bool) {
	if len(m.RenderedArtifactRefs) == 0 {
		return ArtifactRef{}, false
	}
	return m.RenderedArtifactRefs[len(m.RenderedArtifactRefs)-1], true
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	out := *s
	out.Data = s.Data.Clone()
	if s.Metadata.PendingConfirmation != nil {
		p := *s.Metadata.PendingConfirmation
		out.Metadata.PendingConfirmation = &p
	}
	if s.Metadata.WorkRoleLocks != nil {
		out.Metadata.WorkRoleLocks = make(map[int]bool, len(s.Metadata.WorkRoleLocks))
		for k, v := range s.Metadata.WorkRoleLocks {
			out.Metadata.WorkRoleLocks[k] = v
		}
	}
	if s.Metadata.RenderedArtifactRefs != nil {
		out.Metadata.RenderedArtifactRefs = append([]ArtifactRef(nil), s.Metadata.RenderedArtifactRefs...)
	}
	return &out
}
