package workflow

import (
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
)

// LedgerOpKind is a mutation of the pending-confirmation slot.
type LedgerOpKind string

// LedgerClear removes the pending confirmation of a given kind.
const LedgerClear LedgerOpKind = "clear"

// LedgerOp is produced only by resolver decisions.
type LedgerOp struct {
	Op   LedgerOpKind       `json:"op"`
	Kind domain.PendingKind `json:"kind"`
}

// NeedsImportConfirmation reports whether imported draft content should be
// held behind an import_prefill confirmation: something was imported, but at
// least one core section is still empty.
func NeedsImportConfirmation(data *domain.CVData) bool {
	return !data.IsEmpty() && !data.HasCoreSections()
}

// SetPending fills the single ledger slot. It returns false when the slot is
// already taken; an outstanding confirmation is never overwritten.
func SetPending(meta *domain.Metadata, kind domain.PendingKind, now time.Time) bool {
	if meta.PendingConfirmation != nil {
		return false
	}
	meta.PendingConfirmation = &domain.PendingConfirmation{Kind: kind, CreatedAt: now}
	return true
}

// HasPending reports whether a confirmation of kind is outstanding.
func HasPending(meta *domain.Metadata, kind domain.PendingKind) bool {
	return meta.PendingConfirmation != nil && meta.PendingConfirmation.Kind == kind
}

func applyLedgerOps(meta *domain.Metadata, ops []LedgerOp) {
	for _, op := range ops {
		if op.Op == LedgerClear && HasPending(meta, op.Kind) {
			meta.PendingConfirmation = nil
		}
	}
}
