package domain

import "time"

// Artifact is a rendered document stored alongside its session.
type Artifact struct {
	ID          string
	SessionID   string
	ContentType string
	Data        []byte
	PageCount   int
	CreatedAt   time.Time
}

// LayoutBudgetMessage is shown to the user when content still overflows the
// page budget after both clamp tiers.
const LayoutBudgetMessage = "content had to be shortened to fit but still exceeds the page limit"
