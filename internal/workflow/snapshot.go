package workflow

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/ashureev/cvstudio/internal/domain"
)

// DefaultSnapshotMaxBytes bounds the session view sent to the model.
const DefaultSnapshotMaxBytes = 16 * 1024

// Snapshot is the bounded view of a session handed to the model and the admin CLI.
type Snapshot struct {
	SessionID           string                      `json:"session_id"`
	SchemaVersion       int                         `json:"schema_version"`
	Stage               domain.Stage                `json:"stage"`
	StageTurnCounter    int                         `json:"stage_turn_counter"`
	PendingConfirmation *domain.PendingConfirmation `json:"pending_confirmation"`
	ConfirmedFlags      domain.ConfirmedFlags       `json:"confirmed_flags"`
	LockedWorkRoles     []int                       `json:"locked_work_roles,omitempty"`
	Readiness           Readiness                   `json:"readiness"`
	Data                domain.CVData               `json:"data"`
	ArtifactCount       int                         `json:"artifact_count"`
	Truncated           bool                        `json:"truncated,omitempty"`
}

// BuildSnapshot returns a view of s whose JSON encoding stays under maxBytes
// where possible. Content is shortened in order: job reference text, bullet
// text, the summary, optional sections, then list lengths and every free-text
// field until the encoding fits.
func BuildSnapshot(s *domain.Session, ready Readiness, maxBytes int) Snapshot {
	if maxBytes <= 0 {
		maxBytes = DefaultSnapshotMaxBytes
	}
	snap := Snapshot{
		SessionID:           s.ID,
		SchemaVersion:       s.Metadata.SchemaVersion,
		Stage:               s.Metadata.Stage,
		StageTurnCounter:    s.Metadata.StageTurnCounter,
		PendingConfirmation: s.Metadata.PendingConfirmation,
		ConfirmedFlags:      s.Metadata.ConfirmedFlags,
		Readiness:           ready,
		Data:                s.Data.Clone(),
		ArtifactCount:       len(s.Metadata.RenderedArtifactRefs),
	}
	for i := range s.Data.WorkExperience {
		if s.Metadata.IsWorkRoleLocked(i) {
			snap.LockedWorkRoles = append(snap.LockedWorkRoles, i)
		}
	}

	over := func() int { return snapshotSize(snap) - maxBytes }
	if over() <= 0 {
		return snap
	}
	snap.Truncated = true
	d := &snap.Data

	if ref := d.JobReference; ref != nil {
		ref.Text = truncateRunes(ref.Text, utf8.RuneCountInString(ref.Text)-over())
	}
	for limit := 200; over() > 0 && limit >= 20; limit /= 2 {
		for i := range d.WorkExperience {
			for j, b := range d.WorkExperience[i].Bullets {
				d.WorkExperience[i].Bullets[j] = truncateRunes(b, limit)
			}
		}
	}
	if o := over(); o > 0 {
		d.Summary = truncateRunes(d.Summary, max(utf8.RuneCountInString(d.Summary)-o, 200))
	}
	if over() > 0 {
		d.TechnicalSkills, d.Interests, d.Certifications, d.References = nil, nil, nil, nil
	}
	for n := 32; over() > 0 && n >= 1; n /= 2 {
		capLists(d, n)
		truncateFields(d, n*8)
	}
	return snap
}

// capLists keeps at most n items in every list of d.
func capLists(d *domain.CVData, n int) {
	d.Contact.Links = capStrings(d.Contact.Links, n)
	d.Skills = capStrings(d.Skills, n)
	d.Languages = capStrings(d.Languages, n)
	if len(d.Education) > n {
		d.Education = d.Education[:n]
	}
	for i := range d.Education {
		d.Education[i].Details = capStrings(d.Education[i].Details, n)
	}
	if len(d.WorkExperience) > n {
		d.WorkExperience = d.WorkExperience[:n]
	}
	for i := range d.WorkExperience {
		d.WorkExperience[i].Bullets = capStrings(d.WorkExperience[i].Bullets, n)
	}
}

// truncateFields shortens every free-text field of d to n runes.
func truncateFields(d *domain.CVData, n int) {
	cut := func(p *string) { *p = truncateRunes(*p, n) }
	cutAll := func(list []string) {
		for i := range list {
			cut(&list[i])
		}
	}
	c := &d.Contact
	for _, p := range []*string{&c.FullName, &c.Email, &c.Phone, &c.Location, &d.Summary} {
		cut(p)
	}
	cutAll(c.Links)
	cutAll(d.Skills)
	cutAll(d.Languages)
	for i := range d.Education {
		e := &d.Education[i]
		for _, p := range []*string{&e.Institution, &e.Degree, &e.Field, &e.Start, &e.End} {
			cut(p)
		}
		cutAll(e.Details)
	}
	for i := range d.WorkExperience {
		w := &d.WorkExperience[i]
		for _, p := range []*string{&w.Employer, &w.Title, &w.Location, &w.Start, &w.End} {
			cut(p)
		}
		cutAll(w.Bullets)
	}
	if ref := d.JobReference; ref != nil {
		cut(&ref.URL)
		cut(&ref.Text)
	}
}

func capStrings(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

// JSON encodes the snapshot for the model context.
func (s Snapshot) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func snapshotSize(s Snapshot) int {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return len(b)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
