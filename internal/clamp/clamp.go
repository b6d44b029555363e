// Package clamp shortens CV content that overflows the page budget. Both tiers
// are pure transforms: the same input and limits always give the same output,
// and applying a tier twice changes nothing.
package clamp

import (
	"strings"
	"unicode/utf8"

	"github.com/ashureev/cvstudio/internal/domain"
)

const ellipsis = "…"

// Tier identifies how aggressively content was shortened.
type Tier int

const (
	TierNone    Tier = 0
	TierFix     Tier = 1
	TierSqueeze Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierFix:
		return "fix"
	case TierSqueeze:
		return "squeeze"
	}
	return "none"
}

// ParseTier accepts "fix", "squeeze", "1" or "2".
func ParseTier(raw string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fix", "1":
		return TierFix, true
	case "squeeze", "2":
		return TierSqueeze, true
	}
	return TierNone, false
}

// Limits are the caps of one tier.
type Limits struct {
	MaxWorkEntries      int  `yaml:"max_work_entries"`
	MaxBulletsPerEntry  int  `yaml:"max_bullets_per_entry"`
	MaxBulletChars      int  `yaml:"max_bullet_chars"`
	MaxEducationEntries int  `yaml:"max_education_entries"`
	MaxEducationDetails int  `yaml:"max_education_details"`
	MaxSkills           int  `yaml:"max_skills"`
	MaxSummaryChars     int  `yaml:"max_summary_chars"`
	DropOptional        bool `yaml:"drop_optional"`
}

// Apply returns a shortened copy of data. The input is not modified.
// Work entries whose index is set in locked are never removed or shortened,
// and no entry before a locked one is removed, so lock indices stay valid.
func Apply(data domain.CVData, l Limits, locked map[int]bool) domain.CVData {
	out := data.Clone()

	out.Summary = truncateText(out.Summary, l.MaxSummaryChars)

	keep := l.MaxWorkEntries
	for i, ok := range locked {
		if ok && i < len(out.WorkExperience) && keep > 0 && i+1 > keep {
			keep = i + 1
		}
	}
	out.WorkExperience = capSlice(out.WorkExperience, keep)
	for i := range out.WorkExperience {
		if locked[i] {
			continue
		}
		w := &out.WorkExperience[i]
		w.Bullets = capSlice(w.Bullets, l.MaxBulletsPerEntry)
		for j := range w.Bullets {
			w.Bullets[j] = truncateText(w.Bullets[j], l.MaxBulletChars)
		}
	}

	out.Education = capSlice(out.Education, l.MaxEducationEntries)
	for i := range out.Education {
		e := &out.Education[i]
		e.Details = capSlice(e.Details, l.MaxEducationDetails)
		for j := range e.Details {
			e.Details[j] = truncateText(e.Details[j], l.MaxBulletChars)
		}
	}

	out.Skills = capSlice(out.Skills, l.MaxSkills)
	out.Languages = capSlice(out.Languages, l.MaxSkills)

	if l.DropOptional {
		out.TechnicalSkills = nil
		out.Interests = nil
		out.Certifications = nil
		out.References = nil
		return out
	}
	out.TechnicalSkills = capSlice(out.TechnicalSkills, l.MaxSkills)
	out.Interests = capSlice(out.Interests, l.MaxSkills)
	out.Certifications = capSlice(out.Certifications, l.MaxSkills)
	out.References = capSlice(out.References, l.MaxSkills)
	return out
}

func capSlice[T any](in []T, n int) []T {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}

// truncateText cuts s to at most max runes, preferring a word boundary and
// marking the cut with an ellipsis.
func truncateText(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return ellipsis
	}
	cut := string([]rune(s)[:max-1])
	if i := strings.LastIndexAny(cut, " \t\n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n,;:-") + ellipsis
}
