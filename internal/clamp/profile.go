package clamp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds the limits of both tiers.
type Profile struct {
	Fix     Limits `yaml:"fix"`
	Squeeze Limits `yaml:"squeeze"`
}

// DefaultProfile returns the built-in thresholds.
func DefaultProfile() Profile {
	return Profile{
		Fix: Limits{
			MaxWorkEntries:      5,
			MaxBulletsPerEntry:  4,
			MaxBulletChars:      180,
			MaxEducationEntries: 3,
			MaxEducationDetails: 2,
			MaxSkills:           14,
			MaxSummaryChars:     500,
		},
		Squeeze: Limits{
			MaxWorkEntries:      4,
			MaxBulletsPerEntry:  3,
			MaxBulletChars:      130,
			MaxEducationEntries: 2,
			MaxEducationDetails: 1,
			MaxSkills:           10,
			MaxSummaryChars:     320,
			DropOptional:        true,
		},
	}
}

// For returns the limits of tier.
func (p Profile) For(t Tier) (Limits, bool) {
	switch t {
	case TierFix:
		return p.Fix, true
	case TierSqueeze:
		return p.Squeeze, true
	}
	return Limits{}, false
}

// LoadProfile reads a YAML profile. Fields missing from the file keep their
// default values. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read clamp profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse clamp profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("clamp profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every limit is positive and squeeze is never looser than fix.
func (p Profile) Validate() error {
	for _, tier := range []struct {
		name string
		l    Limits
	}{{"fix", p.Fix}, {"squeeze", p.Squeeze}} {
		l := tier.l
		if l.MaxWorkEntries <= 0 || l.MaxBulletsPerEntry <= 0 || l.MaxBulletChars <= 1 ||
			l.MaxEducationEntries <= 0 || l.MaxEducationDetails <= 0 || l.MaxSkills <= 0 || l.MaxSummaryChars <= 1 {
			return fmt.Errorf("%s: all limits must be positive", tier.name)
		}
	}
	f, s := p.Fix, p.Squeeze
	if s.MaxWorkEntries > f.MaxWorkEntries || s.MaxBulletsPerEntry > f.MaxBulletsPerEntry ||
		s.MaxBulletChars > f.MaxBulletChars || s.MaxEducationEntries > f.MaxEducationEntries ||
		s.MaxEducationDetails > f.MaxEducationDetails || s.MaxSkills > f.MaxSkills ||
		s.MaxSummaryChars > f.MaxSummaryChars {
		return fmt.Errorf("squeeze limits must not exceed fix limits")
	}
	return nil
}
