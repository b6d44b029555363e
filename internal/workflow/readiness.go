package workflow

import (
	"net/mail"
	"strings"

	"github.com/ashureev/cvstudio/internal/domain"
)

// Requirement keys reported by the readiness gate.
const (
	ReqContactName        = "contact.full_name"
	ReqContactEmail       = "contact.email"
	ReqContactPhone       = "contact.phone"
	ReqWorkExperience     = "work_experience"
	ReqWorkBullets        = "work_experience.bullets"
	ReqEducation          = "education"
	ReqContactConfirmed   = "confirmed.contact"
	ReqEducationConfirmed = "confirmed.education"
)

// Readiness is the derived view of whether generation may proceed.
type Readiness struct {
	RequiredPresent map[string]bool `json:"required_present"`
	Missing         []string        `json:"missing"`
	CanGenerate     bool            `json:"can_generate"`
	StrictMode      bool            `json:"strict_mode"`
}

// RequirementsMet reports whether every required item is present,
// regardless of stage.
func (r Readiness) RequirementsMet() bool {
	return len(r.Missing) == 0
}

// Gate computes readiness. The checklist does not depend on the stage; only
// CanGenerate does.
type Gate struct {
	Strict bool
}

type requirement struct {
	key     string
	present func(*domain.Session) bool
}

var baseRequirements = []requirement{
	{ReqContactName, func(s *domain.Session) bool { return strings.TrimSpace(s.Data.Contact.FullName) != "" }},
	{ReqContactEmail, func(s *domain.Session) bool { return validEmail(s.Data.Contact.Email) }},
	{ReqWorkExperience, func(s *domain.Session) bool { return len(s.Data.WorkExperience) > 0 }},
	{ReqEducation, func(s *domain.Session) bool { return len(s.Data.Education) > 0 }},
	{ReqContactConfirmed, func(s *domain.Session) bool { return s.Metadata.ConfirmedFlags.ContactConfirmed }},
	{ReqEducationConfirmed, func(s *domain.Session) bool { return s.Metadata.ConfirmedFlags.EducationConfirmed }},
}

var strictRequirements = []requirement{
	{ReqContactPhone, func(s *domain.Session) bool { return strings.TrimSpace(s.Data.Contact.Phone) != "" }},
	{ReqWorkBullets, func(s *domain.Session) bool {
		if len(s.Data.WorkExperience) == 0 {
			return false
		}
		for _, w := range s.Data.WorkExperience {
			if len(w.Bullets) == 0 {
				return false
			}
		}
		return true
	}},
}

// Compute evaluates the checklist against s. A nil session is not ready.
func (g Gate) Compute(s *domain.Session) Readiness {
	reqs := baseRequirements
	if g.Strict {
		reqs = append(append([]requirement(nil), baseRequirements...), strictRequirements...)
	}

	r := Readiness{
		RequiredPresent: make(map[string]bool, len(reqs)),
		Missing:         []string{},
		StrictMode:      g.Strict,
	}
	for _, req := range reqs {
		ok := s != nil && req.present(s)
		r.RequiredPresent[req.key] = ok
		if !ok {
			r.Missing = append(r.Missing, req.key)
		}
	}
	r.CanGenerate = s != nil && s.Metadata.Stage.GenerationEligible() && len(r.Missing) == 0
	return r
}

func validEmail(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	addr, err := mail.ParseAddress(raw)
	return err == nil && addr.Address == raw
}
