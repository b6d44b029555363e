package domain

import (
	"strings"
	"time"
)

// Contact holds the identity block of a CV.
type Contact struct {
	FullName string   `json:"full_name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Location string   `json:"location,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// Education is a single education entry.
type Education struct {
	Institution string   `json:"institution,omitempty"`
	Degree      string   `json:"degree,omitempty"`
	Field       string   `json:"field,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	Details     []string `json:"details,omitempty"`
}

// WorkEntry is a single work-experience entry.
type WorkEntry struct {
	Employer string   `json:"employer,omitempty"`
	Title    string   `json:"title,omitempty"`
	Location string   `json:"location,omitempty"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Bullets  []string `json:"bullets,omitempty"`
}

// JobReference is the external posting the CV is tailored to.
type JobReference struct {
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"text,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CVData is the structured content of a session.
type CVData struct {
	Contact        Contact       `json:"contact"`
	Summary        string        `json:"summary,omitempty"`
	Education      []Education   `json:"education,omitempty"`
	WorkExperience []WorkEntry   `json:"work_experience,omitempty"`
	Skills         []string      `json:"skills,omitempty"`
	Languages      []string      `json:"languages,omitempty"`
	JobReference   *JobReference `json:"job_reference,omitempty"`

	// Optional sections, removed first when space runs out.
	TechnicalSkills []string `json:"technical_skills,omitempty"`
	Interests       []string `json:"interests,omitempty"`
	Certifications  []string `json:"certifications,omitempty"`
	References      []string `json:"references,omitempty"`
}

// IsEmpty reports whether no section carries content.
func (d *CVData) IsEmpty() bool {
	c := d.Contact
	return strings.TrimSpace(c.FullName) == "" &&
		strings.TrimSpace(c.Email) == "" &&
		strings.TrimSpace(c.Phone) == "" &&
		strings.TrimSpace(c.Location) == "" &&
		len(c.Links) == 0 &&
		strings.TrimSpace(d.Summary) == "" &&
		len(d.Education) == 0 &&
		len(d.WorkExperience) == 0 &&
		len(d.Skills) == 0 &&
		len(d.Languages) == 0 &&
		len(d.TechnicalSkills) == 0 &&
		len(d.Interests) == 0 &&
		len(d.Certifications) == 0 &&
		len(d.References) == 0
}

// HasCoreSections reports whether contact name, education and work experience are all present.
func (d *CVData) HasCoreSections() bool {
	return strings.TrimSpace(d.Contact.FullName) != "" &&
		len(d.Education) > 0 &&
		len(d.WorkExperience) > 0
}

// Clone returns a deep copy of d.
func (d CVData) Clone() CVData {
	out := d
	out.Contact.Links = cloneStrings(d.Contact.Links)
	if d.Education != nil {
		out.Education = make([]Education, len(d.Education))
		for i, e := range d.Education {
			e.Details = cloneStrings(e.Details)
			out.Education[i] = e
		}
	}
	if d.WorkExperience != nil {
		out.WorkExperience = make([]WorkEntry, len(d.WorkExperience))
		for i, w := range d.WorkExperience {
			w.Bullets = cloneStrings(w.Bullets)
			out.WorkExperience[i] = w
		}
	}
	out.Skills = cloneStrings(d.Skills)
	out.Languages = cloneStrings(d.Languages)
	out.TechnicalSkills = cloneStrings(d.TechnicalSkills)
	out.Interests = cloneStrings(d.Interests)
	out.Certifications = cloneStrings(d.Certifications)
	out.References = cloneStrings(d.References)
	if d.JobReference != nil {
		ref := *d.JobReference
		out.JobReference = &ref
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
