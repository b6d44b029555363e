package domain

import "fmt"

// Stage is a named state of the CV workflow.
type Stage string

const (
	StageBootstrap      Stage = "BOOTSTRAP"
	StageContact        Stage = "CONTACT"
	StageEducation      Stage = "EDUCATION"
	StageJobReference   Stage = "JOB_REFERENCE"
	StageWorkExperience Stage = "WORK_EXPERIENCE"
	StageSkills         Stage = "SKILLS"
	StageReview         Stage = "REVIEW"
	StageConfirm        Stage = "CONFIRM"
	StageGenerate       Stage = "GENERATE"
	StageDone           Stage = "DONE"
	StageFixValidation  Stage = "FIX_VALIDATION"
)

var stageOrder = []Stage{
	StageBootstrap,
	StageContact,
	StageEducation,
	StageJobReference,
	StageWorkExperience,
	StageSkills,
	StageReview,
	StageConfirm,
	StageGenerate,
	StageDone,
	StageFixValidation,
}

// Stages returns all stages in workflow order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of s in the workflow order, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known, non-empty stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// IsCollection reports whether s is one of the data-collection stages.
func (s Stage) IsCollection() bool {
	switch s {
	case StageContact, StageEducation, StageJobReference, StageWorkExperience, StageSkills:
		return true
	}
	return false
}

// GenerationEligible reports whether a document may be generated while in s.
func (s Stage) GenerationEligible() bool {
	switch s {
	case StageConfirm, StageGenerate, StageDone, StageFixValidation:
		return true
	}
	return false
}

// NextCollection returns the stage that follows s in the collection sequence.
// SKILLS is followed by REVIEW.
func (s Stage) NextCollection() Stage {
	switch s {
	case StageBootstrap:
		return StageContact
	case StageContact:
		return StageEducation
	case StageEducation:
		return StageJobReference
	case StageJobReference:
		return StageWorkExperience
	case StageWorkExperience:
		return StageSkills
	case StageSkills:
		return StageReview
	}
	return s
}

// ParseStage converts a raw value to a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
	}
	return s, nil
}
