package workflow

import (
	"fmt"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
)

// DefaultAutoAdvanceTurns is how many ambiguous REVIEW turns move the session
// to CONFIRM on their own.
const DefaultAutoAdvanceTurns = 3

// Transition reasons recorded in the stage transition log.
const (
	ViaBootstrap         = "bootstrap_complete"
	ViaUserConfirm       = "user_confirm"
	ViaUserReject        = "user_reject"
	ViaUserGoTo          = "user_goto"
	ViaGenerateRequested = "generate_requested"
	ViaAutoAdvance       = "auto_advance"
	ViaSectionComplete   = "section_complete"
	ViaRevalidate        = "revalidate"
	ViaSessionCreated    = "session_created"
	ViaGenerateStarted   = "generate_started"
	ViaGenerated         = "document_generated"
	ViaLayoutExceeded    = "layout_budget_exceeded"
	ViaContentEdited     = "content_edited"
	ViaReferenceStored   = "reference_stored"
	ViaNeedsConfirmation = "confirmation_required"
)

// FlagOp sets a confirmation flag.
type FlagOp string

const (
	FlagContactConfirmed   FlagOp = "contact_confirmed"
	FlagEducationConfirmed FlagOp = "education_confirmed"
)

// Transition is one entry of the stage transition log.
type Transition struct {
	From domain.Stage `json:"from"`
	To   domain.Stage `json:"to"`
	Via  string       `json:"via"`
}

// Decision is the resolver's output. Next is never empty.
type Decision struct {
	From      domain.Stage
	Next      domain.Stage
	Via       string
	Counter   int
	LedgerOps []LedgerOp
	FlagOps   []FlagOp
	Locks     []int
}

// Changed reports whether the decision moves the session to another stage.
func (d Decision) Changed() bool {
	return d.From != d.Next
}

// Transition returns the log entry for a stage change.
func (d Decision) Transition() (Transition, bool) {
	if !d.Changed() {
		return Transition{}, false
	}
	return Transition{From: d.From, To: d.Next, Via: d.Via}, true
}

// Resolver is the stage state machine. It holds configuration only; all
// state comes from session metadata.
type Resolver struct {
	AutoAdvanceTurns int
}

// NewResolver returns a resolver that auto-advances REVIEW after turns ambiguous turns.
func NewResolver(turns int) Resolver {
	if turns <= 0 {
		turns = DefaultAutoAdvanceTurns
	}
	return Resolver{AutoAdvanceTurns: turns}
}

// move builds every decision. Entering CONFIRM always clears an outstanding
// import_prefill confirmation: reaching CONFIRM is itself the confirmation.
func move(from, to domain.Stage, via string, counter int) Decision {
	if from == to {
		return Decision{From: from, Next: to, Counter: counter}
	}
	d := Decision{From: from, Next: to, Via: via}
	if to == domain.StageConfirm {
		d.LedgerOps = append(d.LedgerOps, LedgerOp{Op: LedgerClear, Kind: domain.PendingImportPrefill})
	}
	return d
}

// Resolve computes the next stage for an inbound action.
func (r Resolver) Resolve(stage domain.Stage, action Action, s *domain.Session, ready Readiness) (Decision, error) {
	if !stage.Valid() {
		return Decision{}, fmt.Errorf("resolve: %w: %q", domain.ErrInvalidStage, stage)
	}
	if s == nil {
		return Decision{}, fmt.Errorf("resolve: nil session")
	}
	turns := r.AutoAdvanceTurns
	if turns <= 0 {
		turns = DefaultAutoAdvanceTurns
	}
	counter := s.Metadata.StageTurnCounter
	stay := move(stage, stage, "", counter+1)

	d, err := r.route(stage, action, s, ready, turns, counter, stay)
	if err != nil {
		return Decision{}, err
	}

	switch action.Kind {
	case ActionConfirmContact:
		d.FlagOps = append(d.FlagOps, FlagContactConfirmed)
	case ActionConfirmEducation:
		d.FlagOps = append(d.FlagOps, FlagEducationConfirmed)
	case ActionLockWorkRole:
		idx, err := action.WorkRoleIndex()
		if err != nil {
			return Decision{}, fmt.Errorf("resolve: %w", err)
		}
		d.Locks = append(d.Locks, idx)
	}
	return d, nil
}

func (r Resolver) route(stage domain.Stage, action Action, s *domain.Session, ready Readiness, turns, counter int, stay Decision) (Decision, error) {
	if action.Kind == ActionGoTo {
		target, err := action.TargetStage()
		if err != nil {
			return Decision{}, fmt.Errorf("resolve: %w", err)
		}
		if !target.IsCollection() && target != domain.StageReview {
			return Decision{}, fmt.Errorf("resolve: cannot jump to %s", target)
		}
		return move(stage, target, ViaUserGoTo, counter+1), nil
	}

	switch {
	case stage == domain.StageBootstrap:
		return move(stage, domain.StageContact, ViaBootstrap, counter), nil

	case stage.IsCollection():
		return r.routeCollection(stage, action, s, ready, stay), nil

	case stage == domain.StageReview:
		switch {
		case action.IsPositive():
			return move(stage, domain.StageConfirm, ViaUserConfirm, 0), nil
		case action.Kind == ActionNone:
			if counter+1 >= turns {
				return move(stage, domain.StageConfirm, ViaAutoAdvance, 0), nil
			}
			return stay, nil
		default:
			// Any explicit action breaks the streak of ambiguous turns.
			return move(stage, stage, "", 0), nil
		}

	case stage == domain.StageConfirm:
		if action.Kind == ActionReject {
			return move(stage, domain.StageReview, ViaUserReject, 0), nil
		}
		// Approval cannot complete while a confirmation flag is unset; send
		// the user to the stage that owns it.
		if action.IsPositive() {
			if owner, ok := unconfirmedStage(s); ok {
				return move(stage, owner, ViaNeedsConfirmation, 0), nil
			}
		}
		return stay, nil

	case stage == domain.StageFixValidation:
		switch action.Kind {
		case ActionReject:
			return move(stage, domain.StageReview, ViaUserReject, 0), nil
		case ActionConfirm:
			return move(stage, domain.StageConfirm, ViaRevalidate, 0), nil
		}
		return stay, nil

	case stage == domain.StageGenerate, stage == domain.StageDone:
		if action.Kind == ActionReject {
			return move(stage, domain.StageReview, ViaUserReject, 0), nil
		}
		return stay, nil
	}
	return stay, nil
}

func (r Resolver) routeCollection(stage domain.Stage, action Action, s *domain.Session, ready Readiness, stay Decision) Decision {
	switch action.Kind {
	case ActionConfirm:
		d := move(stage, stage.NextCollection(), ViaUserConfirm, 0)
		switch stage {
		case domain.StageContact:
			d.FlagOps = append(d.FlagOps, FlagContactConfirmed)
		case domain.StageEducation:
			d.FlagOps = append(d.FlagOps, FlagEducationConfirmed)
		}
		return d
	case ActionGenerate:
		if ready.RequirementsMet() {
			return move(stage, domain.StageConfirm, ViaGenerateRequested, 0)
		}
		return stay
	case ActionNone:
		next := stage
		for next.IsCollection() && sectionComplete(next, s) {
			next = next.NextCollection()
		}
		if next != stage {
			return move(stage, next, ViaSectionComplete, 0)
		}
	}
	return stay
}

// unconfirmedStage returns the first collection stage whose confirmation
// flag is still unset.
func unconfirmedStage(s *domain.Session) (domain.Stage, bool) {
	switch {
	case !s.Metadata.ConfirmedFlags.ContactConfirmed:
		return domain.StageContact, true
	case !s.Metadata.ConfirmedFlags.EducationConfirmed:
		return domain.StageEducation, true
	}
	return "", false
}

func sectionComplete(stage domain.Stage, s *domain.Session) bool {
	switch stage {
	case domain.StageContact:
		return s.Metadata.ConfirmedFlags.ContactConfirmed
	case domain.StageEducation:
		return s.Metadata.ConfirmedFlags.EducationConfirmed
	case domain.StageJobReference:
		return s.Data.JobReference != nil && s.Data.JobReference.Text != ""
	}
	return false
}

// ToolOutcome summarizes a tool execution for stage derivation.
type ToolOutcome string

const (
	OutcomeOK              ToolOutcome = "ok"
	OutcomeFailed          ToolOutcome = "failed"
	OutcomeRefused         ToolOutcome = "refused"
	OutcomeLayoutViolation ToolOutcome = "layout_violation"
)

// BeginGeneration moves the session into GENERATE before the generate tool runs.
func BeginGeneration(stage domain.Stage, counter int) Decision {
	return move(stage, domain.StageGenerate, ViaGenerateStarted, counter)
}

// DeriveFromTool re-derives the stage from a tool's name and outcome.
// Tool-driven changes do not count as conversational turns.
func DeriveFromTool(stage domain.Stage, counter int, tool string, outcome ToolOutcome, mutated bool) Decision {
	switch tool {
	case ToolCreateSession:
		if outcome == OutcomeOK {
			return move(stage, domain.StageContact, ViaSessionCreated, counter)
		}
	case ToolGenerateDocument:
		switch outcome {
		case OutcomeOK:
			return move(stage, domain.StageDone, ViaGenerated, counter)
		case OutcomeLayoutViolation:
			return move(stage, domain.StageFixValidation, ViaLayoutExceeded, counter)
		}
	case ToolUpdateFields:
		if outcome == OutcomeOK && mutated && stage.GenerationEligible() {
			return move(stage, domain.StageReview, ViaContentEdited, counter)
		}
	case ToolFetchReference:
		if outcome == OutcomeOK && stage == domain.StageJobReference {
			return move(stage, domain.StageWorkExperience, ViaReferenceStored, counter)
		}
	}
	return move(stage, stage, "", counter)
}

// ApplyDecision writes a decision into session metadata. It is the only place
// where the pending-confirmation slot is ever cleared.
func ApplyDecision(meta *domain.Metadata, d Decision, now time.Time) {
	meta.Stage = d.Next
	meta.StageTurnCounter = d.Counter
	applyLedgerOps(meta, d.LedgerOps)
	for _, f := range d.FlagOps {
		switch f {
		case FlagContactConfirmed:
			meta.ConfirmedFlags.ContactConfirmed = true
		case FlagEducationConfirmed:
			meta.ConfirmedFlags.EducationConfirmed = true
		}
	}
	for _, idx := range d.Locks {
		meta.LockWorkRole(idx)
	}
	meta.UpdatedAt = now
}
