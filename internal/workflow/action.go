// Package workflow holds the pure decision logic of the CV workflow: the
// stage resolver, readiness gate, pending-confirmation ledger, capability
// sets and the session snapshot handed to the model.
package workflow

import (
	"fmt"
	"strconv"

	"github.com/ashureev/cvstudio/internal/domain"
)

// ActionKind tags a user action.
type ActionKind string

const (
	ActionNone             ActionKind = ""
	ActionConfirm          ActionKind = "confirm"
	ActionReject           ActionKind = "reject"
	ActionGenerate         ActionKind = "generate"
	ActionGoTo             ActionKind = "goto"
	ActionConfirmContact   ActionKind = "confirm_contact"
	ActionConfirmEducation ActionKind = "confirm_education"
	ActionLockWorkRole     ActionKind = "lock_work_role"
)

// ActionSource records where an action came from.
type ActionSource string

const (
	SourceNone     ActionSource = "none"
	SourceExplicit ActionSource = "explicit"
	SourceInferred ActionSource = "inferred"
)

// Action is a structured user action. The resolver only ever sees actions,
// never raw message text.
type Action struct {
	Kind    ActionKind
	Payload map[string]any
	Source  ActionSource
}

// NoAction is the ambiguous turn: the user said something that is not an action.
var NoAction = Action{Kind: ActionNone, Source: SourceNone}

// ParseAction validates an explicit action id from the request boundary.
func ParseAction(id string, payload map[string]any) (Action, error) {
	kind := ActionKind(id)
	switch kind {
	case ActionConfirm, ActionReject, ActionGenerate, ActionConfirmContact, ActionConfirmEducation:
	case ActionGoTo:
		if _, err := actionStage(payload); err != nil {
			return Action{}, err
		}
	case ActionLockWorkRole:
		if _, err := actionIndex(payload); err != nil {
			return Action{}, err
		}
	default:
		return Action{}, fmt.Errorf("unknown action %q", id)
	}
	return Action{Kind: kind, Payload: payload, Source: SourceExplicit}, nil
}

// IsPositive reports whether the action approves moving forward.
func (a Action) IsPositive() bool {
	return a.Kind == ActionConfirm || a.Kind == ActionGenerate
}

// TargetStage returns the goto target.
func (a Action) TargetStage() (domain.Stage, error) {
	return actionStage(a.Payload)
}

// WorkRoleIndex returns the lock_work_role index.
func (a Action) WorkRoleIndex() (int, error) {
	return actionIndex(a.Payload)
}

func actionStage(payload map[string]any) (domain.Stage, error) {
	raw, _ := payload["stage"].(string)
	return domain.ParseStage(raw)
}

func actionIndex(payload map[string]any) (int, error) {
	switch v := payload["index"].(type) {
	case float64:
		if v < 0 || v != float64(int(v)) {
			return 0, fmt.Errorf("invalid work role index %v", v)
		}
		return int(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid work role index %d", v)
		}
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid work role index %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("lock_work_role requires an index")
}
