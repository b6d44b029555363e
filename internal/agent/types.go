// Package agent implements the CV orchestration loop: it resolves the stage,
// offers stage-gated tools to the generative model and folds tool results back
// into the conversation until the model answers in plain text.
package agent

import (
	"encoding/json"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/workflow"
)

// UploadedDocument is an optional draft CV attached to a chat request.
type UploadedDocument struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
}

// UserAction is an explicit UI action such as a confirm button.
type UserAction struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Request is one chat turn.
type Request struct {
	Message               string            `json:"message"`
	SessionID             string            `json:"session_id,omitempty"`
	UploadedDocument      *UploadedDocument `json:"uploaded_document,omitempty"`
	UserAction            *UserAction       `json:"user_action,omitempty"`
	ExternalReferenceURL  string            `json:"external_reference_url,omitempty"`
	ExternalReferenceText string            `json:"external_reference_text,omitempty"`
}

// Refusal is a structured "blocked operation" answer.
type Refusal struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

// Refusal codes.
const (
	RefusalNotReady          = "not_ready"
	RefusalDuplicateGenerate = "duplicate_generate"
	RefusalToolNotOffered    = "tool_not_offered"
)

// ToolCallRecord describes one tool execution for debugging. Never persisted.
type ToolCallRecord struct {
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	ResultingStage domain.Stage   `json:"resulting_stage"`
}

// Response is the answer to one chat turn.
type Response struct {
	ResponseText       string                `json:"response_text"`
	ArtifactBase64     string                `json:"artifact_base64,omitempty"`
	SessionID          string                `json:"session_id"`
	Stage              domain.Stage          `json:"stage"`
	StageSequence      []domain.Stage        `json:"stage_sequence"`
	StageTransitionLog []workflow.Transition `json:"stage_transition_log"`
	TraceID            string                `json:"trace_id"`
	Readiness          workflow.Readiness    `json:"readiness"`
	Blocked            *Refusal              `json:"blocked,omitempty"`
	ToolCalls          []ToolCallRecord      `json:"tool_calls"`
}

// ToolSpec declares a tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// CallEnv is the request context a tool may need.
type CallEnv struct {
	SessionID string
	TraceID   string
	Upload    *Upload
}

// Upload is a decoded uploaded document.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ToolResult is what a tool hands back to the loop.
type ToolResult struct {
	Output    map[string]any
	Outcome   workflow.ToolOutcome
	Mutated   bool
	SessionID string
	Artifact  []byte
	Refusal   *Refusal
}

// TurnRole is the author of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// Turn is one entry of the in-request conversation.
type Turn struct {
	Role      TurnRole
	Text      string
	ToolCalls []ToolCall
	// Set on tool turns.
	ToolCallID string
	ToolName   string
	Output     map[string]any
}

// ModelRequest is a single model invocation.
type ModelRequest struct {
	System  string
	Context string
	Turns   []Turn
	Tools   []ToolSpec
}

// ModelReply is the model's answer: text, tool calls or both.
type ModelReply struct {
	Text      string
	ToolCalls []ToolCall
}

// Config holds loop configuration.
type Config struct {
	MaxIterations     int
	HeaderLimits      workflow.HeaderLimits
	AutoAdvanceTurns  int
	StrictReadiness   bool
	SnapshotMaxBytes  int
	ModelTimeout      time.Duration
	MaxReferenceChars int
}

// DefaultConfig returns loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    10,
		HeaderLimits:     workflow.DefaultHeaderLimits,
		AutoAdvanceTurns: workflow.DefaultAutoAdvanceTurns,
		SnapshotMaxBytes: workflow.DefaultSnapshotMaxBytes,
		ModelTimeout:     60 * time.Second,
	}
}
