package agent

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"
)

func TestFunctionDeclarationsConvertSchema(t *testing.T) {
	t.Parallel()

	specs := []ToolSpec{{
		Name:        "update_fields",
		Description: "Edit fields",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"updates": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {"path": {"type": "string"}, "value_json": {"type": "string"}},
						"required": ["path"]
					}
				},
				"mode": {"type": "string", "enum": ["merge", "replace"]}
			},
			"required": ["updates"]
		}`),
	}, {Name: "get_session"}}

	decls, err := functionDeclarations(specs)
	if err != nil {
		t.Fatalf("functionDeclarations: %v", err)
	}
	if len(decls) != 2 || decls[1].Parameters != nil {
		t.Fatalf("unexpected declarations %+v", decls)
	}
	p := decls[0].Parameters
	if p.Type != genai.TypeObject || len(p.Required) != 1 || p.Required[0] != "updates" {
		t.Fatalf("unexpected root schema %+v", p)
	}
	items := p.Properties["updates"].Items
	if p.Properties["updates"].Type != genai.TypeArray || items == nil || items.Properties["path"].Type != genai.TypeString {
		t.Fatalf("unexpected nested schema %+v", p.Properties["updates"])
	}
	if got := p.Properties["mode"].Enum; len(got) != 2 {
		t.Fatalf("enum = %v", got)
	}
}

func TestFunctionDeclarationsRejectBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := functionDeclarations([]ToolSpec{{Name: "x", Parameters: json.RawMessage(`[`)}}); err == nil {
		t.Fatal("expected error for malformed schema")
	}
}

func TestToContentsMapsRoles(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Role: RoleUser, Text: "make my CV"},
		{Role: RoleAssistant, Text: "checking", ToolCalls: []ToolCall{{ID: "c1", Name: "get_session"}}},
		{Role: RoleTool, ToolCallID: "c1", ToolName: "get_session", Output: map[string]any{"stage": "CONTACT"}},
	}
	got := toContents(turns)
	if len(got) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(got))
	}
	if got[0].Role != string(genai.RoleUser) || got[1].Role != string(genai.RoleModel) || got[2].Role != string(genai.RoleUser) {
		t.Fatalf("unexpected roles %q %q %q", got[0].Role, got[1].Role, got[2].Role)
	}
	if len(got[1].Parts) != 2 || got[1].Parts[1].FunctionCall == nil || got[1].Parts[1].FunctionCall.ID != "c1" {
		t.Fatalf("assistant turn must carry text and the function call, got %+v", got[1].Parts)
	}
	fr := got[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "get_session" || fr.ID != "c1" || fr.Response["stage"] != "CONTACT" {
		t.Fatalf("unexpected function response %+v", fr)
	}
}
