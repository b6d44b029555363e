package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

var errEmptyModelResponse = errors.New("model returned no candidates")

// GeminiModel invokes a Gemini model through the genai SDK.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewGeminiModel creates a Gemini-backed Model.
func NewGeminiModel(ctx context.Context, apiKey, model string, temperature float32, logger *slog.Logger) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger.Info("Gemini model configured", "model", model)
	return &GeminiModel{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// Invoke sends one step of the conversation and returns text and tool calls.
func (m *GeminiModel) Invoke(ctx context.Context, req ModelRequest) (*ModelReply, error) {
	system := req.System
	if req.Context != "" {
		system += "\n\n" + req.Context
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(m.temperature),
	}
	if len(req.Tools) > 0 {
		decls, err := functionDeclarations(req.Tools)
		if err != nil {
			return nil, err
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, toContents(req.Turns), config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errEmptyModelResponse
	}

	reply := &ModelReply{Text: strings.TrimSpace(resp.Text())}
	for i, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: id, Name: fc.Name, Args: fc.Args})
	}
	m.logger.Debug("model step",
		"model", m.model,
		"tool_calls", len(reply.ToolCalls),
		"text_len", len(reply.Text),
	)
	return reply, nil
}

// toContents converts the turn history into genai contents. Tool results are
// sent back as function responses in the user role.
func toContents(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			out = append(out, genai.NewContentFromText(t.Text, genai.RoleUser))
		case RoleAssistant:
			var parts []*genai.Part
			if t.Text != "" {
				parts = append(parts, genai.NewPartFromText(t.Text))
			}
			for _, c := range t.ToolCalls {
				p := genai.NewPartFromFunctionCall(c.Name, c.Args)
				p.FunctionCall.ID = c.ID
				parts = append(parts, p)
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			p := genai.NewPartFromFunctionResponse(t.ToolName, t.Output)
			p.FunctionResponse.ID = t.ToolCallID
			out = append(out, genai.NewContentFromParts([]*genai.Part{p}, genai.RoleUser))
		}
	}
	return out
}

func functionDeclarations(specs []ToolSpec) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decl := &genai.FunctionDeclaration{Name: spec.Name, Description: spec.Description}
		if len(spec.Parameters) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(spec.Parameters, &raw); err != nil {
				return nil, fmt.Errorf("tool %s parameters: %w", spec.Name, err)
			}
			decl.Parameters = toSchema(raw)
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// toSchema maps the JSON-schema subset used by tool specs onto genai.Schema.
func toSchema(raw map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := raw["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[name] = toSchema(sub)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}
