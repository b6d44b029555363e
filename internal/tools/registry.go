// Package tools implements the tools offered to the generative model. Every
// session mutation made on the model's behalf goes through this package.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cvstudio/internal/agent"
	"github.com/ashureev/cvstudio/internal/clamp"
	"github.com/ashureev/cvstudio/internal/docsvc"
	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/google/uuid"
)

// Renderer turns CV data into a document.
type Renderer interface {
	Render(ctx context.Context, data domain.CVData, opts docsvc.RenderOptions) (*docsvc.RenderResult, error)
}

// Extractor turns an uploaded draft into CV data.
type Extractor interface {
	Extract(ctx context.Context, doc docsvc.Document) (*domain.CVData, error)
}

// ReferenceFetcher downloads a job posting as text.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Options configures a Registry.
type Options struct {
	Store             store.Repository
	Renderer          Renderer
	Extractor         Extractor
	Fetcher           ReferenceFetcher
	Gate              workflow.Gate
	Profile           clamp.Profile
	MaxPages          int
	SnapshotMaxBytes  int
	MaxReferenceChars int
	Logger            *slog.Logger
	Now               func() time.Time
	NewID             func() string
}

// Registry executes tool calls. It implements agent.Dispatcher.
type Registry struct {
	store             store.Repository
	renderer          Renderer
	extractor         Extractor
	fetcher           ReferenceFetcher
	gate              workflow.Gate
	profile           clamp.Profile
	maxPages          int
	snapshotMaxBytes  int
	maxReferenceChars int
	logger            *slog.Logger
	now               func() time.Time
	newID             func() string
}

var _ agent.Dispatcher = (*Registry)(nil)

// NewRegistry creates a registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:             opts.Store,
		renderer:          opts.Renderer,
		extractor:         opts.Extractor,
		fetcher:           opts.Fetcher,
		gate:              opts.Gate,
		profile:           opts.Profile,
		maxPages:          opts.MaxPages,
		snapshotMaxBytes:  opts.SnapshotMaxBytes,
		maxReferenceChars: opts.MaxReferenceChars,
		logger:            opts.Logger,
		now:               opts.Now,
		newID:             opts.NewID,
	}
	if r.renderer == nil {
		r.renderer = docsvc.Unavailable{}
	}
	if r.extractor == nil {
		r.extractor = docsvc.Unavailable{}
	}
	if r.profile == (clamp.Profile{}) {
		r.profile = clamp.DefaultProfile()
	}
	if r.maxReferenceChars <= 0 {
		r.maxReferenceChars = 20000
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.NewString() }
	}
	return r
}

// Specs returns declarations for the named tools, in the given order.
func (r *Registry) Specs(names []string) []agent.ToolSpec {
	out := make([]agent.ToolSpec, 0, len(names))
	for _, name := range names {
		if spec, ok := toolSpecs[name]; ok {
			out = append(out, spec)
		}
	}
	return out
}

// Call executes one tool call.
func (r *Registry) Call(ctx context.Context, call agent.ToolCall, env agent.CallEnv) (agent.ToolResult, error) {
	r.logger.Debug("tool call", "tool", call.Name, "session_id", env.SessionID, "trace_id", env.TraceID)

	switch call.Name {
	case workflow.ToolCreateSession:
		return r.createSession(ctx, env)
	case workflow.ToolGetSession:
		return r.getSession(ctx, env)
	case workflow.ToolUpdateFields:
		return r.updateFields(ctx, call.Args, env)
	case workflow.ToolGenerateDocument:
		return r.generateDocument(ctx, env)
	case workflow.ToolFetchReference:
		return r.fetchReference(ctx, call.Args, env)
	default:
		return agent.ToolResult{}, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func failure(code string, err error) agent.ToolResult {
	return agent.ToolResult{
		Output:  map[string]any{"error": code, "message": err.Error()},
		Outcome: workflow.OutcomeFailed,
	}
}

func (r *Registry) createSession(ctx context.Context, env agent.CallEnv) (agent.ToolResult, error) {
	if env.SessionID != "" {
		return failure("session_exists", fmt.Errorf("session %s already exists", env.SessionID)), nil
	}
	if env.Upload == nil || len(env.Upload.Data) == 0 {
		return failure("no_upload", errors.New("no document was uploaded with this request")), nil
	}

	data, err := r.extractor.Extract(ctx, docsvc.Document{
		Filename:    env.Upload.Filename,
		ContentType: env.Upload.ContentType,
		Data:        env.Upload.Data,
	})
	if err != nil {
		return failure("extract_failed", err), nil
	}

	now := r.now()
	s := domain.NewSession(r.newID(), now)
	s.Data = *data
	s.Metadata.DraftImported = !data.IsEmpty()
	if workflow.NeedsImportConfirmation(&s.Data) {
		workflow.SetPending(&s.Metadata, domain.PendingImportPrefill, now)
	}
	if err := r.store.PutSession(ctx, s); err != nil {
		return agent.ToolResult{}, fmt.Errorf("create session: %w", err)
	}

	out := map[string]any{
		"session_id":     s.ID,
		"draft_imported": s.Metadata.DraftImported,
	}
	if p := s.Metadata.PendingConfirmation; p != nil {
		out["pending_confirmation"] = string(p.Kind)
	}
	r.logger.Info("session created from document", "session_id", s.ID, "trace_id", env.TraceID)
	return agent.ToolResult{Output: out, Outcome: workflow.OutcomeOK, Mutated: true, SessionID: s.ID}, nil
}

func (r *Registry) getSession(ctx context.Context, env agent.CallEnv) (agent.ToolResult, error) {
	s, err := store.LoadSession(ctx, r.store, env.SessionID)
	if err != nil {
		return agent.ToolResult{}, err
	}
	snap := workflow.BuildSnapshot(s, r.gate.Compute(s), r.snapshotMaxBytes)
	out, err := toMap(snap)
	if err != nil {
		return agent.ToolResult{}, fmt.Errorf("get session: %w", err)
	}
	return agent.ToolResult{Output: out, Outcome: workflow.OutcomeOK}, nil
}

func (r *Registry) fetchReference(ctx context.Context, args map[string]any, env agent.CallEnv) (agent.ToolResult, error) {
	s, err := store.LoadSession(ctx, r.store, env.SessionID)
	if err != nil {
		return agent.ToolResult{}, err
	}

	rawURL, _ := args["url"].(string)
	text, _ := args["text"].(string)
	switch {
	case text != "":
	case rawURL != "":
		if r.fetcher == nil {
			return failure("fetch_unavailable", errors.New("reference fetching is disabled")), nil
		}
		text, err = r.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return failure("fetch_failed", err), nil
		}
	default:
		return failure("missing_argument", errors.New("url or text is required")), nil
	}
	text = truncateRunes(text, r.maxReferenceChars)

	now := r.now()
	s.Data.JobReference = &domain.JobReference{URL: rawURL, Text: text, FetchedAt: now}
	s.Metadata.UpdatedAt = now
	if err := r.store.PutSession(ctx, s); err != nil {
		return agent.ToolResult{}, fmt.Errorf("store reference: %w", err)
	}
	return agent.ToolResult{
		Output:  map[string]any{"stored": true, "chars": len([]rune(text)), "url": rawURL},
		Outcome: workflow.OutcomeOK,
		Mutated: true,
	}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
