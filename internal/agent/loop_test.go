package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory store.Repository.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	puts     int
}

func newMemStore(sessions ...*domain.Session) *memStore {
	m := &memStore{sessions: make(map[string]*domain.Session)}
	for _, s := range sessions {
		m.sessions[s.ID] = s.Clone()
	}
	return m
}

func (m *memStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *memStore) PutSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) PutArtifact(context.Context, *domain.Artifact) error { return nil }
func (m *memStore) GetArtifact(context.Context, string, string) (*domain.Artifact, error) {
	return nil, nil
}
func (m *memStore) DeleteSessionsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memStore) Ping(context.Context) error                                     { return nil }
func (m *memStore) Close() error                                                   { return nil }

// scriptedModel replays replies in order and then answers with plain text.
type scriptedModel struct {
	replies  []*ModelReply
	err      error
	requests []ModelRequest
	repeat   *ModelReply
}

func (m *scriptedModel) Invoke(_ context.Context, req ModelRequest) (*ModelReply, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.repeat != nil {
		return m.repeat, nil
	}
	if len(m.requests) <= len(m.replies) {
		return m.replies[len(m.requests)-1], nil
	}
	return &ModelReply{Text: "All set."}, nil
}

// fakeDispatcher records calls and answers with canned results.
type fakeDispatcher struct {
	repo    *memStore
	calls   []string
	results map[string]ToolResult
	errs    map[string]error
}

func (d *fakeDispatcher) Specs(names []string) []ToolSpec {
	out := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		out = append(out, ToolSpec{Name: n})
	}
	return out
}

func (d *fakeDispatcher) Call(ctx context.Context, call ToolCall, env CallEnv) (ToolResult, error) {
	d.calls = append(d.calls, call.Name)
	if err := d.errs[call.Name]; err != nil {
		return ToolResult{}, err
	}
	if call.Name == workflow.ToolCreateSession {
		s := domain.NewSession("created-1", testNow)
		_ = d.repo.PutSession(ctx, s)
		return ToolResult{Output: map[string]any{"session_id": s.ID}, Outcome: workflow.OutcomeOK, SessionID: s.ID}, nil
	}
	if res, ok := d.results[call.Name]; ok {
		return res, nil
	}
	return ToolResult{Output: map[string]any{"ok": true}, Outcome: workflow.OutcomeOK}, nil
}

func (d *fakeDispatcher) count(name string) int {
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}

func readySession(stage domain.Stage) *domain.Session {
	s := domain.NewSession("sess-1", testNow)
	s.Metadata.Stage = stage
	s.Data.Contact = domain.Contact{FullName: "Ada Lovelace", Email: "ada@example.com"}
	s.Data.Education = []domain.Education{{Institution: "University of London"}}
	s.Data.WorkExperience = []domain.WorkEntry{{Employer: "Analytical Engines", Bullets: []string{"Wrote the first program"}}}
	s.Metadata.ConfirmedFlags = domain.ConfirmedFlags{ContactConfirmed: true, EducationConfirmed: true}
	return s
}

func newTestOrchestrator(repo *memStore, model Model, tools Dispatcher, maxIter int) *Orchestrator {
	cfg := DefaultConfig()
	cfg.MaxIterations = maxIter
	o := NewOrchestrator(repo, model, tools, cfg, nil, nil)
	o.now = func() time.Time { return testNow }
	return o
}

var generateOK = ToolResult{
	Output:   map[string]any{"artifact_id": "art-1", "page_count": 1},
	Outcome:  workflow.OutcomeOK,
	Artifact: []byte("%PDF"),
}

func TestSecondGenerateInSameRequestIsRefused(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageConfirm))
	tools := &fakeDispatcher{repo: repo, results: map[string]ToolResult{workflow.ToolGenerateDocument: generateOK}}
	model := &scriptedModel{replies: []*ModelReply{
		{ToolCalls: []ToolCall{{ID: "1", Name: workflow.ToolGenerateDocument}, {ID: "2", Name: workflow.ToolGenerateDocument}}},
		{ToolCalls: []ToolCall{{ID: "3", Name: workflow.ToolGenerateDocument}}},
	}}
	o := newTestOrchestrator(repo, model, tools, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "generate it", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if n := tools.count(workflow.ToolGenerateDocument); n != 1 {
		t.Fatalf("expected exactly one generate dispatch, got %d", n)
	}
	if resp.Blocked == nil || resp.Blocked.Code != RefusalDuplicateGenerate {
		t.Fatalf("expected duplicate_generate refusal, got %+v", resp.Blocked)
	}
	if resp.Stage != domain.StageDone || resp.ArtifactBase64 == "" {
		t.Fatalf("expected DONE with artifact, got %s", resp.Stage)
	}
	for _, req := range model.requests[1:] {
		for _, spec := range req.Tools {
			if spec.Name == workflow.ToolGenerateDocument {
				t.Fatal("generate must not be offered after an attempt")
			}
		}
	}
}

func TestLoopStopsAtIterationCap(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageReview))
	tools := &fakeDispatcher{repo: repo}
	model := &scriptedModel{repeat: &ModelReply{ToolCalls: []ToolCall{{Name: workflow.ToolGetSession}}}}
	o := newTestOrchestrator(repo, model, tools, 3)

	resp, err := o.Handle(context.Background(), Request{Message: "hmm", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(model.requests) != 3 || tools.count(workflow.ToolGetSession) != 3 {
		t.Fatalf("expected 3 iterations, got %d model calls", len(model.requests))
	}
	if !strings.Contains(resp.ResponseText, iterationCapMessage) {
		t.Fatalf("expected cap message, got %q", resp.ResponseText)
	}
}

func TestServerGeneratesWhenModelOnlyTalks(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageConfirm))
	tools := &fakeDispatcher{repo: repo, results: map[string]ToolResult{workflow.ToolGenerateDocument: generateOK}}
	model := &scriptedModel{replies: []*ModelReply{{Text: "Sure, generating your CV now!"}}}
	o := newTestOrchestrator(repo, model, tools, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "Please generate the final CV", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if tools.count(workflow.ToolGenerateDocument) != 1 {
		t.Fatalf("expected one fallback generation, got %v", tools.calls)
	}
	if resp.Stage != domain.StageDone || resp.ArtifactBase64 == "" {
		t.Fatalf("expected DONE with artifact, got %s", resp.Stage)
	}
}

func TestNoFallbackGenerationOnNegativeHeader(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageConfirm))
	tools := &fakeDispatcher{repo: repo}
	model := &scriptedModel{replies: []*ModelReply{{Text: "Okay, waiting."}}}
	o := newTestOrchestrator(repo, model, tools, 10)

	if _, err := o.Handle(context.Background(), Request{Message: "Don't generate yet", SessionID: "sess-1"}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", tools.calls)
	}
}

func TestGenerateNotOfferedIsRefusedAsNotReady(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Metadata.ConfirmedFlags.EducationConfirmed = false
	repo := newMemStore(s)
	tools := &fakeDispatcher{repo: repo}
	model := &scriptedModel{replies: []*ModelReply{{ToolCalls: []ToolCall{{Name: workflow.ToolGenerateDocument}}}}}
	o := newTestOrchestrator(repo, model, tools, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "hmm", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("dispatcher must not run, got %v", tools.calls)
	}
	if resp.Blocked == nil || resp.Blocked.Code != RefusalNotReady || len(resp.Blocked.Missing) == 0 {
		t.Fatalf("expected not_ready refusal with missing items, got %+v", resp.Blocked)
	}
}

func TestToolErrorIsFoldedIntoConversation(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageSkills))
	tools := &fakeDispatcher{repo: repo, errs: map[string]error{workflow.ToolGetSession: errors.New("disk on fire")}}
	model := &scriptedModel{replies: []*ModelReply{{ToolCalls: []ToolCall{{ID: "c1", Name: workflow.ToolGetSession}}}}}
	o := newTestOrchestrator(repo, model, tools, 10)

	if _, err := o.Handle(context.Background(), Request{Message: "show me", SessionID: "sess-1"}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(model.requests) != 2 {
		t.Fatalf("expected a second model call, got %d", len(model.requests))
	}
	turns := model.requests[1].Turns
	last := turns[len(turns)-1]
	if last.Role != RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("expected tool turn, got %+v", last)
	}
	if msg, _ := last.Output["error"].(string); !strings.HasPrefix(msg, "Error: ") {
		t.Fatalf("expected folded error, got %v", last.Output)
	}
}

func TestIncompatibleSessionIsRejectedUntouched(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Metadata.SchemaVersion = 1
	repo := newMemStore(s)
	tools := &fakeDispatcher{repo: repo}
	model := &scriptedModel{}
	o := newTestOrchestrator(repo, model, tools, 10)

	_, err := o.Handle(context.Background(), Request{Message: "yes", SessionID: "sess-1"})
	if !errors.Is(err, domain.ErrSessionIncompatible) {
		t.Fatalf("expected ErrSessionIncompatible, got %v", err)
	}
	if repo.puts != 0 || len(model.requests) != 0 {
		t.Fatal("incompatible session must not be modified or sent to the model")
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	o := newTestOrchestrator(repo, &scriptedModel{}, &fakeDispatcher{repo: repo}, 10)
	_, err := o.Handle(context.Background(), Request{Message: "hi", SessionID: "missing"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestNewConversationBootstrapsSession(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	o := newTestOrchestrator(repo, &scriptedModel{}, &fakeDispatcher{repo: repo}, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "Hi, I need a CV"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.SessionID == "" || resp.Stage != domain.StageContact {
		t.Fatalf("expected bootstrapped session at CONTACT, got %q/%s", resp.SessionID, resp.Stage)
	}
	if len(resp.StageTransitionLog) != 1 || resp.StageTransitionLog[0].Via != workflow.ViaBootstrap {
		t.Fatalf("unexpected transition log %+v", resp.StageTransitionLog)
	}
	if got := resp.StageSequence; len(got) != 2 || got[0] != domain.StageBootstrap || got[1] != domain.StageContact {
		t.Fatalf("unexpected stage sequence %v", got)
	}
	if resp.TraceID == "" {
		t.Fatal("expected trace id")
	}
}

func TestUploadCreatesSessionWhenModelDoesNot(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	tools := &fakeDispatcher{repo: repo}
	o := newTestOrchestrator(repo, &scriptedModel{}, tools, 10)

	resp, err := o.Handle(context.Background(), Request{
		Message:          "here is my old CV",
		UploadedDocument: &UploadedDocument{Filename: "cv.pdf", DataBase64: "JVBERg=="},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if tools.count(workflow.ToolCreateSession) != 1 || resp.SessionID != "created-1" {
		t.Fatalf("expected server-side create, got %v / %q", tools.calls, resp.SessionID)
	}
	if resp.Stage != domain.StageContact {
		t.Fatalf("expected CONTACT, got %s", resp.Stage)
	}
}

func TestModelFailureLeavesDataUntouched(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageSkills))
	o := newTestOrchestrator(repo, &scriptedModel{err: errors.New("quota")}, &fakeDispatcher{repo: repo}, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "add Go to my skills", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.ResponseText != modelFailureMessage {
		t.Fatalf("unexpected text %q", resp.ResponseText)
	}
	got, _ := repo.GetSession(context.Background(), "sess-1")
	if len(got.Data.Skills) != 0 {
		t.Fatal("session data must not change")
	}
}

func TestReviewAutoAdvancesAcrossRequests(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Metadata.PendingConfirmation = &domain.PendingConfirmation{Kind: domain.PendingImportPrefill, CreatedAt: testNow}
	repo := newMemStore(s)
	o := newTestOrchestrator(repo, &scriptedModel{repeat: &ModelReply{Text: "Anything else?"}}, &fakeDispatcher{repo: repo}, 10)

	var resp *Response
	for i := 0; i < 3; i++ {
		var err error
		resp, err = o.Handle(context.Background(), Request{Message: "hmm, let me think about the summary", SessionID: "sess-1"})
		if err != nil {
			t.Fatalf("Handle %d failed: %v", i, err)
		}
	}
	if resp.Stage != domain.StageConfirm {
		t.Fatalf("expected CONFIRM after three ambiguous turns, got %s", resp.Stage)
	}
	got, _ := repo.GetSession(context.Background(), "sess-1")
	if got.Metadata.PendingConfirmation != nil {
		t.Fatal("expected import_prefill to be cleared on entering CONFIRM")
	}
}

func TestBadUserActionIsRejected(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageReview))
	o := newTestOrchestrator(repo, &scriptedModel{}, &fakeDispatcher{repo: repo}, 10)
	_, err := o.Handle(context.Background(), Request{SessionID: "sess-1", UserAction: &UserAction{ID: "explode"}})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestApprovalHeaderOnUnreadySessionDoesNotGenerate(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Data.Contact.Email = ""
	repo := newMemStore(s)
	tools := &fakeDispatcher{repo: repo, results: map[string]ToolResult{workflow.ToolGenerateDocument: generateOK}}
	model := &scriptedModel{replies: []*ModelReply{{Text: "I still need your email address."}}}
	o := newTestOrchestrator(repo, model, tools, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "Looks good, generate it", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if n := tools.count(workflow.ToolGenerateDocument); n != 0 {
		t.Fatalf("expected no generate dispatch, got %d", n)
	}
	if len(model.requests) == 0 || !strings.Contains(model.requests[0].Context, "The user asked for the final document.") {
		t.Fatal("expected the generation request to reach the model context")
	}
	for _, spec := range model.requests[0].Tools {
		if spec.Name == workflow.ToolGenerateDocument {
			t.Fatal("generate must not be offered while the session is not ready")
		}
	}
	if resp.Readiness.CanGenerate {
		t.Fatal("expected can_generate=false")
	}
	if diff := cmp.Diff([]string{workflow.ReqContactEmail}, resp.Readiness.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestLayoutViolationMovesToFixValidation(t *testing.T) {
	t.Parallel()

	repo := newMemStore(readySession(domain.StageConfirm))
	tools := &fakeDispatcher{repo: repo, results: map[string]ToolResult{
		workflow.ToolGenerateDocument: {
			Output:  map[string]any{"error": "layout_budget_exceeded", "page_count": 3},
			Outcome: workflow.OutcomeLayoutViolation,
		},
	}}
	model := &scriptedModel{replies: []*ModelReply{
		{ToolCalls: []ToolCall{{ID: "1", Name: workflow.ToolGenerateDocument}}},
		{Text: "Your CV is too long."},
	}}
	o := newTestOrchestrator(repo, model, tools, 10)

	resp, err := o.Handle(context.Background(), Request{Message: "generate it", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.Stage != domain.StageFixValidation {
		t.Fatalf("expected FIX_VALIDATION, got %s", resp.Stage)
	}
	if !strings.Contains(resp.ResponseText, domain.LayoutBudgetMessage) {
		t.Fatalf("expected layout message in %q", resp.ResponseText)
	}
	if resp.ArtifactBase64 != "" {
		t.Fatal("no artifact may be returned after a layout violation")
	}
	if n := tools.count(workflow.ToolGenerateDocument); n != 1 {
		t.Fatalf("expected exactly one generate dispatch, got %d", n)
	}
	got, _ := repo.GetSession(context.Background(), "sess-1")
	if got.Metadata.Stage != domain.StageFixValidation {
		t.Fatalf("stored stage = %s", got.Metadata.Stage)
	}
}
