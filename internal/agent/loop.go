package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/google/uuid"
)

// ErrBadRequest marks requests that are malformed at the boundary.
var ErrBadRequest = errors.New("bad request")

const (
	iterationCapMessage = "I stopped after reaching the maximum number of steps for one message. Send another message to continue."
	modelFailureMessage = "The assistant is unavailable right now, your CV was not changed. Please try again in a moment."
	emptyReplyMessage   = "Done."
)

const systemPrompt = `You help the user build a one-page-budget CV.
Work through the sections in order: contact, education, job reference, work experience, skills, then review.
Only use the tools you are given. Ask the user before generating the final document.
Never invent facts about the user.`

// Orchestrator runs the tool dispatch loop for one request at a time.
// It holds no session state between requests.
type Orchestrator struct {
	store    store.Repository
	model    Model
	tools    Dispatcher
	resolver workflow.Resolver
	gate     workflow.Gate
	cfg      Config
	convLog  ConversationLogger
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(repo store.Repository, model Model, tools Dispatcher, cfg Config, convLog ConversationLogger, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = def.ModelTimeout
	}
	if cfg.SnapshotMaxBytes <= 0 {
		cfg.SnapshotMaxBytes = def.SnapshotMaxBytes
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    repo,
		model:    model,
		tools:    tools,
		resolver: workflow.NewResolver(cfg.AutoAdvanceTurns),
		gate:     workflow.Gate{Strict: cfg.StrictReadiness},
		cfg:      cfg,
		convLog:  convLog,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// requestState is everything the loop tracks for one request.
type requestState struct {
	traceID           string
	session           *domain.Session
	upload            *Upload
	generateAttempted bool
	createAttempted   bool
	referenceHandled  bool
	layoutFailed      bool
	resp              *Response
}

func (rs *requestState) stage() domain.Stage {
	if rs.session == nil {
		return ""
	}
	return rs.session.Metadata.Stage
}

func (rs *requestState) sessionID() string {
	if rs.session == nil {
		return ""
	}
	return rs.session.ID
}

func (rs *requestState) observe(stage domain.Stage) {
	if stage == "" {
		return
	}
	seq := rs.resp.StageSequence
	if len(seq) == 0 || seq[len(seq)-1] != stage {
		rs.resp.StageSequence = append(seq, stage)
	}
}

// Handle processes one chat turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	rs := &requestState{
		traceID: o.newID(),
		resp: &Response{
			StageSequence:      []domain.Stage{},
			StageTransitionLog: []workflow.Transition{},
			ToolCalls:          []ToolCallRecord{},
		},
	}
	rs.resp.TraceID = rs.traceID

	upload, err := decodeUpload(req.UploadedDocument)
	if err != nil {
		return nil, err
	}
	rs.upload = upload

	action, err := o.actionFor(req)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		s, err := store.LoadSession(ctx, o.store, req.SessionID)
		if err != nil {
			return nil, err
		}
		rs.session = s
		rs.observe(s.Metadata.Stage)
	}

	o.convLog.Log(ConversationLogEvent{
		SessionID:  rs.sessionID(),
		TraceID:    rs.traceID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta: map[string]any{
			"action":        string(action.Kind),
			"action_source": string(action.Source),
			"has_upload":    upload != nil,
		},
	})

	if rs.session != nil {
		if err := o.resolveInbound(ctx, rs, action); err != nil {
			return nil, err
		}
		o.fetchRequestedReference(ctx, rs, req)
	}

	intent := workflow.DetectIntent(workflow.IntentHeader(req.Message, o.cfg.HeaderLimits))
	text, capped := o.runLoop(ctx, rs, req, intent)

	if rs.session == nil && rs.upload != nil && !rs.createAttempted {
		o.dispatch(ctx, rs, ToolCall{Name: workflow.ToolCreateSession})
	}
	if rs.session == nil {
		if err := o.bootstrap(ctx, rs); err != nil {
			return nil, err
		}
		o.fetchRequestedReference(ctx, rs, req)
	}

	o.finish(rs, text, capped)
	o.convLog.Log(ConversationLogEvent{
		SessionID:  rs.resp.SessionID,
		TraceID:    rs.traceID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: rs.resp.ResponseText,
		Meta: map[string]any{
			"stage":      string(rs.resp.Stage),
			"tool_calls": len(rs.resp.ToolCalls),
			"capped":     capped,
		},
	})
	return rs.resp, nil
}

func decodeUpload(doc *UploadedDocument) (*Upload, error) {
	if doc == nil || doc.DataBase64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(doc.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: uploaded_document.data_base64: %v", ErrBadRequest, err)
	}
	return &Upload{Filename: doc.Filename, ContentType: doc.ContentType, Data: data}, nil
}

// actionFor turns the request into a structured action. Free text is only
// consulted when the client sent no explicit action.
func (o *Orchestrator) actionFor(req Request) (workflow.Action, error) {
	if req.UserAction != nil && req.UserAction.ID != "" {
		a, err := workflow.ParseAction(req.UserAction.ID, req.UserAction.Payload)
		if err != nil {
			return workflow.Action{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return a, nil
	}
	return workflow.InferAction(req.Message, o.cfg.HeaderLimits), nil
}

func (o *Orchestrator) resolveInbound(ctx context.Context, rs *requestState, action workflow.Action) error {
	s := rs.session
	d, err := o.resolver.Resolve(s.Metadata.Stage, action, s, o.gate.Compute(s))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStage) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return o.commit(ctx, rs, s, d)
}

// commit applies a decision to s, persists it and records the transition.
func (o *Orchestrator) commit(ctx context.Context, rs *requestState, s *domain.Session, d workflow.Decision) error {
	workflow.ApplyDecision(&s.Metadata, d, o.now())
	if err := o.store.PutSession(ctx, s); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	if t, ok := d.Transition(); ok {
		rs.resp.StageTransitionLog = append(rs.resp.StageTransitionLog, t)
		o.logger.Info("stage transition",
			"session_id", s.ID, "from", t.From, "to", t.To, "via", t.Via, "trace_id", rs.traceID)
	}
	rs.session = s
	rs.observe(s.Metadata.Stage)
	return nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, rs *requestState) error {
	s := domain.NewSession(o.newID(), o.now())
	if err := o.store.PutSession(ctx, s); err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}
	rs.session = s
	rs.observe(s.Metadata.Stage)
	d, err := o.resolver.Resolve(s.Metadata.Stage, workflow.NoAction, s, o.gate.Compute(s))
	if err != nil {
		return err
	}
	return o.commit(ctx, rs, s, d)
}

// fetchRequestedReference stores reference text or a URL supplied with the
// request, once, before the model runs.
func (o *Orchestrator) fetchRequestedReference(ctx context.Context, rs *requestState, req Request) {
	if rs.referenceHandled || rs.session == nil {
		return
	}
	args := map[string]any{}
	switch {
	case strings.TrimSpace(req.ExternalReferenceText) != "":
		args["text"] = req.ExternalReferenceText
		if req.ExternalReferenceURL != "" {
			args["url"] = req.ExternalReferenceURL
		}
	case strings.TrimSpace(req.ExternalReferenceURL) != "":
		args["url"] = req.ExternalReferenceURL
	default:
		return
	}
	rs.referenceHandled = true
	o.dispatch(ctx, rs, ToolCall{Name: workflow.ToolFetchReference, Args: args})
}

func (o *Orchestrator) runLoop(ctx context.Context, rs *requestState, req Request, intent workflow.Intent) (string, bool) {
	turns := []Turn{{Role: RoleUser, Text: req.Message}}

	for iter := 0; iter < o.cfg.MaxIterations; iter++ {
		ready := o.gate.Compute(rs.session)
		offered := workflow.Capabilities(rs.stage(), ready, workflow.Flags{
			SessionExists:     rs.session != nil,
			UploadPresent:     rs.upload != nil,
			GenerateAttempted: rs.generateAttempted,
		})

		mctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
		reply, err := o.model.Invoke(mctx, ModelRequest{
			System:  systemPrompt,
			Context: o.contextFor(rs, ready, intent),
			Turns:   turns,
			Tools:   o.tools.Specs(offered),
		})
		cancel()
		if err != nil {
			o.logger.Error("model invocation failed", "error", err, "session_id", rs.sessionID(), "trace_id", rs.traceID)
			return modelFailureMessage, false
		}

		if len(reply.ToolCalls) == 0 {
			if intent.WantsGeneration() && ready.CanGenerate && !rs.generateAttempted {
				o.logger.Info("model replied without acting, generating on the user's request",
					"session_id", rs.sessionID(), "trace_id", rs.traceID)
				o.dispatch(ctx, rs, ToolCall{Name: workflow.ToolGenerateDocument})
			}
			return reply.Text, false
		}

		turns = append(turns, Turn{Role: RoleAssistant, Text: reply.Text, ToolCalls: reply.ToolCalls})
		for _, call := range reply.ToolCalls {
			output := o.runToolCall(ctx, rs, call, offered)
			turns = append(turns, Turn{
				Role:       RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Output:     output,
			})
		}
	}
	o.logger.Warn("tool iteration cap reached", "max_iterations", o.cfg.MaxIterations,
		"session_id", rs.sessionID(), "trace_id", rs.traceID)
	return "", true
}

// runToolCall validates a model tool call against the offered set and runs it.
func (o *Orchestrator) runToolCall(ctx context.Context, rs *requestState, call ToolCall, offered []string) map[string]any {
	var refusal *Refusal
	switch {
	case call.Name == workflow.ToolGenerateDocument && rs.generateAttempted:
		refusal = &Refusal{
			Code:    RefusalDuplicateGenerate,
			Message: "a document was already generated or attempted for this message",
		}
	case call.Name == workflow.ToolGenerateDocument && !o.gate.Compute(rs.session).CanGenerate:
		ready := o.gate.Compute(rs.session)
		refusal = &Refusal{
			Code:    RefusalNotReady,
			Message: "the CV is not ready to be generated",
			Missing: ready.Missing,
		}
	case !workflow.Offered(offered, call.Name):
		refusal = &Refusal{
			Code:    RefusalToolNotOffered,
			Message: fmt.Sprintf("tool %s is not available at stage %s", call.Name, rs.stage()),
		}
	}
	if refusal != nil {
		rs.resp.Blocked = refusal
		output := map[string]any{"error": refusal.Code, "message": refusal.Message}
		if len(refusal.Missing) > 0 {
			output["missing"] = refusal.Missing
		}
		o.record(rs, call, output)
		return output
	}
	return o.dispatch(ctx, rs, call)
}

// dispatch executes a tool, folds its outcome into the request state, reloads
// the session and re-derives the stage.
func (o *Orchestrator) dispatch(ctx context.Context, rs *requestState, call ToolCall) map[string]any {
	switch call.Name {
	case workflow.ToolCreateSession:
		rs.createAttempted = true
	case workflow.ToolGenerateDocument:
		rs.generateAttempted = true
		if rs.session != nil {
			d := workflow.BeginGeneration(rs.session.Metadata.Stage, rs.session.Metadata.StageTurnCounter)
			if err := o.commit(ctx, rs, rs.session, d); err != nil {
				o.logger.Error("failed to enter generation", "error", err, "trace_id", rs.traceID)
			}
		}
	}

	env := CallEnv{SessionID: rs.sessionID(), TraceID: rs.traceID, Upload: rs.upload}
	res, err := o.tools.Call(ctx, call, env)
	output := res.Output
	outcome := res.Outcome
	if err != nil {
		o.logger.Warn("tool call failed", "tool", call.Name, "error", err, "trace_id", rs.traceID)
		output = map[string]any{"error": "Error: " + err.Error()}
		outcome = workflow.OutcomeFailed
	}
	if output == nil {
		output = map[string]any{}
	}
	if res.Refusal != nil {
		rs.resp.Blocked = res.Refusal
	}
	if len(res.Artifact) > 0 {
		rs.resp.ArtifactBase64 = base64.StdEncoding.EncodeToString(res.Artifact)
	}
	if outcome == workflow.OutcomeLayoutViolation {
		rs.layoutFailed = true
	}

	id := env.SessionID
	if res.SessionID != "" {
		id = res.SessionID
	}
	if id != "" {
		fresh, lerr := store.LoadSession(ctx, o.store, id)
		if lerr != nil {
			o.logger.Error("failed to reload session after tool call", "tool", call.Name, "error", lerr, "trace_id", rs.traceID)
		} else {
			if rs.session == nil {
				rs.observe(fresh.Metadata.Stage)
			}
			d := workflow.DeriveFromTool(fresh.Metadata.Stage, fresh.Metadata.StageTurnCounter, call.Name, outcome, res.Mutated)
			if d.Changed() {
				if cerr := o.commit(ctx, rs, fresh, d); cerr != nil {
					o.logger.Error("failed to persist derived stage", "error", cerr, "trace_id", rs.traceID)
				}
			} else {
				rs.session = fresh
			}
		}
	}

	o.record(rs, call, output)
	return output
}

func (o *Orchestrator) record(rs *requestState, call ToolCall, output map[string]any) {
	rs.resp.ToolCalls = append(rs.resp.ToolCalls, ToolCallRecord{
		ToolName:       call.Name,
		Arguments:      call.Args,
		Output:         output,
		ResultingStage: rs.stage(),
	})
	o.convLog.Log(ConversationLogEvent{
		SessionID: rs.sessionID(),
		TraceID:   rs.traceID,
		Channel:   "tool",
		Direction: "internal",
		EventType: "tool_call",
		Meta: map[string]any{
			"tool":  call.Name,
			"stage": string(rs.stage()),
			"error": output["error"],
		},
	})
}

func (o *Orchestrator) contextFor(rs *requestState, ready workflow.Readiness, intent workflow.Intent) string {
	var b strings.Builder
	if rs.session == nil {
		b.WriteString("No CV session exists yet.")
		if rs.upload != nil {
			b.WriteString(" The user uploaded a draft CV; create the session from it.")
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Current stage: %s\n", rs.session.Metadata.Stage)
	if p := rs.session.Metadata.PendingConfirmation; p != nil {
		fmt.Fprintf(&b, "Pending confirmation: %s. Ask the user to confirm the imported data.\n", p.Kind)
	}
	if len(ready.Missing) > 0 {
		fmt.Fprintf(&b, "Missing before generation: %s\n", strings.Join(ready.Missing, ", "))
	}
	if intent.WantsGeneration() {
		b.WriteString("The user asked for the final document.\n")
	}
	b.WriteString("Session snapshot:\n")
	b.WriteString(workflow.BuildSnapshot(rs.session, ready, o.cfg.SnapshotMaxBytes).JSON())
	return b.String()
}

func (o *Orchestrator) finish(rs *requestState, text string, capped bool) {
	if rs.layoutFailed && !strings.Contains(text, domain.LayoutBudgetMessage) {
		text = strings.TrimSpace(text + "\n\n" + domain.LayoutBudgetMessage)
	}
	if capped {
		text = strings.TrimSpace(text + "\n\n" + iterationCapMessage)
	}
	if strings.TrimSpace(text) == "" {
		text = emptyReplyMessage
	}
	rs.resp.ResponseText = text
	rs.resp.SessionID = rs.sessionID()
	rs.resp.Stage = rs.stage()
	rs.resp.Readiness = o.gate.Compute(rs.session)
}
