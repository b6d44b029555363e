package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/cvstudio/internal/agent"
	"github.com/ashureev/cvstudio/internal/clamp"
	"github.com/ashureev/cvstudio/internal/docsvc"
	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
)

// ErrLayoutBudget means content still overflows the page budget after both
// clamp tiers.
var ErrLayoutBudget = errors.New("layout_budget_exceeded")

func (r *Registry) layoutViolation(res *docsvc.RenderResult) bool {
	return res.Error == docsvc.LayoutBudgetExceeded || (r.maxPages > 0 && res.PageCount > r.maxPages)
}

func (r *Registry) render(ctx context.Context, data domain.CVData) (*docsvc.RenderResult, error) {
	res, err := r.renderer.Render(ctx, data, docsvc.RenderOptions{MaxPages: r.maxPages})
	if err != nil {
		return nil, err
	}
	if res.Error != "" && !r.layoutViolation(res) {
		return nil, fmt.Errorf("renderer: %s", res.Error)
	}
	return res, nil
}

func (r *Registry) generateDocument(ctx context.Context, env agent.CallEnv) (agent.ToolResult, error) {
	s, err := store.LoadSession(ctx, r.store, env.SessionID)
	if err != nil {
		return agent.ToolResult{}, err
	}

	ready := r.gate.Compute(s)
	if !ready.CanGenerate {
		refusal := &agent.Refusal{
			Code:    agent.RefusalNotReady,
			Message: "the CV is not ready to be generated",
			Missing: ready.Missing,
		}
		return agent.ToolResult{
			Output:  map[string]any{"error": refusal.Code, "message": refusal.Message, "missing": refusal.Missing},
			Outcome: workflow.OutcomeRefused,
			Refusal: refusal,
		}, nil
	}

	data := s.Data
	tier := clamp.TierNone
	res, err := r.render(ctx, data)
	if err != nil {
		return failure("render_failed", err), nil
	}

	// Each tier is applied once and followed by exactly one re-render.
	for _, next := range []clamp.Tier{clamp.TierFix, clamp.TierSqueeze} {
		if !r.layoutViolation(res) {
			break
		}
		limits, ok := r.profile.For(next)
		if !ok {
			return failure("clamp_failed", fmt.Errorf("no clamp limits for tier %s", next)), nil
		}
		data = clamp.Apply(data, limits, s.Metadata.WorkRoleLocks)
		tier = next
		r.logger.Info("layout budget exceeded, clamping",
			"session_id", s.ID, "tier", next.String(), "page_count", res.PageCount, "trace_id", env.TraceID)
		res, err = r.render(ctx, data)
		if err != nil {
			return failure("render_failed", err), nil
		}
	}

	if r.layoutViolation(res) {
		r.logger.Warn("layout budget exceeded after squeeze", "session_id", s.ID, "page_count", res.PageCount)
		return agent.ToolResult{
			Output: map[string]any{
				"error":      ErrLayoutBudget.Error(),
				"message":    domain.LayoutBudgetMessage,
				"page_count": res.PageCount,
				"max_pages":  r.maxPages,
			},
			Outcome: workflow.OutcomeLayoutViolation,
		}, nil
	}

	now := r.now()
	artifact := &domain.Artifact{
		ID:          r.newID(),
		SessionID:   s.ID,
		ContentType: res.ContentType,
		Data:        res.Document,
		PageCount:   res.PageCount,
		CreatedAt:   now,
	}
	if artifact.ContentType == "" {
		artifact.ContentType = "application/pdf"
	}
	if err := r.store.PutArtifact(ctx, artifact); err != nil {
		return agent.ToolResult{}, fmt.Errorf("store artifact: %w", err)
	}

	s.Data = data
	s.Metadata.AppendArtifact(domain.ArtifactRef{
		ArtifactID: artifact.ID,
		PageCount:  artifact.PageCount,
		ClampTier:  int(tier),
		CreatedAt:  now,
	})
	s.Metadata.UpdatedAt = now
	if err := r.store.PutSession(ctx, s); err != nil {
		return agent.ToolResult{}, fmt.Errorf("record artifact: %w", err)
	}

	r.logger.Info("document generated",
		"session_id", s.ID, "artifact_id", artifact.ID, "page_count", artifact.PageCount, "clamp_tier", tier.String())
	return agent.ToolResult{
		Output: map[string]any{
			"artifact_id":  artifact.ID,
			"page_count":   artifact.PageCount,
			"content_type": artifact.ContentType,
			"clamp_tier":   tier.String(),
		},
		Outcome:  workflow.OutcomeOK,
		Mutated:  tier != clamp.TierNone,
		Artifact: artifact.Data,
	}, nil
}
