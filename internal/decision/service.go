// Package decision implements the judge + policy decision pipeline of
// SPEC_FULL.md §4.6, grounded on the original source's
// services/decision_service.py.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhq/gavel/internal/emitter"
	"github.com/gavelhq/gavel/internal/judge"
	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/policy"
	"github.com/gavelhq/gavel/internal/storage"
)

// Service orchestrates one POST /decide call end to end.
type Service struct {
	db            *storage.DB
	registry      *judge.Registry
	emitter       *emitter.Emitter
	judgeLLMModel string
	recentRuns    int
}

func New(db *storage.DB, registry *judge.Registry, em *emitter.Emitter, judgeLLMModel string) *Service {
	return &Service{db: db, registry: registry, emitter: em, judgeLLMModel: judgeLLMModel, recentRuns: 5}
}

// Decide runs the full pipeline: idempotency short-circuit, trace load,
// policy resolution, context build, judge cache lookup/dispatch, policy
// overlay, synthetic audit span/event, and persistence — all inside one
// transaction, followed by a post-commit case emission on ESCALATE.
func (s *Service) Decide(ctx context.Context, projectID uuid.UUID, req model.DecideRequest) (model.DecideResponse, error) {
	if err := model.ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
		return model.DecideResponse{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.DecideResponse{}, err
	}
	defer tx.Rollback(ctx)

	if existing, err := s.db.GetTraceDecisionByIdempotencyKeyTx(ctx, tx, projectID, req.IdempotencyKey); err == nil {
		runs, err := s.db.ListRecentJudgeRunsByTrace(ctx, projectID, existing.TraceID, s.recentRuns)
		if err != nil {
			return model.DecideResponse{}, err
		}
		return model.DecideResponse{Decision: existing, JudgeRuns: runs}, nil
	} else if err != storage.ErrNotFound {
		return model.DecideResponse{}, err
	}

	trace, err := s.db.GetTraceByIDTx(ctx, tx, projectID, req.TraceID)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.DecideResponse{}, model.NotFoundError("trace %s not found", req.TraceID)
		}
		return model.DecideResponse{}, err
	}

	version, err := s.db.ResolveActivePolicyVersionTx(ctx, tx, projectID, req.ForcePolicyID, req.ForcePolicyVersion)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.DecideResponse{}, model.ValidationError("no active policy for project")
		}
		return model.DecideResponse{}, err
	}
	policyVersionLabel := fmt.Sprintf("%s:v%d", version.PolicyID, version.Version)

	evals, err := s.db.ListEvaluationsByTrace(ctx, projectID, trace.ID)
	if err != nil {
		return model.DecideResponse{}, err
	}
	decisionContext := buildContext(trace, evals, req.RequestPayload, req.ResponsePayload)

	inputHash := stableHash(map[string]any{
		"trace_id":       trace.ID.String(),
		"context":        decisionContext,
		"policy_version": policyVersionLabel,
	})

	selected, runs, usedLLM, err := s.selectJudgeOutput(ctx, tx, projectID, trace, inputHash, policyVersionLabel, decisionContext)
	if err != nil {
		return model.DecideResponse{}, err
	}

	policyContext := buildPolicyContext(decisionContext, selected, req.RequestPayload, req.ResponsePayload)
	policyResult, err := policy.Evaluate(version, policyContext)
	if err != nil {
		return model.DecideResponse{}, err
	}

	// Corrected overlay: a matched rule's action wins; absent a match, the
	// judge's own action/reason_code persist instead of always falling back
	// to the policy engine's default (see SPEC_FULL.md §9).
	finalAction := selected.Action
	finalReasonCode := selected.ReasonCode
	finalSeverity := policyResult.Severity
	if policyResult.Matched {
		finalAction = policyResult.Action
		finalReasonCode = policyResult.ReasonCode
	}
	if finalSeverity == "" {
		finalSeverity = "low"
	}

	judgeModel := "heuristic"
	if usedLLM {
		judgeModel = s.judgeLLMModel
	}

	if _, err := s.emitDecisionAuditSpan(ctx, tx, projectID, trace.ID, req.IdempotencyKey, finalAction, finalReasonCode); err != nil {
		return model.DecideResponse{}, err
	}

	signals := map[string]any{
		"judge_action":      selected.Action,
		"judge_reason_code": selected.ReasonCode,
		"policy_matched":    policyResult.Matched,
		"policy_priority":   policyResult.Priority,
	}

	d, err := s.db.InsertTraceDecisionTx(ctx, tx, model.TraceDecision{
		ProjectID:      projectID,
		TraceID:        trace.ID,
		Action:         model.Action(finalAction),
		ReasonCode:     finalReasonCode,
		Severity:       finalSeverity,
		Confidence:     selected.Confidence,
		PolicyVersion:  policyVersionLabel,
		JudgeModel:     &judgeModel,
		Signals:        signals,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return model.DecideResponse{}, err
	}

	decisionSnapshot := map[string]any{
		"action":      string(d.Action),
		"reason_code": d.ReasonCode,
		"severity":    d.Severity,
		"confidence":  d.Confidence,
	}
	if err := s.db.SetTraceDecisionSnapshotTx(ctx, tx, projectID, trace.ID, decisionSnapshot); err != nil {
		return model.DecideResponse{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DecideResponse{}, fmt.Errorf("decision: commit: %w", err)
	}

	if d.Action == model.ActionEscalate {
		// The decision is already committed; a failed case emission does not
		// fail or undo it.
		_, _ = s.emitter.CreateCaseAndNotify(ctx, projectID, trace.ID, d.ReasonCode)
	}

	return model.DecideResponse{Decision: d, JudgeRuns: runs}, nil
}

// buildContext assembles the decision context the judge providers read
// fields from, grounded on the original source's
// DecisionService._build_context.
func buildContext(trace model.Trace, evals []model.Evaluation, request, response map[string]any) map[string]any {
	var sum float64
	var faithfulness *float64
	for _, e := range evals {
		sum += e.Score
		if e.EvalName == "faithfulness" {
			score := e.Score
			faithfulness = &score
		}
	}
	overall := 0.8
	if len(evals) > 0 {
		overall = sum / float64(len(evals))
	}
	faithfulnessScore := 0.8
	if faithfulness != nil {
		faithfulnessScore = *faithfulness
	}

	inputText := ""
	if trace.InputText != nil {
		inputText = *trace.InputText
	}
	outputText := ""
	if trace.OutputText != nil {
		outputText = *trace.OutputText
	}

	ctx := map[string]any{
		"trace_id":           trace.ID.String(),
		"input_text":         inputText,
		"output_text":        outputText,
		"overall_score":      overall,
		"faithfulness_score": faithfulnessScore,
	}
	if request != nil {
		ctx["request"] = request
		if safety, ok := request["safety"]; ok {
			ctx["safety"] = safety
		}
	}
	if response != nil {
		ctx["response"] = response
	}
	if trace.Attributes != nil {
		ctx["attributes"] = trace.Attributes
	}
	return ctx
}

// buildPolicyContext assembles the dedicated policy-evaluation context,
// distinct from the judge-dispatch context: it carries the winning judge
// output's own signals rather than the raw input text, grounded on the
// original source's DecisionService.decide.
func buildPolicyContext(decisionContext map[string]any, selected judge.Output, request, response map[string]any) map[string]any {
	ctx := map[string]any{
		"signals": selected.Raw,
	}
	if request != nil {
		ctx["request"] = request
	}
	if response != nil {
		ctx["response"] = response
	}
	if safety, ok := decisionContext["safety"]; ok {
		ctx["safety"] = safety
	}
	evals := map[string]any{
		"overall_score":      decisionContext["overall_score"],
		"faithfulness_score": decisionContext["faithfulness_score"],
	}
	ctx["evals"] = evals
	return ctx
}

// selectJudgeOutput checks the cache, then dispatches heuristic (and,
// unless high confidence, LLM) providers, persisting a JudgeRun per provider
// actually invoked and caching the winning output.
func (s *Service) selectJudgeOutput(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, trace model.Trace, inputHash, policyVersion string, decisionContext map[string]any) (judge.Output, []model.JudgeRun, bool, error) {
	if cached, err := s.db.GetJudgeCacheTx(ctx, tx, projectID, inputHash, policyVersion); err == nil {
		out := judge.Output{}
		if a, ok := cached.Decision["action"].(string); ok {
			out.Action = a
		}
		if r, ok := cached.Decision["reason_code"].(string); ok {
			out.ReasonCode = r
		}
		if c, ok := cached.Decision["confidence"].(float64); ok {
			out.Confidence = c
		}
		if sig, ok := cached.Decision["signals"].(map[string]any); ok {
			out.Raw = sig
		}
		usedLLM, _ := cached.Decision["used_llm"].(bool)
		runs, err := s.db.ListRecentJudgeRunsByTrace(ctx, projectID, trace.ID, s.recentRuns)
		return out, runs, usedLLM, err
	} else if err != storage.ErrNotFound {
		return judge.Output{}, nil, false, err
	}

	heuristic, err := s.registry.Get("heuristic")
	if err != nil {
		return judge.Output{}, nil, false, err
	}
	heuristicOut, err := heuristic.Judge(ctx, decisionContext)
	if err != nil {
		return judge.Output{}, nil, false, model.ProviderError(err, "heuristic judge failed")
	}
	if _, err := s.db.InsertJudgeRunTx(ctx, tx, model.JudgeRun{
		ProjectID: projectID, TraceID: trace.ID, Provider: heuristic.Name(),
		Action: model.Action(heuristicOut.Action), ReasonCode: heuristicOut.ReasonCode,
		Confidence: heuristicOut.Confidence, Output: heuristicOut.Raw,
	}); err != nil {
		return judge.Output{}, nil, false, err
	}

	selected := heuristicOut
	usedLLM := false

	if !judge.IsHighConfidence(heuristicOut) {
		llm, err := s.registry.Get("llm")
		if err != nil {
			return judge.Output{}, nil, false, err
		}
		llmOut, err := llm.Judge(ctx, decisionContext)
		if err != nil {
			return judge.Output{}, nil, false, model.ProviderError(err, "llm judge failed")
		}
		llmModel := s.judgeLLMModel
		if _, err := s.db.InsertJudgeRunTx(ctx, tx, model.JudgeRun{
			ProjectID: projectID, TraceID: trace.ID, Provider: llm.Name(), Model: &llmModel,
			Action: model.Action(llmOut.Action), ReasonCode: llmOut.ReasonCode,
			Confidence: llmOut.Confidence, Output: llmOut.Raw,
		}); err != nil {
			return judge.Output{}, nil, false, err
		}
		selected = llmOut
		usedLLM = true
	}

	if err := s.db.PutJudgeCacheTx(ctx, tx, projectID, inputHash, policyVersion, map[string]any{
		"action": selected.Action, "reason_code": selected.ReasonCode,
		"confidence": selected.Confidence, "used_llm": usedLLM, "signals": selected.Raw,
	}); err != nil {
		return judge.Output{}, nil, false, err
	}

	runs, err := s.db.ListRecentJudgeRunsByTrace(ctx, projectID, trace.ID, s.recentRuns)
	return selected, runs, usedLLM, err
}

// emitDecisionAuditSpan synthesizes the "Decision Judge" span and its EVENT
// record, using idempotency keys derived from the decide call's own key so a
// retried decide never double-inserts them.
func (s *Service) emitDecisionAuditSpan(ctx context.Context, tx pgx.Tx, projectID, traceID uuid.UUID, idempotencyKey, action, reasonCode string) (model.Span, error) {
	span, _, err := s.db.InsertSpanIfAbsentTx(ctx, tx, projectID, model.SpanUpsert{
		SpanID:         uuid.New(),
		TraceID:        traceID,
		Name:           "Decision Judge",
		SpanType:       "judge",
		Status:         model.SpanStatusSuccess,
		IdempotencyKey: "judge-span:" + idempotencyKey,
	})
	if err != nil {
		return model.Span{}, err
	}
	_, _, err = s.db.InsertSpanEventIfAbsentTx(ctx, tx, projectID, model.EventUpsert{
		TraceID:        traceID,
		SpanID:         &span.ID,
		EventType:      model.EventTypeEvent,
		EventTime:      time.Now().UTC(),
		Payload:        map[string]any{"action": action, "reason_code": reasonCode},
		IdempotencyKey: "judge-event:" + idempotencyKey,
	})
	return span, err
}
