// Package pipeline composes the four discovery stages into one
// in-process request path with strict ordering: classify, plan,
// retrieve, synthesize. Each stage also runs standalone as a workflow
// job worker; this composition serves direct callers and tests.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "product-discovery-workers/internal/common/errors"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/common/metrics"
	"product-discovery-workers/internal/common/observability"
	"product-discovery-workers/internal/models"
	classifyintent "product-discovery-workers/internal/workers/discovery/classify-intent"
	executeretrieval "product-discovery-workers/internal/workers/discovery/execute-retrieval"
	planstrategy "product-discovery-workers/internal/workers/discovery/plan-strategy"
	synthesizeanswer "product-discovery-workers/internal/workers/discovery/synthesize-answer"
)

// Result is the full trace of one request through the pipeline.
type Result struct {
	RequestID        string                  `json:"requestId"`
	Query            string                  `json:"query"`
	IntentResult     models.IntentResult     `json:"intentResult"`
	StrategyDecision models.StrategyDecision `json:"strategyDecision"`
	ResultSets       []models.ResultSet      `json:"resultSets"`
	Answer           models.Answer           `json:"answer"`
}

type Pipeline struct {
	classifier *classifyintent.Handler
	planner    *planstrategy.Handler
	retriever  *executeretrieval.Handler
	answerer   *synthesizeanswer.Handler
	obs        *observability.Observability
	timeout    time.Duration
	logger     logger.Logger
}

func New(
	classifier *classifyintent.Handler,
	planner *planstrategy.Handler,
	retriever *executeretrieval.Handler,
	answerer *synthesizeanswer.Handler,
	obs *observability.Observability,
	timeout time.Duration,
	log logger.Logger,
) *Pipeline {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Pipeline{
		classifier: classifier,
		planner:    planner,
		retriever:  retriever,
		answerer:   answerer,
		obs:        obs,
		timeout:    timeout,
		logger:     log,
	}
}

// Run executes one query end to end. Stage outputs feed the next stage
// in order; no stage is skipped except retrieval and synthesis after
// an out-of-scope classification, which short-circuits to a refusal.
func (p *Pipeline) Run(ctx context.Context, query string) (*Result, error) {
	requestID := uuid.New().String()
	log := p.logger.With(map[string]interface{}{"requestId": requestID})
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := &Result{RequestID: requestID, Query: query}

	classified, err := p.runStage(ctx, "classify-intent", log, func(ctx context.Context) (interface{}, error) {
		return p.classifier.Execute(ctx, &classifyintent.Input{Query: query})
	})
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	result.IntentResult = classified.(*classifyintent.Output).IntentResult

	if result.IntentResult.Intent == models.IntentOutOfScope {
		result.StrategyDecision = models.StrategyDecision{
			Strategy:  models.StrategyNone,
			Plan:      []models.PlannedCall{},
			Rationale: "query is outside the product discovery domain",
		}
		result.ResultSets = []models.ResultSet{}
		result.Answer = outOfScopeAnswer(result.IntentResult)
		p.record(result, start)
		return result, nil
	}

	planned, err := p.runStage(ctx, "plan-strategy", log, func(ctx context.Context) (interface{}, error) {
		return p.planner.Execute(ctx, &planstrategy.Input{
			Query:        query,
			IntentResult: result.IntentResult,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("plan strategy: %w", err)
	}
	result.StrategyDecision = planned.(*planstrategy.Output).StrategyDecision

	retrieved, err := p.runStage(ctx, "execute-retrieval", log, func(ctx context.Context) (interface{}, error) {
		return p.retriever.Execute(ctx, &executeretrieval.Input{
			StrategyDecision: result.StrategyDecision,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("execute retrieval: %w", err)
	}
	retrievalOut := retrieved.(*executeretrieval.Output)
	result.ResultSets = retrievalOut.ResultSets

	synthesized, err := p.runStage(ctx, "synthesize-answer", log, func(ctx context.Context) (interface{}, error) {
		return p.answerer.Execute(ctx, &synthesizeanswer.Input{
			Query:            query,
			IntentResult:     result.IntentResult,
			StrategyDecision: result.StrategyDecision,
			ResultSets:       result.ResultSets,
			Warnings:         retrievalOut.Warnings,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}
	result.Answer = synthesized.(*synthesizeanswer.Output).Answer

	p.record(result, start)
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage string, log logger.Logger, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	stageStart := time.Now()
	out, err := fn(ctx)
	duration := time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())

	if err != nil {
		metrics.StageFailed.WithLabelValues(stage, errorCode(err)).Inc()
		log.WithError(err).Error("stage failed", map[string]interface{}{"stage": stage})
		return nil, err
	}

	metrics.StageCompleted.WithLabelValues(stage).Inc()
	log.Debug("stage completed", map[string]interface{}{
		"stage":    stage,
		"duration": duration.String(),
	})
	return out, nil
}

func (p *Pipeline) record(result *Result, start time.Time) {
	if p.obs != nil {
		status := string(result.Answer.GroundingStatus)
		p.obs.RecordRequest(context.Background(), status)
		p.obs.RecordDuration(context.Background(), time.Since(start), status)
	}
	p.logger.Info("request completed", map[string]interface{}{
		"requestId":       result.RequestID,
		"intent":          result.IntentResult.Intent,
		"strategy":        result.StrategyDecision.Strategy,
		"groundingStatus": result.Answer.GroundingStatus,
		"duration":        time.Since(start).String(),
	})
}

func outOfScopeAnswer(intent models.IntentResult) models.Answer {
	answer := models.Answer{
		SpokenSummary:    "I can only help with finding and comparing products.",
		DetailedAnalysis: "This request falls outside product discovery, so no product search was run. Ask about finding, comparing, or filtering products and I can help.",
		Citations:        []models.Citation{},
		GroundingStatus:  models.GroundingPassed,
		Warnings:         []string{},
	}
	answer.Warnings = append(answer.Warnings, intent.SafetyFlags...)
	return answer
}

// errorCode labels a stage failure for metrics. Stage sentinels carry
// their code in the message, so the message scan covers errors that
// never passed through the taxonomy package.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.CodeOf(err); code != "" {
		return string(code)
	}
	msg := err.Error()
	for _, code := range []string{
		"CLASSIFICATION_UNAVAILABLE", "INVALID_PLAN",
		"BACKEND_UNAVAILABLE", "SYNTHESIS_UNAVAILABLE",
	} {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return "UNKNOWN"
}
