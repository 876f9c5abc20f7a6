// internal/workers/discovery/plan-strategy/handler.go
package planstrategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "product-discovery-workers/internal/common/errors"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "plan-strategy"

var (
	// ErrInvalidPlan is an internal contract violation: the decision rules
	// produced a plan inconsistent with their own invariants.
	ErrInvalidPlan = errors.New("INVALID_PLAN")
)

type Handler struct {
	config *Config
	logger logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		logger: log.With(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, apperrors.NewParseError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, apperrors.NewInvalidPlanError(err.Error()))
		return
	}

	h.completeJob(client, job, output)
}

// execute is pure and deterministic: identical input always yields an
// identical decision. The rules are evaluated in order, first match wins.
func (h *Handler) execute(_ context.Context, input *Input) (*Output, error) {
	decision := h.decide(input.Query, &input.IntentResult)

	if err := validateDecision(decision, input.IntentResult.Intent); err != nil {
		return nil, err
	}

	h.logger.Info("strategy planned", map[string]interface{}{
		"strategy":  decision.Strategy,
		"callCount": len(decision.Plan),
		"rationale": decision.Rationale,
	})

	return &Output{StrategyDecision: *decision}, nil
}

func (h *Handler) decide(query string, intent *models.IntentResult) *models.StrategyDecision {
	// Rule 1: out-of-scope gets no retrieval at all.
	if intent.Intent == models.IntentOutOfScope {
		return &models.StrategyDecision{
			Strategy:  models.StrategyNone,
			Plan:      []models.PlannedCall{},
			Rationale: "query is out of scope, no retrieval needed",
		}
	}

	c := intent.Constraints
	hasPrice := c.PriceMax != nil || c.PriceMin != nil
	hasRating := c.RatingMin != nil
	hasComparison := intent.Intent == models.IntentComparison || h.containsAny(query, h.config.ComparisonKeywords)
	hasRecency := h.containsAny(query, h.config.RecencyKeywords)
	lowConfidence := intent.Confidence < h.config.ConfidenceThreshold

	// Rule 2: freshness-sensitive requests without structured filters are
	// better served by live context alone.
	if hasRecency && !hasPrice && !hasComparison && !hasRating {
		return &models.StrategyDecision{
			Strategy:  models.StrategyWebOnly,
			Plan:      []models.PlannedCall{h.webCall(query, c)},
			Rationale: "recency cue without price/comparison constraints, live context only",
		}
	}

	// Rule 3: the catalog is the only source with filterable price and
	// rating fields, and uncertainty defaults to the broadest coverage.
	// Whether a price constraint alone widens to hybrid is policy.
	priceWidens := hasPrice && !h.config.PriceConstraintCatalogOnly
	if priceWidens || hasComparison || hasRating || lowConfidence {
		rationale := "budget/ranking-sensitive request, catalog plus live context"
		if !priceWidens && !hasComparison && !hasRating {
			rationale = "low classification confidence, defaulting to broad coverage"
		}
		return &models.StrategyDecision{
			Strategy:  models.StrategyHybrid,
			Plan:      []models.PlannedCall{h.catalogCall(query, c), h.webCall(query, c)},
			Rationale: rationale,
		}
	}

	// Rule 4: plain lookup against the curated catalog.
	rationale := "no recency or ranking cues, catalog lookup suffices"
	if hasPrice {
		rationale = "price filter handled by the catalog, no live context needed"
	}
	return &models.StrategyDecision{
		Strategy:  models.StrategyRAGOnly,
		Plan:      []models.PlannedCall{h.catalogCall(query, c)},
		Rationale: rationale,
	}
}

// catalogCall and webCall carry the extracted constraints forward so
// backends apply them as filters instead of re-deriving them.
func (h *Handler) catalogCall(query string, c models.Constraints) models.PlannedCall {
	return models.PlannedCall{
		Backend:     models.BackendCatalog,
		Query:       query,
		TopK:        h.config.TopK,
		Constraints: c,
	}
}

func (h *Handler) webCall(query string, c models.Constraints) models.PlannedCall {
	return models.PlannedCall{
		Backend:     models.BackendWeb,
		Query:       query,
		TopK:        h.config.TopK,
		Constraints: c,
	}
}

func (h *Handler) containsAny(query string, keywords []string) bool {
	lower := strings.ToLower(query)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// validateDecision enforces the planner invariants: an empty plan exactly
// for out-of-scope intent, and no redundant calls in any plan.
func validateDecision(d *models.StrategyDecision, intent models.IntentType) error {
	if intent == models.IntentOutOfScope {
		if d.Strategy != models.StrategyNone || len(d.Plan) != 0 {
			return fmt.Errorf("%w: non-empty plan for out_of_scope intent", ErrInvalidPlan)
		}
		return nil
	}
	if len(d.Plan) == 0 {
		return fmt.Errorf("%w: empty plan for in-scope intent %q", ErrInvalidPlan, intent)
	}

	seen := make(map[models.BackendKind]bool)
	for _, call := range d.Plan {
		if seen[call.Backend] {
			return fmt.Errorf("%w: redundant %s call in plan", ErrInvalidPlan, call.Backend)
		}
		seen[call.Backend] = true
	}

	switch d.Strategy {
	case models.StrategyRAGOnly:
		if len(d.Plan) != 1 || d.Plan[0].Backend != models.BackendCatalog {
			return fmt.Errorf("%w: rag_only plan must hold exactly one catalog call", ErrInvalidPlan)
		}
	case models.StrategyWebOnly:
		if len(d.Plan) != 1 || d.Plan[0].Backend != models.BackendWeb {
			return fmt.Errorf("%w: web_only plan must hold exactly one web call", ErrInvalidPlan)
		}
	case models.StrategyHybrid:
		if len(d.Plan) != 2 {
			return fmt.Errorf("%w: hybrid plan must hold exactly two calls", ErrInvalidPlan)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidPlan, d.Strategy)
	}

	return nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err = cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	bpmnErr := apperrors.ToBPMNError(stdErr)

	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":    job.Key,
		"errorCode": bpmnErr.Code,
		"error":     stdErr.Details,
	})

	_, _ = client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(bpmnErr.Retries)).
		ErrorMessage(bpmnErr.Code + ": " + stdErr.Details).
		Send(context.Background())
}

// Execute runs the stage directly, bypassing the workflow engine.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
