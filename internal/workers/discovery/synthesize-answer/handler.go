// internal/workers/discovery/synthesize-answer/handler.go
package synthesizeanswer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "product-discovery-workers/internal/common/errors"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/common/metrics"
	"product-discovery-workers/internal/common/validation"
	"product-discovery-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "synthesize-answer"

var (
	// ErrSynthesisUnavailable means the generation service cannot be
	// reached at all. The stage still answers; it falls back to a
	// template assembled from retrieved data.
	ErrSynthesisUnavailable = errors.New("SYNTHESIS_UNAVAILABLE")
)

// Handler merges and ranks the retrieved results, generates the final
// answer, and verifies every claim in it against the retrieved data
// before release. A generation that fails verification gets exactly
// one more attempt with the violations fed back; if that also fails,
// the user gets retrieved facts only, never the unverified text.
type Handler struct {
	config    *Config
	client    *http.Client
	validator *validation.Validator
	logger    logger.Logger
}

func NewHandler(config *Config, log logger.Logger) (*Handler, error) {
	validator, err := validation.NewValidator(answerSchema)
	if err != nil {
		return nil, fmt.Errorf("compile answer schema: %w", err)
	}
	return &Handler{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		validator: validator,
		logger:    log.With(map[string]interface{}{"taskType": TaskType}),
	}, nil
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

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, apperrors.NewSynthesisFailedError(err.Error()))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	warnings := append([]string{}, input.Warnings...)
	warnings = append(warnings, input.IntentResult.SafetyFlags...)
	candidates := mergeResultSets(input.ResultSets)

	if len(candidates) == 0 {
		answer := models.Answer{
			SpokenSummary:    "I couldn't find any products matching your request right now.",
			DetailedAnalysis: "No results were available from the product catalog or current web listings. Try rephrasing the request or relaxing a constraint.",
			Citations:        []models.Citation{},
			GroundingStatus:  models.GroundingDegraded,
			Warnings:         warnings,
		}
		return h.finish(answer), nil
	}

	ranked := rank(candidates, input.IntentResult.Constraints)
	if len(ranked) == 0 {
		answer := models.Answer{
			SpokenSummary:    "Everything I found was outside your price range.",
			DetailedAnalysis: "All retrieved products had prices outside the requested budget, so none are shown. Raising the budget would bring results back.",
			Citations:        []models.Citation{},
			GroundingStatus:  models.GroundingDegraded,
			Warnings:         append(warnings, "all retrieved items were excluded by the price constraint"),
		}
		return h.finish(answer), nil
	}
	if len(ranked) > h.config.MaxItems {
		ranked = ranked[:h.config.MaxItems]
	}

	generated, err := h.callGenerator(ctx, input, ranked, nil)
	if err != nil {
		h.logger.WithError(err).Warn("generation unavailable, assembling template answer", nil)
		warnings = append(warnings, "answer assembled from retrieved data without language generation")
		return h.finish(h.templateAnswer(ranked, models.GroundingDegraded, warnings)), nil
	}

	violations := verifyClaims(generated.Claims, ranked)
	if len(violations) > 0 {
		h.logger.Warn("grounding violations, regenerating once", map[string]interface{}{
			"violations": violations,
		})
		regenerated, regenErr := h.callGenerator(ctx, input, ranked, violations)
		if regenErr == nil {
			if second := verifyClaims(regenerated.Claims, ranked); len(second) == 0 {
				generated = regenerated
				violations = nil
			} else {
				violations = second
			}
		}
	}

	if len(violations) > 0 {
		h.logger.Warn("second generation still ungrounded, stripping to retrieved facts", map[string]interface{}{
			"violations": violations,
		})
		warnings = append(warnings, "generated answer failed fact verification and was replaced with retrieved data")
		return h.finish(h.templateAnswer(ranked, models.GroundingFailed, warnings)), nil
	}

	status := models.GroundingPassed
	if len(input.Warnings) > 0 {
		status = models.GroundingDegraded
	}
	answer := models.Answer{
		SpokenSummary:    generated.SpokenSummary,
		DetailedAnalysis: generated.DetailedAnalysis,
		Citations:        citationsFromClaims(generated.Claims),
		GroundingStatus:  status,
		Warnings:         warnings,
	}
	return h.finish(answer), nil
}

func (h *Handler) finish(answer models.Answer) *Output {
	metrics.GroundingOutcomes.WithLabelValues(string(answer.GroundingStatus)).Inc()
	h.logger.Info("answer synthesized", map[string]interface{}{
		"groundingStatus": answer.GroundingStatus,
		"citations":       len(answer.Citations),
		"warnings":        len(answer.Warnings),
	})
	return &Output{Answer: answer}
}

type generatorItem struct {
	Source        models.SourceKind `json:"source"`
	SourceID      string            `json:"sourceId"`
	Title         string            `json:"title"`
	Price         *float64          `json:"price,omitempty"`
	Rating        *float64          `json:"rating,omitempty"`
	URL           string            `json:"url,omitempty"`
	Snippet       string            `json:"snippet,omitempty"`
	FreshnessNote string            `json:"freshnessNote,omitempty"`
}

func (h *Handler) callGenerator(ctx context.Context, input *Input, ranked []candidate, violations []string) (*generatedAnswer, error) {
	items := make([]generatorItem, 0, len(ranked))
	for _, c := range ranked {
		items = append(items, generatorItem{
			Source:        c.Source,
			SourceID:      c.SourceID,
			Title:         c.Title,
			Price:         c.Price,
			Rating:        c.Rating,
			URL:           c.URL,
			Snippet:       c.Snippet,
			FreshnessNote: c.FreshnessNote,
		})
	}

	requestBody := map[string]interface{}{
		"query":  input.Query,
		"intent": input.IntentResult.Intent,
		"items":  items,
	}
	if len(input.Warnings) > 0 {
		requestBody["warnings"] = input.Warnings
	}
	if len(violations) > 0 {
		requestBody["violations"] = violations
	}

	body, _ := json.Marshal(requestBody)

	var raw []byte
	var lastErr error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", h.config.GenAIBaseURL+"/api/ai/generate", bytes.NewBuffer(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if h.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
		}

		resp, err := h.client.Do(req)
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, ctx.Err())
		}
		if err != nil {
			lastErr = err
			continue
		}

		raw, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			raw = nil
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil || raw == nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, lastErr)
	}

	result, err := h.validator.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	if !result.Valid {
		details := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			details = append(details, e.Field+": "+e.Message)
		}
		return nil, fmt.Errorf("%w: generated answer rejected by schema: %s",
			ErrSynthesisUnavailable, strings.Join(details, "; "))
	}

	var generated generatedAnswer
	if err := json.Unmarshal(raw, &generated); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrSynthesisUnavailable, err)
	}
	return &generated, nil
}

// templateAnswer assembles an answer directly from retrieved items. It
// states only fields that were actually retrieved, so it is always
// grounded regardless of the status it carries.
func (h *Handler) templateAnswer(ranked []candidate, status models.GroundingStatus, warnings []string) models.Answer {
	// Spoken output leads with the option count and names at most two
	// picks; the rest stays in the detailed analysis.
	picks := ranked
	if len(picks) > 2 {
		picks = picks[:2]
	}
	named := make([]string, 0, len(picks))
	for _, p := range picks {
		name := p.Title
		if p.Price != nil {
			name += fmt.Sprintf(" at $%.2f", *p.Price)
		}
		named = append(named, name)
	}
	spoken := fmt.Sprintf("I found %d matching products. Top picks: %s.",
		len(ranked), strings.Join(named, " and "))

	var detail strings.Builder
	detail.WriteString("Matching products:\n")
	var citations []models.Citation
	for i, c := range ranked {
		detail.WriteString(fmt.Sprintf("%d. %s", i+1, c.Title))
		if c.Price != nil {
			detail.WriteString(fmt.Sprintf(" ($%.2f)", *c.Price))
		}
		if c.Rating != nil {
			detail.WriteString(fmt.Sprintf(", rated %.1f", *c.Rating))
		}
		if c.FreshnessNote != "" {
			detail.WriteString(" [" + c.FreshnessNote + "]")
		}
		detail.WriteString("\n")
		citations = append(citations, c.Citations...)
	}

	return models.Answer{
		SpokenSummary:    spoken,
		DetailedAnalysis: detail.String(),
		Citations:        dedupeCitations(citations),
		GroundingStatus:  status,
		Warnings:         warnings,
	}
}

func dedupeCitations(citations []models.Citation) []models.Citation {
	seen := make(map[string]bool)
	var out []models.Citation
	for _, c := range citations {
		if seen[c.SourceID] {
			continue
		}
		seen[c.SourceID] = true
		out = append(out, c)
	}
	return out
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
