// internal/workers/discovery/classify-intent/handler.go
package classifyintent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "product-discovery-workers/internal/common/errors"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType = "classify-intent"

	cacheKeyPrefix = "discovery:intent:"
)

var (
	// ErrClassificationUnavailable means the classification mechanism
	// itself cannot run. Ambiguous input never produces this; it resolves
	// to a best-effort result with lower confidence.
	ErrClassificationUnavailable = errors.New("CLASSIFICATION_UNAVAILABLE")
)

type Handler struct {
	config *Config
	client *http.Client
	cache  *redis.Client
	logger logger.Logger
}

// NewHandler builds the Router stage. cache may be nil; classification
// then always goes to the service.
func NewHandler(config *Config, cache *redis.Client, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		cache:  cache,
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

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, apperrors.NewClassificationUnavailableError(err.Error()))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if cached, ok := h.cacheLookup(ctx, input.Query); ok {
		return &Output{IntentResult: *cached}, nil
	}

	apiResponse, err := h.callClassifier(ctx, input)
	if err != nil {
		return nil, err
	}

	result := models.IntentResult{
		Intent:      normalizeIntent(apiResponse.Intent),
		Confidence:  clampConfidence(apiResponse.Confidence),
		Constraints: mergeConstraints(apiResponse.Constraints, extractConstraints(input.Query)),
		SafetyFlags: apiResponse.SafetyFlags,
	}

	h.cacheStore(ctx, input.Query, &result)

	h.logger.Info("intent classified", map[string]interface{}{
		"intent":      result.Intent,
		"confidence":  result.Confidence,
		"safetyFlags": len(result.SafetyFlags),
	})

	return &Output{IntentResult: result}, nil
}

type classifierResponse struct {
	Intent      string             `json:"intent"`
	Confidence  float64            `json:"confidence"`
	Constraints models.Constraints `json:"constraints"`
	SafetyFlags []string           `json:"safetyFlags"`
}

func (h *Handler) callClassifier(ctx context.Context, input *Input) (*classifierResponse, error) {
	requestBody := map[string]interface{}{
		"query": input.Query,
	}
	if input.Context != nil {
		requestBody["context"] = input.Context
	}

	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", h.config.GenAIBaseURL+"/api/ai/classify-intent", bytes.NewBuffer(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if h.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
		}

		resp, lastErr = h.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, ctx.Err())
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil || resp == nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, lastErr)
	}
	defer resp.Body.Close()

	var apiResponse classifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrClassificationUnavailable, err)
	}

	return &apiResponse, nil
}

// normalizeIntent maps the service's free-form label into the closed
// taxonomy. Unrecognized labels default to out_of_scope.
func normalizeIntent(intent string) models.IntentType {
	switch models.IntentType(strings.TrimSpace(strings.ToLower(intent))) {
	case models.IntentProductRecommendation:
		return models.IntentProductRecommendation
	case models.IntentComparison:
		return models.IntentComparison
	case models.IntentFilterExtraction:
		return models.IntentFilterExtraction
	default:
		return models.IntentOutOfScope
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (h *Handler) cacheKey(query string) string {
	return cacheKeyPrefix + strings.ToLower(strings.TrimSpace(query))
}

func (h *Handler) cacheLookup(ctx context.Context, query string) (*models.IntentResult, bool) {
	if h.cache == nil {
		return nil, false
	}
	val, err := h.cache.Get(ctx, h.cacheKey(query)).Result()
	if err != nil {
		return nil, false
	}
	var result models.IntentResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, false
	}
	return &result, true
}

// cacheStore is best-effort; a cache failure never affects the request.
func (h *Handler) cacheStore(ctx context.Context, query string, result *models.IntentResult) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	h.cache.Set(ctx, h.cacheKey(query), data, h.config.CacheTTL)
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
		"retryable": bpmnErr.Retryable,
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
