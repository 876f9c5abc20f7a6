// internal/workers/discovery/execute-retrieval/handler.go
package executeretrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "product-discovery-workers/internal/common/errors"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/common/metrics"
	"product-discovery-workers/internal/models"
	"product-discovery-workers/internal/retrieval"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "execute-retrieval"

// Handler fans the planned calls out to their backends concurrently,
// bounds each call with its own timeout, and reports every call's
// terminal status. A failed backend degrades the request instead of
// failing it; the downstream stage decides what a partial result set
// is worth.
type Handler struct {
	config   *Config
	backends map[models.BackendKind]retrieval.Backend
	logger   logger.Logger
}

func NewHandler(config *Config, backends map[models.BackendKind]retrieval.Backend, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		backends: backends,
		logger:   log.With(map[string]interface{}{"taskType": TaskType}),
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
		h.failJob(client, job, apperrors.NewBackendUnavailableError("gateway", err.Error()))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	plan := input.StrategyDecision.Plan
	if len(plan) == 0 {
		return &Output{ResultSets: []models.ResultSet{}}, nil
	}

	resultSets := make([]models.ResultSet, len(plan))
	var wg sync.WaitGroup
	for i, call := range plan {
		wg.Add(1)
		go func(i int, call models.PlannedCall) {
			defer wg.Done()
			resultSets[i] = h.executeCall(ctx, call)
		}(i, call)
	}
	wg.Wait()

	output := &Output{ResultSets: resultSets}
	for _, set := range resultSets {
		switch set.Status {
		case models.StatusTimeout:
			output.Warnings = append(output.Warnings,
				fmt.Sprintf("%s search timed out, results may be incomplete", set.Backend))
		case models.StatusError:
			output.Warnings = append(output.Warnings,
				fmt.Sprintf("%s search unavailable, results may be incomplete", set.Backend))
		}
	}

	h.logger.Info("retrieval plan executed", map[string]interface{}{
		"calls":    len(plan),
		"warnings": len(output.Warnings),
	})

	return output, nil
}

// executeCall runs one planned call to completion. Transient failures
// get exactly one retry; timeouts and empty results do not.
func (h *Handler) executeCall(ctx context.Context, call models.PlannedCall) models.ResultSet {
	set := models.ResultSet{Backend: call.Backend}

	backend, ok := h.backends[call.Backend]
	if !ok {
		set.Status = models.StatusError
		set.Error = fmt.Sprintf("no backend registered for %s", call.Backend)
		metrics.BackendCalls.WithLabelValues(string(call.Backend), string(set.Status)).Inc()
		return set
	}

	start := time.Now()
	items, err := h.searchOnce(ctx, backend, call)
	if err != nil && retrieval.IsTransient(err) && ctx.Err() == nil {
		h.logger.Warn("backend call failed, retrying once", map[string]interface{}{
			"backend": call.Backend,
			"error":   err.Error(),
		})
		items, err = h.searchOnce(ctx, backend, call)
	}

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		set.Status = models.StatusTimeout
		set.Error = "call timed out"
	case err != nil:
		set.Status = models.StatusError
		set.Error = err.Error()
	case len(items) == 0:
		set.Status = models.StatusEmpty
	default:
		set.Status = models.StatusOK
		set.Items = items
	}

	metrics.BackendCalls.WithLabelValues(string(call.Backend), string(set.Status)).Inc()

	h.logger.Debug("backend call finished", map[string]interface{}{
		"backend":  call.Backend,
		"status":   set.Status,
		"items":    len(set.Items),
		"duration": time.Since(start).String(),
	})

	return set
}

func (h *Handler) searchOnce(ctx context.Context, backend retrieval.Backend, call models.PlannedCall) ([]models.RetrievedItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()

	items, err := backend.Search(callCtx, call)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	return items, err
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
