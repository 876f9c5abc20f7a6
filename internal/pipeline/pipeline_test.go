// internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"
	"product-discovery-workers/internal/retrieval"
	classifyintent "product-discovery-workers/internal/workers/discovery/classify-intent"
	executeretrieval "product-discovery-workers/internal/workers/discovery/execute-retrieval"
	planstrategy "product-discovery-workers/internal/workers/discovery/plan-strategy"
	synthesizeanswer "product-discovery-workers/internal/workers/discovery/synthesize-answer"
)

type stubBackend struct {
	kind  models.BackendKind
	items []models.RetrievedItem
	err   error
	calls int
}

func (s *stubBackend) Kind() models.BackendKind { return s.kind }

func (s *stubBackend) Search(_ context.Context, _ models.PlannedCall) ([]models.RetrievedItem, error) {
	s.calls++
	return s.items, s.err
}

// genAIStub serves both the classification and generation endpoints the
// way the upstream AI service does.
type genAIStub struct {
	intent     string
	confidence float64
	answer     func(items []map[string]interface{}) map[string]interface{}
}

func (g *genAIStub) server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/ai/classify-intent":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"intent":     g.intent,
				"confidence": g.confidence,
			})
		case "/api/ai/generate":
			var reqBody struct {
				Items []map[string]interface{} `json:"items"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			json.NewEncoder(w).Encode(g.answer(reqBody.Items))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// echoAnswer builds a generation response whose claims cite exactly the
// items the generator was shown.
func echoAnswer(items []map[string]interface{}) map[string]interface{} {
	claims := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		claims = append(claims, map[string]interface{}{
			"text":     "recommended " + item["title"].(string),
			"source":   item["source"],
			"sourceId": item["sourceId"],
		})
	}
	return map[string]interface{}{
		"spokenSummary":    "Here are some options.",
		"detailedAnalysis": "These products match the request.",
		"claims":           claims,
	}
}

func buildPipeline(t *testing.T, baseURL string, backends map[models.BackendKind]retrieval.Backend) *Pipeline {
	log := logger.NewTestLogger(t)

	classifier := classifyintent.NewHandler(&classifyintent.Config{
		GenAIBaseURL: baseURL,
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		CacheTTL:     time.Minute,
	}, nil, log)

	planner := planstrategy.NewHandler(planstrategy.LoadConfig(), log)

	retriever := executeretrieval.NewHandler(&executeretrieval.Config{
		CallTimeout: time.Second,
		Timeout:     5 * time.Second,
	}, backends, log)

	answerer, err := synthesizeanswer.NewHandler(&synthesizeanswer.Config{
		GenAIBaseURL: baseURL,
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		MaxItems:     5,
	}, log)
	require.NoError(t, err)

	return New(classifier, planner, retriever, answerer, nil, 30*time.Second, log)
}

func TestPipeline_Run_CatalogOnlyRequest(t *testing.T) {
	stub := &genAIStub{intent: "product_recommendation", confidence: 0.9, answer: echoAnswer}
	server := stub.server(t)
	defer server.Close()

	catalog := &stubBackend{
		kind: models.BackendCatalog,
		items: []models.RetrievedItem{
			{Source: models.SourceCatalog, SourceID: "p-1", Title: "Wooden Puzzle", Score: 0.9},
		},
	}
	web := &stubBackend{kind: models.BackendWeb}
	pipeline := buildPipeline(t, server.URL, map[models.BackendKind]retrieval.Backend{
		models.BackendCatalog: catalog,
		models.BackendWeb:     web,
	})

	result, err := pipeline.Run(context.Background(), "wooden puzzles for toddlers")

	require.NoError(t, err)
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, models.IntentProductRecommendation, result.IntentResult.Intent)
	assert.Equal(t, models.StrategyRAGOnly, result.StrategyDecision.Strategy)
	assert.Equal(t, 1, catalog.calls)
	assert.Equal(t, 0, web.calls)
	assert.Equal(t, models.GroundingPassed, result.Answer.GroundingStatus)
	require.Len(t, result.Answer.Citations, 1)
	assert.Equal(t, "p-1", result.Answer.Citations[0].SourceID)
}

func TestPipeline_Run_HybridRequest(t *testing.T) {
	stub := &genAIStub{intent: "product_recommendation", confidence: 0.9, answer: echoAnswer}
	server := stub.server(t)
	defer server.Close()

	catalog := &stubBackend{
		kind: models.BackendCatalog,
		items: []models.RetrievedItem{
			{Source: models.SourceCatalog, SourceID: "p-1", Title: "Block Set", Price: fptr(19.99), Score: 0.9},
		},
	}
	web := &stubBackend{
		kind: models.BackendWeb,
		items: []models.RetrievedItem{
			{Source: models.SourceWeb, SourceID: "https://www.amazon.com/dp/B000TEST01", Title: "Magnetic Tiles", Price: fptr(24.50), Score: 0.8},
		},
	}
	pipeline := buildPipeline(t, server.URL, map[models.BackendKind]retrieval.Backend{
		models.BackendCatalog: catalog,
		models.BackendWeb:     web,
	})

	result, err := pipeline.Run(context.Background(), "best building blocks under $30")

	require.NoError(t, err)
	assert.Equal(t, models.StrategyHybrid, result.StrategyDecision.Strategy)
	assert.Equal(t, 1, catalog.calls)
	assert.Equal(t, 1, web.calls)
	require.Len(t, result.ResultSets, 2)
	assert.Equal(t, models.GroundingPassed, result.Answer.GroundingStatus)
	assert.Len(t, result.Answer.Citations, 2)
}

func TestPipeline_Run_OutOfScopeShortCircuits(t *testing.T) {
	stub := &genAIStub{intent: "out_of_scope", confidence: 0.95, answer: echoAnswer}
	server := stub.server(t)
	defer server.Close()

	catalog := &stubBackend{kind: models.BackendCatalog}
	pipeline := buildPipeline(t, server.URL, map[models.BackendKind]retrieval.Backend{
		models.BackendCatalog: catalog,
	})

	result, err := pipeline.Run(context.Background(), "what's the weather tomorrow")

	require.NoError(t, err)
	assert.Equal(t, models.IntentOutOfScope, result.IntentResult.Intent)
	assert.Equal(t, models.StrategyNone, result.StrategyDecision.Strategy)
	assert.Empty(t, result.ResultSets)
	assert.Equal(t, 0, catalog.calls)
	assert.NotEmpty(t, result.Answer.SpokenSummary)
	assert.Empty(t, result.Answer.Citations)
	// Every answer carries concrete slices so the serialized shape is
	// uniform across paths.
	assert.NotNil(t, result.Answer.Warnings)
	assert.NotNil(t, result.Answer.Citations)
}

func TestPipeline_Run_PartialFailureStillAnswers(t *testing.T) {
	stub := &genAIStub{intent: "comparison", confidence: 0.9, answer: echoAnswer}
	server := stub.server(t)
	defer server.Close()

	catalog := &stubBackend{
		kind: models.BackendCatalog,
		items: []models.RetrievedItem{
			{Source: models.SourceCatalog, SourceID: "p-1", Title: "Block Set", Price: fptr(19.99), Score: 0.9},
		},
	}
	web := &stubBackend{kind: models.BackendWeb, err: errors.New("search api down")}
	pipeline := buildPipeline(t, server.URL, map[models.BackendKind]retrieval.Backend{
		models.BackendCatalog: catalog,
		models.BackendWeb:     web,
	})

	result, err := pipeline.Run(context.Background(), "compare building block sets")

	require.NoError(t, err)
	assert.Equal(t, models.StrategyHybrid, result.StrategyDecision.Strategy)
	assert.Equal(t, models.GroundingDegraded, result.Answer.GroundingStatus)
	assert.NotEmpty(t, result.Answer.Warnings)
	require.Len(t, result.Answer.Citations, 1)
	assert.Equal(t, "p-1", result.Answer.Citations[0].SourceID)
}

func TestPipeline_Run_ClassifierDownFailsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pipeline := buildPipeline(t, server.URL, nil)

	result, err := pipeline.Run(context.Background(), "wooden toys")

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, classifyintent.ErrClassificationUnavailable)
}

func fptr(v float64) *float64 { return &v }
