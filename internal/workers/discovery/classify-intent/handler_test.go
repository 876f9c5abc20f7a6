// internal/workers/discovery/classify-intent/handler_test.go
package classifyintent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"
)

func createTestConfig() *Config {
	return &Config{
		GenAIBaseURL: "http://localhost:3001",
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		CacheTTL:     time.Minute,
	}
}

func classifierJSON(intent string, confidence float64, constraints map[string]interface{}) string {
	response := map[string]interface{}{
		"intent":     intent,
		"confidence": confidence,
	}
	if constraints != nil {
		response["constraints"] = constraints
	}
	data, _ := json.Marshal(response)
	return string(data)
}

func TestHandler_Execute_Success(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		apiResponse    string
		expectedIntent models.IntentType
		expectedConf   float64
		validateOutput func(t *testing.T, result models.IntentResult)
	}{
		{
			name:           "product recommendation with merged constraints",
			query:          "educational wooden toys under $25",
			apiResponse:    classifierJSON("product_recommendation", 0.92, nil),
			expectedIntent: models.IntentProductRecommendation,
			expectedConf:   0.92,
			validateOutput: func(t *testing.T, result models.IntentResult) {
				require.NotNil(t, result.Constraints.PriceMax)
				assert.Equal(t, 25.0, *result.Constraints.PriceMax)
				assert.Equal(t, "wood", result.Constraints.Material)
				assert.True(t, result.Constraints.Educational)
			},
		},
		{
			name:  "service constraints win over rule extraction",
			query: "toys under $25",
			apiResponse: classifierJSON("product_recommendation", 0.9, map[string]interface{}{
				"priceMax": 20.0,
			}),
			expectedIntent: models.IntentProductRecommendation,
			expectedConf:   0.9,
			validateOutput: func(t *testing.T, result models.IntentResult) {
				require.NotNil(t, result.Constraints.PriceMax)
				assert.Equal(t, 20.0, *result.Constraints.PriceMax)
			},
		},
		{
			name:           "comparison intent",
			query:          "best stem kits compared",
			apiResponse:    classifierJSON("comparison", 0.87, nil),
			expectedIntent: models.IntentComparison,
			expectedConf:   0.87,
		},
		{
			name:           "unknown label defaults to out of scope",
			query:          "tell me a joke",
			apiResponse:    classifierJSON("chitchat", 0.8, nil),
			expectedIntent: models.IntentOutOfScope,
			expectedConf:   0.8,
		},
		{
			name:           "confidence clamped to unit range",
			query:          "wooden puzzles",
			apiResponse:    classifierJSON("product_recommendation", 1.7, nil),
			expectedIntent: models.IntentProductRecommendation,
			expectedConf:   1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/ai/classify-intent", r.URL.Path)

				var reqBody map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
				assert.Equal(t, tt.query, reqBody["query"])

				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.apiResponse))
			}))
			defer server.Close()

			config := createTestConfig()
			config.GenAIBaseURL = server.URL
			handler := NewHandler(config, nil, logger.NewTestLogger(t))

			output, err := handler.Execute(context.Background(), &Input{Query: tt.query})

			require.NoError(t, err)
			require.NotNil(t, output)
			assert.Equal(t, tt.expectedIntent, output.IntentResult.Intent)
			assert.Equal(t, tt.expectedConf, output.IntentResult.Confidence)
			if tt.validateOutput != nil {
				tt.validateOutput(t, output.IntentResult)
			}
		})
	}
}

func TestHandler_Execute_CacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(classifierJSON("product_recommendation", 0.9, nil)))
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler := NewHandler(config, cache, logger.NewTestLogger(t))

	first, err := handler.Execute(context.Background(), &Input{Query: "Wooden Blocks"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Same query modulo case and whitespace hits the cache.
	second, err := handler.Execute(context.Background(), &Input{Query: "  wooden blocks "})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first.IntentResult, second.IntentResult)

	// Expiry sends the query back to the service.
	mr.FastForward(2 * time.Minute)
	_, err = handler.Execute(context.Background(), &Input{Query: "wooden blocks"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHandler_Execute_ServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler := NewHandler(config, nil, logger.NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{Query: "wooden toys"})

	assert.Nil(t, output)
	assert.ErrorIs(t, err, ErrClassificationUnavailable)
}

func TestHandler_Execute_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(classifierJSON("product_recommendation", 0.9, nil)))
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler := NewHandler(config, nil, logger.NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{Query: "wooden toys"})

	require.NoError(t, err)
	assert.Equal(t, models.IntentProductRecommendation, output.IntentResult.Intent)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHandler_Execute_CacheFailureFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // cache is down from the start

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(classifierJSON("product_recommendation", 0.9, nil)))
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler := NewHandler(config, cache, logger.NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{Query: "wooden toys"})

	require.NoError(t, err)
	assert.Equal(t, models.IntentProductRecommendation, output.IntentResult.Intent)
}
