// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"product-discovery-workers/internal/common/camunda"
	"product-discovery-workers/internal/common/config"
	"product-discovery-workers/internal/common/database"
	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/common/observability"
	"product-discovery-workers/internal/models"
	"product-discovery-workers/internal/pipeline"
	"product-discovery-workers/internal/retrieval"

	ci "product-discovery-workers/internal/workers/discovery/classify-intent"
	er "product-discovery-workers/internal/workers/discovery/execute-retrieval"
	ps "product-discovery-workers/internal/workers/discovery/plan-strategy"
	sa "product-discovery-workers/internal/workers/discovery/synthesize-answer"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var camundaClient *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		camundaClient, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			MaxRetries:             3,
			BaseDelay:              time.Second,
			MaxDelay:               10 * time.Second,
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zeebeClient := camundaClient.GetClient()
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Retrieval Backends ---
	catalogBackend := retrieval.NewCatalog(esClient.Client, esClient.Index, pg.DB, log)
	webBackend := retrieval.NewWeb(retrieval.WebConfig{
		SearchBaseURL:      cfg.APIs.WebSearch.BaseURL,
		SearchAPIKey:       cfg.APIs.WebSearch.APIKey,
		ProductDataBaseURL: cfg.APIs.ProductData.BaseURL,
		ProductDataAPIKey:  cfg.APIs.ProductData.APIKey,
		AllowedDomains:     cfg.Policy.AllowedWebDomains,
	}, nil, log)

	backends := map[models.BackendKind]retrieval.Backend{
		models.BackendCatalog: catalogBackend,
		models.BackendWeb:     webBackend,
	}

	// --- Stage Handlers ---
	classifierCfg := ci.LoadConfig()
	classifierCfg.GenAIBaseURL = cfg.APIs.GenAI.BaseURL
	classifierCfg.APIKey = cfg.APIs.GenAI.APIKey
	if cfg.APIs.GenAI.Timeout > 0 {
		classifierCfg.Timeout = config.GetDuration(cfg.APIs.GenAI.Timeout)
	}
	if cfg.Policy.IntentCacheTTL > 0 {
		classifierCfg.CacheTTL = time.Duration(cfg.Policy.IntentCacheTTL) * time.Second
	}
	classifier := ci.NewHandler(classifierCfg, redisClient.Client, log)

	planner := ps.NewHandler(
		&ps.Config{
			ConfidenceThreshold:        cfg.Policy.ConfidenceThreshold,
			RecencyKeywords:            cfg.Policy.RecencyKeywords,
			ComparisonKeywords:         cfg.Policy.ComparisonKeywords,
			TopK:                       cfg.Policy.TopK,
			PriceConstraintCatalogOnly: cfg.Policy.PriceConstraintCatalogOnly,
		},
		log,
	)

	retrieverCfg := er.LoadConfig()
	if wcfg := config.GetWorkerConfig(cfg, er.TaskType); wcfg.Timeout > 0 {
		retrieverCfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	retriever := er.NewHandler(retrieverCfg, backends, log)

	answererCfg := sa.LoadConfig()
	answererCfg.GenAIBaseURL = cfg.APIs.GenAI.BaseURL
	answererCfg.APIKey = cfg.APIs.GenAI.APIKey
	answererCfg.MaxItems = cfg.Policy.TopK
	answerer, err := sa.NewHandler(answererCfg, log)
	if err != nil {
		zapLog.Fatal("failed to create synthesize-answer handler", zap.Error(err))
	}

	// --- Register Workers ---
	startWorker(zeebeClient, cfg, ci.TaskType, classifier.Handle, zapLog)
	startWorker(zeebeClient, cfg, ps.TaskType, planner.Handle, zapLog)
	startWorker(zeebeClient, cfg, er.TaskType, retriever.Handle, zapLog)
	startWorker(zeebeClient, cfg, sa.TaskType, answerer.Handle, zapLog)
	zapLog.Info("All discovery workers registered successfully")

	// --- Direct Query Endpoint ---
	// Runs the full pipeline in process for callers that do not go
	// through the workflow engine.
	discoveryPipeline := pipeline.New(classifier, planner, retriever, answerer, obs, 60*time.Second, log)

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := camundaClient.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/v1/discovery", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			var req struct {
				Query string `json:"query"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
				http.Error(w, "query is required", http.StatusBadRequest)
				return
			}
			result, err := discoveryPipeline.Run(r.Context(), req.Query)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(result)
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")

	if err := camundaClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorker(client zbc.Client, cfg *config.Config, taskType string, handlerFunc func(worker.JobClient, entities.Job), log *zap.Logger) {
	if !config.IsWorkerEnabled(cfg, taskType) {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return
	}

	wcfg := config.GetWorkerConfig(cfg, taskType)
	client.NewJobWorker().
		JobType(taskType).
		Handler(handlerFunc).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)
}
