// Command mdvalidate runs the markdown validation JSON-RPC server.
//
// It communicates over stdio using JSON-RPC 2.0 by default, or exposes an
// HTTP transport (request/response plus a Prometheus /metrics endpoint)
// when configured to do so.
//
// Optional environment variables:
//
//	MDVALIDATE_CONFIG              - path to a TOML config file
//	MDVALIDATE_STORE_PATH          - sqlite database path
//	MDVALIDATE_LLM_ENDPOINT        - Ollama-compatible endpoint
//	MDVALIDATE_LLM_MODEL           - model name
//	MDVALIDATE_LLM_DISABLED        - "true"/"1" to disable the LLM capability
//	MDVALIDATE_CACHE_ADDR          - Redis address
//	MDVALIDATE_RULES_DIR           - per-family rule document directory
//	MDVALIDATE_PROMPTS_DIR         - prompt template directory
//	MDVALIDATE_TRUTH_DIR           - ground-truth family fixtures directory
//	MDVALIDATE_TRANSPORT           - "stdio" (default) or "http"
//	MDVALIDATE_PORT, MDVALIDATE_HOST - http transport bind address
//	MDVALIDATE_LOG_LEVEL           - debug, info, warn, error
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/agent"
	"github.com/babar-raza/tbcv-sub003/internal/cache"
	"github.com/babar-raza/tbcv-sub003/internal/config"
	"github.com/babar-raza/tbcv-sub003/internal/family"
	"github.com/babar-raza/tbcv-sub003/internal/fsio"
	"github.com/babar-raza/tbcv-sub003/internal/ingest"
	"github.com/babar-raza/tbcv-sub003/internal/llm"
	"github.com/babar-raza/tbcv-sub003/internal/methods/admin"
	"github.com/babar-raza/tbcv-sub003/internal/methods/approval"
	"github.com/babar-raza/tbcv-sub003/internal/methods/enhancement"
	"github.com/babar-raza/tbcv-sub003/internal/methods/recommendation"
	"github.com/babar-raza/tbcv-sub003/internal/methods/validation"
	workflowmethods "github.com/babar-raza/tbcv-sub003/internal/methods/workflow"
	"github.com/babar-raza/tbcv-sub003/internal/metrics"
	"github.com/babar-raza/tbcv-sub003/internal/prompts"
	"github.com/babar-raza/tbcv-sub003/internal/recommend"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/rules"
	"github.com/babar-raza/tbcv-sub003/internal/store"
	"github.com/babar-raza/tbcv-sub003/internal/workflow"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mdvalidate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Structured logging to stderr; stdout is reserved for the JSON-RPC
	// stdio transport when that mode is selected.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	logger.Info("starting mdvalidate", "version", Version, "transport", cfg.Transport.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("pinging store: %w", err)
	}

	redisClient := cache.NewClient(cfg.Cache.Addr, cfg.Cache.DB)
	c := cache.New(redisClient, st)

	ruleMgr := rules.NewManager(cfg.Content.RulesDir, logger)
	promptLoader := prompts.NewLoader(cfg.Content.PromptsDir, logger)
	detector := family.NewDetector(cfg.Content.RulesDir, cfg.Content.TruthDir)
	agents := agent.NewRegistry()

	llmClient, err := llm.New(llm.Options{
		Disabled:   cfg.LLM.Disabled,
		Endpoint:   cfg.LLM.Endpoint,
		Model:      cfg.LLM.Model,
		Timeout:    secondsToDuration(cfg.LLM.TimeoutSec),
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("constructing llm client: %w", err)
	}

	pipeline := ingest.NewPipeline(detector, ruleMgr, st, logger)
	generator := recommend.NewGenerator(llmClient, promptLoader, logger)
	wfManager := workflow.NewManager(st, logger)
	recorder := metrics.New(st, logger)

	validationMethods := validation.New(pipeline, st, logger)
	approvalMethods := approval.New(st, logger)
	recommendationMethods := recommendation.New(generator, st, logger)
	enhancementMethods := enhancement.New(llmClient, promptLoader, st, cfg.LLM.Model, logger)
	adminMethods := admin.New(st, c, agents, detector, logger)
	workflowMethods := workflowmethods.New(wfManager, logger)

	registerWorkflowExecutors(wfManager, validationMethods, recommendationMethods, enhancementMethods, logger)

	registry := rpc.NewRegistry()
	registerAll(registry,
		// M3 — validation
		validation.NewValidateFolder(validationMethods),
		validation.NewValidateFile(validationMethods),
		validation.NewValidateContent(validationMethods),
		validation.NewGetValidation(validationMethods),
		validation.NewListValidations(validationMethods),
		validation.NewUpdateValidation(validationMethods),
		validation.NewDeleteValidation(validationMethods),
		validation.NewRevalidate(validationMethods),
		// M4 — approval
		approval.NewApprove(approvalMethods),
		approval.NewReject(approvalMethods),
		approval.NewBulkApprove(approvalMethods),
		approval.NewBulkReject(approvalMethods),
		// M5 — recommendation
		recommendation.NewGenerateRecommendations(recommendationMethods),
		recommendation.NewRebuildRecommendations(recommendationMethods),
		recommendation.NewGetRecommendations(recommendationMethods),
		recommendation.NewReviewRecommendation(recommendationMethods),
		recommendation.NewBulkReviewRecommendations(recommendationMethods),
		recommendation.NewApplyRecommendations(recommendationMethods),
		recommendation.NewDeleteRecommendation(recommendationMethods),
		recommendation.NewMarkRecommendationsApplied(recommendationMethods),
		// M6 — enhancement
		enhancement.NewEnhance(enhancementMethods),
		enhancement.NewEnhanceBatch(enhancementMethods),
		enhancement.NewEnhancePreview(enhancementMethods),
		enhancement.NewEnhanceAutoApply(enhancementMethods),
		enhancement.NewGetEnhancementComparison(enhancementMethods),
		// M7 — admin
		admin.NewGetSystemStatus(adminMethods),
		admin.NewClearCache(adminMethods),
		admin.NewGetCacheStats(adminMethods),
		admin.NewCleanupCache(adminMethods),
		admin.NewRebuildCache(adminMethods),
		admin.NewReloadAgent(adminMethods),
		admin.NewRunGC(adminMethods),
		admin.NewEnableMaintenanceMode(adminMethods),
		admin.NewDisableMaintenanceMode(adminMethods),
		admin.NewCreateCheckpoint(adminMethods),
		admin.NewGetStats(adminMethods),
		admin.NewGetAuditLog(adminMethods),
		admin.NewGetPerformanceReport(adminMethods),
		admin.NewGetHealthReport(adminMethods),
		admin.NewGetValidationHistory(adminMethods),
		admin.NewGetAvailableValidators(adminMethods),
		admin.NewExportValidation(adminMethods),
		admin.NewExportRecommendations(adminMethods),
		admin.NewExportWorkflow(adminMethods),
		// M8 — workflow
		workflowmethods.NewCreateWorkflow(workflowMethods),
		workflowmethods.NewControlWorkflow(workflowMethods),
		workflowmethods.NewGetWorkflowSummary(workflowMethods),
		workflowmethods.NewGetWorkflowReport(workflowMethods),
		workflowmethods.NewDeleteWorkflow(workflowMethods),
		workflowmethods.NewBulkDeleteWorkflows(workflowMethods),
	)

	dispatcher := rpc.NewDispatcher(registry, logger)
	dispatcher.SetRecorder(recorder)

	switch cfg.Transport.Mode {
	case "http":
		return runHTTP(ctx, cfg, dispatcher, recorder, logger)
	default:
		server := rpc.NewStdioServer(dispatcher, logger)
		return server.Run(ctx, os.Stdin, os.Stdout)
	}
}

// registerAll registers every method in order, panicking on name collision
// (rpc.Registry.Register's own behavior) so a mis-wired server fails at
// startup rather than silently shadowing a handler.
func registerAll(registry *rpc.Registry, methods ...rpc.Method) {
	for _, m := range methods {
		registry.Register(m)
	}
}

// registerWorkflowExecutors binds each workflow type to the method handler(s)
// that actually perform its steps, one goroutine-driven executor per type.
// This must happen before any create_workflow call reaches the manager.
func registerWorkflowExecutors(
	mgr *workflow.Manager,
	v *validation.Methods,
	r *recommendation.Methods,
	e *enhancement.Methods,
	logger *slog.Logger,
) {
	validateFile := validation.NewValidateFile(v)
	reviewRecommendation := recommendation.NewReviewRecommendation(r)
	enhance := enhancement.NewEnhance(e)

	mgr.RegisterExecutor(workflow.TypeValidateDirectory, directoryExecutor(validateFile, logger))
	mgr.RegisterExecutor(workflow.TypeFullAudit, directoryExecutor(validateFile, logger))
	mgr.RegisterExecutor(workflow.TypeBatchEnhance, idListExecutor(func(ctx context.Context, id string) error {
		_, err := enhance.Execute(ctx, mustJSON(map[string]any{"ids": []string{id}}))
		return err
	}, "validation_ids", logger))
	mgr.RegisterExecutor(workflow.TypeRecommendationBatch, idListExecutor(func(ctx context.Context, id string) error {
		_, err := reviewRecommendation.Execute(ctx, mustJSON(map[string]any{"recommendation_id": id, "action": "approve"}))
		return err
	}, "recommendation_ids", logger))
}

// directoryExecutor validates every markdown file under params'
// directory_path (honoring recursive), reporting progress after each file.
func directoryExecutor(validateFile *validation.ValidateFile, logger *slog.Logger) workflow.Executor {
	return func(ctx context.Context, params map[string]any, report workflow.StepProgress) error {
		dir, _ := params["directory_path"].(string)
		recursive := true
		if r, ok := params["recursive"].(bool); ok {
			recursive = r
		}

		files, err := fsio.ListMarkdownFiles(dir, recursive)
		if err != nil {
			return fmt.Errorf("listing markdown files under %s: %w", dir, err)
		}

		for i, file := range files {
			if _, err := validateFile.Execute(ctx, mustJSON(map[string]any{"file_path": file})); err != nil {
				logger.Warn("workflow step failed", "file_path", file, "error", err)
			}
			if err := report(ctx, i+1, len(files)); err != nil {
				return err
			}
		}
		return nil
	}
}

// idListExecutor applies step to every id found under params[idsKey], one
// step per id.
func idListExecutor(step func(ctx context.Context, id string) error, idsKey string, logger *slog.Logger) workflow.Executor {
	return func(ctx context.Context, params map[string]any, report workflow.StepProgress) error {
		ids := stringSlice(params[idsKey])

		for i, id := range ids {
			if err := step(ctx, id); err != nil {
				logger.Warn("workflow step failed", "id", id, "error", err)
			}
			if err := report(ctx, i+1, len(ids)); err != nil {
				return err
			}
		}
		return nil
	}
}

// stringSlice accepts both a native []string (the in-process Create path)
// and a []any of strings (a workflow reloaded from its persisted JSON),
// since Manager.run is handed whichever shape the caller built inputParams
// with.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mustJSON(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a map[string]any built from known-marshalable values.
		panic(err)
	}
	return b
}

const shutdownTimeout = 10 * time.Second

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func runHTTP(ctx context.Context, cfg *config.Config, dispatcher *rpc.Dispatcher, recorder *metrics.Recorder, logger *slog.Logger) error {
	async := rpc.NewAsyncDispatcher(dispatcher, cfg.Async.PoolSize)

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/rpc", httpRPCHandler(async, logger))

	addr := cfg.Transport.Host + ":" + cfg.Transport.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http transport listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http transport: %w", err)
	}
	return nil
}

func httpRPCHandler(async *rpc.AsyncDispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}

		var req rpc.Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json-rpc request", http.StatusBadRequest)
			return
		}

		resp, err := async.Dispatch(r.Context(), &req)
		if err != nil {
			logger.Warn("async dispatch cancelled", "error", err)
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
