package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/config"
	dbRedis "github.com/kailas-cloud/voxdex/internal/db/redis"
	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
	logpkg "github.com/kailas-cloud/voxdex/internal/logger"
	"github.com/kailas-cloud/voxdex/internal/metrics"
	budgetrepo "github.com/kailas-cloud/voxdex/internal/repository/budget"
	"github.com/kailas-cloud/voxdex/internal/repository/embcache"
	"github.com/kailas-cloud/voxdex/internal/repository/index"
	"github.com/kailas-cloud/voxdex/internal/repository/threads"
	"github.com/kailas-cloud/voxdex/internal/tokens"
	"github.com/kailas-cloud/voxdex/internal/trace"
	chiTransport "github.com/kailas-cloud/voxdex/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/voxdex/internal/transport/openai"
	"github.com/kailas-cloud/voxdex/internal/transport/ws"
	agentuc "github.com/kailas-cloud/voxdex/internal/usecase/agent"
	embeddinguc "github.com/kailas-cloud/voxdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/voxdex/internal/usecase/health"
	interpretuc "github.com/kailas-cloud/voxdex/internal/usecase/interpret"
	searchuc "github.com/kailas-cloud/voxdex/internal/usecase/search"
	turnuc "github.com/kailas-cloud/voxdex/internal/usecase/turn"
	usageuc "github.com/kailas-cloud/voxdex/internal/usecase/usage"
	"github.com/kailas-cloud/voxdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting voxdex voice server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create entity store", zap.Error(err))
	}
	defer store.Close()

	// Wait for the entity store to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Entity store not ready", zap.Error(err))
	}
	logger.Info("Connected to entity store")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	tracer, err := trace.New(trace.Config{
		Enabled:    cfg.Trace.Enabled,
		Endpoint:   cfg.Trace.Endpoint,
		SampleRate: cfg.Trace.SampleRate,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create trace emitter", zap.Error(err))
	}

	sch, err := buildSchema(cfg.Schema)
	if err != nil {
		logger.Fatal("Invalid attribute schema", zap.Error(err))
	}

	// Provider adapters: one client, one adapter per pipeline stage.
	client := openaiTransport.NewClient(openaiTransport.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	transcriber := openaiTransport.NewTranscriber(client, cfg.OpenAI.STTModel, logger)
	synthesizer := openaiTransport.NewSynthesizer(client, cfg.OpenAI.TTSModel, cfg.OpenAI.TTSVoice, cfg.OpenAI.TTSSampleRate, logger)
	chatCompleter := openaiTransport.NewCompleter(client, cfg.OpenAI.ChatModel, cfg.OpenAI.Temperature, logger)
	summaryCompleter := openaiTransport.NewCompleter(client, cfg.OpenAI.SummaryModel, cfg.OpenAI.Temperature, logger)
	// Interpreter runs at temperature zero; parses must be reproducible.
	interpCompleter := openaiTransport.NewCompleter(client, cfg.OpenAI.InterpreterModel, 0, logger)
	embedder := openaiTransport.NewEmbedder(client, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions, logger)
	logger.Info("Provider adapters created",
		zap.String("chat_model", cfg.OpenAI.ChatModel),
		zap.String("stt_model", cfg.OpenAI.STTModel),
		zap.String("tts_model", cfg.OpenAI.TTSModel),
		zap.String("embedding_model", cfg.OpenAI.EmbeddingModel),
		zap.Int("embedding_dimensions", cfg.OpenAI.EmbeddingDimensions),
	)

	// Embedding spend guard, shared by the embedder chain and the usage
	// endpoint. Only built when a limit is configured.
	var budget *embeddinguc.BudgetTracker
	if cfg.OpenAI.Budget.DailyTokens > 0 || cfg.OpenAI.Budget.MonthlyTokens > 0 {
		action := embeddinguc.BudgetActionWarn
		if cfg.OpenAI.Budget.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(embeddinguc.BudgetConfig{
			Provider:     "openai",
			KeyPrefix:    cfg.Index.KeyPrefix,
			DailyLimit:   cfg.OpenAI.Budget.DailyTokens,
			MonthlyLimit: cfg.OpenAI.Budget.MonthlyTokens,
			Action:       action,
		}, logger)
		budget.WithStore(ctx, budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour))
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	// Entity index over the store; query embeddings cached alongside it.
	// The instruction prefix wraps outside the cache so cached vectors are
	// keyed by the exact embedded text. The budget guard sits outside the
	// cache too and charges only uncached calls.
	var queryEmbedder domain.Embedder = embcache.New(embedder, store,
		cfg.Index.KeyPrefix,
		time.Duration(cfg.Index.EmbedCacheTTLSec)*time.Second,
		metrics.EmbedCacheTotal, logger)
	queryEmbedder = embeddinguc.NewInstrumentedEmbedder(queryEmbedder, "openai",
		cfg.OpenAI.EmbeddingModel, budgetChecker, logger)
	if cfg.OpenAI.QueryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(queryEmbedder, cfg.OpenAI.QueryInstruction)
	}
	idx := index.New(store, queryEmbedder, sch, index.Config{
		KeyPrefix:       cfg.Index.KeyPrefix,
		VectorDim:       cfg.OpenAI.EmbeddingDimensions,
		HNSWM:           cfg.Index.HNSWM,
		HNSWEFConstruct: cfg.Index.HNSWEFConstruct,
	}, logger)
	if err := idx.WarmUp(ctx); err != nil {
		logger.Fatal("Index warm-up failed", zap.Error(err))
	}
	idx.StartRefresh(time.Duration(cfg.Index.SnapshotRefreshSec) * time.Second)
	defer idx.Close()

	threadStore := threads.New(time.Duration(cfg.Threads.InactivityTTLSec)*time.Second, logger)
	threadStore.StartEviction(time.Minute)
	defer threadStore.Close()

	// Ranking engine behind the agent's search tool and the HTTP endpoint.
	interp := interpretuc.New(interpCompleter, sch, idx,
		time.Duration(cfg.Search.InterpreterTimeoutMS)*time.Millisecond, logger)
	searchSvc := searchuc.New(interp, idx, sch, searchuc.Config{
		DefaultWeight: cfg.Search.DefaultWeight,
		CandidateK:    cfg.Index.CandidateK,
		MinScore:      cfg.Index.MinScore,
		Timeout:       time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
		Retries:       cfg.Search.Retries,
	}, logger)

	// Conversational agent and the turn orchestrator above it.
	counter := tokens.NewCounter(cfg.OpenAI.ChatModel)
	searchTool := agentuc.NewSearchTool(searchSvc, cfg.Search.DefaultLimit, cfg.Search.MaxLimit, logger)
	agentSvc := agentuc.New(chatCompleter, summaryCompleter, counter, []agentuc.Tool{searchTool}, agentuc.Config{
		Persona:        cfg.Agent.Persona,
		TokenBudget:    cfg.Agent.TokenBudget,
		KeepRecent:     cfg.Agent.KeepRecentMessages,
		MaxReplyTokens: cfg.Agent.MaxReplyTokens,
		Timeout:        time.Duration(cfg.Agent.CompletionTimeoutMS) * time.Millisecond,
		Retries:        cfg.Agent.Retries,
	}, logger)
	turnSvc := turnuc.New(transcriber, synthesizer, agentSvc, threadStore, tracer, turnuc.Config{
		MaxIterations:        cfg.Agent.MaxIterations,
		FillerThreshold:      time.Duration(cfg.Turn.FillerThresholdMS) * time.Millisecond,
		FillerPhrases:        cfg.Turn.FillerPhrases,
		PleaseRepeat:         cfg.Turn.PleaseRepeat,
		Apology:              cfg.Turn.Apology,
		TranscriptionTimeout: time.Duration(cfg.Turn.TranscriptionTimeoutMS) * time.Millisecond,
		SynthesisTimeout:     time.Duration(cfg.Turn.SynthesisTimeoutMS) * time.Millisecond,
		ToolTimeout:          time.Duration(cfg.Turn.ToolTimeoutMS) * time.Millisecond,
		SampleRate:           cfg.OpenAI.TTSSampleRate,
	}, logger)

	sessionHandler := ws.New(turnSvc, ws.Config{
		InSampleRate:    cfg.Session.InSampleRate,
		OutSampleRate:   cfg.OpenAI.TTSSampleRate,
		SilenceCommit:   time.Duration(cfg.Session.SilenceCommitMS) * time.Millisecond,
		MaxFrameBytes:   cfg.Session.MaxFrameBytes,
		MaxSegmentBytes: cfg.Session.MaxSegmentBytes,
		FramesPerSec:    cfg.Session.MaxFramesPerSec,
		FrameBurst:      cfg.Session.FrameBurst,
		HandshakeWait:   time.Duration(cfg.Session.HandshakeTimeoutMS) * time.Millisecond,
		WriteTimeout:    time.Duration(cfg.Session.WriteTimeoutMS) * time.Millisecond,
		PingInterval:    time.Duration(cfg.Session.PingIntervalSec) * time.Second,
	}, logger)

	// Health service
	healthSvc := healthuc.New(store, embedder)

	// Spend reports read from the shared budget tracker.
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetReader = budget
	}
	usageSvc := usageuc.New(budgetReader)

	// Create chi server
	server := chiTransport.NewServer(searchSvc, usageSvc, healthSvc, chiTransport.Limits{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware())
		r.Get("/healthz", server.HealthCheck)
		r.Get("/metrics", server.Metrics)
		r.Post("/v1/search", server.Search)
		r.Get("/v1/usage", server.Usage)
	})
	// The metrics middleware wraps the response writer without Hijacker, so
	// the session route mounts outside it.
	r.Get("/v1/session", sessionHandler.ServeHTTP)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildSchema hydrates the entity attribute schema from config.
func buildSchema(cfg config.SchemaConfig) (schema.Schema, error) {
	numerics := make([]schema.Numeric, 0, len(cfg.Numerics))
	for _, n := range cfg.Numerics {
		attr, err := schema.NewNumeric(n.Name, n.Min, n.Max, schema.Mode(n.Mode))
		if err != nil {
			return schema.Schema{}, err
		}
		numerics = append(numerics, attr)
	}
	return schema.New(numerics, cfg.Categoricals)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
