// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core query orchestration service for
// AleutianRelay.
//
// This package contains the main service type that assembles all components:
// the HTTP surface, the execution graph with its agents, LLM backends,
// retrieval indexes, the tenant policy engine, conversation storage, and
// observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "openai"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/agents"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/graph"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/research"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/safety"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/sandbox"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage"
	"github.com/AleutianAI/AleutianRelay/services/policy_engine"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for integration testing.
	// Callers must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files,
// or programmatically for testing. All fields are optional with defaults
// applied by New().
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port with a quota fallback model
//	cfg := Config{
//	    Port:          8080,
//	    LLMBackend:    "openai",
//	    FallbackModel: "gpt-4o-mini",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend selects the primary model provider.
	// Valid values: "openai", "ollama". Default: "openai"
	LLMBackend string

	// FallbackModel is the OpenAI model used when the primary backend
	// reports quota exhaustion. Empty disables quota fallback.
	FallbackModel string

	// WeaviateURL is the Weaviate vector database URL. If empty, retrieval
	// uses in-process indexes instead.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// DataDir is the BadgerDB directory for conversation and document
	// records. Default: "./data/relay"
	DataDir string

	// IndexDir is where per-workspace retrieval index snapshots are
	// written. Default: "./data/indexes"
	IndexDir string

	// PolicyPath is the tenant policy YAML file. Empty runs with the
	// built-in default tier for every tenant.
	PolicyPath string

	// WatchPolicy hot-reloads PolicyPath on change. Ignored when
	// PolicyPath is empty.
	WatchPolicy bool

	// ResearchEndpoint overrides the web research backend URL.
	// Default: the public DuckDuckGo instant answer API.
	ResearchEndpoint string

	// PythonPath is the interpreter used by the code sandbox.
	// Default: "python3"
	PythonPath string

	// SandboxTimeout is the wall-clock cutoff for sandboxed code runs.
	// Default: 10 seconds
	SandboxTimeout time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service coordinates HTTP routing via Gin, the execution graph and its
// agents, LLM backend routing, the tenant policy engine, BadgerDB storage,
// optional Weaviate retrieval, OpenTelemetry tracing, and Prometheus
// metrics.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Assumptions
//
//   - All external services (LLM, Weaviate, OTel) are reachable if configured
type service struct {
	config         Config
	router         *gin.Engine
	store          *storage.BadgerStore
	registry       *retrieval.Registry
	weaviateClient *weaviate.Client
	policyEngine   *policy_engine.Engine
	engine         *graph.Engine
	tracerCleanup  func(context.Context)
	watchCancel    context.CancelFunc
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Opens the BadgerDB conversation store
//  4. Creates the retrieval registry (Weaviate-backed if configured)
//  5. Initializes the tenant policy engine
//  6. Creates LLM clients and the quota-aware model router
//  7. Assembles the execution graph with its five agents
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - LLM client creation may fail if provider credentials are missing
//   - Weaviate connection is optional; retrieval degrades to in-process
//     indexes when it is unreachable
//
// # Assumptions
//
//   - Environment variables are set for LLM providers (API keys, URLs)
//   - DataDir and IndexDir are writable
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	s.store, err = storage.NewBadgerStore(storage.DefaultConfig(s.config.DataDir))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	// Weaviate is optional. Retrieval falls back to in-process indexes.
	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, using in-process retrieval",
			"error", err)
	}
	s.registry = retrieval.NewRegistry(s.indexFactory(), slog.Default())

	if err := s.initPolicyEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	models, err := s.initModels()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM backends: %w", err)
	}

	s.initGraph(models)
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "openai"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/relay"
	}
	if cfg.IndexDir == "" {
		cfg.IndexDir = "./data/indexes"
	}
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.SandboxTimeout == 0 {
		cfg.SandboxTimeout = 10 * time.Second
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("relay-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate initializes the Weaviate vector database client.
//
// # Description
//
// Creates a Weaviate client if WeaviateURL is configured. Validates the
// URL format. Returns nil error if WeaviateURL is empty (optional
// dependency).
//
// # Assumptions
//
//   - Weaviate server is running and accessible
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, retrieval uses in-process indexes")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// indexFactory chooses the retrieval backend for new workspace indexes.
// The in-process backend reloads the workspace's saved snapshot so indexed
// documents survive a restart.
func (s *service) indexFactory() retrieval.Factory {
	if s.weaviateClient != nil {
		client := s.weaviateClient
		return func(ctx context.Context, key retrieval.Key) (retrieval.Index, error) {
			return retrieval.NewWeaviateIndex(ctx, client, key, slog.Default())
		}
	}
	indexDir := s.config.IndexDir
	return func(_ context.Context, key retrieval.Key) (retrieval.Index, error) {
		return retrieval.LoadMemoryIndex(retrieval.SnapshotPath(indexDir, key.Workspace), key)
	}
}

// initPolicyEngine creates the tenant policy engine and optionally starts
// the file watcher for hot reloads.
func (s *service) initPolicyEngine() error {
	eng, err := policy_engine.NewEngine(slog.Default())
	if err != nil {
		return err
	}
	s.policyEngine = eng

	if s.config.PolicyPath == "" {
		slog.Info("No tenant policy file configured, using default tier")
		return nil
	}
	if err := eng.LoadFile(s.config.PolicyPath); err != nil {
		return fmt.Errorf("failed to load tenant policy: %w", err)
	}
	if s.config.WatchPolicy {
		ctx, cancel := context.WithCancel(context.Background())
		if err := eng.WatchFile(ctx, s.config.PolicyPath); err != nil {
			cancel()
			return fmt.Errorf("failed to watch tenant policy: %w", err)
		}
		s.watchCancel = cancel
	}

	slog.Info("Tenant policy engine initialized",
		"path", s.config.PolicyPath,
		"watch", s.config.WatchPolicy)
	return nil
}

// initModels creates the primary and fallback LLM clients and wraps them
// in the quota-aware router.
//
// # Limitations
//
//   - Only supports: openai, ollama
//   - The fallback model always runs on OpenAI
func (s *service) initModels() (*llm.Router, error) {
	var primary llm.LLMClient
	var err error

	switch s.config.LLMBackend {
	case "openai":
		primary, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		primary, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to openai",
			"backend", s.config.LLMBackend)
		primary, err = llm.NewOpenAIClient()
	}
	if err != nil {
		return nil, err
	}

	var fallback llm.LLMClient
	if s.config.FallbackModel != "" {
		fallback, err = llm.NewOpenAIClientForModel(s.config.FallbackModel)
		if err != nil {
			slog.Warn("Fallback model unavailable, quota fallback disabled",
				"model", s.config.FallbackModel,
				"error", err)
			fallback = nil
		} else {
			slog.Info("Quota fallback enabled", "model", s.config.FallbackModel)
		}
	}

	return llm.NewRouter(primary, fallback, slog.Default()), nil
}

// initGraph assembles the execution graph from the five agents, the intent
// classifier, and the shared infrastructure.
func (s *service) initGraph(models *llm.Router) {
	logger := slog.Default()

	executor := sandbox.NewExecutor(sandbox.Config{
		PythonPath: s.config.PythonPath,
		Timeout:    s.config.SandboxTimeout,
	}, logger)
	searcher := research.NewClient(s.config.ResearchEndpoint, logger)

	s.engine = graph.NewEngine(graph.Deps{
		Store:      s.store,
		Registry:   s.registry,
		Chunker:    retrieval.NewChunker(0, 0),
		Classifier: agents.NewClassifier(models, logger),
		Agents: []agents.Agent{
			agents.NewChatAgent(models, logger),
			agents.NewRAGAgent(models, s.registry, logger),
			agents.NewSQLAgent(models, safety.NewSQLValidator(), logger),
			agents.NewCodeAgent(models, safety.NewCodeValidator(), executor, logger),
			agents.NewResearchAgent(models, searcher, logger),
		},
		Policy:   s.policyEngine,
		Logger:   logger,
		IndexDir: s.config.IndexDir,
	})
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Assumptions
//
//   - All dependencies (graph engine, store) are initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("relay-orchestrator"))

	routes.SetupRoutes(s.router, s.engine, s.engine, s.store)
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure.
func (s *service) cleanup() {
	if s.watchCancel != nil {
		s.watchCancel()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("conversation store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
