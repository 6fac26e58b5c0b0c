package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fenwick-ai/corerun/internal/bus"
	"github.com/fenwick-ai/corerun/internal/checkpoint"
	"github.com/fenwick-ai/corerun/internal/config"
	"github.com/fenwick-ai/corerun/internal/contextwindow"
	"github.com/fenwick-ai/corerun/internal/conversation"
	"github.com/fenwick-ai/corerun/internal/dispatcher"
	"github.com/fenwick-ai/corerun/internal/engine"
	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/gateway"
	"github.com/fenwick-ai/corerun/internal/jobs"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/internal/sessionstore"
	"github.com/fenwick-ai/corerun/internal/tools/policy"
	"github.com/fenwick-ai/corerun/internal/tools/stubs"
)

// runtime bundles every component the composition root wires together, so each subcommand can
// build one and tear it down without repeating the wiring.
type runtime struct {
	cfg *config.Config

	store      sessionstore.Store
	checkpoint *checkpoint.Manager
	conv       *conversation.Manager
	gw         gateway.Gateway
	disp       *dispatcher.Dispatcher
	engine     *engine.Engine
	bus        *bus.Bus
	emitter    *events.Emitter
	metrics    *observability.Metrics

	shutdownTracer func(context.Context) error
}

// newRuntime loads cfg from configPath and wires every component per its settings. Callers
// must call close() before exiting.
func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("corerun: loading config: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	shutdownTracer, err := observability.NewTracerProvider(ctx, cfg.Observability.Tracing.Enabled, observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
	})
	if err != nil {
		return nil, fmt.Errorf("corerun: starting tracer provider: %w", err)
	}

	store, err := openSessionStore(cfg.Session)
	if err != nil {
		shutdownTracer(ctx)
		return nil, err
	}

	emitter := events.New()

	var cpBackend checkpoint.Backend = checkpoint.NewMemoryBackend()
	if cfg.Session.Backend == "file" {
		fileBackend, err := fileCheckpointBackend(cfg.Session.Path)
		if err != nil {
			shutdownTracer(ctx)
			return nil, err
		}
		cpBackend = fileBackend
	}

	cm := checkpoint.New(store, cpBackend,
		checkpoint.WithEventSink(emitter),
		checkpoint.WithAutoFrequency(cfg.Checkpoint.Frequency),
		checkpoint.WithRetention(checkpoint.RetentionPolicy{
			MaxAge:   time.Duration(cfg.Checkpoint.RetentionHours) * time.Hour,
			MinCount: 3,
		}),
		checkpoint.WithMetrics(metrics),
	)

	conv := conversation.New(store, cm, cfg.ContextWindow.MaxTokens,
		conversation.WithEventSink(emitter),
		conversation.WithBudget(contextwindow.DefaultBudgetConfig()),
		conversation.WithMetrics(metrics),
	)

	gw, err := openGateway(ctx, cfg.LLM)
	if err != nil {
		cm.Close()
		shutdownTracer(ctx)
		return nil, err
	}

	resolver := policy.NewResolver()
	disp := dispatcher.New(
		dispatcher.WithPolicy(resolver),
		dispatcher.WithJobStore(jobs.NewMemoryStore()),
		dispatcher.WithEventSink(emitter),
		dispatcher.WithDefaultTimeout(cfg.Tools.DefaultTimeout),
		dispatcher.WithMetrics(metrics),
	)
	if err := stubs.Register(disp); err != nil {
		cm.Close()
		shutdownTracer(ctx)
		return nil, fmt.Errorf("corerun: registering action stubs: %w", err)
	}

	eng := engine.New(conv, gw, disp,
		engine.WithEventSink(emitter),
		engine.WithInterruptOnAction(boolOr(cfg.Interrupt.OnAction, true)),
		engine.WithInterruptOnToolCall(boolOr(cfg.Interrupt.OnToolCall, true)),
		engine.WithMetrics(metrics),
	)

	b := bus.New(conv, bus.WithEventSink(emitter), bus.WithMetrics(metrics))

	return &runtime{
		cfg:            cfg,
		store:          store,
		checkpoint:     cm,
		conv:           conv,
		gw:             gw,
		disp:           disp,
		engine:         eng,
		bus:            b,
		emitter:        emitter,
		metrics:        metrics,
		shutdownTracer: shutdownTracer,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	rt.checkpoint.Close()
	if err := rt.shutdownTracer(ctx); err != nil {
		slog.Warn("tracer shutdown", "error", err)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func openSessionStore(cfg config.SessionConfig) (sessionstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return sessionstore.NewMemoryStore(), nil
	case "file":
		return sessionstore.NewFileStore(cfg.Path)
	case "sql":
		return sessionstore.OpenSQLStore(cfg.Path)
	default:
		return nil, fmt.Errorf("corerun: unknown session.backend %q", cfg.Backend)
	}
}

// fileCheckpointBackend stores checkpoint snapshots alongside file-backed sessions. It is used
// only when session.backend is "file"; with a SQL or memory session backend, checkpoints are
// kept in an in-memory backend and do not survive a process restart.
func fileCheckpointBackend(root string) (*checkpoint.FileBackend, error) {
	if root == "" {
		root = "./data/sessions"
	}
	return checkpoint.NewFileBackend(root + "/checkpoints")
}

// openGateway selects a Gateway adapter by cfg.DefaultProvider, falling back to an in-memory
// Mock when no provider is configured: this binary packages no channel front-end, so a
// misconfigured or absent provider must not panic the process, only degrade to an echo gateway.
func openGateway(ctx context.Context, cfg config.LLMConfig) (gateway.Gateway, error) {
	provider, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		slog.Warn("no llm provider configured; falling back to the mock gateway", "default_provider", cfg.DefaultProvider)
		return gateway.NewMock("corerun: no LLM provider configured"), nil
	}

	switch cfg.DefaultProvider {
	case "anthropic":
		return gateway.NewAnthropic(gateway.AnthropicConfig{
			APIKey:       provider.APIKey,
			BaseURL:      provider.BaseURL,
			DefaultModel: provider.DefaultModel,
		})
	case "openai":
		return gateway.NewOpenAI(gateway.OpenAIConfig{
			APIKey:       provider.APIKey,
			BaseURL:      provider.BaseURL,
			DefaultModel: provider.DefaultModel,
		})
	case "bedrock":
		return gateway.NewBedrock(ctx, gateway.BedrockConfig{
			Region:       provider.Region,
			DefaultModel: provider.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("corerun: unsupported llm.default_provider %q", cfg.DefaultProvider)
	}
}
