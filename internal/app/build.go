package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/httpapi"
	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/observability"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Engine    *coach.Engine
	Metrics   *observability.Metrics
	Store     memory.Store
	Completer completion.Client

	// Cleanup stops every session and releases the store. Call it on shutdown.
	Cleanup func() error
}

// Options overrides pieces of the graph; zero values use the configured ones.
type Options struct {
	Knowledge knowledge.Source
	Completer completion.Client
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	completer := opts.Completer
	if completer == nil {
		completer, err = completion.NewClient(cfg.Completion)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("completion client init failed: %w", err)
		}
	}
	if completer == nil {
		logger.Warn("completion disabled; every tick uses deterministic fallbacks")
	}

	source := opts.Knowledge
	if source == nil {
		source = knowledge.NewFileSource(cfg.KnowledgePath)
	}

	engine := coach.New(cfg.Coach, coach.Deps{
		Store:     store,
		Knowledge: source,
		Completer: completer,
		Metrics:   metrics,
		Logger:    logger,
	})

	api := httpapi.New(cfg, engine, metrics, logger)

	cleanup := func() error {
		engine.Close()
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Engine:    engine,
		Metrics:   metrics,
		Store:     store,
		Completer: completer,
		Cleanup:   cleanup,
	}, nil
}
