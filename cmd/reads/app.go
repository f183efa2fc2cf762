package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbaille/reads/internal/catalog"
	"github.com/pbaille/reads/internal/classifier"
	"github.com/pbaille/reads/internal/config"
	"github.com/pbaille/reads/internal/embedding"
	"github.com/pbaille/reads/internal/fetcher"
	"github.com/pbaille/reads/internal/logging"
	"github.com/pbaille/reads/internal/reference"
	"github.com/pbaille/reads/internal/service"
	"github.com/pbaille/reads/internal/store"
)

// app holds the wired collaborators of one command run
type app struct {
	cfg     *config.Config
	store   *store.Store
	catalog catalog.Source
	svc     *service.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	ref, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	src, err := catalog.Open(ctx, cfg.Catalog, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	analyzer, err := buildAnalyzer(cfg.Analyzer, ref)
	if err != nil {
		src.Close(ctx)
		st.Close()
		return nil, err
	}

	svc := service.New(service.Deps{
		Store:    st,
		Catalog:  src,
		Tables:   ref.Tables(),
		Analyzer: analyzer,
		Fetcher:  fetcher.New(nil),
	}, service.Options{
		DefaultTopN:  cfg.Recommend.DefaultTopN,
		SnapshotTopN: cfg.Recommend.SnapshotTopN,
		MinTextLen:   cfg.Recommend.MinTextLen,
	})

	return &app{cfg: cfg, store: st, catalog: src, svc: svc}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.catalog.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("close catalog")
	}
	if err := a.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("close store")
	}
}

// buildAnalyzer returns the configured text analyzer behind a circuit
// breaker, or nil when text analysis is disabled or has no API key
func buildAnalyzer(cfg config.AnalyzerConfig, ref *reference.Data) (service.Analyzer, error) {
	guard := service.GuardConfig{Failures: cfg.BreakerFailures, Timeout: cfg.BreakerTimeout}

	switch cfg.Backend {
	case config.AnalyzerNone:
		return nil, nil

	case config.AnalyzerVoyage:
		client, err := embedding.New(embedding.Options{
			APIKey:        cfg.VoyageAPIKey,
			Model:         cfg.Model,
			RatePerSecond: cfg.RatePerSecond,
		})
		if errors.Is(err, embedding.ErrNoAPIKey) {
			logging.Warn().Msg("VOYAGE_API_KEY not set, text analysis disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		a, err := embedding.NewAnchorAnalyzer(client, ref.Anchors, embedding.Normalization(cfg.Normalization))
		if err != nil {
			return nil, err
		}
		return service.NewGuard(cfg.Backend, a, guard), nil

	case config.AnalyzerLLM:
		rater, err := classifier.New(classifier.Options{
			APIKey:        cfg.AnthropicAPIKey,
			Model:         cfg.Model,
			RatePerSecond: cfg.RatePerSecond,
		}, ref.AnchorConcepts())
		if errors.Is(err, classifier.ErrNoAPIKey) {
			logging.Warn().Msg("ANTHROPIC_API_KEY not set, text analysis disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return service.NewGuard(cfg.Backend, rater, guard), nil

	default:
		return nil, fmt.Errorf("unknown analyzer backend %q", cfg.Backend)
	}
}
