package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/internal/blob"
	"github.com/sells-group/contact-pipeline/internal/capture"
	"github.com/sells-group/contact-pipeline/internal/links"
	"github.com/sells-group/contact-pipeline/internal/research"
	"github.com/sells-group/contact-pipeline/internal/store"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
	"github.com/sells-group/contact-pipeline/pkg/perplexity"
)

// env wires the application components from config.
type env struct {
	Store    store.Store
	Blobs    blob.Store
	Captures *capture.Controller
	Research *research.Orchestrator
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	blobs, err := blob.NewFS(cfg.Blob.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}

	chat := anthropic.NewClient(cfg.Anthropic.Key)
	web := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
		perplexity.WithRateLimit(cfg.Perplexity.RatePerSecond),
	)

	orchestrator := &research.Orchestrator{
		Store: st,
		Blobs: blobs,
		Chat:  chat,
		Web:   web,
		Curator: &links.Curator{
			Chat:          chat,
			Model:         cfg.Anthropic.CurationModel,
			MaxCandidates: cfg.Links.MaxCandidates,
			MaxSelected:   cfg.Links.MaxSelected,
		},
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		EnrichModel: cfg.Anthropic.EnrichModel,
		WebModel:    cfg.Perplexity.Model,
		Streaming:   cfg.Perplexity.Streaming,
		MaxTokens:   int64(cfg.Anthropic.MaxTokens),
		MaxImages:   cfg.Research.MaxImages,
	}

	controller := &capture.Controller{
		Store:         st,
		Blobs:         blobs,
		Chat:          chat,
		Research:      orchestrator,
		ExtractModel:  cfg.Anthropic.ExtractModel,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		MaxImages:     cfg.Capture.MaxImages,
		MaxImageBytes: cfg.Capture.MaxImageBytes,
	}

	return &env{
		Store:    st,
		Blobs:    blobs,
		Captures: controller,
		Research: orchestrator,
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url required for postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
