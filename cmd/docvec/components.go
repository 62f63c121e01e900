package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/extract"
	"github.com/hyperjump/docvec/internal/indexer"
	"github.com/hyperjump/docvec/internal/quota"
	"github.com/hyperjump/docvec/internal/storage"
)

// Components holds the opened backends and the store built on them.
type Components struct {
	Config   *config.Config
	Logger   *zap.Logger
	Storage  storage.Storage
	Embedder embedding.Embedder
	Ledger   quota.Ledger
	Store    *docstore.Store
}

// Close releases every backend, logging failures.
func (c *Components) Close() {
	closers := map[string]io.Closer{"storage": c.Storage, "embedder": c.Embedder}
	if lc, ok := c.Ledger.(io.Closer); ok {
		closers["quota ledger"] = lc
	}
	for name, cl := range closers {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			c.Logger.Warn("close failed", zap.String("component", name), zap.Error(err))
		}
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	emb, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	st, err := storage.New(ctx, cfg.Storage, emb.Dimensions())
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	ledger, err := quota.New(cfg.Quota, cfg.Storage.Redis)
	if err != nil {
		_ = st.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize quota ledger: %w", err)
	}

	gate := quota.NewGate(ledger, quota.PolicyFromConfig(cfg.Quota), cfg.Quota.Timeout, quota.WithLogger(logger))
	store := docstore.New(st, emb,
		docstore.WithLogger(logger),
		docstore.WithQuotaGate(gate),
		docstore.WithEmbedTimeout(cfg.Embedding.Timeout),
		docstore.WithRollbackTimeout(cfg.Storage.RollbackTimeout),
		docstore.WithSearchLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit),
		docstore.WithJoinConcurrency(cfg.Search.JoinConcurrency),
		docstore.WithGracePeriod(cfg.Reconcile.GracePeriod),
	)
	logger.Info("store initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", emb.Dimensions()),
		zap.String("quota", cfg.Quota.Backend))

	return &Components{
		Config:   cfg,
		Logger:   logger,
		Storage:  st,
		Embedder: emb,
		Ledger:   ledger,
		Store:    store,
	}, nil
}

// Indexer returns a file indexer configured from the ingest section.
func (c *Components) Indexer() *indexer.Indexer {
	ic := c.Config.Ingest
	return indexer.NewIndexer(c.Store,
		extract.NewExtractor(extract.WithMaxBytes(ic.MaxFileBytes)),
		indexer.WithLogger(c.Logger),
		indexer.WithChunker(indexer.NewChunker(ic.ChunkSize, ic.ChunkOverlap)),
		indexer.WithExtensions(ic.Extensions),
		indexer.WithConcurrency(ic.Concurrency),
	)
}

// diskUsage returns a disk usage reporter when the storage backend has one.
func (c *Components) diskUsage() func() (int64, error) {
	if du, ok := c.Storage.(interface{ DiskUsageBytes() (int64, error) }); ok {
		return du.DiskUsageBytes
	}
	return nil
}
