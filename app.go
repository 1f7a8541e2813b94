package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/entelliextract/intelliextract/internal/config"
	"github.com/entelliextract/intelliextract/internal/extractapi"
	"github.com/entelliextract/intelliextract/internal/extractor"
	"github.com/entelliextract/intelliextract/internal/objstore"
	"github.com/entelliextract/intelliextract/internal/store"
	"github.com/entelliextract/intelliextract/internal/syncer"
	"github.com/entelliextract/intelliextract/internal/workflow"
)

// app bundles the wired pipeline components for one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	coord  *workflow.Coordinator
}

// buildApp assembles the store, the object-store adapter, the extraction
// client (or its mock), both engines, and the coordinator from the
// resolved configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg := resolvedCfg
	logger := buildLogger()
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Checkpoint.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	objects, err := objstore.New(ctx, objstore.Options{
		Region:       cfg.ObjectStore.Region,
		Endpoint:     cfg.ObjectStore.Endpoint,
		UsePathStyle: cfg.ObjectStore.UsePathStyle,
	}, logger)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	var client extractapi.Extractor
	if extractapi.UseMockFromEnv() {
		logger.Warn("using mock extraction client")

		client = &extractapi.Mock{}
	} else {
		client = extractapi.New(cfg.Extraction.BaseURL, extractapi.CredentialsFromEnv(),
			cfg.ExtractionTimeout(), logger)
	}

	engine := syncer.New(objects, st, cfg.Staging.Dir, logger)
	runner := syncer.NewRunner(engine, st, logger)
	extractEngine := extractor.New(client, st, nil, logger)

	buckets := make([]syncer.Bucket, 0, len(cfg.Buckets))
	for _, b := range cfg.Buckets {
		buckets = append(buckets, syncer.Bucket{
			Bucket:    b.Bucket,
			Prefix:    b.Prefix,
			Tenant:    b.Tenant,
			Purchaser: b.Purchaser,
		})
	}

	coord := workflow.New(st, runner, extractEngine, nil, buckets, cfg.Staging.Dir, logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		coord:  coord,
	}, nil
}

// Close releases the app's resources. Safe to call more than once.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
