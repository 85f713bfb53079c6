// Package main provides the argo-sentry CLI for rendering and diffing
// Argo CD application manifests.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nathantilsley/argo-sentry/internal/platform/config"
	"github.com/nathantilsley/argo-sentry/internal/platform/telemetry"
	helmcli "github.com/nathantilsley/argo-sentry/internal/render/adapters/helm_cli"
	keyringcreds "github.com/nathantilsley/argo-sentry/internal/render/adapters/keyring_creds"
	kustomizecli "github.com/nathantilsley/argo-sentry/internal/render/adapters/kustomize_cli"
	objectstore "github.com/nathantilsley/argo-sentry/internal/render/adapters/object_store"
	"github.com/nathantilsley/argo-sentry/internal/render/app"
	"github.com/nathantilsley/argo-sentry/internal/render/diff"
	"github.com/nathantilsley/argo-sentry/internal/render/parser"
	"github.com/nathantilsley/argo-sentry/internal/render/ports"
	"github.com/nathantilsley/argo-sentry/internal/render/resolver"
)

// Container holds all application dependencies.
type Container struct {
	Config   config.Config
	Logger   *slog.Logger
	Parser   *parser.Parser
	Store    ports.ObjectStore
	Resolver *resolver.Resolver
	Service  *app.Service
}

// NewContainer builds and wires all dependencies.
func NewContainer(cfg config.Config, log *slog.Logger, tel *telemetry.Telemetry) (*Container, error) {
	helm, err := helmcli.New(log)
	if err != nil {
		return nil, fmt.Errorf("creating helm adapter: %w", err)
	}
	kustomize, err := kustomizecli.New()
	if err != nil {
		return nil, fmt.Errorf("creating kustomize adapter: %w", err)
	}

	store, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}

	creds := keyringcreds.New(log)
	chartsDir := cfg.ChartsDir
	if !filepath.IsAbs(chartsDir) {
		chartsDir = filepath.Join(cfg.RepoRoot, chartsDir)
	}
	res := resolver.New(helm, creds, store, chartsDir, log)

	p := &parser.Parser{
		RepoRoot:    cfg.RepoRoot,
		ChartExists: res.ChartExists,
	}

	service := app.NewService(p, res, helm, kustomize, store, diff.New(), app.Options{
		RepoRoot: cfg.RepoRoot,
		MaxDepth: cfg.MaxDepth,
		Workers:  cfg.Workers,
		Meter:    tel.Meter,
		Tracer:   tel.Tracer,
	}, log)

	return &Container{
		Config:   cfg,
		Logger:   log,
		Parser:   p,
		Store:    store,
		Resolver: res,
		Service:  service,
	}, nil
}

// newStore selects the manifest/chart-cache backend: S3-compatible when
// configured, a local directory when LOCAL_STORE_DIR is set, nil otherwise.
// With a nil store rendering still works but diff, push and list do not.
func newStore(cfg config.Config, log *slog.Logger) (ports.ObjectStore, error) {
	if cfg.HasStore() {
		store, err := objectstore.NewMinio(objectstore.MinioConfig{
			Endpoint:        cfg.StoreEndpoint,
			AccessKeyID:     cfg.StoreAccessKey,
			SecretAccessKey: cfg.StoreSecretKey,
			Secure:          cfg.StoreSecure,
			Bucket:          cfg.StoreBucket,
			Prefix:          cfg.StorePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("creating object store: %w", err)
		}
		log.Info("using S3-compatible manifest store",
			"endpoint", cfg.StoreEndpoint, "bucket", cfg.StoreBucket)
		return store, nil
	}

	if dir := os.Getenv("LOCAL_STORE_DIR"); dir != "" {
		log.Info("using local manifest store", "dir", dir)
		return objectstore.NewLocal(dir), nil
	}

	log.Info("no manifest store configured, diff and push unavailable")
	return nil, nil
}
