// Package resolver obtains a local filesystem path to the chart an
// application renders from: local chart copy, content-addressed cache
// fetch, OCI pull, or traditional Helm-repository pull.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
	"github.com/nathantilsley/argo-sentry/internal/render/ports"
)

// ociRegistryIndicators mark hosts that serve charts over the OCI protocol.
var ociRegistryIndicators = []string{
	"ghcr.io",
	"gcr.io",
	"azurecr.io",
	"dkr.ecr.",
	"pkg.dev",
	"docker.io",
	"registry.io",
	"quay.io",
}

// traditionalRepoIndicators take precedence over the OCI heuristics: these
// hosts serve classic index.yaml repositories even when they look like
// container registries.
var traditionalRepoIndicators = []string{
	"github.io",
	"charts.",
	"/charts",
	"/helm",
	"hub.jupyter.org",
	"tigera.io",
}

// Resolver implements ports.ChartResolver.
type Resolver struct {
	helm      ports.HelmPort
	creds     ports.CredentialProvider
	cache     ports.ObjectStore // nil disables the chart cache
	chartsDir string            // local charts root
	logger    *slog.Logger
}

// New creates a resolver. cache may be nil when no object store is
// configured; creds may be nil for anonymous registries.
func New(helm ports.HelmPort, creds ports.CredentialProvider, cache ports.ObjectStore, chartsDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Resolver{
		helm:      helm,
		creds:     creds,
		cache:     cache,
		chartsDir: chartsDir,
		logger:    logger,
	}
}

// ChartPath returns the on-disk path of a local chart by name.
func (r *Resolver) ChartPath(name string) string {
	return filepath.Join(r.chartsDir, name)
}

// ChartExists probes whether a local chart directory exists.
func (r *Resolver) ChartExists(name string) bool {
	if name == "" {
		return false
	}
	info, err := os.Stat(r.ChartPath(name))
	return err == nil && info.IsDir()
}

// ListChartVersions lists the published versions of the application's
// chart, newest first. Only traditional repositories can be searched: helm
// has no version listing for OCI registries.
func (r *Resolver) ListChartVersions(ctx context.Context, app domain.ApplicationDescriptor) ([]string, error) {
	if app.ChartName == "" {
		return nil, &domain.ResolutionError{App: app.Name, Reason: "application has no chart source"}
	}
	if isOCIRegistry(app.ChartRepo) {
		return nil, &domain.ResolutionError{
			App:    app.Name,
			Reason: fmt.Sprintf("version listing is not supported for OCI registry %s", app.ChartRepo),
		}
	}

	versions, err := r.helm.SearchVersions(ctx, app.ChartRepo, app.ChartName)
	if err != nil {
		return nil, &domain.ResolutionError{App: app.Name, Reason: "searching chart versions", Err: err}
	}
	return versions, nil
}

// Resolve returns a chart directory inside workDir ready for rendering.
// workDir is private to this call; concurrent siblings never share it.
func (r *Resolver) Resolve(ctx context.Context, app domain.ApplicationDescriptor, workDir string) (string, string, error) {
	if !app.IsLocalChart {
		return r.resolveExternal(ctx, app, workDir)
	}

	localPath := r.ChartPath(app.ChartName)
	localVersion := localChartVersion(localPath)

	// Local charts are only used as-is when the pinned version matches
	// what is on disk; otherwise the pinned version is pulled like any
	// external chart. Local charts are never pulled from a registry.
	if localVersion == app.ChartVersion {
		return r.resolveLocal(ctx, app, workDir, localPath, localVersion)
	}
	return r.resolveVersioned(ctx, app, workDir)
}

func (r *Resolver) resolveLocal(ctx context.Context, app domain.ApplicationDescriptor, workDir, localPath, localVersion string) (string, string, error) {
	chartDir := filepath.Join(workDir, app.ChartName)
	if err := copyDir(localPath, chartDir); err != nil {
		return "", "", &domain.ResolutionError{App: app.Name, Reason: "copying local chart", Err: err}
	}

	// file:// chart dependencies resolve relative to the chart, so they
	// must be copied alongside it to preserve the repository layout.
	if err := r.copyFileDependencies(chartDir, workDir); err != nil {
		return "", "", &domain.ResolutionError{App: app.Name, Reason: "copying file dependencies", Err: err}
	}

	if !hasPackagedDependencies(chartDir) {
		if err := r.helm.DependencyBuild(ctx, chartDir); err != nil {
			return "", "", &domain.ResolutionError{App: app.Name, Reason: "building dependencies", Err: err}
		}
	}

	return chartDir, fmt.Sprintf("using local chart (v%s)", localVersion), nil
}

func (r *Resolver) resolveExternal(ctx context.Context, app domain.ApplicationDescriptor, workDir string) (string, string, error) {
	if dir, msg, ok, err := r.fromCache(ctx, app, workDir); err != nil {
		return "", "", err
	} else if ok {
		return dir, msg, nil
	}

	var dir string
	var err error
	var pullType string
	if isOCIRegistry(app.ChartRepo) {
		dir, err = r.pullOCI(ctx, app, app.ChartName, workDir)
		pullType = "OCI"
	} else {
		dir, err = r.helm.Pull(ctx, ports.PullOptions{
			RepoURL:   app.ChartRepo,
			ChartName: app.ChartName,
			Version:   app.ChartVersion,
			DestDir:   workDir,
		})
		pullType = "Helm repo"
	}
	if err != nil {
		return "", "", &domain.ResolutionError{App: app.Name, Reason: "pulling chart", Err: err}
	}

	r.cacheChart(ctx, app.ChartName, app.ChartVersion, dir)
	return dir, fmt.Sprintf("chart pulled from %s (v%s)", pullType, app.ChartVersion), nil
}

// resolveVersioned handles a local chart pinned to a version different from
// the on-disk copy: the pinned version comes from the cache or the OCI
// registry under the chart's OCI name.
func (r *Resolver) resolveVersioned(ctx context.Context, app domain.ApplicationDescriptor, workDir string) (string, string, error) {
	if dir, msg, ok, err := r.fromCache(ctx, app, workDir); err != nil {
		return "", "", err
	} else if ok {
		return dir, msg, nil
	}

	dir, err := r.pullOCI(ctx, app, app.OCIChart(), workDir)
	if err != nil {
		return "", "", &domain.ResolutionError{App: app.Name, Reason: "pulling pinned version", Err: err}
	}

	r.cacheChart(ctx, app.ChartName, app.ChartVersion, dir)
	return dir, fmt.Sprintf("chart pulled from OCI (v%s)", app.ChartVersion), nil
}

func (r *Resolver) pullOCI(ctx context.Context, app domain.ApplicationDescriptor, chartName, destDir string) (string, error) {
	r.ensureRegistryAuth(ctx, app.ChartRepo)
	return r.helm.Pull(ctx, ports.PullOptions{
		RepoURL:   app.ChartRepo,
		ChartName: chartName,
		Version:   app.ChartVersion,
		DestDir:   destDir,
		OCI:       true,
	})
}

// ensureRegistryAuth performs a registry login side effect before pulling.
// Missing credentials mean anonymous access; a failed login is logged and
// the pull proceeds, surfacing the real error.
func (r *Resolver) ensureRegistryAuth(ctx context.Context, registryURL string) {
	if r.creds == nil {
		return
	}
	username, password, err := r.creds.Resolve(registryURL)
	if err != nil || username == "" || password == "" {
		return
	}
	registry := registryHost(registryURL)
	if err := r.helm.RegistryLogin(ctx, registry, username, password); err != nil {
		r.logger.Warn("registry login failed", "registry", registry, "error", err)
	}
}

// fromCache attempts a cache hit. Returns ok=false on miss or any cache
// failure other than auth expiry, which propagates.
func (r *Resolver) fromCache(ctx context.Context, app domain.ApplicationDescriptor, workDir string) (string, string, bool, error) {
	if r.cache == nil {
		return "", "", false, nil
	}
	dir, err := downloadCachedChart(ctx, r.cache, app.ChartName, app.ChartVersion, workDir)
	if err != nil {
		if domain.IsAuthExpired(err) {
			return "", "", false, err
		}
		r.logger.Debug("chart cache miss", "chart", app.ChartName, "version", app.ChartVersion, "error", err)
		return "", "", false, nil
	}
	return dir, fmt.Sprintf("chart loaded from cache (v%s)", app.ChartVersion), true, nil
}

// cacheChart uploads a freshly pulled chart, best effort: failures here
// never block rendering.
func (r *Resolver) cacheChart(ctx context.Context, chartName, version, chartDir string) {
	if r.cache == nil {
		return
	}
	if err := uploadChartToCache(ctx, r.cache, chartName, version, chartDir); err != nil {
		r.logger.Warn("chart cache upload failed", "chart", chartName, "version", version, "error", err)
	}
}

// copyFileDependencies copies file:// dependencies named in Chart.yaml next
// to the copied chart, recursing into each dependency's own dependencies.
func (r *Resolver) copyFileDependencies(chartDir, workDir string) error {
	meta, err := readChartMeta(filepath.Join(chartDir, "Chart.yaml"))
	if err != nil {
		return nil // no Chart.yaml or unreadable, nothing to copy
	}

	for _, dep := range meta.Dependencies {
		if !strings.HasPrefix(dep.Repository, "file://") {
			continue
		}
		relPath := strings.TrimPrefix(dep.Repository, "file://")
		source := filepath.Join(r.chartsDir, filepath.Base(chartDir), relPath)
		source = filepath.Clean(source)

		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			continue
		}

		dest := filepath.Join(workDir, filepath.Base(source))
		if _, err := os.Stat(dest); err == nil {
			continue // already copied by a sibling dependency
		}
		if err := copyDir(source, dest); err != nil {
			return err
		}
		if err := r.copyFileDependencies(dest, workDir); err != nil {
			return err
		}
	}
	return nil
}

type chartMeta struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Dependencies []struct {
		Name       string `yaml:"name"`
		Repository string `yaml:"repository"`
	} `yaml:"dependencies"`
}

func readChartMeta(path string) (*chartMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta chartMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// localChartVersion reads the version from a chart's Chart.yaml, empty when
// absent or unreadable.
func localChartVersion(chartPath string) string {
	meta, err := readChartMeta(filepath.Join(chartPath, "Chart.yaml"))
	if err != nil {
		return ""
	}
	return meta.Version
}

// hasPackagedDependencies reports whether dependency archives are already
// vendored under charts/, making a dependency build unnecessary.
func hasPackagedDependencies(chartPath string) bool {
	matches, err := filepath.Glob(filepath.Join(chartPath, "charts", "*.tgz"))
	return err == nil && len(matches) > 0
}

// isOCIRegistry classifies a chart repository URL. The explicit oci://
// scheme always wins; otherwise traditional-repository host fragments take
// precedence over OCI registry fragments.
func isOCIRegistry(repoURL string) bool {
	lower := strings.ToLower(repoURL)
	if strings.HasPrefix(lower, "oci://") {
		return true
	}
	for _, indicator := range traditionalRepoIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}
	for _, indicator := range ociRegistryIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func registryHost(registryURL string) string {
	host := strings.TrimPrefix(registryURL, "oci://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
