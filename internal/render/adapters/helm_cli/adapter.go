// Package helmcli implements ports.HelmPort by shelling out to the helm CLI.
package helmcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nathantilsley/argo-sentry/internal/render/ports"
)

// Adapter wraps the helm binary.
type Adapter struct {
	helmBin string
	logger  *slog.Logger
}

// New creates a helm adapter. It verifies that the helm binary is available
// on PATH at construction time.
func New(logger *slog.Logger) (*Adapter, error) {
	helmBin, err := exec.LookPath("helm")
	if err != nil {
		return nil, fmt.Errorf("helm binary not found: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Adapter{helmBin: helmBin, logger: logger}, nil
}

// Template runs `helm template` and returns the rendered manifest bytes.
func (a *Adapter) Template(ctx context.Context, opts ports.TemplateOptions) ([]byte, error) {
	args := []string{
		"template", opts.ReleaseName, opts.ChartDir,
		"--namespace", opts.Namespace,
		"--skip-schema-validation",
	}
	for _, vf := range opts.ValuesFiles {
		args = append(args, "--values", vf)
	}
	if opts.IncludeCRDs {
		args = append(args, "--include-crds")
	}

	a.logger.Debug("running helm template", "release", opts.ReleaseName, "chartDir", opts.ChartDir, "valuesFiles", opts.ValuesFiles)

	cmd := exec.CommandContext(ctx, a.helmBin, args...)
	cmd.Dir = opts.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("helm template failed: %w\nstderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// DependencyBuild runs `helm dependency build` on a chart directory.
func (a *Adapter) DependencyBuild(ctx context.Context, chartDir string) error {
	cmd := exec.CommandContext(ctx, a.helmBin, "dependency", "build", chartDir)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helm dependency build failed: %w\nstderr: %s", err, stderr.String())
	}
	return nil
}

// RegistryLogin authenticates against an OCI registry. The password is
// passed on stdin so it never appears in the process list.
func (a *Adapter) RegistryLogin(ctx context.Context, registry, username, password string) error {
	cmd := exec.CommandContext(ctx, a.helmBin,
		"registry", "login", registry,
		"--username", username,
		"--password-stdin",
	)
	cmd.Stdin = strings.NewReader(password)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helm registry login failed for %s: %w\nstderr: %s", registry, err, stderr.String())
	}
	return nil
}

// Pull downloads and untars a chart, returning the extracted directory.
func (a *Adapter) Pull(ctx context.Context, opts ports.PullOptions) (string, error) {
	if opts.OCI {
		return a.pullOCI(ctx, opts)
	}
	return a.pullTraditional(ctx, opts)
}

func (a *Adapter) pullOCI(ctx context.Context, opts ports.PullOptions) (string, error) {
	ociURL := opts.RepoURL
	if !strings.HasPrefix(ociURL, "oci://") {
		ociURL = "oci://" + ociURL
	}
	ociURL = strings.TrimSuffix(ociURL, "/") + "/" + opts.ChartName

	cmd := exec.CommandContext(ctx, a.helmBin,
		"pull", ociURL,
		"--version", opts.Version,
		"--destination", opts.DestDir,
		"--untar",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("helm pull %s failed: %w\nstderr: %s", ociURL, err, stderr.String())
	}
	return findExtractedChart(opts.DestDir, opts.ChartName)
}

// pullTraditional registers a uniquely named repository against an isolated
// repository-index/cache directory, never the shared user-level helm state,
// so concurrent sibling pulls cannot corrupt each other's indexes.
func (a *Adapter) pullTraditional(ctx context.Context, opts ports.PullOptions) (string, error) {
	configDir, err := os.MkdirTemp("", "argo-sentry-helm-*")
	if err != nil {
		return "", fmt.Errorf("creating isolated helm config dir: %w", err)
	}
	defer os.RemoveAll(configDir)

	repoName := "argo-sentry-" + filepath.Base(configDir)
	env := append(os.Environ(),
		"HELM_REPOSITORY_CONFIG="+filepath.Join(configDir, "repositories.yaml"),
		"HELM_REPOSITORY_CACHE="+filepath.Join(configDir, "cache"),
	)

	if err := a.runWithEnv(ctx, env, "repo", "add", repoName, opts.RepoURL); err != nil {
		return "", fmt.Errorf("adding helm repo %s: %w", opts.RepoURL, err)
	}
	// Not fatal: pull falls back to the index written by repo add.
	if err := a.runWithEnv(ctx, env, "repo", "update", repoName); err != nil {
		a.logger.Warn("helm repo update failed", "repo", opts.RepoURL, "error", err)
	}

	err = a.runWithEnv(ctx, env,
		"pull", repoName+"/"+opts.ChartName,
		"--version", opts.Version,
		"--destination", opts.DestDir,
		"--untar",
	)
	if err != nil {
		return "", fmt.Errorf("pulling %s from %s: %w", opts.ChartName, opts.RepoURL, err)
	}
	return findExtractedChart(opts.DestDir, opts.ChartName)
}

// SearchVersions runs `helm search repo --versions -o json` against an
// isolated repository registration and returns the chart's versions in the
// order helm reports them, newest first.
func (a *Adapter) SearchVersions(ctx context.Context, repoURL, chartName string) ([]string, error) {
	configDir, err := os.MkdirTemp("", "argo-sentry-helm-*")
	if err != nil {
		return nil, fmt.Errorf("creating isolated helm config dir: %w", err)
	}
	defer os.RemoveAll(configDir)

	repoName := "argo-sentry-" + filepath.Base(configDir)
	env := append(os.Environ(),
		"HELM_REPOSITORY_CONFIG="+filepath.Join(configDir, "repositories.yaml"),
		"HELM_REPOSITORY_CACHE="+filepath.Join(configDir, "cache"),
	)

	if err := a.runWithEnv(ctx, env, "repo", "add", repoName, repoURL); err != nil {
		return nil, fmt.Errorf("adding helm repo %s: %w", repoURL, err)
	}

	cmd := exec.CommandContext(ctx, a.helmBin,
		"search", "repo", repoName+"/"+chartName,
		"--versions", "--output", "json",
	)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("helm search repo failed for %s: %w\nstderr: %s", chartName, err, stderr.String())
	}
	return parseSearchVersions(stdout.Bytes(), repoName+"/"+chartName)
}

// parseSearchVersions extracts the versions of exactly the requested chart.
// helm search matches by substring, so entries for similarly named charts
// are filtered out.
func parseSearchVersions(out []byte, fullName string) ([]string, error) {
	var entries []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("parsing helm search output: %w", err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.Name == fullName {
			versions = append(versions, entry.Version)
		}
	}
	return versions, nil
}

func (a *Adapter) runWithEnv(ctx context.Context, env []string, args ...string) error {
	cmd := exec.CommandContext(ctx, a.helmBin, args...)
	cmd.Env = env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helm %s: %w\nstderr: %s", strings.Join(args[:1], " "), err, stderr.String())
	}
	return nil
}

// findExtractedChart locates the untarred chart directory. Helm extracts to
// the chart's simple name, but some charts untar under a different top-level
// directory, so fall back to the first subdirectory.
func findExtractedChart(destDir, chartName string) (string, error) {
	simpleName := chartName
	if idx := strings.LastIndex(chartName, "/"); idx >= 0 {
		simpleName = chartName[idx+1:]
	}

	chartDir := filepath.Join(destDir, simpleName)
	if info, err := os.Stat(chartDir); err == nil && info.IsDir() {
		return chartDir, nil
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("reading pull destination %s: %w", destDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("chart extracted but directory not found in %s", destDir)
}
