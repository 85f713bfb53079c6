package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathantilsley/argo-sentry/internal/platform/logger"
	helmcli "github.com/nathantilsley/argo-sentry/internal/render/adapters/helm_cli"
	objectstore "github.com/nathantilsley/argo-sentry/internal/render/adapters/object_store"
	"github.com/nathantilsley/argo-sentry/internal/render/app"
	"github.com/nathantilsley/argo-sentry/internal/render/diff"
	"github.com/nathantilsley/argo-sentry/internal/render/domain"
	"github.com/nathantilsley/argo-sentry/internal/render/parser"
	"github.com/nathantilsley/argo-sentry/internal/render/resolver"
)

// TestE2E_RenderPushDiff exercises the full workflow against a real helm
// binary: render a local chart, push the baseline, diff clean, change a
// values file, diff again.
// Requires: E2E_TEST=true and helm on PATH.
func TestE2E_RenderPushDiff(t *testing.T) {
	if os.Getenv("E2E_TEST") != "true" {
		t.Skip("Skipping E2E test. Set E2E_TEST=true to run.")
	}
	if _, err := exec.LookPath("helm"); err != nil {
		t.Skip("helm binary not found on PATH")
	}

	ctx := context.Background()
	repoRoot := setupGitOpsRepo(t)
	log := logger.NewWithWriter(testWriter{t}, "debug")

	helm, err := helmcli.New(log)
	if err != nil {
		t.Fatalf("creating helm adapter: %s", err)
	}

	store := objectstore.NewLocal(t.TempDir())
	res := resolver.New(helm, nil, store, filepath.Join(repoRoot, "charts"), log)
	p := &parser.Parser{RepoRoot: repoRoot, ChartExists: res.ChartExists}

	svc := app.NewService(p, res, helm, nil, store, diff.New(), app.Options{
		RepoRoot: repoRoot,
		Workers:  2,
	}, log)

	descriptor, ok := p.ParseFile(filepath.Join(repoRoot, "apps", "web.yaml"))
	if !ok {
		t.Fatal("descriptor did not parse")
	}
	if !descriptor.IsLocalChart {
		t.Fatal("descriptor should resolve to the local chart")
	}
	apps := []domain.ApplicationDescriptor{descriptor}

	// Render standalone first.
	outputDir := t.TempDir()
	result, err := svc.Render(ctx, descriptor, outputDir)
	if err != nil {
		t.Fatalf("Render() error: %s", err)
	}
	if result.ResourceCount == 0 {
		t.Fatal("Render() produced no resources")
	}
	combined, err := os.ReadFile(filepath.Join(outputDir, "_all.yaml"))
	if err != nil {
		t.Fatalf("combined output missing: %s", err)
	}
	if !strings.Contains(string(combined), "replicas: 2") {
		t.Errorf("values file not applied:\n%s", combined)
	}

	// Push the baseline.
	if _, err := svc.Push(ctx, "dev", apps, "main", "e2e", false); err != nil {
		t.Fatalf("Push() error: %s", err)
	}

	// A clean diff right after pushing, against the ref-scoped baseline.
	results, err := svc.DiffApps(ctx, "dev", apps, "main", false)
	if err != nil {
		t.Fatalf("DiffApps() error: %s", err)
	}
	if results[0].Status() != domain.StatusSuccess {
		t.Fatalf("diff after push = %v: %s%s", results[0].Status(), results[0].Error, results[0].DiffContent)
	}

	// Change the values file and expect the diff to show it.
	valuesPath := filepath.Join(repoRoot, "kubernetes", "web", "values-dev.yaml")
	if err := os.WriteFile(valuesPath, []byte("replicaCount: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err = svc.DiffApps(ctx, "dev", apps, "main", false)
	if err != nil {
		t.Fatalf("DiffApps() after change error: %s", err)
	}
	if results[0].Status() != domain.StatusChanges {
		t.Fatalf("diff after change = %v, want changes", results[0].Status())
	}
	if !strings.Contains(results[0].DiffContent, "replicas") {
		t.Errorf("diff content missing replica change:\n%s", results[0].DiffContent)
	}
}

// setupGitOpsRepo lays out a minimal repository: one local chart, one values
// file, one Application descriptor pinned to the local chart version.
func setupGitOpsRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"charts/web/Chart.yaml": "apiVersion: v2\nname: web\nversion: 0.1.0\n",
		"charts/web/values.yaml": "replicaCount: 1\n",
		"charts/web/templates/deployment.yaml": `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Release.Name }}
spec:
  replicas: {{ .Values.replicaCount }}
`,
		"kubernetes/web/values-dev.yaml": "replicaCount: 2\n",
		"apps/web.yaml": `apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: web
spec:
  destination:
    namespace: web-ns
  source:
    repoURL: https://charts.example.com
    chart: web
    targetRevision: 0.1.0
    helm:
      valueFiles:
        - kubernetes/web/values-dev.yaml
`,
	}

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
