package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const helmAppYAML = `apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: my-app
spec:
  destination:
    server: https://kubernetes.default.svc
  source:
    repoURL: oci://ghcr.io/example
    chart: helm-charts/redis
    targetRevision: 1.2.3
    helm:
      releaseName: redis-dev
      valueFiles:
        - $values/kubernetes/redis/values-dev.yaml
      valuesObject:
        replicaCount: 3
`

func TestFindApplication_HelmSource(t *testing.T) {
	p := &Parser{}

	app, ok := p.FindApplication(helmAppYAML)
	if !ok {
		t.Fatal("FindApplication() returned false")
	}

	if app.Name != "my-app" {
		t.Errorf("Name = %q, want my-app", app.Name)
	}
	if app.Namespace != "default" {
		t.Errorf("Namespace = %q, want default (fallback)", app.Namespace)
	}
	if app.ReleaseName != "redis-dev" {
		t.Errorf("ReleaseName = %q, want redis-dev", app.ReleaseName)
	}
	if app.ChartRepo != "oci://ghcr.io/example" {
		t.Errorf("ChartRepo = %q", app.ChartRepo)
	}
	if app.ChartName != "helm-charts/redis" {
		t.Errorf("ChartName = %q, want helm-charts/redis", app.ChartName)
	}
	if app.ChartVersion != "1.2.3" {
		t.Errorf("ChartVersion = %q, want 1.2.3", app.ChartVersion)
	}
	if !reflect.DeepEqual(app.ValuesFiles, []string{"kubernetes/redis/values-dev.yaml"}) {
		t.Errorf("ValuesFiles = %v, want alias stripped", app.ValuesFiles)
	}
	if app.ValuesObject["replicaCount"] != 3 {
		t.Errorf("ValuesObject = %v", app.ValuesObject)
	}
	if app.IsLocalChart {
		t.Error("IsLocalChart = true without a chart probe")
	}
}

func TestFindApplication_LocalChart(t *testing.T) {
	p := &Parser{ChartExists: func(name string) bool { return name == "redis" }}

	app, ok := p.FindApplication(helmAppYAML)
	if !ok {
		t.Fatal("FindApplication() returned false")
	}
	if !app.IsLocalChart {
		t.Error("IsLocalChart = false, want local chart detected by trailing name")
	}
	if app.ChartName != "redis" {
		t.Errorf("ChartName = %q, want redis (local name)", app.ChartName)
	}
	if app.OCIChartName != "helm-charts/redis" {
		t.Errorf("OCIChartName = %q, want full registry path kept", app.OCIChartName)
	}
}

func TestFindApplication_VersionDefaultsToLatest(t *testing.T) {
	text := `apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: my-app
spec:
  source:
    chart: redis
    repoURL: https://charts.example.com
`
	p := &Parser{}
	app, ok := p.FindApplication(text)
	if !ok {
		t.Fatal("FindApplication() returned false")
	}
	if app.ChartVersion != "latest" {
		t.Errorf("ChartVersion = %q, want latest", app.ChartVersion)
	}
}

func TestFindApplication_MultiSource(t *testing.T) {
	root := t.TempDir()
	overlay := filepath.Join(root, "overlays", "dev")
	if err := os.MkdirAll(overlay, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(overlay, "kustomization.yaml"), []byte("resources: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "manifests"), 0o755); err != nil {
		t.Fatal(err)
	}

	text := `apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: multi
spec:
  destination:
    namespace: multi-ns
  sources:
    - repoURL: https://charts.example.com
      chart: redis
      targetRevision: 1.0.0
    - repoURL: https://github.com/example/repo
      path: overlays/dev
    - repoURL: https://github.com/example/repo
      path: manifests
    - repoURL: https://github.com/example/values
      ref: values
`
	p := &Parser{RepoRoot: root}
	app, ok := p.FindApplication(text)
	if !ok {
		t.Fatal("FindApplication() returned false")
	}

	if app.Namespace != "multi-ns" {
		t.Errorf("Namespace = %q, want multi-ns", app.Namespace)
	}
	if !app.HasHelmSource() {
		t.Error("helm source not detected")
	}
	if !app.HasKustomizeSource() || app.KustomizePath != "overlays/dev" {
		t.Errorf("kustomize source = %v %q, want overlays/dev", app.IsKustomize, app.KustomizePath)
	}
	if app.PlainManifestsPath != "manifests" {
		t.Errorf("PlainManifestsPath = %q, want manifests", app.PlainManifestsPath)
	}
	if app.SourceCount() != 3 {
		t.Errorf("SourceCount() = %d, want 3", app.SourceCount())
	}
}

func TestFindApplication_NoSource(t *testing.T) {
	text := `apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: empty
spec:
  destination:
    namespace: ns
`
	p := &Parser{}
	if _, ok := p.FindApplication(text); ok {
		t.Error("FindApplication() = true for an application without sources")
	}
}

func TestFindApplication_IgnoresOtherKinds(t *testing.T) {
	text := `apiVersion: apps/v1
kind: Deployment
metadata:
  name: not-an-app
`
	p := &Parser{}
	if _, ok := p.FindApplication(text); ok {
		t.Error("FindApplication() matched a non-Argo document")
	}
}

func TestFindApplicationSet(t *testing.T) {
	text := `apiVersion: argoproj.io/v1alpha1
kind: ApplicationSet
metadata:
  name: platform
spec:
  generators:
    - list:
        elements:
          - name: redis
            origin: redis
            version: 1.2.3
            valuesFile: values-dev.yaml
          - name: api
            origin: api
            version: 0.5.0
            wave: "2"
            dependsOn: redis
  template:
    spec:
      destination:
        namespace: platform-ns
      sources:
        - repoURL: oci://ghcr.io/example
          chart: placeholder
          helm:
            valuesObject:
              global:
                env: dev
`
	p := &Parser{}
	set, ok := p.FindApplicationSet(text, "appset.yaml")
	if !ok {
		t.Fatal("FindApplicationSet() returned false")
	}

	if set.Namespace != "argocd" {
		t.Errorf("Namespace = %q, want argocd (fallback)", set.Namespace)
	}
	if set.DestinationServer != "https://kubernetes.default.svc" {
		t.Errorf("DestinationServer = %q, want in-cluster default", set.DestinationServer)
	}
	if set.DestinationNamespace != "platform-ns" {
		t.Errorf("DestinationNamespace = %q, want platform-ns", set.DestinationNamespace)
	}
	if set.ChartRepo != "oci://ghcr.io/example" {
		t.Errorf("ChartRepo = %q", set.ChartRepo)
	}
	if set.ValuesOverlay == nil {
		t.Error("ValuesOverlay not extracted from template source")
	}

	if len(set.GeneratorElements) != 2 {
		t.Fatalf("GeneratorElements = %d, want 2", len(set.GeneratorElements))
	}
	if set.GeneratorElements[0].Wave != "0" {
		t.Errorf("unset wave = %q, want 0", set.GeneratorElements[0].Wave)
	}
	if set.GeneratorElements[1].Wave != "2" || set.GeneratorElements[1].DependsOn != "redis" {
		t.Errorf("element ordering fields = %q/%q, want 2/redis",
			set.GeneratorElements[1].Wave, set.GeneratorElements[1].DependsOn)
	}
}

func TestExtractResources(t *testing.T) {
	text := `apiVersion: apps/v1
kind: Deployment
metadata:
  name: unrelated
---
apiVersion: argoproj.io/v1alpha1
kind: Application
metadata:
  name: child-a
spec:
  source:
    chart: redis
    repoURL: https://charts.example.com
---
apiVersion: argoproj.io/v1alpha1
kind: ApplicationSet
metadata:
  name: child-set
spec:
  generators:
    - list:
        elements:
          - name: api
            origin: api
`
	p := &Parser{}
	apps, appsets := p.ExtractResources(text, "parent/_all.yaml")

	if len(apps) != 1 || apps[0].Name != "child-a" {
		t.Errorf("apps = %v, want one child-a", apps)
	}
	if len(appsets) != 1 || appsets[0].Name != "child-set" {
		t.Errorf("appsets = %v, want one child-set", appsets)
	}
	if apps[0].SourceFile != "parent/_all.yaml" {
		t.Errorf("SourceFile = %q, want parent/_all.yaml", apps[0].SourceFile)
	}
}

func TestExtractResources_MalformedStream(t *testing.T) {
	p := &Parser{}
	apps, appsets := p.ExtractResources("{{ not yaml", "broken.yaml")
	if len(apps) != 0 || len(appsets) != 0 {
		t.Errorf("malformed stream yielded %d apps, %d appsets, want none", len(apps), len(appsets))
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte(helmAppYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &Parser{}
	app, ok := p.ParseFile(path)
	if !ok {
		t.Fatal("ParseFile() returned false")
	}
	if app.SourceFile != path {
		t.Errorf("SourceFile = %q, want %q", app.SourceFile, path)
	}

	if _, ok := p.ParseFile(filepath.Join(dir, "missing.yaml")); ok {
		t.Error("ParseFile() = true for a missing file")
	}
}
