package domain

import (
	"reflect"
	"testing"
)

func TestApplicationDescriptor_OCIChart(t *testing.T) {
	tests := []struct {
		name string
		app  ApplicationDescriptor
		want string
	}{
		{
			name: "explicit OCI name",
			app:  ApplicationDescriptor{ChartName: "redis", OCIChartName: "helm-charts/redis"},
			want: "helm-charts/redis",
		},
		{
			name: "falls back to chart name",
			app:  ApplicationDescriptor{ChartName: "redis"},
			want: "redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.app.OCIChart(); got != tt.want {
				t.Errorf("OCIChart() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplicationDescriptor_SourceCount(t *testing.T) {
	tests := []struct {
		name string
		app  ApplicationDescriptor
		want int
	}{
		{name: "no sources", app: ApplicationDescriptor{}, want: 0},
		{name: "helm only", app: ApplicationDescriptor{ChartName: "redis"}, want: 1},
		{
			name: "kustomize needs both flag and path",
			app:  ApplicationDescriptor{IsKustomize: true},
			want: 0,
		},
		{
			name: "all three",
			app: ApplicationDescriptor{
				ChartName:          "redis",
				IsKustomize:        true,
				KustomizePath:      "overlays/dev",
				PlainManifestsPath: "manifests",
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.app.SourceCount(); got != tt.want {
				t.Errorf("SourceCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplicationSetDescriptor_ToApplications(t *testing.T) {
	set := ApplicationSetDescriptor{
		Name:                 "platform",
		Namespace:            "argocd",
		ChartRepo:            "https://ghcr.io/example",
		DestinationNamespace: "platform-ns",
		ValuesOverlay:        map[string]any{"global": map[string]any{"env": "dev"}},
		SourceFile:           "appset.yaml",
		GeneratorElements: []GeneratorElement{
			{Name: "redis", Origin: "redis", Version: "1.2.3", ValuesFile: "values-dev.yaml"},
			{
				Name:        "api",
				Origin:      "api",
				Version:     "0.5.0",
				ExtraFields: map[string]any{"origin": "api-chart"},
			},
		},
	}

	apps := set.ToApplications(func(name string) bool { return name == "redis" })

	if len(apps) != 2 {
		t.Fatalf("ToApplications() returned %d apps, want 2", len(apps))
	}

	redis := apps[0]
	if redis.Name != "redis" || redis.ReleaseName != "redis" {
		t.Errorf("redis app name/release = %q/%q, want redis/redis", redis.Name, redis.ReleaseName)
	}
	if redis.Namespace != "platform-ns" {
		t.Errorf("redis namespace = %q, want platform-ns", redis.Namespace)
	}
	if redis.OCIChartName != "helm-charts/redis" {
		t.Errorf("redis OCI chart = %q, want helm-charts/redis", redis.OCIChartName)
	}
	if !reflect.DeepEqual(redis.ValuesFiles, []string{"kubernetes/redis/values-dev.yaml"}) {
		t.Errorf("redis values files = %v", redis.ValuesFiles)
	}
	if !redis.IsLocalChart {
		t.Error("redis should be a local chart")
	}
	if redis.ValuesObject == nil {
		t.Error("values overlay not carried to child")
	}

	// The element's origin field overrides the chart name.
	api := apps[1]
	if api.ChartName != "api-chart" {
		t.Errorf("api chart name = %q, want api-chart", api.ChartName)
	}
	if api.OCIChartName != "helm-charts/api-chart" {
		t.Errorf("api OCI chart = %q, want helm-charts/api-chart", api.OCIChartName)
	}
	if api.IsLocalChart {
		t.Error("api should not be a local chart")
	}
	if len(api.ValuesFiles) != 0 {
		t.Errorf("api values files = %v, want none", api.ValuesFiles)
	}
}

func TestManifestRef_Key(t *testing.T) {
	tests := []struct {
		name string
		ref  ManifestRef
		want string
	}{
		{
			name: "baseline",
			ref:  ManifestRef{Env: "dev", AppName: "my-app"},
			want: "dev/my-app/_all.yaml",
		},
		{
			name: "ref scoped",
			ref:  ManifestRef{Env: "prod", AppName: "my-app", GitRef: "main"},
			want: "prod/my-app/main/_all.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ref.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChartRef_Key(t *testing.T) {
	ref := ChartRef{ChartName: "redis", Version: "1.2.3"}
	if got := ref.Key(); got != "_chart_cache/redis/1.2.3.tgz" {
		t.Errorf("Key() = %q, want _chart_cache/redis/1.2.3.tgz", got)
	}
}
