package parser

import (
	"testing"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

func TestResolveTemplateVars(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]any
		want     string
	}{
		{
			name:     "plain token",
			template: "name: {{name}}",
			vars:     map[string]any{"name": "redis"},
			want:     "name: redis",
		},
		{
			name:     "token with spaces",
			template: "version: {{ version }}",
			vars:     map[string]any{"version": "1.2.3"},
			want:     "version: 1.2.3",
		},
		{
			name:     "escaped brace idiom unwraps then resolves",
			template: "name: {{`{{`}}name{{`}}`}}",
			vars:     map[string]any{"name": "api"},
			want:     "name: api",
		},
		{
			name:     "unresolved token left verbatim",
			template: "name: {{unknown}}",
			vars:     map[string]any{"name": "redis"},
			want:     "name: {{unknown}}",
		},
		{
			name:     "non-string values formatted",
			template: "wave: {{wave}}",
			vars:     map[string]any{"wave": 2},
			want:     "wave: 2",
		},
		{
			name:     "multiple tokens",
			template: "{{name}}-{{version}}",
			vars:     map[string]any{"name": "redis", "version": "1.0"},
			want:     "redis-1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTemplateVars(tt.template, tt.vars)
			if got != tt.want {
				t.Errorf("ResolveTemplateVars() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandApplicationSet_ResolvesOverlayTokens(t *testing.T) {
	set := domain.ApplicationSetDescriptor{
		Name:                 "platform",
		ChartRepo:            "oci://ghcr.io/example",
		DestinationNamespace: "platform-ns",
		ValuesOverlay: map[string]any{
			"nameOverride": "{{name}}",
			"image":        map[string]any{"tag": "{{version}}"},
		},
		GeneratorElements: []domain.GeneratorElement{
			{
				Name:    "redis",
				Origin:  "redis",
				Version: "1.2.3",
				ExtraFields: map[string]any{
					"name": "redis", "origin": "redis", "version": "1.2.3",
				},
			},
			{
				Name:    "api",
				Origin:  "api",
				Version: "0.5.0",
				ExtraFields: map[string]any{
					"name": "api", "origin": "api", "version": "0.5.0",
				},
			},
		},
	}

	p := &Parser{}
	apps := p.ExpandApplicationSet(set)
	if len(apps) != 2 {
		t.Fatalf("ExpandApplicationSet() returned %d apps, want 2", len(apps))
	}

	if got := apps[0].ValuesObject["nameOverride"]; got != "redis" {
		t.Errorf("first child nameOverride = %v, want redis", got)
	}
	if got := apps[1].ValuesObject["nameOverride"]; got != "api" {
		t.Errorf("second child nameOverride = %v, want api", got)
	}
	image, _ := apps[1].ValuesObject["image"].(map[string]any)
	if image["tag"] != "0.5.0" {
		t.Errorf("second child image.tag = %v, want 0.5.0", image["tag"])
	}
}
