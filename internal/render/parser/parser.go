// Package parser extracts Application and ApplicationSet descriptors from
// YAML manifest streams and expands ApplicationSet list generators.
package parser

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

const argoAPIGroup = "argoproj.io"

const (
	kindApplication    = "Application"
	kindApplicationSet = "ApplicationSet"
)

// Parser turns YAML text into descriptors. RepoRoot anchors relative source
// paths for filesystem classification; ChartExists probes for local charts
// by name and may be nil when the repository carries none.
type Parser struct {
	RepoRoot    string
	ChartExists func(name string) bool
}

// FindApplication returns the first Application document in the text, or
// (zero, false) when the text is malformed or contains none. Absence is a
// no-op signal for callers, not an error.
func (p *Parser) FindApplication(text string) (domain.ApplicationDescriptor, bool) {
	for _, doc := range decodeAll(text) {
		if isArgoKind(doc, kindApplication) {
			return p.parseApplication(doc, "")
		}
	}
	return domain.ApplicationDescriptor{}, false
}

// FindApplicationSet returns the first ApplicationSet document in the text,
// or (zero, false) when the text is malformed or contains none.
func (p *Parser) FindApplicationSet(text, sourceFile string) (domain.ApplicationSetDescriptor, bool) {
	for _, doc := range decodeAll(text) {
		if isArgoKind(doc, kindApplicationSet) {
			return parseApplicationSet(doc, sourceFile), true
		}
	}
	return domain.ApplicationSetDescriptor{}, false
}

// ParseFile reads a descriptor file and returns its Application, if any.
func (p *Parser) ParseFile(path string) (domain.ApplicationDescriptor, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ApplicationDescriptor{}, false
	}
	for _, doc := range decodeAll(string(data)) {
		if isArgoKind(doc, kindApplication) {
			return p.parseApplication(doc, path)
		}
	}
	return domain.ApplicationDescriptor{}, false
}

// ExtractResources scans a rendered manifest stream for nested Application
// and ApplicationSet documents. Used for recursive app-of-apps expansion.
// A stream that fails to parse yields empty slices.
func (p *Parser) ExtractResources(text, sourceFile string) ([]domain.ApplicationDescriptor, []domain.ApplicationSetDescriptor) {
	var apps []domain.ApplicationDescriptor
	var appsets []domain.ApplicationSetDescriptor

	for _, doc := range decodeAll(text) {
		switch {
		case isArgoKind(doc, kindApplication):
			if app, ok := p.parseApplication(doc, sourceFile); ok {
				apps = append(apps, app)
			}
		case isArgoKind(doc, kindApplicationSet):
			appsets = append(appsets, parseApplicationSet(doc, sourceFile))
		}
	}
	return apps, appsets
}

// parseApplication builds a descriptor from one Application document.
// Returns false when the document names no renderable source.
func (p *Parser) parseApplication(doc map[string]any, sourceFile string) (domain.ApplicationDescriptor, bool) {
	metadata := getMap(doc, "metadata")
	spec := getMap(doc, "spec")

	name := getString(metadata, "name")
	destination := getMap(spec, "destination")
	namespace := getString(destination, "namespace")
	if namespace == "" {
		namespace = "default"
	}

	sources := collectSources(spec)
	if len(sources) == 0 {
		return domain.ApplicationDescriptor{}, false
	}

	var helmSource map[string]any
	var kustomizePath, plainPath string

	for _, src := range sources {
		if _, ok := src["chart"]; ok {
			if helmSource == nil {
				helmSource = src
			}
			continue
		}
		path := getString(src, "path")
		if path == "" || getString(src, "ref") != "" {
			continue
		}
		if p.isKustomizeDir(path) {
			if kustomizePath == "" {
				kustomizePath = path
			}
		} else if plainPath == "" {
			plainPath = path
		}
	}

	if helmSource == nil && kustomizePath == "" && plainPath == "" {
		return domain.ApplicationDescriptor{}, false
	}

	app := domain.ApplicationDescriptor{
		Name:               name,
		Namespace:          namespace,
		ReleaseName:        name,
		IsKustomize:        kustomizePath != "",
		KustomizePath:      kustomizePath,
		PlainManifestsPath: plainPath,
		SourceFile:         sourceFile,
	}

	if helmSource != nil {
		chart := getString(helmSource, "chart")
		app.ChartRepo = getString(helmSource, "repoURL")
		app.ChartVersion = getString(helmSource, "targetRevision")
		if app.ChartVersion == "" {
			app.ChartVersion = "latest"
		}

		helm := getMap(helmSource, "helm")
		if rn := getString(helm, "releaseName"); rn != "" {
			app.ReleaseName = rn
		}
		app.ValuesFiles = extractValuesFiles(helm)
		app.ValuesObject = getMap(helm, "valuesObject")

		localName := localChartName(chart)
		isLocal := chart != "" && p.ChartExists != nil && p.ChartExists(localName)
		app.IsLocalChart = isLocal
		app.OCIChartName = chart
		if isLocal {
			app.ChartName = localName
		} else {
			app.ChartName = chart
		}
	}

	return app, true
}

func parseApplicationSet(doc map[string]any, sourceFile string) domain.ApplicationSetDescriptor {
	metadata := getMap(doc, "metadata")
	spec := getMap(doc, "spec")

	name := getString(metadata, "name")
	namespace := getString(metadata, "namespace")
	if namespace == "" {
		namespace = "argocd"
	}

	var elements []domain.GeneratorElement
	for _, gen := range getSlice(spec, "generators") {
		genMap, ok := gen.(map[string]any)
		if !ok {
			continue
		}
		listGen := getMap(genMap, "list")
		if listGen == nil {
			continue
		}
		for _, raw := range getSlice(listGen, "elements") {
			elem, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			wave := getString(elem, "wave")
			if wave == "" {
				wave = "0"
			}
			elements = append(elements, domain.GeneratorElement{
				Name:        getString(elem, "name"),
				Origin:      getString(elem, "origin"),
				Version:     getString(elem, "version"),
				ValuesFile:  getString(elem, "valuesFile"),
				Wave:        wave,
				DependsOn:   getString(elem, "dependsOn"),
				ExtraFields: elem,
			})
		}
	}

	templateSpec := getMap(getMap(spec, "template"), "spec")

	destination := getMap(templateSpec, "destination")
	destServer := getString(destination, "server")
	if destServer == "" {
		destServer = "https://kubernetes.default.svc"
	}
	destNamespace := getString(destination, "namespace")
	if destNamespace == "" {
		destNamespace = "default"
	}

	var chartRepo string
	var valuesOverlay map[string]any
	for _, raw := range getSlice(templateSpec, "sources") {
		src, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, hasChart := src["chart"]; hasChart {
			chartRepo = getString(src, "repoURL")
			valuesOverlay = getMap(getMap(src, "helm"), "valuesObject")
			break
		}
	}

	return domain.ApplicationSetDescriptor{
		Name:                 name,
		Namespace:            namespace,
		ChartRepo:            chartRepo,
		DestinationServer:    destServer,
		DestinationNamespace: destNamespace,
		GeneratorElements:    elements,
		TemplateSpec:         templateSpec,
		ValuesOverlay:        valuesOverlay,
		SourceFile:           sourceFile,
	}
}

// collectSources normalizes spec.source into a one-element sequence when
// spec.sources is absent.
func collectSources(spec map[string]any) []map[string]any {
	var out []map[string]any
	for _, raw := range getSlice(spec, "sources") {
		if m, ok := raw.(map[string]any); ok {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		if single := getMap(spec, "source"); single != nil {
			out = append(out, single)
		}
	}
	return out
}

// extractValuesFiles strips Argo's $values/ multi-source path alias.
func extractValuesFiles(helm map[string]any) []string {
	raw := getSlice(helm, "valueFiles")
	if len(raw) == 0 {
		return nil
	}
	files := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		files = append(files, strings.TrimPrefix(s, "$values/"))
	}
	return files
}

// isKustomizeDir reports whether the path (relative to the repo root unless
// absolute) contains a kustomization file.
func (p *Parser) isKustomizeDir(path string) bool {
	dir := path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RepoRoot, path)
	}
	for _, name := range []string{"kustomization.yaml", "kustomization.yml", "Kustomization"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func localChartName(chart string) string {
	if idx := strings.LastIndex(chart, "/"); idx >= 0 {
		return chart[idx+1:]
	}
	return chart
}

// decodeAll decodes a ----separated stream into generic documents. Malformed
// YAML terminates decoding; documents read before the error are kept.
func decodeAll(text string) []map[string]any {
	dec := yaml.NewDecoder(strings.NewReader(text))
	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs
}

func isArgoKind(doc map[string]any, kind string) bool {
	return getString(doc, "kind") == kind &&
		strings.Contains(getString(doc, "apiVersion"), argoAPIGroup)
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}
