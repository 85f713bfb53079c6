package domain

// ApplicationDescriptor is one deployable unit parsed from an Argo CD
// Application manifest. Any non-empty subset of {Helm chart, Kustomize
// overlay, plain manifests} may be populated at the same time; the render
// engine combines all populated sources.
type ApplicationDescriptor struct {
	Name        string
	Namespace   string
	ReleaseName string

	// Helm source (optional).
	ChartRepo    string
	ChartName    string
	OCIChartName string // defaults to ChartName when empty
	ChartVersion string

	ValuesFiles  []string       // ordered, relative to the repo root
	ValuesObject map[string]any // inline overrides, highest precedence

	IsLocalChart bool

	// Kustomize source (optional).
	IsKustomize   bool
	KustomizePath string

	// Plain-manifest source (optional).
	PlainManifestsPath string

	// SourceFile is the descriptor's origin path, kept for diagnostics.
	SourceFile string
}

// OCIChart returns the chart name to use for OCI pulls.
func (a ApplicationDescriptor) OCIChart() string {
	if a.OCIChartName != "" {
		return a.OCIChartName
	}
	return a.ChartName
}

// HasHelmSource reports whether a Helm chart source is populated.
func (a ApplicationDescriptor) HasHelmSource() bool {
	return a.ChartName != ""
}

// HasKustomizeSource reports whether a Kustomize overlay source is populated.
func (a ApplicationDescriptor) HasKustomizeSource() bool {
	return a.IsKustomize && a.KustomizePath != ""
}

// HasPlainSource reports whether a plain-manifest source is populated.
func (a ApplicationDescriptor) HasPlainSource() bool {
	return a.PlainManifestsPath != ""
}

// SourceCount returns the number of populated source kinds.
func (a ApplicationDescriptor) SourceCount() int {
	n := 0
	if a.HasHelmSource() {
		n++
	}
	if a.HasKustomizeSource() {
		n++
	}
	if a.HasPlainSource() {
		n++
	}
	return n
}

// GeneratorElement is one entry of an ApplicationSet list generator.
// Wave and DependsOn describe a declared ordering contract between sibling
// elements; the expansion engine does not currently enforce it.
type GeneratorElement struct {
	Name       string
	Origin     string // maps to the chart name
	Version    string
	ValuesFile string
	Wave       string // declared wave, "0" when unset
	DependsOn  string
	// ExtraFields carries the remaining element keys for template
	// substitution.
	ExtraFields map[string]any
}

// ApplicationSetDescriptor generates ApplicationDescriptors from a list
// generator and a shared template spec.
type ApplicationSetDescriptor struct {
	Name      string
	Namespace string
	ChartRepo string

	DestinationServer    string
	DestinationNamespace string

	GeneratorElements []GeneratorElement

	// TemplateSpec retains the raw template spec for values-overlay
	// extraction.
	TemplateSpec map[string]any
	// ValuesOverlay is applied to every expanded child.
	ValuesOverlay map[string]any

	SourceFile string
}

// ToApplications expands the generator elements into child application
// descriptors. chartExists probes whether a chart directory with the given
// name exists locally; nil means no local charts.
func (s ApplicationSetDescriptor) ToApplications(chartExists func(name string) bool) []ApplicationDescriptor {
	apps := make([]ApplicationDescriptor, 0, len(s.GeneratorElements))
	for _, elem := range s.GeneratorElements {
		origin := elem.Origin
		if v, ok := elem.ExtraFields["origin"].(string); ok && v != "" {
			origin = v
		}

		var valuesFiles []string
		if elem.ValuesFile != "" {
			valuesFiles = []string{"kubernetes/" + origin + "/" + elem.ValuesFile}
		}

		isLocal := chartExists != nil && chartExists(origin)

		apps = append(apps, ApplicationDescriptor{
			Name:         elem.Name,
			Namespace:    s.DestinationNamespace,
			ReleaseName:  elem.Name,
			ChartRepo:    s.ChartRepo,
			ChartName:    origin,
			OCIChartName: "helm-charts/" + origin,
			ChartVersion: elem.Version,
			ValuesFiles:  valuesFiles,
			ValuesObject: s.ValuesOverlay,
			IsLocalChart: isLocal,
			SourceFile:   s.SourceFile,
		})
	}
	return apps
}
