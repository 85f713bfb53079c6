package ports

import (
	"context"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

// TemplateOptions are the inputs to a helm template invocation.
type TemplateOptions struct {
	ReleaseName string
	ChartDir    string
	Namespace   string
	// ValuesFiles are absolute paths, passed in declaration order. Helm
	// applies them left to right so later files win.
	ValuesFiles []string
	IncludeCRDs bool
	// WorkDir is the working directory for the helm process (the repo
	// root, so relative chart references resolve).
	WorkDir string
}

// PullOptions are the inputs to a chart pull.
type PullOptions struct {
	RepoURL   string
	ChartName string
	Version   string
	DestDir   string
	// OCI selects an oci:// pull instead of a traditional repository pull.
	OCI bool
}

// HelmPort abstracts the Helm-compatible binary. All invocations are
// blocking external processes.
type HelmPort interface {
	Template(ctx context.Context, opts TemplateOptions) ([]byte, error)
	DependencyBuild(ctx context.Context, chartDir string) error
	// Pull downloads and untars a chart, returning the extracted chart
	// directory. Traditional pulls must use isolated repository state so
	// concurrent sibling pulls cannot contend on shared index files.
	Pull(ctx context.Context, opts PullOptions) (string, error)
	RegistryLogin(ctx context.Context, registry, username, password string) error
	// SearchVersions lists the published versions of a chart in a
	// traditional repository, newest first.
	SearchVersions(ctx context.Context, repoURL, chartName string) ([]string, error)
}

// KustomizePort abstracts overlay rendering.
type KustomizePort interface {
	Build(ctx context.Context, overlayDir string) ([]byte, error)
}

// ObjectStore abstracts S3-compatible object storage, shared by the chart
// cache and the manifest baseline store. Get returns domain.ErrNotFound for
// missing keys.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// CredentialProvider resolves registry credentials. Empty credentials mean
// anonymous access; callers skip the login step.
type CredentialProvider interface {
	Resolve(registryURL string) (username, password string, err error)
}

// ChartResolver obtains a local filesystem path to the chart an application
// renders from, consulting local charts, the chart cache, and registries.
type ChartResolver interface {
	Resolve(ctx context.Context, app domain.ApplicationDescriptor, workDir string) (chartDir, message string, err error)
}

// ManifestDiffer computes a per-resource diff between two manifest streams.
type ManifestDiffer interface {
	Compare(baseline, current string) (hasDiff bool, diffText string)
}
