package ports

import (
	"context"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

// RenderUseCase is the driving port for rendering applications.
type RenderUseCase interface {
	// Render renders one application (all populated sources) into outputDir.
	Render(ctx context.Context, app domain.ApplicationDescriptor, outputDir string) (domain.RenderResult, error)

	// RenderRecursive renders an application and recursively expands any
	// nested Application/ApplicationSet documents found in its output.
	RenderRecursive(ctx context.Context, app domain.ApplicationDescriptor, outputDir string) (domain.RenderResult, error)
}

// DiffUseCase is the driving port for diffing applications against their
// stored baselines. An empty baselineRef selects the moving baseline; a ref
// selects the ref-scoped baseline, falling back to the moving one.
type DiffUseCase interface {
	DiffApps(ctx context.Context, env string, apps []domain.ApplicationDescriptor, baselineRef string, recursive bool) ([]domain.DiffResult, error)
}
