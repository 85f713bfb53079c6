// Package app orchestrates the render, recursive expansion and diff
// workflows by wiring the driven ports together.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
	"github.com/nathantilsley/argo-sentry/internal/render/parser"
	"github.com/nathantilsley/argo-sentry/internal/render/ports"
)

const (
	defaultMaxDepth = 5
	defaultWorkers  = 4
)

// Options tune the service beyond its ports.
type Options struct {
	// RepoRoot anchors relative values-file and overlay paths.
	RepoRoot string
	// MaxDepth bounds recursive app-of-apps expansion, 5 when unset.
	MaxDepth int
	// Workers bounds the sibling fan-out pools, 4 when unset.
	Workers int

	Meter  metric.Meter
	Tracer trace.Tracer
}

// Service implements ports.RenderUseCase and ports.DiffUseCase.
type Service struct {
	parser    *parser.Parser
	resolver  ports.ChartResolver
	helm      ports.HelmPort
	kustomize ports.KustomizePort
	store     ports.ObjectStore
	differ    ports.ManifestDiffer

	repoRoot string
	maxDepth int
	workers  int

	logger  *slog.Logger
	tracer  trace.Tracer
	renders metric.Int64Counter
	diffs   metric.Int64Counter
}

// NewService creates a Service wired with all driven ports. store may be nil
// when no baseline storage is configured; DiffApps and Push then fail fast.
func NewService(
	p *parser.Parser,
	resolver ports.ChartResolver,
	helm ports.HelmPort,
	kustomize ports.KustomizePort,
	store ports.ObjectStore,
	differ ports.ManifestDiffer,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Meter == nil {
		opts.Meter = noopmetric.NewMeterProvider().Meter("argo-sentry")
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("argo-sentry")
	}

	renders, _ := opts.Meter.Int64Counter("argo_sentry.renders",
		metric.WithDescription("Application renders by outcome"))
	diffs, _ := opts.Meter.Int64Counter("argo_sentry.diffs",
		metric.WithDescription("Application diffs by outcome"))

	return &Service{
		parser:    p,
		resolver:  resolver,
		helm:      helm,
		kustomize: kustomize,
		store:     store,
		differ:    differ,
		repoRoot:  opts.RepoRoot,
		maxDepth:  opts.MaxDepth,
		workers:   opts.Workers,
		logger:    logger,
		tracer:    opts.Tracer,
		renders:   renders,
		diffs:     diffs,
	}
}

// Render renders all populated sources of one application into outputDir.
func (s *Service) Render(ctx context.Context, app domain.ApplicationDescriptor, outputDir string) (domain.RenderResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "render",
		trace.WithAttributes(attribute.String("app.name", app.Name)))
	defer span.End()

	count, msg, err := s.renderTo(ctx, app, outputDir)
	result := domain.RenderResult{
		AppName:       app.Name,
		Success:       err == nil,
		Message:       msg,
		ResourceCount: count,
		NestedApps:    []string{app.Name},
		Duration:      time.Since(start),
	}
	if err != nil {
		result.Message = err.Error()
		s.renders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		return result, err
	}
	s.renders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	return result, nil
}

// RenderRecursive renders an application and expands any Application or
// ApplicationSet documents found in its output, depth-first with a bounded
// sibling pool per level.
func (s *Service) RenderRecursive(ctx context.Context, app domain.ApplicationDescriptor, outputDir string) (domain.RenderResult, error) {
	ctx, span := s.tracer.Start(ctx, "render_recursive",
		trace.WithAttributes(attribute.String("app.name", app.Name)))
	defer span.End()
	return s.expand(ctx, app, outputDir, 0)
}

func (s *Service) expand(ctx context.Context, app domain.ApplicationDescriptor, outputDir string, depth int) (domain.RenderResult, error) {
	start := time.Now()

	if depth >= s.maxDepth {
		s.logger.Warn("max recursion depth reached, not expanding further",
			"app", app.Name, "depth", depth)
		return domain.RenderResult{
			AppName:    app.Name,
			Success:    true,
			Message:    fmt.Sprintf("max recursion depth (%d) reached", s.maxDepth),
			NestedApps: []string{app.Name},
			Duration:   time.Since(start),
		}, nil
	}

	count, prep, err := s.renderTo(ctx, app, outputDir)
	if err != nil {
		return domain.RenderResult{
			AppName:    app.Name,
			Message:    err.Error(),
			NestedApps: []string{app.Name},
			Duration:   time.Since(start),
		}, err
	}

	rendered := readCombined(outputDir)
	children, appsets := s.parser.ExtractResources(rendered, app.SourceFile)
	for _, set := range appsets {
		children = append(children, s.parser.ExpandApplicationSet(set)...)
	}

	if len(children) == 0 {
		msg := fmt.Sprintf("rendered %d resources", count)
		if prep != "" {
			msg = fmt.Sprintf("rendered %d resources (%s)", count, prep)
		}
		return domain.RenderResult{
			AppName:       app.Name,
			Success:       true,
			Message:       msg,
			ResourceCount: count,
			NestedApps:    []string{app.Name},
			Duration:      time.Since(start),
		}, nil
	}

	s.logger.Info("expanding nested applications",
		"app", app.Name, "depth", depth, "children", len(children))

	var (
		mu        sync.Mutex
		nested    = []string{app.Name}
		total     = count
		childErrs = make(map[string]string)
		authErr   error
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, child := range children {
		g.Go(func() error {
			res, err := s.expand(ctx, child, filepath.Join(outputDir, child.Name), depth+1)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Sibling failures become entries, not aborts. Expired
				// auth is the one exception: every remaining sibling
				// would fail the same way.
				if domain.IsAuthExpired(err) && authErr == nil {
					authErr = err
				}
				childErrs[child.Name] = err.Error()
				return nil
			}
			nested = append(nested, res.NestedApps...)
			total += res.ResourceCount
			return nil
		})
	}
	_ = g.Wait()

	if authErr != nil {
		return domain.RenderResult{
			AppName:    app.Name,
			Message:    authErr.Error(),
			NestedApps: nested,
			Duration:   time.Since(start),
		}, authErr
	}

	if err := rebuildCombined(outputDir); err != nil {
		return domain.RenderResult{AppName: app.Name, Message: err.Error(), Duration: time.Since(start)}, err
	}

	msg := fmt.Sprintf("rendered %d resources across %d apps", total, len(nested))
	if len(childErrs) > 0 {
		msg += fmt.Sprintf(" (errors: %s)", formatChildErrors(childErrs))
	}

	// The level itself rendered, so the result stays successful; failed
	// children are named in the message only.
	return domain.RenderResult{
		AppName:       app.Name,
		Success:       true,
		Message:       msg,
		ResourceCount: total,
		NestedApps:    nested,
		Duration:      time.Since(start),
	}, nil
}

// renderTo renders every populated source of the application into outputDir
// and returns the resource count plus a preparation message.
func (s *Service) renderTo(ctx context.Context, app domain.ApplicationDescriptor, outputDir string) (int, string, error) {
	if app.SourceCount() == 0 {
		return 0, "", &domain.RenderError{App: app.Name, Reason: "no renderable source"}
	}

	if app.SourceCount() == 1 {
		rendered, msg, err := s.renderSingle(ctx, app)
		if err != nil {
			return 0, "", err
		}
		count, err := writeRenderedOutput(rendered, outputDir)
		return count, msg, err
	}

	// Multi-source: render each source separately, then concatenate in a
	// fixed order so Kustomize and plain manifests layer over the chart
	// output.
	var streams []string
	var messages []string

	if app.HasHelmSource() {
		rendered, msg, err := s.renderHelm(ctx, app)
		if err != nil {
			return 0, "", err
		}
		streams = append(streams, strings.TrimSpace(rendered))
		if msg != "" {
			messages = append(messages, msg)
		}
	}
	if app.HasKustomizeSource() {
		rendered, err := s.renderKustomize(ctx, app)
		if err != nil {
			return 0, "", err
		}
		streams = append(streams, strings.TrimSpace(rendered))
	}
	if app.HasPlainSource() {
		rendered, err := s.renderPlain(app)
		if err != nil {
			return 0, "", err
		}
		streams = append(streams, strings.TrimSpace(rendered))
	}

	count, err := writeRenderedOutput(strings.Join(streams, "\n---\n"), outputDir)
	if err != nil {
		return 0, "", err
	}
	return count, strings.Join(messages, "; "), nil
}

func (s *Service) renderSingle(ctx context.Context, app domain.ApplicationDescriptor) (string, string, error) {
	switch {
	case app.HasHelmSource():
		return s.renderHelm(ctx, app)
	case app.HasKustomizeSource():
		rendered, err := s.renderKustomize(ctx, app)
		return rendered, "", err
	default:
		rendered, err := s.renderPlain(app)
		return rendered, "", err
	}
}

func (s *Service) renderHelm(ctx context.Context, app domain.ApplicationDescriptor) (string, string, error) {
	workDir, err := os.MkdirTemp("", "argo-sentry-render-*")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(workDir)

	chartDir, msg, err := s.resolver.Resolve(ctx, app, workDir)
	if err != nil {
		return "", "", err
	}

	valuesFiles := make([]string, 0, len(app.ValuesFiles)+1)
	for _, vf := range app.ValuesFiles {
		abs := vf
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(s.repoRoot, vf)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", "", &domain.RenderError{App: app.Name, Reason: fmt.Sprintf("values file not found: %s", vf)}
		}
		valuesFiles = append(valuesFiles, abs)
	}

	// Inline values override everything, so they go last.
	if len(app.ValuesObject) > 0 {
		data, err := yaml.Marshal(app.ValuesObject)
		if err != nil {
			return "", "", &domain.RenderError{App: app.Name, Reason: "marshaling inline values", Err: err}
		}
		inline := filepath.Join(workDir, "values-object.yaml")
		if err := os.WriteFile(inline, data, 0o644); err != nil {
			return "", "", err
		}
		valuesFiles = append(valuesFiles, inline)
	}

	releaseName := app.ReleaseName
	if releaseName == "" {
		releaseName = app.Name
	}

	out, err := s.helm.Template(ctx, ports.TemplateOptions{
		ReleaseName: releaseName,
		ChartDir:    chartDir,
		Namespace:   app.Namespace,
		ValuesFiles: valuesFiles,
		IncludeCRDs: true,
		WorkDir:     s.repoRoot,
	})
	if err != nil {
		return "", "", &domain.RenderError{App: app.Name, Reason: "helm template", Err: err}
	}
	return string(out), msg, nil
}

func (s *Service) renderKustomize(ctx context.Context, app domain.ApplicationDescriptor) (string, error) {
	overlay := app.KustomizePath
	if !filepath.IsAbs(overlay) {
		overlay = filepath.Join(s.repoRoot, overlay)
	}
	out, err := s.kustomize.Build(ctx, overlay)
	if err != nil {
		return "", &domain.RenderError{App: app.Name, Reason: "kustomize build", Err: err}
	}
	return string(out), nil
}

// renderPlain concatenates the directory's YAML files in sorted name order
// so the output is stable across runs.
func (s *Service) renderPlain(app domain.ApplicationDescriptor) (string, error) {
	dir := app.PlainManifestsPath
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.repoRoot, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &domain.RenderError{App: app.Name, Reason: "reading manifests directory", Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", &domain.RenderError{App: app.Name, Reason: "reading manifest " + name, Err: err}
		}
		if doc := strings.TrimSpace(string(data)); doc != "" {
			parts = append(parts, doc)
		}
	}
	return strings.Join(parts, "\n---\n"), nil
}

// DiffApps renders each application into a scratch directory and compares
// the combined output against the stored baseline. When baselineRef is set
// the ref-scoped baseline is preferred, falling back to the moving baseline
// when no copy exists under that ref. One result per app; failures are
// captured in the result rather than aborting the batch, except for expired
// storage auth which aborts everything.
func (s *Service) DiffApps(ctx context.Context, env string, apps []domain.ApplicationDescriptor, baselineRef string, recursive bool) ([]domain.DiffResult, error) {
	ctx, span := s.tracer.Start(ctx, "diff_apps",
		trace.WithAttributes(attribute.String("env", env), attribute.Int("apps", len(apps))))
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("no manifest store configured")
	}

	results := make([]domain.DiffResult, len(apps))

	var mu sync.Mutex
	var authErr error

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, app := range apps {
		g.Go(func() error {
			result, err := s.diffOne(ctx, env, app, baselineRef, recursive)
			results[i] = result
			if err != nil {
				mu.Lock()
				if authErr == nil {
					authErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		outcome := strings.ToLower(r.Status().String())
		s.diffs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if authErr != nil {
		return results, authErr
	}
	return results, nil
}

// diffOne returns a non-nil error only for expired storage auth; every other
// failure lands in the result's Error field.
func (s *Service) diffOne(ctx context.Context, env string, app domain.ApplicationDescriptor, baselineRef string, recursive bool) (domain.DiffResult, error) {
	start := time.Now()
	result := domain.DiffResult{
		Env:         env,
		AppName:     app.Name,
		ValuesFiles: app.ValuesFiles,
	}

	scratch, err := os.MkdirTemp("", "argo-sentry-diff-*")
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}
	defer os.RemoveAll(scratch)

	if recursive {
		_, err = s.RenderRecursive(ctx, app, scratch)
	} else {
		_, err = s.Render(ctx, app, scratch)
	}
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		if domain.IsAuthExpired(err) {
			return result, err
		}
		return result, nil
	}

	current := readCombined(scratch)

	baseline, err := s.loadBaseline(ctx, env, app.Name, baselineRef)
	if err != nil {
		result.Duration = time.Since(start)
		switch {
		case domain.IsNotFound(err):
			result.HasDiff = true
			result.DiffContent = "new app (no baseline)"
			return result, nil
		case domain.IsAuthExpired(err):
			result.Error = err.Error()
			return result, err
		default:
			result.Error = err.Error()
			return result, nil
		}
	}

	hasDiff, diffText := s.differ.Compare(string(baseline), current)
	result.HasDiff = hasDiff
	result.DiffContent = diffText
	result.Duration = time.Since(start)
	return result, nil
}

// loadBaseline fetches the baseline to diff against. A ref-scoped baseline
// wins when one was pushed under that ref; otherwise the moving baseline is
// used so diffing works before any ref-scoped push happened.
func (s *Service) loadBaseline(ctx context.Context, env, appName, baselineRef string) ([]byte, error) {
	if baselineRef != "" {
		data, err := s.store.Get(ctx, domain.ManifestRef{Env: env, AppName: appName, GitRef: baselineRef}.Key())
		if err == nil {
			return data, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
	}
	return s.store.Get(ctx, domain.ManifestRef{Env: env, AppName: appName}.Key())
}

// Push renders each application and uploads the combined output as the new
// baseline, plus a ref-scoped copy and a metadata record when gitRef is set.
func (s *Service) Push(ctx context.Context, env string, apps []domain.ApplicationDescriptor, gitRef, commit string, recursive bool) ([]domain.RenderResult, error) {
	ctx, span := s.tracer.Start(ctx, "push",
		trace.WithAttributes(attribute.String("env", env), attribute.Int("apps", len(apps))))
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("no manifest store configured")
	}

	results := make([]domain.RenderResult, len(apps))

	var mu sync.Mutex
	var authErr error
	var pushed []string

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, app := range apps {
		g.Go(func() error {
			result, err := s.pushOne(ctx, env, app, gitRef, recursive)
			result.Env = env
			results[i] = result
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if domain.IsAuthExpired(err) && authErr == nil {
					authErr = err
				}
				return nil
			}
			pushed = append(pushed, app.Name)
			return nil
		})
	}
	_ = g.Wait()

	if authErr != nil {
		return results, authErr
	}

	if gitRef != "" {
		if err := s.writeMetadata(ctx, env, gitRef, commit, pushed); err != nil {
			s.logger.Warn("failed to write push metadata", "ref", gitRef, "error", err)
		}
	}
	return results, nil
}

func (s *Service) pushOne(ctx context.Context, env string, app domain.ApplicationDescriptor, gitRef string, recursive bool) (domain.RenderResult, error) {
	scratch, err := os.MkdirTemp("", "argo-sentry-push-*")
	if err != nil {
		return domain.RenderResult{AppName: app.Name, Message: err.Error()}, nil
	}
	defer os.RemoveAll(scratch)

	var result domain.RenderResult
	if recursive {
		result, err = s.RenderRecursive(ctx, app, scratch)
	} else {
		result, err = s.Render(ctx, app, scratch)
	}
	if err != nil {
		return result, err
	}

	combined := readCombined(scratch)
	key := domain.ManifestRef{Env: env, AppName: app.Name}.Key()
	if err := s.store.Put(ctx, key, []byte(combined), "application/yaml"); err != nil {
		result.Success = false
		result.Message = err.Error()
		return result, err
	}
	if gitRef != "" {
		refKey := domain.ManifestRef{Env: env, AppName: app.Name, GitRef: gitRef}.Key()
		if err := s.store.Put(ctx, refKey, []byte(combined), "application/yaml"); err != nil {
			result.Success = false
			result.Message = err.Error()
			return result, err
		}
	}
	return result, nil
}

func (s *Service) writeMetadata(ctx context.Context, env, gitRef, commit string, apps []string) error {
	sort.Strings(apps)
	meta := domain.PushMetadata{
		Env:      env,
		Ref:      gitRef,
		Commit:   commit,
		Apps:     apps,
		PushedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return s.store.Put(ctx, meta.Key(), data, "application/json")
}

// ListMetadata reads back every push metadata record, newest first.
// Unreadable or malformed records are logged and skipped.
func (s *Service) ListMetadata(ctx context.Context) ([]domain.PushMetadata, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no manifest store configured")
	}

	keys, err := s.store.ListKeys(ctx, domain.MetadataPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing push metadata: %w", err)
	}

	records := make([]domain.PushMetadata, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			if domain.IsAuthExpired(err) {
				return nil, err
			}
			s.logger.Warn("unreadable push metadata", "key", key, "error", err)
			continue
		}
		var meta domain.PushMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("malformed push metadata", "key", key, "error", err)
			continue
		}
		records = append(records, meta)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].PushedAt.After(records[j].PushedAt)
	})
	return records, nil
}

func formatChildErrors(errs map[string]string) string {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+errs[name])
	}
	return strings.Join(parts, "; ")
}
