package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nathantilsley/argo-sentry/internal/platform/config"
	"github.com/nathantilsley/argo-sentry/internal/platform/gitrepo"
	"github.com/nathantilsley/argo-sentry/internal/platform/logger"
	"github.com/nathantilsley/argo-sentry/internal/platform/telemetry"
	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("missing command")
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Without an explicit REPO_ROOT, anchor paths at the enclosing git
	// repository rather than wherever the tool happens to run.
	if os.Getenv("REPO_ROOT") == "" {
		if root, err := gitrepo.Root(cfg.RepoRoot); err == nil {
			cfg.RepoRoot = root
		}
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	tel, err := telemetry.New(ctx, cfg.OTelEnabled)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	c, err := NewContainer(cfg, log, tel)
	if err != nil {
		return err
	}

	switch command {
	case "render":
		return cmdRender(ctx, c, args)
	case "diff":
		return cmdDiff(ctx, c, args)
	case "push":
		return cmdPush(ctx, c, args)
	case "list":
		return cmdList(ctx, c, args)
	case "versions":
		return cmdVersions(ctx, c, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: argo-sentry <command> [flags] <descriptor files...>

Commands:
  render   Render applications to a local directory
  diff     Render applications and diff against stored baselines
  push     Render applications and store the output as the new baseline
  list     List stored baselines and pushes for an environment
  versions List the published chart versions for applications

Run 'argo-sentry <command> -h' for command flags.
`)
}

func cmdRender(ctx context.Context, c *Container, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	env := fs.String("env", "", "Environment name, used as the output subdirectory")
	out := fs.String("out", "rendered", "Output directory")
	recursive := fs.Bool("recursive", false, "Expand nested Application/ApplicationSet documents")
	_ = fs.Parse(args)

	apps, err := loadApps(c, fs.Args())
	if err != nil {
		return err
	}

	failed := 0
	for _, app := range apps {
		outputDir := filepath.Join(*out, *env, app.Name)

		var result domain.RenderResult
		if *recursive {
			result, err = c.Service.RenderRecursive(ctx, app, outputDir)
		} else {
			result, err = c.Service.Render(ctx, app, outputDir)
		}
		result.Env = *env

		if err != nil {
			failed++
			fmt.Printf("✗ %s: %s\n", app.Name, result.Message)
			continue
		}
		fmt.Printf("✓ %s: %s (%s)\n", app.Name, result.Message, result.Duration.Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d apps failed to render", failed, len(apps))
	}
	return nil
}

func cmdDiff(ctx context.Context, c *Container, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	env := fs.String("env", "", "Environment name (required)")
	ref := fs.String("ref", "", "Baseline git ref to diff against (default: the remote default branch)")
	recursive := fs.Bool("recursive", false, "Expand nested Application/ApplicationSet documents")
	_ = fs.Parse(args)

	if *env == "" {
		return fmt.Errorf("diff requires -env")
	}
	if *ref == "" {
		*ref = gitrepo.DefaultBranch(c.Config.RepoRoot)
	}

	apps, err := loadApps(c, fs.Args())
	if err != nil {
		return err
	}

	results, diffErr := c.Service.DiffApps(ctx, *env, apps, *ref, *recursive)

	for _, r := range results {
		switch r.Status() {
		case domain.StatusError:
			fmt.Printf("✗ %s/%s: %s\n", r.Env, r.AppName, r.Error)
		case domain.StatusChanges:
			fmt.Printf("~ %s/%s: changes detected\n", r.Env, r.AppName)
			fmt.Println(r.DiffContent)
		default:
			fmt.Printf("✓ %s/%s: no changes\n", r.Env, r.AppName)
		}
	}

	success, changes, errs := domain.CountByStatus(results)
	fmt.Printf("\n%d unchanged, %d changed, %d errored\n", success, changes, errs)

	if diffErr != nil {
		return diffErr
	}
	if errs > 0 {
		return fmt.Errorf("%d apps failed to diff", errs)
	}
	return nil
}

func cmdPush(ctx context.Context, c *Container, args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	env := fs.String("env", "", "Environment name (required)")
	ref := fs.String("ref", "", "Git ref for a ref-scoped copy (default: current branch)")
	commit := fs.String("commit", "", "Commit hash recorded in push metadata (default: HEAD)")
	recursive := fs.Bool("recursive", false, "Expand nested Application/ApplicationSet documents")
	_ = fs.Parse(args)

	if *env == "" {
		return fmt.Errorf("push requires -env")
	}

	if *ref == "" {
		if r, err := gitrepo.CurrentRef(c.Config.RepoRoot); err == nil {
			*ref = r
		}
	}
	if *commit == "" {
		if h, err := gitrepo.CurrentCommit(c.Config.RepoRoot); err == nil {
			*commit = h
		}
	}

	apps, err := loadApps(c, fs.Args())
	if err != nil {
		return err
	}

	results, pushErr := c.Service.Push(ctx, *env, apps, *ref, *commit, *recursive)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
			fmt.Printf("✗ %s: %s\n", r.AppName, r.Message)
			continue
		}
		fmt.Printf("✓ %s: pushed (%d resources)\n", r.AppName, r.ResourceCount)
	}

	if pushErr != nil {
		return pushErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d apps failed to push", failed, len(results))
	}
	return nil
}

func cmdList(ctx context.Context, c *Container, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	env := fs.String("env", "", "Environment name (required)")
	_ = fs.Parse(args)

	if *env == "" {
		return fmt.Errorf("list requires -env")
	}
	if c.Store == nil {
		return fmt.Errorf("no manifest store configured")
	}

	keys, err := c.Store.ListKeys(ctx, *env+"/")
	if err != nil {
		return fmt.Errorf("listing baselines: %w", err)
	}
	for _, key := range keys {
		fmt.Println(key)
	}

	records, err := c.Service.ListMetadata(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	printedHeader := false
	for _, m := range records {
		if m.Env != *env {
			continue
		}
		if !printedHeader {
			fmt.Println("\nPushes:")
			printedHeader = true
		}
		commit := m.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Printf("  %-20s %-8s %d apps, pushed %s\n", m.Ref, commit, len(m.Apps), m.Age(now))
	}
	return nil
}

func cmdVersions(ctx context.Context, c *Container, args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	_ = fs.Parse(args)

	apps, err := loadApps(c, fs.Args())
	if err != nil {
		return err
	}

	failed := 0
	for _, app := range apps {
		versions, err := c.Resolver.ListChartVersions(ctx, app)
		if err != nil {
			failed++
			fmt.Printf("✗ %s: %s\n", app.Name, err)
			continue
		}
		fmt.Printf("%s (%s):\n", app.Name, app.ChartName)
		for _, v := range versions {
			fmt.Println("  " + v)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d apps failed", failed, len(apps))
	}
	return nil
}

// loadApps reads descriptor files and returns the applications they declare.
// ApplicationSet descriptors are expanded into their generated applications.
func loadApps(c *Container, paths []string) ([]domain.ApplicationDescriptor, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no descriptor files given")
	}

	var apps []domain.ApplicationDescriptor
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
		}
		text := string(data)

		if app, ok := c.Parser.FindApplication(text); ok {
			app.SourceFile = path
			apps = append(apps, app)
			continue
		}
		if set, ok := c.Parser.FindApplicationSet(text, path); ok {
			apps = append(apps, c.Parser.ExpandApplicationSet(set)...)
			continue
		}
		return nil, fmt.Errorf("%s contains no Application or ApplicationSet", path)
	}
	return apps, nil
}
