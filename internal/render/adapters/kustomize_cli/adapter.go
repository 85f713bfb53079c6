// Package kustomizecli implements ports.KustomizePort by shelling out to
// `kubectl kustomize`, falling back to a standalone kustomize binary.
package kustomizecli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Adapter wraps the kustomize build invocation.
type Adapter struct {
	kubectlBin   string
	kustomizeBin string
}

// New creates a kustomize adapter. At least one of kubectl or kustomize
// must be available on PATH.
func New() (*Adapter, error) {
	a := &Adapter{}
	if bin, err := exec.LookPath("kubectl"); err == nil {
		a.kubectlBin = bin
	}
	if bin, err := exec.LookPath("kustomize"); err == nil {
		a.kustomizeBin = bin
	}
	if a.kubectlBin == "" && a.kustomizeBin == "" {
		return nil, fmt.Errorf("neither kubectl nor kustomize found on PATH")
	}
	return a, nil
}

// Build renders a kustomization directory and returns the manifest bytes.
func (a *Adapter) Build(ctx context.Context, overlayDir string) ([]byte, error) {
	if _, err := os.Stat(overlayDir); err != nil {
		return nil, fmt.Errorf("kustomize path does not exist: %s", overlayDir)
	}
	if !hasKustomization(overlayDir) {
		return nil, fmt.Errorf("no kustomization file found in %s", overlayDir)
	}

	var cmd *exec.Cmd
	if a.kubectlBin != "" {
		cmd = exec.CommandContext(ctx, a.kubectlBin, "kustomize", overlayDir)
	} else {
		cmd = exec.CommandContext(ctx, a.kustomizeBin, "build", overlayDir)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("kustomize build failed: %w\nstderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func hasKustomization(dir string) bool {
	for _, name := range []string{"kustomization.yaml", "kustomization.yml", "Kustomization"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
