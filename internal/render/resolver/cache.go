package resolver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
	"github.com/nathantilsley/argo-sentry/internal/render/ports"
)

// downloadCachedChart fetches a chart archive from the content-addressed
// cache and extracts it into destDir, returning the chart directory.
func downloadCachedChart(ctx context.Context, cache ports.ObjectStore, chartName, version, destDir string) (string, error) {
	ref := domain.ChartRef{ChartName: chartName, Version: version}

	ok, err := cache.Exists(ctx, ref.Key())
	if err != nil {
		if domain.IsAuthExpired(err) {
			return "", err
		}
		return "", &domain.CacheError{Op: "check", Err: err}
	}
	if !ok {
		return "", fmt.Errorf("chart %s@%s not in cache", chartName, version)
	}

	data, err := cache.Get(ctx, ref.Key())
	if err != nil {
		if domain.IsAuthExpired(err) {
			return "", err
		}
		return "", &domain.CacheError{Op: "download", Err: err}
	}

	if err := extractTarGz(data, destDir); err != nil {
		return "", &domain.CacheError{Op: "extract", Err: err}
	}

	chartDir := filepath.Join(destDir, chartName)
	if info, statErr := os.Stat(chartDir); statErr == nil && info.IsDir() {
		return chartDir, nil
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", &domain.CacheError{Op: "extract", Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}
	return "", &domain.CacheError{Op: "extract", Err: fmt.Errorf("chart extracted but directory not found in %s", destDir)}
}

// uploadChartToCache archives a chart directory and uploads it, skipping
// the upload when the key already exists (checked-then-put upsert; a
// concurrent duplicate upload is a benign race).
func uploadChartToCache(ctx context.Context, cache ports.ObjectStore, chartName, version, chartDir string) error {
	ref := domain.ChartRef{ChartName: chartName, Version: version}

	ok, err := cache.Exists(ctx, ref.Key())
	if err != nil {
		return &domain.CacheError{Op: "check", Err: err}
	}
	if ok {
		return nil
	}

	data, err := archiveTarGz(chartDir, chartName)
	if err != nil {
		return &domain.CacheError{Op: "archive", Err: err}
	}
	if err := cache.Put(ctx, ref.Key(), data, "application/gzip"); err != nil {
		return &domain.CacheError{Op: "upload", Err: err}
	}
	return nil
}

// archiveTarGz packs dir into a gzipped tarball under arcName.
func archiveTarGz(dir, arcName string) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := arcName
		if rel != "." {
			name = arcName + "/" + filepath.ToSlash(rel)
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractTarGz unpacks a gzipped tarball into destDir, refusing entries
// that would escape it.
func extractTarGz(data []byte, destDir string) error {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
