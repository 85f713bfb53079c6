package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	combinedFileName  = "_all.yaml"
	documentSeparator = "\n---\n"
)

// writeRenderedOutput writes the combined document stream plus one file per
// resource kind (lower-cased). A stream that fails to parse still produces
// the combined file; the reported count falls back to counting separators.
func writeRenderedOutput(rendered, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, err
	}

	docCount := 0
	docs, err := decodeDocuments(rendered)
	if err == nil {
		byKind := make(map[string][]map[string]any)
		for _, doc := range docs {
			kind, _ := doc["kind"].(string)
			if kind == "" {
				kind = "Unknown"
			}
			byKind[kind] = append(byKind[kind], doc)
		}
		for kind, resources := range byKind {
			if err := writeKindFile(outputDir, kind, resources); err != nil {
				return 0, err
			}
		}
		docCount = len(docs)
	} else {
		docCount = strings.Count(rendered, documentSeparator) + 1
	}

	if err := os.WriteFile(filepath.Join(outputDir, combinedFileName), []byte(rendered), 0o644); err != nil {
		return 0, err
	}
	return docCount, nil
}

// decodeDocuments splits on full separator lines only, so a document line
// that merely starts with "---" is never treated as a boundary.
func decodeDocuments(rendered string) ([]map[string]any, error) {
	var docs []map[string]any
	for _, raw := range strings.Split(rendered, documentSeparator) {
		raw = strings.TrimSpace(raw)
		raw = strings.TrimPrefix(raw, "---\n")
		raw = strings.TrimSuffix(raw, "\n---")
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "---" {
			continue
		}
		var doc map[string]any
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func writeKindFile(outputDir, kind string, resources []map[string]any) error {
	var sb strings.Builder
	for i, resource := range resources {
		if i > 0 {
			sb.WriteString("---\n")
		}
		data, err := yaml.Marshal(resource)
		if err != nil {
			return err
		}
		sb.Write(data)
	}
	name := strings.ToLower(kind) + ".yaml"
	return os.WriteFile(filepath.Join(outputDir, name), []byte(sb.String()), 0o644)
}

// rebuildCombined reassembles a level's combined stream after recursive
// expansion: the parent's own documents first, then each child
// subdirectory's combined stream in sorted directory order, each child
// delimited by a comment header. The order is deterministic regardless of
// which sibling finished first.
func rebuildCombined(outputDir string) error {
	var parts []string

	if data, err := os.ReadFile(filepath.Join(outputDir, combinedFileName)); err == nil {
		parts = append(parts, string(data))
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), "_") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outputDir, name, combinedFileName))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("# === %s ===\n%s", name, data))
	}

	if len(parts) == 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(outputDir, combinedFileName), []byte(strings.Join(parts, "\n---\n")), 0o644)
}

// readCombined returns the combined stream from a rendered directory, empty
// when missing.
func readCombined(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, combinedFileName))
	if err != nil {
		return ""
	}
	return string(data)
}
