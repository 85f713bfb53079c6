// Package diff computes per-resource diffs between two rendered manifest
// streams. Resources are matched by identity (kind/namespace/name) rather
// than stream position, so reordering alone never produces a diff.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
)

const (
	// maxLinesPerResource caps each resource's diff block.
	maxLinesPerResource = 250
	// diffContext is intentionally wide so a changed resource is shown
	// nearly whole.
	diffContext = 150

	documentSeparator = "\n---\n"
)

// Engine implements ports.ManifestDiffer.
type Engine struct {
	MaxLines int // per-resource line cap, defaults to maxLinesPerResource
}

// New creates a diff engine with default limits.
func New() *Engine {
	return &Engine{MaxLines: maxLinesPerResource}
}

// Compare splits both streams into identity-addressed documents and emits
// one diff block per changed resource, in ascending identity order. Output
// is stable across runs, which keeps golden-file comparisons reproducible.
func (e *Engine) Compare(baseline, current string) (bool, string) {
	maxLines := e.MaxLines
	if maxLines <= 0 {
		maxLines = maxLinesPerResource
	}

	baselineDocs := splitByIdentity(baseline)
	currentDocs := splitByIdentity(current)

	identities := make(map[string]struct{}, len(baselineDocs)+len(currentDocs))
	for id := range baselineDocs {
		identities[id] = struct{}{}
	}
	for id := range currentDocs {
		identities[id] = struct{}{}
	}

	sorted := make([]string, 0, len(identities))
	for id := range identities {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var blocks []string
	for _, identity := range sorted {
		baseRaw := baselineDocs[identity]
		currRaw := currentDocs[identity]
		if baseRaw == currRaw {
			continue
		}

		var block string
		switch {
		case baseRaw == "":
			block = wholeDocBlock("+++ NEW: "+identity, "+", currRaw, maxLines)
		case currRaw == "":
			block = wholeDocBlock("--- REMOVED: "+identity, "-", baseRaw, maxLines)
		default:
			block = unifiedBlock(identity, baseRaw, currRaw, maxLines)
		}
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	if len(blocks) == 0 {
		return false, ""
	}
	return true, strings.Join(blocks, "\n")
}

// splitByIdentity maps resource identity to raw document text. Documents
// that fail to parse are keyed by a hash of their raw text so they are
// diffed as opaque blobs rather than silently dropped.
func splitByIdentity(stream string) map[string]string {
	docs := make(map[string]string)
	for _, raw := range strings.Split(stream, documentSeparator) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var doc map[string]any
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
			sum := sha256.Sum256([]byte(raw))
			docs["unparseable-"+hex.EncodeToString(sum[:8])] = raw
			continue
		}
		docs[identityKey(doc)] = raw
	}
	return docs
}

// identityKey builds "kind/namespace/name", omitting the namespace segment
// when absent.
func identityKey(doc map[string]any) string {
	kind, _ := doc["kind"].(string)
	if kind == "" {
		kind = "Unknown"
	}
	name := "unnamed"
	namespace := ""
	if metadata, ok := doc["metadata"].(map[string]any); ok {
		if n, ok := metadata["name"].(string); ok && n != "" {
			name = n
		}
		namespace, _ = metadata["namespace"].(string)
	}
	if namespace != "" {
		return kind + "/" + namespace + "/" + name
	}
	return kind + "/" + name
}

func wholeDocBlock(header, prefix, raw string, maxLines int) string {
	lines := strings.Split(raw, "\n")
	var sb strings.Builder
	sb.WriteString(header + "\n")
	for i, line := range lines {
		if i >= maxLines {
			fmt.Fprintf(&sb, "... (%d more lines)\n", len(lines)-maxLines)
			break
		}
		sb.WriteString(prefix + line + "\n")
	}
	return sb.String()
}

func unifiedBlock(identity, baseRaw, currRaw string, maxLines int) string {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(baseRaw),
		B:        difflib.SplitLines(currRaw),
		FromFile: "baseline/" + identity,
		ToFile:   "current/" + identity,
		Context:  diffContext,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return fmt.Sprintf("error computing diff for %s: %s\n", identity, err)
	}
	if text == "" {
		return ""
	}

	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines = append(lines, fmt.Sprintf("... (truncated, showing first %d lines)\n", maxLines))
	}
	return strings.Join(lines, "")
}
