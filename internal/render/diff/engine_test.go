package diff

import (
	"fmt"
	"strings"
	"testing"
)

const deploymentV1 = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: dev
spec:
  replicas: 2`

const deploymentV2 = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: dev
spec:
  replicas: 3`

const service = `apiVersion: v1
kind: Service
metadata:
  name: web
  namespace: dev
spec:
  ports:
    - port: 80`

func TestCompare_IdenticalStreams(t *testing.T) {
	e := New()
	hasDiff, text := e.Compare(deploymentV1, deploymentV1)
	if hasDiff {
		t.Errorf("Compare() hasDiff = true for identical streams, diff:\n%s", text)
	}
	if text != "" {
		t.Errorf("Compare() text = %q, want empty", text)
	}
}

func TestCompare_ReorderingIsNotADiff(t *testing.T) {
	e := New()
	a := deploymentV1 + "\n---\n" + service
	b := service + "\n---\n" + deploymentV1

	if hasDiff, text := e.Compare(a, b); hasDiff {
		t.Errorf("Compare() detected a diff on reordered streams:\n%s", text)
	}
}

func TestCompare_ChangedResource(t *testing.T) {
	e := New()
	hasDiff, text := e.Compare(deploymentV1, deploymentV2)
	if !hasDiff {
		t.Fatal("Compare() hasDiff = false for changed replicas")
	}
	if !strings.Contains(text, "-  replicas: 2") || !strings.Contains(text, "+  replicas: 3") {
		t.Errorf("diff missing replica change:\n%s", text)
	}
	if !strings.Contains(text, "baseline/Deployment/dev/web") {
		t.Errorf("diff missing identity header:\n%s", text)
	}
}

func TestCompare_AddedAndRemoved(t *testing.T) {
	e := New()

	hasDiff, text := e.Compare(deploymentV1, deploymentV1+"\n---\n"+service)
	if !hasDiff {
		t.Fatal("Compare() missed an added resource")
	}
	if !strings.Contains(text, "+++ NEW: Service/dev/web") {
		t.Errorf("added resource not marked NEW:\n%s", text)
	}

	hasDiff, text = e.Compare(deploymentV1+"\n---\n"+service, deploymentV1)
	if !hasDiff {
		t.Fatal("Compare() missed a removed resource")
	}
	if !strings.Contains(text, "--- REMOVED: Service/dev/web") {
		t.Errorf("removed resource not marked REMOVED:\n%s", text)
	}
}

func TestCompare_ClusterScopedIdentity(t *testing.T) {
	ns := `apiVersion: v1
kind: Namespace
metadata:
  name: dev`

	e := New()
	_, text := e.Compare("", ns)
	if !strings.Contains(text, "+++ NEW: Namespace/dev") {
		t.Errorf("cluster-scoped identity should omit namespace segment:\n%s", text)
	}
}

func TestCompare_UnparseableDocument(t *testing.T) {
	e := New()
	broken := "{{ .Values.notRendered }}"

	hasDiff, text := e.Compare("", broken)
	if !hasDiff {
		t.Fatal("Compare() dropped an unparseable document")
	}
	if !strings.Contains(text, "+++ NEW: unparseable-") {
		t.Errorf("unparseable document not keyed by hash:\n%s", text)
	}

	// Same opaque blob on both sides cancels out.
	if hasDiff, _ := e.Compare(broken, broken); hasDiff {
		t.Error("identical unparseable documents should not diff")
	}
}

func TestCompare_SortedOutput(t *testing.T) {
	e := New()
	_, text := e.Compare("", service+"\n---\n"+deploymentV1)

	deployIdx := strings.Index(text, "NEW: Deployment/dev/web")
	svcIdx := strings.Index(text, "NEW: Service/dev/web")
	if deployIdx < 0 || svcIdx < 0 {
		t.Fatalf("missing blocks:\n%s", text)
	}
	if deployIdx > svcIdx {
		t.Error("blocks not emitted in ascending identity order")
	}
}

func TestCompare_TruncatesLongResources(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: big\ndata:\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "  key%03d: value\n", i)
	}

	e := &Engine{MaxLines: 50}
	hasDiff, text := e.Compare("", sb.String())
	if !hasDiff {
		t.Fatal("Compare() hasDiff = false")
	}
	if !strings.Contains(text, "more lines)") {
		t.Errorf("long new resource not truncated:\n%s", text[:200])
	}
	if lines := strings.Count(text, "\n"); lines > 60 {
		t.Errorf("truncated block still has %d lines", lines)
	}
}
