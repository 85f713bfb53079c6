package helmcli

import "testing"

func TestParseSearchVersions(t *testing.T) {
	out := []byte(`[
		{"name":"repo/web","version":"2.1.0","app_version":"2.1.0"},
		{"name":"repo/web","version":"2.0.0","app_version":"2.0.0"},
		{"name":"repo/web-extras","version":"9.9.9","app_version":"1.0"}
	]`)

	versions, err := parseSearchVersions(out, "repo/web")
	if err != nil {
		t.Fatalf("parseSearchVersions() error: %s", err)
	}
	if len(versions) != 2 || versions[0] != "2.1.0" || versions[1] != "2.0.0" {
		t.Errorf("versions = %v, want exact-name matches only, newest first", versions)
	}
}

func TestParseSearchVersions_BadJSON(t *testing.T) {
	if _, err := parseSearchVersions([]byte("no results"), "repo/web"); err == nil {
		t.Error("parseSearchVersions() accepted non-JSON output")
	}
}
