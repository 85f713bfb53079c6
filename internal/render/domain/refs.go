package domain

import (
	"fmt"
	"time"
)

// MetadataPrefix is the storage prefix for push metadata records.
const MetadataPrefix = "_metadata/"

// ManifestRef identifies a stored rendered output by environment and
// application name, optionally scoped to a git ref.
type ManifestRef struct {
	Env     string
	AppName string
	GitRef  string // empty means the unversioned baseline
}

// Key returns the storage key for this manifest.
// Example: "dev/my-app/_all.yaml" or "dev/my-app/main/_all.yaml".
func (r ManifestRef) Key() string {
	if r.GitRef != "" {
		return r.Env + "/" + r.AppName + "/" + r.GitRef + "/_all.yaml"
	}
	return r.Env + "/" + r.AppName + "/_all.yaml"
}

// ChartRef identifies a cached chart archive by name and version.
type ChartRef struct {
	ChartName string
	Version   string
}

// Key returns the storage key for this chart archive.
// Example: "_chart_cache/my-chart/1.2.3.tgz".
func (r ChartRef) Key() string {
	return "_chart_cache/" + r.ChartName + "/" + r.Version + ".tgz"
}

// PushMetadata records one push: which apps were uploaded for an environment
// under a git ref, and when.
type PushMetadata struct {
	Env      string    `json:"env"`
	Ref      string    `json:"ref"`
	Commit   string    `json:"commit,omitempty"`
	Apps     []string  `json:"apps"`
	PushedAt time.Time `json:"pushed_at"`
}

// Key returns the storage key for this metadata record.
// Example: "_metadata/main.json".
func (m PushMetadata) Key() string {
	return MetadataPrefix + m.Ref + ".json"
}

// Age renders how long ago the push happened, relative to now.
func (m PushMetadata) Age(now time.Time) string {
	return FormatAge(now.Sub(m.PushedAt))
}

// FormatAge renders a duration as a coarse human age, "just now" below a
// minute.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
