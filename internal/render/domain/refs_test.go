package domain

import (
	"testing"
	"time"
)

func TestPushMetadataKey(t *testing.T) {
	meta := PushMetadata{Env: "dev", Ref: "feature-login"}
	if got := meta.Key(); got != "_metadata/feature-login.json" {
		t.Errorf("Key() = %q, want _metadata/feature-login.json", got)
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "seconds", d: 30 * time.Second, want: "just now"},
		{name: "minutes", d: 5 * time.Minute, want: "5m ago"},
		{name: "hours", d: 3*time.Hour + 20*time.Minute, want: "3h ago"},
		{name: "days", d: 49 * time.Hour, want: "2d ago"},
		{name: "weeks stay in days", d: 10 * 24 * time.Hour, want: "10d ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAge(tt.d); got != tt.want {
				t.Errorf("FormatAge(%s) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestPushMetadataAge(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	meta := PushMetadata{PushedAt: now.Add(-2 * time.Hour)}
	if got := meta.Age(now); got != "2h ago" {
		t.Errorf("Age() = %q, want 2h ago", got)
	}
}
