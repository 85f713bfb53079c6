package domain

import "testing"

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, "Success"},
		{StatusChanges, "Changes"},
		{StatusError, "Error"},
		{Status(99), "Unknown"},
		{Status(-1), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.status.String()
			if got != tt.want {
				t.Errorf("Status.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiffResult_Status(t *testing.T) {
	tests := []struct {
		name   string
		result DiffResult
		want   Status
	}{
		{
			name:   "error takes priority over diff",
			result: DiffResult{Error: "boom", HasDiff: true},
			want:   StatusError,
		},
		{
			name:   "diff without error",
			result: DiffResult{HasDiff: true, DiffContent: "+ replicas: 3"},
			want:   StatusChanges,
		},
		{
			name:   "clean result",
			result: DiffResult{},
			want:   StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Status(); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountByStatus(t *testing.T) {
	results := []DiffResult{
		{},
		{HasDiff: true},
		{Error: "render failed"},
		{},
		{HasDiff: true, Error: "auth expired"},
	}

	success, changes, errs := CountByStatus(results)
	if success != 2 {
		t.Errorf("CountByStatus() success = %v, want 2", success)
	}
	if changes != 1 {
		t.Errorf("CountByStatus() changes = %v, want 1", changes)
	}
	if errs != 2 {
		t.Errorf("CountByStatus() errors = %v, want 2", errs)
	}
}
