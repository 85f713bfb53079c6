package domain

import "time"

// Status represents the outcome of a render or diff operation.
type Status int

const (
	StatusSuccess Status = iota // No changes detected / rendered cleanly
	StatusChanges               // Changes detected against baseline
	StatusError                 // Operation failed
)

var statusNames = [...]string{
	StatusSuccess: "Success",
	StatusChanges: "Changes",
	StatusError:   "Error",
}

// String implements the Stringer interface.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// RenderResult is the outcome of rendering a single application, including
// recursive expansion of nested descriptors.
type RenderResult struct {
	Env           string
	AppName       string
	Success       bool
	Message       string
	ResourceCount int
	// NestedApps lists every app name rendered in the recursive tree,
	// the root included.
	NestedApps []string
	Duration   time.Duration
}

// DiffResult is the outcome of diffing one application against its stored
// baseline.
type DiffResult struct {
	Env         string
	AppName     string
	HasDiff     bool
	DiffContent string
	Error       string
	ValuesFiles []string
	Duration    time.Duration
}

// Status derives the tri-state outcome from the result fields.
func (r DiffResult) Status() Status {
	switch {
	case r.Error != "":
		return StatusError
	case r.HasDiff:
		return StatusChanges
	default:
		return StatusSuccess
	}
}

// CountByStatus returns counts of diff results grouped by status.
func CountByStatus(results []DiffResult) (success, changes, errs int) {
	for _, r := range results {
		switch r.Status() {
		case StatusSuccess:
			success++
		case StatusChanges:
			changes++
		case StatusError:
			errs++
		}
	}
	return
}
