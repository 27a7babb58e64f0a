// Package crashreport writes the on-disk crash report the host leaves
// behind on a fatal-class failure (spec.md section 6): a single JSON
// file capturing what the process was doing when it gave up, so an
// operator can diagnose a dead host without re-running it under a
// debugger.
package crashreport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the document written to crash-report-<unixnano>.json.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason"`
	Error     string         `json:"error,omitempty"`
	Component string         `json:"component,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Write serializes report to dir/crash-report-<unixnano>.json and
// returns the path written. Failure to write is reported but never
// panics — a crash report that can't be written must not mask the
// original failure.
func Write(dir string, report Report) (string, error) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("crashreport: creating %s: %w", dir, err)
	}

	name := fmt.Sprintf("crash-report-%d.json", report.Timestamp.UnixNano())
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("crashreport: marshaling report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("crashreport: writing %s: %w", path, err)
	}

	return path, nil
}

// FromError builds a Report from a fatal error, tagging it with the
// owning component name for the on-disk filename's neighbors in logs.
func FromError(component, reason string, err error, context map[string]any) Report {
	r := Report{
		Reason:    reason,
		Component: component,
		Context:   context,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
