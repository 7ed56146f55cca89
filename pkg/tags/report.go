package tags

import (
	"context"
	"fmt"
)

// WarningKind classifies a non-fatal load finding.
type WarningKind string

const (
	// WarningMissingInMap marks a reference tag with no row in the tag map.
	WarningMissingInMap WarningKind = "missing_in_map"

	// WarningMissingInReference marks a mapped tag the reference does not know.
	WarningMissingInReference WarningKind = "missing_in_reference"

	// WarningReferenceUnavailable marks a reference file that could not be used.
	WarningReferenceUnavailable WarningKind = "reference_unavailable"

	// WarningPolicy marks an advisory policy finding.
	WarningPolicy WarningKind = "policy"
)

// Warning is an advisory finding produced while loading a tag map.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Tag     string      `json:"tag,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Tag == "" {
		return fmt.Sprintf("[%s] %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Kind, w.Tag, w.Message)
}

// Report collects everything Load found that did not stop it.
type Report struct {
	Path     string    `json:"path"`
	Tags     int       `json:"tags"`
	Warnings []Warning `json:"warnings,omitempty"`
}

func (r *Report) warn(kind WarningKind, tag, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Tag: tag, Message: fmt.Sprintf(format, args...)})
}

// Severity levels reported by a PolicyChecker.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Finding is one result of a PolicyChecker.
type Finding struct {
	Policy   string `json:"policy"`
	Tag      string `json:"tag,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Policy, f.Message, f.Severity)
}

// PolicyChecker evaluates site-specific naming, type and table rules over a
// set of tags. Implemented by policy.Engine.
type PolicyChecker interface {
	CheckTags(ctx context.Context, list []Tag) ([]Finding, error)
}
