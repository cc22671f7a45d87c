package feedback

import (
	"regexp"
	"strings"
)

// ResolutionStatus is the verdict of a re-review.
type ResolutionStatus string

const (
	StatusResolved    ResolutionStatus = "resolved"
	StatusPartial     ResolutionStatus = "partial"
	StatusNotResolved ResolutionStatus = "not_resolved"
)

// Default notes used when a marker is present without an explanation, or absent altogether.
const (
	DefaultResolvedNote    = "Great work fixing this issue!"
	DefaultPartialNote     = "Keep working on this issue."
	DefaultNotResolvedNote = "This issue still needs attention."
)

// Resolution is the parsed verdict of a resolution check.
type Resolution struct {
	Resolved bool             `json:"resolved"`
	Status   ResolutionStatus `json:"status"`
	Note     string           `json:"note"`
}

// RESOLVED: must not be read out of NOT_RESOLVED:, so it needs a non-underscore before it.
var (
	resolvedPattern    = regexp.MustCompile(`(?s)(?:^|[^_A-Za-z])RESOLVED:\s*(.*)`)
	partialPattern     = regexp.MustCompile(`(?s)PARTIALLY:\s*(.*)`)
	notResolvedPattern = regexp.MustCompile(`(?s)NOT_RESOLVED:\s*(.*)`)
)

// ParseResolution interprets a resolution check reply. RESOLVED: takes priority
// over PARTIALLY:, and anything else is not resolved.
func ParseResolution(raw string) Resolution {
	if m := resolvedPattern.FindStringSubmatch(raw); m != nil {
		return Resolution{Resolved: true, Status: StatusResolved, Note: noteOr(m[1], DefaultResolvedNote)}
	}
	if m := partialPattern.FindStringSubmatch(raw); m != nil {
		return Resolution{Status: StatusPartial, Note: noteOr(m[1], DefaultPartialNote)}
	}
	note := DefaultNotResolvedNote
	if m := notResolvedPattern.FindStringSubmatch(raw); m != nil {
		note = noteOr(m[1], DefaultNotResolvedNote)
	}
	return Resolution{Status: StatusNotResolved, Note: note}
}

func noteOr(captured, fallback string) string {
	if s := strings.TrimSpace(captured); s != "" {
		return s
	}
	return fallback
}
