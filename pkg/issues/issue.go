// Package issues tracks the feedback issues raised for the current stage through
// their resolution lifecycle.
package issues

import (
	"time"

	"writingcoach/pkg/feedback"
	"writingcoach/pkg/prompts"
	"writingcoach/pkg/writing"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusActive   Status = "active"
	StatusChecking Status = "checking"
	StatusResolved Status = "resolved"
	// StatusDismissed exists in the model but no operation moves an issue into it yet.
	StatusDismissed Status = "dismissed"
)

// TransitionTable lists the statuses each status may move to.
type TransitionTable map[Status][]Status

// Transitions is the issue state machine. A re-review moves an active issue to
// checking, and the verdict moves it to resolved or back to active.
//
//nolint:gochecknoglobals // static state machine
var Transitions = TransitionTable{
	StatusActive:    {StatusChecking, StatusDismissed},
	StatusChecking:  {StatusActive, StatusResolved},
	StatusResolved:  {},
	StatusDismissed: {},
}

// Allowed reports whether from may move to to.
func (t TransitionTable) Allowed(from, to Status) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (t TransitionTable) IsTerminal(s Status) bool {
	return len(t[s]) == 0
}

// Issue is one flagged piece of feedback.
type Issue struct {
	ID                      string                    `json:"id"`
	Title                   string                    `json:"title"`
	Stage                   writing.Stage             `json:"stage"`
	Status                  Status                    `json:"status"`
	OriginalContentSnapshot string                    `json:"original_content_snapshot"`
	DetectedAt              time.Time                 `json:"detected_at"`
	ResolvedAt              *time.Time                `json:"resolved_at"`
	ResolutionNote          string                    `json:"resolution_note,omitempty"`
	LastFeedback            string                    `json:"last_feedback,omitempty"`
	LastVerdict             feedback.ResolutionStatus `json:"last_verdict,omitempty"`
}

// Ref is the part of the issue the prompt builder needs.
func (i *Issue) Ref() prompts.IssueRef {
	return prompts.IssueRef{Title: i.Title, Stage: i.Stage}
}

func (i *Issue) clone() Issue {
	out := *i
	if i.ResolvedAt != nil {
		at := *i.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
