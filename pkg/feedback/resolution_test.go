package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Resolution
	}{
		{
			name: "resolved with note",
			raw:  "RESOLVED: fixed it",
			want: Resolution{Resolved: true, Status: StatusResolved, Note: "fixed it"},
		},
		{
			name: "resolved without note",
			raw:  "RESOLVED:",
			want: Resolution{Resolved: true, Status: StatusResolved, Note: DefaultResolvedNote},
		},
		{
			name: "partial",
			raw:  "PARTIALLY: the claim is narrower but still lacks a stake",
			want: Resolution{Status: StatusPartial, Note: "the claim is narrower but still lacks a stake"},
		},
		{
			name: "not resolved with guidance",
			raw:  "NOT_RESOLVED: the thesis is still a statement of fact",
			want: Resolution{Status: StatusNotResolved, Note: "the thesis is still a statement of fact"},
		},
		{
			name: "no markers",
			raw:  "no markers here",
			want: Resolution{Status: StatusNotResolved, Note: DefaultNotResolvedNote},
		},
		{
			name: "resolved takes priority over partially",
			raw:  "PARTIALLY: earlier draft\nRESOLVED: now done",
			want: Resolution{Resolved: true, Status: StatusResolved, Note: "now done"},
		},
		{
			name: "resolved after preamble",
			raw:  "Looking at the revision. RESOLVED: you added a counterargument",
			want: Resolution{Resolved: true, Status: StatusResolved, Note: "you added a counterargument"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResolution(tt.raw))
		})
	}
}
