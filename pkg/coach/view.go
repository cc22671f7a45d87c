package coach

import (
	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/writing"
)

// View is a snapshot of a session for the UI layer.
type View struct {
	SessionID       string            `json:"session_id"`
	Stage           writing.Stage     `json:"stage"`
	StageName       string            `json:"stage_name"`
	Instructions    string            `json:"instructions"`
	Document        *writing.Document `json:"document"`
	WordCount       int               `json:"word_count"`
	CanAdvance      bool              `json:"can_advance"`
	Issues          []issues.Issue    `json:"issues"`
	QualityVerdict  *string           `json:"quality_verdict"`
	SelectedIssueID *string           `json:"selected_issue_id"`
	Conversation    []dialogue.Turn   `json:"conversation"`
	NextPhase       dialogue.Phase    `json:"next_phase"`
	Loading         bool              `json:"loading"`
	Error           *string           `json:"error"`
}
