// Package writing models the student's argument document and the four ordered writing stages.
package writing

import (
	"errors"
	"fmt"
)

// ErrInvalidStage is returned when a stage outside 0..3 reaches code that needs a real stage.
var ErrInvalidStage = errors.New("invalid stage")

// Stage is one of the four ordered phases of the writing workflow.
type Stage int

const (
	// StageThesis is where the student drafts a thesis statement.
	StageThesis Stage = iota
	// StageClaims is where the student develops claims and subclaims.
	StageClaims
	// StageEvidence is where the student attaches evidence to claims.
	StageEvidence
	// StageReview is where the student reviews the complete outline.
	StageReview
)

// FirstStage and LastStage bound the valid stage range.
const (
	FirstStage = StageThesis
	LastStage  = StageReview
)

//nolint:gochecknoglobals // static lookup tables
var (
	stageNames = [...]string{
		"Argument Construction",
		"Claim Development",
		"Evidence Integration",
		"Argument Review",
	}

	stageInstructions = [...]string{
		"Draft your thesis and click 'Get Feedback' to receive guidance on improving it.",
		"Add your claims and click 'Get Feedback' to explore how they support your thesis.",
		"Add evidence for your claims and click 'Get Feedback' to review their effectiveness.",
		"Review your outline and click 'Get Feedback' for overall argument analysis.",
	}
)

// Valid reports whether s is one of the four stages.
func (s Stage) Valid() bool {
	return s >= FirstStage && s <= LastStage
}

// Name returns the display name of the stage.
func (s Stage) Name() string {
	if !s.Valid() {
		return "Unknown Stage"
	}
	return stageNames[s]
}

// Instructions returns the short how-to text shown above the coaching panel.
func (s Stage) Instructions() string {
	if !s.Valid() {
		return "Continue working on your argument."
	}
	return stageInstructions[s]
}

func (s Stage) String() string {
	return fmt.Sprintf("%d (%s)", int(s), s.Name())
}

// ParseStage converts an ordinal into a Stage, failing with ErrInvalidStage when out of range.
func ParseStage(n int) (Stage, error) {
	s := Stage(n)
	if !s.Valid() {
		return s, fmt.Errorf("%w: %d", ErrInvalidStage, n)
	}
	return s, nil
}

// Next returns the following stage and false when s is already the last one.
func (s Stage) Next() (Stage, bool) {
	if s >= LastStage {
		return s, false
	}
	return s + 1, true
}

// Prev returns the previous stage and false when s is already the first one.
func (s Stage) Prev() (Stage, bool) {
	if s <= FirstStage {
		return s, false
	}
	return s - 1, true
}
