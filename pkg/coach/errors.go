package coach

import (
	"errors"

	"writingcoach/pkg/issues"
	"writingcoach/pkg/orchestrator"
)

var (
	// ErrEmptyContent is returned by RequestFeedback when the stage has nothing to review.
	// No model call is made.
	ErrEmptyContent = errors.New("no content to review for this stage")
	// ErrBusy is returned by RequestFeedback while another coaching call is in flight.
	ErrBusy = errors.New("a coaching request is already in progress")
	// ErrCannotAdvance is returned by Advance when the stage is not complete or is the last one.
	ErrCannotAdvance = errors.New("cannot advance from this stage")

	// ErrNoIssue is returned for an issue id that is not in the current set.
	ErrNoIssue = issues.ErrNotFound
	// ErrIssueResolved is returned when re-reviewing an issue that is already resolved.
	ErrIssueResolved = issues.ErrNotReviewable
	// ErrDiscarded is returned when a result arrives after a reset made it irrelevant.
	ErrDiscarded = orchestrator.ErrDiscarded
)

// Messages shown to the student. Internal error detail is logged, never shown.
const (
	EmptyContentMessage = "Please add some content before requesting feedback."
	GenericErrorMessage = "Something went wrong talking to the writing coach. Please try again."
)

type userMessager interface {
	UserMessage() string
}

// userMessage picks the text a failed call shows the student.
func userMessage(err error) string {
	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return GenericErrorMessage
}
