package issues

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"writingcoach/pkg/feedback"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/prompts"
	"writingcoach/pkg/writing"
)

var (
	// ErrNotFound is returned for an issue id that is not in the current set.
	ErrNotFound = errors.New("issue not found")
	// ErrAlreadyChecking is returned when a re-review of the same issue is still in flight.
	ErrAlreadyChecking = errors.New("issue is already being checked")
	// ErrNotReviewable is returned for resolved or dismissed issues.
	ErrNotReviewable = errors.New("issue is not open for review")
	// ErrStale is returned when the issue set was replaced while a review was in flight.
	// The verdict is discarded.
	ErrStale = errors.New("issue set changed during review")
	// ErrInvalidTransition is returned when the state machine forbids a status change.
	ErrInvalidTransition = errors.New("invalid issue transition")
)

// Tracker owns the issue set for the current stage.
//
// Each re-review holds the issue in StatusChecking for the duration of the model
// call, which blocks a second review of the same issue. Reviews of different
// issues do not wait on each other.
type Tracker struct {
	mu         sync.Mutex
	issues     []*Issue
	usedIDs    map[string]bool
	generation uint64
	invoker    llm.Invoker
	now        func() time.Time
	onChange   func()
	logger     *logx.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithChangeHook registers fn to run, without locks held, when an issue enters
// StatusChecking.
func WithChangeHook(fn func()) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker creates an empty tracker that reviews issues through invoker.
func NewTracker(invoker llm.Invoker, opts ...Option) *Tracker {
	t := &Tracker{
		usedIDs:  make(map[string]bool),
		invoker:  invoker,
		now:      time.Now,
		onChange: func() {},
		logger:   logx.NewLogger("issues"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Generate replaces the whole issue set with fresh active issues, one per title.
// Titles beyond feedback.MaxIssues are ignored.
func (t *Tracker) Generate(titles []string, stage writing.Stage, snapshot string) []Issue {
	if len(titles) > feedback.MaxIssues {
		titles = titles[:feedback.MaxIssues]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	now := t.now()
	t.issues = make([]*Issue, 0, len(titles))
	for i, title := range titles {
		issue := &Issue{
			ID:                      t.nextID(now, i),
			Title:                   title,
			Stage:                   stage,
			Status:                  StatusActive,
			OriginalContentSnapshot: snapshot,
			DetectedAt:              now,
		}
		t.issues = append(t.issues, issue)
	}

	t.logger.Info("Generated %d issue(s) for stage %s", len(t.issues), stage)
	return t.snapshotLocked()
}

func (t *Tracker) nextID(now time.Time, index int) string {
	id := fmt.Sprintf("issue-%d-%d", now.UnixMilli(), index)
	if t.usedIDs[id] {
		id = fmt.Sprintf("issue-%d-%d-%d", now.UnixMilli(), t.generation, index)
	}
	t.usedIDs[id] = true
	return id
}

// Issues returns copies of the current issues in the order they were raised.
func (t *Tracker) Issues() []Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Issue {
	out := make([]Issue, 0, len(t.issues))
	for _, issue := range t.issues {
		out = append(out, issue.clone())
	}
	return out
}

// Len returns the number of current issues.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.issues)
}

// Get returns a copy of one issue.
func (t *Tracker) Get(id string) (Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(id)
	if issue == nil {
		return Issue{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return issue.clone(), nil
}

// Reset clears the issue set. A review still in flight will find its issue gone
// and discard the verdict.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.issues = nil
}

func (t *Tracker) findLocked(id string) *Issue {
	for _, issue := range t.issues {
		if issue.ID == id {
			return issue
		}
	}
	return nil
}

func (t *Tracker) transitionLocked(issue *Issue, to Status) error {
	if !Transitions.Allowed(issue.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, issue.Status, to)
	}
	t.logger.Debug("Issue %s: %s -> %s", issue.ID, issue.Status, to)
	issue.Status = to
	return nil
}

// Review asks the model whether the issue has been fixed in doc and applies the
// verdict. A resolved verdict is terminal. A partial or not-resolved verdict leaves
// the issue active with LastFeedback updated. On a model failure the issue returns
// to active unchanged.
//
// doc is only read. The stage the check is framed in comes from the document's
// shape; see prompts.ResolutionCheckText.
func (t *Tracker) Review(ctx context.Context, id string, doc *writing.Document) (Issue, error) {
	t.mu.Lock()
	issue := t.findLocked(id)
	if issue == nil {
		t.mu.Unlock()
		return Issue{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch issue.Status {
	case StatusChecking:
		t.mu.Unlock()
		return issue.clone(), ErrAlreadyChecking
	case StatusResolved, StatusDismissed:
		t.mu.Unlock()
		return issue.clone(), fmt.Errorf("%w: %s is %s", ErrNotReviewable, id, issue.Status)
	}
	if err := t.transitionLocked(issue, StatusChecking); err != nil {
		t.mu.Unlock()
		return issue.clone(), err
	}
	generation := t.generation
	ref := issue.Ref()
	t.mu.Unlock()
	t.onChange()

	req := prompts.BuildResolutionCheckPrompt(ref, doc).Request()
	raw, callErr := t.invoker.Invoke(ctx, req)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation != generation {
		logx.Debug(ctx, "issues", "discarding review of %s: issue set replaced", id)
		return Issue{}, ErrStale
	}

	if callErr != nil {
		_ = t.transitionLocked(issue, StatusActive)
		t.logger.Warn("Review of %s failed: %v", id, callErr)
		return issue.clone(), callErr
	}

	verdict := feedback.ParseResolution(raw)
	issue.LastVerdict = verdict.Status
	if verdict.Resolved {
		at := t.now()
		issue.ResolvedAt = &at
		issue.ResolutionNote = verdict.Note
		issue.LastFeedback = ""
		_ = t.transitionLocked(issue, StatusResolved)
		t.logger.Info("Issue %s resolved", id)
	} else {
		issue.LastFeedback = verdict.Note
		_ = t.transitionLocked(issue, StatusActive)
		t.logger.Info("Issue %s still open (%s)", id, verdict.Status)
	}
	return issue.clone(), nil
}
