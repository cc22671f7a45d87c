// Package coach ties the writing document, stage feedback, issue tracking and the
// tutoring conversation together into one student session.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/feedback"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/orchestrator"
	"writingcoach/pkg/prompts"
	"writingcoach/pkg/writing"
)

// Session is the coaching state of one student.
//
// A stage change resets issues, verdict, conversation and error. Model calls started
// before the change finish into the void: the stage epoch they captured no longer
// matches and their results are dropped.
type Session struct {
	mu       sync.Mutex
	id       string
	stage    writing.Stage
	doc      *writing.Document
	verdict  *string
	lastErr  string
	inFlight int
	epoch    uint64

	invoker llm.Invoker
	tracker *issues.Tracker
	dialog  *orchestrator.Orchestrator
	now     func() time.Time
	logger  *logx.Logger

	subMu  sync.Mutex
	subs   map[int]func(View)
	nextID int
}

// Option configures a Session.
type Option func(*Session)

// WithDocument starts the session from an existing document.
func WithDocument(doc *writing.Document) Option {
	return func(s *Session) {
		if doc != nil {
			s.doc = doc.Clone()
		}
	}
}

// WithStage starts the session at stage. Invalid stages are ignored.
func WithStage(stage writing.Stage) Option {
	return func(s *Session) {
		if stage.Valid() {
			s.stage = stage
		}
	}
}

// WithClock overrides time.Now for issue and turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session at the thesis stage with an empty document.
func New(id string, invoker llm.Invoker, opts ...Option) *Session {
	s := &Session{
		id:      id,
		stage:   writing.StageThesis,
		doc:     writing.NewDocument(),
		invoker: invoker,
		now:     time.Now,
		logger:  logx.NewLogger("coach"),
		subs:    make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = issues.NewTracker(invoker, issues.WithClock(s.now), issues.WithChangeHook(s.notify))
	s.dialog = orchestrator.New(invoker, orchestrator.WithClock(s.now), orchestrator.WithChangeHook(s.notify))
	if s.stage == writing.StageReview {
		s.doc.EnsureOutline()
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() writing.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Document returns a copy of the document.
func (s *Session) Document() *writing.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// callContext tags ctx for the model service and for domain debug logging.
func (s *Session) callContext(ctx context.Context) context.Context {
	ctx = logx.WithSession(ctx, s.id)
	return llm.WithCallInfo(ctx, llm.CallInfo{SessionID: s.id})
}

// begin marks a call in flight and returns the stage epoch it belongs to.
func (s *Session) begin() uint64 {
	s.inFlight++
	s.lastErr = ""
	return s.epoch
}

// endLocked ends a call started in epoch. It reports false when a reset happened
// in between, in which case the caller drops its result.
func (s *Session) endLocked(epoch uint64) bool {
	if epoch != s.epoch {
		return false
	}
	if s.inFlight > 0 {
		s.inFlight--
	}
	return true
}

// RequestFeedback asks the model to review the current stage.
//
// An empty stage fails with ErrEmptyContent without calling the model. A quality
// verdict clears the issues; an issue list replaces them and ends the conversation.
func (s *Session) RequestFeedback(ctx context.Context) error {
	s.mu.Lock()
	stage := s.stage
	if !s.doc.HasStageContent(stage) {
		s.lastErr = EmptyContentMessage
		s.mu.Unlock()
		s.notify()
		return ErrEmptyContent
	}
	if s.inFlight > 0 {
		s.mu.Unlock()
		return ErrBusy
	}
	doc := s.doc.Clone()
	prompt, err := prompts.BuildFeedbackPrompt(stage, doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("build feedback prompt: %w", err)
	}
	epoch := s.begin()
	s.mu.Unlock()
	s.notify()

	logx.Debug(logx.WithSession(ctx, s.id), "coach", "feedback requested for stage %d", stage)
	raw, callErr := s.invoker.Invoke(s.callContext(ctx), prompt.Request())

	s.mu.Lock()
	if !s.endLocked(epoch) {
		s.mu.Unlock()
		return ErrDiscarded
	}
	if callErr != nil {
		s.lastErr = userMessage(callErr)
		s.mu.Unlock()
		s.logger.Error("feedback for session %s failed: %v", s.id, callErr)
		s.notify()
		return callErr
	}

	// The issue set and conversation are replaced under s.mu so a stage change
	// cannot land between the epoch check and the update.
	result := feedback.ParseFeedback(raw)
	if quality, ok := result.QualityText(); ok {
		s.verdict = &quality
		s.tracker.Reset()
	} else {
		titles, _ := result.IssueTitles()
		s.verdict = nil
		s.tracker.Generate(titles, stage, doc.Snapshot(stage))
	}
	s.dialog.Reset()
	s.mu.Unlock()
	s.logger.Info("session %s: %s feedback for stage %d", s.id, result.Kind(), stage)
	s.notify()
	return nil
}

// SelectIssue makes id the subject of the conversation and returns the opening
// teacher turn. Selecting the already selected issue returns (nil, nil).
func (s *Session) SelectIssue(ctx context.Context, id string) (*dialogue.Turn, error) {
	issue, err := s.tracker.Get(id)
	if err != nil {
		return nil, err
	}
	if current, ok := s.dialog.Selected(); ok && current.ID == id {
		return nil, nil
	}
	return s.converse(ctx, func(ctx context.Context, dc orchestrator.DocContext) (*dialogue.Turn, error) {
		return s.dialog.SelectIssue(ctx, issue, dc)
	})
}

// SendMessage adds a student turn to the conversation and returns the teacher reply.
// Blank text does nothing. With no issue selected the message is answered as a
// general question about the current stage.
func (s *Session) SendMessage(ctx context.Context, text string) (*dialogue.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return s.converse(ctx, func(ctx context.Context, dc orchestrator.DocContext) (*dialogue.Turn, error) {
		return s.dialog.SendMessage(ctx, text, dc)
	})
}

func (s *Session) converse(ctx context.Context, call func(context.Context, orchestrator.DocContext) (*dialogue.Turn, error)) (*dialogue.Turn, error) {
	s.mu.Lock()
	dc := orchestrator.DocContext{
		Document:          s.doc.Clone(),
		Stage:             s.stage,
		HasQualityVerdict: s.verdict != nil,
	}
	epoch := s.begin()
	s.mu.Unlock()

	turn, err := call(s.callContext(ctx), dc)

	s.mu.Lock()
	current := s.endLocked(epoch)
	if err != nil && current && !errors.Is(err, ErrDiscarded) {
		s.lastErr = userMessage(err)
	}
	s.mu.Unlock()
	if err != nil && !errors.Is(err, ErrDiscarded) {
		s.logger.Error("conversation for session %s failed: %v", s.id, err)
	}
	s.notify()
	if !current && err == nil {
		return nil, ErrDiscarded
	}
	return turn, err
}

// ReviewIssue asks the model whether the student has fixed issue id in the current
// document. Different issues can be reviewed at the same time; the same issue
// cannot be reviewed twice at once.
func (s *Session) ReviewIssue(ctx context.Context, id string) (issues.Issue, error) {
	s.mu.Lock()
	doc := s.doc.Clone()
	s.lastErr = ""
	s.mu.Unlock()

	issue, err := s.tracker.Review(s.callContext(ctx), id, doc)
	switch {
	case err == nil:
	case errors.Is(err, issues.ErrStale), errors.Is(err, ErrNoIssue),
		errors.Is(err, issues.ErrAlreadyChecking), errors.Is(err, ErrIssueResolved):
	default:
		s.mu.Lock()
		s.lastErr = userMessage(err)
		s.mu.Unlock()
		s.logger.Error("review of %s for session %s failed: %v", id, s.id, err)
	}
	s.notify()
	return issue, err
}

// UpdateDocument applies edit to the document. The stage and coaching state are kept.
func (s *Session) UpdateDocument(edit func(*writing.Document) error) error {
	s.mu.Lock()
	draft := s.doc.Clone()
	if err := edit(draft); err != nil {
		s.mu.Unlock()
		return err
	}
	s.doc = draft
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetDocument replaces the whole document.
func (s *Session) SetDocument(doc *writing.Document) {
	if doc == nil {
		doc = writing.NewDocument()
	}
	s.mu.Lock()
	s.doc = doc.Clone()
	s.mu.Unlock()
	s.notify()
}

// OnStageChanged moves the session to stage and clears every piece of coaching
// state. Entering the review stage generates the outline unless the student
// already has one.
func (s *Session) OnStageChanged(stage writing.Stage) error {
	if _, err := writing.ParseStage(int(stage)); err != nil {
		return err
	}
	s.mu.Lock()
	s.stage = stage
	if stage == writing.StageReview && s.doc.EnsureOutline() {
		s.logger.Debug("session %s: outline generated", s.id)
	}
	s.resetLocked()
	s.tracker.Reset()
	s.dialog.Reset()
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) resetLocked() {
	s.verdict = nil
	s.lastErr = ""
	s.epoch++
	s.inFlight = 0
}

// Advance moves to the next stage once the current one is complete.
func (s *Session) Advance() error {
	s.mu.Lock()
	stage := s.stage
	ok := s.doc.CanAdvance(stage)
	s.mu.Unlock()

	next, hasNext := stage.Next()
	if !ok || !hasNext {
		return ErrCannotAdvance
	}
	return s.OnStageChanged(next)
}

// Back returns to the previous stage. At the first stage it does nothing.
func (s *Session) Back() error {
	prev, ok := s.Stage().Prev()
	if !ok {
		return nil
	}
	return s.OnStageChanged(prev)
}

// StartOver discards the document and returns to the first stage.
func (s *Session) StartOver() error {
	s.mu.Lock()
	s.doc = writing.NewDocument()
	s.mu.Unlock()
	return s.OnStageChanged(writing.FirstStage)
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	v := View{
		SessionID:    s.id,
		Stage:        s.stage,
		StageName:    s.stage.Name(),
		Instructions: s.stage.Instructions(),
		Document:     s.doc.Clone(),
		WordCount:    writing.WordCount(s.doc.Snapshot(s.stage)),
		CanAdvance:   s.doc.CanAdvance(s.stage),
		Loading:      s.inFlight > 0,
	}
	if s.verdict != nil {
		verdict := *s.verdict
		v.QualityVerdict = &verdict
	}
	if s.lastErr != "" {
		msg := s.lastErr
		v.Error = &msg
	}
	s.mu.Unlock()

	v.Issues = s.tracker.Issues()
	v.Conversation = s.dialog.Turns()
	v.NextPhase = s.dialog.NextPhase()
	if selected, ok := s.dialog.Selected(); ok {
		id := selected.ID
		v.SelectedIssueID = &id
	}
	return v
}

// Subscribe registers fn to receive a View after every change. fn runs on the
// goroutine that made the change and must not call back into blocking session
// operations. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(View)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify must be called without s.mu held.
func (s *Session) notify() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(View), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	v := s.View()
	for _, fn := range fns {
		fn(v)
	}
}
