// Package orchestrator drives the tutoring conversation for the selected issue, or
// the general conversation when no issue is selected.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/prompts"
	"writingcoach/pkg/writing"
)

// ErrDiscarded is returned when a reply arrives after its conversation was replaced
// by an issue switch or a reset. The reply is dropped.
var ErrDiscarded = errors.New("reply discarded: conversation changed")

// DocContext is the writing state a turn is built against.
type DocContext struct {
	Document          *writing.Document
	Stage             writing.Stage
	HasQualityVerdict bool
}

// Orchestrator owns the current conversation.
//
// Operations on one conversation run through a FIFO queue, so teacher turns are
// appended in the order the operations were invoked even when model calls finish
// out of order. Every conversation has its own queue and epoch; switching issue or
// resetting starts a new epoch, and operations from an older epoch drop their reply.
type Orchestrator struct {
	mu       sync.Mutex
	invoker  llm.Invoker
	conv     *dialogue.Conversation
	selected *issues.Issue
	epoch    uint64
	tail     chan struct{}
	now      func() time.Time
	onChange func()
	logger   *logx.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithChangeHook registers fn to run, without locks held, whenever the selection or
// the conversation changes before a model call returns.
func WithChangeHook(fn func()) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

// New creates an orchestrator with an empty general conversation.
func New(invoker llm.Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		invoker:  invoker,
		conv:     dialogue.New(""),
		tail:     closedChan(),
		now:      time.Now,
		onChange: func() {},
		logger:   logx.NewLogger("dialogue"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Selected returns a copy of the selected issue.
func (o *Orchestrator) Selected() (issues.Issue, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == nil {
		return issues.Issue{}, false
	}
	return *o.selected, true
}

// Turns returns the current conversation.
func (o *Orchestrator) Turns() []dialogue.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.Turns()
}

// NextPhase is the teaching phase the next teacher turn would use.
func (o *Orchestrator) NextPhase() dialogue.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.NextPhase()
}

// Reset clears the selection and the conversation. Replies still in flight are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startConversationLocked(nil)
}

func (o *Orchestrator) startConversationLocked(issue *issues.Issue) {
	o.epoch++
	o.selected = issue
	id := ""
	if issue != nil {
		id = issue.ID
	}
	o.conv = dialogue.New(id)
	o.tail = closedChan()
}

// enqueueLocked reserves the next slot in the conversation queue. The caller waits on
// prev before calling the model and must call done when finished.
func (o *Orchestrator) enqueueLocked() (prev <-chan struct{}, done func()) {
	prev = o.tail
	next := make(chan struct{})
	o.tail = next
	var once sync.Once
	return prev, func() { once.Do(func() { close(next) }) }
}

// SelectIssue switches the conversation to issue and asks for the opening teacher
// turn. Selecting the issue that is already selected does nothing and returns nil.
func (o *Orchestrator) SelectIssue(ctx context.Context, issue issues.Issue, dc DocContext) (*dialogue.Turn, error) {
	o.mu.Lock()
	if o.selected != nil && o.selected.ID == issue.ID {
		o.mu.Unlock()
		return nil, nil
	}
	selected := issue
	o.startConversationLocked(&selected)
	// The opening prompt sees the fresh conversation even if a message is sent
	// before this call reaches the model.
	p := prompts.BuildSocraticPrompt(selected.Ref(), dc.Document, dialogue.New(issue.ID))
	epoch := o.epoch
	prev, done := o.enqueueLocked()
	o.mu.Unlock()
	defer done()

	o.logger.Info("Selected issue %s", issue.ID)
	o.onChange()
	if err := waitTurn(ctx, prev); err != nil {
		return nil, err
	}

	o.mu.Lock()
	current := o.epoch == epoch
	o.mu.Unlock()
	if !current {
		return nil, ErrDiscarded
	}
	return o.complete(ctx, epoch, p.Request())
}

// waitTurn blocks until the call ahead in the queue is done or ctx ends.
func waitTurn(ctx context.Context, prev <-chan struct{}) error {
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage records the student's message right away and asks for the teacher's
// reply. With an issue selected the reply continues the Socratic dialogue in the
// phase given by the student turns so far; otherwise it answers a general question.
// Empty or blank text does nothing and returns nil.
//
// The student turn stays in the conversation even when the model call fails.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, dc DocContext) (*dialogue.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	o.mu.Lock()
	student := o.conv.AppendStudent(text, o.now())
	ownIndex := o.conv.Len() - 1
	epoch := o.epoch
	var selected *issues.Issue
	if o.selected != nil {
		cp := *o.selected
		selected = &cp
	}
	prev, done := o.enqueueLocked()
	o.mu.Unlock()
	defer done()

	o.onChange()
	if err := waitTurn(ctx, prev); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return nil, ErrDiscarded
	}
	// Student turns queued behind this one are not part of its prompt.
	view := o.viewUpToLocked(ownIndex)
	var p prompts.Prompt
	if selected != nil {
		p = prompts.BuildSocraticPrompt(selected.Ref(), dc.Document, view)
	} else {
		p = prompts.BuildGeneralPrompt(student.Text, dc.Document, dc.Stage, dc.HasQualityVerdict, view)
	}
	o.mu.Unlock()

	logx.Debug(ctx, "dialogue", "message in %s phase (kind %s)", p.Phase, p.Kind)
	return o.complete(ctx, epoch, p.Request())
}

// viewUpToLocked copies the conversation as the turn at index should see it: student
// turns queued after it are left out, and it comes last, after any teacher replies to
// earlier messages that completed while it waited.
func (o *Orchestrator) viewUpToLocked(index int) *dialogue.Conversation {
	turns := o.conv.Turns()
	view := dialogue.New(o.conv.IssueID())
	for i, t := range turns {
		switch {
		case i == index:
			continue
		case t.Speaker == dialogue.SpeakerStudent:
			if i < index {
				view.AppendStudent(t.Text, t.Timestamp)
			}
		default:
			view.AppendTeacher(t.Text, t.Timestamp)
		}
	}
	own := turns[index]
	view.AppendStudent(own.Text, own.Timestamp)
	return view
}

func (o *Orchestrator) complete(ctx context.Context, epoch uint64, req llm.Request) (*dialogue.Turn, error) {
	reply, err := o.invoker.Invoke(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch {
		logx.Debug(ctx, "dialogue", "discarding %s reply from an abandoned conversation", req.Kind)
		return nil, ErrDiscarded
	}
	if err != nil {
		return nil, err
	}
	turn := o.conv.AppendTeacher(strings.TrimSpace(reply), o.now())
	return &turn, nil
}
