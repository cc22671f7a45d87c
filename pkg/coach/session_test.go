package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"writingcoach/internal/mocks"
	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/writing"
)

func fixedClock() func() time.Time {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newSession(t *testing.T, inv llm.Invoker, opts ...Option) *Session {
	t.Helper()
	return New("sess-test", inv, append([]Option{WithClock(fixedClock())}, opts...)...)
}

func withThesis(text string) Option {
	d := writing.NewDocument()
	d.SetThesis(text)
	return WithDocument(d)
}

func TestRequestFeedbackEmptyThesis(t *testing.T) {
	inv := mocks.NewMockInvoker()
	s := newSession(t, inv, withThesis("   "))

	err := s.RequestFeedback(context.Background())
	require.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 0, inv.CallCount(), "no model call for empty content")

	v := s.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, EmptyContentMessage, *v.Error)
	assert.False(t, v.Loading)
}

func TestRequestFeedbackQualityVerdict(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWith("QUALITY: Strong claim")
	s := newSession(t, inv, withThesis("Homework should be optional because rest improves learning."))

	require.NoError(t, s.RequestFeedback(context.Background()))

	v := s.View()
	require.NotNil(t, v.QualityVerdict)
	assert.Equal(t, "Strong claim", *v.QualityVerdict)
	assert.Empty(t, v.Issues)
	assert.Nil(t, v.Error)
	assert.False(t, v.Loading)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.KindFeedback, calls[0].Kind)
	assert.Equal(t, llm.FeedbackMaxTokens, calls[0].MaxTokens)
}

func TestRequestFeedbackIssuesReplaceVerdict(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWithSequence(
		"QUALITY: Fine",
		"ISSUES:\n1. Too vague\n2. No position\n3. Unclear scope\n4. Extra",
	)
	s := newSession(t, inv, withThesis("Phones are bad."))
	ctx := context.Background()

	require.NoError(t, s.RequestFeedback(ctx))
	require.NoError(t, s.RequestFeedback(ctx))

	v := s.View()
	assert.Nil(t, v.QualityVerdict, "issues and a verdict never coexist")
	require.Len(t, v.Issues, 3)
	assert.Equal(t, "Too vague", v.Issues[0].Title)
	for _, is := range v.Issues {
		assert.Equal(t, issues.StatusActive, is.Status)
		assert.Equal(t, "Phones are bad.", is.OriginalContentSnapshot)
		assert.Equal(t, writing.StageThesis, is.Stage)
	}
}

type friendlyErr struct{}

func (friendlyErr) Error() string       { return "provider exploded: 529" }
func (friendlyErr) UserMessage() string { return "The coach is busy right now." }

func TestRequestFeedbackFailureShowsFriendlyMessage(t *testing.T) {
	inv := mocks.NewMockInvoker()
	s := newSession(t, inv, withThesis("A thesis."))

	inv.FailWith(errors.New("dial tcp: refused"))
	require.Error(t, s.RequestFeedback(context.Background()))
	v := s.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, GenericErrorMessage, *v.Error)
	assert.False(t, v.Loading)

	inv.FailWith(friendlyErr{})
	require.Error(t, s.RequestFeedback(context.Background()))
	v = s.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, "The coach is busy right now.", *v.Error)
}

func TestRequestFeedbackBusy(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWith("QUALITY: ok")
	gate := inv.Block()
	s := newSession(t, inv, withThesis("A thesis."))

	done := make(chan error, 1)
	go func() { done <- s.RequestFeedback(context.Background()) }()
	<-inv.Started()

	assert.True(t, s.View().Loading)
	assert.ErrorIs(t, s.RequestFeedback(context.Background()), ErrBusy)

	gate.Release()
	require.NoError(t, <-done)
	assert.False(t, s.View().Loading)
	assert.Equal(t, 1, inv.CallCount())
}

func TestStageChangeResetsEverything(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWithSequence("ISSUES:\n1. Too vague", "What do you mean by bad?")
	s := newSession(t, inv, withThesis("Phones are bad."))
	ctx := context.Background()

	require.NoError(t, s.RequestFeedback(ctx))
	id := s.View().Issues[0].ID
	_, err := s.SelectIssue(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, s.View().Conversation)

	require.NoError(t, s.OnStageChanged(writing.StageClaims))
	v := s.View()
	assert.Equal(t, writing.StageClaims, v.Stage)
	assert.Empty(t, v.Issues)
	assert.Empty(t, v.Conversation)
	assert.Nil(t, v.QualityVerdict)
	assert.Nil(t, v.SelectedIssueID)
	assert.Nil(t, v.Error)
	assert.Equal(t, dialogue.PhaseOpen, v.NextPhase)

	assert.ErrorIs(t, s.OnStageChanged(writing.Stage(7)), writing.ErrInvalidStage)
}

func TestStageChangeDiscardsInFlightFeedback(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWith("ISSUES:\n1. Too vague")
	gate := inv.Block()
	s := newSession(t, inv, withThesis("A thesis."))

	done := make(chan error, 1)
	go func() { done <- s.RequestFeedback(context.Background()) }()
	<-inv.Started()

	require.NoError(t, s.OnStageChanged(writing.StageClaims))
	assert.False(t, s.View().Loading)
	gate.Release()

	assert.ErrorIs(t, <-done, ErrDiscarded)
	assert.Empty(t, s.View().Issues, "late result must not land on the new stage")
}

func TestStageChangeRacingFeedbackNeverKeepsIssues(t *testing.T) {
	// Whichever side wins, the claims stage has no content of its own, so the
	// session must end every round with an empty issue set.
	for i := 0; i < 200; i++ {
		inv := mocks.NewMockInvoker()
		inv.RespondWith("ISSUES:\n1. Too vague\n2. No position")
		s := newSession(t, inv, withThesis("Phones are bad."))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.RequestFeedback(context.Background())
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.OnStageChanged(writing.StageClaims))
		}()
		wg.Wait()

		v := s.View()
		require.Equal(t, writing.StageClaims, v.Stage)
		require.Empty(t, v.Issues, "round %d: issues from the thesis stage survived the stage change", i)
		require.False(t, v.Loading, "round %d", i)
	}
}

func TestSelectIssueAndConverse(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWithSequence("ISSUES:\n1. Too vague", "What makes it vague?", "Can you narrow it?")
	s := newSession(t, inv, withThesis("Phones are bad."))
	ctx := context.Background()
	require.NoError(t, s.RequestFeedback(ctx))
	id := s.View().Issues[0].ID

	turn, err := s.SelectIssue(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, dialogue.SpeakerTeacher, turn.Speaker)
	assert.Equal(t, "What makes it vague?", turn.Text)

	again, err := s.SelectIssue(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, again, "re-selecting is a no-op")

	reply, err := s.SendMessage(ctx, "It does not say which teens")
	require.NoError(t, err)
	assert.Equal(t, "Can you narrow it?", reply.Text)

	v := s.View()
	require.NotNil(t, v.SelectedIssueID)
	assert.Equal(t, id, *v.SelectedIssueID)
	assert.Len(t, v.Conversation, 3)
	assert.Equal(t, dialogue.PhaseGuide, v.NextPhase)

	calls := inv.Calls()
	assert.Equal(t, llm.KindSocraticProbe, calls[1].Kind)
	assert.Equal(t, llm.KindSocraticContinue, calls[2].Kind)

	_, err = s.SelectIssue(ctx, "issue-missing")
	assert.ErrorIs(t, err, ErrNoIssue)
}

func TestSendMessageWithoutIssueIsGeneralQuestion(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWith("A thesis takes a position.")
	s := newSession(t, inv)

	turn, err := s.SendMessage(context.Background(), "What is a thesis?")
	require.NoError(t, err)
	assert.Equal(t, "A thesis takes a position.", turn.Text)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.KindGeneralQuestion, calls[0].Kind)
	last := calls[0].History[len(calls[0].History)-1]
	assert.True(t, strings.Contains(last.Content, "No thesis written yet."))

	blank, err := s.SendMessage(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, blank)
	assert.Equal(t, 1, inv.CallCount())
}

func TestReviewIssue(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWithSequence("ISSUES:\n1. Too vague", "PARTIALLY: Closer, but still broad.", "RESOLVED: Clear now.")
	s := newSession(t, inv, withThesis("Phones are bad."))
	ctx := context.Background()
	require.NoError(t, s.RequestFeedback(ctx))
	id := s.View().Issues[0].ID

	require.NoError(t, s.UpdateDocument(func(d *writing.Document) error {
		d.SetThesis("Phone bans in middle schools improve focus.")
		return nil
	}))

	got, err := s.ReviewIssue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, issues.StatusActive, got.Status)
	assert.Equal(t, "Closer, but still broad.", got.LastFeedback)

	got, err = s.ReviewIssue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, issues.StatusResolved, got.Status)
	assert.Equal(t, "Clear now.", got.ResolutionNote)

	_, err = s.ReviewIssue(ctx, id)
	assert.ErrorIs(t, err, ErrIssueResolved)

	calls := inv.Calls()
	last := calls[len(calls)-1].History
	assert.Contains(t, last[len(last)-1].Content, "Phone bans in middle schools improve focus.")
}

func TestNavigation(t *testing.T) {
	s := newSession(t, mocks.NewMockInvoker())

	assert.ErrorIs(t, s.Advance(), ErrCannotAdvance, "blank thesis")
	require.NoError(t, s.Back(), "back at the first stage is a no-op")
	assert.Equal(t, writing.StageThesis, s.Stage())

	require.NoError(t, s.UpdateDocument(func(d *writing.Document) error {
		d.SetThesis("Cities should fund libraries.")
		return nil
	}))
	require.NoError(t, s.Advance())
	assert.Equal(t, writing.StageClaims, s.Stage())

	require.NoError(t, s.UpdateDocument(func(d *writing.Document) error {
		d.AddClaim("Libraries offer free internet")
		d.AddEvidence(writing.ClaimKey(0), "Pew survey 2019")
		return nil
	}))
	require.NoError(t, s.Advance())
	require.NoError(t, s.Advance())
	assert.Equal(t, writing.StageReview, s.Stage())

	outline := s.Document().OutlineText()
	assert.Contains(t, outline, "THESIS: Cities should fund libraries.")
	assert.Contains(t, outline, "Evidence 1: Pew survey 2019")
	assert.ErrorIs(t, s.Advance(), ErrCannotAdvance, "review is the last stage")

	require.NoError(t, s.Back())
	assert.Equal(t, writing.StageEvidence, s.Stage())

	require.NoError(t, s.StartOver())
	assert.Equal(t, writing.StageThesis, s.Stage())
	assert.Empty(t, s.Document().Thesis)
}

func TestUpdateDocumentErrorKeepsDocument(t *testing.T) {
	s := newSession(t, mocks.NewMockInvoker(), withThesis("Keep me"))
	err := s.UpdateDocument(func(d *writing.Document) error {
		d.SetThesis("changed")
		return d.UpdateClaim(4, "nope")
	})
	require.ErrorIs(t, err, writing.ErrOutOfRange)
	assert.Equal(t, "Keep me", s.Document().Thesis)
}

func TestSubscribeReceivesViews(t *testing.T) {
	inv := mocks.NewMockInvoker()
	inv.RespondWith("QUALITY: Good")
	s := newSession(t, inv, withThesis("A thesis."))

	var mu sync.Mutex
	var views []View
	unsubscribe := s.Subscribe(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	require.NoError(t, s.RequestFeedback(context.Background()))

	mu.Lock()
	require.NotEmpty(t, views)
	sawLoading := false
	for _, v := range views {
		if v.Loading {
			sawLoading = true
		}
	}
	final := views[len(views)-1]
	count := len(views)
	mu.Unlock()

	assert.True(t, sawLoading, "subscribers see the loading state")
	require.NotNil(t, final.QualityVerdict)
	assert.Equal(t, "Good", *final.QualityVerdict)

	unsubscribe()
	require.NoError(t, s.OnStageChanged(writing.StageClaims))
	mu.Lock()
	assert.Len(t, views, count)
	mu.Unlock()
}

func TestCallInfoCarriesSessionID(t *testing.T) {
	inv := mocks.NewMockInvoker()
	var got llm.CallInfo
	inv.OnInvoke(func(ctx context.Context, _ llm.Request) (string, error) {
		got = llm.CallInfoFrom(ctx)
		return "QUALITY: ok", nil
	})
	s := newSession(t, inv, withThesis("A thesis."))
	require.NoError(t, s.RequestFeedback(context.Background()))
	assert.Equal(t, "sess-test", got.SessionID)
}
