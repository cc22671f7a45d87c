package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"writingcoach/internal/mocks"
	"writingcoach/pkg/coach"
	"writingcoach/pkg/llmsvc"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
	"writingcoach/pkg/persistence"
	"writingcoach/pkg/sessions"
	"writingcoach/pkg/writing"
)

type fixture struct {
	server   *Server
	registry *sessions.Registry
	invoker  *mocks.MockInvoker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	inv := mocks.NewMockInvoker()
	reg := sessions.NewRegistry(inv, time.Minute, time.Minute)
	return &fixture{
		server:   New(reg, append([]Option{WithAccessLog(false)}, opts...)...),
		registry: reg,
		invoker:  inv,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (f *fixture) create(t *testing.T, body any) coach.View {
	t.Helper()
	resp, raw := f.do(t, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var v coach.View
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func errorBody(t *testing.T, raw []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.registry.Create()

	resp, raw := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
	assert.Contains(t, body, "version")
}

func TestCreateAndGetSession(t *testing.T) {
	f := newFixture(t)
	stage := int(writing.StageClaims)
	v := f.create(t, map[string]any{
		"document": map[string]any{"thesis": "Schools should start later."},
		"stage":    stage,
	})
	assert.NotEmpty(t, v.SessionID)
	assert.Equal(t, writing.StageClaims, v.Stage)
	assert.Equal(t, "Schools should start later.", v.Document.Thesis)

	resp, raw := f.do(t, http.MethodGet, "/api/sessions/"+v.SessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got coach.View
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, v.SessionID, got.SessionID)
}

func TestCreateSessionWithoutBody(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)
	assert.Equal(t, writing.FirstStage, v.Stage)
	assert.False(t, v.CanAdvance)
}

func TestCreateSessionInvalidStage(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/sessions", map[string]any{"stage": 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.registry.Count())
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp, raw := f.do(t, http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found", errorBody(t, raw))

	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)

	resp, _ := f.do(t, http.MethodDelete, "/api/sessions/"+v.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.registry.Count())
}

func TestFeedbackEmptyContent(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)

	resp, raw := f.do(t, http.MethodPost, "/api/sessions/"+v.SessionID+"/feedback", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, coach.EmptyContentMessage, errorBody(t, raw))
	assert.Equal(t, 0, f.invoker.CallCount())
}

func TestFeedbackIssuesThenConversation(t *testing.T) {
	f := newFixture(t)
	f.invoker.RespondWithSequence(
		"ISSUES:\n1. Too vague\n2. No clear position",
		"What exactly do you mean by 'bad'?",
		"Good. Can you name who is affected?",
	)
	v := f.create(t, map[string]any{"document": map[string]any{"thesis": "Phones are bad."}})
	base := "/api/sessions/" + v.SessionID

	resp, raw := f.do(t, http.MethodPost, base+"/feedback", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var view coach.View
	require.NoError(t, json.Unmarshal(raw, &view))
	require.Len(t, view.Issues, 2)
	assert.Equal(t, "Too vague", view.Issues[0].Title)
	assert.Nil(t, view.QualityVerdict)

	issueID := view.Issues[0].ID
	resp, raw = f.do(t, http.MethodPost, base+"/issues/"+issueID+"/select", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var selected turnResponse
	require.NoError(t, json.Unmarshal(raw, &selected))
	require.NotNil(t, selected.Turn)
	assert.Equal(t, "What exactly do you mean by 'bad'?", selected.Turn.Text)
	require.NotNil(t, selected.View.SelectedIssueID)
	assert.Equal(t, issueID, *selected.View.SelectedIssueID)

	resp, raw = f.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "They distract students."})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var reply turnResponse
	require.NoError(t, json.Unmarshal(raw, &reply))
	require.NotNil(t, reply.Turn)
	assert.Equal(t, "Good. Can you name who is affected?", reply.Turn.Text)
	assert.Len(t, reply.View.Conversation, 3)

	resp, _ = f.do(t, http.MethodPost, base+"/issues/missing/select", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackServiceFailure(t *testing.T) {
	f := newFixture(t)
	f.invoker.FailWith(&llmsvc.ServiceError{
		Kind: llm.KindFeedback,
		Err:  llmerrors.NewError(llmerrors.ErrorTypeAuth, "401 invalid x-api-key"),
	})
	v := f.create(t, map[string]any{"document": map[string]any{"thesis": "Phones are bad."}})

	resp, raw := f.do(t, http.MethodPost, "/api/sessions/"+v.SessionID+"/feedback", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	msg := errorBody(t, raw)
	assert.Equal(t, llmsvc.GenericErrorMessage, msg)
	assert.NotContains(t, msg, "x-api-key")
}

func TestStageRoutes(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)
	base := "/api/sessions/" + v.SessionID

	resp, _ := f.do(t, http.MethodPost, base+"/advance", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "empty thesis cannot advance")

	resp, raw := f.do(t, http.MethodPut, base+"/document", map[string]any{"thesis": "Cities should fund libraries."})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = f.do(t, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var view coach.View
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, writing.StageClaims, view.Stage)

	resp, raw = f.do(t, http.MethodPost, base+"/back", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, writing.FirstStage, view.Stage)

	resp, raw = f.do(t, http.MethodPost, base+"/stage", map[string]int{"stage": int(writing.StageReview)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, writing.StageReview, view.Stage)
	require.NotNil(t, view.Document.Outline, "entering review generates the outline")

	resp, _ = f.do(t, http.MethodPost, base+"/stage", map[string]int{"stage": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = f.do(t, http.MethodPost, base+"/start-over", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, writing.FirstStage, view.Stage)
	assert.Empty(t, view.Document.Thesis)
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+v.SessionID+"/messages", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscriptDisabled(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/sessions/any/transcript", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTranscript(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "webui.db"))
	require.NoError(t, err)
	defer db.Close()
	store := persistence.NewExchangeStore(db)

	ctx := context.Background()
	for _, resp := range []string{"first", "second", "third"} {
		_, err := store.RecordExchange(ctx, persistence.Exchange{SessionID: "sess-1", Kind: "feedback", Response: resp})
		require.NoError(t, err)
	}

	f := newFixture(t, WithTranscripts(store))
	resp, raw := f.do(t, http.MethodGet, "/api/sessions/sess-1/transcript?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var exchanges []persistence.Exchange
	require.NoError(t, json.Unmarshal(raw, &exchanges))
	require.Len(t, exchanges, 2)
	assert.Equal(t, "third", exchanges[1].Response)

	resp, raw = f.do(t, http.MethodGet, "/api/transcripts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summaries []persistence.SessionSummary
	require.NoError(t, json.Unmarshal(raw, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].Exchanges)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/sess-1/transcript?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogsRejectsBadSince(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/logs?domain=coach", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, raw := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/ws/sessions/"+v.SessionID, nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSocketPushesViews(t *testing.T) {
	f := newFixture(t)
	sess := f.registry.Create()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.server.App().Listener(ln) }()
	defer func() { _ = f.server.App().Shutdown() }()

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/sessions/"+sess.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()

	type pushed struct {
		SessionID string `json:"session_id"`
		Document  struct {
			Thesis string `json:"thesis"`
		} `json:"document"`
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first pushed
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, sess.ID(), first.SessionID)
	assert.Empty(t, first.Document.Thesis)

	doc := writing.NewDocument()
	doc.SetThesis("Trains beat planes for short trips.")
	sess.SetDocument(doc)

	var next pushed
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "Trains beat planes for short trips.", next.Document.Thesis)
}
