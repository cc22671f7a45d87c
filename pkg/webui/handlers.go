package webui

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"writingcoach/pkg/coach"
	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/writing"
)

type createSessionRequest struct {
	Document *writing.Document `json:"document"`
	Stage    *int              `json:"stage"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type stageRequest struct {
	Stage int `json:"stage"`
}

// turnResponse carries a conversation turn with the view it produced. Turn is nil
// when the call was a no-op, such as re-selecting the selected issue.
type turnResponse struct {
	Turn *dialogue.Turn `json:"turn"`
	View coach.View     `json:"view"`
}

type reviewResponse struct {
	Issue issues.Issue `json:"issue"`
	View  coach.View   `json:"view"`
}

func (s *Server) session(c *fiber.Ctx) (*coach.Session, error) {
	sess, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return nil, errSessionNotFound
	}
	return sess, nil
}

func (s *Server) callContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(c.UserContext(), s.callTimeout)
	}
	return context.WithCancel(c.UserContext())
}

func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var opts []coach.Option
	if req.Document != nil {
		opts = append(opts, coach.WithDocument(req.Document))
	}
	if req.Stage != nil {
		stage, err := writing.ParseStage(*req.Stage)
		if err != nil {
			return err
		}
		opts = append(opts, coach.WithStage(stage))
	}

	sess := s.registry.Create(opts...)
	return c.Status(fiber.StatusCreated).JSON(sess.View())
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.View())
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if !s.registry.Delete(c.Params("id")) {
		return errSessionNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePutDocument(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	doc := writing.NewDocument()
	if err := parseBody(c, doc); err != nil {
		return err
	}
	sess.SetDocument(doc)
	return c.JSON(sess.View())
}

func (s *Server) handleFeedback(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(c)
	defer cancel()

	if err := sess.RequestFeedback(ctx); err != nil {
		return err
	}
	return c.JSON(sess.View())
}

func (s *Server) handleSelectIssue(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(c)
	defer cancel()

	turn, err := sess.SelectIssue(ctx, c.Params("issueID"))
	if err != nil {
		return err
	}
	return c.JSON(turnResponse{Turn: turn, View: sess.View()})
}

func (s *Server) handleReviewIssue(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(c)
	defer cancel()

	issue, err := sess.ReviewIssue(ctx, c.Params("issueID"))
	if err != nil {
		return err
	}
	return c.JSON(reviewResponse{Issue: issue, View: sess.View()})
}

func (s *Server) handleMessage(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.callContext(c)
	defer cancel()

	turn, err := sess.SendMessage(ctx, req.Text)
	if err != nil {
		return err
	}
	return c.JSON(turnResponse{Turn: turn, View: sess.View()})
}

func (s *Server) handleStage(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req stageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	stage, err := writing.ParseStage(req.Stage)
	if err != nil {
		return err
	}
	if err := sess.OnStageChanged(stage); err != nil {
		return err
	}
	return c.JSON(sess.View())
}

func (s *Server) handleAdvance(c *fiber.Ctx) error {
	return s.stageMove(c, (*coach.Session).Advance)
}

func (s *Server) handleBack(c *fiber.Ctx) error {
	return s.stageMove(c, (*coach.Session).Back)
}

func (s *Server) handleStartOver(c *fiber.Ctx) error {
	return s.stageMove(c, (*coach.Session).StartOver)
}

func (s *Server) stageMove(c *fiber.Ctx, move func(*coach.Session) error) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := move(sess); err != nil {
		return err
	}
	return c.JSON(sess.View())
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	if s.transcripts == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "transcripts are not enabled")
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}
	exchanges, err := s.transcripts.ListExchanges(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(exchanges)
}

func (s *Server) handleTranscriptSessions(c *fiber.Ctx) error {
	if s.transcripts == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "transcripts are not enabled")
	}
	summaries, err := s.transcripts.ListSessions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(summaries)
}
