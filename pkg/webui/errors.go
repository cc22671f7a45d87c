package webui

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"writingcoach/pkg/coach"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/writing"
)

var errSessionNotFound = errors.New("session not found")

const internalErrorMessage = "internal error"

type userMessager interface {
	UserMessage() string
}

// statusFor maps a domain error to an HTTP status and the message the client sees.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	var um userMessager
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, coach.ErrEmptyContent):
		return fiber.StatusUnprocessableEntity, coach.EmptyContentMessage
	case errors.Is(err, writing.ErrInvalidStage), errors.Is(err, writing.ErrOutOfRange):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, errSessionNotFound), errors.Is(err, coach.ErrNoIssue):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, coach.ErrBusy),
		errors.Is(err, issues.ErrAlreadyChecking),
		errors.Is(err, issues.ErrStale),
		errors.Is(err, coach.ErrIssueResolved),
		errors.Is(err, coach.ErrCannotAdvance),
		errors.Is(err, coach.ErrDiscarded):
		return fiber.StatusConflict, err.Error()
	case errors.As(err, &um):
		return fiber.StatusBadGateway, um.UserMessage()
	default:
		return fiber.StatusInternalServerError, internalErrorMessage
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code, msg := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
