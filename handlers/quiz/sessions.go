package quiz

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/utils/response"
	"github.com/quizforge/api/utils/validation"
)

// QuizHandler handles quiz session requests
type QuizHandler struct {
	validator      *validation.Validator
	sessionService *services.SessionService
}

// NewQuizHandler creates a new quiz handler
func NewQuizHandler(sessionService *services.SessionService) *QuizHandler {
	return &QuizHandler{
		validator:      validation.NewValidator(),
		sessionService: sessionService,
	}
}

// AnswerRequest is the body for answering one question
type AnswerRequest struct {
	Ordinal  int `json:"ordinal" validate:"required,gte=1"`
	Selected int `json:"selected" validate:"gte=0"`
}

// GetSession handles GET /api/v1/documents/:fingerprint/session, creating
// the session on first access
func (h *QuizHandler) GetSession(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	session, err := h.sessionService.GetOrCreateSession(fingerprint)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to load session")
	}

	return response.Success(c, session.ToResponse())
}

// SubmitAnswer handles POST /api/v1/documents/:fingerprint/session/answers
func (h *QuizHandler) SubmitAnswer(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	result, err := h.sessionService.RecordAnswer(fingerprint, req.Ordinal, req.Selected)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return response.NotFound(c, "Document not found")
		case errors.Is(err, services.ErrQuestionNotFound):
			return response.NotFound(c, "Question not found")
		case errors.Is(err, services.ErrInvalidSelection):
			return response.BadRequest(c, err.Error())
		default:
			return response.InternalServerError(c, "Failed to record answer")
		}
	}

	return response.Success(c, result)
}

// ResetSession handles DELETE /api/v1/documents/:fingerprint/session
func (h *QuizHandler) ResetSession(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	if err := h.sessionService.ResetSession(fingerprint); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to reset session")
	}

	return response.NoContent(c)
}
