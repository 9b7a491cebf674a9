package document

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/utils/response"
	"github.com/quizforge/api/utils/validation"
)

// DocumentHandler handles document-related requests
type DocumentHandler struct {
	validator       *validation.Validator
	documentService *services.DocumentService
	pipeline        *services.QuizPipeline
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(documentService *services.DocumentService, pipeline *services.QuizPipeline) *DocumentHandler {
	return &DocumentHandler{
		validator:       validation.NewValidator(),
		documentService: documentService,
		pipeline:        pipeline,
	}
}

// SubmitTextRequest is the JSON body for pasted-text submissions
type SubmitTextRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=512"`
	Text        string `json:"text" validate:"required,min=1"`
}

// SubmitDocument handles POST /api/v1/documents. It accepts a multipart
// upload (single "file" field or a sequence of "pages" image fields) or a
// JSON body with pasted text, runs ingestion, and starts extraction. The
// first unit's questions are included in the response.
func (h *DocumentHandler) SubmitDocument(c *fiber.Ctx) error {
	var input *services.SubmitInput

	form, formErr := c.MultipartForm()
	if formErr == nil && form != nil {
		switch {
		case len(form.File["pages"]) > 0:
			in, err := h.ingestPages(c, form, form.File["pages"])
			if err != nil {
				return ingestErrorResponse(c, err)
			}
			input = in
		case len(form.File["file"]) > 0:
			in, err := h.ingestFile(c, form.File["file"][0])
			if err != nil {
				return ingestErrorResponse(c, err)
			}
			input = in
		default:
			return response.BadRequest(c, "Provide a file upload, page images, or a JSON text body")
		}
	} else {
		var req SubmitTextRequest
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			return response.ValidationError(c, err)
		}

		in, err := h.documentService.IngestText(req.DisplayName, req.Text)
		if err != nil {
			return ingestErrorResponse(c, err)
		}
		input = in
	}

	result, err := h.pipeline.Submit(c.Context(), *input)
	switch {
	case errors.Is(err, services.ErrAlreadyProcessing):
		return response.Accepted(c, "Extraction already in progress", submitPayload(result))
	case errors.Is(err, services.ErrNoQuestionsExtracted):
		return response.ErrorWithDetails(c, fiber.StatusUnprocessableEntity,
			"No questions could be extracted from this document",
			"NO_QUESTIONS_EXTRACTED",
			"The source material may not contain multiple-choice questions")
	case err != nil:
		return response.InternalServerError(c, "Failed to process document: "+err.Error())
	}

	if result.FromCache {
		return response.Success(c, submitPayload(result))
	}
	return response.Created(c, submitPayload(result))
}

func (h *DocumentHandler) ingestFile(c *fiber.Ctx, file *multipart.FileHeader) (*services.SubmitInput, error) {
	if ok, allowed := services.ValidateFileType(file.Filename); !ok {
		return nil, errors.New("unsupported file type, allowed: " + allowed)
	}

	content, err := readFormFile(file)
	if err != nil {
		return nil, errReadUpload
	}

	return h.documentService.IngestUpload(c.Context(), file.Filename, content)
}

func (h *DocumentHandler) ingestPages(c *fiber.Ctx, form *multipart.Form, files []*multipart.FileHeader) (*services.SubmitInput, error) {
	displayName := c.FormValue("display_name")
	if displayName == "" && len(form.Value["display_name"]) > 0 {
		displayName = form.Value["display_name"][0]
	}
	if displayName == "" {
		displayName = files[0].Filename
	}

	pages := make([]services.PageImage, 0, len(files))
	for _, file := range files {
		content, err := readFormFile(file)
		if err != nil {
			return nil, errReadUpload
		}
		pages = append(pages, services.PageImage{Name: file.Filename, Data: content})
	}

	return h.documentService.IngestImages(c.Context(), displayName, pages)
}

var errReadUpload = errors.New("failed to read uploaded file")

// ingestErrorResponse maps ingestion failures to HTTP responses. Everything
// a client can fix (wrong type, empty content, oversize, broken PDF) is a
// 400; infrastructure failures are 500s.
func ingestErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errReadUpload):
		return response.InternalServerError(c, errReadUpload.Error())
	case errors.Is(err, services.ErrEmptyDocument):
		return response.BadRequest(c, "Document contains no extractable content")
	default:
		return response.BadRequest(c, err.Error())
	}
}

// ListDocuments handles GET /api/v1/documents
func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	documents, total, err := h.documentService.ListDocuments(page, limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch documents")
	}

	pagination := response.CalculatePagination(page, limit, total)
	return response.Paginated(c, documentSummaries(documents), pagination)
}

// documentSummaries maps documents to their listing view
func documentSummaries(documents []model.Document) []model.DocumentSummary {
	summaries := make([]model.DocumentSummary, len(documents))
	for i := range documents {
		summaries[i] = documents[i].ToSummary()
	}
	return summaries
}

// GetDocument handles GET /api/v1/documents/:fingerprint and returns the
// document together with its extraction job snapshot, when one exists
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	doc, job, err := h.pipeline.Status(c.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to fetch document")
	}

	payload := fiber.Map{"document": doc}
	if job != nil {
		payload["job"] = job
	}
	return response.Success(c, payload)
}

// GetQuestions handles GET /api/v1/documents/:fingerprint/questions with
// page, limit, and an optional unit filter
func (h *DocumentHandler) GetQuestions(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	var unit *int
	if unitStr := c.Query("unit"); unitStr != "" {
		u, err := strconv.Atoi(unitStr)
		if err != nil || u < 1 {
			return response.BadRequest(c, "Invalid unit number")
		}
		unit = &u
	}

	questions, total, err := h.documentService.GetQuestions(fingerprint, page, limit, unit)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to fetch questions")
	}

	records := make([]*model.QuestionResponse, len(questions))
	for i := range questions {
		records[i] = questions[i].ToResponse()
	}

	pagination := response.CalculatePagination(page, limit, total)
	return response.Paginated(c, records, pagination)
}

// DownloadSource handles GET /api/v1/documents/:fingerprint/source. Text
// documents stream back as the archived original file; image sets, archived
// one object per page, return a per-page URL listing instead.
func (h *DocumentHandler) DownloadSource(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	source, pages, err := h.documentService.FetchArchivedSource(c.Context(), fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return response.NotFound(c, "Document not found")
		case errors.Is(err, services.ErrNoArchive):
			return response.NotFound(c, "No archived upload for this document")
		default:
			return response.InternalServerError(c, "Failed to fetch archived upload")
		}
	}

	if source != nil {
		c.Set("Content-Type", source.ContentType)
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", source.Filename))
		return c.Send(source.Data)
	}
	return response.Success(c, fiber.Map{"pages": pages})
}

// DeleteDocument handles DELETE /api/v1/documents/:fingerprint
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	if err := h.documentService.DeleteDocument(c.Context(), fingerprint); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to delete document")
	}

	// Drop the in-process replay feed along with the stored rows
	h.pipeline.DropFeed(fingerprint)

	return response.NoContent(c)
}

// CancelExtraction handles POST /api/v1/documents/:fingerprint/cancel
func (h *DocumentHandler) CancelExtraction(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	if err := h.pipeline.Cancel(c.Context(), fingerprint); err != nil {
		if errors.Is(err, services.ErrNoActiveJob) {
			return response.NotFound(c, "No active extraction for this document")
		}
		return response.InternalServerError(c, "Failed to cancel extraction: "+err.Error())
	}

	return response.SuccessWithMessage(c, "Cancellation requested", fiber.Map{
		"fingerprint": fingerprint,
	})
}

func submitPayload(result *services.SubmitResult) fiber.Map {
	records := make([]*model.QuestionResponse, len(result.InitialQuestions))
	for i := range result.InitialQuestions {
		records[i] = result.InitialQuestions[i].ToResponse()
	}

	payload := fiber.Map{
		"job_id":                result.JobID,
		"from_cache":            result.FromCache,
		"planned_units":         result.PlannedUnits,
		"questions":             records,
		"completed_with_errors": result.CompletedWithErrors,
	}
	if result.Document != nil {
		payload["document"] = result.Document.ToSummary()
	}
	return payload
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
