package transfer

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/utils/response"
	"github.com/quizforge/api/utils/validation"
)

// TransferHandler handles export, import, and share token requests
type TransferHandler struct {
	transferService *services.TransferService
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(transferService *services.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
	}
}

// ShareDocument handles POST /api/v1/documents/:fingerprint/share and mints
// a token granting export access to this document
func (h *TransferHandler) ShareDocument(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	token, expiresAt, err := h.transferService.IssueShareToken(fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return response.NotFound(c, "Document not found")
		case errors.Is(err, services.ErrDocumentNotComplete):
			return response.Conflict(c, "Document is still processing; share it once extraction completes")
		default:
			return response.InternalServerError(c, "Failed to issue share token")
		}
	}

	return response.Success(c, fiber.Map{
		"fingerprint": fingerprint,
		"token":       token,
		"expires_at":  expiresAt,
	})
}

// ExportBundle handles GET /api/v1/documents/:fingerprint/export. The share
// token middleware has already verified access when this runs.
func (h *TransferHandler) ExportBundle(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	bundle, err := h.transferService.Export(fingerprint, page, limit)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return response.NotFound(c, "Document not found")
		case errors.Is(err, services.ErrDocumentNotComplete):
			return response.Conflict(c, "Document is still processing and cannot be exported yet")
		default:
			return response.InternalServerError(c, "Failed to export document")
		}
	}

	return response.Success(c, bundle)
}

// ImportBundle handles POST /api/v1/import. Re-importing the same bundle is
// safe; existing ordinals are left untouched.
func (h *TransferHandler) ImportBundle(c *fiber.Ctx) error {
	var bundle services.TransferBundle
	if err := c.BodyParser(&bundle); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	// The share token that authorized this transfer names the document it
	// covers; the bundle must be for that document
	if shared, ok := c.Locals("share_fingerprint").(string); ok && shared != bundle.Document.Fingerprint {
		return response.Forbidden(c, "Share token is for a different document")
	}

	result, err := h.transferService.Import(&bundle)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBadBundle):
			return response.BadRequest(c, err.Error())
		case errors.Is(err, services.ErrDocumentNotComplete):
			return response.Conflict(c, "A partial extraction for this document already exists here")
		default:
			return response.InternalServerError(c, "Failed to import bundle")
		}
	}

	if result.Created {
		return response.Created(c, result)
	}
	return response.Success(c, result)
}
