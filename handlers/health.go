package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/services/digitalocean"
	"github.com/quizforge/api/utils/cache"
)

func HandleCheckHealth(c *fiber.Ctx, store database.Storage) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HealthHandler reports liveness of the collaborators the extraction
// pipeline depends on
type HealthHandler struct {
	store     database.Storage
	cache     *cache.RedisCache
	inference *digitalocean.InferenceClient
	ocr       *services.OCRClient
}

// NewHealthHandler creates a new health handler. The cache, inference, and
// OCR clients may be nil when the corresponding feature is disabled.
func NewHealthHandler(store database.Storage, redisCache *cache.RedisCache, inference *digitalocean.InferenceClient, ocr *services.OCRClient) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     redisCache,
		inference: inference,
		ocr:       ocr,
	}
}

// Detailed handles GET /health/detailed and checks each dependency with a
// short timeout so a dead collaborator cannot hang the probe
func (h *HealthHandler) Detailed(c *fiber.Ctx) error {
	checkCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true

	if err := h.store.HealthCheck(); err != nil {
		checks["database"] = fiber.Map{"status": "down", "error": err.Error()}
		healthy = false
	} else {
		checks["database"] = fiber.Map{"status": "up"}
	}

	if h.cache != nil {
		if err := h.cache.Ping(checkCtx); err != nil {
			checks["redis"] = fiber.Map{"status": "down", "error": err.Error()}
			healthy = false
		} else {
			checks["redis"] = fiber.Map{"status": "up"}
		}
	} else {
		checks["redis"] = fiber.Map{"status": "disabled"}
	}

	if h.inference != nil {
		if err := h.inference.HealthCheck(checkCtx); err != nil {
			checks["inference"] = fiber.Map{"status": "down", "error": err.Error()}
			healthy = false
		} else {
			checks["inference"] = fiber.Map{"status": "up"}
		}
	} else {
		checks["inference"] = fiber.Map{"status": "disabled"}
	}

	// OCR is optional; scanned documents fail without it but the service
	// itself stays up
	if h.ocr != nil {
		if err := h.ocr.HealthCheck(checkCtx); err != nil {
			checks["ocr"] = fiber.Map{"status": "down", "error": err.Error()}
		} else {
			checks["ocr"] = fiber.Map{"status": "up"}
		}
	} else {
		checks["ocr"] = fiber.Map{"status": "disabled"}
	}

	status := "ok"
	statusCode := fiber.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": healthy,
		"data": fiber.Map{
			"status": status,
			"checks": checks,
		},
	})
}
