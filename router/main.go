package router

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/config"
	"github.com/quizforge/api/database"
	"github.com/quizforge/api/handlers"
	document_handlers "github.com/quizforge/api/handlers/document"
	progress_handlers "github.com/quizforge/api/handlers/progress"
	quiz_handlers "github.com/quizforge/api/handlers/quiz"
	transfer_handlers "github.com/quizforge/api/handlers/transfer"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/services/digitalocean"
	"github.com/quizforge/api/utils"
	"github.com/quizforge/api/utils/cache"
	"github.com/quizforge/api/utils/middleware"
	"github.com/quizforge/api/utils/sharetoken"
)

// SetupRoutes builds the service stack on the shared store and Redis
// connection and registers every route group. Redis holds extraction job
// state, the per-document active-job lock, and cancellation flags; the
// pipeline cannot run without it.
func SetupRoutes(app *fiber.App, store database.Storage, redisCache *cache.RedisCache) {
	env, err := config.Get()
	if err != nil {
		log.Fatal("Failed to load environment configuration")
	}

	// Share tokens sign the transfer surface
	if env.SHARE_TOKEN_SECRET == "" {
		log.Fatal("SHARE_TOKEN_SECRET environment variable is not set")
	}
	issuer := env.SHARE_TOKEN_ISSUER
	if issuer == "" {
		issuer = "quizforge-api"
	}
	tokens := sharetoken.NewManager(sharetoken.Config{
		Secret: env.SHARE_TOKEN_SECRET,
		Issuer: issuer,
	})

	tracker := services.NewProgressTracker(redisCache)

	// Inference client for question extraction
	if env.MODEL_ACCESS_KEY == "" {
		log.Fatal("MODEL_ACCESS_KEY environment variable is not set")
	}
	inference := digitalocean.NewInferenceClient(digitalocean.InferenceConfig{
		APIKey:  env.MODEL_ACCESS_KEY,
		BaseURL: env.INFERENCE_BASE_URL,
		Model:   env.INFERENCE_MODEL,
	})

	// Document ingestion (Spaces archival and OCR switch on per env)
	documentService := services.NewDocumentService(store, env)

	var pageReader services.PageReader
	if ocr := documentService.OCR(); ocr != nil {
		pageReader = ocr
	}

	worker := services.NewExtractionWorker(inference, pageReader, services.WorkerConfig{
		Timeout: time.Duration(env.UNIT_TIMEOUT_SECONDS) * time.Second,
	})

	scheduler := services.NewExtractionScheduler(store, worker, tracker, services.SchedulerConfig{
		MinCallInterval: time.Duration(env.ORACLE_MIN_INTERVAL_SECONDS) * time.Second,
		FeedCapacity:    services.DefaultFeedCapacity,
	})

	planner := services.NewChunkPlanner(services.DefaultPlannerConfig())
	pipeline := services.NewQuizPipeline(store, planner, scheduler, tracker)

	sessionService := services.NewSessionService(store)
	transferService := services.NewTransferService(store, tokens)

	// Handlers
	healthHandler := handlers.NewHealthHandler(store, redisCache, inference, documentService.OCR())
	documentHandler := document_handlers.NewDocumentHandler(documentService, pipeline)
	progressHandler := progress_handlers.NewProgressHandler(pipeline, tracker)
	quizHandler := quiz_handlers.NewQuizHandler(sessionService)
	transferHandler := transfer_handlers.NewTransferHandler(transferService)
	shareToken := middleware.NewShareTokenMiddleware(tokens)

	// Apply security middleware
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoints (public)
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, store))
	app.Get("/health", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, store))
	app.Get("/health/detailed", healthHandler.Detailed)

	// API v1 group
	api := app.Group("/api/v1")

	// Documents: submission, listing, questions, lifecycle
	documents := api.Group("/documents")
	documents.Post("/", documentHandler.SubmitDocument)                  // Submit file, page images, or pasted text
	documents.Get("/", documentHandler.ListDocuments)                    // List document summaries
	documents.Get("/:fingerprint", documentHandler.GetDocument)          // Document with job snapshot
	documents.Delete("/:fingerprint", documentHandler.DeleteDocument)    // Delete document and stored questions
	documents.Get("/:fingerprint/questions", documentHandler.GetQuestions) // Paginated questions, optional unit filter
	documents.Get("/:fingerprint/source", documentHandler.DownloadSource)  // Re-download the archived upload
	documents.Post("/:fingerprint/cancel", documentHandler.CancelExtraction) // Cooperative cancellation

	// Progress: live SSE feed plus a polling fallback
	documents.Get("/:fingerprint/events", progressHandler.StreamEvents) // SSE with Last-Event-ID replay
	api.Get("/jobs/:job_id", progressHandler.GetJobStatus)              // Poll job state

	// Quiz sessions
	documents.Get("/:fingerprint/session", quizHandler.GetSession)             // Fetch or create session
	documents.Post("/:fingerprint/session", quizHandler.GetSession)            // Explicit session creation
	documents.Post("/:fingerprint/session/answers", quizHandler.SubmitAnswer)  // Grade one answer
	documents.Delete("/:fingerprint/session", quizHandler.ResetSession)        // Start over

	// Transfer: share tokens gate the export and import routes
	documents.Post("/:fingerprint/share", transferHandler.ShareDocument)                      // Mint share token
	documents.Get("/:fingerprint/export", shareToken.Required(), transferHandler.ExportBundle) // Export bundle page
	api.Post("/import", shareToken.Valid(), transferHandler.ImportBundle)                     // Import bundle
}
