package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils/cache"
)

// TTL configurations for job states
const (
	JobStateTTLSuccess = 1 * time.Hour   // 1 hour for successful jobs
	JobStateTTLFailure = 24 * time.Hour  // 24 hours for failed jobs
	JobStateTTLPending = 24 * time.Hour  // 24 hours for pending/processing jobs
	JobCancelTTL       = 5 * time.Minute // lifetime of the cancellation flag
)

// Progress event types emitted by the extraction pipeline
const (
	EventStarted             = "started"
	EventProgress            = "progress"
	EventWarning             = "warning"
	EventFirstBatchReady     = "first_batch_ready"
	EventUnitCompleted       = "unit_completed"
	EventProcessingComplete  = "processing_complete"
	EventProcessingCancelled = "processing_cancelled"
	EventProcessingError     = "processing_error"
)

// ProgressEvent represents a progress update event sent to clients via SSE
type ProgressEvent struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// Position in the per-document event feed, assigned on publish
	Seq uint64 `json:"seq,omitempty"`

	// Progress info
	Progress int    `json:"progress"` // 0-100
	Phase    string `json:"phase"`    // Current phase
	Message  string `json:"message"`  // User-friendly message

	// Unit info (for extraction phase)
	PlannedUnits   int `json:"planned_units,omitempty"`
	CompletedUnits int `json:"completed_units,omitempty"`
	CurrentUnit    int `json:"current_unit,omitempty"`

	// Question counts
	NewQuestions   int `json:"new_questions,omitempty"`
	TotalQuestions int `json:"total_questions,omitempty"`

	// Detailed info for logs UI
	Detail     string `json:"detail,omitempty"`
	Duration   string `json:"duration,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`

	// Error info (for warning/error events)
	ErrorType    string `json:"error_type,omitempty"` // "network", "llm", "timeout", ...
	ErrorMessage string `json:"error_message,omitempty"`
	Recoverable  bool   `json:"recoverable,omitempty"`

	// Completion info
	CompletedWithErrors bool `json:"completed_with_errors,omitempty"`
	FromCache           bool `json:"from_cache,omitempty"`

	// Timing
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressCallback is a function that receives progress events
// Return an error to abort the extraction
type ProgressCallback func(ProgressEvent) error

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypePDF        ErrorType = "pdf"
	ErrorTypeOCR        ErrorType = "ocr"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ErrJobConflict means another extraction job already holds the document's
// active-job slot
var ErrJobConflict = errors.New("document already has an active extraction job")

// ProgressTracker manages extraction job state in Redis
type ProgressTracker struct {
	cache *cache.RedisCache
}

// NewProgressTracker creates a new progress tracker instance
func NewProgressTracker(redisCache *cache.RedisCache) *ProgressTracker {
	return &ProgressTracker{cache: redisCache}
}

// CreateJob creates a new extraction job and marks it as the active job for
// the document fingerprint. At most one active job exists per document: the
// active-job key is claimed with SETNX, so exactly one of any concurrent
// submissions wins and the rest get ErrJobConflict.
func (pt *ProgressTracker) CreateJob(ctx context.Context, fingerprint string, documentID uint) (*model.ExtractionJob, error) {
	// Generate job ID: {fingerprint_prefix}_{timestamp}
	jobID := fmt.Sprintf("%s_%d", shortFingerprint(fingerprint), time.Now().Unix())

	// Claim the active-job slot before writing any state
	activeJobKey := fmt.Sprintf(model.RedisKeyActiveJob, fingerprint)
	claimed, err := pt.cache.SetNX(ctx, activeJobKey, jobID, JobStateTTLPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim active job slot: %w", err)
	}
	if !claimed {
		if existingJobID, err := pt.cache.Get(ctx, activeJobKey); err == nil && existingJobID != "" {
			return nil, fmt.Errorf("%w: %s", ErrJobConflict, existingJobID)
		}
		return nil, ErrJobConflict
	}

	// Create job
	job := &model.ExtractionJob{
		JobID:        jobID,
		Fingerprint:  fingerprint,
		DocumentID:   documentID,
		Status:       model.JobStatusPending,
		Progress:     0,
		CurrentPhase: "initializing",
		Message:      "Extraction queued",
		StartedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	// Save to Redis
	jobKey := fmt.Sprintf(model.RedisKeyJobState, jobID)
	if err := pt.cache.SetJSON(ctx, jobKey, job, JobStateTTLPending); err != nil {
		// Release the claim so the document is not wedged behind a job
		// that never existed
		pt.cache.Delete(ctx, activeJobKey)
		return nil, fmt.Errorf("failed to save job state: %w", err)
	}

	return job, nil
}

// UpdateProgress updates the job state from a progress event
func (pt *ProgressTracker) UpdateProgress(ctx context.Context, jobID string, event ProgressEvent) error {
	// Get current job state
	job, err := pt.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	// Update job fields from event
	job.Progress = event.Progress
	job.CurrentPhase = event.Phase
	job.Message = event.Message
	job.UpdatedAt = time.Now()

	if event.PlannedUnits > 0 {
		job.PlannedUnits = event.PlannedUnits
	}
	if event.CompletedUnits > 0 {
		job.CompletedUnits = event.CompletedUnits
	}
	if event.TotalQuestions > 0 {
		job.QuestionsExtracted = event.TotalQuestions
	}
	if event.Seq > 0 {
		job.LastEventSeq = event.Seq
	}

	// Update status based on event type
	switch event.Type {
	case EventStarted, EventFirstBatchReady, EventUnitCompleted:
		job.Status = model.JobStatusProcessing
	case EventWarning:
		// A failed unit does not change job status; count it
		job.FailedUnits++
	case EventProcessingComplete:
		job.Status = model.JobStatusCompleted
		job.FromCache = event.FromCache
		now := time.Now()
		job.CompletedAt = &now
	case EventProcessingCancelled:
		job.Status = model.JobStatusCancelled
		now := time.Now()
		job.CompletedAt = &now
	case EventProcessingError:
		job.Status = model.JobStatusFailed
		job.Error = event.ErrorMessage
		job.ErrorDetails = event.ErrorType
		now := time.Now()
		job.CompletedAt = &now
	}

	// Determine TTL based on job status
	ttl := JobStateTTLPending
	if job.Status == model.JobStatusCompleted {
		ttl = JobStateTTLSuccess
	} else if job.Status == model.JobStatusFailed || job.Status == model.JobStatusCancelled {
		ttl = JobStateTTLFailure
	}

	// Save updated state
	jobKey := fmt.Sprintf(model.RedisKeyJobState, jobID)
	if err := pt.cache.SetJSON(ctx, jobKey, job, ttl); err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}

	// Clear active job on any terminal status
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed || job.Status == model.JobStatusCancelled {
		activeJobKey := fmt.Sprintf(model.RedisKeyActiveJob, job.Fingerprint)
		pt.cache.Delete(ctx, activeJobKey)
	}

	return nil
}

// GetJob retrieves job state from Redis
func (pt *ProgressTracker) GetJob(ctx context.Context, jobID string) (*model.ExtractionJob, error) {
	jobKey := fmt.Sprintf(model.RedisKeyJobState, jobID)

	var job model.ExtractionJob
	if err := pt.cache.GetJSON(ctx, jobKey, &job); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("job not found or expired: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job state: %w", err)
	}

	return &job, nil
}

// GetActiveJob returns the active job ID for a document (if any)
func (pt *ProgressTracker) GetActiveJob(ctx context.Context, fingerprint string) (string, error) {
	activeJobKey := fmt.Sprintf(model.RedisKeyActiveJob, fingerprint)
	jobID, err := pt.cache.Get(ctx, activeJobKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", nil // No active job
		}
		return "", err
	}
	return jobID, nil
}

// ClearActiveJob removes the active job reference for a document
func (pt *ProgressTracker) ClearActiveJob(ctx context.Context, fingerprint string) error {
	activeJobKey := fmt.Sprintf(model.RedisKeyActiveJob, fingerprint)
	return pt.cache.Delete(ctx, activeJobKey)
}

// CancelJob cancels an active job. The drain loop observes the flag at its
// next checkpoint; records already persisted are never rolled back.
func (pt *ProgressTracker) CancelJob(ctx context.Context, jobID string) error {
	job, err := pt.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	// Only update status if job is still active
	if job.Status == model.JobStatusPending || job.Status == model.JobStatusProcessing {
		job.Status = model.JobStatusCancelled
		now := time.Now()
		job.CompletedAt = &now
		job.UpdatedAt = now
		job.Message = "Job cancelled by user"

		// Save updated state
		jobKey := fmt.Sprintf(model.RedisKeyJobState, jobID)
		if err := pt.cache.SetJSON(ctx, jobKey, job, JobStateTTLFailure); err != nil {
			return fmt.Errorf("failed to update job state: %w", err)
		}

		// Set cancellation flag so running operations can check it
		cancelKey := fmt.Sprintf(model.RedisKeyJobCancel, jobID)
		pt.cache.Set(ctx, cancelKey, "1", JobCancelTTL)
	}

	// Clear active job
	activeJobKey := fmt.Sprintf(model.RedisKeyActiveJob, job.Fingerprint)
	pt.cache.Delete(ctx, activeJobKey)

	return nil
}

// IsJobCancelled checks if a job has been cancelled
func (pt *ProgressTracker) IsJobCancelled(ctx context.Context, jobID string) bool {
	cancelKey := fmt.Sprintf(model.RedisKeyJobCancel, jobID)
	val, err := pt.cache.Get(ctx, cancelKey)
	return err == nil && val == "1"
}

// ClassifyError classifies an error and determines if it's recoverable
func ClassifyError(err error) (ErrorType, bool) {
	if err == nil {
		return ErrorTypeUnknown, false
	}

	errStr := strings.ToLower(err.Error())

	// Network errors (recoverable)
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dial") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset by peer") {
		return ErrorTypeNetwork, true
	}

	// LLM API errors (recoverable)
	if strings.Contains(errStr, "inference api") ||
		strings.Contains(errStr, "status 429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") ||
		strings.Contains(errStr, "llm") {
		return ErrorTypeLLM, true
	}

	// Timeout errors (recoverable)
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ErrorTypeTimeout, true
	}

	// OCR service errors (recoverable)
	if strings.Contains(errStr, "ocr") {
		return ErrorTypeOCR, true
	}

	// Database errors (not recoverable)
	if strings.Contains(errStr, "database") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "gorm") {
		return ErrorTypeDatabase, false
	}

	// PDF errors (not recoverable)
	if strings.Contains(errStr, "pdf") ||
		strings.Contains(errStr, "extract text") ||
		strings.Contains(errStr, "invalid document") {
		return ErrorTypePDF, false
	}

	// Validation errors (not recoverable)
	if strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "required") {
		return ErrorTypeValidation, false
	}

	return ErrorTypeUnknown, false
}

// CalculateProgress calculates the overall progress percentage based on
// phase and unit completion
func CalculateProgress(phase string, completedUnits, plannedUnits int) int {
	switch phase {
	case "initializing":
		return 0
	case "ingest":
		return 5
	case "planning":
		return 10
	case "extraction", "first_unit", "background":
		if plannedUnits == 0 {
			return 10
		}
		// Extraction window: 10% - 90% (80% total, divided by unit count)
		unitIncrement := 80.0 / float64(plannedUnits)
		progress := 10 + int(float64(completedUnits)*unitIncrement)
		if progress > 90 {
			progress = 90
		}
		return progress
	case "verify":
		return 95
	case "complete":
		return 100
	default:
		return 0
	}
}

// shortFingerprint returns a log-friendly fingerprint prefix
func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
