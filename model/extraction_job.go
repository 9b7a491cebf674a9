package model

import "time"

// ExtractionJobStatus represents the status of an extraction job
type ExtractionJobStatus string

const (
	JobStatusPending    ExtractionJobStatus = "pending"
	JobStatusProcessing ExtractionJobStatus = "processing"
	JobStatusCompleted  ExtractionJobStatus = "completed"
	JobStatusFailed     ExtractionJobStatus = "failed"
	JobStatusCancelled  ExtractionJobStatus = "cancelled"
)

// ExtractionJob represents the state of a question extraction job stored in Redis
type ExtractionJob struct {
	JobID        string              `json:"job_id"`
	Fingerprint  string              `json:"fingerprint"`
	DocumentID   uint                `json:"document_id"`
	Status       ExtractionJobStatus `json:"status"`
	Progress     int                 `json:"progress"`      // 0-100
	CurrentPhase string              `json:"current_phase"` // "ingest", "planning", "first_unit", "background", "verify"
	Message      string              `json:"message"`

	// Unit tracking
	PlannedUnits   int `json:"planned_units,omitempty"`
	CompletedUnits int `json:"completed_units,omitempty"`
	FailedUnits    int `json:"failed_units,omitempty"`

	// Error tracking
	Error        string `json:"error,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`

	// Result
	QuestionsExtracted int  `json:"questions_extracted,omitempty"`
	FromCache          bool `json:"from_cache,omitempty"`

	// Event feed position when the state was last written
	LastEventSeq uint64 `json:"last_event_seq,omitempty"`

	// Timestamps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Redis key patterns for extraction jobs
const (
	// RedisKeyJobState stores the full job state as JSON
	// Usage: fmt.Sprintf(RedisKeyJobState, jobID)
	RedisKeyJobState = "extract:job:%s"

	// RedisKeyActiveJob tracks the active job ID for a document fingerprint
	// Usage: fmt.Sprintf(RedisKeyActiveJob, fingerprint)
	RedisKeyActiveJob = "extract:active:%s"

	// RedisKeyJobCancel flags a job for cooperative cancellation
	// Usage: fmt.Sprintf(RedisKeyJobCancel, jobID)
	RedisKeyJobCancel = "extract:cancel:%s"
)
