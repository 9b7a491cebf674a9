package progress

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/utils/response"
	"github.com/quizforge/api/utils/sse"
	"github.com/quizforge/api/utils/validation"
)

const keepAliveInterval = 15 * time.Second

// ProgressHandler streams extraction progress to clients
type ProgressHandler struct {
	pipeline *services.QuizPipeline
	tracker  *services.ProgressTracker
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(pipeline *services.QuizPipeline, tracker *services.ProgressTracker) *ProgressHandler {
	return &ProgressHandler{
		pipeline: pipeline,
		tracker:  tracker,
	}
}

// StreamEvents handles GET /api/v1/documents/:fingerprint/events. Clients
// reconnecting with a Last-Event-ID header first receive the buffered events
// they missed, then live events as units finish.
func (h *ProgressHandler) StreamEvents(c *fiber.Ctx) error {
	fingerprint := c.Params("fingerprint")
	if !validation.ValidateFingerprint(fingerprint) {
		return response.BadRequest(c, "Invalid document fingerprint")
	}

	lastSeq := parseLastEventID(c)
	feed := h.pipeline.Feed(fingerprint)

	// Set SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	if feed == nil {
		// No live feed on this instance. Send a single snapshot event built
		// from the persisted job state, or from the document itself when no
		// job survives.
		return h.streamSnapshot(c, fingerprint)
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// Subscribe before replaying so no event falls between the replay
		// and the live channel
		events, unsubscribe := feed.Subscribe()
		defer unsubscribe()

		sent := lastSeq
		for _, ev := range feed.Since(lastSeq) {
			if err := sendSequenced(w, ev); err != nil {
				return
			}
			sent = ev.Seq
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Seq <= sent {
					continue
				}
				if err := sendSequenced(w, ev); err != nil {
					return
				}
				sent = ev.Seq
				if isTerminalEvent(ev.Event.Type) {
					return
				}
			case <-ticker.C:
				if err := sse.SendKeepAlive(w); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// streamSnapshot emits one event describing the document's current state and
// closes the stream. Used when the in-process feed is gone, for example
// after a restart.
func (h *ProgressHandler) streamSnapshot(c *fiber.Ctx, fingerprint string) error {
	// The Fiber context is not valid inside the stream writer goroutine
	ctx := context.Background()

	doc, job, err := h.pipeline.Status(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to load document state")
	}

	event := snapshotEvent(doc, job)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sse.Send(w, sse.Event{Event: event.Type, Data: event})
	})

	return nil
}

// GetJobStatus handles GET /api/v1/jobs/:job_id for polling clients
func (h *ProgressHandler) GetJobStatus(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	if jobID == "" {
		return response.BadRequest(c, "Missing job ID")
	}

	job, err := h.tracker.GetJob(c.Context(), jobID)
	if err != nil {
		return response.NotFound(c, "Job not found or expired")
	}

	return response.Success(c, job)
}

func sendSequenced(w *bufio.Writer, ev services.SequencedEvent) error {
	return sse.Send(w, sse.Event{
		ID:    strconv.FormatUint(ev.Seq, 10),
		Event: ev.Event.Type,
		Data:  ev.Event,
	})
}

func parseLastEventID(c *fiber.Ctx) uint64 {
	raw := c.Get("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case services.EventProcessingComplete, services.EventProcessingCancelled, services.EventProcessingError:
		return true
	}
	return false
}

// snapshotEvent reconstructs a progress event from persisted state
func snapshotEvent(doc *model.Document, job *model.ExtractionJob) services.ProgressEvent {
	event := services.ProgressEvent{
		Fingerprint: doc.Fingerprint,
		Timestamp:   time.Now(),
	}

	if job != nil {
		event.JobID = job.JobID
		event.Progress = job.Progress
		event.Phase = job.CurrentPhase
		event.Message = job.Message
		event.PlannedUnits = job.PlannedUnits
		event.CompletedUnits = job.CompletedUnits
		event.TotalQuestions = job.QuestionsExtracted
		event.Seq = job.LastEventSeq

		switch job.Status {
		case model.JobStatusCompleted:
			event.Type = services.EventProcessingComplete
			event.Progress = 100
			event.CompletedWithErrors = job.FailedUnits > 0
		case model.JobStatusFailed:
			event.Type = services.EventProcessingError
			event.ErrorMessage = job.Error
		case model.JobStatusCancelled:
			event.Type = services.EventProcessingCancelled
		default:
			event.Type = services.EventProgress
		}
		return event
	}

	// No job state left; derive from the document row
	event.PlannedUnits = doc.PlannedUnits
	event.CompletedUnits = doc.CompletedUnits
	event.TotalQuestions = doc.TotalQuestions
	if doc.IsComplete() {
		event.Type = services.EventProcessingComplete
		event.Progress = 100
		event.Phase = "complete"
		event.CompletedWithErrors = doc.CompletedWithErrors
	} else {
		event.Type = services.EventProgress
		event.Phase = "unknown"
		event.Message = "No active extraction job for this document"
	}
	return event
}
