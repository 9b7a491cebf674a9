package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services/digitalocean"
)

// ErrNoActiveJob means a cancellation was requested for a document with no
// extraction in flight
var ErrNoActiveJob = errors.New("no active extraction")

// SchedulerConfig holds configuration for the extraction scheduler
type SchedulerConfig struct {
	MinCallInterval time.Duration // minimum spacing between oracle calls per document
	FeedCapacity    int           // replay buffer size per document feed
}

// DefaultSchedulerConfig returns the default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MinCallInterval: 5 * time.Second,
		FeedCapacity:    DefaultFeedCapacity,
	}
}

// docJob is the transient in-process state for one document's extraction.
// Each document gets its own rate limiter, so a busy document never starves
// an unrelated one.
type docJob struct {
	fingerprint string
	jobID       string
	feed        *EventFeed
	limiter     *digitalocean.OracleLimiter
	ctx         context.Context
	cancel      context.CancelFunc
	startedAt   time.Time

	mu          sync.Mutex
	pending     []WorkUnit
	draining    bool
	planned     int
	processed   int // units that ran, regardless of yield
	failed      int // units that errored or yielded nothing
	total       int // questions persisted
	nextOrdinal int // next global question ordinal, 1-based
	cancelled   bool
	finished    bool
}

// ExtractionScheduler owns the per-document work queues. The first unit of a
// document runs synchronously in the caller's request; everything after that
// drains in a single background goroutine per document, in ordinal order,
// with oracle calls spaced by the document's own limiter.
type ExtractionScheduler struct {
	store   database.Storage
	worker  *ExtractionWorker
	tracker *ProgressTracker
	config  SchedulerConfig

	mu    sync.Mutex
	jobs  map[string]*docJob
	feeds map[string]*EventFeed // survives job completion so late subscribers can replay
}

// NewExtractionScheduler creates a scheduler
func NewExtractionScheduler(store database.Storage, worker *ExtractionWorker, tracker *ProgressTracker, config SchedulerConfig) *ExtractionScheduler {
	if config.MinCallInterval <= 0 {
		config.MinCallInterval = 5 * time.Second
	}
	if config.FeedCapacity <= 0 {
		config.FeedCapacity = DefaultFeedCapacity
	}
	return &ExtractionScheduler{
		store:   store,
		worker:  worker,
		tracker: tracker,
		config:  config,
		jobs:    make(map[string]*docJob),
		feeds:   make(map[string]*EventFeed),
	}
}

// StartJob registers a new extraction job for the document and announces it.
// It fails if another job is already active for the same fingerprint.
func (s *ExtractionScheduler) StartJob(ctx context.Context, doc *model.Document, plannedUnits int) (string, error) {
	job, err := s.tracker.CreateJob(ctx, doc.Fingerprint, doc.ID)
	if err != nil {
		return "", err
	}

	limiterConfig := digitalocean.DefaultOracleLimiterConfig()
	limiterConfig.MinInterval = s.config.MinCallInterval

	jobCtx, cancel := context.WithCancel(context.Background())
	dj := &docJob{
		fingerprint: doc.Fingerprint,
		jobID:       job.JobID,
		feed:        NewEventFeed(s.config.FeedCapacity),
		limiter:     digitalocean.NewOracleLimiter(limiterConfig),
		ctx:         jobCtx,
		cancel:      cancel,
		startedAt:   time.Now(),
		planned:     plannedUnits,
		nextOrdinal: 1,
	}

	// A resubmitted partial document picks up where its records left off:
	// ordinals keep counting and already persisted units count as processed
	if maxOrd, err := s.store.MaxOrdinal(doc.Fingerprint); err == nil && maxOrd > 0 {
		dj.nextOrdinal = maxOrd + 1
	}
	if maxUnit, err := s.store.MaxCompletedUnit(doc.Fingerprint); err == nil && maxUnit > 0 {
		dj.processed = maxUnit
	}
	if count, err := s.store.CountQuestions(doc.Fingerprint); err == nil {
		dj.total = count
	}

	s.mu.Lock()
	s.jobs[doc.Fingerprint] = dj
	s.feeds[doc.Fingerprint] = dj.feed
	s.mu.Unlock()

	s.emit(dj, ProgressEvent{
		Type:         EventStarted,
		Progress:     CalculateProgress("planning", 0, plannedUnits),
		Phase:        "planning",
		Message:      fmt.Sprintf("Planned %d extraction units", plannedUnits),
		PlannedUnits: plannedUnits,
	})
	return job.JobID, nil
}

// RunSync processes one unit in the caller's context and returns the persisted
// records. Used for the first unit so the caller gets usable questions before
// the background drain starts.
func (s *ExtractionScheduler) RunSync(ctx context.Context, fingerprint string, unit WorkUnit) ([]model.Question, error) {
	job := s.job(fingerprint)
	if job == nil {
		return nil, fmt.Errorf("no active job for document %s", fingerprint)
	}

	records, err := s.processUnit(ctx, job, unit)

	job.mu.Lock()
	processed, total, planned := job.processed, job.total, job.planned
	job.mu.Unlock()

	s.emit(job, ProgressEvent{
		Type:           EventFirstBatchReady,
		Progress:       CalculateProgress("first_unit", processed, planned),
		Phase:          "first_unit",
		Message:        fmt.Sprintf("First %d questions ready", len(records)),
		PlannedUnits:   planned,
		CompletedUnits: processed,
		CurrentUnit:    unit.Ordinal,
		NewQuestions:   len(records),
		TotalQuestions: total,
	})
	return records, err
}

// EnqueueBackground appends units to the document's queue and starts the
// drain goroutine if none is running. Units must arrive in ordinal order.
func (s *ExtractionScheduler) EnqueueBackground(fingerprint string, units []WorkUnit) {
	job := s.job(fingerprint)
	if job == nil {
		log.Printf("Extraction Scheduler: Dropping %d units for unknown document %s", len(units), fingerprint)
		return
	}

	job.mu.Lock()
	job.pending = append(job.pending, units...)
	start := !job.draining && !job.finished
	if start {
		job.draining = true
	}
	job.mu.Unlock()

	if start {
		go s.drain(job)
	}
}

// Finalize runs the completion check for a document whose queue is already
// empty. Used for single-unit documents, which never enter the drain loop.
func (s *ExtractionScheduler) Finalize(fingerprint string) {
	job := s.job(fingerprint)
	if job == nil {
		return
	}
	s.complete(job)
}

// Cancel requests cooperative cancellation of the document's extraction.
// Pending units are dropped; already persisted questions stay.
func (s *ExtractionScheduler) Cancel(ctx context.Context, fingerprint string) error {
	job := s.job(fingerprint)
	if job == nil {
		// The job may live on another instance; all we can do is set the flag
		activeJobID, err := s.tracker.GetActiveJob(ctx, fingerprint)
		if err != nil {
			return err
		}
		if activeJobID == "" {
			return fmt.Errorf("%w for document %s", ErrNoActiveJob, fingerprint)
		}
		return s.tracker.CancelJob(ctx, activeJobID)
	}

	if err := s.tracker.CancelJob(ctx, job.jobID); err != nil {
		return err
	}
	job.cancel()

	job.mu.Lock()
	dropped := len(job.pending)
	job.pending = nil
	job.cancelled = true
	alreadyFinished := job.finished
	draining := job.draining
	job.mu.Unlock()

	// Without a drain loop running there is nobody else to announce the stop
	if !alreadyFinished && !draining {
		s.finishCancelled(job, dropped)
	}
	return nil
}

// Feed returns the event feed for a document, or nil if none exists.
// Feeds outlive their jobs so reconnecting subscribers can replay.
func (s *ExtractionScheduler) Feed(fingerprint string) *EventFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[fingerprint]
}

// DropFeed removes a document's replay feed, after document deletion
func (s *ExtractionScheduler) DropFeed(fingerprint string) {
	s.mu.Lock()
	feed := s.feeds[fingerprint]
	delete(s.feeds, fingerprint)
	s.mu.Unlock()
	if feed != nil {
		feed.Close()
	}
}

func (s *ExtractionScheduler) job(fingerprint string) *docJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[fingerprint]
}

// drain processes the pending queue one unit at a time until it is empty or
// the job is cancelled, then runs the completion check.
func (s *ExtractionScheduler) drain(job *docJob) {
	for {
		if s.cancelRequested(job) {
			job.mu.Lock()
			dropped := len(job.pending)
			job.pending = nil
			job.cancelled = true
			job.draining = false
			job.mu.Unlock()
			s.finishCancelled(job, dropped)
			return
		}

		job.mu.Lock()
		if len(job.pending) == 0 {
			job.draining = false
			job.mu.Unlock()
			break
		}
		unit := job.pending[0]
		job.pending = job.pending[1:]
		job.mu.Unlock()

		s.processUnit(job.ctx, job, unit)
	}

	s.complete(job)
}

// cancelRequested checks both the in-process context and the shared cancel
// flag, so a cancel issued against another instance still lands.
func (s *ExtractionScheduler) cancelRequested(job *docJob) bool {
	if job.ctx.Err() != nil {
		return true
	}
	job.mu.Lock()
	cancelled := job.cancelled
	job.mu.Unlock()
	if cancelled {
		return true
	}
	flagCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.tracker.IsJobCancelled(flagCtx, job.jobID)
}

// processUnit runs one unit end to end: rate limit wait, oracle call,
// ordinal assignment, persistence, progress events. A unit that fails or
// yields nothing still counts as processed; it is never retried. Ordinals
// only advance after a successful persist, so the sequence stays dense.
func (s *ExtractionScheduler) processUnit(ctx context.Context, job *docJob, unit WorkUnit) ([]model.Question, error) {
	if err := job.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	unitStart := time.Now()
	records, tokens, workErr := s.worker.Process(ctx, unit)

	job.mu.Lock()
	startOrdinal := job.nextOrdinal
	job.mu.Unlock()

	var persisted []model.Question
	if len(records) > 0 {
		persisted = make([]model.Question, 0, len(records))
		for _, rec := range records {
			q, err := rec.ToModel(startOrdinal+len(persisted), unit.Ordinal)
			if err != nil {
				log.Printf("Extraction Scheduler: Dropping malformed record from unit %d: %v", unit.Ordinal, err)
				continue
			}
			persisted = append(persisted, q)
		}
		if err := s.store.AppendQuestions(job.fingerprint, persisted); err != nil {
			log.Printf("Extraction Scheduler: Failed to persist unit %d for %s: %v", unit.Ordinal, job.fingerprint, err)
			workErr = err
			persisted = nil
		}
	}

	job.mu.Lock()
	job.processed++
	job.total += len(persisted)
	job.nextOrdinal = startOrdinal + len(persisted)
	if len(persisted) == 0 {
		job.failed++
	}
	processed, total, planned := job.processed, job.total, job.planned
	job.mu.Unlock()

	if err := s.store.UpdateUnitProgress(job.fingerprint, processed, total); err != nil {
		log.Printf("Extraction Scheduler: Failed to update progress for %s: %v", job.fingerprint, err)
	}

	if workErr != nil {
		errorType, recoverable := ClassifyError(workErr)
		s.emit(job, ProgressEvent{
			Type:         EventWarning,
			Progress:     CalculateProgress("background", processed, planned),
			Phase:        "background",
			Message:      fmt.Sprintf("Unit %d processed with zero yield", unit.Ordinal),
			CurrentUnit:  unit.Ordinal,
			ErrorType:    string(errorType),
			ErrorMessage: workErr.Error(),
			Recoverable:  recoverable,
		})
	}

	s.emit(job, ProgressEvent{
		Type:           EventUnitCompleted,
		Progress:       CalculateProgress("background", processed, planned),
		Phase:          "background",
		Message:        fmt.Sprintf("Unit %d of %d complete", unit.Ordinal, planned),
		PlannedUnits:   planned,
		CompletedUnits: processed,
		CurrentUnit:    unit.Ordinal,
		NewQuestions:   len(persisted),
		TotalQuestions: total,
		Duration:       time.Since(unitStart).Round(time.Millisecond).String(),
		TokenCount:     tokens,
	})
	return persisted, workErr
}

// complete verifies the document against the store and flips it to complete.
// The store-level compare-and-set makes completion idempotent: whichever
// caller wins emits the single completion event, every other path is a no-op.
func (s *ExtractionScheduler) complete(job *docJob) {
	job.mu.Lock()
	if job.finished || job.cancelled {
		job.mu.Unlock()
		return
	}
	processed, planned := job.processed, job.planned
	job.mu.Unlock()

	// Fallback verification: trust the persisted records over in-memory
	// counters in case a progress write was lost along the way
	total, err := s.store.CountQuestions(job.fingerprint)
	if err != nil {
		log.Printf("Extraction Scheduler: Completion recount failed for %s: %v", job.fingerprint, err)
		job.mu.Lock()
		total = job.total
		job.mu.Unlock()
	}
	if processed < planned {
		log.Printf("Extraction Scheduler: Document %s drained at %d of %d planned units, completing anyway", job.fingerprint, processed, planned)
	}

	job.mu.Lock()
	withErrors := job.failed > 0
	job.total = total
	job.mu.Unlock()

	changed, err := s.store.MarkComplete(job.fingerprint, withErrors)
	if err != nil {
		log.Printf("Extraction Scheduler: Failed to mark %s complete: %v", job.fingerprint, err)
		s.fail(job, err)
		return
	}
	if !changed {
		// Somebody else already completed it; nothing to announce
		s.remove(job)
		return
	}

	job.mu.Lock()
	job.finished = true
	job.mu.Unlock()

	s.emit(job, ProgressEvent{
		Type:                EventProcessingComplete,
		Progress:            CalculateProgress("complete", processed, planned),
		Phase:               "complete",
		Message:             fmt.Sprintf("Extraction complete: %d questions", total),
		PlannedUnits:        planned,
		CompletedUnits:      processed,
		TotalQuestions:      total,
		CompletedWithErrors: withErrors,
	})
	s.remove(job)
}

// finishCancelled announces cancellation and tears the job down. Persisted
// questions are left in place; nothing is rolled back.
func (s *ExtractionScheduler) finishCancelled(job *docJob, droppedUnits int) {
	job.mu.Lock()
	if job.finished {
		job.mu.Unlock()
		return
	}
	job.finished = true
	processed, total, planned := job.processed, job.total, job.planned
	job.mu.Unlock()

	s.emit(job, ProgressEvent{
		Type:           EventProcessingCancelled,
		Progress:       CalculateProgress("background", processed, planned),
		Phase:          "background",
		Message:        fmt.Sprintf("Extraction cancelled, %d pending units dropped", droppedUnits),
		PlannedUnits:   planned,
		CompletedUnits: processed,
		TotalQuestions: total,
	})
	s.remove(job)
}

// fail announces a terminal error for the job
func (s *ExtractionScheduler) fail(job *docJob, cause error) {
	job.mu.Lock()
	if job.finished {
		job.mu.Unlock()
		return
	}
	job.finished = true
	job.mu.Unlock()

	errorType, recoverable := ClassifyError(cause)
	s.emit(job, ProgressEvent{
		Type:         EventProcessingError,
		Phase:        "background",
		Message:      "Extraction failed",
		ErrorType:    string(errorType),
		ErrorMessage: cause.Error(),
		Recoverable:  recoverable,
	})
	s.remove(job)
}

// remove drops the job from the active set. The feed stays behind for replay.
func (s *ExtractionScheduler) remove(job *docJob) {
	job.cancel()
	s.mu.Lock()
	delete(s.jobs, job.fingerprint)
	s.mu.Unlock()
}

// emit publishes an event to the document feed and mirrors it into the shared
// job state. Tracker writes use a background context so a cancelled request
// cannot suppress the final events.
func (s *ExtractionScheduler) emit(job *docJob, event ProgressEvent) {
	event.JobID = job.jobID
	event.Fingerprint = job.fingerprint
	event.ElapsedMs = time.Since(job.startedAt).Milliseconds()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = job.feed.Publish(event)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tracker.UpdateProgress(ctx, job.jobID, event); err != nil {
		log.Printf("Extraction Scheduler: Failed to record %s event for job %s: %v", event.Type, job.jobID, err)
	}
}
