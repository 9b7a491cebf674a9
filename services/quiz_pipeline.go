package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
)

var (
	// ErrNoQuestionsExtracted marks the terminal case where a document
	// completed processing but yielded nothing usable
	ErrNoQuestionsExtracted = errors.New("no questions could be extracted from the document")

	// ErrAlreadyProcessing means another extraction run owns the document.
	// The accompanying result carries the in-flight state so the caller can
	// attach to it instead of starting over.
	ErrAlreadyProcessing = errors.New("document is already being processed")
)

// SubmitInput is a prepared document ready for extraction. Ingestion
// (decoding uploads, OCR routing, fingerprinting) happens upstream in the
// document service.
type SubmitInput struct {
	Fingerprint string
	DisplayName string
	ContentType model.DocumentContentType
	Text        string      // populated for text documents
	Pages       []PageImage // populated for image documents
	ByteSize    int64
	PageCount   int
	SpacesKey   string
	SpacesURL   string
}

// SubmitResult is what a submission returns: the document, the initial
// question batch, and enough job information to follow the rest.
type SubmitResult struct {
	Document            *model.Document
	JobID               string
	FromCache           bool
	PlannedUnits        int
	InitialQuestions    []model.Question
	CompletedWithErrors bool
}

// QuizPipeline ties ingestion output to planning, scheduling, and the cache.
// Submit is the single entry point: it answers from the fingerprint cache
// when it can, otherwise it plans units, runs the first one synchronously,
// and hands the rest to the background scheduler.
type QuizPipeline struct {
	store     database.Storage
	planner   *ChunkPlanner
	scheduler *ExtractionScheduler
	tracker   *ProgressTracker
}

// NewQuizPipeline creates a pipeline
func NewQuizPipeline(store database.Storage, planner *ChunkPlanner, scheduler *ExtractionScheduler, tracker *ProgressTracker) *QuizPipeline {
	return &QuizPipeline{
		store:     store,
		planner:   planner,
		scheduler: scheduler,
		tracker:   tracker,
	}
}

// Submit runs a prepared document through the pipeline.
//
// A document whose fingerprint is already complete is answered entirely from
// the store, with zero oracle calls and FromCache set. A document currently
// processing returns its in-flight state together with ErrAlreadyProcessing.
// Otherwise the document is planned, the first unit runs synchronously so the
// result carries usable questions, and any remaining units drain in the
// background.
//
// When a document completes with zero questions the result is returned
// together with ErrNoQuestionsExtracted so callers can distinguish "nothing
// in there" from "still working on it".
func (p *QuizPipeline) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.Fingerprint == "" {
		return nil, fmt.Errorf("submission without fingerprint")
	}

	// Cache check: a completed document never goes back to the oracle
	existing, err := p.store.LookupDocument(input.Fingerprint)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}
	if existing != nil && existing.IsComplete() {
		return p.cachedResult(existing)
	}

	// In-flight check: never double-process a fingerprint
	if activeJobID, err := p.tracker.GetActiveJob(ctx, input.Fingerprint); err == nil && activeJobID != "" {
		if existing == nil {
			// The winner registered its job between our lookup and this check
			existing, _ = p.store.LookupDocument(input.Fingerprint)
		}
		return p.attachedResult(existing, activeJobID)
	}

	units, err := p.plan(input)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		Fingerprint: input.Fingerprint,
		DisplayName: input.DisplayName,
		ContentType: input.ContentType,
		ByteSize:    input.ByteSize,
		RawContent:  input.Text,
		PageCount:   input.PageCount,
		Status:      model.DocumentStatusPending,
		SpacesKey:   input.SpacesKey,
		SpacesURL:   input.SpacesURL,
	}
	if err := p.store.UpsertDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	if err := p.store.SetDocumentProcessing(doc.Fingerprint, len(units)); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}

	// A partial earlier run may have persisted some units already; skip them
	remaining := units
	if maxUnit, err := p.store.MaxCompletedUnit(doc.Fingerprint); err == nil && maxUnit > 0 {
		for len(remaining) > 0 && remaining[0].Ordinal <= maxUnit {
			remaining = remaining[1:]
		}
		if len(remaining) < len(units) {
			log.Printf("Quiz Pipeline: Resuming %s at unit %d of %d", shortFingerprint(doc.Fingerprint), maxUnit+1, len(units))
		}
	}

	jobID, err := p.scheduler.StartJob(ctx, doc, len(units))
	if err != nil {
		// Lost the active-job claim to a concurrent submission; attach to
		// the winner instead of failing the request
		if errors.Is(err, ErrJobConflict) {
			if activeJobID, activeErr := p.tracker.GetActiveJob(ctx, input.Fingerprint); activeErr == nil && activeJobID != "" {
				return p.attachedResult(doc, activeJobID)
			}
		}
		return nil, err
	}

	result := &SubmitResult{
		Document:     doc,
		JobID:        jobID,
		PlannedUnits: len(units),
	}

	if len(remaining) > 0 {
		first := remaining[0]
		records, runErr := p.scheduler.RunSync(ctx, doc.Fingerprint, first)
		if runErr != nil {
			log.Printf("Quiz Pipeline: First unit of %s yielded nothing: %v", shortFingerprint(doc.Fingerprint), runErr)
		}
		result.InitialQuestions = records
		remaining = remaining[1:]
	}

	if len(remaining) > 0 {
		p.scheduler.EnqueueBackground(doc.Fingerprint, remaining)
		return result, nil
	}

	// Nothing left to drain: complete now and report the terminal state
	p.scheduler.Finalize(doc.Fingerprint)
	final, err := p.store.LookupDocument(doc.Fingerprint)
	if err != nil {
		return result, nil
	}
	result.Document = final
	result.CompletedWithErrors = final.CompletedWithErrors
	if final.IsComplete() && final.TotalQuestions == 0 {
		return result, ErrNoQuestionsExtracted
	}
	return result, nil
}

// Cancel stops an in-flight extraction for the document
func (p *QuizPipeline) Cancel(ctx context.Context, fingerprint string) error {
	return p.scheduler.Cancel(ctx, fingerprint)
}

// Feed exposes the document's progress feed for streaming handlers
func (p *QuizPipeline) Feed(fingerprint string) *EventFeed {
	return p.scheduler.Feed(fingerprint)
}

// DropFeed discards the document's replay feed, for use after deletion
func (p *QuizPipeline) DropFeed(fingerprint string) {
	p.scheduler.DropFeed(fingerprint)
}

// Status reports the document and, when one is active, its extraction job
func (p *QuizPipeline) Status(ctx context.Context, fingerprint string) (*model.Document, *model.ExtractionJob, error) {
	doc, err := p.store.LookupDocument(fingerprint)
	if err != nil {
		return nil, nil, err
	}

	jobID, err := p.tracker.GetActiveJob(ctx, fingerprint)
	if err != nil || jobID == "" {
		return doc, nil, nil
	}
	job, err := p.tracker.GetJob(ctx, jobID)
	if err != nil {
		return doc, nil, nil
	}
	return doc, job, nil
}

func (p *QuizPipeline) plan(input SubmitInput) ([]WorkUnit, error) {
	if input.ContentType == model.ContentTypeImages {
		return p.planner.PlanImages(input.Pages)
	}
	return p.planner.PlanText(input.Text)
}

// cachedResult answers a resubmission of a completed document from the store
func (p *QuizPipeline) cachedResult(doc *model.Document) (*SubmitResult, error) {
	count, err := p.store.CountQuestions(doc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to count cached questions: %w", err)
	}
	var questions []model.Question
	if count > 0 {
		questions, _, err = p.store.GetQuestions(doc.Fingerprint, 1, count, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load cached questions: %w", err)
		}
	}

	result := &SubmitResult{
		Document:            doc,
		FromCache:           true,
		PlannedUnits:        doc.PlannedUnits,
		InitialQuestions:    questions,
		CompletedWithErrors: doc.CompletedWithErrors,
	}
	log.Printf("Quiz Pipeline: Cache hit for %s (%d questions)", shortFingerprint(doc.Fingerprint), len(questions))
	if len(questions) == 0 {
		return result, ErrNoQuestionsExtracted
	}
	return result, nil
}

// attachedResult reports the state of an extraction someone else started
func (p *QuizPipeline) attachedResult(doc *model.Document, jobID string) (*SubmitResult, error) {
	result := &SubmitResult{JobID: jobID}
	if doc != nil {
		result.Document = doc
		result.PlannedUnits = doc.PlannedUnits
		if count, err := p.store.CountQuestions(doc.Fingerprint); err == nil && count > 0 {
			if questions, _, err := p.store.GetQuestions(doc.Fingerprint, 1, count, nil); err == nil {
				result.InitialQuestions = questions
			}
		}
	}
	return result, ErrAlreadyProcessing
}
