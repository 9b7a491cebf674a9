package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils/cache"
)

// newTestTracker returns a tracker backed by a throwaway in-process Redis
func newTestTracker(t *testing.T) *ProgressTracker {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect test redis: %v", err)
	}
	t.Cleanup(func() { redisCache.Close() })
	return NewProgressTracker(redisCache)
}

func TestCreateJobClaimsActiveSlot(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	fp := fakeFingerprint(0xd2)

	job, err := tracker.CreateJob(ctx, fp, 7)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if !strings.HasPrefix(job.JobID, fp[:12]) {
		t.Errorf("job id = %q, want the fingerprint prefix", job.JobID)
	}
	if job.Status != model.JobStatusPending {
		t.Errorf("new job status = %q, want %q", job.Status, model.JobStatusPending)
	}
	if job.DocumentID != 7 {
		t.Errorf("document id = %d, want 7", job.DocumentID)
	}

	active, err := tracker.GetActiveJob(ctx, fp)
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if active != job.JobID {
		t.Errorf("active job = %q, want %q", active, job.JobID)
	}

	stored, err := tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stored.Fingerprint != fp {
		t.Errorf("stored fingerprint = %q, want %q", stored.Fingerprint, fp)
	}

	// The slot stays taken until the holder releases it
	_, err = tracker.CreateJob(ctx, fp, 7)
	if !errors.Is(err, ErrJobConflict) {
		t.Fatalf("second CreateJob = %v, want ErrJobConflict", err)
	}
	if !strings.Contains(err.Error(), job.JobID) {
		t.Errorf("conflict error %q does not name the holder", err)
	}
	if err := tracker.ClearActiveJob(ctx, fp); err != nil {
		t.Fatalf("ClearActiveJob failed: %v", err)
	}
	if _, err := tracker.CreateJob(ctx, fp, 7); err != nil {
		t.Errorf("CreateJob after release failed: %v", err)
	}
}

func TestCreateJobSingleWinner(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	fp := fakeFingerprint(0xd3)

	const submitters = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string
	conflicts := 0

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(docID uint) {
			defer wg.Done()
			job, err := tracker.CreateJob(ctx, fp, docID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, job.JobID)
			case errors.Is(err, ErrJobConflict):
				conflicts++
			default:
				t.Errorf("CreateJob returned unexpected error: %v", err)
			}
		}(uint(i + 1))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("%d submissions won the slot, want exactly 1 (conflicts: %d)", len(winners), conflicts)
	}
	if conflicts != submitters-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, submitters-1)
	}

	active, err := tracker.GetActiveJob(ctx, fp)
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if active != winners[0] {
		t.Errorf("active job = %q, want the winner %q", active, winners[0])
	}
}

func TestUpdateProgressLifecycle(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	fp := fakeFingerprint(0xd4)

	job, err := tracker.CreateJob(ctx, fp, 3)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := tracker.UpdateProgress(ctx, job.JobID, ProgressEvent{
		Type: EventStarted, Phase: "planning", Progress: 10,
		Message: "Planned 3 extraction units", PlannedUnits: 3,
	}); err != nil {
		t.Fatalf("started update failed: %v", err)
	}
	got, err := tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != model.JobStatusProcessing || got.PlannedUnits != 3 {
		t.Errorf("after start: status=%q planned=%d, want processing with 3 units", got.Status, got.PlannedUnits)
	}

	if err := tracker.UpdateProgress(ctx, job.JobID, ProgressEvent{
		Type: EventUnitCompleted, Phase: "background", Progress: 40,
		CompletedUnits: 1, TotalQuestions: 6, Seq: 4,
	}); err != nil {
		t.Fatalf("unit update failed: %v", err)
	}
	got, err = tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.CompletedUnits != 1 || got.QuestionsExtracted != 6 || got.LastEventSeq != 4 {
		t.Errorf("after unit: completed=%d questions=%d seq=%d, want 1, 6 and 4",
			got.CompletedUnits, got.QuestionsExtracted, got.LastEventSeq)
	}

	if err := tracker.UpdateProgress(ctx, job.JobID, ProgressEvent{
		Type: EventWarning, Phase: "background",
		ErrorType: "llm", ErrorMessage: "inference API error (status 429)", Recoverable: true,
	}); err != nil {
		t.Fatalf("warning update failed: %v", err)
	}
	got, err = tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != model.JobStatusProcessing || got.FailedUnits != 1 {
		t.Errorf("after warning: status=%q failed=%d, want still processing with 1 failed unit", got.Status, got.FailedUnits)
	}

	if err := tracker.UpdateProgress(ctx, job.JobID, ProgressEvent{
		Type: EventProcessingComplete, Phase: "complete", Progress: 100, TotalQuestions: 9,
	}); err != nil {
		t.Fatalf("completion update failed: %v", err)
	}
	got, err = tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != model.JobStatusCompleted || got.CompletedAt == nil {
		t.Errorf("after completion: status=%q completedAt=%v, want completed with a timestamp", got.Status, got.CompletedAt)
	}
	if got.QuestionsExtracted != 9 {
		t.Errorf("final question count = %d, want 9", got.QuestionsExtracted)
	}

	// Terminal status releases the document's slot
	active, err := tracker.GetActiveJob(ctx, fp)
	if err != nil {
		t.Fatalf("GetActiveJob failed: %v", err)
	}
	if active != "" {
		t.Errorf("active job %q survived completion", active)
	}
}

func TestCancelJob(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	fp := fakeFingerprint(0xd5)

	job, err := tracker.CreateJob(ctx, fp, 4)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if tracker.IsJobCancelled(ctx, job.JobID) {
		t.Fatal("fresh job already flagged cancelled")
	}

	if err := tracker.CancelJob(ctx, job.JobID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if !tracker.IsJobCancelled(ctx, job.JobID) {
		t.Error("cancel flag not visible after CancelJob")
	}
	got, err := tracker.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != model.JobStatusCancelled || got.CompletedAt == nil {
		t.Errorf("cancelled job = %q completedAt=%v, want cancelled with a timestamp", got.Status, got.CompletedAt)
	}
	if active, _ := tracker.GetActiveJob(ctx, fp); active != "" {
		t.Errorf("active job %q survived cancellation", active)
	}

	// Cancelling an already completed job leaves its state alone
	fp2 := fakeFingerprint(0xd6)
	done, err := tracker.CreateJob(ctx, fp2, 5)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := tracker.UpdateProgress(ctx, done.JobID, ProgressEvent{
		Type: EventProcessingComplete, Phase: "complete", Progress: 100,
	}); err != nil {
		t.Fatalf("completion update failed: %v", err)
	}
	if err := tracker.CancelJob(ctx, done.JobID); err != nil {
		t.Fatalf("CancelJob on a completed job failed: %v", err)
	}
	got, err = tracker.GetJob(ctx, done.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != model.JobStatusCompleted {
		t.Errorf("completed job flipped to %q by cancel", got.Status)
	}
	if tracker.IsJobCancelled(ctx, done.JobID) {
		t.Error("completed job acquired a cancel flag")
	}
}

func TestGetJobMissing(t *testing.T) {
	tracker := newTestTracker(t)
	_, err := tracker.GetJob(context.Background(), "feedbeefcafe_42")
	if err == nil || !strings.Contains(err.Error(), "not found or expired") {
		t.Errorf("missing job error = %v, want a not-found message", err)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantType    ErrorType
		recoverable bool
	}{
		{"nil error", nil, ErrorTypeUnknown, false},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), ErrorTypeNetwork, true},
		{"unexpected eof", errors.New("unexpected EOF"), ErrorTypeNetwork, true},
		{"reset by peer", errors.New("read tcp: connection reset by peer"), ErrorTypeNetwork, true},
		{"inference throttled", errors.New("inference API error (status 429): too many requests"), ErrorTypeLLM, true},
		{"inference unavailable", errors.New("inference API error (status 503)"), ErrorTypeLLM, true},
		{"rate limited", errors.New("rate limit exceeded, retry later"), ErrorTypeLLM, true},
		{"bad gateway", errors.New("upstream returned status 502"), ErrorTypeLLM, true},
		{"context deadline", errors.New("context deadline exceeded"), ErrorTypeTimeout, true},
		{"unit timeout", errors.New("unit timeout after 120s"), ErrorTypeTimeout, true},
		{"ocr sidecar down", errors.New("ocr service unavailable"), ErrorTypeOCR, true},
		{"transaction failure", errors.New("gorm: failed to commit transaction"), ErrorTypeDatabase, false},
		{"sql failure", errors.New("sql: no rows in result set"), ErrorTypeDatabase, false},
		{"pdf parse failure", errors.New("failed to extract text from pdf"), ErrorTypePDF, false},
		{"corrupt document", errors.New("invalid document structure"), ErrorTypePDF, false},
		{"validation failure", errors.New("validation failed on field prompt"), ErrorTypeValidation, false},
		{"missing field", errors.New("required field missing"), ErrorTypeValidation, false},
		{"unclassified", errors.New("something inexplicable happened"), ErrorTypeUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotType, gotRecoverable := ClassifyError(tc.err)
			if gotType != tc.wantType {
				t.Errorf("ClassifyError type = %q, want %q", gotType, tc.wantType)
			}
			if gotRecoverable != tc.recoverable {
				t.Errorf("ClassifyError recoverable = %v, want %v", gotRecoverable, tc.recoverable)
			}
		})
	}
}

func TestCalculateProgress(t *testing.T) {
	cases := []struct {
		name      string
		phase     string
		completed int
		planned   int
		want      int
	}{
		{"initializing", "initializing", 0, 0, 0},
		{"ingest", "ingest", 0, 0, 5},
		{"planning", "planning", 0, 0, 10},
		{"extraction before planning", "extraction", 0, 0, 10},
		{"extraction not started", "extraction", 0, 4, 10},
		{"extraction one of four", "extraction", 1, 4, 30},
		{"extraction half done", "extraction", 2, 4, 50},
		{"extraction all units done", "extraction", 4, 4, 90},
		{"extraction capped at ninety", "extraction", 5, 4, 90},
		{"first unit phase", "first_unit", 1, 5, 26},
		{"background phase", "background", 2, 5, 42},
		{"uneven unit split", "extraction", 1, 3, 36},
		{"verify", "verify", 0, 0, 95},
		{"complete", "complete", 0, 0, 100},
		{"unknown phase", "warmup", 3, 4, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateProgress(tc.phase, tc.completed, tc.planned)
			if got != tc.want {
				t.Errorf("CalculateProgress(%q, %d, %d) = %d, want %d", tc.phase, tc.completed, tc.planned, got, tc.want)
			}
		})
	}
}

func TestShortFingerprint(t *testing.T) {
	long := fakeFingerprint(0xc1)
	if got := shortFingerprint(long); got != long[:12] {
		t.Errorf("shortFingerprint = %q, want the 12 character prefix", got)
	}
	if got := shortFingerprint("abc123"); got != "abc123" {
		t.Errorf("shortFingerprint of a short id = %q, want it unchanged", got)
	}
}
