package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quizforge/api/model"
)

// StaleProcessingThreshold is how long a processing document may go without
// a progress write before the reconciler adopts it. Normal units finish well
// inside this window even with rate limiting.
const StaleProcessingThreshold = 30 * time.Minute

// ReconcileStaleExtractions finds documents stuck in processing, typically
// left behind by an instance that died mid-drain, and completes them from
// their persisted records. Questions already extracted stay usable; units
// that never ran are simply lost.
func (m *CronManager) ReconcileStaleExtractions() {
	jobName := "reconcile_stale_extractions"
	start := time.Now()

	fingerprints, err := m.maintenance.FindStaleProcessing(StaleProcessingThreshold)
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to query stale documents: %w", err), time.Since(start))
		return
	}

	if len(fingerprints) == 0 {
		m.logJobComplete(jobName, "No stale extractions found", time.Since(start))
		return
	}

	recovered := 0
	failed := 0
	for _, fp := range fingerprints {
		questions, maxUnit, err := m.maintenance.PersistedCounts(fp)
		if err != nil {
			log.Printf("[CRON] Failed to count records for stale document %s: %v", fp, err)
			failed++
			continue
		}

		changed, err := m.maintenance.ForceComplete(fp, questions, maxUnit)
		if err != nil {
			log.Printf("[CRON] Failed to force-complete document %s: %v", fp, err)
			failed++
			continue
		}
		if changed {
			recovered++
			log.Printf("[CRON] Recovered stale document %s with %d persisted questions (%d units)", fp, questions, maxUnit)
		}

		// Clear the dead instance's active-job key instead of waiting
		// out its TTL
		if m.tracker != nil {
			if err := m.tracker.ClearActiveJob(context.Background(), fp); err != nil {
				log.Printf("[CRON] Failed to clear active job key for %s: %v", fp, err)
			}
		}
	}

	m.logJobComplete(jobName,
		fmt.Sprintf("Recovered %d of %d stale documents (%d failed)", recovered, len(fingerprints), failed),
		time.Since(start))
}

// SweepExpiredDocuments deletes documents that have not been accessed within
// the retention window, along with their questions and quiz sessions
func (m *CronManager) SweepExpiredDocuments() {
	jobName := "sweep_expired_documents"
	start := time.Now()

	removed, err := m.maintenance.SweepExpiredDocuments(m.retention)
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("retention sweep failed: %w", err), time.Since(start))
		return
	}

	m.logJobComplete(jobName,
		fmt.Sprintf("Removed %d documents unused for over %d days", removed, int(m.retention.Hours()/24)),
		time.Since(start))
}

// CleanupCronLogs prunes cron job logs older than 30 days
func (m *CronManager) CleanupCronLogs() {
	jobName := "cleanup_cron_logs"
	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -30)
	result := m.db.Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	if result.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to prune cron logs: %w", result.Error), time.Since(start))
		return
	}

	m.logJobComplete(jobName,
		fmt.Sprintf("Pruned %d cron log entries", result.RowsAffected),
		time.Since(start))
}
