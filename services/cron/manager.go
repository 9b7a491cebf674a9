package cron

import (
	"log"
	"time"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// CronManager manages all scheduled background jobs
type CronManager struct {
	cron        *cron.Cron
	db          *gorm.DB
	maintenance *database.MaintenanceStore
	tracker     *services.ProgressTracker
	retention   time.Duration
}

// NewCronManager creates a new cron manager. The tracker is used to clear
// Redis active-job keys left behind by dead instances.
func NewCronManager(db *gorm.DB, maintenance *database.MaintenanceStore, tracker *services.ProgressTracker, retentionDays int) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:        c,
		db:          db,
		maintenance: maintenance,
		tracker:     tracker,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	// Register all jobs
	if err := m.registerJobs(); err != nil {
		return err
	}

	// Start the cron scheduler
	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every 10 minutes: reconcile documents stuck in processing
	_, err := m.cron.AddFunc("0 */10 * * * *", func() {
		m.logJobStart("reconcile_stale_extractions")
		m.ReconcileStaleExtractions()
	})
	if err != nil {
		return err
	}

	// 2. Daily at 3 AM: sweep documents past the retention window
	_, err = m.cron.AddFunc("0 0 3 * * *", func() {
		m.logJobStart("sweep_expired_documents")
		m.SweepExpiredDocuments()
	})
	if err != nil {
		return err
	}

	// 3. Daily at 4 AM: prune old cron job logs
	_, err = m.cron.AddFunc("0 0 4 * * *", func() {
		m.logJobStart("cleanup_cron_logs")
		m.CleanupCronLogs()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	// Log to database
	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string, duration time.Duration) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"duration":     duration.Milliseconds(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error, duration time.Duration) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"duration":     duration.Milliseconds(),
			"error_msg":    err.Error(),
		})
}
