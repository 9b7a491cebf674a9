package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quizforge/api/config"
	"github.com/quizforge/api/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GORMStore struct {
	db *gorm.DB
}

// StartGORM initializes a GORM connection to PostgreSQL
func StartGORM() (*GORMStore, error) {
	getEnv, err := config.Get()
	if err != nil {
		return nil, err
	}

	// Build DSN (Data Source Name)
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		getEnv.DB_HOST,
		getEnv.DB_USER_NAME,
		getEnv.DB_PASSWORD,
		getEnv.DB_NAME,
		getEnv.DB_PORT,
		getEnv.DB_SSL_MODE,
	)

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if getEnv.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	// Open GORM connection
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: false,
		PrepareStmt:            true, // Prepare statements for better performance
	})
	if err != nil {
		log.Println("Unable to connect to PostgreSQL with GORM:", err)
		return nil, err
	}

	// Get underlying *sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Successfully connected to PostgreSQL Database with GORM.")

	return &GORMStore{db: db}, nil
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	log.Println("Running GORM AutoMigrate for all models...")

	err := s.db.AutoMigrate(
		// Document and extraction output models
		&model.Document{},
		&model.Question{},

		// Quiz session model
		&model.QuizSession{},

		// Audit & logging models
		&model.CronJobLog{},
	)

	if err != nil {
		log.Println("Error running AutoMigrate:", err)
		return err
	}

	log.Println("GORM AutoMigrate completed successfully!")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	log.Println("Closing GORM PostgreSQL connection...")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance for use in services/handlers
func (s *GORMStore) GetDB() interface{} {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ============= Document methods =============

// LookupDocument fetches a document by fingerprint and refreshes its last
// access time. The touch uses UpdateColumn so updated_at stays untouched;
// the reconciler reads updated_at as a liveness signal for in-flight
// extractions.
func (s *GORMStore) LookupDocument(fingerprint string) (*model.Document, error) {
	var doc model.Document
	err := s.db.Where("fingerprint = ?", fingerprint).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(&doc).UpdateColumn("last_accessed_at", now).Error; err != nil {
		log.Printf("[GORM] Failed to touch last access for %s: %v", fingerprint, err)
	} else {
		doc.LastAccessedAt = now
	}
	return &doc, nil
}

// UpsertDocument creates the document if its fingerprint is new. When a
// record already exists, only the display name and access time are
// refreshed and the existing extraction state is loaded back into doc.
func (s *GORMStore) UpsertDocument(doc *model.Document) error {
	var existing model.Document
	err := s.db.Where("fingerprint = ?", doc.Fingerprint).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if doc.LastAccessedAt.IsZero() {
			doc.LastAccessedAt = time.Now()
		}
		return s.db.Create(doc).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"display_name":     doc.DisplayName,
		"last_accessed_at": time.Now(),
	}
	if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
		return err
	}
	*doc = existing
	return nil
}

// ListDocuments returns a page of documents ordered by creation time
func (s *GORMStore) ListDocuments(page, limit int) ([]model.Document, int64, error) {
	var total int64
	if err := s.db.Model(&model.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []model.Document
	offset := (page - 1) * limit
	err := s.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	return docs, total, err
}

// DeleteDocument removes a document, its questions (via cascade) and its
// quiz session
func (s *GORMStore) DeleteDocument(fingerprint string) error {
	res := s.db.Where("fingerprint = ?", fingerprint).Delete(&model.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if err := s.db.Where("document_fingerprint = ?", fingerprint).Delete(&model.QuizSession{}).Error; err != nil {
		log.Printf("[GORM] Failed to delete session for %s: %v", fingerprint, err)
	}
	return nil
}

// SetDocumentProcessing transitions a document into the processing state
// and records the planned unit count
func (s *GORMStore) SetDocumentProcessing(fingerprint string, plannedUnits int) error {
	res := s.db.Model(&model.Document{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]interface{}{
			"status":                model.DocumentStatusProcessing,
			"planned_units":         plannedUnits,
			"completed_units":       0,
			"total_questions":       0,
			"completed_with_errors": false,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUnitProgress records durable per-unit progress while extraction runs
func (s *GORMStore) UpdateUnitProgress(fingerprint string, completedUnits, totalQuestions int) error {
	return s.db.Model(&model.Document{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]interface{}{
			"completed_units": completedUnits,
			"total_questions": totalQuestions,
		}).Error
}

// MarkComplete transitions processing -> complete exactly once. The status
// guard in the WHERE clause makes the transition a compare-and-set: the
// return value reports whether this call performed it, so completion side
// effects fire a single time even when the last unit and the fallback
// verifier race.
func (s *GORMStore) MarkComplete(fingerprint string, withErrors bool) (bool, error) {
	res := s.db.Model(&model.Document{}).
		Where("fingerprint = ? AND status = ?", fingerprint, model.DocumentStatusProcessing).
		Updates(map[string]interface{}{
			"status":                model.DocumentStatusComplete,
			"completed_with_errors": withErrors,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ============= Question methods =============

// AppendQuestions inserts a unit's questions as a single batch. The insert
// runs inside GORM's default transaction, so a duplicate ordinal rejects
// the whole batch rather than leaving a partial unit behind.
func (s *GORMStore) AppendQuestions(fingerprint string, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	for i := range questions {
		questions[i].DocumentFingerprint = fingerprint
	}
	if err := s.db.Create(&questions).Error; err != nil {
		return fmt.Errorf("append %d questions for %s: %w", len(questions), fingerprint, err)
	}
	return nil
}

// GetQuestions returns a page of questions in ordinal order, optionally
// filtered to a single unit
func (s *GORMStore) GetQuestions(fingerprint string, page, limit int, unit *int) ([]model.Question, int64, error) {
	query := s.db.Model(&model.Question{}).Where("document_fingerprint = ?", fingerprint)
	if unit != nil {
		query = query.Where("unit_number = ?", *unit)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var questions []model.Question
	offset := (page - 1) * limit
	err := query.Order("ordinal ASC").Offset(offset).Limit(limit).Find(&questions).Error
	return questions, total, err
}

// GetQuestionByOrdinal fetches a single question by its position
func (s *GORMStore) GetQuestionByOrdinal(fingerprint string, ordinal int) (*model.Question, error) {
	var question model.Question
	err := s.db.Where("document_fingerprint = ? AND ordinal = ?", fingerprint, ordinal).First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// CountQuestions returns the number of persisted questions for a document
func (s *GORMStore) CountQuestions(fingerprint string) (int, error) {
	var count int64
	err := s.db.Model(&model.Question{}).
		Where("document_fingerprint = ?", fingerprint).
		Count(&count).Error
	return int(count), err
}

// MaxOrdinal returns the highest persisted ordinal, or 0 when no questions
// exist yet
func (s *GORMStore) MaxOrdinal(fingerprint string) (int, error) {
	var max int
	err := s.db.Model(&model.Question{}).
		Where("document_fingerprint = ?", fingerprint).
		Select("COALESCE(MAX(ordinal), 0)").
		Scan(&max).Error
	return max, err
}

// MaxCompletedUnit returns the highest unit number that persisted at least
// one question, or 0 when none did
func (s *GORMStore) MaxCompletedUnit(fingerprint string) (int, error) {
	var max int
	err := s.db.Model(&model.Question{}).
		Where("document_fingerprint = ?", fingerprint).
		Select("COALESCE(MAX(unit_number), 0)").
		Scan(&max).Error
	return max, err
}

// ============= Quiz session methods =============

// GetSession fetches the quiz session for a document
func (s *GORMStore) GetSession(fingerprint string) (*model.QuizSession, error) {
	var session model.QuizSession
	err := s.db.Where("document_fingerprint = ?", fingerprint).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveSession creates or updates a quiz session
func (s *GORMStore) SaveSession(session *model.QuizSession) error {
	return s.db.Save(session).Error
}

// DeleteSession removes the quiz session for a document
func (s *GORMStore) DeleteSession(fingerprint string) error {
	return s.db.Where("document_fingerprint = ?", fingerprint).Delete(&model.QuizSession{}).Error
}
