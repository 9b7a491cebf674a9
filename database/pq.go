package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/quizforge/api/config"
	"github.com/quizforge/api/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Storage defines the interface that all database implementations must satisfy
type Storage interface {
	// Lifecycle methods
	Init() error
	Close() error
	HealthCheck() error

	// GORM DB access
	GetDB() interface{} // Returns *gorm.DB for GORMStore

	// Document methods
	LookupDocument(fingerprint string) (*model.Document, error)
	UpsertDocument(doc *model.Document) error
	ListDocuments(page, limit int) ([]model.Document, int64, error)
	DeleteDocument(fingerprint string) error
	SetDocumentProcessing(fingerprint string, plannedUnits int) error
	UpdateUnitProgress(fingerprint string, completedUnits, totalQuestions int) error
	MarkComplete(fingerprint string, withErrors bool) (bool, error)

	// Question methods
	AppendQuestions(fingerprint string, questions []model.Question) error
	GetQuestions(fingerprint string, page, limit int, unit *int) ([]model.Question, int64, error)
	GetQuestionByOrdinal(fingerprint string, ordinal int) (*model.Question, error)
	CountQuestions(fingerprint string) (int, error)
	MaxOrdinal(fingerprint string) (int, error)
	MaxCompletedUnit(fingerprint string) (int, error)

	// Quiz session methods
	GetSession(fingerprint string) (*model.QuizSession, error)
	SaveSession(session *model.QuizSession) error
	DeleteSession(fingerprint string) error
}

// MaintenanceStore runs the periodic sweep queries over a raw database/sql
// connection. It deliberately bypasses GORM: the retention and reconciliation
// jobs are bulk interval queries that read better as plain SQL.
type MaintenanceStore struct {
	db *sql.DB
}

func Start() (*MaintenanceStore, error) {
	getEnv, err := config.Get()

	if err != nil {
		return nil, err
	}

	connectStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv.DB_HOST, getEnv.DB_PORT, getEnv.DB_USER_NAME, getEnv.DB_PASSWORD, getEnv.DB_NAME, getEnv.DB_SSL_MODE)

	db, err := sql.Open("postgres", connectStr)
	if err != nil {
		fmt.Println("Unable to Start PostgresSQL Databse.")
		return nil, err
	}

	log.Println("Successfully connected to PostgresSQL Database (maintenance).")
	return &MaintenanceStore{
		db: db,
	}, nil
}

func (s *MaintenanceStore) Close() error {
	log.Println("Closing PostgresSQL Database (maintenance).")
	return s.db.Close()
}

// HealthCheck verifies the database connection is alive
func (s *MaintenanceStore) HealthCheck() error {
	return s.db.Ping()
}

// SweepExpiredDocuments hard-deletes documents whose last access is older
// than the retention window. Question rows cascade through the foreign key;
// orphaned quiz sessions are removed in the same pass.
func (s *MaintenanceStore) SweepExpiredDocuments(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	res, err := s.db.Exec(`DELETE FROM documents WHERE last_accessed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired documents: %w", err)
	}
	removed, _ := res.RowsAffected()

	_, err = s.db.Exec(`DELETE FROM quiz_sessions WHERE document_fingerprint NOT IN (SELECT fingerprint FROM documents)`)
	if err != nil {
		return removed, fmt.Errorf("sweep orphan sessions: %w", err)
	}
	return removed, nil
}

// FindStaleProcessing returns fingerprints stuck in the processing state with
// no database activity for longer than the threshold. These are jobs whose
// worker died without reporting completion.
func (s *MaintenanceStore) FindStaleProcessing(threshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-threshold)

	rows, err := s.db.Query(
		`SELECT fingerprint FROM documents WHERE status = $1 AND updated_at < $2`,
		string(model.DocumentStatusProcessing), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find stale processing: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan stale fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, rows.Err()
}

// PersistedCounts recounts a document's extraction output straight from the
// question rows. Used as the fallback source of truth when in-memory unit
// tracking was lost.
func (s *MaintenanceStore) PersistedCounts(fingerprint string) (questions int, maxUnit int, err error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(unit_number), 0) FROM questions WHERE document_fingerprint = $1`,
		fingerprint,
	)
	if err := row.Scan(&questions, &maxUnit); err != nil {
		return 0, 0, fmt.Errorf("recount questions for %s: %w", fingerprint, err)
	}
	return questions, maxUnit, nil
}

// ForceComplete transitions a stale document out of processing, preserving
// whatever was extracted. The WHERE clause keeps the transition single-shot
// even if two sweeps race.
func (s *MaintenanceStore) ForceComplete(fingerprint string, totalQuestions, completedUnits int) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE documents
		 SET status = $1, completed_with_errors = TRUE, total_questions = $2, completed_units = $3, updated_at = NOW()
		 WHERE fingerprint = $4 AND status = $5`,
		string(model.DocumentStatusComplete), totalQuestions, completedUnits,
		fingerprint, string(model.DocumentStatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("force complete %s: %w", fingerprint, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
