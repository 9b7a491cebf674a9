package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
)

// memStore is an in-memory database.Storage used to exercise the services
// that only depend on the storage interface. It mirrors the GORM store's
// semantics: lookups return copies, MarkComplete is a compare-and-set on the
// processing status, and AppendQuestions rejects duplicate ordinals the way
// the unique index does.
type memStore struct {
	mu        sync.Mutex
	docs      map[string]*model.Document
	questions map[string][]model.Question
	sessions  map[string]*model.QuizSession
	nextID    uint
}

var _ database.Storage = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		docs:      make(map[string]*model.Document),
		questions: make(map[string][]model.Question),
		sessions:  make(map[string]*model.QuizSession),
	}
}

func (m *memStore) Init() error        { return nil }
func (m *memStore) Close() error       { return nil }
func (m *memStore) HealthCheck() error { return nil }
func (m *memStore) GetDB() interface{} { return nil }

func (m *memStore) LookupDocument(fingerprint string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fingerprint]
	if !ok {
		return nil, database.ErrNotFound
	}
	doc.LastAccessedAt = time.Now()
	out := *doc
	return &out, nil
}

func (m *memStore) UpsertDocument(doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[doc.Fingerprint]
	if !ok {
		m.nextID++
		doc.ID = m.nextID
		now := time.Now()
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		if doc.LastAccessedAt.IsZero() {
			doc.LastAccessedAt = now
		}
		stored := *doc
		m.docs[doc.Fingerprint] = &stored
		return nil
	}
	existing.DisplayName = doc.DisplayName
	existing.LastAccessedAt = time.Now()
	*doc = *existing
	return nil
}

func (m *memStore) ListDocuments(page, limit int) ([]model.Document, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]model.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		all = append(all, *doc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start < 0 || start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) DeleteDocument(fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[fingerprint]; !ok {
		return database.ErrNotFound
	}
	delete(m.docs, fingerprint)
	delete(m.questions, fingerprint)
	delete(m.sessions, fingerprint)
	return nil
}

func (m *memStore) SetDocumentProcessing(fingerprint string, plannedUnits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fingerprint]
	if !ok {
		return database.ErrNotFound
	}
	doc.Status = model.DocumentStatusProcessing
	doc.PlannedUnits = plannedUnits
	doc.CompletedUnits = 0
	doc.TotalQuestions = 0
	doc.CompletedWithErrors = false
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) UpdateUnitProgress(fingerprint string, completedUnits, totalQuestions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fingerprint]
	if !ok {
		return nil
	}
	doc.CompletedUnits = completedUnits
	doc.TotalQuestions = totalQuestions
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkComplete(fingerprint string, withErrors bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fingerprint]
	if !ok || doc.Status != model.DocumentStatusProcessing {
		return false, nil
	}
	doc.Status = model.DocumentStatusComplete
	doc.CompletedWithErrors = withErrors
	doc.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) AppendQuestions(fingerprint string, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	held := make(map[int]bool, len(m.questions[fingerprint]))
	for _, q := range m.questions[fingerprint] {
		held[q.Ordinal] = true
	}
	for _, q := range questions {
		if held[q.Ordinal] {
			return fmt.Errorf("duplicate ordinal %d for %s", q.Ordinal, fingerprint)
		}
		held[q.Ordinal] = true
	}
	for _, q := range questions {
		m.nextID++
		q.ID = m.nextID
		q.DocumentFingerprint = fingerprint
		m.questions[fingerprint] = append(m.questions[fingerprint], q)
	}
	return nil
}

func (m *memStore) GetQuestions(fingerprint string, page, limit int, unit *int) ([]model.Question, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []model.Question
	for _, q := range m.questions[fingerprint] {
		if unit != nil && q.UnitNumber != *unit {
			continue
		}
		filtered = append(filtered, q)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Ordinal < filtered[j].Ordinal })
	total := int64(len(filtered))
	start := (page - 1) * limit
	if start < 0 || start >= len(filtered) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], total, nil
}

func (m *memStore) GetQuestionByOrdinal(fingerprint string, ordinal int) (*model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions[fingerprint] {
		if q.Ordinal == ordinal {
			out := q
			return &out, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) CountQuestions(fingerprint string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions[fingerprint]), nil
}

func (m *memStore) MaxOrdinal(fingerprint string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, q := range m.questions[fingerprint] {
		if q.Ordinal > max {
			max = q.Ordinal
		}
	}
	return max, nil
}

func (m *memStore) MaxCompletedUnit(fingerprint string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, q := range m.questions[fingerprint] {
		if q.UnitNumber > max {
			max = q.UnitNumber
		}
	}
	return max, nil
}

func (m *memStore) GetSession(fingerprint string) (*model.QuizSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[fingerprint]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *session
	return &out, nil
}

func (m *memStore) SaveSession(session *model.QuizSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == 0 {
		m.nextID++
		session.ID = m.nextID
	}
	session.UpdatedAt = time.Now()
	stored := *session
	m.sessions[session.DocumentFingerprint] = &stored
	return nil
}

func (m *memStore) DeleteSession(fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
	return nil
}

// ============= Shared fixtures =============

// fakeFingerprint returns a 64 character hex string shaped like a real
// content fingerprint.
func fakeFingerprint(seed byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", seed), 32)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// correctIndexFor is the correct option index buildQuestions assigns to an
// ordinal.
func correctIndexFor(ordinal int) int {
	return (ordinal - 1) % 4
}

// buildQuestions creates sequential four-option questions starting at the
// given ordinal.
func buildQuestions(t *testing.T, startOrdinal, n int) []model.Question {
	t.Helper()
	out := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		ordinal := startOrdinal + i
		options, err := model.OptionsJSON([]string{
			fmt.Sprintf("Q%d option A", ordinal),
			fmt.Sprintf("Q%d option B", ordinal),
			fmt.Sprintf("Q%d option C", ordinal),
			fmt.Sprintf("Q%d option D", ordinal),
		})
		if err != nil {
			t.Fatalf("encode options: %v", err)
		}
		out = append(out, model.Question{
			Ordinal:      ordinal,
			Prompt:       fmt.Sprintf("What does concept %d describe?", ordinal),
			Options:      options,
			CorrectIndex: correctIndexFor(ordinal),
			Explanation:  fmt.Sprintf("Concept %d is defined in the unit notes.", ordinal),
			UnitNumber:   1,
			Provenance:   model.ProvenanceAI,
		})
	}
	return out
}

// seedDocument stores a document in the given status with n extracted
// questions already persisted.
func seedDocument(t *testing.T, store *memStore, fp string, status model.DocumentStatus, n int) {
	t.Helper()
	doc := &model.Document{
		Fingerprint:    fp,
		DisplayName:    "seeded.txt",
		ContentType:    model.ContentTypeText,
		ByteSize:       2048,
		Status:         status,
		PlannedUnits:   1,
		CompletedUnits: 1,
		TotalQuestions: n,
	}
	if err := store.UpsertDocument(doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	if n > 0 {
		if err := store.AppendQuestions(fp, buildQuestions(t, 1, n)); err != nil {
			t.Fatalf("seed questions: %v", err)
		}
	}
}
