package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils/sharetoken"
)

// TransferFormatVersion identifies the bundle layout. Bump on breaking
// changes so old instances reject bundles they cannot read.
const TransferFormatVersion = 1

var (
	// ErrDocumentNotComplete guards operations that only make sense once
	// extraction has finished
	ErrDocumentNotComplete = errors.New("document is still processing")

	// ErrBadBundle means an import bundle failed validation
	ErrBadBundle = errors.New("invalid transfer bundle")
)

// TransferQuestion is a question in portable form, free of database IDs
type TransferQuestion struct {
	Ordinal      int                      `json:"ordinal"`
	Prompt       string                   `json:"prompt"`
	Options      []string                 `json:"options"`
	CorrectIndex int                      `json:"correct_index"`
	Explanation  string                   `json:"explanation,omitempty"`
	UnitNumber   int                      `json:"unit_number"`
	Provenance   model.QuestionProvenance `json:"provenance"`
}

// TransferBundle carries one page of a document's question set together with
// the document metadata needed to recreate it elsewhere
type TransferBundle struct {
	FormatVersion int                   `json:"format_version"`
	Document      model.DocumentSummary `json:"document"`
	Questions     []TransferQuestion    `json:"questions"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
	TotalPages    int                   `json:"total_pages"`
}

// ImportResult reports what an import actually did
type ImportResult struct {
	Fingerprint    string `json:"fingerprint"`
	Created        bool   `json:"created"`
	QuestionsAdded int    `json:"questions_added"`
	TotalQuestions int    `json:"total_questions"`
}

// TransferService moves completed question sets between instances. Exports
// are paginated bundles keyed by fingerprint; imports are idempotent, so
// replaying a bundle never duplicates questions. Share tokens gate who may
// pull an export.
type TransferService struct {
	store  database.Storage
	tokens *sharetoken.Manager
}

// NewTransferService creates a transfer service
func NewTransferService(store database.Storage, tokens *sharetoken.Manager) *TransferService {
	return &TransferService{store: store, tokens: tokens}
}

// Export returns one page of the document's question set as a bundle.
// Only completed documents can be exported.
func (s *TransferService) Export(fp string, page, limit int) (*TransferBundle, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		return nil, err
	}
	if !doc.IsComplete() {
		return nil, ErrDocumentNotComplete
	}

	questions, total, err := s.store.GetQuestions(fp, page, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	out := make([]TransferQuestion, 0, len(questions))
	for _, q := range questions {
		options, err := q.OptionList()
		if err != nil {
			return nil, fmt.Errorf("failed to decode options for question %d: %w", q.Ordinal, err)
		}
		out = append(out, TransferQuestion{
			Ordinal:      q.Ordinal,
			Prompt:       q.Prompt,
			Options:      options,
			CorrectIndex: q.CorrectIndex,
			Explanation:  q.Explanation,
			UnitNumber:   q.UnitNumber,
			Provenance:   q.Provenance,
		})
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &TransferBundle{
		FormatVersion: TransferFormatVersion,
		Document:      doc.ToSummary(),
		Questions:     out,
		Page:          page,
		PageSize:      limit,
		TotalPages:    totalPages,
	}, nil
}

// Import recreates a transferred document from a bundle. The fingerprint is
// the idempotency key: an existing complete document only gains the bundle
// questions it does not already hold, and replaying the same bundle is a
// no-op. Importing over a document that is still processing is refused.
func (s *TransferService) Import(bundle *TransferBundle) (*ImportResult, error) {
	if err := validateBundle(bundle); err != nil {
		return nil, err
	}
	fp := bundle.Document.Fingerprint

	created := false
	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		doc = &model.Document{
			Fingerprint:         fp,
			DisplayName:         bundle.Document.DisplayName,
			ContentType:         bundle.Document.ContentType,
			ByteSize:            bundle.Document.ByteSize,
			PageCount:           bundle.Document.PageCount,
			Status:              model.DocumentStatusComplete,
			PlannedUnits:        bundle.Document.PlannedUnits,
			CompletedUnits:      bundle.Document.CompletedUnits,
			TotalQuestions:      bundle.Document.TotalQuestions,
			CompletedWithErrors: bundle.Document.CompletedWithErrors,
		}
		if err := s.store.UpsertDocument(doc); err != nil {
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
		created = true
	} else if !doc.IsComplete() {
		return nil, fmt.Errorf("%w: refusing to import over it", ErrDocumentNotComplete)
	}

	existing := make(map[int]bool)
	count, err := s.store.CountQuestions(fp)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		held, _, err := s.store.GetQuestions(fp, 1, count, nil)
		if err != nil {
			return nil, err
		}
		for _, q := range held {
			existing[q.Ordinal] = true
		}
	}

	var toAppend []model.Question
	for _, tq := range bundle.Questions {
		if existing[tq.Ordinal] {
			continue
		}
		options, err := model.OptionsJSON(tq.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: question %d options: %v", ErrBadBundle, tq.Ordinal, err)
		}
		toAppend = append(toAppend, model.Question{
			Ordinal:      tq.Ordinal,
			Prompt:       tq.Prompt,
			Options:      options,
			CorrectIndex: tq.CorrectIndex,
			Explanation:  tq.Explanation,
			UnitNumber:   tq.UnitNumber,
			Provenance:   tq.Provenance,
		})
	}

	if len(toAppend) > 0 {
		if err := s.store.AppendQuestions(fp, toAppend); err != nil {
			return nil, fmt.Errorf("failed to import questions: %w", err)
		}
	}

	total, err := s.store.CountQuestions(fp)
	if err != nil {
		total = count + len(toAppend)
	}
	return &ImportResult{
		Fingerprint:    fp,
		Created:        created,
		QuestionsAdded: len(toAppend),
		TotalQuestions: total,
	}, nil
}

// IssueShareToken mints a token that lets its holder export the document
func (s *TransferService) IssueShareToken(fp string) (string, time.Time, error) {
	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		return "", time.Time{}, err
	}
	if !doc.IsComplete() {
		return "", time.Time{}, ErrDocumentNotComplete
	}
	return s.tokens.Generate(fp)
}

// ValidateShareToken checks a token against the document it claims to cover
func (s *TransferService) ValidateShareToken(token, fp string) (*sharetoken.Claims, error) {
	return s.tokens.ValidateFor(token, fp)
}

func validateBundle(bundle *TransferBundle) error {
	if bundle == nil {
		return fmt.Errorf("%w: empty bundle", ErrBadBundle)
	}
	if bundle.FormatVersion != TransferFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrBadBundle, bundle.FormatVersion)
	}
	if bundle.Document.Fingerprint == "" {
		return fmt.Errorf("%w: missing document fingerprint", ErrBadBundle)
	}
	if bundle.Document.Status != model.DocumentStatusComplete {
		return fmt.Errorf("%w: only completed documents can be transferred", ErrBadBundle)
	}
	switch bundle.Document.ContentType {
	case model.ContentTypeText, model.ContentTypeImages:
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrBadBundle, bundle.Document.ContentType)
	}

	for _, q := range bundle.Questions {
		if q.Ordinal < 1 {
			return fmt.Errorf("%w: question ordinal %d", ErrBadBundle, q.Ordinal)
		}
		if q.Prompt == "" {
			return fmt.Errorf("%w: question %d has no prompt", ErrBadBundle, q.Ordinal)
		}
		// Every persisted question carries 4 or 5 options; bundles built by
		// a healthy instance never violate this
		if len(q.Options) < 4 || len(q.Options) > 5 {
			return fmt.Errorf("%w: question %d has %d options, want 4 or 5", ErrBadBundle, q.Ordinal, len(q.Options))
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("%w: question %d correct index %d out of range", ErrBadBundle, q.Ordinal, q.CorrectIndex)
		}
	}
	return nil
}
