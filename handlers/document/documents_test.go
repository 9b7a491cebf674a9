package document

import (
	"strings"
	"testing"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services"
)

func sampleQuestion(t *testing.T, ordinal int) model.Question {
	t.Helper()
	options, err := model.OptionsJSON([]string{"Mercury", "Venus", "Earth", "Mars"})
	if err != nil {
		t.Fatalf("encode options: %v", err)
	}
	return model.Question{
		Ordinal:      ordinal,
		Prompt:       "Which planet is third from the sun?",
		Options:      options,
		CorrectIndex: 2,
		Explanation:  "Earth is the third planet.",
		UnitNumber:   1,
		Provenance:   model.ProvenanceAI,
	}
}

func TestDocumentSummaries(t *testing.T) {
	docs := []model.Document{
		{
			Fingerprint:    strings.Repeat("a1", 32),
			DisplayName:    "chapter-1.pdf",
			ContentType:    model.ContentTypeText,
			ByteSize:       1 << 16,
			Status:         model.DocumentStatusComplete,
			PlannedUnits:   3,
			CompletedUnits: 3,
			TotalQuestions: 24,
		},
		{
			Fingerprint: strings.Repeat("b2", 32),
			DisplayName: "board-scans",
			ContentType: model.ContentTypeImages,
			PageCount:   4,
			Status:      model.DocumentStatusProcessing,
		},
	}

	summaries := documentSummaries(docs)
	if len(summaries) != len(docs) {
		t.Fatalf("got %d summaries, want %d", len(summaries), len(docs))
	}
	for i := range summaries {
		if summaries[i] != docs[i].ToSummary() {
			t.Errorf("summary %d = %+v, want the document's summary view", i, summaries[i])
		}
	}

	if got := documentSummaries(nil); len(got) != 0 {
		t.Errorf("empty listing produced %d summaries", len(got))
	}
}

func TestSubmitPayload(t *testing.T) {
	doc := &model.Document{
		Fingerprint:    strings.Repeat("c3", 32),
		DisplayName:    "lecture.txt",
		ContentType:    model.ContentTypeText,
		Status:         model.DocumentStatusProcessing,
		PlannedUnits:   2,
		TotalQuestions: 2,
	}

	payload := submitPayload(&services.SubmitResult{
		Document:         doc,
		JobID:            "c3c3c3c3c3c3_1700000000",
		PlannedUnits:     2,
		InitialQuestions: []model.Question{sampleQuestion(t, 1), sampleQuestion(t, 2)},
	})

	if payload["job_id"] != "c3c3c3c3c3c3_1700000000" {
		t.Errorf("job_id = %v, want the submitted job", payload["job_id"])
	}
	records, ok := payload["questions"].([]*model.QuestionResponse)
	if !ok {
		t.Fatalf("questions payload is %T, want question responses", payload["questions"])
	}
	if len(records) != 2 {
		t.Fatalf("got %d question records, want 2", len(records))
	}
	if records[0].Ordinal != 1 || len(records[0].Options) != 4 {
		t.Errorf("first record = ordinal %d with %d options, want 1 with 4", records[0].Ordinal, len(records[0].Options))
	}

	summary, ok := payload["document"].(model.DocumentSummary)
	if !ok {
		t.Fatalf("document payload is %T, want a summary", payload["document"])
	}
	if summary.Fingerprint != doc.Fingerprint {
		t.Errorf("document fingerprint = %q, want %q", summary.Fingerprint, doc.Fingerprint)
	}
}

func TestSubmitPayloadWithoutDocument(t *testing.T) {
	// An attach to an extraction already running elsewhere carries no
	// document record
	payload := submitPayload(&services.SubmitResult{JobID: "c4c4c4c4c4c4_1700000001"})

	if _, present := payload["document"]; present {
		t.Error("payload carries a document key without a document")
	}
	records, ok := payload["questions"].([]*model.QuestionResponse)
	if !ok {
		t.Fatalf("questions payload is %T, want question responses", payload["questions"])
	}
	if len(records) != 0 {
		t.Errorf("got %d question records, want none", len(records))
	}
	if payload["from_cache"] != false {
		t.Errorf("from_cache = %v, want false", payload["from_cache"])
	}
}
