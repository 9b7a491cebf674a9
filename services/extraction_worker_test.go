package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services/digitalocean"
)

// scriptedOracle returns a canned inference response and records what the
// worker sent it.
type scriptedOracle struct {
	calls       int
	messages    []digitalocean.InferenceMessage
	hadDeadline bool
	response    *digitalocean.InferenceResponse
	err         error
}

func (o *scriptedOracle) ChatCompletion(ctx context.Context, messages []digitalocean.InferenceMessage, options ...digitalocean.InferenceOption) (*digitalocean.InferenceResponse, error) {
	o.calls++
	o.messages = messages
	_, o.hadDeadline = ctx.Deadline()
	if o.err != nil {
		return nil, o.err
	}
	return o.response, nil
}

// stubPageReader stands in for the OCR sidecar
type stubPageReader struct {
	calls    int
	gotBytes []byte
	gotName  string
	text     string
	err      error
}

func (r *stubPageReader) ProcessImage(ctx context.Context, imageBytes []byte, filename string) (*OCRResponse, error) {
	r.calls++
	r.gotBytes = imageBytes
	r.gotName = filename
	if r.err != nil {
		return nil, r.err
	}
	return &OCRResponse{Text: r.text, PageCount: 1, Filename: filename}, nil
}

func oracleJSON(content string, tokens int) *digitalocean.InferenceResponse {
	return &digitalocean.InferenceResponse{
		Choices: []digitalocean.InferenceChoice{
			{Index: 0, Message: digitalocean.InferenceMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: digitalocean.InferenceUsage{
			PromptTokens:     tokens / 2,
			CompletionTokens: tokens - tokens/2,
			TotalTokens:      tokens,
		},
	}
}

func TestWorkerProcessTextUnit(t *testing.T) {
	payload := `{"questions":[{"question":"Which layer of the OSI model routes packets?","options":["Transport","Network","Session","Physical"],"correct_answer":1,"explanation":"Routing is a network layer responsibility."},{"question":"Which device separates broadcast domains?","options":["Hub","Switch","Repeater","Router","Bridge"],"correct_answer":3,"explanation":"Routers bound broadcast domains."}]}`
	oracle := &scriptedOracle{response: oracleJSON(payload, 1500)}
	worker := NewExtractionWorker(oracle, nil, WorkerConfig{})

	unit := WorkUnit{
		Ordinal:         2,
		Content:         "The network layer forwards packets between routers.",
		TargetQuestions: 12,
	}
	records, tokens, err := worker.Process(context.Background(), unit)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if tokens != 1500 {
		t.Errorf("token usage = %d, want 1500", tokens)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].CorrectIndex != 1 || len(records[0].Options) != 4 {
		t.Errorf("record 0 = index %d with %d options, want 1 with 4", records[0].CorrectIndex, len(records[0].Options))
	}
	if records[1].CorrectIndex != 3 || len(records[1].Options) != 5 {
		t.Errorf("record 1 = index %d with %d options, want 3 with 5", records[1].CorrectIndex, len(records[1].Options))
	}
	for i, rec := range records {
		if rec.Provenance != model.ProvenanceAI {
			t.Errorf("record %d provenance = %q, want %q", i, rec.Provenance, model.ProvenanceAI)
		}
	}

	if oracle.calls != 1 {
		t.Fatalf("oracle called %d times, want 1", oracle.calls)
	}
	if !oracle.hadDeadline {
		t.Error("oracle call carried no deadline")
	}
	if len(oracle.messages) != 2 {
		t.Fatalf("oracle received %d messages, want system and user", len(oracle.messages))
	}
	if oracle.messages[0].Role != "system" || !strings.Contains(oracle.messages[0].Content, "extraction engine") {
		t.Errorf("first message role %q is not the extraction system prompt", oracle.messages[0].Role)
	}
	user := oracle.messages[1]
	if user.Role != "user" {
		t.Errorf("second message role = %q, want user", user.Role)
	}
	if !strings.Contains(user.Content, "Extract up to 12 multiple-choice") {
		t.Errorf("user prompt does not carry the target count:\n%s", truncateStr(user.Content, 120))
	}
	if !strings.Contains(user.Content, "part 2") {
		t.Errorf("user prompt does not carry the unit ordinal:\n%s", truncateStr(user.Content, 120))
	}
	if !strings.Contains(user.Content, unit.Content) {
		t.Error("user prompt does not carry the unit content")
	}
}

func TestWorkerDefaultsTargetQuestions(t *testing.T) {
	oracle := &scriptedOracle{response: oracleJSON(`{"questions":[]}`, 200)}
	worker := NewExtractionWorker(oracle, nil, WorkerConfig{})

	_, _, err := worker.Process(context.Background(), WorkUnit{Ordinal: 1, Content: "Some study notes."})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(oracle.messages) != 2 {
		t.Fatalf("oracle received %d messages, want 2", len(oracle.messages))
	}
	if !strings.Contains(oracle.messages[1].Content, "Extract up to 20 multiple-choice") {
		t.Errorf("unset target did not fall back to the planner default:\n%s", truncateStr(oracle.messages[1].Content, 120))
	}
}

func TestWorkerSkipsEmptyUnit(t *testing.T) {
	oracle := &scriptedOracle{response: oracleJSON(`{"questions":[]}`, 100)}
	worker := NewExtractionWorker(oracle, nil, WorkerConfig{})

	records, tokens, err := worker.Process(context.Background(), WorkUnit{Ordinal: 3, Content: "  \n\t "})
	if err != nil {
		t.Fatalf("empty unit returned error: %v", err)
	}
	if len(records) != 0 || tokens != 0 {
		t.Errorf("empty unit yielded %d records and %d tokens, want none", len(records), tokens)
	}
	if oracle.calls != 0 {
		t.Errorf("empty unit still reached the oracle %d times", oracle.calls)
	}
}

func TestWorkerPropagatesOracleError(t *testing.T) {
	oracleErr := errors.New("inference API error (status 429)")
	oracle := &scriptedOracle{err: oracleErr}
	worker := NewExtractionWorker(oracle, nil, WorkerConfig{})

	records, tokens, err := worker.Process(context.Background(), WorkUnit{Ordinal: 1, Content: "Notes."})
	if !errors.Is(err, oracleErr) {
		t.Errorf("Process error = %v, want the oracle error", err)
	}
	if records != nil || tokens != 0 {
		t.Errorf("failed unit still yielded %d records and %d tokens", len(records), tokens)
	}
}

func TestWorkerImageUnitRequiresPageReader(t *testing.T) {
	oracle := &scriptedOracle{response: oracleJSON(`{"questions":[]}`, 100)}
	worker := NewExtractionWorker(oracle, nil, WorkerConfig{})

	unit := WorkUnit{Ordinal: 1, PageImage: []byte{0x89, 0x50, 0x4e, 0x47}, PageName: "page_001.png"}
	_, _, err := worker.Process(context.Background(), unit)
	if err == nil || !strings.Contains(err.Error(), "page image") {
		t.Errorf("image unit without OCR support = %v, want a page image error", err)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle was called %d times for an unreadable unit", oracle.calls)
	}
}

func TestWorkerImageUnitThroughOCR(t *testing.T) {
	reader := &stubPageReader{text: "1. What is Ohm's law? A) V=IR B) P=VI C) F=ma D) E=mc2 Answer: A"}
	payload := `{"questions":[{"question":"What is Ohm's law?","options":["V=IR","P=VI","F=ma","E=mc2"],"correct_answer":0,"explanation":"Ohm's law relates voltage, current and resistance."}]}`
	oracle := &scriptedOracle{response: oracleJSON(payload, 640)}
	worker := NewExtractionWorker(oracle, reader, WorkerConfig{})

	pngBytes := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	unit := WorkUnit{Ordinal: 1, PageImage: pngBytes, PageName: "page_001.png", IsFirst: true, TargetQuestions: 5}
	records, tokens, err := worker.Process(context.Background(), unit)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reader.calls != 1 || reader.gotName != "page_001.png" || !bytes.Equal(reader.gotBytes, pngBytes) {
		t.Errorf("OCR received calls=%d name=%q, want the unit's page", reader.calls, reader.gotName)
	}
	if len(oracle.messages) != 2 || !strings.Contains(oracle.messages[1].Content, "What is Ohm's law?") {
		t.Error("oracle prompt does not carry the OCR text")
	}
	if len(records) != 1 || records[0].CorrectIndex != 0 {
		t.Errorf("got %d records, want the single OCR-extracted question", len(records))
	}
	if tokens != 640 {
		t.Errorf("token usage = %d, want 640", tokens)
	}
}

func TestWorkerPropagatesOCRError(t *testing.T) {
	reader := &stubPageReader{err: errors.New("ocr service unavailable")}
	oracle := &scriptedOracle{response: oracleJSON(`{"questions":[]}`, 100)}
	worker := NewExtractionWorker(oracle, reader, WorkerConfig{})

	unit := WorkUnit{Ordinal: 2, PageImage: []byte{0xff, 0xd8, 0xff}, PageName: "page_002.jpg"}
	records, _, err := worker.Process(context.Background(), unit)
	if !errors.Is(err, reader.err) {
		t.Errorf("Process error = %v, want the OCR error", err)
	}
	if records != nil {
		t.Errorf("failed OCR unit still yielded %d records", len(records))
	}
	if oracle.calls != 0 {
		t.Errorf("oracle was called %d times after OCR failure", oracle.calls)
	}
}
