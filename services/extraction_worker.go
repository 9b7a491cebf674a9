package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quizforge/api/services/digitalocean"
)

// DefaultUnitTimeout bounds one unit's oracle call, OCR included
const DefaultUnitTimeout = 120 * time.Second

// Oracle is the slice of the inference client the worker depends on
type Oracle interface {
	ChatCompletion(ctx context.Context, messages []digitalocean.InferenceMessage, options ...digitalocean.InferenceOption) (*digitalocean.InferenceResponse, error)
}

// PageReader runs OCR over a page image. Satisfied by OCRClient.
type PageReader interface {
	ProcessImage(ctx context.Context, imageBytes []byte, filename string) (*OCRResponse, error)
}

const extractionSystemPrompt = `You are an exam-question extraction engine. You read study material and output every multiple-choice question it contains as structured JSON.

Rules:
- Extract the questions exactly as they appear in the material. Only compose new questions when the material contains none.
- Preserve each question's original option count (4 or 5 options).
- Prefer answers explicitly marked in the material over inferred ones.
- Provide one short explanation per question.
- "correct_answer" is the zero-based index into the options array.

You MUST respond with valid JSON only. Do not include any markdown formatting, code blocks, or explanatory text.`

const unitPromptTemplate = `Extract up to %d multiple-choice questions from the material below.

Respond with JSON in exactly this shape:
{"questions":[{"question":"...","options":["...","...","...","..."],"correct_answer":0,"explanation":"..."}]}

Material (part %d):
---
%s
---`

// WorkerConfig holds configuration for the extraction worker
type WorkerConfig struct {
	Timeout   time.Duration // per-unit budget (default 120s)
	MaxTokens int           // completion budget per call (default 4096)
}

// ExtractionWorker turns one work unit into question records with a single
// oracle call. It never retries: a failed or empty unit is reported as such
// and left to the scheduler's bookkeeping.
type ExtractionWorker struct {
	oracle     Oracle
	pageReader PageReader
	normalizer *QuestionNormalizer
	timeout    time.Duration
	maxTokens  int
}

// NewExtractionWorker creates a worker
func NewExtractionWorker(oracle Oracle, pageReader PageReader, config WorkerConfig) *ExtractionWorker {
	if config.Timeout <= 0 {
		config.Timeout = DefaultUnitTimeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	return &ExtractionWorker{
		oracle:     oracle,
		pageReader: pageReader,
		normalizer: NewQuestionNormalizer(),
		timeout:    config.Timeout,
		maxTokens:  config.MaxTokens,
	}
}

// Process runs one unit through the oracle and normalizes the result.
// An empty record list is a valid outcome, not an error; the returned error
// exists for observability and never means the unit should be retried here.
// Token usage for the call is reported alongside.
func (w *ExtractionWorker) Process(ctx context.Context, unit WorkUnit) ([]ParsedQuestion, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	content := unit.Content

	// Image units are read through OCR first, inside the same unit budget
	if len(unit.PageImage) > 0 {
		if w.pageReader == nil {
			return nil, 0, fmt.Errorf("unit %d: page image without OCR support", unit.Ordinal)
		}
		ocrResp, err := w.pageReader.ProcessImage(callCtx, unit.PageImage, unit.PageName)
		if err != nil {
			log.Printf("Extraction Worker: OCR failed for unit %d: %v", unit.Ordinal, err)
			return nil, 0, err
		}
		content = ocrResp.Text
	}

	if strings.TrimSpace(content) == "" {
		log.Printf("Extraction Worker: Unit %d has no text content, skipping oracle call", unit.Ordinal)
		return nil, 0, nil
	}

	target := unit.TargetQuestions
	if target <= 0 {
		target = DefaultPlannerConfig().QuestionsPerUnit
	}

	messages := []digitalocean.InferenceMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(unitPromptTemplate, target, unit.Ordinal, content)},
	}

	resp, err := w.oracle.ChatCompletion(callCtx, messages,
		digitalocean.WithResponseFormatJSON(),
		digitalocean.WithInferenceMaxTokens(w.maxTokens),
	)
	if err != nil {
		log.Printf("Extraction Worker: Oracle call failed for unit %d: %v", unit.Ordinal, err)
		return nil, 0, err
	}

	_, _, totalTokens := resp.GetUsage()
	records := w.normalizer.Normalize(resp.ExtractContent())

	log.Printf("Extraction Worker: Unit %d yielded %d questions (%d tokens)", unit.Ordinal, len(records), totalTokens)
	return records, totalTokens, nil
}
