package services

import (
	"strings"
	"testing"

	"github.com/quizforge/api/model"
)

// ExpectedRecord is the normalized shape one candidate should come out as
type ExpectedRecord struct {
	PromptContains string
	OptionCount    int
	CorrectIndex   int
	Provenance     model.QuestionProvenance
	Explanation    string // "" to skip the check
}

func validateRecords(t *testing.T, got []ParsedQuestion, want []ExpectedRecord) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("Record count mismatch: got %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		q := got[i]
		if !strings.Contains(q.Prompt, w.PromptContains) {
			t.Errorf("Record %d prompt mismatch: got %q, want it to contain %q", i, q.Prompt, w.PromptContains)
		}
		if len(q.Options) != w.OptionCount {
			t.Errorf("Record %d option count mismatch: got %d, want %d", i, len(q.Options), w.OptionCount)
		}
		if q.CorrectIndex != w.CorrectIndex {
			t.Errorf("Record %d correct index mismatch: got %d, want %d", i, q.CorrectIndex, w.CorrectIndex)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			t.Errorf("Record %d correct index %d outside its %d options", i, q.CorrectIndex, len(q.Options))
		}
		if q.Provenance != w.Provenance {
			t.Errorf("Record %d provenance mismatch: got %s, want %s", i, q.Provenance, w.Provenance)
		}
		if w.Explanation != "" && q.Explanation != w.Explanation {
			t.Errorf("Record %d explanation mismatch: got %q, want %q", i, q.Explanation, w.Explanation)
		}
		if q.Explanation == "" {
			t.Errorf("Record %d has an empty explanation", i)
		}
	}
}

func TestNormalizeCleanEnvelope(t *testing.T) {
	raw := `{"questions":[
		{"question":"What is the capital of France?","options":["Berlin","Madrid","Paris","Rome"],"correct_answer":2,"explanation":"Paris is the capital of France."},
		{"question":"Which planet is largest?","options":["Earth","Jupiter","Mars","Venus","Mercury"],"correct_answer":1,"explanation":"Jupiter dwarfs the others."}
	]}`

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "capital of France", OptionCount: 4, CorrectIndex: 2, Provenance: model.ProvenanceAI, Explanation: "Paris is the capital of France."},
		{PromptContains: "planet is largest", OptionCount: 5, CorrectIndex: 1, Provenance: model.ProvenanceAI, Explanation: "Jupiter dwarfs the others."},
	})
}

func TestNormalizeMarkdownFencedPayload(t *testing.T) {
	raw := "```json\n{\"questions\":[{\"question\":\"What is 2+2?\",\"options\":[\"3\",\"4\",\"5\",\"6\"],\"correct_answer\":1,\"explanation\":\"Basic arithmetic.\"}]}\n```"

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "2+2", OptionCount: 4, CorrectIndex: 1, Provenance: model.ProvenanceAI},
	})
}

func TestNormalizeBareArrayWithLetterAnswer(t *testing.T) {
	raw := `[{"question":"Which gas do plants absorb?","options":["Oxygen","Carbon dioxide","Nitrogen","Helium"],"answer":"B"}]`

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "plants absorb", OptionCount: 4, CorrectIndex: 1, Provenance: model.ProvenanceAI, Explanation: PlaceholderExplanation},
	})
}

func TestNormalizeTruncatedPayload(t *testing.T) {
	// Output cut off mid-array: the first question survives repair intact,
	// the second loses options and gets padded with fillers
	raw := `{"questions":[
		{"question":"Complete question?","options":["A1","B1","C1","D1"],"correct_answer":0,"explanation":"fine"},
		{"question":"Truncated question?","options":["A2","B2`

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "Complete question", OptionCount: 4, CorrectIndex: 0, Provenance: model.ProvenanceRepaired},
		{PromptContains: "Truncated question", OptionCount: 4, CorrectIndex: 0, Provenance: model.ProvenancePlaceholder},
	})
}

func TestNormalizeStandaloneObjects(t *testing.T) {
	// The payload as a whole never parses, but two self-contained question
	// objects are recoverable from the noise
	raw := `{oops: unquoted} {"question":"First salvaged?","options":["A","B","C","D"],"answer":0} junk ` +
		`{"question":"Second salvaged?","options":["W","X","Y","Z"],"answer":3}`

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "First salvaged", OptionCount: 4, CorrectIndex: 0, Provenance: model.ProvenanceRepaired},
		{PromptContains: "Second salvaged", OptionCount: 4, CorrectIndex: 3, Provenance: model.ProvenanceRepaired},
	})
}

func TestNormalizeProseReconstruction(t *testing.T) {
	raw := `Here are the questions I found:

1. What is the largest planet?
a) Earth
b) Jupiter
c) Mars
d) Venus
Answer: b
Explanation: Jupiter is the largest planet in the solar system.

2. Which gas do plants absorb?
(a) Oxygen
(b) Carbon dioxide
(c) Nitrogen
(d) Helium
Ans: B`

	records := NewQuestionNormalizer().Normalize(raw)

	validateRecords(t, records, []ExpectedRecord{
		{PromptContains: "largest planet", OptionCount: 4, CorrectIndex: 1, Provenance: model.ProvenanceRepaired, Explanation: "Jupiter is the largest planet in the solar system."},
		{PromptContains: "plants absorb", OptionCount: 4, CorrectIndex: 1, Provenance: model.ProvenanceRepaired, Explanation: PlaceholderExplanation},
	})
}

func TestNormalizeOptionSurgery(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ExpectedRecord
	}{
		{
			name: "two options padded to four",
			raw:  `{"questions":[{"question":"True or false style?","options":["True","False"],"correct_answer":1,"explanation":"x"}]}`,
			want: ExpectedRecord{PromptContains: "True or false", OptionCount: 4, CorrectIndex: 1, Provenance: model.ProvenancePlaceholder},
		},
		{
			name: "seven options truncated to five",
			raw:  `{"questions":[{"question":"Too many options?","options":["O1","O2","O3","O4","O5","O6","O7"],"correct_answer":1,"explanation":"x"}]}`,
			want: ExpectedRecord{PromptContains: "Too many", OptionCount: 5, CorrectIndex: 1, Provenance: model.ProvenanceRepaired},
		},
		{
			name: "out of range answer clamped",
			raw:  `{"questions":[{"question":"Bad answer index?","options":["A","B","C","D"],"correct_answer":9,"explanation":"x"}]}`,
			want: ExpectedRecord{PromptContains: "Bad answer", OptionCount: 4, CorrectIndex: 0, Provenance: model.ProvenanceRepaired},
		},
		{
			name: "missing answer defaults to zero",
			raw:  `{"questions":[{"question":"No answer given?","options":["A","B","C","D"],"explanation":"x"}]}`,
			want: ExpectedRecord{PromptContains: "No answer", OptionCount: 4, CorrectIndex: 0, Provenance: model.ProvenanceRepaired},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := NewQuestionNormalizer().Normalize(tc.raw)
			validateRecords(t, records, []ExpectedRecord{tc.want})
		})
	}
}

func TestNormalizeAnswerCoercion(t *testing.T) {
	options := []string{"Berlin", "Madrid", "Paris", "Rome"}

	cases := []struct {
		answer    interface{}
		wantIndex int
		wantClean bool
	}{
		{float64(2), 2, true},
		{"2", 2, true},
		{"C", 2, true},
		{"(c)", 2, true},
		{"c.", 2, true},
		{"Option C", 2, true},
		{"Paris", 2, true},
		{"c) Paris", 2, true},
		{"paris", 2, true},
		{nil, 0, false},
		{"", 0, false},
		{"unrelated text", 0, false},
		{true, 0, false},
	}

	for _, tc := range cases {
		got, clean := coerceAnswerIndex(tc.answer, options)
		if got != tc.wantIndex || clean != tc.wantClean {
			t.Errorf("coerceAnswerIndex(%v): got (%d, %v), want (%d, %v)", tc.answer, got, clean, tc.wantIndex, tc.wantClean)
		}
	}
}

func TestNormalizeRejectsUnusableInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"no questions in payload", `{"questions":[]}`},
		{"prompt missing", `{"questions":[{"options":["A","B","C","D"],"correct_answer":0}]}`},
		{"options missing", `{"questions":[{"question":"Where are my options?"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if records := NewQuestionNormalizer().Normalize(tc.raw); len(records) != 0 {
				t.Errorf("got %d records, want none", len(records))
			}
		})
	}
}

func TestParsedQuestionToModel(t *testing.T) {
	q := ParsedQuestion{
		Prompt:       "What is the capital of France?",
		Options:      []string{"Berlin", "Madrid", "Paris", "Rome"},
		CorrectIndex: 2,
		Explanation:  "Paris.",
		Provenance:   model.ProvenanceAI,
	}

	record, err := q.ToModel(7, 2)
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if record.Ordinal != 7 || record.UnitNumber != 2 {
		t.Errorf("Placement mismatch: got ordinal %d unit %d, want 7 and 2", record.Ordinal, record.UnitNumber)
	}
	opts, err := record.OptionList()
	if err != nil {
		t.Fatalf("OptionList failed: %v", err)
	}
	if len(opts) != 4 || opts[2] != "Paris" {
		t.Errorf("Options round trip mismatch: got %v", opts)
	}
}
