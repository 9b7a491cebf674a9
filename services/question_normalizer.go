package services

import (
	"encoding/json"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils"
)

// PlaceholderExplanation substitutes for a missing explanation so every
// stored record carries one
const PlaceholderExplanation = "No explanation provided."

// Filler options used when the oracle returned fewer than the minimum four
var fillerOptions = []string{
	"None of the above",
	"All of the above",
	"Cannot be determined",
}

// ParsedQuestion is a validated question candidate. Ordinal and unit
// assignment happen later, when the scheduler persists the batch.
type ParsedQuestion struct {
	Prompt       string
	Options      []string
	CorrectIndex int
	Explanation  string
	Provenance   model.QuestionProvenance
}

// ToModel converts the parsed question into its persisted form
func (q ParsedQuestion) ToModel(ordinal, unit int) (model.Question, error) {
	opts, err := model.OptionsJSON(q.Options)
	if err != nil {
		return model.Question{}, err
	}
	return model.Question{
		Ordinal:      ordinal,
		Prompt:       q.Prompt,
		Options:      opts,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
		UnitNumber:   unit,
		Provenance:   q.Provenance,
	}, nil
}

// rawCandidate is a question as the oracle emitted it, before validation.
// The answer field is left untyped: models send numbers, letters, option
// text and everything in between.
type rawCandidate struct {
	Question    string
	Options     []string
	Answer      interface{}
	Explanation string
}

// QuestionNormalizer converts the oracle's raw output for one unit into
// validated question records. It never fails: malformed input degrades to
// fewer or zero records.
type QuestionNormalizer struct{}

// NewQuestionNormalizer creates a normalizer
func NewQuestionNormalizer() *QuestionNormalizer {
	return &QuestionNormalizer{}
}

// Normalize runs the salvage ladder over raw oracle output:
//  1. structured extraction of the outermost JSON payload
//  2. mechanical repair of the payload, then re-parse
//  3. independent extraction of self-contained question objects
//  4. pattern-based reconstruction from prose
//
// Each stage only runs when the previous one produced nothing. Every
// surviving candidate is then normalized into the 4-5 option, in-range
// index shape the store requires.
func (n *QuestionNormalizer) Normalize(raw string) []ParsedQuestion {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var candidates []rawCandidate
	baseProvenance := model.ProvenanceAI

	// Stages 1 and 2: whole-payload parse, with mechanical repair when the
	// direct parse fails
	jsonStr, repaired, err := utils.ExtractJSONWithRepair(raw)
	if err == nil {
		candidates = parseQuestionPayload([]byte(jsonStr))
		if repaired {
			baseProvenance = model.ProvenanceRepaired
		}
	}

	// Stage 3: the payload as a whole is unusable; fish out individual
	// question objects and parse each on its own
	if len(candidates) == 0 {
		candidates = extractStandaloneObjects(raw)
		baseProvenance = model.ProvenanceRepaired
		if len(candidates) > 0 {
			log.Printf("Question Normalizer: Salvaged %d standalone objects", len(candidates))
		}
	}

	// Stage 4: no structure at all; reconstruct from numbered prose
	if len(candidates) == 0 {
		candidates = parseProseQuestions(raw)
		baseProvenance = model.ProvenanceRepaired
		if len(candidates) > 0 {
			log.Printf("Question Normalizer: Reconstructed %d questions from prose", len(candidates))
		}
	}

	out := make([]ParsedQuestion, 0, len(candidates))
	for _, c := range candidates {
		q, ok := n.normalizeCandidate(c, baseProvenance)
		if !ok {
			continue
		}
		out = append(out, q)
	}

	log.Printf("Question Normalizer: %d of %d candidates survived normalization", len(out), len(candidates))
	return out
}

// normalizeCandidate enforces the record invariants: 4-5 options and a
// correct index inside them. Structural surgery downgrades provenance;
// unusable candidates are dropped.
func (n *QuestionNormalizer) normalizeCandidate(c rawCandidate, provenance model.QuestionProvenance) (ParsedQuestion, bool) {
	prompt := strings.TrimSpace(c.Question)
	if prompt == "" {
		return ParsedQuestion{}, false
	}

	options := make([]string, 0, len(c.Options))
	for _, opt := range c.Options {
		opt = strings.TrimSpace(opt)
		if opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return ParsedQuestion{}, false
	}

	// Resolve the answer before any option surgery so text matching sees
	// the original option list
	index, clean := coerceAnswerIndex(c.Answer, options)

	// Option counts outside 4-5 are padded up or truncated down; counts
	// already inside the bound are preserved exactly as extracted
	if len(options) < 4 {
		for i := 0; len(options) < 4; i++ {
			options = append(options, fillerOptions[i%len(fillerOptions)])
		}
		provenance = model.ProvenancePlaceholder
	} else if len(options) > 5 {
		options = options[:5]
		provenance = escalateProvenance(provenance, model.ProvenanceRepaired)
	}

	if !clean || index < 0 || index >= len(options) {
		if index < 0 || index >= len(options) {
			log.Printf("Question Normalizer: Clamping out-of-range answer index %d for %q", index, truncateForLog(prompt))
			index = 0
		}
		provenance = escalateProvenance(provenance, model.ProvenanceRepaired)
	}

	explanation := strings.TrimSpace(c.Explanation)
	if explanation == "" {
		explanation = PlaceholderExplanation
	}

	return ParsedQuestion{
		Prompt:       prompt,
		Options:      options,
		CorrectIndex: index,
		Explanation:  explanation,
		Provenance:   provenance,
	}, true
}

// escalateProvenance never downgrades: placeholder > repaired > ai
func escalateProvenance(current, proposed model.QuestionProvenance) model.QuestionProvenance {
	if current == model.ProvenancePlaceholder {
		return current
	}
	if proposed == model.ProvenancePlaceholder {
		return proposed
	}
	if current == model.ProvenanceRepaired || proposed == model.ProvenanceRepaired {
		return model.ProvenanceRepaired
	}
	return model.ProvenanceAI
}

// ============= Payload parsing (stages 1-2) =============

// parseQuestionPayload accepts the payload shapes the oracle actually
// produces: an envelope {"questions": [...]}, a bare array, or a single
// question object
func parseQuestionPayload(data []byte) []rawCandidate {
	var envelope struct {
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Questions) > 0 {
		return decodeCandidateList(envelope.Questions)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return decodeCandidateList(list)
	}

	if c, ok := decodeCandidate(data); ok {
		return []rawCandidate{c}
	}
	return nil
}

func decodeCandidateList(items []json.RawMessage) []rawCandidate {
	out := make([]rawCandidate, 0, len(items))
	for _, item := range items {
		if c, ok := decodeCandidate(item); ok {
			out = append(out, c)
		}
	}
	return out
}

// decodeCandidate reads one question object tolerantly, accepting the key
// aliases different model revisions have used
func decodeCandidate(data []byte) (rawCandidate, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return rawCandidate{}, false
	}

	c := rawCandidate{
		Question:    firstStringValue(m, "question", "prompt", "text"),
		Explanation: firstStringValue(m, "explanation", "rationale", "reason"),
	}

	for _, key := range []string{"correct_answer", "answer", "correct", "correct_index", "correctIndex"} {
		if v, ok := m[key]; ok && v != nil {
			c.Answer = v
			break
		}
	}

	for _, key := range []string{"options", "choices", "answers"} {
		raw, ok := m[key].([]interface{})
		if !ok {
			continue
		}
		for _, v := range raw {
			if s, ok := v.(string); ok {
				c.Options = append(c.Options, s)
			}
		}
		if len(c.Options) > 0 {
			break
		}
	}

	if c.Question == "" && len(c.Options) == 0 {
		return rawCandidate{}, false
	}
	return c, true
}

func firstStringValue(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ============= Standalone object extraction (stage 3) =============

// extractStandaloneObjects scans for balanced top-level {...} spans that
// look like question objects and parses each independently, so one corrupt
// entry no longer poisons the rest of the batch
func extractStandaloneObjects(raw string) []rawCandidate {
	var out []rawCandidate

	depth := 0
	inString := false
	escaped := false
	start := -1

	for i := 0; i < len(raw); i++ {
		ch := raw[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					span := raw[start : i+1]
					if looksLikeQuestionObject(span) {
						if c, ok := decodeCandidate([]byte(span)); ok {
							out = append(out, c)
						}
					}
					start = -1
				}
			}
		}
	}
	return out
}

func looksLikeQuestionObject(span string) bool {
	lower := strings.ToLower(span)
	return strings.Contains(lower, `"question"`) || strings.Contains(lower, `"prompt"`) ||
		strings.Contains(lower, `"options"`) || strings.Contains(lower, `"choices"`)
}

// ============= Prose reconstruction (stage 4) =============

var (
	proseQuestionRe = regexp.MustCompile(`^\s*(?:Q(?:uestion)?\s*)?(\d{1,3})[.):]\s*(.+)$`)
	proseOptionRe   = regexp.MustCompile(`^\s*\(?([a-eA-E])[.)]\s*(.+)$`)
	proseAnswerRe   = regexp.MustCompile(`(?i)^\s*(?:correct\s+)?(?:answer|ans)\s*[:\-]?\s*\(?([a-eA-E1-5])\)?`)
	proseExplainRe  = regexp.MustCompile(`(?i)^\s*explanation\s*[:\-]?\s*(.+)$`)
)

// parseProseQuestions reconstructs questions from numbered prose: a number
// and prompt, lettered option lines, and an answer marker line
func parseProseQuestions(raw string) []rawCandidate {
	var out []rawCandidate
	var current *rawCandidate

	flush := func() {
		if current != nil && current.Question != "" && len(current.Options) >= 2 {
			out = append(out, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		if m := proseQuestionRe.FindStringSubmatch(line); m != nil && proseOptionRe.FindStringSubmatch(line) == nil {
			flush()
			current = &rawCandidate{Question: strings.TrimSpace(m[2])}
			continue
		}
		if current == nil {
			continue
		}
		if m := proseOptionRe.FindStringSubmatch(line); m != nil {
			current.Options = append(current.Options, strings.TrimSpace(m[2]))
			continue
		}
		if m := proseAnswerRe.FindStringSubmatch(line); m != nil {
			current.Answer = m[1]
			continue
		}
		if m := proseExplainRe.FindStringSubmatch(line); m != nil {
			current.Explanation = strings.TrimSpace(m[1])
			continue
		}
	}
	flush()

	return out
}

// ============= Answer coercion =============

var answerLetterRe = regexp.MustCompile(`(?i)^\(?([a-e])[.)]?$`)

// coerceAnswerIndex turns whatever the oracle put in the answer field into
// a zero-based option index. The boolean reports whether the value resolved
// without guessing; a false return means the caller should treat the record
// as repaired.
func coerceAnswerIndex(answer interface{}, options []string) (int, bool) {
	switch v := answer.(type) {
	case nil:
		return 0, false
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}

		// Plain numeric string
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}

		// Letter forms: "A", "(b)", "c.", "Option D"
		candidate := s
		lower := strings.ToLower(candidate)
		if strings.HasPrefix(lower, "option") {
			candidate = strings.TrimSpace(candidate[len("option"):])
		}
		if m := answerLetterRe.FindStringSubmatch(candidate); m != nil {
			return int(strings.ToLower(m[1])[0] - 'a'), true
		}

		// Full option text: match against the options themselves
		for i, opt := range options {
			if strings.EqualFold(strings.TrimSpace(opt), s) {
				return i, true
			}
		}

		// "b) Paris" style: letter prefix followed by the option text
		if m := proseOptionRe.FindStringSubmatch(s); m != nil {
			return int(strings.ToLower(m[1])[0] - 'a'), true
		}

		return 0, false
	default:
		return 0, false
	}
}

func truncateForLog(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
