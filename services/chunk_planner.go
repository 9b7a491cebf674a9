package services

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmptyContent is returned when a document has no usable content to plan
var ErrEmptyContent = errors.New("document content is empty")

// WorkUnit is one bounded slice of source content submitted to the oracle
// in a single call. Units are transient: they are consumed exactly once and
// never persisted.
type WorkUnit struct {
	Ordinal         int    // 1-based position in the plan
	Content         string // text slice; empty for image units
	PageImage       []byte // page image payload; nil for text units
	PageName        string // original page file name for image units
	IsFirst         bool
	TargetQuestions int // how many questions the oracle is asked for
}

// PageImage is one page of an image-backed document
type PageImage struct {
	Name string
	Data []byte
}

// PlannerConfig holds the thresholds driving unit planning
type PlannerConfig struct {
	SmallDocChars    int     // below this AND low density: single unit (default 4000)
	LowDensity       int     // density below this counts as sparse (default 15)
	QuestionsPerUnit int     // target questions per oracle call (default 20)
	MinUnits         int     // lower bound on multi-unit plans (default 2)
	MaxUnits         int     // upper bound on any plan (default 5)
	MinDensity       int     // density clamp floor (default 10)
	MaxDensity       int     // density clamp ceiling (default 150)
	MergeFraction    float64 // trailing unit below this share of target merges (default 0.3)
}

// DefaultPlannerConfig returns the default planning thresholds
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		SmallDocChars:    4000,
		LowDensity:       15,
		QuestionsPerUnit: 20,
		MinUnits:         2,
		MaxUnits:         5,
		MinDensity:       10,
		MaxDensity:       150,
		MergeFraction:    0.3,
	}
}

// ChunkPlanner splits source content into an ordered sequence of work units
// sized to respect the oracle's practical input/output limits
type ChunkPlanner struct {
	config PlannerConfig
}

// NewChunkPlanner creates a planner with the given config, filling zero
// fields from the defaults
func NewChunkPlanner(config PlannerConfig) *ChunkPlanner {
	def := DefaultPlannerConfig()
	if config.SmallDocChars <= 0 {
		config.SmallDocChars = def.SmallDocChars
	}
	if config.LowDensity <= 0 {
		config.LowDensity = def.LowDensity
	}
	if config.QuestionsPerUnit <= 0 {
		config.QuestionsPerUnit = def.QuestionsPerUnit
	}
	if config.MinUnits <= 0 {
		config.MinUnits = def.MinUnits
	}
	if config.MaxUnits <= 0 {
		config.MaxUnits = def.MaxUnits
	}
	if config.MinDensity <= 0 {
		config.MinDensity = def.MinDensity
	}
	if config.MaxDensity <= 0 {
		config.MaxDensity = def.MaxDensity
	}
	if config.MergeFraction <= 0 {
		config.MergeFraction = def.MergeFraction
	}
	return &ChunkPlanner{config: config}
}

// Density heuristics. Each pattern is an independent estimate of how many
// questions the text contains; the planner takes the maximum.
var (
	// "12. ..." or "12) ..." at the start of a line
	numberedLineRe = regexp.MustCompile(`(?m)^\s*\d{1,3}[.)]\s`)
	// explicit "Question 12" markers
	questionMarkerRe = regexp.MustCompile(`(?i)\bquestion\s+\d{1,3}\b`)
	// option letters "a." / "(b)" / "C)" at the start of a line
	optionLetterRe = regexp.MustCompile(`(?mi)^\s*\(?[a-e][.)]\s`)
)

// EstimateDensity estimates how many questions the text contains, clamped
// to the configured range so degenerate inputs never over- or under-split
func (p *ChunkPlanner) EstimateDensity(text string) int {
	numbered := len(numberedLineRe.FindAllStringIndex(text, -1))
	markers := len(questionMarkerRe.FindAllStringIndex(text, -1))
	optionGroups := len(optionLetterRe.FindAllStringIndex(text, -1)) / 4

	estimate := numbered
	if markers > estimate {
		estimate = markers
	}
	if optionGroups > estimate {
		estimate = optionGroups
	}

	if estimate < p.config.MinDensity {
		estimate = p.config.MinDensity
	}
	if estimate > p.config.MaxDensity {
		estimate = p.config.MaxDensity
	}
	return estimate
}

// PlanText produces an ordered plan covering the whole text with no gaps.
// Small sparse documents get a single unit and skip scheduling overhead
// entirely; everything else splits into 2-5 units by word count.
func (p *ChunkPlanner) PlanText(text string) ([]WorkUnit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	density := p.EstimateDensity(text)

	if len(text) < p.config.SmallDocChars && density < p.config.LowDensity {
		log.Printf("Chunk Planner: Small document (%d chars, density %d), planning a single unit", len(text), density)
		return []WorkUnit{{
			Ordinal:         1,
			Content:         text,
			IsFirst:         true,
			TargetQuestions: density,
		}}, nil
	}

	// Unit count proportional to the question estimate, bounded 2-5
	unitCount := (density + p.config.QuestionsPerUnit - 1) / p.config.QuestionsPerUnit
	if unitCount < p.config.MinUnits {
		unitCount = p.config.MinUnits
	}
	if unitCount > p.config.MaxUnits {
		unitCount = p.config.MaxUnits
	}

	slices := p.splitByWords(text, unitCount)

	perUnit := (density + len(slices) - 1) / len(slices)
	units := make([]WorkUnit, 0, len(slices))
	for i, slice := range slices {
		units = append(units, WorkUnit{
			Ordinal:         i + 1,
			Content:         slice,
			IsFirst:         i == 0,
			TargetQuestions: perUnit,
		})
	}

	log.Printf("Chunk Planner: Planned %d units for %d chars (density estimate %d)", len(units), len(text), density)
	return units, nil
}

// PlanImages produces one unit per page image, in page order. No density
// estimation is performed for image content.
func (p *ChunkPlanner) PlanImages(pages []PageImage) ([]WorkUnit, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyContent
	}

	units := make([]WorkUnit, 0, len(pages))
	for i, page := range pages {
		units = append(units, WorkUnit{
			Ordinal:         i + 1,
			PageImage:       page.Data,
			PageName:        page.Name,
			IsFirst:         i == 0,
			TargetQuestions: p.config.QuestionsPerUnit,
		})
	}

	log.Printf("Chunk Planner: Planned %d image units", len(units))
	return units, nil
}

// splitByWords cuts text into contiguous, non-overlapping slices at word
// boundaries. Slices hold equal word counts; an undersized trailing slice
// is merged into its predecessor instead of becoming its own unit.
func (p *ChunkPlanner) splitByWords(text string, parts int) []string {
	wordStarts := wordStartOffsets(text)
	totalWords := len(wordStarts)

	if parts <= 1 || totalWords <= parts {
		return []string{text}
	}

	perSlice := (totalWords + parts - 1) / parts

	var slices []string
	start := 0
	for w := perSlice; w < totalWords; w += perSlice {
		cut := wordStarts[w]
		slices = append(slices, text[start:cut])
		start = cut
	}
	slices = append(slices, text[start:])

	// Merge a trailing fragment that is too small to be worth its own
	// oracle call
	if len(slices) > 1 {
		lastWords := len(wordStartOffsets(slices[len(slices)-1]))
		if float64(lastWords) < p.config.MergeFraction*float64(perSlice) {
			slices[len(slices)-2] += slices[len(slices)-1]
			slices = slices[:len(slices)-1]
			log.Printf("Chunk Planner: Merged undersized trailing slice (%d words) into predecessor", lastWords)
		}
	}

	return slices
}

// wordStartOffsets returns the byte offset of every word start in text
func wordStartOffsets(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, i)
			inWord = true
		}
	}
	return starts
}

// DescribePlan summarizes a plan for logging
func DescribePlan(units []WorkUnit) string {
	if len(units) == 0 {
		return "empty plan"
	}
	total := 0
	for _, u := range units {
		total += u.TargetQuestions
	}
	return fmt.Sprintf("%d units, ~%d questions", len(units), total)
}
