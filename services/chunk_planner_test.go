package services

import (
	"fmt"
	"strings"
	"testing"
)

// ExpectedPlan describes what the planner should produce for an input
type ExpectedPlan struct {
	Units            int
	TargetPerUnit    int  // 0 to skip the check
	SingleUnitTarget int  // expected target for single-unit plans
	FullCoverage     bool // concatenated unit content must equal the input
}

// validatePlan checks the structural invariants every text plan must hold:
// ordinals are dense and 1-based, exactly the first unit is marked first,
// and the units cover the input with no gaps and no overlap.
func validatePlan(t *testing.T, units []WorkUnit, input string, expected ExpectedPlan) {
	t.Helper()

	if len(units) != expected.Units {
		t.Errorf("Unit count mismatch: got %d, want %d", len(units), expected.Units)
	}

	var rebuilt strings.Builder
	for i, u := range units {
		if u.Ordinal != i+1 {
			t.Errorf("Unit %d ordinal mismatch: got %d, want %d", i, u.Ordinal, i+1)
		}
		if u.IsFirst != (i == 0) {
			t.Errorf("Unit %d IsFirst mismatch: got %v", u.Ordinal, u.IsFirst)
		}
		if u.Content == "" {
			t.Errorf("Unit %d has empty content", u.Ordinal)
		}
		if expected.TargetPerUnit > 0 && u.TargetQuestions != expected.TargetPerUnit {
			t.Errorf("Unit %d target mismatch: got %d, want %d", u.Ordinal, u.TargetQuestions, expected.TargetPerUnit)
		}
		rebuilt.WriteString(u.Content)
	}

	if expected.FullCoverage && rebuilt.String() != input {
		t.Errorf("Units do not cover the input: got %d chars back, want %d", rebuilt.Len(), len(input))
	}
}

// questionBlock builds one numbered question with four lettered options
func questionBlock(n int) string {
	return fmt.Sprintf("%d. Which of the following statements about topic %d is accurate according to the passage?\n"+
		"a) The first candidate statement for item %d\n"+
		"b) The second candidate statement for item %d\n"+
		"c) The third candidate statement for item %d\n"+
		"d) The fourth candidate statement for item %d\n\n", n, n, n, n, n, n)
}

func questionCorpus(count int) string {
	var b strings.Builder
	for i := 1; i <= count; i++ {
		b.WriteString(questionBlock(i))
	}
	return b.String()
}

func TestPlanTextSmallSparseDocument(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	// Short prose with no question structure stays a single unit
	input := strings.Repeat("The water cycle moves moisture between the oceans and the sky. ", 45)
	if len(input) >= 4000 {
		t.Fatalf("test input too large: %d chars", len(input))
	}

	units, err := planner.PlanText(input)
	if err != nil {
		t.Fatalf("PlanText failed: %v", err)
	}

	validatePlan(t, units, input, ExpectedPlan{Units: 1, FullCoverage: true})
	if units[0].TargetQuestions != 10 {
		t.Errorf("Single unit target mismatch: got %d, want the density floor 10", units[0].TargetQuestions)
	}
}

func TestPlanTextQuestionDenseDocument(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	// 60 numbered questions should land a 3-unit plan at 20 questions per unit
	input := questionCorpus(60)

	units, err := planner.PlanText(input)
	if err != nil {
		t.Fatalf("PlanText failed: %v", err)
	}

	validatePlan(t, units, input, ExpectedPlan{
		Units:         3,
		TargetPerUnit: 20,
		FullCoverage:  true,
	})
}

func TestPlanTextLargeSparseDocument(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	// Long prose with no question markers: the density floor applies but the
	// size alone forces the minimum multi-unit split
	input := strings.Repeat("Plate tectonics reshapes the crust over geological timescales. ", 650)
	if len(input) < 4000 {
		t.Fatalf("test input too small: %d chars", len(input))
	}

	units, err := planner.PlanText(input)
	if err != nil {
		t.Fatalf("PlanText failed: %v", err)
	}

	validatePlan(t, units, input, ExpectedPlan{
		Units:         2,
		TargetPerUnit: 5,
		FullCoverage:  true,
	})
}

func TestPlanTextUnitCountCeiling(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	// 300 numbered questions blow past the density ceiling of 150; the plan
	// still caps at 5 units with the target spread across them
	input := questionCorpus(300)

	units, err := planner.PlanText(input)
	if err != nil {
		t.Fatalf("PlanText failed: %v", err)
	}

	validatePlan(t, units, input, ExpectedPlan{
		Units:         5,
		TargetPerUnit: 30,
		FullCoverage:  true,
	})
}

func TestPlanTextMergesUndersizedTrailingSlice(t *testing.T) {
	// Tight config so the trailing-fragment merge is observable: 22 words
	// split 3 ways leaves a 6-word tail, under 80% of the 8-word slice size
	planner := NewChunkPlanner(PlannerConfig{
		SmallDocChars:    1,
		LowDensity:       1,
		QuestionsPerUnit: 2,
		MinUnits:         2,
		MaxUnits:         3,
		MinDensity:       1,
		MaxDensity:       150,
		MergeFraction:    0.8,
	})

	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%d. item\n", i)
	}
	b.WriteString("closing remark")
	input := b.String()

	units, err := planner.PlanText(input)
	if err != nil {
		t.Fatalf("PlanText failed: %v", err)
	}

	validatePlan(t, units, input, ExpectedPlan{Units: 2, FullCoverage: true})
}

func TestPlanTextEmpty(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	for _, input := range []string{"", "   ", "\n\t\n"} {
		if _, err := planner.PlanText(input); err != ErrEmptyContent {
			t.Errorf("PlanText(%q) error mismatch: got %v, want ErrEmptyContent", input, err)
		}
	}
}

func TestPlanImages(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	pages := []PageImage{
		{Name: "page-1.png", Data: []byte{0x89, 'P', 'N', 'G', 1}},
		{Name: "page-2.png", Data: []byte{0x89, 'P', 'N', 'G', 2}},
		{Name: "page-3.png", Data: []byte{0x89, 'P', 'N', 'G', 3}},
	}

	units, err := planner.PlanImages(pages)
	if err != nil {
		t.Fatalf("PlanImages failed: %v", err)
	}

	if len(units) != len(pages) {
		t.Fatalf("Unit count mismatch: got %d, want %d", len(units), len(pages))
	}
	for i, u := range units {
		if u.Ordinal != i+1 {
			t.Errorf("Unit %d ordinal mismatch: got %d", i, u.Ordinal)
		}
		if u.IsFirst != (i == 0) {
			t.Errorf("Unit %d IsFirst mismatch: got %v", u.Ordinal, u.IsFirst)
		}
		if u.PageName != pages[i].Name {
			t.Errorf("Unit %d page name mismatch: got %s, want %s", u.Ordinal, u.PageName, pages[i].Name)
		}
		if len(u.PageImage) != len(pages[i].Data) {
			t.Errorf("Unit %d payload size mismatch: got %d bytes", u.Ordinal, len(u.PageImage))
		}
		if u.Content != "" {
			t.Errorf("Unit %d should carry no text content", u.Ordinal)
		}
	}

	if _, err := planner.PlanImages(nil); err != ErrEmptyContent {
		t.Errorf("PlanImages(nil) error mismatch: got %v, want ErrEmptyContent", err)
	}
}

func TestEstimateDensity(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"plain prose floors at 10", "Nothing here resembles a question at all.", 10},
		{"numbered lines counted", questionCorpus(30), 30},
		{"question markers counted", strings.Repeat("Question 4 asks about rivers. ", 18), 18},
		{"ceiling at 150", questionCorpus(400), 150},
	}

	for _, tc := range cases {
		if got := planner.EstimateDensity(tc.input); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}
