package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils/fingerprint"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll() error {
	log.Println("🌱 Starting database seeding...")

	if err := s.SeedDemoDocument(); err != nil {
		return fmt.Errorf("failed to seed demo document: %w", err)
	}

	log.Println("✅ Database seeding completed successfully!")
	return nil
}

const demoText = `Sample geography quiz material for local development.

1. What is the capital of France?
A) Berlin  B) Madrid  C) Paris  D) Rome
Answer: C

2. Which river is the longest in the world?
A) Amazon  B) Nile  C) Yangtze  D) Mississippi
Answer: B

3. Mount Everest lies on the border of Nepal and which country?
A) India  B) Bhutan  C) China  D) Pakistan
Answer: C`

// SeedDemoDocument creates one completed document with graded questions so
// the quiz and transfer surfaces can be exercised without an inference key
func (s *Seeder) SeedDemoDocument() error {
	fp := fingerprint.FromString(demoText)

	// Check if the demo document already exists
	var count int64
	if err := s.db.Model(&model.Document{}).Where("fingerprint = ?", fp).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		log.Println("⏭️  Demo document already exists, skipping...")
		return nil
	}

	doc := model.Document{
		Fingerprint:    fp,
		DisplayName:    "Demo Geography Quiz",
		ContentType:    model.ContentTypeText,
		ByteSize:       int64(len(demoText)),
		RawContent:     demoText,
		Status:         model.DocumentStatusComplete,
		PlannedUnits:   1,
		CompletedUnits: 1,
		TotalQuestions: 3,
		LastAccessedAt: time.Now(),
	}

	if err := s.db.Create(&doc).Error; err != nil {
		return err
	}

	seedQuestions := []struct {
		prompt       string
		options      []string
		correctIndex int
		explanation  string
	}{
		{
			prompt:       "What is the capital of France?",
			options:      []string{"Berlin", "Madrid", "Paris", "Rome"},
			correctIndex: 2,
			explanation:  "Paris has been the capital of France since the 12th century.",
		},
		{
			prompt:       "Which river is the longest in the world?",
			options:      []string{"Amazon", "Nile", "Yangtze", "Mississippi"},
			correctIndex: 1,
			explanation:  "The Nile runs about 6,650 km from its sources to the Mediterranean.",
		},
		{
			prompt:       "Mount Everest lies on the border of Nepal and which country?",
			options:      []string{"India", "Bhutan", "China", "Pakistan"},
			correctIndex: 2,
			explanation:  "Everest straddles the border between Nepal and China (Tibet).",
		},
	}

	questions := make([]model.Question, 0, len(seedQuestions))
	for i, q := range seedQuestions {
		opts, err := model.OptionsJSON(q.options)
		if err != nil {
			return err
		}
		questions = append(questions, model.Question{
			DocumentFingerprint: fp,
			Ordinal:             i + 1,
			Prompt:              q.prompt,
			Options:             opts,
			CorrectIndex:        q.correctIndex,
			Explanation:         q.explanation,
			UnitNumber:          1,
			Provenance:          model.ProvenanceAI,
		})
	}

	if err := s.db.Create(&questions).Error; err != nil {
		return err
	}

	log.Printf("✅ Created demo document %s with %d questions\n", fp[:12], len(questions))
	return nil
}

// RunSeeds is a convenience function to run all seeds
func RunSeeds(db *gorm.DB) error {
	seeder := NewSeeder(db)
	return seeder.SeedAll()
}
