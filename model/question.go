package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// QuestionProvenance records how a question record was produced
type QuestionProvenance string

const (
	// ProvenanceAI marks a question parsed directly from an oracle response
	ProvenanceAI QuestionProvenance = "ai"
	// ProvenanceRepaired marks a question recovered through response repair
	ProvenanceRepaired QuestionProvenance = "repaired"
	// ProvenancePlaceholder marks a synthesized stand-in for an unusable item
	ProvenancePlaceholder QuestionProvenance = "placeholder"
)

// Question is a single multiple-choice question extracted from a document.
// Records are append-only: once written for a (fingerprint, ordinal) pair
// they are never updated.
type Question struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DocumentFingerprint string `gorm:"type:varchar(64);not null;uniqueIndex:idx_question_doc_ordinal,priority:1" json:"document_fingerprint"`
	Ordinal             int    `gorm:"not null;uniqueIndex:idx_question_doc_ordinal,priority:2" json:"ordinal"`

	Prompt       string             `gorm:"type:text;not null" json:"prompt"`
	Options      datatypes.JSON     `gorm:"not null" json:"options"`
	CorrectIndex int                `gorm:"not null;default:0" json:"correct_index"`
	Explanation  string             `gorm:"type:text" json:"explanation,omitempty"`
	UnitNumber   int                `gorm:"index;not null" json:"unit_number"`
	Provenance   QuestionProvenance `gorm:"type:varchar(20);not null;default:'ai'" json:"provenance"`
}

// OptionList decodes the stored options column
func (q *Question) OptionList() ([]string, error) {
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode options for ordinal %d: %w", q.Ordinal, err)
	}
	return opts, nil
}

// OptionsJSON encodes an option slice for storage
func OptionsJSON(opts []string) (datatypes.JSON, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return datatypes.JSON(data), nil
}

// ============= Response Types =============

// QuestionResponse is used for API responses
type QuestionResponse struct {
	Ordinal      int                `json:"ordinal"`
	Prompt       string             `json:"prompt"`
	Options      []string           `json:"options"`
	CorrectIndex int                `json:"correct_index"`
	Explanation  string             `json:"explanation,omitempty"`
	UnitNumber   int                `json:"unit_number"`
	Provenance   QuestionProvenance `json:"provenance"`
}

// ToResponse converts Question to QuestionResponse
func (q *Question) ToResponse() *QuestionResponse {
	opts, err := q.OptionList()
	if err != nil {
		opts = []string{}
	}
	return &QuestionResponse{
		Ordinal:      q.Ordinal,
		Prompt:       q.Prompt,
		Options:      opts,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
		UnitNumber:   q.UnitNumber,
		Provenance:   q.Provenance,
	}
}
