package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// QuizSession tracks a learner's pass through a document's question set.
// At most one session exists per document fingerprint.
type QuizSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DocumentFingerprint string `gorm:"type:varchar(64);uniqueIndex;not null" json:"document_fingerprint"`

	// Answers maps question ordinal (as a string key) to the selected option index
	Answers        datatypes.JSON `json:"answers"`
	CurrentOrdinal int            `gorm:"default:0" json:"current_ordinal"`
	AnsweredCount  int            `gorm:"default:0" json:"answered_count"`
	CorrectCount   int            `gorm:"default:0" json:"correct_count"`
	Completed      bool           `gorm:"default:false" json:"completed"`
}

// AnswerMap decodes the stored answers column into ordinal -> selected index
func (s *QuizSession) AnswerMap() (map[int]int, error) {
	out := make(map[int]int)
	if len(s.Answers) == 0 {
		return out, nil
	}
	raw := make(map[string]int)
	if err := json.Unmarshal(s.Answers, &raw); err != nil {
		return nil, fmt.Errorf("decode session answers: %w", err)
	}
	for k, v := range raw {
		ord, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decode session answers: bad ordinal key %q", k)
		}
		out[ord] = v
	}
	return out, nil
}

// SetAnswerMap encodes ordinal -> selected index back into the answers column
func (s *QuizSession) SetAnswerMap(answers map[int]int) error {
	raw := make(map[string]int, len(answers))
	for ord, sel := range answers {
		raw[strconv.Itoa(ord)] = sel
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode session answers: %w", err)
	}
	s.Answers = datatypes.JSON(data)
	return nil
}

// ============= Response Types =============

// QuizSessionResponse is used for API responses
type QuizSessionResponse struct {
	DocumentFingerprint string      `json:"document_fingerprint"`
	Answers             map[int]int `json:"answers"`
	CurrentOrdinal      int         `json:"current_ordinal"`
	AnsweredCount       int         `json:"answered_count"`
	CorrectCount        int         `json:"correct_count"`
	Completed           bool        `json:"completed"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// ToResponse converts QuizSession to QuizSessionResponse
func (s *QuizSession) ToResponse() *QuizSessionResponse {
	answers, err := s.AnswerMap()
	if err != nil {
		answers = map[int]int{}
	}
	return &QuizSessionResponse{
		DocumentFingerprint: s.DocumentFingerprint,
		Answers:             answers,
		CurrentOrdinal:      s.CurrentOrdinal,
		AnsweredCount:       s.AnsweredCount,
		CorrectCount:        s.CorrectCount,
		Completed:           s.Completed,
		UpdatedAt:           s.UpdatedAt,
	}
}
