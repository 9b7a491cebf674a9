package services

import (
	"errors"
	"fmt"

	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
)

// ErrInvalidSelection means the chosen option index is out of range for the
// question being answered
var ErrInvalidSelection = errors.New("selected option is out of range")

// ErrQuestionNotFound means no stored question carries the requested ordinal
var ErrQuestionNotFound = errors.New("question not found")

// AnswerResult is the graded outcome of answering one question
type AnswerResult struct {
	Ordinal         int    `json:"ordinal"`
	Selected        int    `json:"selected"`
	Correct         bool   `json:"correct"`
	CorrectIndex    int    `json:"correct_index"`
	Explanation     string `json:"explanation"`
	AlreadyAnswered bool   `json:"already_answered"`
	AnsweredCount   int    `json:"answered_count"`
	CorrectCount    int    `json:"correct_count"`
	TotalQuestions  int    `json:"total_questions"`
	Completed       bool   `json:"completed"`
}

// SessionService manages quiz sessions over extracted question sets. One
// session exists per document; answers are graded against the stored correct
// index and re-answering an ordinal replaces the earlier answer.
type SessionService struct {
	store database.Storage
}

// NewSessionService creates a session service
func NewSessionService(store database.Storage) *SessionService {
	return &SessionService{store: store}
}

// GetOrCreateSession returns the document's session, creating a fresh one on
// first access
func (s *SessionService) GetOrCreateSession(fp string) (*model.QuizSession, error) {
	if _, err := s.store.LookupDocument(fp); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(fp)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	session = &model.QuizSession{
		DocumentFingerprint: fp,
		CurrentOrdinal:      1,
	}
	if err := session.SetAnswerMap(map[int]int{}); err != nil {
		return nil, err
	}
	if err := s.store.SaveSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// RecordAnswer grades one answer and advances the session. Answering an
// ordinal twice replaces the earlier answer; the correct count is adjusted
// rather than double counted.
func (s *SessionService) RecordAnswer(fp string, ordinal, selected int) (*AnswerResult, error) {
	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		return nil, err
	}

	question, err := s.store.GetQuestionByOrdinal(fp, ordinal)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: ordinal %d", ErrQuestionNotFound, ordinal)
		}
		return nil, err
	}

	options, err := question.OptionList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question options: %w", err)
	}
	if selected < 0 || selected >= len(options) {
		return nil, fmt.Errorf("%w: %d of %d options", ErrInvalidSelection, selected, len(options))
	}

	session, err := s.GetOrCreateSession(fp)
	if err != nil {
		return nil, err
	}

	answers, err := session.AnswerMap()
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountQuestions(fp)
	if err != nil {
		return nil, err
	}

	prev, replacing := answers[ordinal]
	if replacing && prev == question.CorrectIndex {
		session.CorrectCount--
	}

	answers[ordinal] = selected
	if err := session.SetAnswerMap(answers); err != nil {
		return nil, err
	}
	session.AnsweredCount = len(answers)
	correct := selected == question.CorrectIndex
	if correct {
		session.CorrectCount++
	}
	if ordinal >= session.CurrentOrdinal {
		session.CurrentOrdinal = ordinal + 1
	}
	// A session only closes once the document itself is done producing
	// questions and every one of them has an answer
	if doc.IsComplete() && total > 0 && session.AnsweredCount >= total {
		session.Completed = true
	}

	if err := s.store.SaveSession(session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &AnswerResult{
		Ordinal:         ordinal,
		Selected:        selected,
		Correct:         correct,
		CorrectIndex:    question.CorrectIndex,
		Explanation:     question.Explanation,
		AlreadyAnswered: replacing,
		AnsweredCount:   session.AnsweredCount,
		CorrectCount:    session.CorrectCount,
		TotalQuestions:  total,
		Completed:       session.Completed,
	}, nil
}

// ResetSession discards the session so the learner can start over
func (s *SessionService) ResetSession(fp string) error {
	if _, err := s.store.LookupDocument(fp); err != nil {
		return err
	}
	return s.store.DeleteSession(fp)
}
