// Package quiz collects a viewer's answers to a video's question set and
// submits them for scoring. Scoring is done by the backend.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lessonplayer/internal/api"
)

var (
	ErrNoAnswers       = errors.New("no answers given")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrUnknownChoice   = errors.New("unknown choice")
	ErrWrongType       = errors.New("answer does not fit question type")
)

// PassingScore is the backend's pass mark, in percent.
const PassingScore = 70

type Submitter interface {
	SubmitQuiz(ctx context.Context, videoID string, answers map[string]any) (*api.QuizResult, error)
}

type Session struct {
	videoID   string
	questions []api.Question
	byID      map[int64]*api.Question
	submitter Submitter
	logger    zerolog.Logger

	mu      sync.Mutex
	choices map[int64][]int64
	texts   map[int64]string
	result  *api.QuizResult
}

func NewSession(videoID string, questions []api.Question, submitter Submitter, logger zerolog.Logger) *Session {
	s := &Session{
		videoID:   videoID,
		questions: questions,
		byID:      make(map[int64]*api.Question, len(questions)),
		submitter: submitter,
		logger:    logger.With().Str("component", "quiz").Str("video_id", videoID).Logger(),
		choices:   make(map[int64][]int64),
		texts:     make(map[int64]string),
	}
	for i := range questions {
		s.byID[questions[i].ID] = &questions[i]
	}
	return s
}

func (s *Session) Questions() []api.Question { return s.questions }

// Choose records a choice. On a multi_choice question it toggles the choice
// in and out of the selection; otherwise it replaces the previous answer.
func (s *Session) Choose(questionID, choiceID int64) error {
	q, ok := s.byID[questionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if q.Type == api.QuestionText {
		return fmt.Errorf("%w: question %d takes text", ErrWrongType, questionID)
	}
	if !hasChoice(q, choiceID) {
		return fmt.Errorf("%w: %d", ErrUnknownChoice, choiceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if q.Type != api.QuestionMultiChoice {
		s.choices[questionID] = []int64{choiceID}
		return nil
	}

	cur := s.choices[questionID]
	for i, id := range cur {
		if id == choiceID {
			s.choices[questionID] = append(cur[:i:i], cur[i+1:]...)
			if len(s.choices[questionID]) == 0 {
				delete(s.choices, questionID)
			}
			return nil
		}
	}
	s.choices[questionID] = append(cur, choiceID)
	return nil
}

// SetText answers a text question. Blank text clears the answer.
func (s *Session) SetText(questionID int64, text string) error {
	q, ok := s.byID[questionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if q.Type != api.QuestionText {
		return fmt.Errorf("%w: question %d takes a choice", ErrWrongType, questionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		delete(s.texts, questionID)
		return nil
	}
	s.texts[questionID] = text
	return nil
}

func (s *Session) Selected(questionID, choiceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.choices[questionID] {
		if id == choiceID {
			return true
		}
	}
	return false
}

// Unanswered returns the ids of questions without an answer, in question
// order. Submitting with unanswered questions is allowed.
func (s *Session) Unanswered() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int64
	for _, q := range s.questions {
		_, c := s.choices[q.ID]
		_, t := s.texts[q.ID]
		if !c && !t {
			out = append(out, q.ID)
		}
	}
	return out
}

// Answers builds the submission payload: question id -> choice id, list of
// choice ids for multi_choice, or text.
func (s *Session) Answers() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.choices)+len(s.texts))
	for qid, ids := range s.choices {
		key := strconv.FormatInt(qid, 10)
		if s.byID[qid].Type == api.QuestionMultiChoice {
			sorted := append([]int64(nil), ids...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			out[key] = sorted
			continue
		}
		out[key] = ids[0]
	}
	for qid, text := range s.texts {
		out[strconv.FormatInt(qid, 10)] = text
	}
	return out
}

func (s *Session) Submit(ctx context.Context) (*api.QuizResult, error) {
	answers := s.Answers()
	if len(answers) == 0 {
		return nil, ErrNoAnswers
	}

	res, err := s.submitter.SubmitQuiz(ctx, s.videoID, answers)
	if err != nil {
		return nil, fmt.Errorf("submit quiz: %w", err)
	}

	s.mu.Lock()
	s.result = res
	s.mu.Unlock()

	s.logger.Info().
		Int("score", res.Score).
		Bool("passed", res.Passed).
		Int("correct", res.CorrectCount).
		Int("total", res.TotalQuestions).
		Msg("quiz submitted")
	return res, nil
}

// Result returns the last submission's result, or nil.
func (s *Session) Result() *api.QuizResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func hasChoice(q *api.Question, id int64) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}
