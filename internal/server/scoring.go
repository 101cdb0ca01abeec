package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const passingScore = 70

// scoreQuiz grades answers against the catalog. Unanswered and malformed
// answers count as wrong. Score is a whole percentage.
func scoreQuiz(questions []CatalogQuestion, answers map[string]json.RawMessage) QuizResponse {
	correct := 0
	for i := range questions {
		q := &questions[i]
		raw, ok := answers[strconv.FormatInt(q.ID, 10)]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if answerCorrect(q, raw) {
			correct++
		}
	}

	total := len(questions)
	score := 0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
	}
	return QuizResponse{
		Score:          score,
		Passed:         score >= passingScore,
		CorrectCount:   correct,
		TotalQuestions: total,
	}
}

func answerCorrect(q *CatalogQuestion, raw json.RawMessage) bool {
	switch q.Type {
	case "text":
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return false
		}
		got := strings.ToLower(strings.TrimSpace(text))
		if got == "" {
			return false
		}
		for _, a := range q.Answers {
			if strings.ToLower(strings.TrimSpace(a)) == got {
				return true
			}
		}
		return false

	case "multi_choice":
		var ids []json.Number
		if err := json.Unmarshal(raw, &ids); err != nil || len(ids) == 0 {
			return false
		}
		selected := make(map[int64]bool, len(ids))
		for _, n := range ids {
			id, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil {
				return false
			}
			selected[id] = true
		}
		want := 0
		for _, c := range q.Choices {
			if c.Correct {
				want++
				if !selected[c.ID] {
					return false
				}
			}
		}
		return want == len(selected)

	default:
		id, ok := choiceID(raw)
		if !ok {
			return false
		}
		for _, c := range q.Choices {
			if c.ID == id {
				return c.Correct
			}
		}
		return false
	}
}

// choiceID accepts a number or a numeric string.
func choiceID(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		id, err := strconv.ParseInt(n.String(), 10, 64)
		return id, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return id, err == nil
	}
	return 0, false
}
