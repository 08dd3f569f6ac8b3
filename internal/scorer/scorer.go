package scorer

import (
	"math"
	"strings"

	"github.com/edukita/examhall-backend/internal/model"
)

// Scorer awards marks for a single answer against its question.
type Scorer interface {
	Score(q *model.Question, a *model.Answer) float64
}

// AutoScorer grades objectively: multiple-choice answers earn full marks
// on an exact option match, free-text answers earn a keyword-proportional
// share. Questions with neither an answer key nor keywords score zero and
// wait for a manual override.
type AutoScorer struct{}

// NewAutoScorer creates an AutoScorer.
func NewAutoScorer() *AutoScorer {
	return &AutoScorer{}
}

// Score implements Scorer.
func (s *AutoScorer) Score(q *model.Question, a *model.Answer) float64 {
	if a == nil {
		return 0
	}

	if q.CorrectOption != nil {
		if a.SelectedOption != nil && *a.SelectedOption == *q.CorrectOption {
			return q.Marks
		}
		return 0
	}

	if a.AnswerText != nil {
		text := strings.ToLower(*a.AnswerText)
		matched, usable := 0, 0
		for _, kw := range q.Keywords {
			// Empty keywords can never match; they must not dilute the
			// achievable share either.
			if kw == "" {
				continue
			}
			usable++
			if strings.Contains(text, strings.ToLower(kw)) {
				matched++
			}
		}
		if usable > 0 {
			share := q.Marks * float64(matched) / float64(usable)
			return math.Round(share*100) / 100
		}
	}

	return 0
}
