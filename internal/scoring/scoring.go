// Package scoring grades a submitted attempt against a quiz's questions.
// Everything here is pure: no I/O, no clocks, no randomness.
package scoring

import (
	"math"

	"github.com/stemsi/proctorquiz/internal/model"
)

// Result is the graded outcome of one attempt.
type Result struct {
	Answers    []model.Answer
	TotalScore float64
	MaxScore   float64
}

// Score grades every question of the quiz, in quiz order, against the
// submitted selections. Questions without a selection are graded against the
// empty string. Submitted answers whose question id is not part of the quiz
// are kept with zero marks, appended in submission order.
func Score(questions []model.Question, submitted []model.SubmittedAnswer) Result {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID.String()] = struct{}{}
	}

	// Last selection wins when a question id is repeated.
	selections := make(map[string]string, len(submitted))
	var foreign []string
	seenForeign := make(map[string]struct{})
	for _, s := range submitted {
		selections[s.QuestionID] = s.Selected
		if _, ok := known[s.QuestionID]; ok {
			continue
		}
		if _, dup := seenForeign[s.QuestionID]; !dup {
			seenForeign[s.QuestionID] = struct{}{}
			foreign = append(foreign, s.QuestionID)
		}
	}

	res := Result{Answers: make([]model.Answer, 0, len(questions)+len(foreign))}
	for _, q := range questions {
		id := q.ID.String()
		selected := selections[id]
		correct := selected == q.CorrectAnswer

		res.Answers = append(res.Answers, model.Answer{
			QuestionID:   id,
			Selected:     selected,
			IsCorrect:    correct,
			MarksAwarded: Marks(q, correct),
		})
		res.MaxScore += q.PositiveMarks
	}

	for _, id := range foreign {
		res.Answers = append(res.Answers, model.Answer{
			QuestionID: id,
			Selected:   selections[id],
		})
	}

	for _, a := range res.Answers {
		res.TotalScore += a.MarksAwarded
	}
	return res
}

// Marks returns the signed marks for a question: the positive marks when
// correct, otherwise the negative marks as a penalty (never a gain).
func Marks(q model.Question, correct bool) float64 {
	if correct {
		return q.PositiveMarks
	}
	if q.NegativeMarks == 0 {
		return 0
	}
	return -math.Abs(q.NegativeMarks)
}

// Percentage is total/max*100. A quiz without graded weight counts as 100%.
func Percentage(total, max float64) float64 {
	if max == 0 {
		return 100
	}
	return total / max * 100
}

// Passed applies the pass rule: percentage >= passing, and max == 0 always
// passes.
func Passed(total, max, passingPercentage float64) bool {
	if max == 0 {
		return true
	}
	return Percentage(total, max) >= passingPercentage
}
