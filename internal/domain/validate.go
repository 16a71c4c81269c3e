package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// quizRules mirrors Quiz for struct-tag validation. Poll primitives cap
// options at 10 and need at least 2.
type quizRules struct {
	ID        string          `validate:"required"`
	Questions []questionRules `validate:"required,min=1,dive"`
}

type questionRules struct {
	Prompt  string   `validate:"required,max=300"`
	Options []string `validate:"min=2,max=10,dive,required"`
}

// ValidateQuiz checks a quiz definition at load time, before any session
// is created. Window and correct-index problems are definition errors,
// never runtime ones.
func ValidateQuiz(q Quiz) error {
	if len(q.Questions) == 0 {
		return ErrEmptyQuiz
	}

	rules := quizRules{ID: q.ID, Questions: make([]questionRules, 0, len(q.Questions))}
	for _, question := range q.Questions {
		rules.Questions = append(rules.Questions, questionRules{
			Prompt:  question.Prompt,
			Options: question.Options,
		})
	}
	if err := validate.Struct(rules); err != nil {
		return fmt.Errorf("quiz %q: %w", q.ID, err)
	}

	for i, question := range q.Questions {
		if question.CorrectIndex < 0 || question.CorrectIndex >= len(question.Options) {
			return fmt.Errorf("quiz %q question %d: correct index %d out of range", q.ID, i, question.CorrectIndex)
		}
		if question.TimeLimit <= 0 {
			return fmt.Errorf("quiz %q question %d: non-positive time limit", q.ID, i)
		}
	}
	return nil
}
