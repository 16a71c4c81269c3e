package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

func TestValidateQuizAcceptsWellFormed(t *testing.T) {
	if err := domain.ValidateQuiz(wellFormedQuiz()); err != nil {
		t.Fatalf("expected valid quiz, got %v", err)
	}
}

func TestValidateQuizRejectsEmpty(t *testing.T) {
	quiz := wellFormedQuiz()
	quiz.Questions = nil
	if err := domain.ValidateQuiz(quiz); !errors.Is(err, domain.ErrEmptyQuiz) {
		t.Fatalf("expected ErrEmptyQuiz, got %v", err)
	}
}

func TestValidateQuizRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Quiz)
	}{
		{"single option", func(q *domain.Quiz) {
			q.Questions[0].Options = []string{"only"}
		}},
		{"too many options", func(q *domain.Quiz) {
			q.Questions[0].Options = make([]string, 11)
			for i := range q.Questions[0].Options {
				q.Questions[0].Options[i] = "x"
			}
		}},
		{"blank option", func(q *domain.Quiz) {
			q.Questions[0].Options = []string{"a", ""}
		}},
		{"missing prompt", func(q *domain.Quiz) {
			q.Questions[0].Prompt = ""
		}},
		{"correct index out of range", func(q *domain.Quiz) {
			q.Questions[0].CorrectIndex = 5
		}},
		{"negative correct index", func(q *domain.Quiz) {
			q.Questions[0].CorrectIndex = -1
		}},
		{"zero answer window", func(q *domain.Quiz) {
			q.Questions[0].TimeLimit = 0
		}},
	}
	for _, tc := range cases {
		quiz := wellFormedQuiz()
		tc.mutate(&quiz)
		if err := domain.ValidateQuiz(quiz); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []domain.SessionStatus{domain.StatusCompleted, domain.StatusAborted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []domain.SessionStatus{domain.StatusLobby, domain.StatusRunning, domain.StatusGrading, domain.StatusFinalizing}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func wellFormedQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "General Knowledge",
		Questions: []domain.Question{
			{
				ID:           "q1",
				Prompt:       "What is 2 + 2?",
				Options:      []string{"3", "4", "5"},
				CorrectIndex: 1,
				TimeLimit:    10 * time.Second,
			},
		},
	}
}
