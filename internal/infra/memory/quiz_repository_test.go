package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	inner QuizLoader
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.inner.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestQuizRepositoryCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{inner: NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1", Title: "Cached"},
	})}
	repo := NewQuizRepository(loader, time.Minute)

	for i := 0; i < 3; i++ {
		quiz, err := repo.GetQuiz(ctx, "quiz-1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if quiz.Title != "Cached" {
			t.Fatalf("unexpected quiz: %+v", quiz)
		}
	}
	if loader.count() != 1 {
		t.Fatalf("expected one loader hit, got %d", loader.count())
	}
}

func TestQuizRepositoryMissPassesThrough(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(nil), time.Minute)

	_, err := repo.GetQuiz(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestQuizRepositorySingleflightUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{inner: NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1"},
	})}
	repo := NewQuizRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	// singleflight collapses the cold stampede to one load
	if loader.count() != 1 {
		t.Fatalf("expected one loader hit, got %d", loader.count())
	}
}
