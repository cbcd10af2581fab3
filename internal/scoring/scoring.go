// internal/scoring/scoring.go
package scoring

import (
	"time"

	"github.com/jason-s-yu/quizsync/internal/models"
)

// Result is the outcome of grading one answer.
type Result struct {
	Correct bool
	Points  int
	Streak  int
}

// Scorer is the authority on correctness and points. The room never computes
// scores itself.
type Scorer interface {
	Score(q models.Question, option int, elapsed time.Duration, streak int) Result
}

// TimedScorer awards between half and all of a question's points depending on
// how quickly a correct answer arrived, plus a capped bonus per consecutive
// correct answer.
type TimedScorer struct {
	StreakBonus    int
	MaxStreakBonus int
}

// Default is used when no scorer is configured.
var Default Scorer = TimedScorer{StreakBonus: 100, MaxStreakBonus: 500}

func (s TimedScorer) Score(q models.Question, option int, elapsed time.Duration, streak int) Result {
	if option != q.CorrectOption || option < 0 || option >= len(q.Options) {
		return Result{Correct: false, Points: 0, Streak: 0}
	}

	limit := time.Duration(q.TimeLimitSec) * time.Second
	fraction := 1.0
	if limit > 0 {
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > limit {
			elapsed = limit
		}
		fraction = 1.0 - float64(elapsed)/float64(limit)/2.0
	}
	points := int(float64(q.Points)*fraction + 0.5)

	next := streak + 1
	bonus := (next - 1) * s.StreakBonus
	if bonus > s.MaxStreakBonus {
		bonus = s.MaxStreakBonus
	}
	return Result{Correct: true, Points: points + bonus, Streak: next}
}
