package game

import (
	"time"

	"github.com/trivia-live/internal/domain"
)

// Scoring constants. A correct answer earns the base plus a speed bonus
// that decays linearly to zero over the bonus window.
const (
	basePoints    = 100
	maxSpeedBonus = 100
	bonusWindowMs = 20000
)

// PointsForAnswer computes the points a submission earns
func PointsForAnswer(correct bool, responseTimeMs int64, pointsEnabled bool) int64 {
	if !correct || !pointsEnabled {
		return 0
	}
	bonus := maxSpeedBonus - responseTimeMs*maxSpeedBonus/bonusWindowMs
	if bonus < 0 {
		bonus = 0
	}
	return basePoints + bonus
}

// AggregateResults computes the per-question aggregates from answers
// already ordered by response time ascending. Fastest and slowest rank
// correct answers only.
func AggregateResults(questionIndex int, answers []domain.PlayerAnswer) *domain.QuestionResults {
	results := &domain.QuestionResults{QuestionIndex: questionIndex}
	for i := range answers {
		a := answers[i]
		if a.IsCorrect {
			results.Correct = append(results.Correct, a)
		} else {
			results.Wrong = append(results.Wrong, a)
		}
	}
	if len(results.Correct) > 0 {
		results.Fastest = &results.Correct[0]
		results.Slowest = &results.Correct[len(results.Correct)-1]
	}
	return results
}

// NextStreaks returns the updated streak per player: answered correctly
// extends the streak, anything else resets it to zero
func NextStreaks(players []domain.Player, answers []domain.PlayerAnswer) map[string]int {
	correct := make(map[string]bool, len(answers))
	for _, a := range answers {
		if a.IsCorrect {
			correct[a.PlayerID] = true
		}
	}
	streaks := make(map[string]int, len(players))
	for _, p := range players {
		if correct[p.ID] {
			streaks[p.ID] = p.Streak + 1
		} else {
			streaks[p.ID] = 0
		}
	}
	return streaks
}

// ResponseTime derives a submission's response time from the persisted
// question start, clamped non-negative
func ResponseTime(startTime *time.Time, answeredAt time.Time) int64 {
	if startTime == nil {
		return 0
	}
	ms := answeredAt.Sub(*startTime).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
