package game

import (
	"testing"
	"time"

	"github.com/trivia-live/internal/domain"
)

func TestPointsForAnswer(t *testing.T) {
	cases := []struct {
		name           string
		correct        bool
		responseTimeMs int64
		pointsEnabled  bool
		want           int64
	}{
		{"wrong answer earns nothing", false, 100, true, 0},
		{"points disabled earns nothing", true, 100, false, 0},
		{"instant answer gets full bonus", true, 0, true, 200},
		{"halfway through window gets half bonus", true, 10000, true, 150},
		{"at window edge gets base only", true, 20000, true, 100},
		{"past window clamps to base", true, 45000, true, 100},
	}
	for _, c := range cases {
		if got := PointsForAnswer(c.correct, c.responseTimeMs, c.pointsEnabled); got != c.want {
			t.Fatalf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}

func answerFor(playerID string, correct bool, responseTimeMs int64) domain.PlayerAnswer {
	return domain.PlayerAnswer{
		Answer: domain.Answer{
			PlayerID:       playerID,
			IsCorrect:      correct,
			ResponseTimeMs: responseTimeMs,
		},
		PlayerName: playerID,
	}
}

func TestAggregateResultsRanksCorrectAnswersOnly(t *testing.T) {
	// Answers arrive ordered by response time ascending, as the store
	// returns them.
	answers := []domain.PlayerAnswer{
		answerFor("p1", false, 800),
		answerFor("p2", true, 1200),
		answerFor("p3", true, 3000),
		answerFor("p4", false, 5000),
		answerFor("p5", true, 9000),
	}

	results := AggregateResults(4, answers)
	if results.QuestionIndex != 4 {
		t.Fatalf("expected question index 4, got %d", results.QuestionIndex)
	}
	if len(results.Correct) != 3 || len(results.Wrong) != 2 {
		t.Fatalf("expected 3 correct / 2 wrong, got %d/%d", len(results.Correct), len(results.Wrong))
	}
	if results.Fastest == nil || results.Fastest.PlayerID != "p2" {
		t.Fatalf("fastest must be the quickest correct answer, got %+v", results.Fastest)
	}
	if results.Slowest == nil || results.Slowest.PlayerID != "p5" {
		t.Fatalf("slowest must be the slowest correct answer, got %+v", results.Slowest)
	}
}

func TestAggregateResultsNoCorrectAnswers(t *testing.T) {
	answers := []domain.PlayerAnswer{
		answerFor("p1", false, 500),
	}
	results := AggregateResults(0, answers)
	if results.Fastest != nil || results.Slowest != nil {
		t.Fatalf("no correct answers means no fastest/slowest")
	}
}

func TestNextStreaks(t *testing.T) {
	players := []domain.Player{
		{ID: "hot", Streak: 3},
		{ID: "cold", Streak: 5},
		{ID: "absent", Streak: 2},
	}
	answers := []domain.PlayerAnswer{
		answerFor("hot", true, 1000),
		answerFor("cold", false, 2000),
	}

	streaks := NextStreaks(players, answers)
	if streaks["hot"] != 4 {
		t.Fatalf("correct answer must extend the streak, got %d", streaks["hot"])
	}
	if streaks["cold"] != 0 {
		t.Fatalf("wrong answer must reset the streak, got %d", streaks["cold"])
	}
	if streaks["absent"] != 0 {
		t.Fatalf("not answering must reset the streak, got %d", streaks["absent"])
	}
}

func TestResponseTime(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if got := ResponseTime(&start, start.Add(2500*time.Millisecond)); got != 2500 {
		t.Fatalf("expected 2500ms, got %d", got)
	}
	if got := ResponseTime(&start, start.Add(-time.Second)); got != 0 {
		t.Fatalf("negative elapsed must clamp to zero, got %d", got)
	}
	if got := ResponseTime(nil, start); got != 0 {
		t.Fatalf("missing start time must yield zero, got %d", got)
	}
}
