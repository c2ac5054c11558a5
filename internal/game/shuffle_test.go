package game

import (
	"sort"
	"testing"

	"github.com/trivia-live/internal/domain"
)

func TestShuffleOptionsIsAPermutation(t *testing.T) {
	q := &domain.Question{
		CorrectAnswer: "right",
		WrongAnswers:  []string{"w1", "w2", "w3"},
	}

	options := ShuffleOptions(q)
	if len(options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(options))
	}

	sorted := append([]string(nil), options...)
	sort.Strings(sorted)
	want := []string{"right", "w1", "w2", "w3"}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("shuffle changed the option set: %v", options)
		}
	}
}

func TestShuffleOptionsTrickQuestionOmitsCorrect(t *testing.T) {
	q := &domain.Question{
		CorrectAnswer: "",
		WrongAnswers:  []string{"a", "b", "c"},
	}

	options := ShuffleOptions(q)
	if len(options) != 3 {
		t.Fatalf("trick question must only carry its listed options, got %d", len(options))
	}
}

func TestCorrectIndexLocatesByValue(t *testing.T) {
	q := &domain.Question{CorrectAnswer: "right", WrongAnswers: []string{"w1", "w2"}}

	// The index is derived from the persisted shuffle, never from the
	// pre-shuffle position.
	shuffled := []string{"w2", "right", "w1"}
	if got := CorrectIndex(q, shuffled); got != 1 {
		t.Fatalf("expected correct index 1, got %d", got)
	}
}

func TestCorrectIndexTrickQuestion(t *testing.T) {
	q := &domain.Question{CorrectAnswer: "", WrongAnswers: []string{"a", "b"}}
	if got := CorrectIndex(q, []string{"a", "b"}); got != -1 {
		t.Fatalf("trick question must report index -1, got %d", got)
	}
}

func TestCorrectIndexMissingFromShuffle(t *testing.T) {
	q := &domain.Question{CorrectAnswer: "right", WrongAnswers: []string{"a"}}
	if got := CorrectIndex(q, []string{"a", "b"}); got != -1 {
		t.Fatalf("absent correct answer must report -1, got %d", got)
	}
}

func TestOptionsReady(t *testing.T) {
	session := &domain.Session{
		Phase:                domain.PhaseQuestion,
		CurrentQuestionIndex: 2,
		ShuffledOptions:      []string{"a", "b"},
	}

	if !OptionsReady(session, 2) {
		t.Fatalf("matching index with options present must be ready")
	}
	if OptionsReady(session, 1) {
		t.Fatalf("index mismatch must not be ready")
	}

	session.ShuffledOptions = nil
	if OptionsReady(session, 2) {
		t.Fatalf("empty options must not be ready")
	}

	session.ShuffledOptions = []string{"a", "b"}
	session.Phase = domain.PhaseResults
	if OptionsReady(session, 2) {
		t.Fatalf("non-question phase must not be ready")
	}

	if OptionsReady(nil, 0) {
		t.Fatalf("nil session must not be ready")
	}
}
