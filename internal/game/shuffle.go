package game

import (
	"math/rand"

	"github.com/trivia-live/internal/domain"
)

// ShuffleOptions computes the one shuffle of a question's options that
// every participant will see. The host calls this exactly once when the
// question becomes active and persists the result onto the session row;
// no replica ever reshuffles, even across reconnects, or replicas would
// diverge.
func ShuffleOptions(q *domain.Question) []string {
	options := make([]string, 0, len(q.WrongAnswers)+1)
	if q.CorrectAnswer != "" {
		options = append(options, q.CorrectAnswer)
	}
	options = append(options, q.WrongAnswers...)
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}

// CorrectIndex locates the correct answer inside a shuffled option list
// by value, never by pre-shuffle position. It returns -1 for trick
// questions (no correct answer among the options), in which case every
// submission counts as correct.
func CorrectIndex(q *domain.Question, shuffled []string) int {
	if q.CorrectAnswer == "" {
		return -1
	}
	for i, opt := range shuffled {
		if opt == q.CorrectAnswer {
			return i
		}
	}
	return -1
}

// OptionsReady reports whether a participant may trust the session's
// shuffled options for the question it is locally tracking. Options are
// valid only when present and the session's question index matches;
// otherwise the participant must render a preparing state rather than
// guess.
func OptionsReady(s *domain.Session, localQuestionIndex int) bool {
	if s == nil || s.Phase != domain.PhaseQuestion {
		return false
	}
	return len(s.ShuffledOptions) > 0 && s.CurrentQuestionIndex == localQuestionIndex
}
