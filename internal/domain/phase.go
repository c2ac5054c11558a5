package domain

// Phase represents the current stage of the game lifecycle
type Phase string

const (
	PhaseWelcome       Phase = "welcome"
	PhaseQuestionSetup Phase = "question_setup"
	PhaseWaiting       Phase = "waiting"
	PhaseSponsor1      Phase = "sponsor1"
	PhaseQuestion      Phase = "question"
	PhaseResults       Phase = "results"
	PhaseSponsor2      Phase = "sponsor2"
	PhasePodium        Phase = "podium"
	PhaseFinal         Phase = "final"
)

// Valid reports whether p is one of the known game phases
func (p Phase) Valid() bool {
	switch p {
	case PhaseWelcome, PhaseQuestionSetup, PhaseWaiting, PhaseSponsor1,
		PhaseQuestion, PhaseResults, PhaseSponsor2, PhasePodium, PhaseFinal:
		return true
	}
	return false
}

// Terminal reports whether p is the last phase of a game
func (p Phase) Terminal() bool {
	return p == PhaseFinal
}
