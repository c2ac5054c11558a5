package domain

import "testing"

func TestPhaseValid(t *testing.T) {
	known := []Phase{
		PhaseWelcome, PhaseQuestionSetup, PhaseWaiting, PhaseSponsor1,
		PhaseQuestion, PhaseResults, PhaseSponsor2, PhasePodium, PhaseFinal,
	}
	for _, p := range known {
		if !p.Valid() {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	if Phase("intermission").Valid() {
		t.Fatalf("unknown phase must not be valid")
	}
	if Phase("").Valid() {
		t.Fatalf("empty phase must not be valid")
	}
}

func TestPhaseTerminal(t *testing.T) {
	if !PhaseFinal.Terminal() {
		t.Fatalf("final must be terminal")
	}
	if PhasePodium.Terminal() {
		t.Fatalf("podium is not terminal")
	}
}
