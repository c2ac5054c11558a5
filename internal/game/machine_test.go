package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/trivia-live/internal/domain"
)

type memStore struct {
	mu        stdsync.Mutex
	session   domain.Session
	players   []domain.Player
	answers   []domain.PlayerAnswer
	questions []domain.Question
	streaks   map[string]int

	forceStale bool
}

func newMemStore(phase domain.Phase, numBreaks int, questions ...domain.Question) *memStore {
	return &memStore{
		session: domain.Session{
			ID:               "s1",
			Phase:            phase,
			NumSponsorBreaks: numBreaks,
			PointsEnabled:    true,
			Version:          1,
		},
		questions: questions,
		streaks:   make(map[string]int),
	}
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	return &s, nil
}

func (m *memStore) WriteSessionState(ctx context.Context, sessionID string, expect domain.SessionExpectation, write domain.SessionWrite) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forceStale || m.session.Phase != expect.Phase || m.session.CurrentQuestionIndex != expect.CurrentQuestionIndex {
		return nil, domain.ErrStaleWrite
	}
	m.session.Phase = write.Phase
	m.session.CurrentQuestionIndex = write.CurrentQuestionIndex
	m.session.QuestionStartTime = write.QuestionStartTime
	m.session.ShuffledOptions = write.ShuffledOptions
	m.session.Version++
	s := m.session
	return &s, nil
}

func (m *memStore) SetPointsEnabled(ctx context.Context, sessionID string, enabled bool) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.PointsEnabled = enabled
	m.session.Version++
	s := m.session
	return &s, nil
}

func (m *memStore) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Player, len(m.players))
	copy(out, m.players)
	return out, nil
}

func (m *memStore) FanOutPhase(ctx context.Context, sessionID string, phase domain.Phase, questionIndex int, startTime *time.Time) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.players {
		m.players[i].CurrentPhase = phase
		m.players[i].CurrentQuestion = questionIndex
		m.players[i].QuestionStartTime = startTime
		m.players[i].HasSubmitted = false
	}
	out := make([]domain.Player, len(m.players))
	copy(out, m.players)
	return out, nil
}

func (m *memStore) SetPlayerStreak(ctx context.Context, playerID string, streak int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks[playerID] = streak
	return nil
}

func (m *memStore) DeletePlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.players
	m.players = nil
	return removed, nil
}

func (m *memStore) DeleteStalePlayers(ctx context.Context, sessionID string, cutoff time.Time) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept, removed []domain.Player
	for _, p := range m.players {
		if p.LastSeenAt.Before(cutoff) {
			removed = append(removed, p)
		} else {
			kept = append(kept, p)
		}
	}
	m.players = kept
	return removed, nil
}

func (m *memStore) ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.PlayerAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PlayerAnswer
	for _, a := range m.answers {
		if a.QuestionIndex == questionIndex {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) GetQuestion(ctx context.Context, sessionID string, position int) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if position < 0 || position >= len(m.questions) {
		return nil, domain.ErrQuestionNotFound
	}
	q := m.questions[position]
	return &q, nil
}

func (m *memStore) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions), nil
}

type memNotifier struct {
	mu     stdsync.Mutex
	events []domain.ChangeEvent
}

func (n *memNotifier) Publish(ctx context.Context, event domain.ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *memNotifier) count(kind domain.ChangeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

func question(prompt, correct string, wrong ...string) domain.Question {
	return domain.Question{Prompt: prompt, CorrectAnswer: correct, WrongAnswers: wrong}
}

func newTestMachine(store Store) *Machine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMachine(store, &memNotifier{}, 2*time.Minute, clockwork.NewFakeClock(), logger)
}

func advanceTo(t *testing.T, m *Machine, want domain.Phase) *domain.Session {
	t.Helper()
	s, err := m.AdvancePhase(context.Background(), "s1")
	if err != nil {
		t.Fatalf("advance toward %q: %v", want, err)
	}
	if s.Phase != want {
		t.Fatalf("expected phase %q, got %q", want, s.Phase)
	}
	return s
}

func TestFullGameWithoutSponsorBreaks(t *testing.T) {
	store := newMemStore(domain.PhaseWelcome, 0,
		question("q0", "a", "b", "c"),
		question("q1", "a", "b", "c"),
		question("q2", "a", "b", "c"),
	)
	m := newTestMachine(store)

	advanceTo(t, m, domain.PhaseQuestionSetup)
	advanceTo(t, m, domain.PhaseWaiting)
	advanceTo(t, m, domain.PhaseSponsor1)

	lastVersion := store.session.Version
	for i := 0; i < 3; i++ {
		s := advanceTo(t, m, domain.PhaseQuestion)
		if s.CurrentQuestionIndex != i {
			t.Fatalf("expected question index %d, got %d", i, s.CurrentQuestionIndex)
		}
		if s.Version <= lastVersion {
			t.Fatalf("version must increase on every write, got %d after %d", s.Version, lastVersion)
		}
		lastVersion = s.Version
		advanceTo(t, m, domain.PhaseResults)
	}

	// No sponsor break configured: results after index 1 went straight on.
	advanceTo(t, m, domain.PhasePodium)
	advanceTo(t, m, domain.PhaseFinal)

	// The only exit from final is back to the lobby.
	s := advanceTo(t, m, domain.PhaseWaiting)
	if s.CurrentQuestionIndex != 0 {
		t.Fatalf("restart must reset question index, got %d", s.CurrentQuestionIndex)
	}
}

func TestSponsorTwoRunsOnceAfterSecondQuestion(t *testing.T) {
	store := newMemStore(domain.PhaseSponsor1, 1,
		question("q0", "a", "b"),
		question("q1", "a", "b"),
		question("q2", "a", "b"),
		question("q3", "a", "b"),
	)
	m := newTestMachine(store)

	advanceTo(t, m, domain.PhaseQuestion) // index 0
	advanceTo(t, m, domain.PhaseResults)
	advanceTo(t, m, domain.PhaseQuestion) // index 1
	advanceTo(t, m, domain.PhaseResults)

	// Exactly after the second question the single mid-game break runs.
	advanceTo(t, m, domain.PhaseSponsor2)

	s := advanceTo(t, m, domain.PhaseQuestion)
	if s.CurrentQuestionIndex != 2 {
		t.Fatalf("expected question index 2 after sponsor break, got %d", s.CurrentQuestionIndex)
	}
	advanceTo(t, m, domain.PhaseResults)

	// Results after index 2 must not trigger another break.
	s = advanceTo(t, m, domain.PhaseQuestion)
	if s.CurrentQuestionIndex != 3 {
		t.Fatalf("expected question index 3, got %d", s.CurrentQuestionIndex)
	}
	advanceTo(t, m, domain.PhaseResults)
	advanceTo(t, m, domain.PhasePodium)
}

func TestSponsorTwoSkippedWhenNotConfigured(t *testing.T) {
	store := newMemStore(domain.PhaseResults, 0,
		question("q0", "a", "b"),
		question("q1", "a", "b"),
		question("q2", "a", "b"),
	)
	store.session.CurrentQuestionIndex = 1
	m := newTestMachine(store)

	s := advanceTo(t, m, domain.PhaseQuestion)
	if s.CurrentQuestionIndex != 2 {
		t.Fatalf("expected question index 2, got %d", s.CurrentQuestionIndex)
	}
}

func TestAdvanceFromWaitingRequiresQuestions(t *testing.T) {
	store := newMemStore(domain.PhaseWaiting, 0)
	m := newTestMachine(store)

	if _, err := m.AdvancePhase(context.Background(), "s1"); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if store.session.Phase != domain.PhaseWaiting {
		t.Fatalf("failed advance must leave the session untouched, got %q", store.session.Phase)
	}
}

func TestQuestionActivationPersistsShuffleWithPhase(t *testing.T) {
	store := newMemStore(domain.PhaseSponsor1, 0, question("q0", "right", "w1", "w2", "w3"))
	store.players = []domain.Player{
		{ID: "p1", SessionID: "s1", HasSubmitted: true},
		{ID: "p2", SessionID: "s1", HasSubmitted: true},
	}
	m := newTestMachine(store)

	s := advanceTo(t, m, domain.PhaseQuestion)

	if len(s.ShuffledOptions) != 4 {
		t.Fatalf("expected 4 shuffled options on the session row, got %d", len(s.ShuffledOptions))
	}
	if idx := CorrectIndex(&store.questions[0], s.ShuffledOptions); idx < 0 || idx > 3 {
		t.Fatalf("correct answer must be locatable in the shuffle, got index %d", idx)
	}
	if s.QuestionStartTime == nil {
		t.Fatalf("question activation must persist a start time")
	}

	// Fan-out reset every player's submission flag for the new question.
	for _, p := range store.players {
		if p.HasSubmitted {
			t.Fatalf("player %s submission flag must reset on activation", p.ID)
		}
		if p.CurrentPhase != domain.PhaseQuestion || p.CurrentQuestion != 0 {
			t.Fatalf("player %s mirror not fanned out: %q/%d", p.ID, p.CurrentPhase, p.CurrentQuestion)
		}
	}
}

func TestCloseQuestionClearsOptionsAndUpdatesStreaks(t *testing.T) {
	start := time.Now()
	store := newMemStore(domain.PhaseQuestion, 0, question("q0", "a", "b"))
	store.session.QuestionStartTime = &start
	store.session.ShuffledOptions = []string{"b", "a"}
	store.players = []domain.Player{
		{ID: "p1", SessionID: "s1", Streak: 2},
		{ID: "p2", SessionID: "s1", Streak: 4},
	}
	store.answers = []domain.PlayerAnswer{
		{Answer: domain.Answer{PlayerID: "p1", QuestionIndex: 0, IsCorrect: true}},
		{Answer: domain.Answer{PlayerID: "p2", QuestionIndex: 0, IsCorrect: false}},
	}
	m := newTestMachine(store)

	s := advanceTo(t, m, domain.PhaseResults)

	if len(s.ShuffledOptions) != 0 {
		t.Fatalf("results phase must not carry the previous shuffle")
	}
	if got := store.streaks["p1"]; got != 3 {
		t.Fatalf("correct answer must extend the streak, got %d", got)
	}
	if got := store.streaks["p2"]; got != 0 {
		t.Fatalf("wrong answer must reset the streak, got %d", got)
	}
}

func TestStaleWriteLeavesSessionUntouched(t *testing.T) {
	store := newMemStore(domain.PhasePodium, 0, question("q0", "a", "b"))
	store.forceStale = true
	m := newTestMachine(store)

	if _, err := m.AdvancePhase(context.Background(), "s1"); !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if store.session.Phase != domain.PhasePodium {
		t.Fatalf("stale write must not advance the phase, got %q", store.session.Phase)
	}
}

func TestRestartClearsPlayersAndPublishesLeaves(t *testing.T) {
	store := newMemStore(domain.PhaseFinal, 0, question("q0", "a", "b"))
	store.session.CurrentQuestionIndex = 2
	store.players = []domain.Player{
		{ID: "p1", SessionID: "s1"},
		{ID: "p2", SessionID: "s1"},
	}
	notifier := &memNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(store, notifier, 2*time.Minute, clockwork.NewFakeClock(), logger)

	s, err := m.RestartGame(context.Background(), "s1")
	if err != nil {
		t.Fatalf("RestartGame returned error: %v", err)
	}
	if s.Phase != domain.PhaseWaiting || s.CurrentQuestionIndex != 0 {
		t.Fatalf("expected waiting/0 after restart, got %q/%d", s.Phase, s.CurrentQuestionIndex)
	}
	if len(store.players) != 0 {
		t.Fatalf("restart must delete all players, %d remain", len(store.players))
	}
	if got := notifier.count(domain.ChangePlayerLeave); got != 2 {
		t.Fatalf("expected 2 player leave events, got %d", got)
	}
	if got := notifier.count(domain.ChangeSessionUpdate); got != 1 {
		t.Fatalf("expected 1 session update event, got %d", got)
	}
}

func TestStartGameRejectsMidGame(t *testing.T) {
	store := newMemStore(domain.PhaseQuestion, 0, question("q0", "a", "b"))
	m := newTestMachine(store)

	if _, err := m.StartGame(context.Background(), "s1"); !errors.Is(err, domain.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestClearStalePlayersUsesCutoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	store := newMemStore(domain.PhaseWaiting, 0)
	store.players = []domain.Player{
		{ID: "fresh", SessionID: "s1", LastSeenAt: now},
		{ID: "stale", SessionID: "s1", LastSeenAt: now.Add(-5 * time.Minute)},
	}
	notifier := &memNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(store, notifier, 2*time.Minute, clock, logger)

	removed, err := m.ClearStalePlayers(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ClearStalePlayers returned error: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "stale" {
		t.Fatalf("expected the stale player removed, got %v", removed)
	}
	if len(store.players) != 1 || store.players[0].ID != "fresh" {
		t.Fatalf("fresh player must survive the sweep")
	}
	if got := notifier.count(domain.ChangePlayerLeave); got != 1 {
		t.Fatalf("expected 1 leave event, got %d", got)
	}
}

func TestTogglePointsFlips(t *testing.T) {
	store := newMemStore(domain.PhaseWaiting, 0)
	m := newTestMachine(store)

	s, err := m.TogglePoints(context.Background(), "s1")
	if err != nil {
		t.Fatalf("TogglePoints returned error: %v", err)
	}
	if s.PointsEnabled {
		t.Fatalf("expected points disabled after toggle")
	}

	s, err = m.TogglePoints(context.Background(), "s1")
	if err != nil {
		t.Fatalf("TogglePoints returned error: %v", err)
	}
	if !s.PointsEnabled {
		t.Fatalf("expected points re-enabled after second toggle")
	}
}
