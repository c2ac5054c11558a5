package service

import (
	"context"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
	"github.com/trivia-live/internal/redis"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Game.PodiumSize = 3
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for the Postgres repository,
// covering the slice of the Store surface these tests exercise.
type fakeStore struct {
	mu       stdsync.Mutex
	sessions map[string]*domain.Session
	players  map[string][]domain.Player
	stale    map[string][]domain.Player
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*domain.Session),
		players:  make(map[string][]domain.Player),
		stale:    make(map[string][]domain.Player),
	}
}

func (f *fakeStore) addSession(id string, phase domain.Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = &domain.Session{ID: id, Phase: phase, Version: 1}
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Player, len(f.players[sessionID]))
	copy(out, f.players[sessionID])
	return out, nil
}

func (f *fakeStore) DeleteStalePlayers(ctx context.Context, sessionID string, cutoff time.Time) ([]domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := f.stale[sessionID]
	f.stale[sessionID] = nil
	return removed, nil
}

func (f *fakeStore) WriteSessionState(ctx context.Context, sessionID string, expect domain.SessionExpectation, write domain.SessionWrite) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}

func (f *fakeStore) SetPointsEnabled(ctx context.Context, sessionID string, enabled bool) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}

func (f *fakeStore) FanOutPhase(ctx context.Context, sessionID string, phase domain.Phase, questionIndex int, startTime *time.Time) ([]domain.Player, error) {
	return nil, nil
}

func (f *fakeStore) SetPlayerStreak(ctx context.Context, playerID string, streak int) error {
	return nil
}

func (f *fakeStore) DeletePlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return nil, nil
}

func (f *fakeStore) ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.PlayerAnswer, error) {
	return nil, nil
}

func (f *fakeStore) GetQuestion(ctx context.Context, sessionID string, position int) (*domain.Question, error) {
	return nil, domain.ErrQuestionNotFound
}

func (f *fakeStore) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	return nil, domain.ErrInvalidRequest
}

func (f *fakeStore) CreatePlayer(ctx context.Context, sessionID, name string) (*domain.Player, error) {
	return nil, domain.ErrSessionNotFound
}

func (f *fakeStore) TouchPlayer(ctx context.Context, playerID string) error {
	return nil
}

func (f *fakeStore) RecordSubmission(ctx context.Context, playerID string, points int64) (*domain.Player, error) {
	return nil, domain.ErrPlayerNotFound
}

func (f *fakeStore) InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error) {
	return nil, domain.ErrAlreadySubmitted
}

func (f *fakeStore) ReplaceQuestions(ctx context.Context, sessionID string, questions []domain.QuestionInput) error {
	return nil
}

type fakeScoreboard struct {
	mu      stdsync.Mutex
	removed []string
	topErr  error
	top     []domain.PodiumEntry
}

func (f *fakeScoreboard) SetScore(ctx context.Context, sessionID, playerID string, score int64) error {
	return nil
}

func (f *fakeScoreboard) IncrementScore(ctx context.Context, sessionID, playerID string, delta int64) (int64, error) {
	return delta, nil
}

func (f *fakeScoreboard) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, playerID)
	return nil
}

func (f *fakeScoreboard) TopN(ctx context.Context, sessionID string, n int) ([]domain.PodiumEntry, error) {
	return f.top, f.topErr
}

func (f *fakeScoreboard) Reset(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeScoreboard) removedPlayers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

type fakeNotifier struct{}

func (fakeNotifier) Publish(ctx context.Context, event domain.ChangeEvent) error {
	return nil
}

func (fakeNotifier) Subscribe(ctx context.Context, sessionID string) (*redis.Subscription, error) {
	return nil, nil
}

func newTestService(store *fakeStore) (*GameService, *fakeScoreboard) {
	scoreboard := &fakeScoreboard{}
	svc := NewGameService(store, scoreboard, fakeNotifier{}, testConfig(),
		clockwork.NewFakeClock(), testLogger())
	return svc, scoreboard
}

func TestResumeSessionsStartsSyncForLiveSessions(t *testing.T) {
	store := newFakeStore()
	store.addSession("live", domain.PhaseQuestion)
	store.addSession("lobby", domain.PhaseWaiting)
	store.addSession("done", domain.PhaseFinal)

	svc, _ := newTestService(store)
	defer svc.Stop()

	if err := svc.ResumeSessions(context.Background()); err != nil {
		t.Fatalf("ResumeSessions returned error: %v", err)
	}

	for _, id := range []string{"live", "lobby"} {
		status, ok := svc.SyncStatus(id)
		if !ok {
			t.Fatalf("expected a sync engine for session %q after resume", id)
		}
		if status.LocalVersion != 1 {
			t.Fatalf("session %q: expected resumed engine at version 1, got %d", id, status.LocalVersion)
		}
	}
	if _, ok := svc.SyncStatus("done"); ok {
		t.Fatalf("finished sessions must not get a sync engine")
	}

	// Resuming again is a no-op, not a second engine.
	if err := svc.ResumeSessions(context.Background()); err != nil {
		t.Fatalf("second ResumeSessions returned error: %v", err)
	}
}

func TestClearStalePlayersDropsScoreboardEntries(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", domain.PhaseWaiting)
	store.stale["s1"] = []domain.Player{
		{ID: "gone1", SessionID: "s1"},
		{ID: "gone2", SessionID: "s1"},
	}

	svc, scoreboard := newTestService(store)
	defer svc.Stop()

	removed, err := svc.ClearStalePlayers(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ClearStalePlayers returned error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 players removed, got %d", removed)
	}

	got := scoreboard.removedPlayers()
	if len(got) != 2 || got[0] != "gone1" || got[1] != "gone2" {
		t.Fatalf("expected scoreboard entries dropped for both players, got %v", got)
	}
}

func TestPodiumFallsBackToPostgresRanking(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", domain.PhasePodium)
	store.players["s1"] = []domain.Player{
		{ID: "p1", Name: "ada", Score: 300},
		{ID: "p2", Name: "bob", Score: 900},
		{ID: "p3", Name: "cleo", Score: 600},
		{ID: "p4", Name: "dee", Score: 100},
	}

	svc, scoreboard := newTestService(store)
	defer svc.Stop()
	scoreboard.topErr = domain.ErrInternalError

	podium, err := svc.Podium(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Podium returned error: %v", err)
	}
	if len(podium) != 3 {
		t.Fatalf("expected podium capped at 3, got %d entries", len(podium))
	}
	wantOrder := []string{"p2", "p3", "p1"}
	for i, want := range wantOrder {
		if podium[i].PlayerID != want {
			t.Fatalf("rank %d: expected %s, got %s", i+1, want, podium[i].PlayerID)
		}
		if podium[i].Rank != int64(i+1) {
			t.Fatalf("expected rank %d, got %d", i+1, podium[i].Rank)
		}
	}
	if podium[0].Name != "bob" {
		t.Fatalf("fallback ranking must carry names, got %q", podium[0].Name)
	}
}
