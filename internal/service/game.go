package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
	"github.com/trivia-live/internal/game"
	"github.com/trivia-live/internal/redis"
	gamesync "github.com/trivia-live/internal/sync"
	"github.com/trivia-live/internal/websocket"
)

// Store is the persistence surface the service drives: the phase
// machine's write slice plus the session, player, answer and question
// operations the request paths use.
type Store interface {
	game.Store
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	CreatePlayer(ctx context.Context, sessionID, name string) (*domain.Player, error)
	TouchPlayer(ctx context.Context, playerID string) error
	RecordSubmission(ctx context.Context, playerID string, points int64) (*domain.Player, error)
	InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error)
	ReplaceQuestions(ctx context.Context, sessionID string, questions []domain.QuestionInput) error
}

// Scoreboard is the ranking mirror kept next to the authoritative
// player rows
type Scoreboard interface {
	SetScore(ctx context.Context, sessionID, playerID string, score int64) error
	IncrementScore(ctx context.Context, sessionID, playerID string, delta int64) (int64, error)
	RemovePlayer(ctx context.Context, sessionID, playerID string) error
	TopN(ctx context.Context, sessionID string, n int) ([]domain.PodiumEntry, error)
	Reset(ctx context.Context, sessionID string) error
}

// Notifier publishes change events and hands out push subscriptions
type Notifier interface {
	game.Notifier
	Subscribe(ctx context.Context, sessionID string) (*redis.Subscription, error)
}

// GameService provides the business logic for running live trivia games:
// host phase control, player join/submit, and per-session state
// synchronization into the websocket hub.
type GameService struct {
	store      Store
	scoreboard Scoreboard
	notifier   Notifier
	machine    *game.Machine
	cfg        *config.Config
	clock      clockwork.Clock
	logger     *slog.Logger

	hub *websocket.Hub

	mu          stdsync.Mutex
	trackers    map[string]*game.SubmissionTracker
	reconcilers map[string]*gamesync.Reconciler
	pingStops   map[string]chan struct{}
}

// NewGameService creates a game service
func NewGameService(
	store Store,
	scoreboard Scoreboard,
	notifier Notifier,
	cfg *config.Config,
	clock clockwork.Clock,
	logger *slog.Logger,
) *GameService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GameService{
		store:       store,
		scoreboard:  scoreboard,
		notifier:    notifier,
		machine:     game.NewMachine(store, notifier, cfg.Game.StalePlayerTimeout, clock, logger),
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		trackers:    make(map[string]*game.SubmissionTracker),
		reconcilers: make(map[string]*gamesync.Reconciler),
		pingStops:   make(map[string]chan struct{}),
	}
}

// SetHub wires the WebSocket hub for broadcasting state updates
func (s *GameService) SetHub(hub *websocket.Hub) {
	s.hub = hub
}

// Stop tears down every per-session reconciler and ping publisher
func (s *GameService) Stop() {
	s.mu.Lock()
	reconcilers := s.reconcilers
	pings := s.pingStops
	s.reconcilers = make(map[string]*gamesync.Reconciler)
	s.pingStops = make(map[string]chan struct{})
	s.mu.Unlock()

	for _, r := range reconcilers {
		r.Cleanup()
	}
	for _, stop := range pings {
		close(stop)
	}
}

// --- sessions ---

// CreateSession creates a new game session and starts its sync engine
func (s *GameService) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	if req.NumSponsorBreaks < 0 {
		return nil, domain.ErrInvalidRequest
	}
	session, err := s.store.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSync(ctx, session.ID); err != nil {
		s.logger.Warn("sync engine start failed, clients fall back to reads",
			"session_id", session.ID, "error", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID
func (s *GameService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListPlayers returns the players in a session
func (s *GameService) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return s.store.ListPlayers(ctx, sessionID)
}

// LoadQuestions replaces the session's question bank; only legal before
// the game opens
func (s *GameService) LoadQuestions(ctx context.Context, sessionID string, questions []domain.QuestionInput) error {
	if len(questions) == 0 {
		return domain.ErrInvalidRequest
	}
	for _, q := range questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return domain.ErrInvalidRequest
		}
		if q.CorrectAnswer == "" && len(q.WrongAnswers) == 0 {
			return domain.ErrInvalidRequest
		}
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Phase != domain.PhaseWelcome && session.Phase != domain.PhaseQuestionSetup {
		return fmt.Errorf("%w: load questions during %q", domain.ErrWrongPhase, session.Phase)
	}
	return s.store.ReplaceQuestions(ctx, sessionID, questions)
}

// --- host operations ---

// AdvancePhase moves the session to its next phase
func (s *GameService) AdvancePhase(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.machine.AdvancePhase(ctx, sessionID)
}

// StartGame opens participation
func (s *GameService) StartGame(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.machine.StartGame(ctx, sessionID)
}

// RestartGame returns the session to the lobby, clearing players,
// trackers and the scoreboard
func (s *GameService) RestartGame(ctx context.Context, sessionID string) (*domain.Session, error) {
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		s.logger.Warn("player list before restart failed", "session_id", sessionID, "error", err)
	}

	session, err := s.machine.RestartGame(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, p := range players {
		delete(s.trackers, p.ID)
	}
	s.mu.Unlock()

	if err := s.scoreboard.Reset(ctx, sessionID); err != nil {
		s.logger.Warn("scoreboard reset failed", "session_id", sessionID, "error", err)
	}
	return session, nil
}

// TogglePoints flips scoring for a session
func (s *GameService) TogglePoints(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.machine.TogglePoints(ctx, sessionID)
}

// ClearStalePlayers removes players whose heartbeat lapsed, dropping
// their scoreboard entries along with the rows
func (s *GameService) ClearStalePlayers(ctx context.Context, sessionID string) (int, error) {
	removed, err := s.machine.ClearStalePlayers(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	for _, p := range removed {
		if err := s.scoreboard.RemovePlayer(ctx, sessionID, p.ID); err != nil {
			s.logger.Warn("scoreboard removal failed", "player_id", p.ID, "error", err)
		}
	}
	return len(removed), nil
}

// --- player operations ---

// JoinSession adds a named player to an open session
func (s *GameService) JoinSession(ctx context.Context, sessionID, name string) (*domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrEmptyName
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase == domain.PhaseWelcome || session.Phase == domain.PhaseQuestionSetup {
		return nil, fmt.Errorf("%w: session not open for joining", domain.ErrWrongPhase)
	}

	player, err := s.store.CreatePlayer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}

	if err := s.scoreboard.SetScore(ctx, sessionID, player.ID, 0); err != nil {
		s.logger.Warn("scoreboard seed failed", "player_id", player.ID, "error", err)
	}
	s.publish(ctx, domain.ChangeEvent{
		Kind:      domain.ChangePlayerJoin,
		SessionID: sessionID,
		Player:    player,
		Timestamp: s.clock.Now(),
	})

	s.mu.Lock()
	s.trackers[player.ID] = game.NewSubmissionTracker()
	s.mu.Unlock()

	s.logger.Info("player joined", "session_id", sessionID, "player_id", player.ID, "name", name)
	return player, nil
}

// Heartbeat records player liveness
func (s *GameService) Heartbeat(ctx context.Context, playerID string) error {
	return s.store.TouchPlayer(ctx, playerID)
}

// SubmitAnswer runs one answer through the submission lifecycle. The
// tracker gates duplicates before any store call; the store's unique
// constraint is the backstop.
func (s *GameService) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (*domain.Answer, error) {
	tracker := s.trackerFor(sub.PlayerID)
	if err := tracker.Begin(sub.QuestionIndex); err != nil {
		return nil, err
	}

	answer, err := s.submitAnswer(ctx, sub)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			// The row landed through another path (e.g. the Kafka
			// channel); record it as submitted rather than retryable.
			tracker.Succeed(sub.QuestionIndex)
		} else {
			tracker.Fail(sub.QuestionIndex)
		}
		return nil, err
	}
	tracker.Succeed(sub.QuestionIndex)
	return answer, nil
}

func (s *GameService) submitAnswer(ctx context.Context, sub domain.AnswerSubmission) (*domain.Answer, error) {
	session, err := s.store.GetSession(ctx, sub.SessionID)
	if err != nil {
		return nil, err
	}
	if !game.OptionsReady(session, sub.QuestionIndex) {
		return nil, fmt.Errorf("%w: question %d not active", domain.ErrWrongPhase, sub.QuestionIndex)
	}
	if sub.OptionIndex < 0 || sub.OptionIndex >= len(session.ShuffledOptions) {
		return nil, domain.ErrInvalidOption
	}

	question, err := s.store.GetQuestion(ctx, sub.SessionID, sub.QuestionIndex)
	if err != nil {
		return nil, err
	}

	// Correctness compares against the shuffled index derived by string
	// lookup; -1 marks a trick question where everyone is right.
	correctIndex := game.CorrectIndex(question, session.ShuffledOptions)
	correct := correctIndex == -1 || sub.OptionIndex == correctIndex

	responseTime := sub.ResponseTimeMs
	if responseTime <= 0 {
		responseTime = game.ResponseTime(session.QuestionStartTime, s.clock.Now())
	}
	points := game.PointsForAnswer(correct, responseTime, session.PointsEnabled)

	answer, err := s.store.InsertAnswer(ctx, domain.Answer{
		SessionID:         sub.SessionID,
		PlayerID:          sub.PlayerID,
		QuestionIndex:     sub.QuestionIndex,
		ChosenOptionIndex: sub.OptionIndex,
		IsCorrect:         correct,
		ResponseTimeMs:    responseTime,
		PointsEarned:      points,
	})
	if err != nil {
		return nil, err
	}

	player, err := s.store.RecordSubmission(ctx, sub.PlayerID, points)
	if err != nil {
		// The answer row is durable; the score repairs on the next
		// results pass, so don't fail the submission.
		s.logger.Error("score update failed after answer insert",
			"player_id", sub.PlayerID, "error", err)
	} else {
		if _, err := s.scoreboard.IncrementScore(ctx, sub.SessionID, sub.PlayerID, points); err != nil {
			s.logger.Warn("scoreboard increment failed", "player_id", sub.PlayerID, "error", err)
		}
		s.publish(ctx, domain.ChangeEvent{
			Kind:      domain.ChangePlayerUpdate,
			SessionID: sub.SessionID,
			Player:    player,
			Timestamp: s.clock.Now(),
		})
	}

	return answer, nil
}

// trackerFor returns the submission tracker for a player, creating one
// for players that joined before this process started
func (s *GameService) trackerFor(playerID string) *game.SubmissionTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[playerID]
	if !ok {
		t = game.NewSubmissionTracker()
		s.trackers[playerID] = t
	}
	return t
}

// --- read views ---

// GetQuestionResults returns the per-question aggregates
func (s *GameService) GetQuestionResults(ctx context.Context, sessionID string, questionIndex int) (*domain.QuestionResults, error) {
	answers, err := s.store.ListAnswers(ctx, sessionID, questionIndex)
	if err != nil {
		return nil, err
	}
	return game.AggregateResults(questionIndex, answers), nil
}

// Podium returns the top players. Redis ranks; Postgres supplies names
// and serves as the fallback when Redis is unavailable.
func (s *GameService) Podium(ctx context.Context, sessionID string) ([]domain.PodiumEntry, error) {
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(players))
	for _, p := range players {
		names[p.ID] = p.Name
	}

	entries, err := s.scoreboard.TopN(ctx, sessionID, s.cfg.Game.PodiumSize)
	if err != nil || len(entries) == 0 {
		if err != nil {
			s.logger.Warn("scoreboard read failed, ranking from postgres",
				"session_id", sessionID, "error", err)
		}
		return podiumFromPlayers(players, s.cfg.Game.PodiumSize), nil
	}

	for i := range entries {
		entries[i].Name = names[entries[i].PlayerID]
	}
	return entries, nil
}

// podiumFromPlayers ranks directly from player rows
func podiumFromPlayers(players []domain.Player, limit int) []domain.PodiumEntry {
	sorted := make([]domain.Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	entries := make([]domain.PodiumEntry, len(sorted))
	for i, p := range sorted {
		entries[i] = domain.PodiumEntry{
			Rank:     int64(i + 1),
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		}
	}
	return entries
}

// --- sync engine wiring ---

// notifierTransport adapts the Redis notifier to the sync engine's
// transport contract
type notifierTransport struct {
	notifier Notifier
}

func (t notifierTransport) Subscribe(ctx context.Context, sessionID string) (gamesync.Subscription, error) {
	sub, err := t.notifier.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ResumeSessions restarts sync engines for every session that was live
// when the process last stopped. Without this a restart strands
// mid-game sessions: the rows survive in Postgres but nothing feeds
// their state to the hub. Terminal sessions only need reads and are
// skipped.
func (s *GameService) ResumeSessions(ctx context.Context) error {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	resumed := 0
	for _, sess := range sessions {
		if sess.Phase.Terminal() {
			continue
		}
		if err := s.EnsureSync(ctx, sess.ID); err != nil {
			s.logger.Warn("sync engine resume failed", "session_id", sess.ID, "error", err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("sync engines resumed", "count", resumed)
	}
	return nil
}

// EnsureSync starts the session's reconciler and ping publisher if not
// already running. The reconciler feeds accepted state into the hub.
func (s *GameService) EnsureSync(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if _, ok := s.reconcilers[sessionID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	handlers := gamesync.Handlers{
		OnStateUpdate: func(session *domain.Session) {
			if s.hub != nil {
				s.hub.BroadcastSessionUpdate(sessionID, session)
			}
		},
		OnPlayerJoin: func(p *domain.Player) {
			if s.hub != nil {
				s.hub.BroadcastPlayerEvent(websocket.MessageTypePlayerJoin, sessionID, p)
			}
		},
		OnPlayerUpdate: func(p *domain.Player) {
			if s.hub != nil {
				s.hub.BroadcastPlayerEvent(websocket.MessageTypePlayerUpdate, sessionID, p)
			}
		},
		OnPlayerLeave: func(p *domain.Player) {
			if s.hub != nil {
				s.hub.BroadcastPlayerEvent(websocket.MessageTypePlayerLeave, sessionID, p)
			}
		},
	}

	r := gamesync.NewReconciler(sessionID, s.store, notifierTransport{s.notifier},
		handlers, s.cfg.Sync, s.clock, s.logger)
	if err := r.Initialize(ctx); err != nil {
		r.Cleanup()
		return err
	}

	stop := make(chan struct{})
	s.mu.Lock()
	if _, ok := s.reconcilers[sessionID]; ok {
		s.mu.Unlock()
		r.Cleanup()
		close(stop)
		return nil
	}
	s.reconcilers[sessionID] = r
	s.pingStops[sessionID] = stop
	s.mu.Unlock()

	go s.pingLoop(sessionID, stop)
	return nil
}

// StopSync tears down a session's reconciler and ping publisher
func (s *GameService) StopSync(sessionID string) {
	s.mu.Lock()
	r := s.reconcilers[sessionID]
	delete(s.reconcilers, sessionID)
	stop := s.pingStops[sessionID]
	delete(s.pingStops, sessionID)
	s.mu.Unlock()

	if r != nil {
		r.Cleanup()
	}
	if stop != nil {
		close(stop)
	}
}

// SyncStatus returns the reconciler status for a session
func (s *GameService) SyncStatus(sessionID string) (gamesync.Status, bool) {
	s.mu.Lock()
	r := s.reconcilers[sessionID]
	s.mu.Unlock()
	if r == nil {
		return gamesync.Status{}, false
	}
	return r.Status(), true
}

// SyncTelemetry returns the retained sync telemetry for a session
func (s *GameService) SyncTelemetry(sessionID string) ([]gamesync.TelemetryEntry, bool) {
	s.mu.Lock()
	r := s.reconcilers[sessionID]
	s.mu.Unlock()
	if r == nil {
		return nil, false
	}
	return r.Telemetry(), true
}

// RefreshSync forces a fresh point read for manual resynchronization
func (s *GameService) RefreshSync(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	r := s.reconcilers[sessionID]
	s.mu.Unlock()
	if r == nil {
		return domain.ErrSessionNotFound
	}
	return r.Refresh(ctx)
}

// pingLoop keeps the session's push channel observably alive so
// subscribers can tell silence from failure
func (s *GameService) pingLoop(sessionID string, stop chan struct{}) {
	ticker := s.clock.NewTicker(s.cfg.Sync.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.publish(ctx, domain.ChangeEvent{
				Kind:      domain.ChangePing,
				SessionID: sessionID,
				Timestamp: s.clock.Now(),
			})
			cancel()
		}
	}
}

func (s *GameService) publish(ctx context.Context, event domain.ChangeEvent) {
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("change publish failed",
			"session_id", event.SessionID, "kind", event.Kind, "error", err)
	}
}
