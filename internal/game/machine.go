package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/trivia-live/internal/domain"
)

// Store is the slice of the game state store the phase machine writes
// through. Every session mutation goes through WriteSessionState, which
// bumps the version and is guarded by the host's last-read state.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	WriteSessionState(ctx context.Context, sessionID string, expect domain.SessionExpectation, write domain.SessionWrite) (*domain.Session, error)
	SetPointsEnabled(ctx context.Context, sessionID string, enabled bool) (*domain.Session, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	FanOutPhase(ctx context.Context, sessionID string, phase domain.Phase, questionIndex int, startTime *time.Time) ([]domain.Player, error)
	SetPlayerStreak(ctx context.Context, playerID string, streak int) error
	DeletePlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	DeleteStalePlayers(ctx context.Context, sessionID string, cutoff time.Time) ([]domain.Player, error)
	ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.PlayerAnswer, error)
	GetQuestion(ctx context.Context, sessionID string, position int) (*domain.Question, error)
	CountQuestions(ctx context.Context, sessionID string) (int, error)
}

// Notifier publishes change events after committed writes
type Notifier interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// Machine drives the host-only phase transitions. The session row has
// exactly one writer role; nothing here ever advances local state ahead
// of a confirmed persisted write, because every other participant
// derives truth from the row.
type Machine struct {
	store    Store
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger

	staleTimeout time.Duration
}

// NewMachine creates a phase machine
func NewMachine(store Store, notifier Notifier, staleTimeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{
		store:        store,
		notifier:     notifier,
		clock:        clock,
		logger:       logger,
		staleTimeout: staleTimeout,
	}
}

// AdvancePhase moves a session to its next legal phase and performs the
// transition's side effects. The returned session is the persisted row;
// on any failure the session is left exactly where it was.
func (m *Machine) AdvancePhase(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch s.Phase {
	case domain.PhaseWelcome:
		return m.writePhase(ctx, s, domain.PhaseQuestionSetup, s.CurrentQuestionIndex, false)

	case domain.PhaseQuestionSetup:
		return m.openLobby(ctx, s)

	case domain.PhaseWaiting:
		if n, err := m.store.CountQuestions(ctx, sessionID); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, domain.ErrNoQuestions
		}
		return m.writePhase(ctx, s, domain.PhaseSponsor1, s.CurrentQuestionIndex, true)

	case domain.PhaseSponsor1:
		return m.activateQuestion(ctx, s, s.CurrentQuestionIndex)

	case domain.PhaseQuestion:
		return m.closeQuestion(ctx, s)

	case domain.PhaseResults:
		return m.afterResults(ctx, s)

	case domain.PhaseSponsor2:
		return m.questionOrPodium(ctx, s, s.CurrentQuestionIndex+1)

	case domain.PhasePodium:
		return m.writePhase(ctx, s, domain.PhaseFinal, s.CurrentQuestionIndex, true)

	case domain.PhaseFinal:
		// The only exit from final is a restart back to the lobby.
		return m.restart(ctx, s)

	default:
		return nil, fmt.Errorf("%w: advance from %q", domain.ErrWrongPhase, s.Phase)
	}
}

// StartGame opens participation: stale players are cleared, the question
// index resets, and the session enters waiting
func (m *Machine) StartGame(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Phase != domain.PhaseWelcome && s.Phase != domain.PhaseQuestionSetup {
		return nil, fmt.Errorf("%w: start from %q", domain.ErrWrongPhase, s.Phase)
	}
	return m.openLobby(ctx, s)
}

// RestartGame returns a finished (or abandoned) session to the lobby,
// clearing all players
func (m *Machine) RestartGame(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.restart(ctx, s)
}

// TogglePoints flips scoring for a session
func (m *Machine) TogglePoints(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	updated, err := m.store.SetPointsEnabled(ctx, sessionID, !s.PointsEnabled)
	if err != nil {
		return nil, err
	}
	m.publishSession(ctx, updated)
	return updated, nil
}

// ClearStalePlayers removes players whose heartbeat lapsed and returns
// the removed rows so callers can drop derived state for them
func (m *Machine) ClearStalePlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	cutoff := m.clock.Now().Add(-m.staleTimeout)
	removed, err := m.store.DeleteStalePlayers(ctx, sessionID, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range removed {
		m.publishPlayer(ctx, domain.ChangePlayerLeave, &removed[i])
	}
	return removed, nil
}

// --- transitions ---

// openLobby is the question_setup -> waiting transition: stale player
// rows are dropped and the question index resets to zero
func (m *Machine) openLobby(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	removed, err := m.store.DeletePlayers(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("clearing players: %w", err)
	}
	updated, err := m.store.WriteSessionState(ctx, s.ID,
		domain.SessionExpectation{Phase: s.Phase, CurrentQuestionIndex: s.CurrentQuestionIndex},
		domain.SessionWrite{Phase: domain.PhaseWaiting, CurrentQuestionIndex: 0},
	)
	if err != nil {
		return nil, err
	}
	for i := range removed {
		m.publishPlayer(ctx, domain.ChangePlayerLeave, &removed[i])
	}
	m.publishSession(ctx, updated)
	return updated, nil
}

// activateQuestion is the shuffle-then-question step shared by the
// sponsor1 -> question, sponsor2 -> question and results -> question
// transitions. The shuffle and start time are persisted in the same
// versioned write as the phase; that row is the single source of truth
// all participants converge on, so local phase never advances first.
func (m *Machine) activateQuestion(ctx context.Context, s *domain.Session, targetIndex int) (*domain.Session, error) {
	q, err := m.store.GetQuestion(ctx, s.ID, targetIndex)
	if err != nil {
		return nil, err
	}

	options := ShuffleOptions(q)
	startTime := m.clock.Now()

	updated, err := m.store.WriteSessionState(ctx, s.ID,
		domain.SessionExpectation{Phase: s.Phase, CurrentQuestionIndex: s.CurrentQuestionIndex},
		domain.SessionWrite{
			Phase:                domain.PhaseQuestion,
			CurrentQuestionIndex: targetIndex,
			QuestionStartTime:    &startTime,
			ShuffledOptions:      options,
		},
	)
	if err != nil {
		return nil, err
	}

	// Fan-out carries the question index and resets each player's
	// submission flag for the new question.
	players, err := m.store.FanOutPhase(ctx, s.ID, domain.PhaseQuestion, targetIndex, &startTime)
	if err != nil {
		m.logger.Warn("phase fan-out failed, players will converge via session snapshots",
			"session_id", s.ID, "error", err)
	}
	m.publishSession(ctx, updated)
	for i := range players {
		m.publishPlayer(ctx, domain.ChangePlayerUpdate, &players[i])
	}

	m.logger.Info("question activated",
		"session_id", s.ID,
		"question_index", targetIndex,
		"options", len(options),
	)
	return updated, nil
}

// closeQuestion is the question -> results transition: players are
// reloaded to capture last-moment submissions, aggregates are computed
// from answers ordered by response time, and streaks are updated
func (m *Machine) closeQuestion(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	players, err := m.store.ListPlayers(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading players: %w", err)
	}
	answers, err := m.store.ListAnswers(ctx, s.ID, s.CurrentQuestionIndex)
	if err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}

	for playerID, streak := range NextStreaks(players, answers) {
		if err := m.store.SetPlayerStreak(ctx, playerID, streak); err != nil {
			m.logger.Warn("streak update failed", "player_id", playerID, "error", err)
		}
	}

	updated, err := m.store.WriteSessionState(ctx, s.ID,
		domain.SessionExpectation{Phase: s.Phase, CurrentQuestionIndex: s.CurrentQuestionIndex},
		domain.SessionWrite{
			Phase:                domain.PhaseResults,
			CurrentQuestionIndex: s.CurrentQuestionIndex,
			QuestionStartTime:    s.QuestionStartTime,
		},
	)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.FanOutPhase(ctx, s.ID, domain.PhaseResults, s.CurrentQuestionIndex, nil); err != nil {
		m.logger.Warn("phase fan-out failed", "session_id", s.ID, "error", err)
	}
	m.publishSession(ctx, updated)
	return updated, nil
}

// afterResults decides where results leads: the one sponsor2 break right
// after the second question when breaks are configured, the next
// question while any remain, or the podium
func (m *Machine) afterResults(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	if s.CurrentQuestionIndex == 1 && s.NumSponsorBreaks >= 1 {
		return m.writePhase(ctx, s, domain.PhaseSponsor2, s.CurrentQuestionIndex, true)
	}
	return m.questionOrPodium(ctx, s, s.CurrentQuestionIndex+1)
}

// questionOrPodium activates the next question if one remains, else
// moves to the podium
func (m *Machine) questionOrPodium(ctx context.Context, s *domain.Session, nextIndex int) (*domain.Session, error) {
	total, err := m.store.CountQuestions(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if nextIndex < total {
		return m.activateQuestion(ctx, s, nextIndex)
	}
	return m.writePhase(ctx, s, domain.PhasePodium, s.CurrentQuestionIndex, true)
}

// restart is the final -> waiting transition (also usable from any
// phase by the host): players are deleted and the lobby reopens
func (m *Machine) restart(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	removed, err := m.store.DeletePlayers(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("clearing players: %w", err)
	}
	updated, err := m.store.WriteSessionState(ctx, s.ID,
		domain.SessionExpectation{Phase: s.Phase, CurrentQuestionIndex: s.CurrentQuestionIndex},
		domain.SessionWrite{Phase: domain.PhaseWaiting, CurrentQuestionIndex: 0},
	)
	if err != nil {
		return nil, err
	}
	for i := range removed {
		m.publishPlayer(ctx, domain.ChangePlayerLeave, &removed[i])
	}
	m.publishSession(ctx, updated)
	m.logger.Info("session restarted", "session_id", s.ID)
	return updated, nil
}

// writePhase persists a bare phase change, optionally fanning it out to
// players
func (m *Machine) writePhase(ctx context.Context, s *domain.Session, next domain.Phase, index int, fanOut bool) (*domain.Session, error) {
	updated, err := m.store.WriteSessionState(ctx, s.ID,
		domain.SessionExpectation{Phase: s.Phase, CurrentQuestionIndex: s.CurrentQuestionIndex},
		domain.SessionWrite{Phase: next, CurrentQuestionIndex: index, QuestionStartTime: s.QuestionStartTime},
	)
	if err != nil {
		return nil, err
	}
	if fanOut {
		if _, err := m.store.FanOutPhase(ctx, s.ID, next, index, nil); err != nil {
			m.logger.Warn("phase fan-out failed", "session_id", s.ID, "error", err)
		}
	}
	m.publishSession(ctx, updated)
	return updated, nil
}

// --- notifications ---

// Publish failures are logged, not returned: the write is already
// committed and pollers converge without the event.
func (m *Machine) publishSession(ctx context.Context, s *domain.Session) {
	if m.notifier == nil {
		return
	}
	event := domain.ChangeEvent{
		Kind:      domain.ChangeSessionUpdate,
		SessionID: s.ID,
		Session:   s,
		Timestamp: m.clock.Now(),
	}
	if err := m.notifier.Publish(ctx, event); err != nil {
		m.logger.Warn("session change publish failed", "session_id", s.ID, "error", err)
	}
}

func (m *Machine) publishPlayer(ctx context.Context, kind domain.ChangeKind, p *domain.Player) {
	if m.notifier == nil {
		return
	}
	event := domain.ChangeEvent{
		Kind:      kind,
		SessionID: p.SessionID,
		Player:    p,
		Timestamp: m.clock.Now(),
	}
	if err := m.notifier.Publish(ctx, event); err != nil {
		m.logger.Warn("player change publish failed", "player_id", p.ID, "error", err)
	}
}
