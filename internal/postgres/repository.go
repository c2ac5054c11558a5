package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			phase VARCHAR(20) NOT NULL DEFAULT 'welcome',
			current_question_index INT NOT NULL DEFAULT 0,
			question_start_time TIMESTAMPTZ,
			shuffled_options TEXT[],
			num_sponsor_breaks INT NOT NULL DEFAULT 0,
			points_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			name VARCHAR(64) NOT NULL,
			score BIGINT NOT NULL DEFAULT 0,
			streak INT NOT NULL DEFAULT 0,
			current_phase VARCHAR(20) NOT NULL DEFAULT 'waiting',
			current_question INT NOT NULL DEFAULT 0,
			question_start_time TIMESTAMPTZ,
			has_submitted BOOLEAN NOT NULL DEFAULT FALSE,
			joined_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			question_index INT NOT NULL,
			chosen_option_index INT NOT NULL,
			is_correct BOOLEAN NOT NULL,
			response_time_ms BIGINT NOT NULL,
			points_earned BIGINT NOT NULL DEFAULT 0,
			answered_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, player_id, question_index)
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			position INT NOT NULL,
			prompt TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			wrong_answers TEXT[] NOT NULL,
			image_url TEXT,
			UNIQUE(session_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_session ON players(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(session_id, question_index, response_time_ms ASC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Sessions ---

const sessionColumns = `id, phase, current_question_index, question_start_time,
	shuffled_options, num_sponsor_breaks, points_enabled, version, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.Phase,
		&s.CurrentQuestionIndex,
		&s.QuestionStartTime,
		&s.ShuffledOptions,
		&s.NumSponsorBreaks,
		&s.PointsEnabled,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &s, nil
}

// CreateSession creates a new game session in the welcome phase
func (r *Repository) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	query := `
		INSERT INTO sessions (id, phase, num_sponsor_breaks, points_enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + sessionColumns
	row := r.pool.QueryRow(ctx, query,
		uuid.New().String(),
		domain.PhaseWelcome,
		req.NumSponsorBreaks,
		req.PointsEnabled,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, sessionID))
}

// WriteSessionState persists a phase transition, guarded by the host's
// last-read phase and question index. The version column is bumped in the
// same statement; readers order snapshots by it. Returns ErrStaleWrite if
// the row no longer matches the expectation.
func (r *Repository) WriteSessionState(ctx context.Context, sessionID string, expect domain.SessionExpectation, write domain.SessionWrite) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET phase = $1,
			current_question_index = $2,
			question_start_time = $3,
			shuffled_options = $4,
			version = version + 1,
			updated_at = $5
		WHERE id = $6 AND phase = $7 AND current_question_index = $8
		RETURNING ` + sessionColumns
	row := r.pool.QueryRow(ctx, query,
		write.Phase,
		write.CurrentQuestionIndex,
		write.QuestionStartTime,
		write.ShuffledOptions,
		time.Now(),
		sessionID,
		expect.Phase,
		expect.CurrentQuestionIndex,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Distinguish a missing row from a guard mismatch.
			if _, getErr := r.GetSession(ctx, sessionID); getErr == nil {
				return nil, domain.ErrStaleWrite
			}
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("writing session state: %w", err)
	}
	return s, nil
}

// SetPointsEnabled toggles scoring for a session
func (r *Repository) SetPointsEnabled(ctx context.Context, sessionID string, enabled bool) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET points_enabled = $1, version = version + 1, updated_at = $2
		WHERE id = $3
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, enabled, time.Now(), sessionID))
}

// ListSessions returns all sessions, newest first
func (r *Repository) ListSessions(ctx context.Context) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// --- Players ---

const playerColumns = `id, session_id, name, score, streak, current_phase,
	current_question, question_start_time, has_submitted, joined_at, last_seen_at`

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.Name,
		&p.Score,
		&p.Streak,
		&p.CurrentPhase,
		&p.CurrentQuestion,
		&p.QuestionStartTime,
		&p.HasSubmitted,
		&p.JoinedAt,
		&p.LastSeenAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("scanning player: %w", err)
	}
	return &p, nil
}

// CreatePlayer adds a player to a session with score zero
func (r *Repository) CreatePlayer(ctx context.Context, sessionID, name string) (*domain.Player, error) {
	query := `
		INSERT INTO players (id, session_id, name, current_phase)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + playerColumns
	row := r.pool.QueryRow(ctx, query, uuid.New().String(), sessionID, name, domain.PhaseWaiting)
	p, err := scanPlayer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return p, nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	return scanPlayer(r.pool.QueryRow(ctx, query, playerID))
}

// ListPlayers returns all players in a session ordered by join time
func (r *Repository) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE session_id = $1 ORDER BY joined_at ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, nil
}

// FanOutPhase mirrors the session's phase onto every player row and
// resets their submission flag. Returns the updated players.
func (r *Repository) FanOutPhase(ctx context.Context, sessionID string, phase domain.Phase, questionIndex int, startTime *time.Time) ([]domain.Player, error) {
	query := `
		UPDATE players
		SET current_phase = $1,
			current_question = $2,
			question_start_time = $3,
			has_submitted = FALSE
		WHERE session_id = $4
		RETURNING ` + playerColumns
	rows, err := r.pool.Query(ctx, query, phase, questionIndex, startTime, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fanning out phase: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, nil
}

// RecordSubmission adds points to a player's score and marks them as
// having submitted for the current question
func (r *Repository) RecordSubmission(ctx context.Context, playerID string, points int64) (*domain.Player, error) {
	query := `
		UPDATE players
		SET score = score + $1, has_submitted = TRUE, last_seen_at = $2
		WHERE id = $3
		RETURNING ` + playerColumns
	return scanPlayer(r.pool.QueryRow(ctx, query, points, time.Now(), playerID))
}

// SetPlayerStreak updates a player's streak counter
func (r *Repository) SetPlayerStreak(ctx context.Context, playerID string, streak int) error {
	query := `UPDATE players SET streak = $1 WHERE id = $2`
	result, err := r.pool.Exec(ctx, query, streak, playerID)
	if err != nil {
		return fmt.Errorf("setting player streak: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// TouchPlayer records a player heartbeat
func (r *Repository) TouchPlayer(ctx context.Context, playerID string) error {
	query := `UPDATE players SET last_seen_at = $1 WHERE id = $2`
	result, err := r.pool.Exec(ctx, query, time.Now(), playerID)
	if err != nil {
		return fmt.Errorf("touching player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// DeletePlayers removes every player in a session and returns the
// removed rows so callers can publish leave events
func (r *Repository) DeletePlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	query := `DELETE FROM players WHERE session_id = $1 RETURNING ` + playerColumns
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("deleting players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, nil
}

// DeleteStalePlayers removes players whose last heartbeat is before the
// cutoff and returns the removed rows
func (r *Repository) DeleteStalePlayers(ctx context.Context, sessionID string, cutoff time.Time) ([]domain.Player, error) {
	query := `DELETE FROM players WHERE session_id = $1 AND last_seen_at < $2 RETURNING ` + playerColumns
	rows, err := r.pool.Query(ctx, query, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting stale players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, nil
}

// GetAllScores returns player scores for a session keyed by player ID
// (used by the scoreboard reconciliation worker)
func (r *Repository) GetAllScores(ctx context.Context, sessionID string) (map[string]int64, error) {
	query := `SELECT id, score FROM players WHERE session_id = $1`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting all scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int64)
	for rows.Next() {
		var playerID string
		var score int64
		if err := rows.Scan(&playerID, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[playerID] = score
	}
	return scores, nil
}

// --- Answers ---

// InsertAnswer appends an answer row. The unique constraint on
// (session_id, player_id, question_index) is the store-side backstop for
// the client-side submission gating; a violation maps to
// ErrAlreadySubmitted.
func (r *Repository) InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error) {
	query := `
		INSERT INTO answers (session_id, player_id, question_index,
			chosen_option_index, is_correct, response_time_ms, points_earned, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	a.AnsweredAt = time.Now()
	err := r.pool.QueryRow(ctx, query,
		a.SessionID,
		a.PlayerID,
		a.QuestionIndex,
		a.ChosenOptionIndex,
		a.IsCorrect,
		a.ResponseTimeMs,
		a.PointsEarned,
		a.AnsweredAt,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("inserting answer: %w", err)
	}
	return &a, nil
}

// ListAnswers returns all answers for a question ordered by response
// time ascending, joined with the answering player's name
func (r *Repository) ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.PlayerAnswer, error) {
	query := `
		SELECT a.id, a.session_id, a.player_id, a.question_index,
			a.chosen_option_index, a.is_correct, a.response_time_ms,
			a.points_earned, a.answered_at, p.name
		FROM answers a
		JOIN players p ON p.id = a.player_id
		WHERE a.session_id = $1 AND a.question_index = $2
		ORDER BY a.response_time_ms ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID, questionIndex)
	if err != nil {
		return nil, fmt.Errorf("listing answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.PlayerAnswer
	for rows.Next() {
		var a domain.PlayerAnswer
		err := rows.Scan(
			&a.ID,
			&a.SessionID,
			&a.PlayerID,
			&a.QuestionIndex,
			&a.ChosenOptionIndex,
			&a.IsCorrect,
			&a.ResponseTimeMs,
			&a.PointsEarned,
			&a.AnsweredAt,
			&a.PlayerName,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// --- Questions ---

// ReplaceQuestions replaces a session's question bank in one transaction
func (r *Repository) ReplaceQuestions(ctx context.Context, sessionID string, questions []domain.QuestionInput) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clearing questions: %w", err)
	}

	insert := `
		INSERT INTO questions (id, session_id, position, prompt, correct_answer, wrong_answers, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, q := range questions {
		_, err := tx.Exec(ctx, insert,
			uuid.New().String(),
			sessionID,
			i,
			q.Prompt,
			q.CorrectAnswer,
			q.WrongAnswers,
			q.ImageURL,
		)
		if err != nil {
			return fmt.Errorf("inserting question %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing questions: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by its position in the session's bank
func (r *Repository) GetQuestion(ctx context.Context, sessionID string, position int) (*domain.Question, error) {
	query := `
		SELECT id, session_id, position, prompt, correct_answer, wrong_answers, COALESCE(image_url, '')
		FROM questions
		WHERE session_id = $1 AND position = $2
	`
	var q domain.Question
	err := r.pool.QueryRow(ctx, query, sessionID, position).Scan(
		&q.ID,
		&q.SessionID,
		&q.Position,
		&q.Prompt,
		&q.CorrectAnswer,
		&q.WrongAnswers,
		&q.ImageURL,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("getting question: %w", err)
	}
	return &q, nil
}

// CountQuestions returns the size of a session's question bank
func (r *Repository) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM questions WHERE session_id = $1`
	var count int
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	return count, nil
}
