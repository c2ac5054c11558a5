package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/trivia-live/internal/domain"
	"github.com/trivia-live/internal/service"
	"github.com/trivia-live/internal/websocket"
)

// Handler provides HTTP handlers for the game API
type Handler struct {
	service *service.GameService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.GameService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Answer submission (also fed by the Kafka ingestion path)
		r.Post("/answers", h.SubmitAnswer)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)

				// Host operations
				r.Post("/questions", h.LoadQuestions)
				r.Post("/start", h.StartGame)
				r.Post("/advance", h.AdvancePhase)
				r.Post("/restart", h.RestartGame)
				r.Post("/toggle-points", h.TogglePoints)
				r.Delete("/players/stale", h.ClearStalePlayers)

				// Player operations
				r.Post("/join", h.JoinSession)
				r.Get("/players", h.ListPlayers)
				r.Post("/players/{playerID}/heartbeat", h.Heartbeat)

				// Read models
				r.Get("/results/{questionIndex}", h.GetQuestionResults)
				r.Get("/podium", h.GetPodium)

				// State synchronization introspection
				r.Get("/sync", h.GetSyncStatus)
				r.Get("/sync/telemetry", h.GetSyncTelemetry)
				r.Post("/sync/refresh", h.RefreshSync)
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors onto HTTP status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrAlreadySubmitted), errors.Is(err, domain.ErrNameTaken):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrWrongPhase), errors.Is(err, domain.ErrStaleWrite):
		h.writeError(w, http.StatusConflict, err)
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("failed to "+action, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics, with a
// per-session breakdown when session_id is given
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		stats["session_id"] = sessionID
		stats["subscribers"] = h.hub.GetSubscriberCount(sessionID)
		stats["roles"] = h.hub.GetRoleCounts(sessionID)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateSession handles session creation
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create session", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    session,
	})
}

// GetSession returns a session by ID
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get session", err)
		return
	}

	h.writeSuccess(w, session)
}

// LoadQuestions replaces a session's question deck
func (h *Handler) LoadQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var questions []domain.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&questions); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if len(questions) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrNoQuestions)
		return
	}

	if err := h.service.LoadQuestions(r.Context(), sessionID, questions); err != nil {
		h.writeServiceError(w, "load questions", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"status":   "loaded",
		"received": len(questions),
	})
}

// StartGame opens the lobby for a session
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.StartGame(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "start game", err)
		return
	}

	h.writeSuccess(w, session)
}

// AdvancePhase moves a session to its next phase
func (h *Handler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.AdvancePhase(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "advance phase", err)
		return
	}

	h.writeSuccess(w, session)
}

// RestartGame returns a finished session to the lobby
func (h *Handler) RestartGame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.RestartGame(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "restart game", err)
		return
	}

	h.writeSuccess(w, session)
}

// TogglePoints flips point scoring for a session
func (h *Handler) TogglePoints(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.service.TogglePoints(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "toggle points", err)
		return
	}

	h.writeSuccess(w, session)
}

// ClearStalePlayers removes players with expired heartbeats
func (h *Handler) ClearStalePlayers(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	removed, err := h.service.ClearStalePlayers(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "clear stale players", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"status":  "cleared",
		"removed": removed,
	})
}

// JoinSession adds a player to a session's lobby
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.service.JoinSession(r.Context(), sessionID, req.Name)
	if err != nil {
		h.writeServiceError(w, "join session", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    player,
	})
}

// ListPlayers returns all players in a session
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	players, err := h.service.ListPlayers(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "list players", err)
		return
	}

	h.writeSuccess(w, players)
}

// Heartbeat records player liveness
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.Heartbeat(r.Context(), playerID); err != nil {
		h.writeServiceError(w, "record heartbeat", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "ok"})
}

// SubmitAnswer handles answer submission
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var sub domain.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if sub.PlayerID == "" || sub.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	answer, err := h.service.SubmitAnswer(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, "submit answer", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    answer,
	})
}

// GetQuestionResults returns the aggregated results for one question
func (h *Handler) GetQuestionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	questionIndex, err := strconv.Atoi(chi.URLParam(r, "questionIndex"))
	if err != nil || questionIndex < 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	results, err := h.service.GetQuestionResults(r.Context(), sessionID, questionIndex)
	if err != nil {
		h.writeServiceError(w, "get question results", err)
		return
	}

	h.writeSuccess(w, results)
}

// GetPodium returns the final ranked scoreboard
func (h *Handler) GetPodium(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	podium, err := h.service.Podium(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get podium", err)
		return
	}

	h.writeSuccess(w, podium)
}

// GetSyncStatus returns the session reconciler's connection state
func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	status, ok := h.service.SyncStatus(sessionID)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrSessionNotFound)
		return
	}

	h.writeSuccess(w, status)
}

// GetSyncTelemetry returns recent state application samples for a session
func (h *Handler) GetSyncTelemetry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	entries, ok := h.service.SyncTelemetry(sessionID)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrSessionNotFound)
		return
	}

	h.writeSuccess(w, entries)
}

// RefreshSync forces an immediate authoritative re-fetch for a session
func (h *Handler) RefreshSync(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.RefreshSync(r.Context(), sessionID); err != nil {
		h.writeServiceError(w, "refresh sync", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "refreshed"})
}
