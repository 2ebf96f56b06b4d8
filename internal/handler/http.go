package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/service"
	"github.com/prisoners-dilemma/internal/websocket"
)

// PlayerHeader carries the identity of the caller submitting a move
const PlayerHeader = "X-Player-Name"

// Handler provides HTTP handlers for the match API
type Handler struct {
	service *service.MatchService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.MatchService, hub *websocket.Hub, logger *slog.Logger) *Handler {
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
	Code    domain.Kind `json:"code,omitempty"`
}

type submitMoveBody struct {
	PlayerName string `json:"player_name"`
	Move       *bool  `json:"move"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{name}", h.GetUser)
			r.Get("/{name}/matches", h.ListActiveMatches)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)
			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Post("/games", h.CreateGame)
				r.Post("/cancel", h.CancelMatch)
				r.Get("/history", h.GetMatchHistory)
			})
		})

		r.Route("/games/{gameID}", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Post("/moves", h.SubmitMove)
		})

		r.Route("/rankings", func(r chi.Router) {
			r.Get("/", h.ListRankings)
			r.Get("/top", h.GetTop)
			r.Get("/{name}", h.GetPlayerRank)
		})

		r.Post("/admin/reminders", h.SendReminders)

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, "+PlayerHeader)

		if r.Method == http.MethodOptions {
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
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err to a status code. Only the domain message reaches the
// client; unclassified errors are logged and reported as internal.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindInternal
	message := domain.ErrInternalError.Message
	var de *domain.Error
	if errors.As(err, &de) {
		kind = de.Kind
		message = de.Message
	}

	if kind == domain.KindInternal || kind == domain.KindStorageUnavailable {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}

	h.writeJSON(w, statusFor(kind), APIResponse{
		Success: false,
		Error:   message,
		Code:    kind,
	})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if matchID := r.URL.Query().Get("match_id"); matchID != "" {
		stats["match_subscribers"] = h.hub.GetSubscriberCount(matchID)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateUser registers a user
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.service.CreateUser(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, user)
}

// GetUser returns a user by name
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, user)
}

// ListActiveMatches returns the active matches of a user
func (h *Handler) ListActiveMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.service.ListActiveMatches(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, matches)
}

// CreateMatch opens a match between two users
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMatchRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	match, err := h.service.CreateMatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, match)
}

// GetMatch returns a match by ID
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	match, err := h.service.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, match)
}

// CreateGame adds a game to a match
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.service.CreateGame(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, game.Sealed())
}

// CancelMatch abandons a match
func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	match, err := h.service.CancelMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, match)
}

// GetMatchHistory returns a match with its games
func (h *Handler) GetMatchHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.MatchHistory(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, history)
}

// GetGame returns a game with its players
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, view)
}

// SubmitMove records a move. The player header names the caller; when the
// body leaves out player_name the caller moves for themselves.
func (h *Handler) SubmitMove(w http.ResponseWriter, r *http.Request) {
	var body submitMoveBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	caller := r.Header.Get(PlayerHeader)
	if body.PlayerName == "" {
		body.PlayerName = caller
	}

	outcome, err := h.service.SubmitMove(r.Context(), domain.SubmitMoveRequest{
		GameID:     chi.URLParam(r, "gameID"),
		PlayerName: body.PlayerName,
		Move:       body.Move,
		Caller:     caller,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, outcome)
}

// ListRankings returns the full ranking table
func (h *Handler) ListRankings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListRankings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetTop returns the best users
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			h.writeError(w, r, domain.ErrInvalidRequest)
			return
		}
		limit = l
	}

	entries, err := h.service.TopRankings(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerRank returns a user's rank and score
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.PlayerRank(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, entry)
}

// SendReminders runs one reminder cycle
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SendReminders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, report)
}
