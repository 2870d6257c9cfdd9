package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/game"
	"github.com/user/grimoire/internal/interfaces"
	"github.com/user/grimoire/internal/pipeline"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
)

// Server exposes the game manager to the narrator's UI
type Server struct {
	gm     interfaces.GameManager
	logger *zap.Logger
}

// NewRouter builds the HTTP routes over the game manager
func NewRouter(gm interfaces.GameManager, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{gm: gm, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	router.Get("/state", s.getState)
	router.Post("/players", s.seatPlayers)
	router.Get("/players/{id}/voting", s.getVoting)
	router.Post("/players/reveal", s.revealRoles)

	router.Route("/phase", func(r chi.Router) {
		r.Post("/night", s.startNight)
		r.Post("/day", s.startDay)
	})

	router.Get("/queue", s.getQueue)
	router.Post("/queue/advance", s.advanceQueue)

	router.Post("/commit", s.commit)

	router.Route("/prompt", func(r chi.Router) {
		r.Get("/", s.getPrompt)
		r.Post("/resolve", s.resolvePrompt)
		r.Delete("/", s.cancelPrompt)
	})

	router.Get("/perceive", s.perceive)
	router.Post("/perceive", s.perceiveWithOverrides)
	router.Post("/ambiguous", s.ambiguous)
	router.Post("/overrides", s.applyOverrides)

	return router
}

type outcomeResponse struct {
	transition.Outcome
	State *types.GameState `json:"state,omitempty"`
}

func newOutcomeResponse(outcome transition.Outcome) outcomeResponse {
	response := outcomeResponse{Outcome: outcome}
	if !outcome.Suspended() {
		response.State = outcome.State
	}
	return response
}

type queueResponse struct {
	Round     int              `json:"round"`
	Position  int              `json:"position"`
	Current   *scheduler.Turn  `json:"current,omitempty"`
	Remaining []scheduler.Turn `json:"remaining"`
	Turns     []scheduler.Turn `json:"turns"`
}

type perceiveRequest struct {
	TargetID   string                           `json:"targetId"`
	ObserverID string                           `json:"observerId,omitempty"`
	Context    types.Context                    `json:"context"`
	Overrides  map[string]types.PerceptionPatch `json:"overrides,omitempty"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gm.State())
}

func (s *Server) seatPlayers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seats []types.Seat `json:"seats"`
	}
	if !decode(w, r, &req) {
		return
	}

	players, err := s.gm.SeatPlayers(req.Seats)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, players)
}

func (s *Server) getVoting(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "id")

	canVote, err := s.gm.CanVote(playerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	canNominate, err := s.gm.CanNominate(playerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"canVote":     canVote,
		"canNominate": canNominate,
	})
}

func (s *Server) revealRoles(w http.ResponseWriter, r *http.Request) {
	sent, err := s.gm.SendRoleReveals()
	if err != nil && sent == 0 {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"sent": sent}
	if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) startNight(w http.ResponseWriter, r *http.Request) {
	s.writeOutcome(w, r)(s.gm.StartNight())
}

func (s *Server) startDay(w http.ResponseWriter, r *http.Request) {
	s.writeOutcome(w, r)(s.gm.StartDay())
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	queue := s.gm.NightQueue()
	if queue == nil {
		http.Error(w, "no night in progress", http.StatusNotFound)
		return
	}

	response := queueResponse{
		Round:     queue.Round,
		Position:  queue.Position,
		Remaining: queue.Remaining(),
		Turns:     queue.Turns,
	}
	if current, ok := queue.Current(); ok {
		response.Current = &current
	}
	if response.Remaining == nil {
		response.Remaining = []scheduler.Turn{}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) advanceQueue(w http.ResponseWriter, r *http.Request) {
	next, ok, err := s.gm.NextActor()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"done": !ok}
	if ok {
		response["next"] = next
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var bundle types.Bundle
	if !decode(w, r, &bundle) {
		return
	}
	s.writeOutcome(w, r)(s.gm.Commit(bundle))
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	pending, ok := s.gm.PendingPrompt()
	if !ok {
		s.fail(w, r, game.ErrNoPendingPrompt)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) resolvePrompt(w http.ResponseWriter, r *http.Request) {
	var input effects.UserInput
	if !decode(w, r, &input) {
		return
	}
	s.writeOutcome(w, r)(s.gm.ResolvePrompt(input))
}

func (s *Server) cancelPrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.gm.CancelPrompt(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) perceive(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s.answerPerception(w, r, perceiveRequest{
		TargetID:   query.Get("target"),
		ObserverID: query.Get("observer"),
		Context:    types.Context(query.Get("context")),
	})
}

func (s *Server) perceiveWithOverrides(w http.ResponseWriter, r *http.Request) {
	var req perceiveRequest
	if !decode(w, r, &req) {
		return
	}
	s.answerPerception(w, r, req)
}

func (s *Server) answerPerception(w http.ResponseWriter, r *http.Request, req perceiveRequest) {
	if !validContext(req.Context) {
		http.Error(w, "context must be alignment, team or role", http.StatusBadRequest)
		return
	}
	perception, err := s.gm.Perceive(req.TargetID, req.ObserverID, req.Context, req.Overrides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perception)
}

func (s *Server) ambiguous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerIDs []string      `json:"playerIds"`
		Context   types.Context `json:"context"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !validContext(req.Context) {
		http.Error(w, "context must be alignment, team or role", http.StatusBadRequest)
		return
	}

	players, err := s.gm.AmbiguousPlayers(req.PlayerIDs, req.Context)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if players == nil {
		players = []types.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

func (s *Server) applyOverrides(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Overrides map[string]types.PerceptionPatch `json:"overrides"`
	}
	if !decode(w, r, &req) {
		return
	}

	state, err := s.gm.ApplyPerceptionOverrides(req.Overrides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// writeOutcome answers a commit. A parked commit is 202 Accepted with the
// prompt to show the narrator.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request) func(transition.Outcome, error) {
	return func(outcome transition.Outcome, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		status := http.StatusOK
		if outcome.Suspended() {
			status = http.StatusAccepted
		}
		writeJSON(w, status, newOutcomeResponse(outcome))
	}
}

// fail maps engine errors onto HTTP statuses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownPlayer),
		errors.Is(err, game.ErrNoPendingPrompt):
		return http.StatusNotFound
	case errors.Is(err, game.ErrPromptPending),
		errors.Is(err, game.ErrAlreadySeated),
		errors.Is(err, game.ErrNotSeated),
		errors.Is(err, transition.ErrGameOver),
		errors.Is(err, scheduler.ErrQueueEmpty),
		errors.Is(err, pipeline.ErrStaleContinuation):
		return http.StatusConflict
	case errors.Is(err, game.ErrNotEnoughPlayers),
		errors.Is(err, roles.ErrUnknownRole),
		errors.Is(err, effects.ErrUnknownEffect),
		errors.Is(err, pipeline.ErrUnknownIntentType),
		errors.Is(err, transition.ErrInvalidRemoval),
		errors.Is(err, transition.ErrInvalidPhase):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrNoMessageSender):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validContext(ctx types.Context) bool {
	switch ctx {
	case types.ContextAlignment, types.ContextTeam, types.ContextRole:
		return true
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
