package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/shaham1/raftregatta/internal/game"
)

const apiKeyHeader = "X-API-Key"

// Handler exposes the game engine over JSON HTTP
type Handler struct {
	service *game.GameService
	logger  *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *game.GameService, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes builds the router. Admin routes assume a trusted caller: credential
// checking for administrators lives in front of this service.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/bid", h.SubmitBid)
	r.Get("/api/bids", h.LiveBids)
	r.Get("/api/history", h.History)
	r.Get("/api/current_round", h.CurrentRound)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/start_round", h.StartRound)
		r.Post("/close_round", h.CloseRound)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

type bidRequest struct {
	APIKey string      `json:"api_key"`
	Amount json.Number `json:"amount"`
	Item   string      `json:"item"`
}

type bidResponse struct {
	BidID string `json:"bid_id"`
}

// SubmitBid handles POST /api/bid
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// An unparseable amount stays zero and fails the positive-amount check,
	// preserving the credential-first validation order.
	amount := decimal.Zero
	if req.Amount != "" {
		if parsed, err := decimal.NewFromString(req.Amount.String()); err == nil {
			amount = parsed
		}
	}

	bid, err := h.service.SubmitBid(r.Context(), game.SubmitBidCommand{
		APIKey:        req.APIKey,
		Amount:        amount,
		PredictedItem: req.Item,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, bidResponse{BidID: bid.ID.String()})
}

type startRoundRequest struct {
	CategoryID *int64 `json:"category_id"`
}

type startRoundResponse struct {
	RoundID        string `json:"round_id"`
	ActiveCategory string `json:"active_category"`
	ActiveImageID  int64  `json:"active_image_id"`
}

// StartRound handles POST /api/admin/start_round
func (h *Handler) StartRound(w http.ResponseWriter, r *http.Request) {
	var req startRoundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.service.StartRound(r.Context(), game.StartRoundCommand{
		CategoryID: req.CategoryID,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, startRoundResponse{
		RoundID:        result.RoundID.String(),
		ActiveCategory: result.ActiveCategory,
		ActiveImageID:  result.ActiveImageID,
	})
}

type winnerJSON struct {
	BidID    string `json:"bid_id"`
	TeamNo   int64  `json:"team_no"`
	TeamName string `json:"team_name"`
	Amount   string `json:"amount"`
}

type closeRoundResponse struct {
	Closed        bool        `json:"closed"`
	ClosedRoundID string      `json:"closed_round_id,omitempty"`
	Winner        *winnerJSON `json:"winner,omitempty"`
}

// CloseRound handles POST /api/admin/close_round
func (h *Handler) CloseRound(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CloseRound(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := closeRoundResponse{Closed: result.Closed}
	if result.Closed {
		resp.ClosedRoundID = result.ClosedRoundID.String()
	}
	if result.Winner != nil {
		resp.Winner = &winnerJSON{
			BidID:    result.Winner.BidID.String(),
			TeamNo:   result.Winner.TeamNo,
			TeamName: result.Winner.TeamName,
			Amount:   result.Winner.Amount.String(),
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type bidJSON struct {
	ID        string `json:"id"`
	RoundID   string `json:"round_id"`
	TeamNo    int64  `json:"team_no"`
	TeamName  string `json:"team_name"`
	Item      string `json:"item"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

func mapBids(bids []*game.Bid) []bidJSON {
	out := make([]bidJSON, len(bids))
	for i, bid := range bids {
		out[i] = bidJSON{
			ID:        bid.ID.String(),
			RoundID:   bid.RoundID.String(),
			TeamNo:    bid.TeamNo,
			TeamName:  bid.TeamName,
			Item:      bid.Item,
			Amount:    bid.Amount.String(),
			CreatedAt: bid.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

// LiveBids handles GET /api/bids: the current round's bids, newest first
func (h *Handler) LiveBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.LiveBids(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapBids(bids))
}

// History handles GET /api/history: bids of closed rounds
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.History(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapBids(bids))
}

type currentRoundJSON struct {
	RoundID   string `json:"round_id"`
	ImageData []byte `json:"image_data"`
	StartTime string `json:"start_time"`
	Status    string `json:"status"`
}

type currentRoundResponse struct {
	ActiveRound *currentRoundJSON `json:"active_round"`
}

// CurrentRound handles GET /api/current_round.
// The payload never includes the category name.
func (h *Handler) CurrentRound(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentRound(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := currentRoundResponse{}
	if view != nil {
		resp.ActiveRound = &currentRoundJSON{
			RoundID:   view.RoundID.String(),
			ImageData: view.ImageData,
			StartTime: view.StartTime.Format(time.RFC3339),
			Status:    string(view.Status),
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, errorResponse{Error: message})
}

// respondServiceError maps engine errors to response codes. User input and
// state-precondition errors carry their message through; anything else is a
// server fault that gets logged and masked.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, game.ErrMissingCredential), errors.Is(err, game.ErrUnknownCredential):
		h.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrInvalidAmount), errors.Is(err, game.ErrMissingPrediction):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrNoActiveRound),
		errors.Is(err, game.ErrDuplicateBid),
		errors.Is(err, game.ErrNoImagesAvailable):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrIncorrectPrediction),
		errors.Is(err, game.ErrBidTooLow):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
