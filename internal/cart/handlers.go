package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/trip-rewards/internal/common"
	"github.com/noah-isme/trip-rewards/internal/rewards"
	"github.com/noah-isme/trip-rewards/internal/session"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	// RewardGuard, when set, wraps reward selection (rate limiting).
	RewardGuard func(http.Handler) http.Handler
}

type rewardPayload struct {
	PhaseID int64 `json:"phase_id" validate:"required,gt=0"`
	TripID  int64 `json:"trip_id" validate:"required,gt=0"`
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Summary)
	r.Delete("/", h.Clear)
	r.Post("/entries", h.AddTrip)
	r.Delete("/entries/{entryID}", h.RemoveEntry)
	if h.RewardGuard != nil {
		r.With(h.RewardGuard).Post("/entries/{entryID}/reward", h.ApplyReward)
	} else {
		r.Post("/entries/{entryID}/reward", h.ApplyReward)
	}
	r.Delete("/entries/{entryID}/reward", h.RemoveReward)
	r.Delete("/trips/{tripID}", h.RemoveTrip)
	r.Get("/contact", h.GetContact)
	r.Put("/contact", h.UpdateContact)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return "", false
	}
	id := session.FromContext(r.Context())
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart session missing", nil)
		return "", false
	}
	return id, true
}

// Summary returns the priced cart with its reward state.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	summary, err := h.Svc.Summarize(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Clear(r.Context(), sid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTrip prices and stores a trip booking line.
func (h *Handler) AddTrip(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var in EntryInput
	if err := common.DecodeJSON(r, h.Validate, &in); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.Svc.AddTrip(r.Context(), sid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, map[string]any{"entry_id": EntryID(entry)})
}

// RemoveEntry drops one cart line.
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.RemoveEntry(r.Context(), sid, chi.URLParam(r, "entryID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveTrip drops every line for a trip.
func (h *Handler) RemoveTrip(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	tripID, err := strconv.ParseInt(chi.URLParam(r, "tripID"), 10, 64)
	if err != nil || tripID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid trip id", nil)
		return
	}
	removed, err := h.Svc.RemoveTripEntries(r.Context(), sid, tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"removed": removed})
}

// ApplyReward validates a reward against the current cart and stores it.
func (h *Handler) ApplyReward(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var payload rewardPayload
	if err := common.DecodeJSON(r, h.Validate, &payload); err != nil {
		writeError(w, err)
		return
	}
	entryID := chi.URLParam(r, "entryID")
	calc, err := h.Svc.ValidateRewardSelection(r.Context(), sid, entryID, payload.PhaseID, payload.TripID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Svc.ApplyRewardSelection(r.Context(), sid, entryID, payload.PhaseID, payload.TripID); err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, calc)
}

// RemoveReward clears the reward selection of an entry.
func (h *Handler) RemoveReward(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.RemoveRewardSelection(r.Context(), sid, chi.URLParam(r, "entryID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetContact returns the stored contact.
func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	contact, err := h.Svc.GetContact(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, contact)
}

// UpdateContact applies a partial contact update.
func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var in ContactInput
	if err := common.DecodeJSON(r, h.Validate, &in); err != nil {
		writeError(w, err)
		return
	}
	contact, err := h.Svc.UpdateContact(r.Context(), sid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, contact)
}

func writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, rewards.ErrComputation):
		common.JSONError(w, http.StatusUnprocessableEntity, "REWARD_NOT_APPLICABLE", err.Error(),
			map[string]any{"reason": rewards.ReasonOf(err)})
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart", nil)
	}
}
