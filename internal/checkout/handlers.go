package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/trip-rewards/internal/cart"
	"github.com/noah-isme/trip-rewards/internal/common"
	"github.com/noah-isme/trip-rewards/internal/rewards"
	"github.com/noah-isme/trip-rewards/internal/session"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc  *Service
	Idem *common.Idem
}

// Routes mounts the checkout endpoints. Idempotency-Key is honoured on POST.
func (h *Handler) Routes(r chi.Router) {
	if h.Idem != nil {
		r.With(h.Idem.Middleware).Post("/checkout", h.Checkout)
	} else {
		r.Post("/checkout", h.Checkout)
	}
	r.Get("/bookings/confirmation", h.Confirmation)
}

// Checkout books the session cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sid := session.FromContext(r.Context())
	if sid == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart session missing", nil)
		return
	}
	var payload Input
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, nil, &payload); err != nil {
			h.writeError(w, err)
			return
		}
	}
	out, err := h.Svc.Finalize(r.Context(), sid, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

// Confirmation shows the bookings behind a confirmation token.
func (h *Handler) Confirmation(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	out, err := h.Svc.Confirmation(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	var compErr *rewards.ComputationError
	switch {
	case errors.Is(err, ErrBookingNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "booking not found", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, ErrInvalidContact):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "name, email and phone are required", nil)
	case errors.Is(err, ErrInvalidBooking):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_BOOKING", err.Error(), nil)
	case errors.As(err, &compErr):
		common.JSONError(w, http.StatusUnprocessableEntity, "REWARD_NOT_APPLICABLE", compErr.Error(), map[string]any{"reason": compErr.Reason})
	case errors.Is(err, cart.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to complete checkout", nil)
	}
}
