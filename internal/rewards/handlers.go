package rewards

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/trip-rewards/internal/common"
	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// AdminTokenHeader carries the shared secret for catalog maintenance calls.
const AdminTokenHeader = "X-Admin-Token"

// Handler exposes the reward phase catalog over HTTP.
type Handler struct {
	Catalog     *Catalog
	Invalidator Invalidator
	AdminToken  string
}

type phaseView struct {
	Phase
	ThresholdCents   pricing.Money `json:"threshold_cents"`
	ThresholdDisplay string        `json:"threshold_display"`
}

// List returns the active reward phases in display order.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reward catalog not configured", nil)
		return
	}
	phases, err := h.Catalog.Phases(r.Context(), true)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load reward phases", nil)
		return
	}
	views := make([]phaseView, 0, len(phases))
	for _, p := range phases {
		cents := p.ThresholdCents()
		views = append(views, phaseView{Phase: p, ThresholdCents: cents, ThresholdDisplay: pricing.FormatCents(cents)})
	}
	common.Data(w, http.StatusOK, views)
}

// Invalidate clears the catalog cache on every replica. Callers authenticate
// with the shared admin token.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
	if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
		return
	}
	if err := h.Invalidator.Invalidate(r.Context()); err != nil {
		common.JSONError(w, http.StatusBadGateway, "INVALIDATION_FAILED", "local cache cleared, broadcast failed", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
