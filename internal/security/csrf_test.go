package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func csrfHandler() http.Handler {
	return CSRF{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
}

func TestCSRFBlocksMissingToken(t *testing.T) {
	rr := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/entries", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "CSRF_FAILED")
}

func TestCSRFAllowsMatchingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/entries", nil)
	req.Header.Set("X-CSRF-Token", "secure-token")
	req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "secure-token"})
	rr := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestCSRFRejectsMismatchedToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil)
	req.Header.Set("X-CSRF-Token", "a")
	req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "b"})
	rr := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCSRFSkipsHeaderSessions(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req.Header.Set("X-Cart-Session", "abc")
	rr := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestCSRFSkipsSafeMethods(t *testing.T) {
	rr := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
}
