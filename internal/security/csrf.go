// Package security carries the HTTP hardening middleware: security headers,
// request body limits and CSRF protection for the cookie-based cart session.
package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/trip-rewards/internal/common"
	"github.com/noah-isme/trip-rewards/internal/session"
)

// CSRF protects the cart cookie using the double-submit technique. Requests
// that carry the cart session in a header never rely on the cookie and pass.
type CSRF struct {
	Header        string
	SessionHeader string
}

// Middleware enforces that unsafe requests include a token header matching the cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	sessionHeader := strings.TrimSpace(c.SessionHeader)
	if sessionHeader == "" {
		sessionHeader = session.DefaultHeaderName
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if strings.TrimSpace(r.Header.Get(sessionHeader)) != "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf token", nil)
			return
		}
		cookie, err := r.Cookie(headerName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf cookie", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "invalid csrf token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
