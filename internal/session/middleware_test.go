package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareIssuesCookie(t *testing.T) {
	r := NewResolver("", time.Hour)
	var seen string
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = FromContext(req.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	require.NotEmpty(t, seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "trip_cart", cookies[0].Name)
	require.Equal(t, seen, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, 3600, cookies[0].MaxAge)
}

func TestMiddlewareReusesCookie(t *testing.T) {
	r := NewResolver("trip_cart", time.Hour)
	var seen string
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = FromContext(req.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "trip_cart", Value: "6F9619FF-8B86-D011-B42D-00C04FC964FF"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", seen)
	require.Empty(t, rec.Result().Cookies())
}

func TestHeaderOverridesCookie(t *testing.T) {
	r := NewResolver("trip_cart", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "trip_cart", Value: "6f9619ff-8b86-d011-b42d-00c04fc964ff"})
	req.Header.Set(DefaultHeaderName, "0b9c7e5e-3c8e-4a8c-9d8f-8d8c1c2f3a4b")
	require.Equal(t, "0b9c7e5e-3c8e-4a8c-9d8f-8d8c1c2f3a4b", r.Resolve(req))
}

func TestMalformedSessionIsReplaced(t *testing.T) {
	r := NewResolver("trip_cart", 0)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "trip_cart", Value: "not-a-session"})
	require.Empty(t, r.Resolve(req))

	rec := httptest.NewRecorder()
	r.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
	require.Len(t, rec.Result().Cookies(), 1)
}

func TestFingerprintIsStable(t *testing.T) {
	require.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	require.Len(t, Fingerprint("abc"), 8)
	require.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
}
