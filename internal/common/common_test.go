package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/common"
)

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	err := common.NewAppError("", "bad trip", 0, errors.New("boom"))
	require.True(t, common.WriteAppError(rr, err))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "BAD_REQUEST", body.Error.Code)
	require.Equal(t, "bad trip", body.Error.Message)

	require.False(t, common.WriteAppError(httptest.NewRecorder(), errors.New("plain")))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage, 203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(req))
}

func TestDecodeJSONReportsFields(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope"}`))
	var dst payload
	err := common.DecodeJSON(req, common.NewValidator(), &dst)

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Equal(t, map[string]any{"fields": map[string]string{"email": "email"}}, appErr.Details)
}

func newIdem(t *testing.T, scope string) (common.Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute, Scope: func(*http.Request) string { return scope }}, mr
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, _ := newIdem(t, "session-a")
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set(common.IdempotencyHeader, "k-1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusCreated, send())
	require.Equal(t, http.StatusConflict, send())
	require.Equal(t, 1, calls)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem, mr := newIdem(t, "session-b")
	status := http.StatusServiceUnavailable
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req.Header.Set(common.IdempotencyHeader, "k-2")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Empty(t, mr.Keys())

	status = http.StatusCreated
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, mr.Keys(), 1)
}

func TestIdemScopesKeys(t *testing.T) {
	idem, mr := newIdem(t, "")
	scope := "one"
	idem.Scope = func(*http.Request) string { return scope }
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for _, s := range []string{"one", "two"} {
		scope = s
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set(common.IdempotencyHeader, "shared")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	require.Len(t, mr.Keys(), 2)
}
