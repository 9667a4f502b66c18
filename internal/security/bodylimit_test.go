package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func echoBody(t *testing.T, seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		*seen = string(data)
		require.Equal(t, int64(len(data)), r.ContentLength)
		w.WriteHeader(http.StatusCreated)
	})
}

func requireTooLarge(t *testing.T, rr *httptest.ResponseRecorder, limit int64) {
	t.Helper()
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "PAYLOAD_TOO_LARGE", body.Error.Code)
	require.Equal(t, "request entity too large", body.Error.Message)
	require.EqualValues(t, limit, body.Error.Details["max_bytes"])
}

func TestBodyLimitPassesCartPayloadWithinLimit(t *testing.T) {
	payload := `{"trip_id":11,"adults":2}`
	var seen string
	handler := BodyLimit{Max: 64}.Middleware(echoBody(t, &seen))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/entries", strings.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, payload, seen)
}

func TestBodyLimitAcceptsBodyExactlyAtLimit(t *testing.T) {
	payload := `{"name":"Ada"}`
	var seen string
	handler := BodyLimit{Max: int64(len(payload))}.Middleware(echoBody(t, &seen))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/v1/cart/contact", strings.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, payload, seen)
}

func TestBodyLimitRejectsStreamedBodyOverLimit(t *testing.T) {
	called := false
	handler := BodyLimit{Max: 8}.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"name":"Ada Lovelace"}`))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.False(t, called)
	requireTooLarge(t, rr, 8)
}

func TestBodyLimitRejectsDeclaredContentLength(t *testing.T) {
	called := false
	handler := BodyLimit{Max: 5}.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader("{}"))
	req.ContentLength = 100
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.False(t, called)
	requireTooLarge(t, rr, 5)
}

func TestBodyLimitSkipsEmptyBodies(t *testing.T) {
	for name, limit := range map[string]int64{"limited": 1, "disabled": 0} {
		t.Run(name, func(t *testing.T) {
			var seen string
			handler := BodyLimit{Max: limit}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.NoBody, r.Body)
				data, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				seen = string(data)
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil)
			req.Body = http.NoBody
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, http.StatusNoContent, rr.Code)
			require.Empty(t, seen)
		})
	}
}
