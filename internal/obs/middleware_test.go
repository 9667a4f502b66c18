package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/session"
)

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("trip", []float64{10, 1}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Delete("/api/v1/cart/entries/{entryID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/cart/entries/abc", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodDelete, "/api/v1/cart/entries/{entryID}", "204"))
	require.Equal(t, float64(1), total)
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("trip", nil, registry)
	second := obs.NewHTTPMetrics("trip", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV(" 5, x, -1, 10.5,, 0"))
	require.Nil(t, obs.ParseBucketsCSV(""))
}

func TestRequestLoggerCarriesSessionFingerprint(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	resolver := session.NewResolver("trip_cart", 0)
	sid := "1b4e28ba-2fa1-41d2-883f-0016d3cca427"

	handler := obs.RequestLogger{Logger: logger}.Middleware(resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(session.DefaultHeaderName, sid)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http_request", line["message"])
	require.Equal(t, float64(http.StatusAccepted), line["status"])
	require.Equal(t, "/api/v1/cart", line["route"])
	require.Equal(t, session.Fingerprint(sid), line["cart_session"])
}
