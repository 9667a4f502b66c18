package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/notify"
	"github.com/noah-isme/trip-rewards/internal/resilience"
)

func sender(t *testing.T, url string, replay notify.ReplayProtector) *notify.Sender {
	t.Helper()
	return &notify.Sender{
		URL:       url,
		Secret:    "s3cret",
		HTTP:      &resilience.HTTPClient{Client: http.DefaultClient, MaxAttempts: 1},
		Replay:    replay,
		ReplayTTL: time.Minute,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func redisReplay(t *testing.T) notify.RedisReplayProtector {
	t.Helper()
	replay, _ := redisReplayWithServer(t)
	return replay
}

func redisReplayWithServer(t *testing.T) (notify.RedisReplayProtector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return notify.RedisReplayProtector{Client: client, Prefix: "test:"}, mr
}

func TestReplayClaimReleasesOnlyItsOwnKey(t *testing.T) {
	replay, mr := redisReplayWithServer(t)
	ctx := context.Background()

	first, ok, err := replay.Acquire(ctx, "wh:booking:SKY1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = replay.Acquire(ctx, "wh:booking:SKY1", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Second)
	second, ok, err := replay.Acquire(ctx, "wh:booking:SKY1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx))
	require.True(t, mr.Exists("test:wh:booking:SKY1"))

	require.NoError(t, second.Release(ctx))
	require.False(t, mr.Exists("test:wh:booking:SKY1"))
}

func TestReplayWithoutRedisAlwaysClaims(t *testing.T) {
	claim, ok, err := notify.RedisReplayProtector{}.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, claim.Release(context.Background()))
}

func TestSendSignsPayload(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	payload := []byte(`{"group_reference":"SKY260101-000001"}`)
	status, resp, err := sender(t, srv.URL, nil).Send(context.Background(), "SKY260101-000001", notify.TypeBookingConfirmed, payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "ok", resp)
	require.Equal(t, payload, body)

	ts := strconv.FormatInt(1700000000, 10)
	require.Equal(t, ts, got.Get("X-Timestamp"))
	require.Equal(t, "SKY260101-000001", got.Get("X-Event-ID"))
	require.Equal(t, notify.TypeBookingConfirmed, got.Get("X-Event-Topic"))
	require.Equal(t, notify.ComputeSignature("s3cret", 1700000000, "SKY260101-000001", payload), got.Get("X-Signature"))
}

func TestSendRejectsPlainHTTPForRemoteHosts(t *testing.T) {
	_, _, err := sender(t, "http://notifier.example.com/hook", nil).Send(context.Background(), "e", "t", nil)
	require.Error(t, err)
}

func TestSendSuppressesReplays(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := sender(t, srv.URL, redisReplay(t))
	_, _, err := s.Send(context.Background(), "evt-1", "topic", []byte("{}"))
	require.NoError(t, err)
	_, _, err = s.Send(context.Background(), "evt-1", "topic", []byte("{}"))
	require.ErrorIs(t, err, notify.ErrReplaySuppressed)
	require.Equal(t, int32(1), calls.Load())
}

func TestSendReleasesReplayKeyOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := sender(t, srv.URL, redisReplay(t))
	status, _, err := s.Send(context.Background(), "evt-2", "topic", []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, status)

	status, _, err = s.Send(context.Background(), "evt-2", "topic", []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
}

func confirmationTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := notify.NewBookingConfirmedTask(notify.BookingConfirmed{
		GroupReference: "SKY260101-000001",
		FullName:       "Ada",
		Email:          "ada@example.com",
		Currency:       "USD",
		GrandTotal:     "400.00",
		DiscountTotal:  "100.00",
		Bookings:       []notify.BookingLine{{Reference: "SKY260101-000001", TripID: 11, GrandTotal: "400.00"}},
	}, "", 0)
	require.NoError(t, err)
	return task
}

func TestNewBookingConfirmedTaskRequiresReference(t *testing.T) {
	_, err := notify.NewBookingConfirmedTask(notify.BookingConfirmed{}, "", 0)
	require.Error(t, err)

	task := confirmationTask(t)
	require.Equal(t, notify.TypeBookingConfirmed, task.Type())
	var p notify.BookingConfirmed
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	require.Equal(t, "SKY260101-000001", p.GroupReference)
	require.Len(t, p.Bookings, 1)
}

func TestHandlerOutcomes(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	h := &notify.Handler{Sender: sender(t, srv.URL, nil)}
	ctx := context.Background()

	require.NoError(t, h.ProcessBookingConfirmed(ctx, confirmationTask(t)))

	status = http.StatusUnprocessableEntity
	err := h.ProcessBookingConfirmed(ctx, confirmationTask(t))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))

	status = http.StatusServiceUnavailable
	err = h.ProcessBookingConfirmed(ctx, confirmationTask(t))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlerSkipsBadPayloadAndMissingEndpoint(t *testing.T) {
	h := &notify.Handler{Sender: &notify.Sender{}}
	require.NoError(t, h.ProcessBookingConfirmed(context.Background(), confirmationTask(t)))

	h = &notify.Handler{Sender: sender(t, "https://notifier.example.com", nil)}
	err := h.ProcessBookingConfirmed(context.Background(), asynq.NewTask(notify.TypeBookingConfirmed, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlerTreatsReplayAsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	h := &notify.Handler{Sender: sender(t, srv.URL, redisReplay(t))}
	require.NoError(t, h.ProcessBookingConfirmed(context.Background(), confirmationTask(t)))
	require.NoError(t, h.ProcessBookingConfirmed(context.Background(), confirmationTask(t)))
}

func TestEnqueuerWithoutClientIsNoop(t *testing.T) {
	require.NoError(t, notify.Enqueuer{}.BookingConfirmed(context.Background(), notify.BookingConfirmed{}))
}
