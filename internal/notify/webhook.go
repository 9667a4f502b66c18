package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/trip-rewards/internal/resilience"
)

// ErrReplaySuppressed is returned when the same event was already delivered
// within the replay window.
var ErrReplaySuppressed = errors.New("notify: delivery replay suppressed")

// Sender posts signed events to the booking notifier endpoint.
type Sender struct {
	URL       string
	Secret    string
	HTTP      *resilience.HTTPClient
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Now       func() time.Time
}

func (s *Sender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Send delivers body for eventID and returns the response status and body.
// The replay guard is released when delivery fails so a retry can proceed.
func (s *Sender) Send(ctx context.Context, eventID, topic string, body []byte) (int, string, error) {
	if s.HTTP == nil {
		s.HTTP = &resilience.HTTPClient{Client: HttpClient(5000, false), MaxAttempts: 1}
	}
	ctx, span := otel.Tracer("notify.Sender").Start(ctx, "Sender.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", eventID),
		attribute.String("webhook.topic", topic),
	)
	if err := validateURL(s.URL); err != nil {
		span.RecordError(err)
		return 0, "", err
	}

	var claim Claim
	if s.Replay != nil && s.ReplayTTL > 0 {
		var (
			ok  bool
			err error
		)
		claim, ok, err = s.Replay.Acquire(ctx, replayKey(topic, eventID), s.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, "", err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, "", ErrReplaySuppressed
		}
	}

	status, respBody, err := s.post(ctx, eventID, topic, body)
	if err != nil || status >= 300 {
		if claim != nil {
			_ = claim.Release(context.WithoutCancel(ctx))
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status, respBody, err
}

func (s *Sender) post(ctx context.Context, eventID, topic string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trip-rewards-notifier/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(s.Secret, ts, eventID, body))

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(responseBody), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the shared secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for webhook delivery.
func HttpClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

func replayKey(topic, eventID string) string {
	return fmt.Sprintf("wh:%s:%s", topic, eventID)
}
