package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/trip-rewards/internal/obs"
)

// Handler consumes booking notification tasks.
type Handler struct {
	Sender *Sender
	Logger *zerolog.Logger
}

// Register mounts the handler's task types on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBookingConfirmed, h.ProcessBookingConfirmed)
}

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// ProcessBookingConfirmed posts the confirmation to the notifier. Malformed
// payloads and 4xx answers are not retried.
func (h *Handler) ProcessBookingConfirmed(ctx context.Context, t *asynq.Task) error {
	var p BookingConfirmed
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode booking confirmation: %v: %w", err, asynq.SkipRetry)
	}
	if h.Sender == nil || h.Sender.URL == "" {
		h.logger().Debug().Str("group_reference", p.GroupReference).Msg("notifier not configured, skipping")
		return nil
	}

	start := time.Now()
	status, _, err := h.Sender.Send(ctx, p.GroupReference, TypeBookingConfirmed, t.Payload())
	switch {
	case errors.Is(err, ErrReplaySuppressed):
		record("suppressed", start)
		return nil
	case err != nil:
		record("failed", start)
		h.logger().Warn().Err(err).Str("group_reference", p.GroupReference).Msg("booking notification failed")
		return err
	case status >= 400 && status < 500:
		record("rejected", start)
		h.logger().Error().Int("status", status).Str("group_reference", p.GroupReference).Msg("booking notification rejected")
		return fmt.Errorf("notifier rejected delivery with status %d: %w", status, asynq.SkipRetry)
	case status >= 300:
		record("failed", start)
		return fmt.Errorf("notifier answered status %d", status)
	}
	record("delivered", start)
	return nil
}

func record(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
