// Package notify delivers booking notifications to the external notifier.
// Checkout enqueues an asynq task after commit; the worker process turns each
// task into a signed webhook call.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// TypeBookingConfirmed is the asynq task type for completed checkouts.
const TypeBookingConfirmed = "booking:confirmed"

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "notifications"

// BookingLine is one booking in a confirmation.
type BookingLine struct {
	Reference  string `json:"reference"`
	TripID     int64  `json:"trip_id"`
	TripTitle  string `json:"trip_title"`
	TravelDate string `json:"travel_date"`
	Travelers  int    `json:"travelers"`
	GrandTotal string `json:"grand_total"`
	Discount   string `json:"discount,omitempty"`
}

// BookingConfirmed is the payload sent for a completed checkout.
type BookingConfirmed struct {
	GroupReference string        `json:"group_reference"`
	FullName       string        `json:"full_name"`
	Email          string        `json:"email"`
	Phone          string        `json:"phone,omitempty"`
	Currency       string        `json:"currency"`
	GrandTotal     string        `json:"grand_total"`
	DiscountTotal  string        `json:"discount_total"`
	Bookings       []BookingLine `json:"bookings"`
	ConfirmedAt    time.Time     `json:"confirmed_at"`
}

// NewBookingConfirmedTask encodes a confirmation as an asynq task. The group
// reference doubles as the task id so a checkout is announced at most once.
func NewBookingConfirmedTask(p BookingConfirmed, queue string, maxRetry int) (*asynq.Task, error) {
	if strings.TrimSpace(p.GroupReference) == "" {
		return nil, errors.New("notify: group reference is required")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode booking confirmation: %w", err)
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if maxRetry <= 0 {
		maxRetry = 6
	}
	return asynq.NewTask(TypeBookingConfirmed, body,
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(TypeBookingConfirmed+":"+p.GroupReference),
		asynq.Timeout(30*time.Second),
	), nil
}

// Enqueuer publishes notification tasks.
type Enqueuer struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

// BookingConfirmed enqueues the confirmation. A task already queued for the
// same group reference is not an error.
func (e Enqueuer) BookingConfirmed(ctx context.Context, p BookingConfirmed) error {
	if e.Client == nil {
		return nil
	}
	task, err := NewBookingConfirmedTask(p, e.Queue, e.MaxRetry)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue booking confirmation: %w", err)
	}
	return nil
}
