package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TaskField holds the JSON task payload of a stream entry.
	TaskField = "task"
	// EnqueuedAtField holds the RFC3339 enqueue time of a stream entry.
	EnqueuedAtField = "enqueued_at"
)

var errMissingPayload = errors.New("stream entry has no task payload")

// Delivery is one message handed to a Handler.
type Delivery struct {
	ID         string
	Queue      string
	Payload    []byte
	EnqueuedAt time.Time
	// Redelivered is set for entries this consumer or a dead one had
	// already received before.
	Redelivered bool
}

// Outcome is the handler's verdict on a delivery. A nil Err acknowledges
// the message; any Err discards it. A positive PauseFor suspends
// consumption for that long after the message is settled.
type Outcome struct {
	Err      error
	PauseFor time.Duration
}

// Handler processes one delivery.
type Handler func(ctx context.Context, d Delivery) Outcome

func parseDelivery(queue string, msg redis.XMessage, redelivered bool) (Delivery, error) {
	d := Delivery{ID: msg.ID, Queue: queue, Redelivered: redelivered}

	payload, ok := msg.Values[TaskField].(string)
	if !ok || payload == "" {
		return d, errMissingPayload
	}
	d.Payload = []byte(payload)

	if enqueued, hasEnqueued := msg.Values[EnqueuedAtField].(string); hasEnqueued {
		if t, err := time.Parse(time.RFC3339Nano, enqueued); err == nil {
			d.EnqueuedAt = t
		}
	}
	return d, nil
}
