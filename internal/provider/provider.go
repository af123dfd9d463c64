// Package provider defines the outbound SMS gateway contract consumed by
// the send and delivery-status workers. The wire format belongs to the
// concrete client; the dispatch core only sees provider message IDs and
// delivery states.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// DeliveryState is the provider-reported fate of a submitted message.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
	StateUnknown   DeliveryState = "unknown"
)

// Client is the SMS gateway.
type Client interface {
	// Send submits one message and returns the provider message ID.
	Send(ctx context.Context, to, text string) (string, error)
	// PollStatus fetches the delivery state for a previously sent message.
	PollStatus(ctx context.Context, providerMessageID string) (DeliveryState, error)
}

// Error is a send failure with enough shape to pick retry behavior:
// network errors, 5xx and 429 are transient, other 4xx are permanent.
type Error struct {
	Status    int
	Transient bool
	Msg       string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: %s (status %d)", e.Msg, e.Status)
	}
	return "provider: " + e.Msg
}

// IsTransient reports whether a send failure should be retried by the
// queue. Errors without provider shape (timeouts, broken connections)
// count as transient.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}
