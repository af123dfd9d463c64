package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fake is an in-memory gateway for local development and tests. Every
// send succeeds unless a failure is injected for the destination number.
type Fake struct {
	mu        sync.Mutex
	seq       atomic.Int64
	failures  map[string]error
	delivered map[string]DeliveryState
	Sent      []FakeSend
}

type FakeSend struct {
	To        string
	Text      string
	MessageID string
}

func NewFake() *Fake {
	return &Fake{
		failures:  make(map[string]error),
		delivered: make(map[string]DeliveryState),
	}
}

// FailFor makes sends to the given number return err.
func (f *Fake) FailFor(to string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[to] = err
}

// SetDeliveryState overrides the state PollStatus reports for a message.
func (f *Fake) SetDeliveryState(providerMessageID string, state DeliveryState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[providerMessageID] = state
}

func (f *Fake) Send(ctx context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[to]; err != nil {
		return "", err
	}
	id := fmt.Sprintf("fake-%d", f.seq.Add(1))
	f.Sent = append(f.Sent, FakeSend{To: to, Text: text, MessageID: id})
	f.delivered[id] = StateDelivered
	return id, nil
}

func (f *Fake) PollStatus(ctx context.Context, providerMessageID string) (DeliveryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.delivered[providerMessageID]; ok {
		return state, nil
	}
	return StateUnknown, nil
}

var _ Client = (*Fake)(nil)
