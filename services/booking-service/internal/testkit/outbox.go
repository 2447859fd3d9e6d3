package testkit

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
)

// Outbox records events instead of persisting them.
type Outbox struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (o *Outbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evt)
	return nil
}

func (o *Outbox) Events() []outbox.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outbox.Event(nil), o.events...)
}

// Types lists the event types in insertion order.
func (o *Outbox) Types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.EventType)
	}
	return out
}
