// Package events publishes task lifecycle transitions. Subscribers are
// observers only; the store stays the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// Event is one status transition.
type Event struct {
	Kind        task.Kind   `json:"kind"`
	TaskID      string      `json:"task_id"`
	ExecutionID string      `json:"execution_id,omitempty"`
	Status      task.Status `json:"status"`
	Attempt     int         `json:"attempt,omitempty"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}

// Publisher delivers events. Publish failures are reported but callers
// treat them as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event. It is used when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                          { return nil }

type natsConnection interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes each event on "<prefix>.<kind>.<status>".
type NATSPublisher struct {
	conn   natsConnection
	prefix string
}

// NewNATSPublisher connects to url (nats.DefaultURL when empty).
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("opuspipe"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.Kind, ev.Status)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return p.conn.Publish(p.Subject(ev), raw)
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	p.conn.Close()
	return nil
}

// Recorder keeps published events in memory. Tests use it to assert on the
// transitions a component emitted.
type Recorder struct {
	events chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.events <- ev:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
