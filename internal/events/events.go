// Package events publishes consultation lifecycle events to NATS.
//
// Events are published to subjects:
//   - <prefix>.<session_id>.started
//   - <prefix>.<session_id>.stage
//   - <prefix>.<session_id>.referred
//   - <prefix>.<session_id>.finalized
//   - <prefix>.<session_id>.expired
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindStage     Kind = "stage"
	KindReferred  Kind = "referred"
	KindFinalized Kind = "finalized"
	KindExpired   Kind = "expired"
)

// Event is the JSON payload of every message. No patient data is carried.
type Event struct {
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"event"`
	State      string    `json:"state"`
	Categories []string  `json:"categories,omitempty"`
	Confidence *int      `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSPublisher publishes on nc under prefix. The caller keeps
// ownership of nc.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "consultations"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// New connects to the configured server, or returns Nop when events are
// disabled.
func New(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("consultd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	p := NewNATSPublisher(nc, cfg.SubjectPrefix)
	p.owned = true
	return p, nil
}

// Subject returns the subject an event is published to.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, e.SessionID, e.Kind)
}

// Publish marshals and sends e.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SessionID == "" || e.Kind == "" {
		return errors.New("event requires session id and kind")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	return nil
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
