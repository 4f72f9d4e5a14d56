// Package events publishes domain events to NATS. Publishing is best
// effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirbyniko/research-platform-sub006/internal/util"
)

type Type string

const (
	RecordReviewed    Type = "record.reviewed"
	RecordVerified    Type = "record.verified"
	RecordUnpublished Type = "record.unpublished"
	RecordRejected    Type = "record.rejected"
	RecordReopened    Type = "record.reopened"
	ChangeApproved    Type = "change.approved"
	CreditsApplied    Type = "credits.applied"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	ProjectID  int64          `json:"projectId"`
	RecordID   int64          `json:"recordId,omitempty"`
	ActorID    int64          `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close()
}

type publishConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type NATSPublisher struct {
	conn   publishConn
	prefix string
	now    func() time.Time
}

// Connect dials NATS and keeps reconnecting in the background.
func Connect(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("casefile-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newPublisher(conn, subjectPrefix), nil
}

func newPublisher(conn publishConn, subjectPrefix string) *NATSPublisher {
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		prefix = "casefile"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, now: time.Now}
}

// Subject is "<prefix>.<event type>", e.g. casefile.record.verified.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.ID == "" {
		evt.ID = util.NewID("evt")
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt.Type), payload); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes pending messages before closing the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// Noop discards events. It is used when NATS is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}
