package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *recordingConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublishFillsEnvelope(t *testing.T) {
	conn := &recordingConn{}
	pub := newPublisher(conn, "cases.")
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	err := pub.Publish(context.Background(), Event{Type: RecordVerified, ProjectID: 1, RecordID: 83, ActorID: 7})
	require.NoError(t, err)
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "cases.record.verified", conn.subjects[0])

	var got Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.True(t, strings.HasPrefix(got.ID, "evt_"))
	assert.Equal(t, fixed, got.OccurredAt)
	assert.Equal(t, int64(83), got.RecordID)

	pub.Close()
	assert.True(t, conn.drained)
}

func TestDefaultSubjectPrefix(t *testing.T) {
	pub := newPublisher(&recordingConn{}, "  ")
	assert.Equal(t, "casefile.credits.applied", pub.Subject(CreditsApplied))
}

func TestPublishErrors(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	pub := newPublisher(conn, "casefile")

	err := pub.Publish(context.Background(), Event{Type: RecordRejected})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish record.rejected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, Event{Type: RecordRejected}), context.Canceled)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: ChangeApproved}))
	p.Close()
}
