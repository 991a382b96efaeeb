package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/model"
)

type fakeConn struct {
	err      error
	subjects []string
	payloads [][]byte
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestNATSPublisher_Publish(t *testing.T) {
	fc := &fakeConn{}
	pub := newNATSPublisher(fc, "", slog.Default())

	event := New(model.EventPayoutReleased, "round-1", map[string]any{"amount": 1500000})
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, fc.subjects, 1)
	assert.Equal(t, "pardna.payout.released", fc.subjects[0])

	var decoded model.Event
	require.NoError(t, json.Unmarshal(fc.payloads[0], &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, model.EventPayoutReleased, decoded.Type)
	assert.Equal(t, "round-1", decoded.AggregateID)
	assert.InDelta(t, 1500000, decoded.Data["amount"], 0)

	pub.Close()
	assert.True(t, fc.closed)
}

func TestNATSPublisher_Errors(t *testing.T) {
	fc := &fakeConn{err: errors.New("connection closed")}
	pub := newNATSPublisher(fc, "ledger", slog.Default())
	assert.Equal(t, "ledger.round.opened", pub.Subject(model.EventRoundOpened))

	err := pub.Publish(context.Background(), New(model.EventRoundOpened, "c1", nil))
	assert.ErrorContains(t, err, "connection closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, New(model.EventRoundOpened, "c1", nil)), context.Canceled)
}

func TestLogPublisher_Publish(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	pub := NewLogPublisher(logger)
	require.NoError(t, pub.Publish(context.Background(), New(model.EventCircleCompleted, "circle-9", nil)))

	assert.Contains(t, buf.String(), "circle.completed")
	assert.Contains(t, buf.String(), "circle-9")
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, New(model.EventRoundOpened, "a", nil)))
	require.NoError(t, r.Publish(ctx, New(model.EventPayoutReleased, "b", nil)))
	require.NoError(t, r.Publish(ctx, New(model.EventRoundOpened, "c", nil)))

	assert.Len(t, r.Events(), 3)
	opened := r.OfType(model.EventRoundOpened)
	require.Len(t, opened, 2)
	assert.Equal(t, "c", opened[1].AggregateID)
}
