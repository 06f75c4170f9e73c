package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC)
	msg, err := NewMessage(TypeAttendanceMarked, AttendanceMarked{RecordID: "r1", StudentName: "Ada", Status: "present", MarkedAt: at})
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"attendance.marked"`)

	var back Message
	require.NoError(t, json.Unmarshal(raw, &back))
	var body AttendanceMarked
	require.NoError(t, back.Decode(&body))
	assert.Equal(t, "r1", body.RecordID)
	assert.Equal(t, "present", body.Status)
	assert.True(t, body.MarkedAt.Equal(at))
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	msg, err := NewMessage(TypeAttendanceMarked, map[string]string{"record_id": "r1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Equal(t, TypeAttendanceMarked, got.Type)
		assert.JSONEq(t, `{"record_id":"r1"}`, string(got.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes with the context")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "y"}), context.DeadlineExceeded)
}
