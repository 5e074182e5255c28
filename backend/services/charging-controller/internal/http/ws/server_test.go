package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/events"
)

type streamFixture struct {
	hub    *events.Hub
	cancel context.CancelFunc
	done   chan struct{}
	conn   *websocket.Conn
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	srv := NewServer(hub, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		srv.Serve(ctx, w, r, "s1", func() *events.Event {
			return &events.Event{Type: events.TypeSnapshot, SessionID: "s1"}
		})
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &streamFixture{hub: hub, cancel: cancel, done: done, conn: conn}
}

func (f *streamFixture) read(t *testing.T) events.Event {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := f.conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var e events.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func (f *streamFixture) readClose(t *testing.T) error {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := f.conn.ReadMessage()
	require.Error(t, err)
	return err
}

func (f *streamFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}

func TestServeWritesInitialThenEvents(t *testing.T) {
	f := newStreamFixture(t)

	first := f.read(t)
	assert.Equal(t, events.TypeSnapshot, first.Type)
	assert.Equal(t, "s1", first.SessionID)

	f.hub.Publish(events.Event{Type: events.TypeNotice, SessionID: "other", Notice: "skip"})
	f.hub.Publish(events.Event{Type: events.TypeNotice, SessionID: "s1", Notice: "hello"})
	e := f.read(t)
	assert.Equal(t, events.TypeNotice, e.Type)
	assert.Equal(t, "hello", e.Notice)
}

func TestServeClosesWhenHubCloses(t *testing.T) {
	f := newStreamFixture(t)
	f.read(t)

	f.hub.Close()
	err := f.readClose(t)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
	f.waitDone(t)
}

func TestServeClosesWhenContextDone(t *testing.T) {
	f := newStreamFixture(t)
	f.read(t)

	f.cancel()
	err := f.readClose(t)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
	f.waitDone(t)
}

func TestServeEndsWhenClientLeaves(t *testing.T) {
	f := newStreamFixture(t)
	f.read(t)

	require.NoError(t, f.conn.Close())
	f.waitDone(t)
}
