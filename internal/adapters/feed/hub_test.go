package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callbot/internal/app"
	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestPublish_FansOutEvents(t *testing.T) {
	h := NewHub(Config{}, nil, nil)
	a, b := &fakeConn{}, &fakeConn{}
	h.Add(a)
	h.Add(b)

	h.Publish(domain.SessionEvent{RoomID: "!a:x", From: domain.StateIdle, To: domain.StateResolving})

	for _, c := range []*fakeConn{a, b} {
		require.Len(t, c.frames, 1)
		var m Message
		require.NoError(t, json.Unmarshal(c.frames[0], &m))
		assert.Equal(t, "session", m.Type)
		require.NotNil(t, m.Event)
		assert.Equal(t, domain.StateResolving, m.Event.To)
	}
}

func TestPublish_KicksSlowSubscriber(t *testing.T) {
	h := NewHub(Config{}, app.SimplePolicy{MaxDropped: 2}, nil)
	slow, fast := &fakeConn{full: true}, &fakeConn{}
	h.Add(slow)
	h.Add(fast)

	ev := domain.SessionEvent{RoomID: "!a:x", From: domain.StateIdle, To: domain.StateResolving}
	h.Publish(ev)
	assert.Equal(t, 2, h.Len())
	assert.False(t, slow.isClosed())

	h.Publish(ev)
	assert.Equal(t, 1, h.Len())
	assert.True(t, slow.isClosed())
	assert.Len(t, fast.frames, 2)
}

func TestPublish_DropsClosedSubscriber(t *testing.T) {
	h := NewHub(Config{}, nil, nil)
	c := &fakeConn{closed: true}
	h.Add(c)
	h.Publish(domain.SessionEvent{RoomID: "!a:x"})
	assert.Zero(t, h.Len())
}

func TestServe_StreamsSnapshotAndEvents(t *testing.T) {
	snapshot := []domain.VoiceSession{{RoomID: "!a:x", State: domain.StateConnected, Connected: true}}
	h := NewHub(Config{PingPeriod: time.Second}, nil, func() []domain.VoiceSession { return snapshot })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(ctx, w, r)
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var m Message
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "sessions", m.Type)
	assert.Equal(t, snapshot, m.Sessions)

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(domain.SessionEvent{RoomID: "!a:x", From: domain.StateConnected, To: domain.StateDisconnecting})
	m = Message{}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "session", m.Type)
	assert.Equal(t, domain.StateDisconnecting, m.Event.To)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	m = Message{}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "pong", m.Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
	m = Message{}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "error", m.Type)

	ws.Close()
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}
