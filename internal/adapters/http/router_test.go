package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/callbot/internal/config"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

type fakeSessions struct {
	joined  []domain.RoomID
	left    []domain.RoomID
	played  [][]byte
	joinErr error
	playRes domain.PlayResult
}

func (f *fakeSessions) Join(_ context.Context, id domain.RoomID) (domain.JoinResult, error) {
	if err := id.Validate(); err != nil {
		return domain.JoinResult{Err: err}, err
	}
	f.joined = append(f.joined, id)
	if f.joinErr != nil {
		return domain.JoinResult{Err: f.joinErr}, nil
	}
	return domain.JoinResult{Success: true}, nil
}

func (f *fakeSessions) Leave(_ context.Context, id domain.RoomID) (domain.LeaveResult, error) {
	f.left = append(f.left, id)
	return domain.LeaveResult{Err: domain.ErrNotInCall}, nil
}

func (f *fakeSessions) PlaySound(_ context.Context, id domain.RoomID, sound []byte) (domain.PlayResult, error) {
	if len(sound) == 0 {
		return domain.PlayResult{Err: domain.ErrEmptySound}, nil
	}
	f.played = append(f.played, sound)
	return f.playRes, nil
}

func (f *fakeSessions) Sessions() []domain.VoiceSession {
	return []domain.VoiceSession{{RoomID: "!a:x", State: domain.StateConnected, Connected: true}}
}

func (f *fakeSessions) ListKnownVoiceRooms() []domain.VoiceRoom { return nil }

func (f *fakeSessions) CallInfo(id domain.RoomID) (domain.CallInfo, error) {
	if id != "!a:x" {
		return domain.CallInfo{}, domain.ErrRoomNotFound
	}
	return domain.CallInfo{RoomID: id, FocusCalls: []domain.CallDescriptor{}, Members: []domain.CallMember{}}, nil
}

func (f *fakeSessions) FindSessionForUser(u domain.UserID) (domain.RoomID, error) {
	if u == "@alice:x" {
		return "!a:x", nil
	}
	return "", domain.ErrNotFound
}

func newTestRouter(t *testing.T, rateLimit int) (*gin.Engine, *fakeSessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: secret}
	cfg.API.RateLimit = rateLimit
	cfg.API.RateInterval = time.Minute
	cfg.API.MaxSoundSize = 16

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "callbot_test_total", Help: "test"}))

	s := &fakeSessions{}
	return SetupRouter(ctx, cfg, s, nil, reg), s
}

func do(r *gin.Engine, method, path string, body []byte, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	assert.Equal(t, nethttp.StatusUnauthorized, do(r, "GET", "/api/sessions", nil, false).Code)
	assert.Equal(t, nethttp.StatusOK, do(r, "GET", "/api/sessions", nil, true).Code)
	assert.Equal(t, nethttp.StatusOK, do(r, "GET", "/api/sessions?access_token="+secret, nil, false).Code)
}

func TestListEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	w := do(r, "GET", "/api/sessions", nil, true)
	assert.Contains(t, w.Body.String(), `"state":"Connected"`)

	w = do(r, "GET", "/api/rooms", nil, true)
	assert.JSONEq(t, `{"rooms":[]}`, w.Body.String())
}

func TestCallInfoAndUserLookup(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	w := do(r, "GET", "/api/rooms/!a:x/call", nil, true)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "!a:x", decode(t, w)["room_id"])

	w = do(r, "GET", "/api/rooms/!zz:x/call", nil, true)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
	assert.Equal(t, "RoomNotFound", decode(t, w)["code"])

	w = do(r, "GET", "/api/users/@alice:x/call", nil, true)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "!a:x", decode(t, w)["room_id"])

	w = do(r, "GET", "/api/users/@bob:x/call", nil, true)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decode(t, w)["code"])
}

func TestJoinAndLeave(t *testing.T) {
	r, s := newTestRouter(t, 0)

	w := do(r, "POST", "/api/rooms/!a:x/join", nil, true)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
	assert.Equal(t, []domain.RoomID{"!a:x"}, s.joined)

	w = do(r, "POST", "/api/rooms/nope/join", nil, true)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidArgument", decode(t, w)["code"])

	s.joinErr = domain.NewBrokerError(domain.ReasonTokenRejected, nil)
	w = do(r, "POST", "/api/rooms/!b:x/join", nil, true)
	assert.Equal(t, nethttp.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "BrokerError", body["code"])
	assert.Equal(t, "TokenRejected", body["reason"])

	w = do(r, "DELETE", "/api/rooms/!a:x/session", nil, true)
	assert.Equal(t, nethttp.StatusConflict, w.Code)
	assert.Equal(t, "NotInCall", decode(t, w)["code"])
}

func TestPlay(t *testing.T) {
	r, s := newTestRouter(t, 0)
	s.playRes = domain.PlayResult{Success: true, DurationEstimate: 1500 * time.Millisecond}

	w := do(r, "POST", "/api/rooms/!a:x/play", []byte("OggS-data"), true)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.EqualValues(t, 1500, decode(t, w)["duration_ms"])
	assert.Equal(t, [][]byte{[]byte("OggS-data")}, s.played)

	w = do(r, "POST", "/api/rooms/!a:x/play", nil, true)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "EmptySound", decode(t, w)["code"])

	w = do(r, "POST", "/api/rooms/!a:x/play", []byte(strings.Repeat("x", 17)), true)
	assert.Equal(t, nethttp.StatusRequestEntityTooLarge, w.Code)
	assert.Len(t, s.played, 1)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	r, s := newTestRouter(t, 2)
	assert.Equal(t, nethttp.StatusOK, do(r, "POST", "/api/rooms/!a:x/join", nil, true).Code)
	assert.Equal(t, nethttp.StatusOK, do(r, "POST", "/api/rooms/!a:x/join", nil, true).Code)
	assert.Equal(t, nethttp.StatusTooManyRequests, do(r, "POST", "/api/rooms/!a:x/join", nil, true).Code)
	assert.Len(t, s.joined, 2)

	// reads are not limited
	assert.Equal(t, nethttp.StatusOK, do(r, "GET", "/api/sessions", nil, true).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	w := do(r, "GET", "/metrics", nil, false)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "callbot_test_total")
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Minute)
	rl.Prune()
	assert.Empty(t, rl.history)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, nethttp.StatusGatewayTimeout, StatusOf(domain.CodePlaybackTimeout))
	assert.Equal(t, nethttp.StatusUnprocessableEntity, StatusOf(domain.CodeParseError))
	assert.Equal(t, nethttp.StatusInternalServerError, StatusOf(domain.CodeInternal))
}
