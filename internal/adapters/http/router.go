// Package http is the operator API: a gin router over the session manager,
// the event feed and the metrics registry.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/dkeye/callbot/internal/adapters/feed"
	"github.com/dkeye/callbot/internal/config"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Sessions is the session manager surface the API exposes.
type Sessions interface {
	Join(ctx context.Context, roomID domain.RoomID) (domain.JoinResult, error)
	Leave(ctx context.Context, roomID domain.RoomID) (domain.LeaveResult, error)
	PlaySound(ctx context.Context, roomID domain.RoomID, sound []byte) (domain.PlayResult, error)
	Sessions() []domain.VoiceSession
	ListKnownVoiceRooms() []domain.VoiceRoom
	CallInfo(roomID domain.RoomID) (domain.CallInfo, error)
	FindSessionForUser(user domain.UserID) (domain.RoomID, error)
}

// Result is the body of every mutating call.
type Result struct {
	RoomID     domain.RoomID `json:"room_id"`
	Success    bool          `json:"success"`
	Code       domain.Code   `json:"code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
}

type handlers struct {
	sessions     Sessions
	hub          *feed.Hub
	maxSoundSize int64
}

func SetupRouter(ctx context.Context, cfg *config.Config, sessions Sessions, hub *feed.Hub, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{sessions: sessions, hub: hub, maxSoundSize: cfg.API.MaxSoundSize}
	limiter := NewRateLimiter(cfg.API.RateLimit, cfg.API.RateInterval)
	go pruneLoop(ctx, limiter, cfg.API.RateInterval)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", AuthMiddleware(cfg.Secret))
	api.GET("/sessions", h.listSessions)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id/call", h.callInfo)
	api.GET("/users/:id/call", h.findUser)

	mut := api.Group("", RateLimitMiddleware(limiter))
	mut.POST("/rooms/:id/join", h.join)
	mut.DELETE("/rooms/:id/session", h.leave)
	mut.POST("/rooms/:id/play", h.play)

	if hub != nil {
		api.GET("/ws/events", func(c *gin.Context) {
			log.Info().Str("module", "adapters.http").Str("client", c.ClientIP()).Msg("ws events endpoint hit")
			hub.Serve(ctx, c.Writer, c.Request)
		})
	}

	log.Info().Str("module", "adapters.http").Bool("auth", cfg.Secret != "").Int("rate_limit", cfg.API.RateLimit).Msg("router setup")
	return r
}

// AuthMiddleware requires "Authorization: Bearer <secret>". Websocket
// clients may pass ?access_token= instead. An empty secret disables auth.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			log.Warn().Str("module", "adapters.http").Str("client", c.ClientIP()).Str("path", c.FullPath()).Msg("rate limited")
			c.AbortWithStatusJSON(nethttp.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

func pruneLoop(ctx context.Context, rl *RateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Prune()
		}
	}
}

func (h *handlers) listSessions(c *gin.Context) {
	sessions := h.sessions.Sessions()
	if sessions == nil {
		sessions = []domain.VoiceSession{}
	}
	c.JSON(nethttp.StatusOK, gin.H{"sessions": sessions})
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms := h.sessions.ListKnownVoiceRooms()
	if rooms == nil {
		rooms = []domain.VoiceRoom{}
	}
	c.JSON(nethttp.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) callInfo(c *gin.Context) {
	info, err := h.sessions.CallInfo(domain.RoomID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, info)
}

func (h *handlers) findUser(c *gin.Context) {
	user := domain.UserID(c.Param("id"))
	room, err := h.sessions.FindSessionForUser(user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"user_id": user, "room_id": room})
}

func (h *handlers) join(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	res, err := h.sessions.Join(c.Request.Context(), roomID)
	if err == nil {
		err = res.Err
	}
	writeResult(c, Result{RoomID: roomID, Success: res.Success}, err)
}

func (h *handlers) leave(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	res, err := h.sessions.Leave(c.Request.Context(), roomID)
	if err == nil {
		err = res.Err
	}
	writeResult(c, Result{RoomID: roomID, Success: res.Success}, err)
}

func (h *handlers) play(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	body := c.Request.Body
	if h.maxSoundSize > 0 {
		body = nethttp.MaxBytesReader(c.Writer, body, h.maxSoundSize)
	}
	sound, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *nethttp.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(nethttp.StatusRequestEntityTooLarge, Result{RoomID: roomID, Code: domain.CodeInvalidArgument, Error: "sound too large"})
			return
		}
		c.JSON(nethttp.StatusBadRequest, Result{RoomID: roomID, Code: domain.CodeInvalidArgument, Error: err.Error()})
		return
	}
	res, err := h.sessions.PlaySound(c.Request.Context(), roomID, sound)
	if err == nil {
		err = res.Err
	}
	writeResult(c, Result{RoomID: roomID, Success: res.Success, DurationMS: res.DurationEstimate.Milliseconds()}, err)
}

func writeResult(c *gin.Context, r Result, err error) {
	if err != nil && !r.Success {
		r.Code = domain.CodeOf(err)
		if reason, ok := domain.ReasonOf(err); ok {
			r.Reason = string(reason)
		}
		r.Error = err.Error()
		c.JSON(StatusOf(r.Code), r)
		return
	}
	c.JSON(nethttp.StatusOK, r)
}

func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	c.JSON(StatusOf(code), gin.H{"code": code, "error": err.Error()})
}

// StatusOf maps an error code onto an HTTP status.
func StatusOf(code domain.Code) int {
	switch code {
	case domain.CodeNone:
		return nethttp.StatusOK
	case domain.CodeInvalidArgument, domain.CodeEmptySound:
		return nethttp.StatusBadRequest
	case domain.CodeRoomNotFound, domain.CodeNotFound:
		return nethttp.StatusNotFound
	case domain.CodeNoCallDescriptor, domain.CodeNotInCall, domain.CodeCanceled:
		return nethttp.StatusConflict
	case domain.CodeParseError:
		return nethttp.StatusUnprocessableEntity
	case domain.CodeBrokerError, domain.CodeMediaConnectFailed:
		return nethttp.StatusBadGateway
	case domain.CodePlaybackTimeout:
		return nethttp.StatusGatewayTimeout
	default:
		return nethttp.StatusInternalServerError
	}
}
