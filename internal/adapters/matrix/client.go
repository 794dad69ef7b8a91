// Package matrix adapts a mautrix client to the core chat port. Sync is
// owned here; the core only reads folded room state and consumes events.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const eventBuffer = 256

type Config struct {
	HomeserverURL string
	UserID        domain.UserID
	AccessToken   string
}

type Client struct {
	cli    *mautrix.Client
	store  *Store
	events chan core.ChatEvent
}

func New(cfg Config) (*Client, error) {
	if err := cfg.UserID.Validate(); err != nil {
		return nil, fmt.Errorf("matrix user id: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("matrix access token is empty")
	}
	cli, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}
	c := &Client{
		cli:    cli,
		store:  NewStore(),
		events: make(chan core.ChatEvent, eventBuffer),
	}
	syncer := mautrix.NewDefaultSyncer()
	syncer.OnEvent(c.onEvent)
	syncer.OnSync(c.onSync)
	cli.Syncer = syncer
	return c, nil
}

// Events is the single-producer stream of chat events. It is closed when
// Run returns.
func (c *Client) Events() <-chan core.ChatEvent { return c.events }

// Run syncs until ctx ends, backing off on transient failures.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	logger := log.With().Str("module", "adapters.matrix").Str("user", string(c.UserID())).Logger()
	backoff := time.Second
	for {
		err := c.cli.SyncWithContext(ctx)
		if ctx.Err() != nil {
			logger.Info().Msg("sync stopped")
			return nil
		}
		logger.Warn().Err(err).Dur("retry_in", backoff).Msg("sync failed")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, time.Minute)
	}
}

func (c *Client) onSync(ctx context.Context, _ *mautrix.RespSync, _ string) bool {
	c.emit(ctx, core.ChatEvent{Kind: core.ChatSynced})
	return true
}

func (c *Client) onEvent(ctx context.Context, evt *event.Event) {
	roomID := domain.RoomID(evt.RoomID)
	if roomID == "" {
		return
	}
	if evt.StateKey == nil {
		if evt.Mautrix.EventSource&event.SourceTimeline != 0 {
			c.emit(ctx, core.ChatEvent{Kind: core.ChatTimeline, RoomID: roomID, Type: evt.Type.Type, Sender: domain.UserID(evt.Sender)})
		}
		return
	}

	stateKey := evt.GetStateKey()
	if evt.Mautrix.EventSource&event.SourceInvite != 0 {
		// stripped invite state is not the room's state
		if evt.Type.Type == event.StateMember.Type && stateKey == string(c.UserID()) {
			c.emit(ctx, core.ChatEvent{Kind: core.ChatMembership, RoomID: roomID, Type: evt.Type.Type, StateKey: stateKey, Sender: domain.UserID(evt.Sender), Membership: "invite"})
		}
		return
	}

	c.store.Apply(roomID, evt.Type.Type, stateKey, evt.Content.Raw)
	if evt.Type.Type == event.StateMember.Type {
		membership, _ := evt.Content.Raw["membership"].(string)
		if stateKey == string(c.UserID()) && (membership == "leave" || membership == "ban") {
			c.store.Drop(roomID)
		}
		c.emit(ctx, core.ChatEvent{Kind: core.ChatMembership, RoomID: roomID, Type: evt.Type.Type, StateKey: stateKey, Sender: domain.UserID(evt.Sender), Membership: membership})
		return
	}
	c.emit(ctx, core.ChatEvent{Kind: core.ChatStateChanged, RoomID: roomID, Type: evt.Type.Type, StateKey: stateKey, Sender: domain.UserID(evt.Sender)})
}

func (c *Client) emit(ctx context.Context, ev core.ChatEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) Room(roomID domain.RoomID) (core.RoomStateView, bool) { return c.store.Room(roomID) }
func (c *Client) Rooms() []core.RoomStateView                          { return c.store.Rooms() }
func (c *Client) AccessToken() string                                  { return c.cli.AccessToken }
func (c *Client) UserID() domain.UserID                                { return domain.UserID(c.cli.UserID) }

// JoinRoom joins the chat room and loads its full state.
func (c *Client) JoinRoom(ctx context.Context, roomID domain.RoomID) error {
	if _, err := c.cli.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	log.Info().Str("module", "adapters.matrix").Str("room", string(roomID)).Msg("joined chat room")
	return c.Refresh(ctx, roomID)
}

// Refresh replaces the cached state of a room with the server's.
func (c *Client) Refresh(ctx context.Context, roomID domain.RoomID) error {
	state, err := c.cli.State(ctx, id.RoomID(roomID))
	if err != nil {
		return fmt.Errorf("state %s: %w", roomID, err)
	}
	c.store.Replace(roomID, fromStateMap(state))
	return nil
}

func fromStateMap(state mautrix.RoomStateMap) []core.StateEvent {
	var out []core.StateEvent
	for typ, byKey := range state {
		for key, evt := range byKey {
			if evt == nil {
				continue
			}
			out = append(out, stateEvent{typ: typ.Type, key: key, content: evt.Content.Raw})
		}
	}
	return out
}

var _ core.ChatClient = (*Client)(nil)
