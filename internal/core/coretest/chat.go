// Package coretest provides in-memory implementations of the core ports
// for use in tests.
package coretest

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
)

type Event struct {
	EventType string
	Key       string
	Body      map[string]any
}

func (e *Event) Type() string            { return e.EventType }
func (e *Event) StateKey() string        { return e.Key }
func (e *Event) Content() map[string]any { return e.Body }

// Room is a mutable room state; views handed out are snapshots.
type Room struct {
	RoomID   domain.RoomID
	RoomName string
	events   map[string]map[string]*Event
}

func NewRoom(id domain.RoomID, name string) *Room {
	return &Room{RoomID: id, RoomName: name, events: make(map[string]map[string]*Event)}
}

// With adds or replaces a state event and returns the room for chaining.
func (r *Room) With(eventType, stateKey string, content map[string]any) *Room {
	byKey, ok := r.events[eventType]
	if !ok {
		byKey = make(map[string]*Event)
		r.events[eventType] = byKey
	}
	byKey[stateKey] = &Event{EventType: eventType, Key: stateKey, Body: content}
	return r
}

func (r *Room) ID() domain.RoomID { return r.RoomID }
func (r *Room) Name() string      { return r.RoomName }

func (r *Room) StateEvents(eventType string) []core.StateEvent {
	byKey := r.events[eventType]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]core.StateEvent, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

func (r *Room) StateEvent(eventType, stateKey string) (core.StateEvent, bool) {
	ev, ok := r.events[eventType][stateKey]
	if !ok {
		return nil, false
	}
	return ev, true
}

func (r *Room) clone() *Room {
	c := NewRoom(r.RoomID, r.RoomName)
	for t, byKey := range r.events {
		for k, ev := range byKey {
			c.With(t, k, ev.Body)
		}
	}
	return c
}

// Chat is a fake core.ChatClient.
type Chat struct {
	mu     sync.Mutex
	User   domain.UserID
	Token  string
	rooms  map[domain.RoomID]*Room
	order  []domain.RoomID
	Joined []domain.RoomID
	// RoomHook, when set, may override Room lookups (e.g. to fail the first attempts).
	RoomHook func(id domain.RoomID, attempt int) (core.RoomStateView, bool, bool)
	lookups  map[domain.RoomID]int
}

func NewChat(user domain.UserID, token string) *Chat {
	return &Chat{User: user, Token: token, rooms: make(map[domain.RoomID]*Room), lookups: make(map[domain.RoomID]int)}
}

func (c *Chat) Put(r *Room) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[r.RoomID]; !ok {
		c.order = append(c.order, r.RoomID)
	}
	c.rooms[r.RoomID] = r
	return r
}

func (c *Chat) Remove(id domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, id)
}

// Lookups reports how many times Room(id) was called.
func (c *Chat) Lookups(id domain.RoomID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups[id]
}

func (c *Chat) Room(id domain.RoomID) (core.RoomStateView, bool) {
	c.mu.Lock()
	c.lookups[id]++
	attempt := c.lookups[id]
	hook := c.RoomHook
	r, ok := c.rooms[id]
	if ok {
		r = r.clone()
	}
	c.mu.Unlock()
	if hook != nil {
		if v, found, handled := hook(id, attempt); handled {
			return v, found
		}
	}
	if !ok {
		return nil, false
	}
	return r, true
}

func (c *Chat) Rooms() []core.RoomStateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.RoomStateView, 0, len(c.order))
	for _, id := range c.order {
		if r, ok := c.rooms[id]; ok {
			out = append(out, r.clone())
		}
	}
	return out
}

func (c *Chat) AccessToken() string   { return c.Token }
func (c *Chat) UserID() domain.UserID { return c.User }

func (c *Chat) JoinRoom(_ context.Context, id domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Joined = append(c.Joined, id)
	return nil
}

var _ core.ChatClient = (*Chat)(nil)
