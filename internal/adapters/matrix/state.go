package matrix

import (
	"sort"
	"sync"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
)

type stateEvent struct {
	typ     string
	key     string
	content map[string]any
}

func (e stateEvent) Type() string            { return e.typ }
func (e stateEvent) StateKey() string        { return e.key }
func (e stateEvent) Content() map[string]any { return e.content }

// roomView is an immutable snapshot of a room's current state.
type roomView struct {
	id     domain.RoomID
	events map[string]map[string]stateEvent
}

func (v *roomView) ID() domain.RoomID { return v.id }

func (v *roomView) Name() string {
	if ev, ok := v.events[core.EventRoomName][""]; ok {
		if name, _ := ev.content["name"].(string); name != "" {
			return name
		}
	}
	if ev, ok := v.events["m.room.canonical_alias"][""]; ok {
		if alias, _ := ev.content["alias"].(string); alias != "" {
			return alias
		}
	}
	return ""
}

func (v *roomView) StateEvents(eventType string) []core.StateEvent {
	byKey := v.events[eventType]
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

func (v *roomView) StateEvent(eventType, stateKey string) (core.StateEvent, bool) {
	ev, ok := v.events[eventType][stateKey]
	if !ok {
		return nil, false
	}
	return ev, true
}

// Store folds state events delivered by sync into per-room state. Readers
// get copy-on-write snapshots, so a view never changes under a scan.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomView
	order []domain.RoomID
}

func NewStore() *Store {
	return &Store{rooms: make(map[domain.RoomID]*roomView)}
}

// Apply records one state event. Empty content is kept: it is how a call
// member announces it left.
func (s *Store) Apply(roomID domain.RoomID, eventType, stateKey string, content map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[roomID]
	if !ok {
		cur = &roomView{id: roomID, events: map[string]map[string]stateEvent{}}
		s.order = append(s.order, roomID)
	}
	next := &roomView{id: roomID, events: make(map[string]map[string]stateEvent, len(cur.events)+1)}
	for t, byKey := range cur.events {
		next.events[t] = byKey
	}
	byKey := make(map[string]stateEvent, len(cur.events[eventType])+1)
	for k, ev := range cur.events[eventType] {
		byKey[k] = ev
	}
	byKey[stateKey] = stateEvent{typ: eventType, key: stateKey, content: content}
	next.events[eventType] = byKey
	s.rooms[roomID] = next
}

// Replace swaps the whole state of a room, e.g. after a full state fetch.
func (s *Store) Replace(roomID domain.RoomID, events []core.StateEvent) {
	v := &roomView{id: roomID, events: map[string]map[string]stateEvent{}}
	for _, ev := range events {
		byKey, ok := v.events[ev.Type()]
		if !ok {
			byKey = map[string]stateEvent{}
			v.events[ev.Type()] = byKey
		}
		byKey[ev.StateKey()] = stateEvent{typ: ev.Type(), key: ev.StateKey(), content: ev.Content()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		s.order = append(s.order, roomID)
	}
	s.rooms[roomID] = v
}

func (s *Store) Drop(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return
	}
	delete(s.rooms, roomID)
	for i, id := range s.order {
		if id == roomID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) Room(roomID domain.RoomID) (core.RoomStateView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	return v, true
}

// Rooms returns the known rooms in the order they were first seen.
func (s *Store) Rooms() []core.RoomStateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RoomStateView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id])
	}
	return out
}
