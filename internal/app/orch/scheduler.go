package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type taskKey struct {
	room domain.RoomID
	name string
}

type task struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// Scheduler runs delayed, cancellable per-room tasks. Scheduling a task
// under an existing (room, name) replaces the pending one.
type Scheduler struct {
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu    sync.Mutex
	tasks map[taskKey]task
}

func NewScheduler() *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, stop: stop, tasks: make(map[taskKey]task)}
}

func (s *Scheduler) Schedule(room domain.RoomID, name string, delay time.Duration, fn func(ctx context.Context)) {
	key := taskKey{room: room, name: name}
	ctx, cancel := context.WithCancel(s.ctx)
	t := task{id: uuid.New(), cancel: cancel}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.cancel()
	}
	s.tasks[key] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(key, t.id)
		defer cancel()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		log.Debug().Str("module", "orch.scheduler").Str("room", string(room)).Str("task", name).Msg("running scheduled task")
		fn(ctx)
	}()
}

func (s *Scheduler) forget(key taskKey, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[key]; ok && cur.id == id {
		delete(s.tasks, key)
	}
}

// Cancel drops every pending task of room and returns how many it stopped.
func (s *Scheduler) Cancel(room domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tasks {
		if key.room == room {
			t.cancel()
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

func (s *Scheduler) Pending(room domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.tasks {
		if key.room == room {
			n++
		}
	}
	return n
}

// Stop cancels everything and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.tasks = make(map[taskKey]task)
	s.mu.Unlock()
	s.wg.Wait()
}
