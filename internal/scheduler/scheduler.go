// Package scheduler runs delayed tasks keyed by id. Scheduling an id that
// already has a pending task replaces it, and any pending task can be
// cancelled before it fires.
package scheduler

import (
	"sync"
	"time"
)

type handle struct {
	timer *time.Timer
	seq   uint64
}

// Scheduler owns one timer per key.
type Scheduler struct {
	mu      sync.Mutex
	handles map[string]*handle
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{handles: make(map[string]*handle)}
}

// Schedule runs fn after delay unless the key is cancelled or rescheduled first.
// It reports false when the scheduler is stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	if prev, ok := s.handles[key]; ok {
		prev.timer.Stop()
	}

	s.seq++
	h := &handle{seq: s.seq}
	h.timer = time.AfterFunc(delay, func() { s.fire(key, h, fn) })
	s.handles[key] = h
	return true
}

func (s *Scheduler) fire(key string, h *handle, fn func()) {
	s.mu.Lock()
	current, ok := s.handles[key]
	if !ok || current.seq != h.seq || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.handles, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	fn()
}

// Cancel withdraws the pending task for key. It reports whether one existed.
// A task that has already started running is not interrupted.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[key]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(s.handles, key)
	return true
}

// Has reports whether key has a pending task.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[key]
	return ok
}

// Pending returns the number of tasks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stop cancels every pending task and waits for tasks already running.
// Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, h := range s.handles {
		h.timer.Stop()
		delete(s.handles, key)
	}
	s.mu.Unlock()

	s.running.Wait()
}
