// internal/game/scheduler.go
package game

import (
	"sync"
	"time"
)

// Scheduler owns the deferred tasks of the game manager (delayed start
// notifications, grace-period eviction). Tasks are keyed so they can be
// cancelled, and the whole set can be flushed or stopped deterministically.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

type task struct {
	timer *time.Timer
	fn    func()
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// After runs fn once d has elapsed. Scheduling a key that is already pending
// replaces the earlier task. After does nothing once the scheduler is stopped.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	t := &task{fn: fn}
	t.timer = time.AfterFunc(d, func() { s.fire(key, t) })
	s.tasks[key] = t
}

// fire runs t if it is still the task registered under key.
func (s *Scheduler) fire(key string, t *task) {
	s.mu.Lock()
	if cur, ok := s.tasks[key]; !ok || cur != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()
	t.fn()
}

// Cancel drops a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending returns the number of tasks that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Flush runs every pending task now, in no particular order, and returns how
// many ran. Tasks scheduled by the flushed tasks are left pending.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	due := make([]*task, 0, len(s.tasks))
	for key, t := range s.tasks {
		t.timer.Stop()
		due = append(due, t)
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
