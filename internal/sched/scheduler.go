// README: Timer service for one-shot jobs keyed by id and periodic sweeps.
package sched

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		log:    log,
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
}

// ScheduleAt runs fn once at when. A second call with the same id replaces
// the earlier timer. A time in the past fires immediately.
func (s *Scheduler) ScheduleAt(id string, when time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	delay := time.Until(when)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		fn()
	})
	s.log.Debugw("scheduled", "id", id, "at", when)
}

// Cancel stops the timer with the given id. It reports whether a pending
// timer was found and stopped before firing.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

// Pending reports whether a timer with the given id is still scheduled.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Every runs fn on a fixed interval until Close.
func (s *Scheduler) Every(interval time.Duration, fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-s.done:
				return
			}
		}
	}()
}

// Close stops all pending timers and periodic jobs and waits for the
// periodic loops to exit. Jobs already mid-flight finish on their own.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}
