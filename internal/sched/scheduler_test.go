// README: Scheduler tests (fire, cancel, replace, periodic, close).
package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(zap.NewNop().Sugar())
	t.Cleanup(s.Close)
	return s
}

func waitFired(t *testing.T, fired *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("fired %d times, want %d", fired.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleAtFires(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.ScheduleAt("order:o1", time.Now().Add(30*time.Millisecond), func() { fired.Add(1) })
	if !s.Pending("order:o1") {
		t.Fatal("timer not pending after schedule")
	}

	waitFired(t, &fired, 1)
	if s.Pending("order:o1") {
		t.Fatal("timer still pending after firing")
	}
}

func TestScheduleAtPastFiresImmediately(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.ScheduleAt("order:o1", time.Now().Add(-time.Minute), func() { fired.Add(1) })
	waitFired(t, &fired, 1)
}

func TestCancelStopsTimer(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.ScheduleAt("order:o1", time.Now().Add(40*time.Millisecond), func() { fired.Add(1) })
	if !s.Cancel("order:o1") {
		t.Fatal("cancel reported no pending timer")
	}
	if s.Cancel("order:o1") {
		t.Fatal("second cancel must report nothing to stop")
	}

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestScheduleAtReplaces(t *testing.T) {
	s := newScheduler(t)
	var first, second atomic.Int32

	s.ScheduleAt("order:o1", time.Now().Add(30*time.Millisecond), func() { first.Add(1) })
	s.ScheduleAt("order:o1", time.Now().Add(50*time.Millisecond), func() { second.Add(1) })

	waitFired(t, &second, 1)
	time.Sleep(20 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatal("replaced timer fired")
	}
}

func TestEveryTicksUntilClose(t *testing.T) {
	s := New(zap.NewNop().Sugar())
	var fired atomic.Int32

	s.Every(10*time.Millisecond, func() { fired.Add(1) })
	waitFired(t, &fired, 3)

	s.Close()
	settled := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != settled {
		t.Fatal("periodic job ran after Close")
	}
}

func TestCloseStopsPendingTimers(t *testing.T) {
	s := New(zap.NewNop().Sugar())
	var fired atomic.Int32

	s.ScheduleAt("order:o1", time.Now().Add(30*time.Millisecond), func() { fired.Add(1) })
	s.Close()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("timer fired after Close")
	}
	// Scheduling after Close is a no-op.
	s.ScheduleAt("order:o2", time.Now(), func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("scheduler accepted work after Close")
	}
}
