package clock

import (
	"sync"
	"testing"
	"time"
)

func TestServiceFiresInDeadlineOrder(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var mu sync.Mutex
	var fired []uint16
	done := make(chan struct{})

	now := NowMs()
	s.Schedule(3, now+30, func() {
		mu.Lock()
		fired = append(fired, 3)
		if len(fired) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	s.Schedule(1, now+10, func() {
		mu.Lock()
		fired = append(fired, 1)
		mu.Unlock()
	})
	s.Schedule(2, now+20, func() {
		mu.Lock()
		fired = append(fired, 2)
		if len(fired) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not all fire in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 3 || fired[0] != 1 || fired[1] != 2 || fired[2] != 3 {
		t.Fatalf("expected deadline order [1 2 3], got %v", fired)
	}
}

func TestServiceCancelPreventsCallback(t *testing.T) {
	s := NewService()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	now := NowMs()
	s.Schedule(5, now+20, func() { fired <- struct{}{} })
	s.Cancel(5)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServiceRescheduleReplacesDeadline(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var mu sync.Mutex
	count := 0
	now := NowMs()

	s.Schedule(7, now+500, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	// Reschedule sooner; only the second callback should ever run.
	done := make(chan struct{})
	s.Schedule(7, now+15, func() {
		mu.Lock()
		count++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer never fired")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 firing after reschedule, got %d", count)
	}
}

func TestServiceTieBreakAscendingSequence(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var mu sync.Mutex
	var fired []uint16
	now := NowMs() + 10
	done := make(chan struct{})

	for _, key := range []uint16{5, 2, 8, 1} {
		k := key
		s.Schedule(k, now, func() {
			mu.Lock()
			fired = append(fired, k)
			if len(fired) == 4 {
				close(done)
			}
			mu.Unlock()
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not all fire")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []uint16{1, 2, 5, 8}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("tie-break order = %v, want %v", fired, want)
		}
	}
}
