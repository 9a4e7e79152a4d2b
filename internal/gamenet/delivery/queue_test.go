package delivery

import (
	"sync"
	"testing"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 3; i++ {
		q.Push(Record{HasSeq: true, Seq: uint16(i), Payload: []byte{byte(i)}})
	}
	for i := 0; i < 3; i++ {
		r, ok := q.Pop()
		if !ok || r.Seq != uint16(i) {
			t.Fatalf("pop %d: got %+v, ok=%v", i, r, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueueNonBlockingEmptyPop(t *testing.T) {
	q := NewQueue()
	r, ok := q.Pop()
	if ok {
		t.Fatalf("expected no record, got %+v", r)
	}
}

func TestQueueConcurrentPushPop(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	const n = 200

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(Record{HasSeq: true, Seq: uint16(i)})
		}
	}()

	got := 0
	for got < n {
		if _, ok := q.Pop(); ok {
			got++
		}
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, len=%d", q.Len())
	}
}
