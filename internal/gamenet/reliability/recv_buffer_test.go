package reliability

import "testing"

func TestReceiveBufferInOrderDelivery(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)

	for seq := uint16(0); seq < 5; seq++ {
		delivered, cumAck, _ := rb.OnData(seq, 0, []byte{byte(seq)}, 1000)
		if len(delivered) != 1 || delivered[0].Seq != seq {
			t.Fatalf("seq %d: expected single in-order delivery, got %+v", seq, delivered)
		}
		if cumAck != seq {
			t.Fatalf("seq %d: cumAck = %d, want %d", seq, cumAck, seq)
		}
	}
	if rb.NextExpected() != 5 {
		t.Fatalf("NextExpected = %d, want 5", rb.NextExpected())
	}
}

func TestReceiveBufferReordersAndDrainsContiguous(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)

	d, _, _ := rb.OnData(2, 0, []byte("two"), 1000)
	if len(d) != 0 {
		t.Fatalf("out-of-order seq 2 delivered early: %+v", d)
	}
	d, _, _ = rb.OnData(1, 0, []byte("one"), 1000)
	if len(d) != 0 {
		t.Fatalf("seq 1 should not unblock without seq 0: %+v", d)
	}

	d, _, _ = rb.OnData(0, 0, []byte("zero"), 1000)
	if len(d) != 3 {
		t.Fatalf("expected 3 deliveries once seq 0 arrives, got %d: %+v", len(d), d)
	}
	for i, want := range []string{"zero", "one", "two"} {
		if string(d[i].Payload) != want {
			t.Errorf("delivery[%d] = %q, want %q", i, d[i].Payload, want)
		}
	}
	if rb.NextExpected() != 3 {
		t.Fatalf("NextExpected = %d, want 3", rb.NextExpected())
	}
}

func TestReceiveBufferDuplicateDropped(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)
	rb.OnData(0, 0, []byte("x"), 1000)
	d, _, _ := rb.OnData(0, 0, []byte("x"), 1001)
	if len(d) != 0 {
		t.Fatalf("duplicate seq 0 should not re-deliver, got %+v", d)
	}
	if rb.Statistics()["duplicates"] != 1 {
		t.Fatalf("expected 1 duplicate counted, got %v", rb.Statistics())
	}
}

func TestReceiveBufferSkipDeadlineAdvancesPastGap(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)

	// seq 1 arrives before seq 0; skip deadline starts now.
	rb.OnData(1, 0, []byte("one"), 1000)
	if rb.BufferedCount() != 1 {
		t.Fatalf("expected 1 buffered packet, got %d", rb.BufferedCount())
	}

	// Before the deadline: no skip.
	delivered := rb.Tick(1100)
	if len(delivered) != 0 {
		t.Fatalf("premature skip: %+v", delivered)
	}

	// After the deadline: seq 0 is skipped, unblocking seq 1.
	delivered = rb.Tick(1201)
	if len(delivered) != 1 || delivered[0].Seq != 1 {
		t.Fatalf("expected seq 1 delivered after skip, got %+v", delivered)
	}
	if rb.NextExpected() != 2 {
		t.Fatalf("NextExpected = %d, want 2", rb.NextExpected())
	}
	if rb.Statistics()["skipped"] != 1 {
		t.Fatalf("expected 1 skip recorded, got %v", rb.Statistics())
	}
}

func TestReceiveBufferLateArrivalAfterSkipIsDropped(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)
	rb.OnData(1, 0, []byte("one"), 1000)
	rb.Tick(1201) // skips seq 0, delivers seq 1, nextExpected = 2

	delivered, _, _ := rb.OnData(0, 0, []byte("late"), 1300)
	if len(delivered) != 0 {
		t.Fatalf("skipped seq should never be delivered, got %+v", delivered)
	}
}

func TestReceiveBufferGenerateSACKBitmapCoversBufferedSeqs(t *testing.T) {
	rb := NewReceiveBuffer(64, 200, 64)
	rb.OnData(3, 0, []byte("three"), 1000)
	_, cumAck, bitmap := rb.OnData(5, 0, []byte("five"), 1000)

	if cumAck != 0xFFFF { // nextExpected is still 0, so cumAck = -1 mod 2^16
		t.Fatalf("cumAck = %d, want 65535", cumAck)
	}
	if len(bitmap) == 0 {
		t.Fatal("expected non-empty SACK bitmap with buffered out-of-order seqs")
	}
}
