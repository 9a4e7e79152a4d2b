package protocol

import (
	"bytes"
	"testing"
)

func TestFrameMarshalUnmarshalRoundTrip(t *testing.T) {
	f := &Frame{Chan: ChanReliableData, Seq: 42, TSMs: 123456, Payload: []byte("hello")}

	data := f.Marshal()
	if len(data) != HeaderSize+len("hello") {
		t.Fatalf("unexpected marshaled length: %d", len(data))
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Chan != f.Chan || got.Seq != f.Seq || got.TSMs != f.TSMs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, f.Payload)
	}
}

func TestUnmarshalRejectsShortFrame(t *testing.T) {
	if _, err := Unmarshal(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestUnmarshalRejectsUnknownChannel(t *testing.T) {
	data := (&Frame{Chan: 0x7F, Seq: 1, TSMs: 1}).Marshal()
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected error for unknown channel tag")
	}
}

func TestSeqLessWraps(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{65535, 0, true},
		{0, 65535, false},
		{100, 100, false},
		{30000, 40000, true},
	}
	for _, c := range cases {
		if got := SeqLess(c.a, c.b); got != c.want {
			t.Errorf("SeqLess(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSACKBitmapEncodeDecodeRoundTrip(t *testing.T) {
	cumAck := uint16(10)
	acked := map[uint16]struct{}{
		12: {},
		13: {},
		20: {},
	}

	bitmap := EncodeSACKBitmap(cumAck, acked, MaxSACKBitmapBytes)
	if len(bitmap) == 0 {
		t.Fatal("expected non-empty bitmap")
	}

	decoded := DecodeSACKBitmap(cumAck, bitmap)
	if len(decoded) != len(acked) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(acked))
	}
	for seq := range acked {
		if _, ok := decoded[seq]; !ok {
			t.Errorf("missing seq %d after decode", seq)
		}
	}
}

func TestEncodeSACKBitmapEmptyWhenNoExtras(t *testing.T) {
	if bm := EncodeSACKBitmap(5, nil, MaxSACKBitmapBytes); bm != nil {
		t.Fatalf("expected nil bitmap, got %v", bm)
	}
}
