package wire_test

import (
	"testing"

	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/wire"
)

func mkObj(event, typ string, payload []byte) *object.Object {
	o := object.New()
	o.Event = event
	o.Type = typ
	if len(payload) > 0 {
		o.Payload = payload
		o.Size = int64(len(payload))
		o.HasSize = true
	}
	return o
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	o := mkObj("routing/announcement", "text/plain", []byte("hello"))
	o.Metadata["id"] = "abc"

	enc, err := wire.Encode(o)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := wire.TryDecode(enc)
	if res.Outcome != wire.Complete {
		t.Fatalf("outcome = %v, want Complete", res.Outcome)
	}
	if !o.Equal(res.Object) {
		t.Fatalf("round trip mismatch: got %+v want %+v", res.Object, o)
	}
	if res.Consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", res.Consumed, len(enc))
	}
}

func TestTryDecodeNeedMoreHeader(t *testing.T) {
	res := wire.TryDecode([]byte(`{"event":"x"}`))
	if res.Outcome != wire.NeedMoreHeader {
		t.Fatalf("outcome = %v, want NeedMoreHeader", res.Outcome)
	}
}

func TestTryDecodeEmptyHeaderIsMalformed(t *testing.T) {
	res := wire.TryDecode([]byte{0x00, 'x'})
	if res.Outcome != wire.FailMalformed {
		t.Fatalf("outcome = %v, want FailMalformed", res.Outcome)
	}
}

func TestTryDecodeBadJSON(t *testing.T) {
	buf := append([]byte(`{not json`), 0x00)
	res := wire.TryDecode(buf)
	if res.Outcome != wire.FailMalformed {
		t.Fatalf("outcome = %v, want FailMalformed", res.Outcome)
	}
}

func TestTryDecodeNonObjectTopLevel(t *testing.T) {
	buf := append([]byte(`[1,2,3]`), 0x00)
	res := wire.TryDecode(buf)
	if res.Outcome != wire.FailMalformed {
		t.Fatalf("outcome = %v, want FailMalformed", res.Outcome)
	}
}

func TestTryDecodeNeedMorePayload(t *testing.T) {
	buf := append([]byte(`{"size":5}`), 0x00)
	buf = append(buf, []byte("abc")...) // only 3 of 5 bytes
	res := wire.TryDecode(buf)
	if res.Outcome != wire.NeedMorePayload {
		t.Fatalf("outcome = %v, want NeedMorePayload", res.Outcome)
	}
}

func TestTryDecodeZeroSizeNoPayload(t *testing.T) {
	buf := append([]byte(`{"size":0,"event":"ping"}`), 0x00)
	res := wire.TryDecode(buf)
	if res.Outcome != wire.Complete {
		t.Fatalf("outcome = %v, want Complete", res.Outcome)
	}
	if res.Object.HasPayload() {
		t.Fatalf("size=0 must not carry a payload")
	}
	if res.Consumed != len(buf) {
		t.Fatalf("consumed %d want %d", res.Consumed, len(buf))
	}
}

func TestExactConsumption(t *testing.T) {
	o := mkObj("e", "", []byte("payload-bytes"))
	enc, _ := wire.Encode(o)
	trailer := []byte("next-frame-bytes")
	res := wire.TryDecode(append(append([]byte(nil), enc...), trailer...))
	if res.Outcome != wire.Complete {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if res.Consumed != len(enc) {
		t.Fatalf("consumed %d, want exactly %d (header_len+1+size)", res.Consumed, len(enc))
	}
}

func TestSplitBoundaryProducesSameSequence(t *testing.T) {
	o1 := mkObj("a", "", nil)
	o2 := mkObj("b", "", []byte("xy"))
	enc1, _ := wire.Encode(o1)
	enc2, _ := wire.Encode(o2)
	whole := append(append([]byte(nil), enc1...), enc2...)

	// Whole-buffer decode.
	var wholeObjs []*object.Object
	rem := whole
	for len(rem) > 0 {
		res := wire.TryDecode(rem)
		if res.Outcome != wire.Complete {
			break
		}
		wholeObjs = append(wholeObjs, res.Object)
		rem = rem[res.Consumed:]
	}

	// Split at every boundary and feed through a Decoder in two pieces.
	for split := 1; split < len(whole); split++ {
		d := wire.NewDecoder()
		var got []*object.Object
		d.Feed(whole[:split])
		if err := d.Drain(func(o *object.Object) { got = append(got, o) }); err != nil {
			t.Fatalf("split %d: unexpected error %v", split, err)
		}
		d.Feed(whole[split:])
		if err := d.Drain(func(o *object.Object) { got = append(got, o) }); err != nil {
			t.Fatalf("split %d: unexpected error %v", split, err)
		}
		if len(got) != len(wholeObjs) {
			t.Fatalf("split %d: got %d objects, want %d", split, len(got), len(wholeObjs))
		}
		for i := range got {
			if !got[i].Equal(wholeObjs[i]) {
				t.Fatalf("split %d: object %d mismatch: %+v vs %+v", split, i, got[i], wholeObjs[i])
			}
		}
	}
}

func TestDecoderStreamsMultipleFrames(t *testing.T) {
	o1 := mkObj("a", "", nil)
	o2 := mkObj("b", "", []byte("xy"))
	o3 := mkObj("c", "text/plain", []byte("more data here"))
	enc1, _ := wire.Encode(o1)
	enc2, _ := wire.Encode(o2)
	enc3, _ := wire.Encode(o3)

	d := wire.NewDecoder()
	var got []*object.Object
	d.Feed(enc1)
	d.Feed(enc2)
	d.Feed(enc3)
	if err := d.Drain(func(o *object.Object) { got = append(got, o) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d objects, want 3", len(got))
	}
	want := []*object.Object{o1, o2, o3}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("object %d mismatch: %+v vs %+v", i, got[i], want[i])
		}
	}
	if d.Buffered() != 0 {
		t.Fatalf("decoder retained %d unconsumed bytes", d.Buffered())
	}
}

func TestDecoderPropagatesMalformed(t *testing.T) {
	d := wire.NewDecoder()
	d.Feed([]byte{0x00, 'x'})
	err := d.Drain(func(*object.Object) {})
	if err == nil || !wire.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
