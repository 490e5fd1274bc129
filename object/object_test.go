package object_test

import (
	"testing"

	"github.com/biomine3000/routingbroker/object"
)

func TestHeaderMapRoundTrip(t *testing.T) {
	o := object.New()
	o.Event = "routing/announcement"
	o.Type = "text/plain"
	o.Size = 5
	o.HasSize = true
	o.Metadata["nature"] = "hasselhoff"

	m := o.ToHeaderMap()
	back := object.FromHeaderMap(m)

	if !o.Equal(back) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", back, o)
	}
	if back.Metadata["nature"] != "hasselhoff" {
		t.Fatalf("metadata not preserved: %+v", back.Metadata)
	}
}

func TestReservedKeysNotInMetadata(t *testing.T) {
	m := map[string]any{"event": "x", "type": "y", "size": float64(0), "extra": "z"}
	o := object.FromHeaderMap(m)
	for _, k := range []string{object.KeyEvent, object.KeyType, object.KeySize} {
		if _, ok := o.Metadata[k]; ok {
			t.Fatalf("reserved key %q leaked into metadata", k)
		}
	}
	if o.Metadata["extra"] != "z" {
		t.Fatalf("non-reserved key dropped")
	}
}

func TestSizeCoercion(t *testing.T) {
	cases := []struct {
		v       any
		hasSize bool
	}{
		{float64(5), true},
		{float64(0), true},
		{float64(-1), false},
		{float64(1.5), false},
		{"5", false},
	}
	for _, c := range cases {
		o := object.FromHeaderMap(map[string]any{"size": c.v})
		if o.HasSize != c.hasSize {
			t.Fatalf("size %v: HasSize=%v, want %v", c.v, o.HasSize, c.hasSize)
		}
	}
}

func TestReservedKeyOverridesMetadataOnEncode(t *testing.T) {
	o := object.New()
	o.Event = "real"
	o.Metadata["event"] = "stale-placeholder-that-would-never-normally-occur"
	m := o.ToHeaderMap()
	if m["event"] != "real" {
		t.Fatalf("reserved field did not override metadata collision: %v", m["event"])
	}
}

func TestEqualityExcludesMetadata(t *testing.T) {
	a := object.New()
	a.Event = "ping"
	b := object.New()
	b.Event = "ping"
	b.Metadata["x"] = 1
	if !a.Equal(b) {
		t.Fatalf("objects differing only in metadata should be equal")
	}
}

func TestHasPayloadInvariant(t *testing.T) {
	o := object.New()
	if o.HasPayload() {
		t.Fatalf("no size => no payload")
	}
	o.HasSize, o.Size = true, 0
	if o.HasPayload() {
		t.Fatalf("size=0 => no payload")
	}
	o.Size = 1
	if !o.HasPayload() {
		t.Fatalf("size>0 => payload")
	}
}

func TestClone(t *testing.T) {
	o := object.New()
	o.Event = "e"
	o.Payload = []byte("hi")
	o.Metadata["k"] = "v"
	c := o.Clone()
	if !o.Equal(c) {
		t.Fatalf("clone not equal to original")
	}
	c.Payload[0] = 'X'
	if o.Payload[0] == 'X' {
		t.Fatalf("clone shares payload backing array")
	}
}
