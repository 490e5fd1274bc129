package wire

import (
	"github.com/biomine3000/routingbroker/object"
)

// Decoder is a stateful streaming decoder owning a growable read buffer. It
// is fed raw bytes as they arrive off the socket and yields zero or more
// complete objects per call, retaining any partial frame across calls —
// unlike a decoder that rebuilds its reader on every read and silently
// drops unconsumed bytes, this one never loses buffered-but-unconsumed
// input.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a Decoder with a small initial capacity; it grows as
// needed via append.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Feed appends newly read bytes to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Drain repeatedly applies TryDecode to the buffered bytes, invoking fn for
// every Complete object, compacting consumed bytes out of the buffer as it
// goes. It stops at the first NeedMoreHeader/NeedMorePayload (awaiting more
// bytes) or returns the first FailMalformed error encountered, which the
// caller (the session/broker layer) must treat as fatal for this
// connection.
func (d *Decoder) Drain(fn func(*object.Object)) error {
	for {
		res := TryDecode(d.buf)
		switch res.Outcome {
		case Complete:
			fn(res.Object)
			d.buf = d.buf[res.Consumed:]
			// Compact once the spare capacity ahead of the unconsumed bytes
			// is larger than what they occupy (and above 4 KiB), so a
			// buffer that once grew for a large frame is not kept alive.
			if cap(d.buf) > 4096 && len(d.buf)*2 < cap(d.buf) {
				d.compact()
			}
		case NeedMoreHeader, NeedMorePayload:
			return nil
		case FailMalformed:
			return res.Err
		}
	}
}

func (d *Decoder) compact() {
	nb := make([]byte, len(d.buf), len(d.buf)+4096)
	copy(nb, d.buf)
	d.buf = nb
}

// Buffered returns the number of unconsumed bytes currently held.
func (d *Decoder) Buffered() int { return len(d.buf) }
