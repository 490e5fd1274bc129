// Package wire implements the frame codec: extracting whole
// business objects out of a byte stream whose header and payload are
// adjacent but separated by a single NUL byte, with the payload length
// carried inside the header itself.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/biomine3000/routingbroker/internal/debug"
	"github.com/biomine3000/routingbroker/object"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const delimiter = 0x00

// Outcome tags the result of a single TryDecode call.
type Outcome int

const (
	// Complete: a whole frame was extracted; advance the buffer by Consumed.
	Complete Outcome = iota
	// NeedMoreHeader: no delimiter yet in the buffer.
	NeedMoreHeader
	// NeedMorePayload: header parsed, but fewer than Size payload bytes
	// are available.
	NeedMorePayload
	// FailMalformed: fatal per-connection decode error.
	FailMalformed
)

// Result is the outcome of TryDecode.
type Result struct {
	Object   *object.Object
	Err      error
	Consumed int
	Outcome  Outcome
}

// TryDecode attempts to extract exactly one business object from the head
// of buf. It never retains a reference into buf: the returned Object owns
// its own payload slice (a copy).
func TryDecode(buf []byte) Result {
	idx := indexByte(buf, delimiter)
	if idx < 0 {
		return Result{Outcome: NeedMoreHeader}
	}
	if idx == 0 {
		return Result{Outcome: FailMalformed, Err: ErrEmptyHeader}
	}
	headerBytes := buf[:idx]
	if !utf8.Valid(headerBytes) {
		return Result{Outcome: FailMalformed, Err: ErrBadUTF8}
	}

	var raw map[string]any
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		// jsoniter returns an error for syntactically invalid JSON and
		// also when the top-level value isn't an object (e.g. an array
		// or scalar) when unmarshaling into a map.
		return Result{Outcome: FailMalformed, Err: errors.Wrap(classify(headerBytes), err.Error())}
	}
	if raw == nil {
		// a top-level JSON null unmarshals into a map without error
		return Result{Outcome: FailMalformed, Err: ErrJSONSemantics}
	}

	obj := object.FromHeaderMap(raw)

	rest := buf[idx+1:]
	if obj.HasPayload() {
		need := int(obj.Size)
		if len(rest) < need {
			return Result{Outcome: NeedMorePayload}
		}
		obj.Payload = append([]byte(nil), rest[:need]...)
		obj.AssertWellFormed()
		res := Result{Outcome: Complete, Object: obj, Consumed: idx + 1 + need}
		debug.Assert(res.Consumed <= len(buf), "wire: consumed more than buffered")
		return res
	}
	obj.AssertWellFormed()
	res := Result{Outcome: Complete, Object: obj, Consumed: idx + 1}
	debug.Assert(res.Consumed <= len(buf), "wire: consumed more than buffered")
	return res
}

// classify distinguishes a syntax failure from a semantic one (valid JSON,
// wrong shape) so FailMalformed carries the right sentinel.
func classify(headerBytes []byte) error {
	var v any
	if err := json.Unmarshal(headerBytes, &v); err != nil {
		return ErrJSONSyntax
	}
	if _, ok := v.(map[string]any); !ok {
		return ErrJSONSemantics
	}
	return ErrJSONSyntax
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// Encode serializes o into a contiguous byte sequence: header JSON, NUL,
// payload. Metadata is written first and event/type/size last so they
// override any colliding metadata key — see object.Object.ToHeaderMap.
func Encode(o *object.Object) ([]byte, error) {
	hdr, err := json.Marshal(o.ToHeaderMap())
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode header")
	}
	out := make([]byte, 0, len(hdr)+1+len(o.Payload))
	out = append(out, hdr...)
	out = append(out, delimiter)
	if o.HasPayload() {
		out = append(out, o.Payload...)
	}
	return out, nil
}
