package object

import "fmt"

// FromHeaderMap builds an Object from a decoded JSON header mapping,
// promoting the reserved keys (event, type, size) into named fields. Type
// coercion: event must be a string, type must be a string, size must be a
// non-negative integer — a present-but-wrong-typed size (negative or
// non-integral included) is simply ignored and treated as absent.
func FromHeaderMap(m map[string]any) *Object {
	o := New()
	for k, v := range m {
		switch k {
		case KeyEvent:
			if s, ok := v.(string); ok {
				o.Event = s
			}
		case KeyType:
			if s, ok := v.(string); ok {
				o.Type = s
			}
		case KeySize:
			if n, ok := asNonNegInt(v); ok {
				o.Size = n
				o.HasSize = true
			}
		default:
			o.Metadata[k] = v
		}
	}
	return o
}

// asNonNegInt coerces a decoded JSON number to a non-negative int64. jsoniter
// decodes unconstrained numbers as float64 by default under the
// compatible-with-standard-library config; a non-integral or negative value
// is rejected rather than truncated.
func asNonNegInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// ToHeaderMap serializes o back into a single mapping: metadata is copied
// in first, then event/type/size are written last so they override any
// colliding metadata key. The ordering is intentional and must be
// preserved by any reimplementation of this method.
func (o *Object) ToHeaderMap() map[string]any {
	m := make(map[string]any, len(o.Metadata)+3)
	for k, v := range o.Metadata {
		m[k] = v
	}
	if o.Event != "" {
		m[KeyEvent] = o.Event
	}
	if o.Type != "" {
		m[KeyType] = o.Type
	}
	if o.HasSize {
		m[KeySize] = o.Size
	}
	return m
}

func (o *Object) String() string {
	return fmt.Sprintf("obj[event=%q type=%q size=%d meta=%d]", o.Event, o.Type, o.Size, len(o.Metadata))
}
