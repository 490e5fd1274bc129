package wire

import "github.com/pkg/errors"

// Decode error taxonomy. Sentinel errors are wrapped with pkg/errors at
// the call site so callers can both test against a category and print the
// underlying detail. A buffer with no NUL terminator yet is not an error —
// that is the NeedMoreHeader outcome.
var (
	// ErrBadUTF8: the header slice is not valid UTF-8.
	ErrBadUTF8 = errors.New("wire: header is not valid utf-8")
	// ErrJSONSyntax: the header failed to parse as JSON.
	ErrJSONSyntax = errors.New("wire: header is not valid json")
	// ErrJSONSemantics: the header parsed but was not a JSON object at the
	// top level.
	ErrJSONSemantics = errors.New("wire: header is not a json object")
	// ErrEmptyHeader: the stream begins with 0x00 (empty header slice).
	ErrEmptyHeader = errors.New("wire: empty header before frame terminator")
)

// IsMalformed reports whether err is one of the fatal FailMalformed causes
// that must disconnect the offending session; a decode error on one client
// never affects any other.
func IsMalformed(err error) bool {
	switch errors.Cause(err) {
	case ErrBadUTF8, ErrJSONSyntax, ErrJSONSemantics, ErrEmptyHeader:
		return true
	default:
		return false
	}
}
