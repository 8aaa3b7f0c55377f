package jsonmessenger

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors reported by the framer, the dispatcher and the liveness monitor.
var (
	// ErrFraming is matched by every *FramingError.
	ErrFraming = errors.New("framing error")
	// ErrDecode is reported when a balanced message is not valid JSON.
	ErrDecode = errors.New("decode error")
	// ErrMissingType is reported when a decoded message has no string "type" field.
	ErrMissingType = errors.New("missing message type")
	// ErrLivenessTimeout is the reason attached to connections dropped by the liveness monitor.
	ErrLivenessTimeout = errors.New("liveness timeout")
	// ErrUnframedBytes is reported when inert bytes outside any message, such as
	// whitespace keepalives, exceed the message size limit.
	ErrUnframedBytes = errors.New("too many bytes outside a message")
	// ErrUnknownConnection is returned when a handle does not resolve to a live connection.
	ErrUnknownConnection = errors.New("unknown connection")
)

// FramingError reports an unbalanced closing token or an oversized message.
// The stream cannot be resynchronized after one, so the connection is dropped.
type FramingError struct {
	// Token is the offending byte, or 0 when the message grew past the size limit.
	Token byte
	// Offset is the position of Token within the pending message.
	Offset int
	// Err is the underlying cause, if any.
	Err error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("framing error: unbalanced %q at offset %d", e.Token, e.Offset)
}

// Is reports whether target is ErrFraming.
func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

// Unwrap returns the underlying cause.
func (e *FramingError) Unwrap() error {
	return e.Err
}
