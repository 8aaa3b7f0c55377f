package jsonmessenger

import (
	"encoding/json"
	"time"
)

// Event is what the messenger hands to the application: a dispatched message
// wrapped with the identity of the connection it arrived on, or a report that
// a message on that connection could not be decoded.
type Event struct {
	Conn       ConnID
	Session    string
	RemoteAddr string
	Time       time.Time

	Kind    MessageKind
	Type    string
	Payload json.RawMessage
	Raw     []byte

	// Err is set, with Kind KindInvalid, when a framed text could not be
	// decoded (ErrDecode, ErrMissingType).
	Err error
	// Reason is set on messenger-originated disconnect notices for dropped
	// connections: a *FramingError, ErrLivenessTimeout or the reason passed
	// to Drop.
	Reason error
}

// Sink receives events. Events of one connection are delivered one at a
// time and in arrival order. Emit runs without any messenger lock held, so it
// may call Drop on the connection an event came from.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) {
	f(ev)
}

// LogSink returns a sink that writes every event to logger.
func LogSink(logger Logger) Sink {
	return SinkFunc(func(ev Event) {
		switch {
		case ev.Err != nil:
			logger.Warn("undecodable message", "conn", ev.Conn, "session", ev.Session,
				"raw", string(ev.Raw), "error", ev.Err)
		case ev.Reason != nil:
			logger.Info("message event", "conn", ev.Conn, "session", ev.Session,
				"type", ev.Type, "reason", ev.Reason)
		default:
			logger.Info("message event", "conn", ev.Conn, "session", ev.Session,
				"type", ev.Type, "payload", string(ev.Payload))
		}
	})
}

func discardSink() Sink {
	return SinkFunc(func(Event) {})
}
