// Package natssink republishes messenger events on NATS subjects, one subject
// per message type, so application protocols can be consumed by any NATS
// subscriber.
package natssink

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/Zereker/jsonmessenger"
)

// Header keys set on every published message.
const (
	HeaderConn    = "Messenger-Conn"
	HeaderSession = "Messenger-Session"
	HeaderError   = "Messenger-Error"
	HeaderReason  = "Messenger-Reason"
)

// errorToken is the last subject token used for undecodable messages.
const errorToken = "_error"

// Publisher is the subset of *nats.Conn used by the sink.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Envelope is the JSON body of a published event.
type Envelope struct {
	Conn       string          `json:"conn"`
	Session    string          `json:"session"`
	RemoteAddr string          `json:"remote_addr,omitempty"`
	Time       time.Time       `json:"time"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	Error      string          `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Sink publishes events to "<prefix>.<type>".
type Sink struct {
	pub    Publisher
	prefix string
	logger jsonmessenger.Logger
}

// New returns a sink publishing through pub under prefix.
func New(pub Publisher, prefix string, logger jsonmessenger.Logger) *Sink {
	return &Sink{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return nc, nil
}

// Subject returns the subject ev is published on. Undecodable messages go to
// "<prefix>._error"; drop notices keep their disconnect subject.
func (s *Sink) Subject(ev jsonmessenger.Event) string {
	if ev.Kind == jsonmessenger.KindInvalid {
		return s.prefix + "." + errorToken
	}
	return s.prefix + "." + subjectToken(ev.Type)
}

// Emit publishes ev. Failures are logged and otherwise ignored, as a broker
// outage must not affect the connection the event came from.
func (s *Sink) Emit(ev jsonmessenger.Event) {
	env := Envelope{
		Conn:       ev.Conn.String(),
		Session:    ev.Session,
		RemoteAddr: ev.RemoteAddr,
		Time:       ev.Time,
		Type:       ev.Type,
		Payload:    ev.Payload,
	}
	if ev.Err != nil {
		env.Error = ev.Err.Error()
		env.Raw = string(ev.Raw)
	}
	if ev.Reason != nil {
		env.Reason = ev.Reason.Error()
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("encode event", "conn", ev.Conn, "error", err)
		return
	}

	msg := nats.NewMsg(s.Subject(ev))
	msg.Data = data
	msg.Header.Set(HeaderConn, env.Conn)
	msg.Header.Set(HeaderSession, ev.Session)
	if env.Error != "" {
		msg.Header.Set(HeaderError, env.Error)
	}
	if env.Reason != "" {
		msg.Header.Set(HeaderReason, env.Reason)
	}

	if err := s.pub.PublishMsg(msg); err != nil {
		s.logger.Warn("publish event", "subject", msg.Subject, "conn", ev.Conn,
			"error", errors.Wrap(err, "nats publish"))
	}
}

// subjectToken makes a message type usable as a single subject token.
func subjectToken(typ string) string {
	if typ == "" {
		return "_empty"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, typ)
}
