package jsonmessenger

import (
	"time"

	"github.com/pkg/errors"
)

// Dispatcher routes framed messages by type. Echo traffic is handled in
// place; every other message is queued on its session, together with the
// identity of the connection, and handed to the sink by flush.
type Dispatcher struct {
	sink    Sink
	logger  Logger
	metrics *Metrics
	now     func() time.Time
}

func newDispatcher(sink Sink, logger Logger, metrics *Metrics) *Dispatcher {
	if sink == nil {
		sink = discardSink()
	}
	if logger == nil {
		logger = defaultLogger()
	}
	return &Dispatcher{sink: sink, logger: logger, metrics: metrics, now: time.Now}
}

// Handle decodes raw and acts on it. It must be called with s.mu held, which
// keeps dispatch for one connection in arrival order.
func (d *Dispatcher) Handle(s *Session, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		d.metrics.decodeError()
		d.logger.Debug("message decode failed", "conn", s.id, "session", s.uuid, "error", err)
		d.emit(s, Event{Kind: KindInvalid, Raw: raw, Err: err})
		return
	}
	d.metrics.message(msg.Kind, len(raw))

	switch msg.Kind {
	case KindEcho:
		d.handleEcho(s, msg)
	case KindPing:
		d.logger.Debug("ping", "conn", s.id, "session", s.uuid, "payload", string(msg.Payload))
		d.forward(s, msg)
	case KindConnect:
		s.announced = true
		d.logger.Debug("peer connect notice", "conn", s.id, "session", s.uuid)
		d.forward(s, msg)
	case KindDisconnect:
		s.announced = false
		d.logger.Debug("peer disconnect notice", "conn", s.id, "session", s.uuid)
		d.forward(s, msg)
	default:
		d.forward(s, msg)
	}
}

func (d *Dispatcher) handleEcho(s *Session, msg *Message) {
	if msg.IsEchoReply() {
		id, _ := msg.EchoID()
		d.logger.Debug("echo reply", "conn", s.id, "session", s.uuid, "echo_id", id)
		return
	}

	if err := s.transport.Write(EchoReply(msg)); err != nil {
		d.logger.Warn("echo reply not sent", "conn", s.id, "session", s.uuid,
			"error", errors.Wrap(err, "write echo reply"))
		return
	}
	d.metrics.echoReply()
}

func (d *Dispatcher) forward(s *Session, msg *Message) {
	d.emit(s, Event{
		Kind:    msg.Kind,
		Type:    msg.Type,
		Payload: msg.Payload,
		Raw:     msg.Raw,
	})
}

// emit queues ev on s. It must be called with s.mu held.
func (d *Dispatcher) emit(s *Session, ev Event) {
	ev.Conn = s.id
	ev.Session = s.uuid
	ev.RemoteAddr = s.RemoteAddr()
	ev.Time = d.now()
	s.outbox = append(s.outbox, ev)
}

// flush hands the events queued on s to the sink, in order, without holding
// s.mu. If another goroutine is already flushing s, that goroutine delivers
// the events instead; this keeps Emit calls for one connection sequential
// and lets the sink call back into the messenger.
func (d *Dispatcher) flush(s *Session) {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true

	for len(s.outbox) > 0 {
		events := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		for _, ev := range events {
			d.sink.Emit(ev)
		}

		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}
