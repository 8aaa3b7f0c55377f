package jsonmessenger

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is the write side of a connection as seen by the messenger.
// Write must not block on the network; Conn queues and returns ErrBufferFull
// under backpressure.
type Transport interface {
	Write(b []byte) error
	Close() error
	Addr() net.Addr
}

// LivenessState is the heartbeat state of a session.
type LivenessState int

const (
	// StateActive means a message was seen within the idle threshold.
	StateActive LivenessState = iota
	// StateIdle means the idle threshold elapsed and no echo was sent yet.
	StateIdle
	// StateAwaitingEcho means echo requests are outstanding.
	StateAwaitingEcho
	// StateDropped is terminal.
	StateDropped
)

func (s LivenessState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateAwaitingEcho:
		return "awaiting_echo"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// EchoState is the liveness bookkeeping of one session.
type EchoState struct {
	State        LivenessState
	LastActivity time.Time
	LastEcho     time.Time
	// Outstanding counts echo requests sent without any message in return.
	Outstanding int

	nextID uint64
}

// Session is the messenger-side state of one connection: its framer, its
// liveness bookkeeping and the transport used to answer it.
type Session struct {
	id        ConnID
	uuid      string
	transport Transport
	created   time.Time

	mu            sync.Mutex
	framer        *Framer
	echo          EchoState
	idleThreshold time.Duration
	closed        bool
	announced     bool
	received      uint64

	// outbox holds events queued under mu; flushing is set while one
	// goroutine drains it to the sink.
	outbox   []Event
	flushing bool
}

func newSession(t Transport, maxMessageSize int, idle time.Duration, now time.Time) *Session {
	return &Session{
		uuid:          uuid.NewString(),
		transport:     t,
		created:       now,
		framer:        NewFramer(maxMessageSize),
		echo:          EchoState{State: StateActive, LastActivity: now},
		idleThreshold: idle,
	}
}

// ID returns the registry handle of the session.
func (s *Session) ID() ConnID {
	return s.id
}

// UUID returns the session's globally unique identifier.
func (s *Session) UUID() string {
	return s.uuid
}

// RemoteAddr returns the peer address, or "" if the transport has none.
func (s *Session) RemoteAddr() string {
	if a := s.transport.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Echo returns a copy of the liveness bookkeeping.
func (s *Session) Echo() EchoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.echo
}

// Counters returns a copy of the framing depth counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framer.Counters()
}

// Announced reports whether the peer sent a connect notice on this session.
func (s *Session) Announced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announced
}

// Closed reports whether the session was dropped or disconnected.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetIdleThreshold overrides the heartbeat idle threshold for this session.
// Zero disables echo traffic on it.
func (s *Session) SetIdleThreshold(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleThreshold = d
}

// touch must be called with s.mu held.
func (s *Session) touch(now time.Time) {
	s.echo.State = StateActive
	s.echo.LastActivity = now
	s.echo.Outstanding = 0
	s.received++
}

// newEchoID must be called with s.mu held.
func (s *Session) newEchoID() uint64 {
	s.echo.nextID++
	return s.echo.nextID
}
