package jsonmessenger

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Default messenger configuration.
const (
	// DefaultEchoThreshold is the number of unanswered echo requests tolerated.
	DefaultEchoThreshold = 3
	// defaultCheckInterval is used when heartbeats are disabled by default.
	defaultCheckInterval = time.Second
)

// ErrInvalidEchoThreshold is returned by New for a negative echo threshold.
var ErrInvalidEchoThreshold = errors.New("invalid echo threshold")

// ErrInvalidIdleThreshold is returned by New for a negative idle threshold.
var ErrInvalidIdleThreshold = errors.New("invalid idle threshold")

// Messenger ties the framer, registry, liveness monitor and dispatcher
// together. The transport side reports connections and raw blocks through
// NotifyConnect, DeliverBlock and NotifyDisconnect; Handle does all three for
// a net.Conn and can be passed straight to Server.Serve.
type Messenger struct {
	opts       messengerOptions
	registry   *Registry
	dispatcher *Dispatcher
	monitor    *Monitor
	metrics    *Metrics
	logger     Logger
}

// New creates a messenger.
func New(opt ...MessengerOption) (*Messenger, error) {
	var opts messengerOptions
	for _, o := range opt {
		o(&opts)
	}

	if opts.idleThreshold < 0 {
		return nil, ErrInvalidIdleThreshold
	}
	if opts.echoThreshold < 0 {
		return nil, ErrInvalidEchoThreshold
	}
	if opts.echoThreshold == 0 {
		opts.echoThreshold = DefaultEchoThreshold
	}
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}
	if opts.checkInterval <= 0 {
		opts.checkInterval = opts.idleThreshold / 4
		if opts.checkInterval <= 0 {
			opts.checkInterval = defaultCheckInterval
		}
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if opts.sink == nil {
		opts.sink = discardSink()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	metrics, err := NewMetrics(opts.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	m := &Messenger{
		opts:     opts,
		registry: NewRegistry(),
		metrics:  metrics,
		logger:   opts.logger,
	}

	m.dispatcher = newDispatcher(opts.sink, opts.logger, metrics)
	m.dispatcher.now = opts.now

	m.monitor = &Monitor{
		registry:  m.registry,
		threshold: opts.echoThreshold,
		interval:  opts.checkInterval,
		now:       opts.now,
		logger:    opts.logger,
		metrics:   metrics,
		drop:      m.dropLocked,
		flush:     m.dispatcher.flush,
	}

	return m, nil
}

// Registry returns the connection registry.
func (m *Messenger) Registry() *Registry {
	return m.registry
}

// Monitor returns the liveness monitor.
func (m *Messenger) Monitor() *Monitor {
	return m.monitor
}

// Run runs the liveness monitor until ctx is done.
func (m *Messenger) Run(ctx context.Context) error {
	return m.monitor.Run(ctx)
}

// NotifyConnect registers a new transport with fresh framing and liveness state.
func (m *Messenger) NotifyConnect(t Transport) ConnID {
	s := newSession(t, m.opts.maxMessageSize, m.opts.idleThreshold, m.opts.now())
	id := m.registry.Add(s)
	m.metrics.connected()
	m.logger.Info("connection established", "conn", id, "session", s.uuid, "addr", s.RemoteAddr())

	if m.opts.notifyOnConnect {
		s.mu.Lock()
		m.dispatcher.emit(s, Event{Kind: KindConnect, Type: TypeConnect})
		s.mu.Unlock()
		m.dispatcher.flush(s)
	}
	return id
}

// NotifyDisconnect forgets a connection closed by the transport. It is a
// no-op for connections that are already gone.
func (m *Messenger) NotifyDisconnect(id ConnID) {
	s, ok := m.registry.Remove(id)
	if !ok {
		return
	}

	defer m.dispatcher.flush(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.finishLocked(s, nil)
}

// DeliverBlock feeds a block read from connection id to its framer and
// dispatches every message it completes, in order. Resulting events reach the
// sink after the session lock is released. Blocks for unknown or
// dropped connections are discarded. A framing error drops the connection
// and is returned so the transport can stop reading.
func (m *Messenger) DeliverBlock(id ConnID, block []byte) error {
	s, err := m.registry.Lookup(id)
	if err != nil {
		m.logger.Debug("block for unknown connection discarded", "conn", id, "size", len(block))
		return nil
	}

	defer m.dispatcher.flush(s)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	m.metrics.received(len(block))

	msgs, ferr := s.framer.Feed(block)
	for _, raw := range msgs {
		s.touch(m.opts.now())
		m.dispatcher.Handle(s, raw)
	}

	if ferr != nil {
		m.metrics.framingError()
		m.logger.Warn("dropping connection on framing error", "conn", id, "session", s.uuid, "error", ferr)
		m.dropLocked(s, ferr)
		return ferr
	}
	return nil
}

// Drop closes connection id and removes it from the registry.
func (m *Messenger) Drop(id ConnID, reason error) error {
	s, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}

	defer m.dispatcher.flush(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.dropLocked(s, reason)
	return nil
}

// Handle runs a network connection until it closes or ctx is done.
// It implements Handler.
func (m *Messenger) Handle(ctx context.Context, conn net.Conn) {
	var id ConnID

	opts := make([]Option, 0, len(m.opts.connOpts)+2)
	opts = append(opts, LoggerOption(m.logger))
	opts = append(opts, m.opts.connOpts...)
	opts = append(opts, OnBlockOption(func(block []byte) error {
		return m.DeliverBlock(id, block)
	}))

	c, err := NewConn(conn, opts...)
	if err != nil {
		m.logger.Error("connection setup failed", "addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	id = m.NotifyConnect(c)
	_ = c.Run(ctx)
	m.NotifyDisconnect(id)
}

// dropLocked must be called with s.mu held.
func (m *Messenger) dropLocked(s *Session, reason error) {
	if _, ok := m.registry.Remove(s.id); ok {
		m.finishLocked(s, reason)
	}
	s.closed = true
	s.echo.State = StateDropped
	_ = s.transport.Close()
}

// finishLocked must be called with s.mu held, once, after s left the registry.
func (m *Messenger) finishLocked(s *Session, reason error) {
	s.closed = true
	m.metrics.disconnected()
	m.logger.Info("connection closed", "conn", s.id, "session", s.uuid,
		"messages", s.received, "error", reason)

	if m.opts.notifyOnConnect {
		m.dispatcher.emit(s, Event{Kind: KindDisconnect, Type: TypeDisconnect, Reason: reason})
	}
}
