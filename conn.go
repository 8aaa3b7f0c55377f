// Package jsonmessenger frames JSON messages out of raw socket streams and
// keeps the connections carrying them alive.
//
// Bytes arrive on a connection in arbitrary blocks. A per-connection framer
// counts braces and brackets to find where each JSON text ends, and every
// complete text is decoded and dispatched by its "type" field: echo requests
// are answered in place, everything else is handed to an application Sink.
// Idle connections are probed with echo requests and dropped when they stop
// answering.
package jsonmessenger

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnBlock is returned when no block handler is provided.
	ErrInvalidOnBlock = errors.New("invalid on block callback")
	// ErrMessageTooLarge is returned when a message exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is a raw byte-stream connection over TCP or TLS.
// A read loop hands every block read from the socket to the block handler,
// and a write loop drains a buffered queue of outgoing bytes.
type Conn struct {
	rawConn net.Conn
	logger  Logger

	opts options

	sendMsg chan []byte
	closed  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the send channel buffer.
	defaultBufferSize = 16
	// defaultReadBufferSize is the default size of a single socket read.
	defaultReadBufferSize = 4096
	// defaultWriteTimeout bounds a single socket write.
	defaultWriteTimeout = 10 * time.Second
	// defaultMaxMessageSize is the default maximum size of a single message (1MB).
	defaultMaxMessageSize = 1024 * 1024
)

// NewConn creates a new connection wrapper around the given network connection.
// It applies the provided options and validates them before returning.
// Returns an error if the block handler is missing.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.onBlock == nil {
		return ErrInvalidOnBlock
	}

	if opts.readTimeout < 0 {
		opts.readTimeout = 0
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(c net.Conn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}
}

// Run starts the connection's read and write loops.
// It creates two goroutines for concurrent reading and writing,
// and blocks until an error occurs or the context is canceled.
// The connection is automatically closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"read_buffer_size", c.opts.readBufferSize,
		"read_timeout", c.opts.readTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Unblock a pending Read once either loop gives up.
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return nil
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) && !c.closedByUs(err) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Debug("connection closed", "addr", c.Addr())
	}

	return err
}

// Close closes the connection. It cancels Run and closes the socket.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ErrBufferFull is returned when the send buffer is full and cannot accept more messages.
// This error indicates backpressure - the receiver is not consuming messages fast enough.
var ErrBufferFull = errors.New("send buffer full")

// Write queues b for sending without blocking.
//
// Returns:
//   - nil: bytes were queued (not yet sent)
//   - ErrBufferFull: send buffer is full, bytes were NOT queued
//   - ErrConnectionClosed: connection is closed
func (c *Conn) Write(b []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.sendMsg <- b:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues b, blocking until there is room or the context is canceled.
//
// Returns:
//   - nil: bytes were queued
//   - context.Canceled or context.DeadlineExceeded: context was canceled
//   - ErrConnectionClosed: connection is closed
func (c *Conn) WriteBlocking(ctx context.Context, b []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.sendMsg <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout queues b, waiting at most timeout for room in the buffer.
//
// Returns:
//   - nil: bytes were queued
//   - ErrBufferFull: timeout expired before the bytes could be queued
//   - ErrConnectionClosed: connection is closed
func (c *Conn) WriteTimeout(b []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.sendMsg <- b:
		return nil
	case <-time.After(timeout):
		return ErrBufferFull
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop reads from the socket and hands each block to the block handler.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, c.opts.readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.opts.readTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.readTimeout))
		}

		n, err := c.rawConn.Read(buf)
		if n > 0 {
			block := make([]byte, n)
			copy(block, buf[:n])
			if herr := c.opts.onBlock(block); herr != nil {
				return herr
			}
		}
		if err != nil {
			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			if errors.Is(err, io.EOF) || c.closedByUs(err) || c.opts.onError(err) == Disconnect {
				return err
			}
		}
	}
}

// writeLoop continuously sends queued bytes to the connection.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends data to the connection with a deadline.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the error is suppressed and writing continues.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))

	_, err := c.rawConn.Write(data)

	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closedByUs reports whether err is the result of Close being called locally.
func (c *Conn) closedByUs(err error) bool {
	return c.closed.Load() && errors.Is(err, net.ErrClosed)
}

// closeConn marks the connection as closed and closes the underlying socket.
func (c *Conn) closeConn() {
	if !c.closed.Swap(true) {
		c.rawConn.Close()
	}
}
