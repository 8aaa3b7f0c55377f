package jsonmessenger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger Logger

	// onBlock receives every block read from the socket, in order.
	onBlock func(block []byte) error
	// onError is called when an error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize     int           // size of buffered send channel
	readBufferSize int           // size of a single socket read
	readTimeout    time.Duration // read deadline, zero disables it
	writeTimeout   time.Duration // write deadline
}

// Option is a function that configures connection options.
type Option func(*options)

// OnBlockOption returns an Option that sets the block handler.
// It is required and is invoked for every read, with a slice the handler owns.
func OnBlockOption(cb func(block []byte) error) Option {
	return func(o *options) {
		o.onBlock = cb
	}
}

// BufferSizeOption returns an Option that sets the size of the send channel buffer.
// A larger buffer allows more writes to be queued before ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes a single
// socket read may deliver.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// ReadTimeoutOption returns an Option that sets a read deadline renewed before
// every read. Zero leaves reads without a deadline, which is the default since
// peer liveness is tracked by echo requests.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that sets the deadline of each socket write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// messengerOptions holds the configuration for a Messenger.
type messengerOptions struct {
	sink    Sink
	logger  Logger
	metrics prometheus.Registerer
	now     func() time.Time

	idleThreshold   time.Duration // zero disables echo requests
	echoThreshold   int           // unanswered echo requests before a drop
	checkInterval   time.Duration // liveness evaluation period
	maxMessageSize  int
	notifyOnConnect bool

	connOpts []Option
}

// MessengerOption configures a Messenger.
type MessengerOption func(*messengerOptions)

// SinkOption sets where application events are delivered.
func SinkOption(sink Sink) MessengerOption {
	return func(o *messengerOptions) {
		o.sink = sink
	}
}

// MessengerLoggerOption sets the messenger logger.
func MessengerLoggerOption(logger Logger) MessengerOption {
	return func(o *messengerOptions) {
		o.logger = logger
	}
}

// MetricsOption registers the messenger collectors with reg.
func MetricsOption(reg prometheus.Registerer) MessengerOption {
	return func(o *messengerOptions) {
		o.metrics = reg
	}
}

// IdleThresholdOption sets how long a connection may stay silent before an
// echo request is sent. Zero disables heartbeats entirely.
func IdleThresholdOption(d time.Duration) MessengerOption {
	return func(o *messengerOptions) {
		o.idleThreshold = d
	}
}

// EchoThresholdOption sets how many echo requests may go unanswered before
// the connection is dropped.
func EchoThresholdOption(n int) MessengerOption {
	return func(o *messengerOptions) {
		o.echoThreshold = n
	}
}

// CheckIntervalOption sets how often the liveness monitor evaluates connections.
// It defaults to a quarter of the idle threshold.
func CheckIntervalOption(d time.Duration) MessengerOption {
	return func(o *messengerOptions) {
		o.checkInterval = d
	}
}

// MaxMessageSizeOption sets the largest message the framer accepts. Inert bytes
// buffered between messages count toward it, so a peer sending only
// whitespace is eventually dropped with ErrUnframedBytes.
func MaxMessageSizeOption(size int) MessengerOption {
	return func(o *messengerOptions) {
		o.maxMessageSize = size
	}
}

// NotifyOnConnectOption makes the messenger emit a connect event when a
// transport connects and a disconnect event when it goes away.
func NotifyOnConnectOption(enabled bool) MessengerOption {
	return func(o *messengerOptions) {
		o.notifyOnConnect = enabled
	}
}

// ClockOption replaces time.Now, mainly for tests.
func ClockOption(now func() time.Time) MessengerOption {
	return func(o *messengerOptions) {
		o.now = now
	}
}

// ConnOptions sets options applied to every Conn created by Messenger.Handle.
func ConnOptions(opts ...Option) MessengerOption {
	return func(o *messengerOptions) {
		o.connOpts = append(o.connOpts, opts...)
	}
}
