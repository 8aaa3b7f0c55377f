package jsonmessenger

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestReadTimeoutOption(t *testing.T) {
	timeout := time.Minute * 5
	opt := ReadTimeoutOption(timeout)

	var opts options
	opt(&opts)

	if opts.readTimeout != timeout {
		t.Errorf("readTimeout = %v, want %v", opts.readTimeout, timeout)
	}
}

func TestReadBufferSizeOption(t *testing.T) {
	opt := ReadBufferSizeOption(4096)

	var opts options
	opt(&opts)

	if opts.readBufferSize != 4096 {
		t.Errorf("readBufferSize = %d, want 4096", opts.readBufferSize)
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	onError := func(err error) ErrorAction {
		called = true
		return Disconnect
	}
	opt := OnErrorOption(onError)

	var opts options
	opt(&opts)

	if opts.onError == nil {
		t.Fatal("onError is nil")
	}

	// Call to verify it's the right function
	opts.onError(nil)
	if !called {
		t.Error("onError callback not called")
	}
}

func TestOnBlockOption(t *testing.T) {
	var got []byte
	opt := OnBlockOption(func(b []byte) error {
		got = b
		return nil
	})

	var opts options
	opt(&opts)

	if opts.onBlock == nil {
		t.Fatal("onBlock is nil")
	}

	_ = opts.onBlock([]byte("{}"))
	if string(got) != "{}" {
		t.Errorf("onBlock received %q, want %q", got, "{}")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestErrorAction(t *testing.T) {
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}
	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}

func TestMessengerOptions(t *testing.T) {
	sink := SinkFunc(func(Event) {})
	logger := &mockLogger{}
	reg := prometheus.NewRegistry()
	now := func() time.Time { return time.Unix(0, 0) }

	var opts messengerOptions
	for _, opt := range []MessengerOption{
		SinkOption(sink),
		MessengerLoggerOption(logger),
		MetricsOption(reg),
		IdleThresholdOption(30 * time.Second),
		EchoThresholdOption(5),
		CheckIntervalOption(time.Second),
		MaxMessageSizeOption(2048),
		NotifyOnConnectOption(true),
		ClockOption(now),
		ConnOptions(BufferSizeOption(4), ReadTimeoutOption(time.Minute)),
	} {
		opt(&opts)
	}

	if opts.sink == nil {
		t.Error("sink not set")
	}
	if opts.logger != logger {
		t.Error("logger not set")
	}
	if opts.metrics != reg {
		t.Error("metrics registerer not set")
	}
	if opts.idleThreshold != 30*time.Second {
		t.Errorf("idleThreshold = %v, want 30s", opts.idleThreshold)
	}
	if opts.echoThreshold != 5 {
		t.Errorf("echoThreshold = %d, want 5", opts.echoThreshold)
	}
	if opts.checkInterval != time.Second {
		t.Errorf("checkInterval = %v, want 1s", opts.checkInterval)
	}
	if opts.maxMessageSize != 2048 {
		t.Errorf("maxMessageSize = %d, want 2048", opts.maxMessageSize)
	}
	if !opts.notifyOnConnect {
		t.Error("notifyOnConnect not set")
	}
	if !opts.now().Equal(time.Unix(0, 0)) {
		t.Error("clock not set")
	}
	if len(opts.connOpts) != 2 {
		t.Errorf("connOpts has %d entries, want 2", len(opts.connOpts))
	}
}
