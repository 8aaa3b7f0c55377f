package jsonmessenger

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler serves the messenger over WebSocket. The payload of every
// frame is delivered to the framer as a raw block, so a JSON message may span
// frames and one frame may carry several messages, exactly as on a socket.
type WebSocketHandler struct {
	messenger *Messenger
	ctx       context.Context
	upgrader  websocket.Upgrader

	bufferSize   int
	writeTimeout time.Duration
}

// NewWebSocketHandler returns an http.Handler feeding m. Connections it
// accepts are closed when ctx is done.
func NewWebSocketHandler(ctx context.Context, m *Messenger) *WebSocketHandler {
	return &WebSocketHandler{
		messenger: m,
		ctx:       ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultReadBufferSize,
			WriteBufferSize: defaultReadBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bufferSize:   defaultBufferSize,
		writeTimeout: defaultWriteTimeout,
	}
}

// ServeHTTP upgrades the request and runs the connection until either side closes it.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.messenger.logger.Debug("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	t := &wsTransport{
		conn:         ws,
		send:         make(chan []byte, h.bufferSize),
		done:         make(chan struct{}),
		writeTimeout: h.writeTimeout,
	}
	id := h.messenger.NotifyConnect(t)
	defer h.messenger.NotifyDisconnect(id)
	defer t.Close()

	go t.writeLoop()
	go func() {
		select {
		case <-h.ctx.Done():
			_ = t.Close()
		case <-t.done:
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := h.messenger.DeliverBlock(id, data); err != nil {
			return
		}
	}
}

// wsTransport queues writes for a single writer goroutine, since a
// websocket.Conn supports one concurrent writer.
type wsTransport struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closed       atomic.Bool
	writeTimeout time.Duration
}

func (t *wsTransport) Write(b []byte) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case t.send <- b:
		return nil
	default:
		return ErrBufferFull
	}
}

func (t *wsTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	return t.conn.Close()
}

func (t *wsTransport) Addr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case b := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = t.Close()
				return
			}
		}
	}
}
