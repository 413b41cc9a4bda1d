// pkg/binance/transport.go
package binance

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one physical connection. WriteJSON, Ping and Read may be called
// from different goroutines; Close must be idempotent.
type Conn interface {
	WriteJSON(ctx context.Context, v any) error
	Ping(ctx context.Context) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// wsDialer dials gorilla websocket connections. Inbound frames are pumped
// into a channel of depth frames; when it is full the pump stops reading and
// TCP flow control pushes back on the server.
type wsDialer struct {
	dialer       *websocket.Dialer
	depth        int
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func newWSDialer(cfg Config) *wsDialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		depth:        cfg.MaxQueueDepth,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.PingInterval + cfg.PongWait,
	}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &wsConn{
		conn:         conn,
		frames:       make(chan []byte, d.depth),
		done:         make(chan struct{}),
		writeTimeout: d.writeTimeout,
		readTimeout:  d.readTimeout,
	}
	// Молчащий пир: без кадров и pong за readTimeout ReadMessage вернёт ошибку.
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	go c.readPump()
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	frames       chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	readTimeout  time.Duration

	wmu sync.Mutex // gorilla allows one concurrent writer

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) readPump() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
		c.extendReadDeadline()
	}
}

func (c *wsConn) extendReadDeadline() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.frames:
		if ok {
			return data, nil
		}
		c.errMu.Lock()
		defer c.errMu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, ErrConnectionInactive
	}
}

func (c *wsConn) WriteJSON(ctx context.Context, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	return c.conn.WriteJSON(v)
}

// Ping is a control frame; gorilla allows it concurrently with WriteJSON.
func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline(ctx))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.writeTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
