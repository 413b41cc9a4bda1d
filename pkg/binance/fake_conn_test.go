package binance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	frames chan []byte
	writes chan ControlMessage

	writeErr error
	pingErr  error
	pings    atomic.Int32

	mu     sync.Mutex
	sentAt []time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		writes: make(chan ControlMessage, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) WriteJSON(_ context.Context, v any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case <-f.closed:
		return ErrConnectionInactive
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sentAt = append(f.sentAt, time.Now())
	f.mu.Unlock()
	f.writes <- m
	return nil
}

// sendTimes returns when each control message was written.
func (f *fakeConn) sendTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sentAt...)
}

func (f *fakeConn) Ping(context.Context) error {
	f.pings.Add(1)
	return f.pingErr
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, ErrConnectionInactive
	case b := <-f.frames:
		return b, nil
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out prepared conns in order, then fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	at    []time.Time
	dials chan string
}

var errNoConn = errors.New("fake: no more connections")

func newFakeDialer(conns ...*fakeConn) *fakeDialer {
	return &fakeDialer{conns: conns, dials: make(chan string, 64)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.at = append(d.at, time.Now())
	select {
	case d.dials <- url:
	default:
	}
	if len(d.conns) == 0 {
		return nil, errNoConn
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.at...)
}
