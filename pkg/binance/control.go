// pkg/binance/control.go
package binance

import (
	"context"
	"sync"
	"time"
)

const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
)

// ControlMessage is the outbound SUBSCRIBE/UNSUBSCRIBE frame. ID is assigned
// right before the frame is written.
type ControlMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// controlQueue is an unbounded FIFO with a bounded-wait Pop and PushFront
// for retrying a message that failed to send.
type controlQueue struct {
	mu     sync.Mutex
	items  []ControlMessage
	notify chan struct{}
}

func newControlQueue() *controlQueue {
	return &controlQueue{notify: make(chan struct{}, 1)}
}

func (q *controlQueue) Push(m ControlMessage) {
	q.mu.Lock()
	q.items = append(q.items, m)
	n := len(q.items)
	q.mu.Unlock()
	controlQueueDepth.Set(float64(n))
	q.wake()
}

// PushFront puts m back at the head so it is the first frame written on the
// next connection.
func (q *controlQueue) PushFront(m ControlMessage) {
	q.mu.Lock()
	q.items = append([]ControlMessage{m}, q.items...)
	n := len(q.items)
	q.mu.Unlock()
	controlQueueDepth.Set(float64(n))
	q.wake()
}

// Pop waits up to wait for a message. ok is false on timeout or ctx done.
func (q *controlQueue) Pop(ctx context.Context, wait time.Duration) (ControlMessage, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if m, ok := q.tryPop(); ok {
			return m, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return ControlMessage{}, false
		case <-ctx.Done():
			return ControlMessage{}, false
		}
	}
}

func (q *controlQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *controlQueue) tryPop() (ControlMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return ControlMessage{}, false
	}
	m := q.items[0]
	q.items[0] = ControlMessage{}
	q.items = q.items[1:]
	controlQueueDepth.Set(float64(len(q.items)))
	return m, true
}

func (q *controlQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
