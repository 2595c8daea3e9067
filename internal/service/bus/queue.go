package bus

import (
	"context"
	"errors"

	"github.com/langdon0003/trading-monitor/internal/service/event"
)

var ErrClosed = errors.New("bus: queue closed")

const DefaultQueueSize = 128

// Queue is the bounded FIFO channel between one session worker and the
// aggregator. Publish blocks when the queue is full so a backlogged
// account applies backpressure to its own worker only; it never grows
// unbounded.
type Queue struct {
	accountID int64
	ch        chan event.TradeEvent
	done      chan struct{}
}

func NewQueue(accountID int64, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		accountID: accountID,
		ch:        make(chan event.TradeEvent, size),
		done:      make(chan struct{}),
	}
}

func (q *Queue) AccountID() int64 {
	return q.accountID
}

// Publish enqueues ev, blocking while the queue is full. The event is
// either fully enqueued or not at all: a cancelled context or a closed
// queue leaves nothing half-delivered.
func (q *Queue) Publish(ctx context.Context, ev event.TradeEvent) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the consumer side. Consumers must also watch Done: the event
// channel itself is never closed, which keeps a publisher blocked in
// Publish from racing a close.
func (q *Queue) C() <-chan event.TradeEvent {
	return q.ch
}

// Done is closed when the queue is retired. Events enqueued before the
// close remain readable on C.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close retires the queue. Safe to call more than once from the owning
// goroutine.
func (q *Queue) Close() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}
