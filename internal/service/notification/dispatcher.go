package notification

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/oklog/ulid/v2"
)

var ErrQueueFull = errors.New("notification: dispatch queue full")

const (
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 4
	// DefaultMinInterval keeps sends under Telegram's per-chat ceiling.
	DefaultMinInterval = time.Second
)

type DispatcherOption func(d *Dispatcher)

func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		d.queueSize = size
	}
}

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxAttempts = n
	}
}

func WithMinInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.minInterval = interval
	}
}

func WithRetryBackoff(min, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.retryMin = min
		d.retryMax = max
	}
}

// Dispatcher owns the outbound queue. One goroutine drains it, so at
// most one send is ever in flight and channel order matches enqueue
// order. Transient failures retry with bounded backoff; a message that
// exhausts its attempts is logged as permanently failed, never silently
// dropped.
type Dispatcher struct {
	notifier Notifier
	queue    chan Message

	queueSize   int
	maxAttempts int
	minInterval time.Duration
	retryMin    time.Duration
	retryMax    time.Duration
}

func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier:    notifier,
		queueSize:   DefaultQueueSize,
		maxAttempts: DefaultMaxAttempts,
		minInterval: DefaultMinInterval,
		retryMin:    500 * time.Millisecond,
		retryMax:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Message, d.queueSize)
	return d
}

// Enqueue accepts a message body for delivery. Non-blocking: a full
// queue returns ErrQueueFull so producers (the apply loop among them)
// are never stalled by the channel being down.
func (d *Dispatcher) Enqueue(body string) error {
	msg := Message{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Body:      body,
		CreatedAt: time.Now(),
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		slog.Error("notification dropped, queue full", "id", msg.ID)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var lastSend time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.queue:
			if wait := d.minInterval - time.Since(lastSend); wait > 0 {
				if !sleep(ctx, wait) {
					return ctx.Err()
				}
			}
			d.deliver(ctx, msg)
			lastSend = time.Now()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	bo := &backoff.Backoff{
		Min:    d.retryMin,
		Max:    d.retryMax,
		Factor: 2,
		Jitter: true,
	}

	for msg.Attempts < d.maxAttempts {
		msg.Attempts++
		err := d.notifier.Send(ctx, msg.Body)
		if err == nil {
			slog.Debug("notification delivered", "id", msg.ID, "attempts", msg.Attempts)
			return
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("notification send failed",
			"id", msg.ID, "attempt", msg.Attempts, "max_attempts", d.maxAttempts, "error", err)
		if msg.Attempts < d.maxAttempts && !sleep(ctx, bo.Duration()) {
			return
		}
	}
	slog.Error("notification permanently failed",
		"id", msg.ID, "attempts", msg.Attempts, "created_at", msg.CreatedAt, "body_len", len(msg.Body))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
