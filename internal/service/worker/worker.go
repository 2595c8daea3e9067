package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/langdon0003/trading-monitor/internal/service/bus"
	"github.com/langdon0003/trading-monitor/internal/service/event"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
)

type ConnState string

const (
	StateDisconnected  ConnState = "disconnected"
	StateConnecting    ConnState = "connecting"
	StateAuthenticated ConnState = "authenticated"
	StateSubscribed    ConnState = "subscribed"
	StateFaulted       ConnState = "faulted"
)

// StateListener observes state transitions; reason is non-nil on
// transitions caused by an error.
type StateListener func(accountID int64, from, to ConnState, reason error)

type Option func(w *Worker)

func WithStateListener(l StateListener) Option {
	return func(w *Worker) {
		w.listener = l
	}
}

func WithReconnectBackoff(min, max time.Duration) Option {
	return func(w *Worker) {
		w.boMin = min
		w.boMax = max
	}
}

// WithConnectAttemptCap bounds consecutive failed connect attempts;
// past the cap Run returns so the supervisor's restart accounting and
// degraded alerting see the account.
func WithConnectAttemptCap(n int) Option {
	return func(w *Worker) {
		w.connectCap = n
	}
}

// Worker owns one account's venue session end to end: dial,
// authenticate, reconcile, pump events into the account's queue. It is
// its own failure domain; nothing it does can stall another account.
type Worker struct {
	accountID int64
	runID     string
	dialer    venue.Dialer
	queue     *bus.Queue

	listener   StateListener
	boMin      time.Duration
	boMax      time.Duration
	connectCap int

	mu        sync.Mutex
	state     ConnState
	conns     int          // successful connects this worker's life
	heartbeat atomic.Int64 // unix nano of the last venue message
	stop      context.CancelFunc
}

func New(accountID int64, dialer venue.Dialer, queue *bus.Queue, opts ...Option) *Worker {
	w := &Worker{
		accountID:  accountID,
		runID:      uuid.NewString(),
		dialer:     dialer,
		queue:      queue,
		state:      StateDisconnected,
		boMin:      time.Second,
		boMax:      2 * time.Minute,
		connectCap: 10,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) AccountID() int64 {
	return w.accountID
}

func (w *Worker) State() ConnState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Heartbeat is the time of the last message seen from the venue; zero
// before the first one.
func (w *Worker) Heartbeat() time.Time {
	ns := w.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stop cancels a running worker. Safe mid-handshake: the dial context
// is cancelled and the connection released.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Run drives the session state machine until the context ends or an
// unrecoverable error occurs. An authentication rejection returns
// venue.ErrAuth wrapped: fatal for this account, the caller must not
// restart. Transient failures reconnect with exponential backoff up to
// the connect-attempt cap, then Run returns so the supervisor's restart
// policy takes over. After each (re)connect the worker reconciles
// against queried venue state before pumping further deal events.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.stop = cancel
	w.mu.Unlock()

	log := slog.With("account", w.accountID, "run_id", w.runID)

	bo := &backoff.Backoff{
		Min:    w.boMin,
		Max:    w.boMax,
		Factor: 2,
		Jitter: true,
	}
	defer w.setState(StateDisconnected, nil)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.setState(StateConnecting, nil)
		sess, err := w.dialer.Dial(ctx, w.accountID)
		if err != nil {
			if errors.Is(err, venue.ErrAuth) {
				log.Error("authentication failed, retiring worker", "error", err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts++
			if attempts >= w.connectCap {
				w.setState(StateFaulted, err)
				return fmt.Errorf("giving up after %d failed connect attempts: %w", attempts, err)
			}
			w.setState(StateFaulted, err)
			d := bo.Duration()
			log.Warn("dial failed, backing off", "error", err, "backoff", d, "attempts", attempts)
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			continue
		}

		w.setState(StateAuthenticated, nil)
		w.markHeartbeat()
		w.mu.Lock()
		w.conns++
		initial := w.conns == 1
		w.mu.Unlock()

		if err := w.reconcile(ctx, sess, initial); err != nil {
			_ = sess.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts++
			if attempts >= w.connectCap {
				w.setState(StateFaulted, err)
				return fmt.Errorf("giving up after %d failed connect attempts: %w", attempts, err)
			}
			w.setState(StateFaulted, err)
			d := bo.Duration()
			log.Warn("reconciliation failed, backing off", "error", err, "backoff", d, "attempts", attempts)
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			continue
		}

		attempts = 0
		w.setState(StateSubscribed, nil)
		bo.Reset()
		log.Info("session subscribed")

		err = w.pump(ctx, sess)
		_ = sess.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.setState(StateFaulted, err)
		d := bo.Duration()
		log.Warn("session lost, reconnecting", "error", err, "backoff", d)
		if !sleep(ctx, d) {
			return ctx.Err()
		}
	}
}

// backfillOverlap widens the history query past the last heartbeat so a
// deal executed right at the disconnect edge is not missed; the
// aggregator's deal-id dedup drops the overlap.
const backfillOverlap = time.Minute

// reconcile brings the aggregator back in line with the venue after a
// (re)connect: deals executed during the gap are replayed from venue
// history first, then the queried absolute state is published as a
// Reconnected event so the overwrite lands after the replayed deltas.
func (w *Worker) reconcile(ctx context.Context, sess venue.Session, initial bool) error {
	if !initial {
		if since := w.Heartbeat(); !since.IsZero() {
			deals, err := sess.Deals(ctx, since.Add(-backfillOverlap), time.Now().UTC())
			if err != nil {
				return err
			}
			for _, d := range deals {
				ev := event.FromDeal(w.accountID, d)
				ev.Backfill = true
				if err := w.queue.Publish(ctx, ev); err != nil {
					return err
				}
			}
		}
	}

	pnl, err := sess.UnrealizedPnl(ctx)
	if err != nil {
		return err
	}
	positions, err := sess.OpenPositions(ctx)
	if err != nil {
		return err
	}
	ev := event.Reconnected(w.accountID, pnl, len(positions), time.Now().UTC())
	ev.Initial = initial
	return w.queue.Publish(ctx, ev)
}

func (w *Worker) pump(ctx context.Context, sess venue.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			return sess.Err()
		case msg := <-sess.Events():
			w.markHeartbeat()
			switch msg.Kind {
			case venue.MessageHeartbeat:
				// heartbeat already recorded
			case venue.MessageDecodeErr:
				slog.Error("undecodable venue message dropped",
					"account", w.accountID, "error", msg.Err)
			case venue.MessageExecution:
				if msg.Deal == nil {
					continue
				}
				if err := w.queue.Publish(ctx, event.FromDeal(w.accountID, *msg.Deal)); err != nil {
					return err
				}
			}
		}
	}
}

func (w *Worker) markHeartbeat() {
	w.heartbeat.Store(time.Now().UnixNano())
}

func (w *Worker) setState(to ConnState, reason error) {
	w.mu.Lock()
	from := w.state
	w.state = to
	listener := w.listener
	w.mu.Unlock()
	if from != to && listener != nil {
		listener(w.accountID, from, to, reason)
	}
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
