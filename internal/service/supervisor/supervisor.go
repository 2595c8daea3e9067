package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/langdon0003/trading-monitor/internal/service/bus"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/langdon0003/trading-monitor/internal/service/worker"
)

// Alerter surfaces terminal per-account conditions. Transient failures
// stay inside the worker's backoff loop and are never surfaced here.
type Alerter interface {
	AuthFailed(accountID int64, reason error)
	Degraded(accountID int64, restarts int, window time.Duration)
}

type Option func(s *Supervisor)

func WithQueueSize(size int) Option {
	return func(s *Supervisor) {
		s.queueSize = size
	}
}

func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.heartbeatTimeout = timeout
	}
}

func WithRestartPolicy(limit int, window time.Duration) Option {
	return func(s *Supervisor) {
		s.restartCap = limit
		s.restartWindow = window
	}
}

func WithWorkerBackoff(min, max time.Duration) Option {
	return func(s *Supervisor) {
		s.boMin = min
		s.boMax = max
	}
}

// Supervisor owns worker lifecycle for every configured account: spawn,
// heartbeat liveness, restart with backoff under a rolling-window cap.
// Each account is managed independently; one account's restart storm
// cannot touch another's session.
type Supervisor struct {
	dialer   venue.Dialer
	accounts []int64
	alerter  Alerter

	queueSize        int
	heartbeatTimeout time.Duration
	restartCap       int
	restartWindow    time.Duration
	boMin, boMax     time.Duration

	queues []*bus.Queue

	mu      sync.Mutex
	workers map[int64]*worker.Worker
}

func New(dialer venue.Dialer, accounts []int64, alerter Alerter, opts ...Option) *Supervisor {
	s := &Supervisor{
		dialer:           dialer,
		accounts:         accounts,
		alerter:          alerter,
		queueSize:        bus.DefaultQueueSize,
		heartbeatTimeout: 90 * time.Second,
		restartCap:       5,
		restartWindow:    10 * time.Minute,
		boMin:            time.Second,
		boMax:            2 * time.Minute,
		workers:          make(map[int64]*worker.Worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, id := range accounts {
		s.queues = append(s.queues, bus.NewQueue(id, s.queueSize))
	}
	return s
}

// Queues exposes the per-account event queues for the aggregator fan-in.
func (s *Supervisor) Queues() []*bus.Queue {
	return s.queues
}

// Run spawns one manager per account and the heartbeat watchdog, then
// blocks until ctx is cancelled and all workers have stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, id := range s.accounts {
		wg.Add(1)
		go func(id int64, q *bus.Queue) {
			defer wg.Done()
			defer q.Close()
			s.manage(ctx, id, q)
		}(id, s.queues[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchdog(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

// manage restarts one account's worker until the context ends or the
// account is retired. The worker reconnects transient network failures
// itself; this loop handles worker death (panic, venue stream giving up,
// watchdog-forced stop) with its own backoff and rolling-window cap.
func (s *Supervisor) manage(ctx context.Context, accountID int64, q *bus.Queue) {
	log := slog.With("account", accountID)
	bo := &backoff.Backoff{
		Min:    s.boMin,
		Max:    s.boMax,
		Factor: 2,
		Jitter: true,
	}

	var restarts []time.Time
	alerted := false

	for {
		w := worker.New(accountID, s.dialer, q,
			worker.WithReconnectBackoff(s.boMin, s.boMax))
		s.setWorker(accountID, w)
		err := s.runWorker(ctx, w)
		s.setWorker(accountID, nil)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, venue.ErrAuth) {
			// fatal: excluded from monitoring until credentials change
			s.alerter.AuthFailed(accountID, err)
			log.Error("account retired", "error", err)
			return
		}

		now := time.Now()
		restarts = append(pruneBefore(restarts, now.Add(-s.restartWindow)), now)

		var wait time.Duration
		if len(restarts) > s.restartCap {
			if !alerted {
				s.alerter.Degraded(accountID, len(restarts), s.restartWindow)
				alerted = true
			}
			wait = s.boMax
		} else {
			alerted = false
			wait = bo.Duration()
		}
		log.Warn("worker exited, restarting", "error", err, "restarts_in_window", len(restarts), "backoff", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (s *Supervisor) runWorker(ctx context.Context, w *worker.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return w.Run(ctx)
}

// watchdog stops any subscribed worker whose heartbeat has gone stale;
// the manage loop restarts it.
func (s *Supervisor) watchdog(ctx context.Context) {
	interval := s.heartbeatTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range s.snapshotWorkers() {
				if w.State() != worker.StateSubscribed {
					continue
				}
				hb := w.Heartbeat()
				if hb.IsZero() || time.Since(hb) < s.heartbeatTimeout {
					continue
				}
				slog.Warn("heartbeat timeout, forcing worker restart",
					"account", w.AccountID(), "last_heartbeat", hb)
				w.Stop()
			}
		}
	}
}

func (s *Supervisor) setWorker(accountID int64, w *worker.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		delete(s.workers, accountID)
		return
	}
	s.workers[accountID] = w
}

func (s *Supervisor) snapshotWorkers() []*worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
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
