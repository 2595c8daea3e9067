package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/langdon0003/trading-monitor/internal/entity"
	"github.com/langdon0003/trading-monitor/internal/repo"
	"github.com/langdon0003/trading-monitor/internal/service/bus"
	"github.com/langdon0003/trading-monitor/internal/service/event"
	"github.com/shopspring/decimal"
)

// AccountState 账户聚合状态
//
// Mutated only by the aggregator; everyone else reads copies via
// Snapshot.
type AccountState struct {
	AccountID        int64
	RunningPnl       decimal.Decimal
	OpenPositions    int
	LastDealAt       time.Time
	LastReportedPnl  decimal.Decimal
	LastReportedAt   time.Time
	DealsSinceReport int
}

// seenCapacity bounds the per-account dedup set. Eviction is FIFO; an
// evicted id can at worst re-alert, it cannot corrupt PnL because
// reconciliation after gaps is absolute, not replay-based.
const seenCapacity = 4096

// AlertFunc receives every applied (non-duplicate) event that should be
// surfaced immediately, outside the scheduled reports.
type AlertFunc func(ev event.TradeEvent)

type Option func(a *Aggregator)

func WithDealRepo(deals repo.DealRepo) Option {
	return func(a *Aggregator) {
		a.deals = deals
	}
}

func WithAlertFunc(alert AlertFunc) Option {
	return func(a *Aggregator) {
		a.alert = alert
	}
}

// Aggregator merges all per-account event queues into the account-state
// table. A single goroutine (Run) applies events, which removes
// write-write races by construction; the mutex only orders readers
// against that one writer.
type Aggregator struct {
	mu     sync.RWMutex
	states map[int64]*AccountState

	seen      map[int64]map[int64]struct{}
	seenOrder map[int64][]int64

	deals repo.DealRepo
	alert AlertFunc
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		states:    make(map[int64]*AccountState),
		seen:      make(map[int64]map[int64]struct{}),
		seenOrder: make(map[int64][]int64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run fans queues into the single apply loop. Per-account order is
// preserved because each account has exactly one queue and one
// forwarder; no order is promised across accounts. Returns when ctx is
// cancelled and the forwarders have drained.
func (a *Aggregator) Run(ctx context.Context, queues []*bus.Queue) error {
	merged := make(chan event.TradeEvent)

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *bus.Queue) {
			defer wg.Done()
			for {
				select {
				case ev := <-q.C():
					select {
					case merged <- ev:
					case <-ctx.Done():
						return
					}
				case <-q.Done():
					// hand out what was enqueued before the close
					for {
						select {
						case ev := <-q.C():
							select {
							case merged <- ev:
							case <-ctx.Done():
								return
							}
						default:
							return
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}(q)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	for ev := range merged {
		a.ApplyEvent(ctx, ev)
	}
	return ctx.Err()
}

// ApplyEvent applies ev to the account's state exactly once. Duplicate
// deal ids are a no-op. Handling is exhaustive over the event kinds.
func (a *Aggregator) ApplyEvent(ctx context.Context, ev event.TradeEvent) {
	a.mu.Lock()
	st := a.stateLocked(ev.AccountID)

	switch ev.Kind {
	case event.KindDealOpened, event.KindDealClosed:
		if a.seenLocked(ev.AccountID, ev.DealID) {
			a.mu.Unlock()
			slog.Debug("duplicate deal ignored", "account", ev.AccountID, "deal", ev.DealID)
			return
		}
		a.markSeenLocked(ev.AccountID, ev.DealID)
		st.RunningPnl = st.RunningPnl.Add(ev.PnlDelta)
		st.LastDealAt = ev.Timestamp
		st.DealsSinceReport++
		if ev.Kind == event.KindDealOpened {
			st.OpenPositions++
		} else if st.OpenPositions > 0 {
			st.OpenPositions--
		}
	case event.KindReconnected:
		// absolute overwrite: the gap may have swallowed events, the
		// queried venue state is the truth now
		st.RunningPnl = ev.UnrealizedPnl
		st.OpenPositions = ev.OpenPositions
	case event.KindExecutionError:
		slog.Warn("execution error reported", "account", ev.AccountID, "reason", ev.Reason)
	default:
		a.mu.Unlock()
		slog.Error("unhandled event kind", "kind", ev.Kind, "account", ev.AccountID)
		return
	}
	a.mu.Unlock()

	if ev.Kind == event.KindDealClosed && a.deals != nil && ev.Deal != nil {
		a.persistDeal(ctx, ev)
	}

	if a.alert != nil {
		a.alert(ev)
	}
}

// Snapshot returns point-in-time copies of the requested accounts
// (all known accounts when ids is empty), sorted by account id.
func (a *Aggregator) Snapshot(ids ...int64) []AccountState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []AccountState
	if len(ids) == 0 {
		for _, st := range a.states {
			out = append(out, *st)
		}
	} else {
		for _, id := range ids {
			if st, ok := a.states[id]; ok {
				out = append(out, *st)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// MarkReported records that a report covering the accounts was emitted,
// so the next delta starts from here. Goes through the aggregator to
// keep the single-writer discipline.
func (a *Aggregator) MarkReported(ids []int64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		st, ok := a.states[id]
		if !ok {
			continue
		}
		st.LastReportedPnl = st.RunningPnl
		st.LastReportedAt = at
		st.DealsSinceReport = 0
	}
}

func (a *Aggregator) stateLocked(accountID int64) *AccountState {
	st, ok := a.states[accountID]
	if !ok {
		st = &AccountState{
			AccountID:       accountID,
			RunningPnl:      decimal.Zero,
			LastReportedPnl: decimal.Zero,
		}
		a.states[accountID] = st
	}
	return st
}

func (a *Aggregator) seenLocked(accountID, dealID int64) bool {
	_, ok := a.seen[accountID][dealID]
	return ok
}

func (a *Aggregator) markSeenLocked(accountID, dealID int64) {
	set, ok := a.seen[accountID]
	if !ok {
		set = make(map[int64]struct{})
		a.seen[accountID] = set
	}
	set[dealID] = struct{}{}
	order := append(a.seenOrder[accountID], dealID)
	if len(order) > seenCapacity {
		evicted := order[0]
		order = order[1:]
		delete(set, evicted)
	}
	a.seenOrder[accountID] = order
}

func (a *Aggregator) persistDeal(ctx context.Context, ev event.TradeEvent) {
	d := ev.Deal
	_, err := a.deals.Create(ctx, entity.Deal{
		AccountID:    ev.AccountID,
		DealID:       d.DealID,
		PositionID:   d.PositionID,
		Symbol:       d.Symbol,
		Side:         string(d.Side),
		Volume:       d.Volume.String(),
		Price:        d.Price.String(),
		GrossProfit:  d.GrossProfit.String(),
		Swap:         d.Swap.String(),
		Commission:   d.Commission.String(),
		NetProfit:    d.Pnl.String(),
		BalanceAfter: d.BalanceAfter.String(),
		ExecutedAt:   d.ExecutedAt,
	})
	if err != nil {
		slog.Error("failed to persist closed deal", "account", ev.AccountID, "deal", d.DealID, "error", err)
	}
}
