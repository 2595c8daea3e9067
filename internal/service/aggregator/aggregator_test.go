package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/langdon0003/trading-monitor/internal/entity"
	"github.com/langdon0003/trading-monitor/internal/service/bus"
	"github.com/langdon0003/trading-monitor/internal/service/event"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============ Mock 定义 ============

type MockDealRepo struct {
	mock.Mock
}

func (m *MockDealRepo) Create(ctx context.Context, deal entity.Deal) (int64, error) {
	args := m.Called(ctx, deal)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDealRepo) FindByWindow(ctx context.Context, from, to time.Time) ([]entity.Deal, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).([]entity.Deal), args.Error(1)
}

func TestApplyDealsSumsPnl(t *testing.T) {
	a := New()
	ctx := context.Background()

	// DealOpened(+10) then DealClosed(+15) leaves runningPnl=25,
	// delta since the zero last report = 25
	a.ApplyEvent(ctx, mustDealEvent(t, 1, 100, event.KindDealOpened, "10"))
	a.ApplyEvent(ctx, mustDealEvent(t, 1, 101, event.KindDealClosed, "15"))

	states := a.Snapshot(1)
	require.Len(t, states, 1)
	st := states[0]
	assert.True(t, st.RunningPnl.Equal(decimal.RequireFromString("25")), "runningPnl = %s", st.RunningPnl)
	assert.True(t, st.RunningPnl.Sub(st.LastReportedPnl).Equal(decimal.RequireFromString("25")))
	assert.Equal(t, 0, st.OpenPositions) // one open, one close
	assert.Equal(t, 2, st.DealsSinceReport)
}

func TestApplyIdempotentOnDealID(t *testing.T) {
	a := New()
	ctx := context.Background()

	ev := mustDealEvent(t, 1, 100, event.KindDealClosed, "7")
	a.ApplyEvent(ctx, ev)
	before := a.Snapshot(1)[0]

	a.ApplyEvent(ctx, ev)
	after := a.Snapshot(1)[0]

	assert.True(t, before.RunningPnl.Equal(after.RunningPnl))
	assert.Equal(t, before.DealsSinceReport, after.DealsSinceReport)
	assert.Equal(t, before.OpenPositions, after.OpenPositions)
}

func TestNoCrossAccountContamination(t *testing.T) {
	ctx := context.Background()

	// apply account 1's events alone
	alone := New()
	alone.ApplyEvent(ctx, mustDealEvent(t, 1, 1, event.KindDealOpened, "3"))
	alone.ApplyEvent(ctx, mustDealEvent(t, 1, 2, event.KindDealClosed, "4"))

	// the same events interleaved with another account's traffic
	mixed := New()
	mixed.ApplyEvent(ctx, mustDealEvent(t, 2, 1, event.KindDealOpened, "100"))
	mixed.ApplyEvent(ctx, mustDealEvent(t, 1, 1, event.KindDealOpened, "3"))
	mixed.ApplyEvent(ctx, mustDealEvent(t, 2, 2, event.KindDealClosed, "-50"))
	mixed.ApplyEvent(ctx, mustDealEvent(t, 1, 2, event.KindDealClosed, "4"))

	want := alone.Snapshot(1)[0]
	got := mixed.Snapshot(1)[0]
	assert.True(t, want.RunningPnl.Equal(got.RunningPnl))
	assert.Equal(t, want.OpenPositions, got.OpenPositions)
	assert.Equal(t, want.DealsSinceReport, got.DealsSinceReport)

	// same deal ids on different accounts are distinct deals
	assert.True(t, mixed.Snapshot(2)[0].RunningPnl.Equal(decimal.RequireFromString("50")))
}

func TestReconnectedOverwritesState(t *testing.T) {
	a := New()
	ctx := context.Background()

	a.ApplyEvent(ctx, mustDealEvent(t, 1, 1, event.KindDealClosed, "12"))
	a.MarkReported([]int64{1}, time.Now())

	// gap: deals were missed; the venue says 40 now
	a.ApplyEvent(ctx, event.Reconnected(1, decimal.RequireFromString("40"), 3, time.Now()))

	st := a.Snapshot(1)[0]
	assert.True(t, st.RunningPnl.Equal(decimal.RequireFromString("40")))
	assert.Equal(t, 3, st.OpenPositions)
	// delta across the gap = queried − lastReportedPnl
	assert.True(t, st.RunningPnl.Sub(st.LastReportedPnl).Equal(decimal.RequireFromString("28")))
}

func TestMarkReported(t *testing.T) {
	a := New()
	ctx := context.Background()

	a.ApplyEvent(ctx, mustDealEvent(t, 1, 1, event.KindDealClosed, "9"))
	at := time.Now()
	a.MarkReported([]int64{1, 999}, at) // unknown ids are ignored

	st := a.Snapshot(1)[0]
	assert.True(t, st.LastReportedPnl.Equal(decimal.RequireFromString("9")))
	assert.Equal(t, at, st.LastReportedAt)
	assert.Equal(t, 0, st.DealsSinceReport)
}

func TestClosedDealPersisted(t *testing.T) {
	deals := new(MockDealRepo)
	deals.On("Create", mock.Anything, mock.MatchedBy(func(d entity.Deal) bool {
		return d.AccountID == 1 && d.DealID == 100 && d.NetProfit == "7"
	})).Return(int64(1), nil)

	a := New(WithDealRepo(deals))
	a.ApplyEvent(context.Background(), mustDealEvent(t, 1, 100, event.KindDealClosed, "7"))
	// opened deals are not persisted
	a.ApplyEvent(context.Background(), mustDealEvent(t, 1, 101, event.KindDealOpened, "0"))

	deals.AssertNumberOfCalls(t, "Create", 1)
}

func TestAlertSuppressedForDuplicates(t *testing.T) {
	var alerted []int64
	a := New(WithAlertFunc(func(ev event.TradeEvent) {
		alerted = append(alerted, ev.DealID)
	}))
	ctx := context.Background()

	ev := mustDealEvent(t, 1, 100, event.KindDealClosed, "1")
	a.ApplyEvent(ctx, ev)
	a.ApplyEvent(ctx, ev)

	assert.Equal(t, []int64{100}, alerted)
}

func TestRunFanInPreservesPerAccountOrder(t *testing.T) {
	var mu sync.Mutex
	orders := make(map[int64][]int64)
	a := New(WithAlertFunc(func(ev event.TradeEvent) {
		mu.Lock()
		orders[ev.AccountID] = append(orders[ev.AccountID], ev.DealID)
		mu.Unlock()
	}))

	q1 := bus.NewQueue(1, 16)
	q2 := bus.NewQueue(2, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx, []*bus.Queue{q1, q2})
		close(done)
	}()

	pub := context.Background()
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, q1.Publish(pub, mustDealEvent(t, 1, i, event.KindDealClosed, "1")))
		require.NoError(t, q2.Publish(pub, mustDealEvent(t, 2, i, event.KindDealClosed, "1")))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(orders[1]) == 10 && len(orders[2]) == 10
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for account, seen := range orders {
		for i, dealID := range seen {
			assert.Equal(t, int64(i+1), dealID, "account %d out of order", account)
		}
	}
}

func mustDealEvent(t *testing.T, accountID, dealID int64, kind event.Kind, pnl string) event.TradeEvent {
	t.Helper()
	d := venue.Deal{
		DealID:     dealID,
		Symbol:     "XAUUSD",
		Side:       venue.SideBuy,
		Volume:     decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(2400),
		Pnl:        decimal.RequireFromString(pnl),
		Closing:    kind == event.KindDealClosed,
		ExecutedAt: time.Now(),
	}
	ev := event.FromDeal(accountID, d)
	require.Equal(t, kind, ev.Kind)
	return ev
}
