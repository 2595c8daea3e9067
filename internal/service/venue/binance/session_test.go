package binance

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return &Session{
		cli:  futures.NewClient("", ""),
		msgs: make(chan venue.Message, 4),
		quit: make(chan struct{}),
	}
}

func TestSessionDropsEventsAfterFailure(t *testing.T) {
	s := newTestSession()
	backgroundDone := make(chan struct{})
	go func() {
		s.background(make(chan struct{}))
		close(backgroundDone)
	}()

	s.fail(errors.New("listen key expired"))
	<-backgroundDone

	// SDK callbacks can still fire after teardown; they must be dropped,
	// not crash the callback goroutine
	s.handleWsEvent(&futures.WsUserDataEvent{
		Event: futures.UserDataEventTypeOrderTradeUpdate,
		WsUserDataOrderTradeUpdate: futures.WsUserDataOrderTradeUpdate{
			OrderTradeUpdate: futures.WsOrderTradeUpdate{
				ExecutionType:   futures.OrderExecutionTypeTrade,
				LastFilledQty:   "1",
				LastFilledPrice: "100",
				RealizedPnL:     "0",
			},
		},
	})

	select {
	case <-s.Done():
	default:
		t.Fatal("failed session not marked done")
	}
	assert.Error(t, s.Err())
	assert.NoError(t, s.Close())
}

func TestSessionFailStopsWebsocket(t *testing.T) {
	s := newTestSession()
	stop := make(chan struct{})
	s.wsStop = stop

	s.fail(errors.New("stream error"))

	select {
	case <-stop:
	default:
		t.Fatal("websocket stop channel not closed on failure")
	}

	// a later Close must not double-close the stop channel
	assert.NoError(t, s.Close())
}

func TestSessionCloseStopsWebsocket(t *testing.T) {
	s := newTestSession()
	stop := make(chan struct{})
	s.wsStop = stop

	require.NoError(t, s.Close())

	select {
	case <-stop:
	default:
		t.Fatal("websocket stop channel not closed")
	}
	assert.NoError(t, s.Err(), "a deliberate close carries no terminal error")
}

func TestConvertOrderTradeUpdate(t *testing.T) {
	update := &futures.WsOrderTradeUpdate{
		Symbol:            "BTCUSDT",
		ID:                555,
		TradeID:           9001,
		Side:              futures.SideTypeSell,
		LastFilledQty:     "0.010",
		LastFilledPrice:   "50000.50",
		RealizedPnL:       "12.40",
		Commission:        "0.40",
		IsClosingPosition: true,
	}

	deal, err := convertOrderTradeUpdate(update, 1756200000000)
	require.NoError(t, err)

	assert.Equal(t, int64(9001), deal.DealID)
	assert.Equal(t, int64(555), deal.PositionID)
	assert.Equal(t, "BTCUSDT", deal.Symbol)
	assert.Equal(t, venue.SideSell, deal.Side)
	assert.True(t, deal.Closing)
	// net pnl is realized minus the exchange fee
	assert.True(t, deal.Pnl.Equal(decimal.RequireFromString("12.00")), "pnl = %s", deal.Pnl)
	assert.True(t, deal.GrossProfit.Equal(decimal.RequireFromString("12.40")))
	assert.True(t, deal.Commission.Equal(decimal.RequireFromString("-0.40")))
	assert.Equal(t, int64(1756200000000), deal.ExecutedAt.UnixMilli())
}

func TestConvertOrderTradeUpdateOpening(t *testing.T) {
	update := &futures.WsOrderTradeUpdate{
		Symbol:          "BTCUSDT",
		TradeID:         9002,
		Side:            futures.SideTypeBuy,
		LastFilledQty:   "0.010",
		LastFilledPrice: "50000.00",
		RealizedPnL:     "0",
	}

	deal, err := convertOrderTradeUpdate(update, 1756200000000)
	require.NoError(t, err)
	assert.False(t, deal.Closing, "zero realized pnl and not closing = opening fill")
	assert.True(t, deal.Pnl.IsZero())
}

func TestConvertOrderTradeUpdateBadPayload(t *testing.T) {
	update := &futures.WsOrderTradeUpdate{
		LastFilledQty:   "not-a-number",
		LastFilledPrice: "1",
		RealizedPnL:     "0",
	}
	_, err := convertOrderTradeUpdate(update, 0)
	assert.Error(t, err)
}

func TestConvertAccountTrade(t *testing.T) {
	trade := &futures.AccountTrade{
		ID:          42,
		OrderID:     7,
		Symbol:      "ETHUSDT",
		Side:        futures.SideTypeBuy,
		Quantity:    "2",
		Price:       "3000.25",
		RealizedPnl: "-5.00",
		Commission:  "1.20",
		Time:        1756200000000,
	}

	deal, err := convertAccountTrade(trade)
	require.NoError(t, err)

	assert.Equal(t, int64(42), deal.DealID)
	assert.Equal(t, venue.SideBuy, deal.Side)
	assert.True(t, deal.Closing, "non-zero realized pnl marks a close")
	assert.True(t, deal.Pnl.Equal(decimal.RequireFromString("-6.20")))
	assert.True(t, deal.Commission.Equal(decimal.RequireFromString("-1.20")))
}
