package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/shopspring/decimal"
)

var _ venue.Session = (*Session)(nil)

const (
	messageBuffer     = 256
	keepaliveInterval = 25 * time.Minute
	heartbeatInterval = 15 * time.Second
)

// Session is one authenticated user-data stream plus the REST query
// surface. The futures stream has no application heartbeat, so the
// session synthesizes one while the connection is alive.
type Session struct {
	cli       *futures.Client
	accountID int64
	listenKey string

	msgs chan venue.Message
	quit chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	wsStop    chan struct{}
	wsStopped bool
	termErr   error
}

func (s *Session) Events() <-chan venue.Message {
	return s.msgs
}

// Done is closed once the session is terminated. The message channel is
// never closed: SDK callbacks can still be delivering when the session
// dies, and send drops those on the quit gate instead of panicking.
func (s *Session) Done() <-chan struct{} {
	return s.quit
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

func (s *Session) Close() error {
	s.terminate(nil)
	return nil
}

// fail records the terminal error and tears the session down. Runs on
// SDK callback goroutines.
func (s *Session) fail(err error) {
	s.terminate(err)
}

func (s *Session) terminate(err error) {
	s.mu.Lock()
	if err != nil && s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.quit)
		s.stopWs()
		if s.listenKey != "" {
			// off this goroutine: fail runs on SDK callbacks that must
			// not block on HTTP
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = s.cli.NewCloseUserStreamService().ListenKey(s.listenKey).Do(ctx)
			}()
		}
	})
}

// stopWs closes the websocket stop channel at most once. The dialer
// calls it too when the session terminated during the subscribe.
func (s *Session) stopWs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsStop != nil && !s.wsStopped {
		close(s.wsStop)
		s.wsStopped = true
	}
}

func (s *Session) handleWsEvent(ev *futures.WsUserDataEvent) {
	switch ev.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		o := ev.OrderTradeUpdate
		if o.ExecutionType != futures.OrderExecutionTypeTrade {
			return
		}
		deal, err := convertOrderTradeUpdate(&o, ev.TransactionTime)
		if err != nil {
			s.send(venue.Message{Kind: venue.MessageDecodeErr, Err: err})
			return
		}
		s.send(venue.Message{Kind: venue.MessageExecution, Deal: deal})
	case futures.UserDataEventTypeListenKeyExpired:
		s.fail(fmt.Errorf("venue: listen key expired"))
	}
}

func (s *Session) handleWsError(err error) {
	s.fail(fmt.Errorf("venue: user data stream: %w", err))
}

// send blocks when the buffer is full, which backpressures the stream
// reader instead of growing memory; a closed session drops instead.
func (s *Session) send(m venue.Message) {
	select {
	case s.msgs <- m:
	case <-s.quit:
	}
}

// background keeps the listen key alive and synthesizes heartbeats.
func (s *Session) background(doneC chan struct{}) {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-doneC:
			s.fail(fmt.Errorf("venue: user data stream closed"))
			return
		case <-heartbeat.C:
			s.send(venue.Message{Kind: venue.MessageHeartbeat})
		case <-keepalive.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.cli.NewKeepaliveUserStreamService().ListenKey(s.listenKey).Do(ctx)
			cancel()
			if err != nil {
				s.fail(fmt.Errorf("venue: listen key keepalive: %w", err))
				return
			}
		}
	}
}

func (s *Session) OpenPositions(ctx context.Context) ([]venue.Position, error) {
	risks, err := s.cli.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("venue: query positions: %w", err)
	}
	positions := make([]venue.Position, 0, len(risks))
	for _, r := range risks {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("venue: decode position amount %q: %w", r.PositionAmt, err)
		}
		if amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(r.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("venue: decode entry price %q: %w", r.EntryPrice, err)
		}
		pnl, err := decimal.NewFromString(r.UnRealizedProfit)
		if err != nil {
			return nil, fmt.Errorf("venue: decode unrealized pnl %q: %w", r.UnRealizedProfit, err)
		}
		side := venue.SideBuy
		if amt.IsNegative() {
			side = venue.SideSell
		}
		positions = append(positions, venue.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Volume:        amt.Abs(),
			EntryPrice:    entry,
			UnrealizedPnl: pnl,
		})
	}
	return positions, nil
}

func (s *Session) UnrealizedPnl(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.cli.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue: query account: %w", err)
	}
	pnl, err := decimal.NewFromString(account.TotalUnrealizedProfit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue: decode unrealized pnl %q: %w", account.TotalUnrealizedProfit, err)
	}
	return pnl, nil
}

// Deals fetches executed trades in [from, to), paginating with FromID
// the way the REST API expects.
func (s *Session) Deals(ctx context.Context, from, to time.Time) ([]venue.Deal, error) {
	const limitPerRequest = 1000

	var all []venue.Deal
	var lastTradeID int64

	for {
		svc := s.cli.NewListAccountTradeService().
			StartTime(from.UnixMilli()).
			EndTime(to.UnixMilli()).
			Limit(limitPerRequest)
		if lastTradeID > 0 {
			svc = svc.FromID(lastTradeID)
		}
		trades, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("venue: query deals: %w", err)
		}
		if len(trades) == 0 {
			break
		}
		for _, t := range trades {
			deal, err := convertAccountTrade(t)
			if err != nil {
				return nil, err
			}
			all = append(all, *deal)
		}
		if len(trades) < limitPerRequest {
			break
		}
		lastTradeID = trades[len(trades)-1].ID + 1
	}
	return all, nil
}

func convertOrderTradeUpdate(o *futures.WsOrderTradeUpdate, transactionTime int64) (*venue.Deal, error) {
	volume, err := decimal.NewFromString(o.LastFilledQty)
	if err != nil {
		return nil, fmt.Errorf("venue: decode fill qty %q: %w", o.LastFilledQty, err)
	}
	price, err := decimal.NewFromString(o.LastFilledPrice)
	if err != nil {
		return nil, fmt.Errorf("venue: decode fill price %q: %w", o.LastFilledPrice, err)
	}
	realized, err := decimal.NewFromString(o.RealizedPnL)
	if err != nil {
		return nil, fmt.Errorf("venue: decode realized pnl %q: %w", o.RealizedPnL, err)
	}
	commission := decimal.Zero
	if o.Commission != "" {
		commission, err = decimal.NewFromString(o.Commission)
		if err != nil {
			return nil, fmt.Errorf("venue: decode commission %q: %w", o.Commission, err)
		}
	}

	closing := o.IsClosingPosition || !realized.IsZero()
	return &venue.Deal{
		DealID:      o.TradeID,
		PositionID:  o.ID,
		Symbol:      o.Symbol,
		Side:        venue.Side(o.Side),
		Volume:      volume,
		Price:       price,
		Pnl:         realized.Sub(commission),
		GrossProfit: realized,
		Commission:  commission.Neg(),
		Closing:     closing,
		ExecutedAt:  time.UnixMilli(transactionTime),
	}, nil
}

func convertAccountTrade(t *futures.AccountTrade) (*venue.Deal, error) {
	volume, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return nil, fmt.Errorf("venue: decode trade qty %q: %w", t.Quantity, err)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return nil, fmt.Errorf("venue: decode trade price %q: %w", t.Price, err)
	}
	realized, err := decimal.NewFromString(t.RealizedPnl)
	if err != nil {
		return nil, fmt.Errorf("venue: decode trade pnl %q: %w", t.RealizedPnl, err)
	}
	commission, err := decimal.NewFromString(t.Commission)
	if err != nil {
		return nil, fmt.Errorf("venue: decode trade commission %q: %w", t.Commission, err)
	}

	return &venue.Deal{
		DealID:      t.ID,
		PositionID:  t.OrderID,
		Symbol:      t.Symbol,
		Side:        venue.Side(t.Side),
		Volume:      volume,
		Price:       price,
		Pnl:         realized.Sub(commission),
		GrossProfit: realized,
		Commission:  commission.Neg(),
		Closing:     !realized.IsZero(),
		ExecutedAt:  time.UnixMilli(t.Time),
	}, nil
}
