package event

import (
	"time"

	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDealOpened     Kind = "deal_opened"
	KindDealClosed     Kind = "deal_closed"
	KindExecutionError Kind = "execution_error"
	KindReconnected    Kind = "reconnected"
)

// TradeEvent 账户事件
//
// Immutable once emitted. Produced by a session worker, applied exactly
// once by the aggregator, ordered per account. DealID is the idempotency
// marker for deal events (venue deal ids are unique per account).
type TradeEvent struct {
	AccountID int64
	Kind      Kind
	Timestamp time.Time

	// deal payload (KindDealOpened / KindDealClosed)
	DealID     int64
	PositionID int64
	Symbol     string
	Side       venue.Side
	Volume     decimal.Decimal
	Price      decimal.Decimal
	PnlDelta   decimal.Decimal
	Deal       *venue.Deal
	// Backfill marks a deal replayed from venue history after a
	// connection gap rather than seen live on the stream.
	Backfill bool

	// reconciliation payload (KindReconnected)
	UnrealizedPnl decimal.Decimal
	OpenPositions int
	// Initial marks the first connect of a worker's life, as opposed
	// to recovery from a gap.
	Initial bool

	// error payload (KindExecutionError)
	Reason string
}

// FromDeal normalizes a venue deal into a trade event.
func FromDeal(accountID int64, d venue.Deal) TradeEvent {
	kind := KindDealOpened
	if d.Closing {
		kind = KindDealClosed
	}
	deal := d
	return TradeEvent{
		AccountID:  accountID,
		Kind:       kind,
		Timestamp:  d.ExecutedAt,
		DealID:     d.DealID,
		PositionID: d.PositionID,
		Symbol:     d.Symbol,
		Side:       d.Side,
		Volume:     d.Volume,
		Price:      d.Price,
		PnlDelta:   d.Pnl,
		Deal:       &deal,
	}
}

// Reconnected builds the synthetic event emitted after (re)connect
// reconciliation, carrying the venue-queried absolute state.
func Reconnected(accountID int64, unrealizedPnl decimal.Decimal, openPositions int, at time.Time) TradeEvent {
	return TradeEvent{
		AccountID:     accountID,
		Kind:          KindReconnected,
		Timestamp:     at,
		UnrealizedPnl: unrealizedPnl,
		OpenPositions: openPositions,
	}
}
