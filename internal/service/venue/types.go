package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAuth marks a credential rejection. It is fatal for the account:
// callers must not redial until the configuration changes.
var ErrAuth = errors.New("venue: authentication rejected")

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Deal 已执行成交
type Deal struct {
	DealID     int64
	PositionID int64
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	Price      decimal.Decimal
	// Pnl is the realized profit delta of this deal, net of swap and
	// commission. Zero for opening deals.
	Pnl          decimal.Decimal
	GrossProfit  decimal.Decimal
	Swap         decimal.Decimal
	Commission   decimal.Decimal
	BalanceAfter decimal.Decimal
	Closing      bool
	ExecutedAt   time.Time
}

type Position struct {
	PositionID    int64
	Symbol        string
	Side          Side
	Volume        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

type MessageKind string

const (
	MessageExecution MessageKind = "execution"
	MessageHeartbeat MessageKind = "heartbeat"
	MessageDecodeErr MessageKind = "decode_error"
)

// Message 会话推送消息
type Message struct {
	Kind MessageKind
	Deal *Deal // set when Kind == MessageExecution
	Err  error // set when Kind == MessageDecodeErr
}

// Session is one authenticated, subscribed connection to the venue for a
// single account. Done is closed when the connection is lost or the
// session is closed; Err then reports the terminal reason. The Events
// channel itself is never closed, since venue callbacks can still be in
// flight during teardown.
type Session interface {
	Events() <-chan Message
	Done() <-chan struct{}
	OpenPositions(ctx context.Context) ([]Position, error)
	UnrealizedPnl(ctx context.Context) (decimal.Decimal, error)
	Deals(ctx context.Context, from, to time.Time) ([]Deal, error)
	Close() error
	Err() error
}

// Dialer connects and authenticates a session for one account.
// Authentication failures are reported wrapped in ErrAuth.
type Dialer interface {
	Dial(ctx context.Context, accountID int64) (Session, error)
}
