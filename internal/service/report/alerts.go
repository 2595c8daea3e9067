package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/langdon0003/trading-monitor/internal/service/event"
)

// Event-triggered alert bodies. These bypass the trading-hours gate:
// an operator wants to know about a fill or a lost session immediately.

func (b *Builder) DealAlert(ev event.TradeEvent) string {
	var sb strings.Builder
	if ev.Kind == event.KindDealOpened {
		sb.WriteString("🎯 <b>NEW POSITION OPEN</b>\n")
	} else {
		sb.WriteString("🎯 <b>POSITION CLOSED</b>\n")
	}
	fmt.Fprintf(&sb, "🏦 %s A/c %d\n", b.accountType, ev.AccountID)
	fmt.Fprintf(&sb, "📊 PID: %d\n", ev.PositionID)
	fmt.Fprintf(&sb, "💰 Symbol: %s\n", ev.Symbol)
	fmt.Fprintf(&sb, "📈 Side: %s\n", ev.Side)
	fmt.Fprintf(&sb, "💵 Volume: %s\n", ev.Volume)
	fmt.Fprintf(&sb, "💰 Price: %s\n", ev.Price)
	if ev.Kind == event.KindDealClosed {
		fmt.Fprintf(&sb, "💰 Net Profit: %s\n", ev.PnlDelta.StringFixed(2))
		if ev.Deal != nil {
			fmt.Fprintf(&sb, "💰 Balance: %s\n", ev.Deal.BalanceAfter.StringFixed(2))
		}
	}
	fmt.Fprintf(&sb, "⏰ Time: %s", ev.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	return sb.String()
}

func (b *Builder) ReconnectedAlert(ev event.TradeEvent) string {
	var sb strings.Builder
	sb.WriteString("✅ <b>RECONNECTION SUCCESSFUL</b>\n")
	fmt.Fprintf(&sb, "🏦 %s A/c %d\n", b.accountType, ev.AccountID)
	fmt.Fprintf(&sb, "📅 Time: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "💰 Unrealized PnL: %s\n", ev.UnrealizedPnl.StringFixed(2))
	fmt.Fprintf(&sb, "🔢 Open Positions: %d", ev.OpenPositions)
	return sb.String()
}

func (b *Builder) ExecutionErrorAlert(ev event.TradeEvent) string {
	var sb strings.Builder
	sb.WriteString("❌ <b>EXECUTION ERROR</b>\n")
	fmt.Fprintf(&sb, "🏦 %s A/c %d\n", b.accountType, ev.AccountID)
	fmt.Fprintf(&sb, "📅 Time: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "📝 Reason: %s", sanitize(ev.Reason))
	return sb.String()
}

func (b *Builder) AuthFailedAlert(accountID int64, reason error) string {
	var sb strings.Builder
	sb.WriteString("🚫 <b>AUTHENTICATION FAILED</b>\n")
	fmt.Fprintf(&sb, "🏦 %s A/c %d\n", b.accountType, accountID)
	fmt.Fprintf(&sb, "📝 Reason: %s\n", sanitize(fmt.Sprint(reason)))
	sb.WriteString("⛔ Account excluded from monitoring until credentials are fixed.")
	return sb.String()
}

func (b *Builder) DegradedAlert(accountID int64, restarts int, window time.Duration) string {
	var sb strings.Builder
	sb.WriteString("🛑 <b>ACCOUNT DEGRADED</b>\n")
	fmt.Fprintf(&sb, "🏦 %s A/c %d\n", b.accountType, accountID)
	fmt.Fprintf(&sb, "🔄 %d restarts within %s, retries continue at the capped interval.", restarts, window)
	return sb.String()
}

// sanitize strips angle brackets so venue error strings cannot break
// Telegram HTML parsing.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "<", "")
	return strings.ReplaceAll(s, ">", "")
}
