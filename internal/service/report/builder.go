package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/langdon0003/trading-monitor/internal/entity"
	"github.com/langdon0003/trading-monitor/internal/repo"
	"github.com/langdon0003/trading-monitor/internal/service/aggregator"
	"github.com/langdon0003/trading-monitor/pkg/moneyx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Option func(b *Builder)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// Builder turns snapshots and persisted deals into Telegram-HTML
// payloads. It never mutates account state directly; watermark updates
// go back through the aggregator.
type Builder struct {
	states      StateSource
	deals       repo.DealRepo
	accounts    []int64
	accountType string // demo | live, report header label
	now         func() time.Time
}

func NewBuilder(states StateSource, deals repo.DealRepo, accounts []int64, accountType string, opts ...Option) *Builder {
	sorted := append([]int64(nil), accounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	b := &Builder{
		states:      states,
		deals:       deals,
		accounts:    sorted,
		accountType: strings.ToUpper(accountType[:1]) + accountType[1:],
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildPnlReport renders the consolidated PnL table. Configured
// accounts with no activity since the last report get a zero-delta
// line, so a silent account is distinguishable from a removed one.
// The returned ack advances every account's reported watermark; call it
// only once the report is accepted for delivery, so a dropped report
// keeps its delta for the next period.
func (b *Builder) BuildPnlReport() (string, func()) {
	now := b.now().UTC()
	states := b.states.Snapshot(b.accounts...)
	byID := lo.KeyBy(states, func(st aggregator.AccountState) int64 {
		return st.AccountID
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>PnL Report %s</b>\n", b.accountType)
	fmt.Fprintf(&sb, "⏰ Time: %s\n\n", now.Format("2006-01-02 15:04:05"))
	sb.WriteString("<pre>")
	fmt.Fprintf(&sb, "%-12s %-4s %-10s %-10s\n", "A/c", "Pos", "PnL", "Delta")
	fmt.Fprintf(&sb, "%s %s %s %s\n", dashes(12), dashes(4), dashes(10), dashes(10))

	totalPnl := decimal.Zero
	totalDelta := decimal.Zero
	for _, id := range b.accounts {
		st, ok := byID[id]
		if !ok {
			// no events yet for this account, still listed
			st = aggregator.AccountState{AccountID: id, RunningPnl: decimal.Zero, LastReportedPnl: decimal.Zero}
		}
		delta := st.RunningPnl.Sub(st.LastReportedPnl)
		totalPnl = totalPnl.Add(st.RunningPnl)
		totalDelta = totalDelta.Add(delta)
		fmt.Fprintf(&sb, "%-12d %-4d %-10s %-10s\n",
			id, st.OpenPositions, st.RunningPnl.StringFixed(2), delta.StringFixed(2))
	}
	fmt.Fprintf(&sb, "%s %s %s %s\n", dashes(12), dashes(4), dashes(10), dashes(10))
	fmt.Fprintf(&sb, "%-12s %-4s %-10s %-10s\n", "TOTAL", "", totalPnl.StringFixed(2), totalDelta.StringFixed(2))
	sb.WriteString("</pre>\n")
	fmt.Fprintf(&sb, "\n💰 <b>SUMMARY</b>\n")
	fmt.Fprintf(&sb, "📈 Total PnL: %s\n", totalPnl.StringFixed(2))
	fmt.Fprintf(&sb, "📊 Delta since last report: %s\n", totalDelta.StringFixed(2))
	fmt.Fprintf(&sb, "🔢 Accounts: %d", len(b.accounts))

	ack := func() {
		b.states.MarkReported(b.accounts, now)
	}
	return sb.String(), ack
}

// BuildDealsReport renders the closed-deal digest for [from, to),
// grouped per account in ascending id order.
func (b *Builder) BuildDealsReport(ctx context.Context, title string, from, to time.Time) (string, error) {
	deals, err := b.deals.FindByWindow(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to load deals for digest: %w", err)
	}

	now := b.now().UTC()
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>%s %s</b>\n", title, b.accountType)
	fmt.Fprintf(&sb, "📅 Window: %s to %s\n", from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "⏰ Report Time: %s\n\n", now.Format("2006-01-02 15:04:05"))

	byAccount := lo.GroupBy(deals, func(d entity.Deal) int64 {
		return d.AccountID
	})

	totalSwap := decimal.Zero
	totalCommission := decimal.Zero
	totalNet := decimal.Zero
	totalDeals := 0

	for _, id := range b.accounts {
		accountDeals := byAccount[id]
		fmt.Fprintf(&sb, "🏦 A/c %d\n<pre>", id)
		if len(accountDeals) == 0 {
			sb.WriteString("✅ No closed deals found for this period.")
			sb.WriteString("</pre>\n")
			continue
		}
		fmt.Fprintf(&sb, "%-10s %-8s %-5s %-9s %-6s %-7s %-7s %-8s\n",
			"DID", "Symbol", "Side", "Time", "Vol", "Swap", "Comm", "Net")
		fmt.Fprintf(&sb, "%s %s %s %s %s %s %s %s\n",
			dashes(10), dashes(8), dashes(5), dashes(9), dashes(6), dashes(7), dashes(7), dashes(8))
		for _, d := range accountDeals {
			swap := moneyx.MustFromString(d.Swap)
			commission := moneyx.MustFromString(d.Commission)
			net := moneyx.MustFromString(d.NetProfit)
			totalSwap = totalSwap.Add(swap)
			totalCommission = totalCommission.Add(commission)
			totalNet = totalNet.Add(net)
			fmt.Fprintf(&sb, "%-10d %-8s %-5s %-9s %-6s %-7s %-7s %-8s\n",
				d.DealID, d.Symbol, d.Side, d.ExecutedAt.UTC().Format("15:04:05"),
				d.Volume, swap.StringFixed(2), commission.StringFixed(2), net.StringFixed(2))
		}
		sb.WriteString("</pre>\n")
		totalDeals += len(accountDeals)
	}

	fmt.Fprintf(&sb, "\n💰 <b>SUMMARY</b>\n")
	fmt.Fprintf(&sb, "🔄 Total Swap: %s\n", totalSwap.StringFixed(2))
	fmt.Fprintf(&sb, "💳 Total Commission: %s\n", totalCommission.StringFixed(2))
	fmt.Fprintf(&sb, "💵 Total Net Profit: %s\n", totalNet.StringFixed(2))
	fmt.Fprintf(&sb, "🔢 Closed Deals: %d", totalDeals)
	return sb.String(), nil
}

// BuildWeeklyReport is the deals digest plus a per-day breakdown.
func (b *Builder) BuildWeeklyReport(ctx context.Context, from, to time.Time) (string, error) {
	body, err := b.BuildDealsReport(ctx, "Weekly Deal Report", from, to)
	if err != nil {
		return "", err
	}

	deals, err := b.deals.FindByWindow(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(deals) == 0 {
		return body, nil
	}

	byDay := lo.GroupBy(deals, func(d entity.Deal) string {
		return d.ExecutedAt.UTC().Format("01-02")
	})
	days := lo.Keys(byDay)
	sort.Strings(days)

	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n\n📈 <b>DAILY BREAKDOWN</b>")
	for _, day := range days {
		net := lo.Reduce(byDay[day], func(acc decimal.Decimal, d entity.Deal, _ int) decimal.Decimal {
			return acc.Add(moneyx.MustFromString(d.NetProfit))
		}, decimal.Zero)
		fmt.Fprintf(&sb, "\n📅 %s: %d deals, Net P&L: %s", day, len(byDay[day]), net.StringFixed(2))
	}
	return sb.String(), nil
}

func dashes(n int) string {
	return strings.Repeat("-", n)
}
