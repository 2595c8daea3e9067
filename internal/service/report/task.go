package report

import (
	"context"
	"log/slog"
	"time"
)

// Sink accepts finished report bodies for delivery.
type Sink interface {
	Enqueue(body string) error
}

type PnlReportTask struct {
	builder *Builder
	sink    Sink
	now     func() time.Time
}

func NewPnlReportTask(builder *Builder, sink Sink) *PnlReportTask {
	return &PnlReportTask{builder: builder, sink: sink, now: builder.now}
}

func (t *PnlReportTask) Run(ctx context.Context) error {
	if !TradingHours(t.now()) {
		slog.Info("outside trading hours, pnl report skipped")
		return nil
	}
	body, ack := t.builder.BuildPnlReport()
	if err := t.sink.Enqueue(body); err != nil {
		// watermark untouched: the delta rolls into the next report
		return err
	}
	ack()
	return nil
}

func (t *PnlReportTask) Name() string {
	return "pnl report task"
}

type DealsReportTask struct {
	builder      *Builder
	sink         Sink
	intervalDays int
	now          func() time.Time
}

func NewDealsReportTask(builder *Builder, sink Sink, intervalDays int) *DealsReportTask {
	if intervalDays <= 0 {
		intervalDays = 1
	}
	return &DealsReportTask{builder: builder, sink: sink, intervalDays: intervalDays, now: builder.now}
}

// Run digests the deals since the previous fire: the intervalDays full
// UTC days ending at today's midnight.
func (t *DealsReportTask) Run(ctx context.Context) error {
	now := t.now().UTC()
	if !TradingHours(now) {
		slog.Info("outside trading hours, deals report skipped")
		return nil
	}
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -t.intervalDays)
	body, err := t.builder.BuildDealsReport(ctx, "Daily Deal Report", from, to)
	if err != nil {
		return err
	}
	return t.sink.Enqueue(body)
}

func (t *DealsReportTask) Name() string {
	return "daily deals report task"
}

type WeeklyReportTask struct {
	builder *Builder
	sink    Sink
	hour    int
	minute  int
	now     func() time.Time
}

func NewWeeklyReportTask(builder *Builder, sink Sink, hour, minute int) *WeeklyReportTask {
	return &WeeklyReportTask{builder: builder, sink: sink, hour: hour, minute: minute, now: builder.now}
}

// Run digests the trading week ending at the configured fire time:
// Sunday hh:mm to Friday hh:mm UTC.
func (t *WeeklyReportTask) Run(ctx context.Context) error {
	now := t.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -5)
	body, err := t.builder.BuildWeeklyReport(ctx, from, to)
	if err != nil {
		return err
	}
	return t.sink.Enqueue(body)
}

func (t *WeeklyReportTask) Name() string {
	return "weekly deals report task"
}
