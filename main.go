package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/langdon0003/trading-monitor/internal/config"
	"github.com/langdon0003/trading-monitor/internal/repo"
	"github.com/langdon0003/trading-monitor/internal/schedule"
	"github.com/langdon0003/trading-monitor/internal/service/aggregator"
	"github.com/langdon0003/trading-monitor/internal/service/event"
	"github.com/langdon0003/trading-monitor/internal/service/notification"
	"github.com/langdon0003/trading-monitor/internal/service/report"
	"github.com/langdon0003/trading-monitor/internal/service/supervisor"
	"github.com/langdon0003/trading-monitor/ioc"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func initViper() {

	// --config=./config/config.yaml (optional, env vars win)
	file := pflag.String("config", "", "specify config file")
	pflag.Parse()

	if *file == "" {
		return
	}
	viper.SetConfigFile(*file)
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
}

// alerts adapts the report builder + dispatcher pair to the supervisor.
type alerts struct {
	builder    *report.Builder
	dispatcher *notification.Dispatcher
}

func (a alerts) AuthFailed(accountID int64, reason error) {
	_ = a.dispatcher.Enqueue(a.builder.AuthFailedAlert(accountID, reason))
}

func (a alerts) Degraded(accountID int64, restarts int, window time.Duration) {
	_ = a.dispatcher.Enqueue(a.builder.DegradedAlert(accountID, restarts, window))
}

func main() {
	initViper()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	accounts, _ := cfg.AccountIDs()

	db := ioc.InitDB(cfg)
	if err := repo.InitTables(db); err != nil {
		slog.Error("failed to init tables", "error", err)
		os.Exit(1)
	}
	dealRepo := repo.NewDealRepo(db)

	dispatcher := notification.NewDispatcher(ioc.InitTelegram(cfg))
	dialer := ioc.InitVenueDialer(cfg)

	var builder *report.Builder
	agg := aggregator.New(
		aggregator.WithDealRepo(dealRepo),
		aggregator.WithAlertFunc(func(ev event.TradeEvent) {
			switch ev.Kind {
			case event.KindDealOpened, event.KindDealClosed:
				// backfilled deals appear in digests only, like the
				// gap-covering history query they came from
				if !ev.Backfill {
					_ = dispatcher.Enqueue(builder.DealAlert(ev))
				}
			case event.KindReconnected:
				if !ev.Initial {
					_ = dispatcher.Enqueue(builder.ReconnectedAlert(ev))
				}
			case event.KindExecutionError:
				_ = dispatcher.Enqueue(builder.ExecutionErrorAlert(ev))
			}
		}),
	)
	builder = report.NewBuilder(agg, dealRepo, accounts, cfg.AccountType)

	sup := supervisor.New(dialer, accounts, alerts{builder: builder, dispatcher: dispatcher})

	dealsHour, dealsMinute, _ := config.ParseTimeOfDay(cfg.DealsReportTime)
	weeklyHour, weeklyMinute, _ := config.ParseTimeOfDay(cfg.WeeklyReportTime)
	sched := schedule.NewScheduler([]*schedule.Job{
		{
			Kind: schedule.JobPnlReport,
			Task: report.NewPnlReportTask(builder, dispatcher),
			Next: schedule.NextHourlyAnchored(cfg.PnlReportIntervalHours, cfg.PnlReportMinuteOffset),
		},
		{
			Kind: schedule.JobDealsReport,
			Task: report.NewDealsReportTask(builder, dispatcher, cfg.DealsReportIntervalDays),
			Next: schedule.NextDailyAnchored(cfg.DealsReportIntervalDays, dealsHour, dealsMinute),
		},
		{
			Kind: schedule.JobWeeklyReport,
			Task: report.NewWeeklyReportTask(builder, dispatcher, weeklyHour, weeklyMinute),
			Next: schedule.NextWeekly(time.Friday, weeklyHour, weeklyMinute),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("monitor starting",
		"accounts", accounts, "account_type", cfg.AccountType,
		"pnl_interval_hours", cfg.PnlReportIntervalHours,
		"deals_interval_days", cfg.DealsReportIntervalDays)

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error("component stopped", "component", name, "error", err)
				stop()
			}
		}()
	}

	run("dispatcher", dispatcher.Run)
	run("aggregator", func(ctx context.Context) error { return agg.Run(ctx, sup.Queues()) })
	run("scheduler", sched.Run)
	run("supervisor", sup.Run)

	<-ctx.Done()
	wg.Wait()
	slog.Info("monitor stopped")
}
