package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/0xtide/delegated-trading-engine/internal/config"
	"github.com/0xtide/delegated-trading-engine/internal/corerpc"
	"github.com/0xtide/delegated-trading-engine/internal/delegation"
	"github.com/0xtide/delegated-trading-engine/internal/executor"
	"github.com/0xtide/delegated-trading-engine/internal/keycustody"
	"github.com/0xtide/delegated-trading-engine/internal/logger"
	"github.com/0xtide/delegated-trading-engine/internal/monitoring"
	"github.com/0xtide/delegated-trading-engine/internal/notifications"
	"github.com/0xtide/delegated-trading-engine/internal/recovery"
	"github.com/0xtide/delegated-trading-engine/internal/risk"
	"github.com/0xtide/delegated-trading-engine/internal/sizing"
	"github.com/0xtide/delegated-trading-engine/pkg/reporting"
)

func main() {
	var (
		envFile      = flag.String("env", ".env", "Environment file path (default: .env)")
		delegationID = flag.String("delegation", "", "Delegation ID to trade under (empty = observe-only)")
		writeReports = flag.Bool("reports", true, "Write session reports on shutdown (default: true)")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Could not load %s (%v), using environment variables...", *envFile, err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog, err := logger.NewLogger("engine")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	custody, err := keycustody.NewFromHex(cfg.Custody.MasterKeyHex)
	if err != nil {
		log.Fatalf("Failed to initialize key custody: %v", err)
	}

	var store delegation.Store
	if cfg.Store.Driver == "sqlite" {
		sqlStore, err := delegation.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to open delegation store: %v", err)
		}
		defer sqlStore.Close()
		store = sqlStore
	} else {
		store = delegation.NewMemoryStore()
	}
	registry := delegation.NewRegistry(store, custody)
	registry.SetLogger(appLog)

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
		appLog.Info("Telegram alerts enabled")
	}

	core := corerpc.New(cfg.Core.BaseURL, recovery.NewHandler(appLog))

	governorConfig := risk.DefaultGovernorConfig()
	governorConfig.MaxPriceImpact = cfg.Risk.MaxPriceImpact
	governorConfig.MaxStablePriceImpact = cfg.Risk.MaxStablePriceImpact
	governorConfig.MaxSlippage = cfg.Risk.MaxSlippage
	governorConfig.Breaker = risk.BreakerConfig{
		MaxLossPerHourUSD:    cfg.Risk.MaxLossPerHourUSD,
		MaxLossPerDayUSD:     cfg.Risk.MaxLossPerDayUSD,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
	}
	governor := risk.NewGovernor(governorConfig, registry, core, notifier)

	sizer := sizing.NewSizer(sizing.DefaultSizerConfig())

	scheduler := executor.NewScheduler(executor.Config{
		Chain:               cfg.Scheduler.Chain,
		ScanInterval:        cfg.Scheduler.ScanInterval,
		MinProfitUSD:        cfg.Scheduler.MinProfitUSD,
		MinConfidence:       cfg.Scheduler.MinConfidence,
		MaxDailyTrades:      cfg.Scheduler.MaxDailyTrades,
		EnabledStrategies:   cfg.Scheduler.EnabledStrategies,
		SlippageTolerance:   cfg.Scheduler.SlippageTolerance,
		AvailableCapitalUSD: cfg.Scheduler.AvailableCapitalUSD,
		TradesPerMinute:     cfg.Scheduler.TradesPerMinute,
	}, registry, governor, sizer, core, core, core, appLog)

	health := monitoring.NewHealthChecker()
	scheduler.SetHealthChecker(health)
	unsubscribe := scheduler.OnStatusChange(func(event executor.StatusEvent) {
		health.SetSchedulerAlive(event.Running)
	})
	defer unsubscribe()

	startHTTPServers(cfg, health, appLog)

	maintenance := startMaintenance(registry, governor, health, notifier, appLog)
	defer maintenance.Stop()

	printStartupInfo(cfg, *delegationID)

	ctx := context.Background()
	if err := scheduler.Start(ctx, *delegationID); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	if *delegationID == "" {
		appLog.Warning("No delegation bound, running in observe-only mode")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	appLog.Info("Received signal %v, shutting down...", sig)

	scheduler.Stop()

	if *writeReports {
		writeSessionReport(ctx, cfg, scheduler, sizer, registry, *delegationID, appLog)
	}

	metrics := scheduler.GetMetrics()
	appLog.LogCycleStatus(metrics.Scans, metrics.OpportunitiesSeen, metrics.TradesSucceeded,
		metrics.TotalProfitUSD, metrics.TotalGasUSD)
	appLog.Info("Shutdown complete")
}

func startHTTPServers(cfg *config.Config, health *monitoring.HealthChecker, appLog *logger.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			appLog.LogError("metrics server", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthPort)
		if err := http.ListenAndServe(addr, healthMux); err != nil {
			appLog.LogError("health server", err)
		}
	}()

	appLog.Info("Metrics on :%d/metrics, health on :%d/health",
		cfg.Monitoring.PrometheusPort, cfg.Monitoring.HealthPort)
}

// startMaintenance schedules the daily delegation sweep and keeps the health
// checker in sync with the circuit breaker.
func startMaintenance(registry *delegation.Registry, governor *risk.Governor, health *monitoring.HealthChecker, notifier notifications.Notifier, appLog *logger.Logger) *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Daily sweep shortly after midnight UTC
	c.AddFunc("0 5 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		report, err := registry.MaintenanceSweep(ctx)
		if err != nil {
			appLog.LogError("maintenance sweep", err)
			health.RecordHealthError(fmt.Sprintf("maintenance sweep: %v", err))
			notifications.AlertError(notifier, err)
			return
		}
		appLog.Info("Maintenance sweep: scanned=%d daily_resets=%d expired=%d",
			report.Scanned, report.DailyResets, report.Expired)
	})

	c.AddFunc("*/30 * * * * *", func() {
		health.SetBreakerTripped(governor.Breaker().Triggered())
	})

	c.Start()
	return c
}

func printStartupInfo(cfg *config.Config, delegationID string) {
	mode := "🔍 Observe-only"
	if delegationID != "" {
		mode = fmt.Sprintf("🚀 Trading (delegation %s)", delegationID)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("ENGINE INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"⛓️ Chain", string(cfg.Scheduler.Chain)},
		{"⏰ Scan Interval", cfg.Scheduler.ScanInterval.String()},
		{"💰 Capital", fmt.Sprintf("$%.2f", cfg.Scheduler.AvailableCapitalUSD)},
		{"📉 Min Profit", fmt.Sprintf("$%.2f", cfg.Scheduler.MinProfitUSD)},
		{"🔧 Mode", mode},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"📊 Max Impact", fmt.Sprintf("%.2f%%", cfg.Risk.MaxPriceImpact*100)},
		{"🚨 Hourly Loss Cap", fmt.Sprintf("$%.2f", cfg.Risk.MaxLossPerHourUSD)},
		{"🚨 Daily Loss Cap", fmt.Sprintf("$%.2f", cfg.Risk.MaxLossPerDayUSD)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 45, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

func writeSessionReport(ctx context.Context, cfg *config.Config, scheduler *executor.Scheduler, sizer *sizing.Sizer, registry *delegation.Registry, delegationID string, appLog *logger.Logger) {
	report := &reporting.SessionReport{
		GeneratedAt: time.Now().UTC(),
		Chain:       string(cfg.Scheduler.Chain),
		Metrics:     scheduler.GetMetrics(),
		Trades:      sizer.History(),
		Strategies:  sizer.StrategyBreakdown(),
	}
	if delegationID != "" {
		if trail, err := registry.GetAuditHistory(ctx, delegationID); err == nil {
			report.AuditTrail = trail
		}
	}

	manager := reporting.NewReportingManager(reporting.ReportingConfig{
		EnableConsole: true,
		EnableFiles:   true,
		CSVEnabled:    true,
		ExcelEnabled:  true,
		JSONEnabled:   true,
	})
	if err := manager.ReportSession(report); err != nil {
		appLog.LogError("session report", err)
		return
	}
	appLog.Info("Session report written to %s", reporting.DefaultOutputDir(report.Chain, report.GeneratedAt))
}
