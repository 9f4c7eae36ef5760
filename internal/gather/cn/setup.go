package cn

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
	_ "time/tzdata" // schedule.timezone must resolve on hosts without zoneinfo

	"eodcollector/internal/calendar"
	"eodcollector/internal/config"
	"eodcollector/internal/domain"
	"eodcollector/internal/ops/backup"
	"eodcollector/internal/ops/debug"
	"eodcollector/internal/ops/notify"
	"eodcollector/internal/report"
	"eodcollector/internal/store"
	"eodcollector/internal/util"
)

// NewCollector wires a Collector and its collaborators from configuration.
func NewCollector(cfg *config.Config) (*Collector, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	oracle, err := NewOracle(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessions(cfg.Gather.DOMSessions, time.Duration(cfg.Gather.PageTimeout)*time.Second)
	if err != nil {
		return nil, err
	}

	dbg := debug.NewWriter(cfg.Storage.DebugDir)
	sqlitePath := cfg.Storage.SQLitePath

	var ledger notify.SentLedger
	if cfg.Notify.RedisAddr != "" {
		ledger = notify.NewRedisLedger(cfg.Notify.RedisAddr, cfg.Notify.RedisPass)
	} else {
		ledger = notify.NewFileLedger(filepath.Join(cfg.Storage.DataDir, "sms_ledger.json"))
	}

	c := &Collector{
		Universe: NewUniverse(cfg.Universe.CachePath, cfg.Universe.ListURL, cfg.Universe.DefaultSymbols),
		Calendar: oracle,
		OpenStore: func(ctx context.Context) (Store, error) {
			s, err := store.NewSQLiteStore(ctx, sqlitePath)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		API: NewAPIClient(cfg.Gather.KlineURL,
			time.Duration(cfg.Gather.RequestTimeout)*time.Second,
			cfg.Gather.RateLimitPerMin, dbg),
		Pages:    &QuotePageClient{URLTemplate: cfg.Gather.QuotePageURL, UserAgent: cfg.Gather.UserAgent},
		Sessions: sessions,

		Workers: cfg.Gather.APIWorkers,
		Pacer:   util.NewPacer(cfg.Gather.DelayMS, cfg.Gather.JitterMS),
		Thresholds: report.Thresholds{
			WarnSuccessRate:              cfg.Alerts.WarnSuccessRate,
			InfoSuccessRate:              cfg.Alerts.InfoSuccessRate,
			CriticalConsecutiveErrorDays: cfg.Alerts.CriticalConsecutiveErrorDays,
		},
		Rules: report.Rules{
			FailedOver:            cfg.Alerts.FailedOver,
			MissingOver:           cfg.Alerts.MissingOver,
			SameSymbolMissingDays: cfg.Alerts.SameSymbolMissingDays,
		},
		Runner: report.DetectRunner(),

		Summaries: report.NewWriter(cfg.Storage.SummaryDir),
		Debug:     dbg,

		Notifier: notify.New(notify.Config{
			Enabled:   cfg.Notify.Enabled,
			SMTPHost:  cfg.Notify.SMTPHost,
			SMTPPort:  cfg.Notify.SMTPPort,
			SMTPUser:  cfg.Notify.SMTPUser,
			SMTPPass:  cfg.Notify.SMTPPass,
			From:      cfg.Notify.From,
			To:        cfg.Notify.To,
			Phone:     cfg.Notify.Phone,
			SMSDomain: cfg.Notify.SMSDomain,
		}, ledger),
		CSV:     store.NewCSVExporter(cfg.Storage.CSVDir),
		Archive: store.NewParquetArchive(cfg.Storage.DataDir, domain.Market(cfg.Market)),
		Backup:  backup.New(cfg.Backup.Dir, cfg.Backup.RetentionDays),

		Today: func() string { return time.Now().In(loc).Format(domain.DateLayout) },
	}
	return c, nil
}

// NewOracle picks the trading calendar named by the configuration.
func NewOracle(cfg *config.Config) (calendar.Oracle, error) {
	switch cfg.Calendar.Provider {
	case "alpaca":
		return calendar.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL), nil
	case "holidays", "":
		h, err := calendar.NewHolidays(cfg.Calendar.FirstDate, cfg.Calendar.Holidays)
		if err != nil {
			return nil, fmt.Errorf("building holiday calendar: %w", err)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.Calendar.Provider)
	}
}
