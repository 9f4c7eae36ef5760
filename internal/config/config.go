package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the collector.
type Config struct {
	Market   string         `yaml:"market"`
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Universe UniverseConfig `yaml:"universe"`
	Calendar CalendarConfig `yaml:"calendar"`
	Gather   GatherConfig   `yaml:"gather"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Backup   BackupConfig   `yaml:"backup"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	SummaryDir string `yaml:"summary_dir"`
	CSVDir     string `yaml:"csv_dir"`
	DebugDir   string `yaml:"debug_dir"`
}

// Server holds the daemon-mode health listener.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials for the Alpaca calendar API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UniverseConfig locates the symbol universe.
type UniverseConfig struct {
	CachePath      string   `yaml:"cache_path"`
	ListURL        string   `yaml:"list_url"`
	DefaultSymbols []string `yaml:"default_symbols"`
}

// CalendarConfig selects the trading-calendar oracle.
type CalendarConfig struct {
	Provider  string   `yaml:"provider"` // "holidays" or "alpaca"
	FirstDate string   `yaml:"first_date"`
	Holidays  []string `yaml:"holidays"`
}

// GatherConfig controls the two fetch tiers.
type GatherConfig struct {
	KlineURL        string `yaml:"kline_url"`
	QuotePageURL    string `yaml:"quote_page_url"`
	UserAgent       string `yaml:"user_agent"`
	APIWorkers      int    `yaml:"api_workers"`
	DOMSessions     int    `yaml:"dom_sessions"`
	RequestTimeout  int    `yaml:"request_timeout_seconds"`
	PageTimeout     int    `yaml:"page_timeout_seconds"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	DelayMS         int    `yaml:"per_symbol_delay_ms"`
	JitterMS        int    `yaml:"random_jitter_ms"`
}

// ScheduleConfig drives daemon mode.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"`
	RunAt    string `yaml:"run_at"`
}

// AlertConfig holds level thresholds and human-intervention rules.
type AlertConfig struct {
	WarnSuccessRate              float64 `yaml:"warn_success_rate"`
	InfoSuccessRate              float64 `yaml:"info_success_rate"`
	CriticalConsecutiveErrorDays int     `yaml:"critical_consecutive_error_days"`
	FailedOver                   int     `yaml:"failed_over"`
	MissingOver                  int     `yaml:"missing_over"`
	SameSymbolMissingDays        int     `yaml:"same_symbol_missing_days"`
}

// NotifyConfig configures the email sink and SMS-over-email.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	SMTPUser  string `yaml:"smtp_user"`
	SMTPPass  string `yaml:"smtp_pass"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Phone     string `yaml:"phone"`
	SMSDomain string `yaml:"sms_domain"`
	RedisAddr string `yaml:"redis_addr"`
	RedisPass string `yaml:"redis_password"`
}

// BackupConfig configures the backup sink.
type BackupConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, loads a .env file when present, applies environment
// variable overrides and finally fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notify.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notify.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notify.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Notify.SMTPPass = v
	}
	if v := os.Getenv("PHONE_NUM"); v != "" {
		cfg.Notify.Phone = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Notify.RedisAddr = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	// Standard Alpaca env vars (highest priority, canonical SDK names).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Defaults returns a Config holding only the operating defaults.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with the operating defaults.
func applyDefaults(cfg *Config) {
	setString := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	setInt := func(p *int, v int) {
		if *p <= 0 {
			*p = v
		}
	}
	setFloat := func(p *float64, v float64) {
		if *p <= 0 {
			*p = v
		}
	}

	setString(&cfg.Market, "cn")

	setString(&cfg.Storage.DataDir, "data")
	setString(&cfg.Storage.SQLitePath, cfg.Storage.DataDir+"/stock_daily.db")
	setString(&cfg.Storage.SummaryDir, cfg.Storage.DataDir+"/summary")
	setString(&cfg.Storage.CSVDir, cfg.Storage.DataDir+"/csv")
	setString(&cfg.Storage.DebugDir, cfg.Storage.DataDir+"/debug_bundle")

	setString(&cfg.Logging.Level, "info")
	setString(&cfg.Logging.Format, "json")

	setString(&cfg.Universe.CachePath, cfg.Storage.DataDir+"/universe.json")
	setString(&cfg.Universe.ListURL, "https://finance.sina.com.cn/stock/api/openapi.php/Stock_V2_getStockList?size=6000&page=1")

	setString(&cfg.Calendar.Provider, "holidays")
	setString(&cfg.Calendar.FirstDate, "2005-01-04")

	setString(&cfg.Gather.KlineURL, "https://quotes.sina.cn/cn/api/json_v2.php/CN_MarketDataService.getKLineData")
	setString(&cfg.Gather.QuotePageURL, "https://finance.sina.com.cn/realstock/company/%s/nc.shtml")
	setString(&cfg.Gather.UserAgent, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	setInt(&cfg.Gather.APIWorkers, 16)
	setInt(&cfg.Gather.DOMSessions, 4)
	setInt(&cfg.Gather.RequestTimeout, 10)
	setInt(&cfg.Gather.PageTimeout, 25)
	setInt(&cfg.Gather.DelayMS, 200)
	setInt(&cfg.Gather.JitterMS, 120)

	setString(&cfg.Schedule.Timezone, "Asia/Shanghai")
	setString(&cfg.Schedule.RunAt, "15:30")

	setFloat(&cfg.Alerts.WarnSuccessRate, 0.95)
	setFloat(&cfg.Alerts.InfoSuccessRate, 0.98)
	setInt(&cfg.Alerts.CriticalConsecutiveErrorDays, 2)
	setInt(&cfg.Alerts.FailedOver, 1)
	setInt(&cfg.Alerts.MissingOver, 1)
	setInt(&cfg.Alerts.SameSymbolMissingDays, 3)

	setString(&cfg.Notify.SMSDomain, "189.com")

	setString(&cfg.Backup.Dir, cfg.Storage.DataDir+"/backup")
	setInt(&cfg.Backup.RetentionDays, 30)
}
