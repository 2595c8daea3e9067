package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the recognized configuration surface. Every field binds to
// an environment variable; an optional YAML file (--config) provides
// defaults, with the environment winning.
type Config struct {
	AppClientID     string `mapstructure:"app_client_id"`
	AppClientSecret string `mapstructure:"app_client_secret"`
	AccessToken     string `mapstructure:"access_token"`
	AccountType     string `mapstructure:"account_type"`
	AccountIDList   string `mapstructure:"account_id_list"`

	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`

	PnlReportIntervalHours  int    `mapstructure:"schedule_pnl_report_interval"`
	PnlReportMinuteOffset   int    `mapstructure:"schedule_pnl_report_time"`
	DealsReportIntervalDays int    `mapstructure:"schedule_deals_report_interval"`
	DealsReportTime         string `mapstructure:"schedule_deals_report_time"`
	WeeklyReportTime        string `mapstructure:"schedule_weekly_report_time"`

	DBPath string `mapstructure:"db_path"`
}

var envKeys = []string{
	"app_client_id",
	"app_client_secret",
	"access_token",
	"account_type",
	"account_id_list",
	"telegram_bot_token",
	"telegram_chat_id",
	"schedule_pnl_report_interval",
	"schedule_pnl_report_time",
	"schedule_deals_report_interval",
	"schedule_deals_report_time",
	"schedule_weekly_report_time",
	"db_path",
}

// Load reads the viper state (config file already read by the caller,
// if any) plus the environment, validates, and returns the config.
func Load() (Config, error) {
	viper.SetDefault("account_type", "demo")
	viper.SetDefault("schedule_pnl_report_interval", 4)
	viper.SetDefault("schedule_pnl_report_time", 0)
	viper.SetDefault("schedule_deals_report_interval", 1)
	viper.SetDefault("schedule_deals_report_time", "00:05")
	viper.SetDefault("schedule_weekly_report_time", "21:00")
	viper.SetDefault("db_path", "monitor.db")

	for _, key := range envKeys {
		// APP_CLIENT_ID style env names
		if err := viper.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.AccountType = strings.ToLower(cfg.AccountType)
	if cfg.AccountType != "demo" && cfg.AccountType != "live" {
		return Config{}, fmt.Errorf("invalid ACCOUNT_TYPE %q: want demo or live", cfg.AccountType)
	}
	if cfg.AppClientID == "" || cfg.AppClientSecret == "" {
		return Config{}, fmt.Errorf("APP_CLIENT_ID and APP_CLIENT_SECRET are required")
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required")
	}
	if _, err := cfg.AccountIDs(); err != nil {
		return Config{}, err
	}
	if cfg.PnlReportIntervalHours <= 0 || cfg.PnlReportIntervalHours > 24 {
		return Config{}, fmt.Errorf("SCHEDULE_PNL_REPORT_INTERVAL must be within 1..24 hours")
	}
	if cfg.PnlReportMinuteOffset < 0 || cfg.PnlReportMinuteOffset > 59 {
		return Config{}, fmt.Errorf("SCHEDULE_PNL_REPORT_TIME must be a minute offset within 0..59")
	}
	if cfg.DealsReportIntervalDays <= 0 {
		return Config{}, fmt.Errorf("SCHEDULE_DEALS_REPORT_INTERVAL must be positive")
	}
	if _, _, err := ParseTimeOfDay(cfg.DealsReportTime); err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULE_DEALS_REPORT_TIME: %w", err)
	}
	if _, _, err := ParseTimeOfDay(cfg.WeeklyReportTime); err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULE_WEEKLY_REPORT_TIME: %w", err)
	}
	return cfg, nil
}

// AccountIDs parses ACCOUNT_ID_LIST, accepting either a JSON array
// ([123, 456]) or a comma-separated list (123,456). Order is preserved.
func (c Config) AccountIDs() ([]int64, error) {
	return ParseAccountIDs(c.AccountIDList)
}

func ParseAccountIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("ACCOUNT_ID_LIST is required")
	}

	if strings.HasPrefix(raw, "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("invalid ACCOUNT_ID_LIST json: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("ACCOUNT_ID_LIST is empty")
		}
		return ids, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ACCOUNT_ID_LIST is empty")
	}
	return ids, nil
}

// ParseTimeOfDay parses "HH:MM" (24h, UTC).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
