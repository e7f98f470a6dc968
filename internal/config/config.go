package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PIPLEDGER"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "pipledger.db"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 60
	defaultStartCredits = 50
	defaultMonthlyPool  = 50
	defaultTimezone     = "UTC"
	defaultRefillCron   = "0 0 1 * *"
	defaultQueuePath    = "pipledger-queue.db"
	defaultSyncMinutes  = 5
	defaultRemoteURL    = "http://localhost:8080"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	StartingCredits  int64
	MonthlyAllowance int64
	RefillCron       string
	StreakTimezone   string
	TelegramBotToken string
	TelegramChatID   string
}

// AgentConfig captures runtime configuration for the offline sync agent.
type AgentConfig struct {
	QueuePath    string
	RemoteURL    string
	AccessToken  string
	SyncInterval time.Duration
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("credits.starting_balance", defaultStartCredits)
	configViper.SetDefault("credits.monthly_allowance", defaultMonthlyPool)
	configViper.SetDefault("credits.refill_cron", defaultRefillCron)
	configViper.SetDefault("streaks.timezone", defaultTimezone)
	configViper.SetDefault("queue.path", defaultQueuePath)
	configViper.SetDefault("sync.interval_minutes", defaultSyncMinutes)
	configViper.SetDefault("sync.remote_url", defaultRemoteURL)
}

// Load parses API server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		StartingCredits:  configViper.GetInt64("credits.starting_balance"),
		MonthlyAllowance: configViper.GetInt64("credits.monthly_allowance"),
		RefillCron:       configViper.GetString("credits.refill_cron"),
		StreakTimezone:   configViper.GetString("streaks.timezone"),
		TelegramBotToken: configViper.GetString("telegram.bot_token"),
		TelegramChatID:   configViper.GetString("telegram.chat_id"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadAgent parses sync agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		QueuePath:    configViper.GetString("queue.path"),
		RemoteURL:    configViper.GetString("sync.remote_url"),
		AccessToken:  configViper.GetString("sync.access_token"),
		SyncInterval: time.Duration(configViper.GetInt("sync.interval_minutes")) * time.Minute,
		LogLevel:     configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.StartingCredits < 0 {
		return fmt.Errorf("credits.starting_balance must not be negative")
	}
	if c.MonthlyAllowance < 0 {
		return fmt.Errorf("credits.monthly_allowance must not be negative")
	}
	return nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.QueuePath) == "" {
		return fmt.Errorf("queue.path is required")
	}
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("sync.remote_url is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval_minutes must be positive")
	}
	return nil
}
