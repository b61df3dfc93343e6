package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Log           LogConfig             `yaml:"log"`
	Database      DatabaseConfig        `yaml:"database"`
	Monitoring    MonitoringConfig      `yaml:"monitoring"`
	Retention     RetentionConfig       `yaml:"retention"`
	Notifications NotificationsConfig   `yaml:"notifications"`
	Tickets       TicketsConfig         `yaml:"tickets"`
	Workspace     string                `yaml:"workspace"`
	Targets       []monitor.MonitorSpec `yaml:"targets"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"` // e.g. "10s"

	ShutdownTimeoutDur time.Duration `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
}

type DatabaseConfig struct {
	// URL is empty for the in-memory store.
	URL string `yaml:"url"`
	// SimpleProtocol disables prepared statements, for PgBouncer in
	// transaction pooling mode.
	SimpleProtocol bool `yaml:"simple_protocol"`
}

type MonitoringConfig struct {
	Workers      int    `yaml:"workers"`
	JobsBuffer   int    `yaml:"jobs_buffer"`
	BatchSize    int    `yaml:"batch_size"`
	PollInterval string `yaml:"poll_interval"` // e.g. "2s"
	ClaimGrace   string `yaml:"claim_grace"`   // e.g. "30s"
	UserAgent    string `yaml:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`

	// Parsed durations (filled after load)
	PollIntervalDur time.Duration `yaml:"-"`
	ClaimGraceDur   time.Duration `yaml:"-"`
}

type RetentionConfig struct {
	Days            int    `yaml:"days"`
	CleanupInterval string `yaml:"cleanup_interval"` // e.g. "1h"

	CleanupIntervalDur time.Duration `yaml:"-"`
}

type NotificationsConfig struct {
	SlackWebhookURL string         `yaml:"slack_webhook_url"`
	WebhookURL      string         `yaml:"webhook_url"`
	Telegram        TelegramConfig `yaml:"telegram"`
	// Rate is deliveries per second across all sinks; 0 disables the limit.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

type TicketsConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "read config")
	}
	return Parse(b)
}

// Parse builds a Config from YAML, applying environment overrides and
// defaults before validation.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Annotate(err, "parse yaml")
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validateAndNormalize(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv lets secrets live outside the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notifications.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("TICKETS_API_TOKEN"); v != "" {
		cfg.Tickets.Token = v
	}
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Server.ShutdownTimeout) == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "text"
	}

	// Monitoring defaults
	if cfg.Monitoring.Workers <= 0 {
		cfg.Monitoring.Workers = 8
	}
	if cfg.Monitoring.JobsBuffer <= 0 {
		cfg.Monitoring.JobsBuffer = 200
	}
	if cfg.Monitoring.BatchSize <= 0 {
		cfg.Monitoring.BatchSize = 100
	}
	if strings.TrimSpace(cfg.Monitoring.PollInterval) == "" {
		cfg.Monitoring.PollInterval = "2s"
	}
	if strings.TrimSpace(cfg.Monitoring.ClaimGrace) == "" {
		cfg.Monitoring.ClaimGrace = "30s"
	}
	if strings.TrimSpace(cfg.Monitoring.UserAgent) == "" {
		cfg.Monitoring.UserAgent = "UptimeIncidentEngine/1.0"
	}
	if cfg.Monitoring.MaxBodyBytes == 0 {
		cfg.Monitoring.MaxBodyBytes = 64 * 1024 // 64KB
	}

	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = monitor.DefaultRetentionDays
	}
	if strings.TrimSpace(cfg.Retention.CleanupInterval) == "" {
		cfg.Retention.CleanupInterval = "1h"
	}

	if cfg.Notifications.Rate > 0 && cfg.Notifications.Burst <= 0 {
		cfg.Notifications.Burst = 5
	}

	if strings.TrimSpace(cfg.Workspace) == "" {
		cfg.Workspace = "default"
	}
}

func validateAndNormalize(cfg *Config) error {
	var err error
	if cfg.Server.ShutdownTimeoutDur, err = positiveDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Monitoring.PollIntervalDur, err = positiveDuration("monitoring.poll_interval", cfg.Monitoring.PollInterval); err != nil {
		return err
	}
	if cfg.Monitoring.ClaimGraceDur, err = positiveDuration("monitoring.claim_grace", cfg.Monitoring.ClaimGrace); err != nil {
		return err
	}
	if cfg.Retention.CleanupIntervalDur, err = positiveDuration("retention.cleanup_interval", cfg.Retention.CleanupInterval); err != nil {
		return err
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("config: invalid log format %q (use text or json)", cfg.Log.Format)
	}

	if cfg.Monitoring.MaxBodyBytes < 0 {
		return errors.New("config: monitoring.max_body_bytes cannot be negative")
	}
	if cfg.Notifications.Rate < 0 {
		return errors.New("config: notifications.rate cannot be negative")
	}
	if t := cfg.Notifications.Telegram; (t.Token == "") != (t.ChatID == 0) {
		return errors.New("config: notifications.telegram needs both token and chat_id")
	}

	seen := make(map[string]struct{}, len(cfg.Targets))
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if err := t.Normalize(); err != nil {
			return errors.Annotatef(err, "config: target[%d]", i)
		}
		if _, ok := seen[t.Name]; ok {
			return errors.Errorf("config: duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	return nil
}

func positiveDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Annotatef(err, "config: invalid %s %q", field, raw)
	}
	if d <= 0 {
		return 0, errors.Errorf("config: %s must be > 0", field)
	}
	return d, nil
}
