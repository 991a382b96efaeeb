package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/compliance"
	"github.com/Veraticus/pardna/internal/events"
	"github.com/Veraticus/pardna/internal/ledger"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/risk"
	"github.com/Veraticus/pardna/internal/trust"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "$HOME/.local/share/pardna/pardna.db"

const thresholdsKey = "risk.large_transaction_thresholds"

// DatabaseConfig locates the SQLite ledger.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// Config is the full application configuration, one section per component.
type Config struct {
	Risk       risk.Config
	Regulator  compliance.HTTPRegulatorConfig
	NATS       events.NATSConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Compliance compliance.Config
	Trust      trust.Config
	Ledger     ledger.Config
}

// Defaults registers every default on v, so config files and PARDNA_*
// environment variables only need to name what they change.
func Defaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	r := risk.DefaultConfig()
	for currency, threshold := range r.LargeTransactionThresholdByCurrency {
		v.SetDefault(thresholdsKey+"."+strings.ToLower(string(currency)), threshold)
	}
	v.SetDefault("risk.velocity_window", r.VelocityWindow)
	v.SetDefault("risk.velocity_count", r.VelocityCount)
	v.SetDefault("risk.round_number_divisor", r.RoundNumberDivisor)

	l := ledger.DefaultConfig()
	v.SetDefault("ledger.contribution_grace_period", l.ContributionGracePeriod)
	v.SetDefault("ledger.min_members", l.MinMembers)

	t := trust.DefaultConfig()
	v.SetDefault("trust.on_time_reward", t.OnTimeReward)
	v.SetDefault("trust.late_reward", t.LateReward)
	v.SetDefault("trust.missed_penalty", t.MissedPenalty)
	v.SetDefault("trust.min_score", t.MinScore)
	v.SetDefault("trust.max_score", t.MaxScore)

	c := compliance.DefaultConfig()
	v.SetDefault("compliance.max_attempts", c.MaxAttempts)
	v.SetDefault("compliance.initial_backoff", c.InitialBackoff)
	v.SetDefault("compliance.max_backoff", c.MaxBackoff)
	v.SetDefault("compliance.attempt_timeout", c.AttemptTimeout)
	v.SetDefault("compliance.workers", c.Workers)
	v.SetDefault("compliance.poll_interval", c.PollInterval)
	v.SetDefault("compliance.queue_size", c.QueueSize)
	v.SetDefault("compliance.batch_size", c.BatchSize)

	v.SetDefault("regulator.endpoint", "")
	v.SetDefault("regulator.token_url", "")
	v.SetDefault("regulator.client_id", "")
	v.SetDefault("regulator.client_secret", "")
	v.SetDefault("regulator.scopes", []string{})
	v.SetDefault("regulator.timeout", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "pardna")
	v.SetDefault("nats.subject_prefix", "pardna")
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 60)
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Risk: risk.Config{
			LargeTransactionThresholdByCurrency: make(map[model.Currency]int64),
			VelocityWindow:                      v.GetDuration("risk.velocity_window"),
			VelocityCount:                       v.GetInt("risk.velocity_count"),
			RoundNumberDivisor:                  v.GetInt64("risk.round_number_divisor"),
		},
		Ledger: ledger.Config{
			ContributionGracePeriod: v.GetDuration("ledger.contribution_grace_period"),
			MinMembers:              v.GetInt("ledger.min_members"),
		},
		Trust: trust.Config{
			OnTimeReward:  v.GetInt("trust.on_time_reward"),
			LateReward:    v.GetInt("trust.late_reward"),
			MissedPenalty: v.GetInt("trust.missed_penalty"),
			MinScore:      v.GetInt("trust.min_score"),
			MaxScore:      v.GetInt("trust.max_score"),
		},
		Compliance: compliance.Config{
			MaxAttempts:    v.GetInt("compliance.max_attempts"),
			InitialBackoff: v.GetDuration("compliance.initial_backoff"),
			MaxBackoff:     v.GetDuration("compliance.max_backoff"),
			AttemptTimeout: v.GetDuration("compliance.attempt_timeout"),
			Workers:        v.GetInt("compliance.workers"),
			PollInterval:   v.GetDuration("compliance.poll_interval"),
			QueueSize:      v.GetInt("compliance.queue_size"),
			BatchSize:      v.GetInt("compliance.batch_size"),
		},
		Regulator: compliance.HTTPRegulatorConfig{
			Endpoint:     v.GetString("regulator.endpoint"),
			TokenURL:     v.GetString("regulator.token_url"),
			ClientID:     v.GetString("regulator.client_id"),
			ClientSecret: v.GetString("regulator.client_secret"),
			Scopes:       v.GetStringSlice("regulator.scopes"),
			Timeout:      v.GetDuration("regulator.timeout"),
		},
		NATS: events.NATSConfig{
			URL:            v.GetString("nats.url"),
			Name:           v.GetString("nats.name"),
			SubjectPrefix:  v.GetString("nats.subject_prefix"),
			ReconnectWait:  v.GetDuration("nats.reconnect_wait"),
			ConnectTimeout: v.GetDuration("nats.connect_timeout"),
			MaxReconnects:  v.GetInt("nats.max_reconnects"),
		},
	}

	// AllKeys merges defaults with the file and environment per currency.
	for _, key := range v.AllKeys() {
		code, ok := strings.CutPrefix(key, thresholdsKey+".")
		if !ok {
			continue
		}
		currency, err := model.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", common.ErrInvalidConfig, thresholdsKey, err)
		}
		cfg.Risk.LargeTransactionThresholdByCurrency[currency] = v.GetInt64(key)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be console or json, got %q", common.ErrInvalidConfig, c.Logging.Format)
	}

	checks := []struct {
		validate func() error
		section  string
	}{
		{c.Risk.Validate, "risk"},
		{c.Ledger.Validate, "ledger"},
		{c.Trust.Validate, "trust"},
		{c.Compliance.Validate, "compliance"},
	}
	for _, check := range checks {
		if err := check.validate(); err != nil {
			return fmt.Errorf("%s: %w", check.section, err)
		}
	}
	return nil
}

// RegulatorConfigured reports whether a regulator endpoint is set.
func (c *Config) RegulatorConfigured() bool {
	return c.Regulator.Endpoint != ""
}

// NATSConfigured reports whether events go to NATS rather than the log.
func (c *Config) NATSConfigured() bool {
	return c.NATS.URL != ""
}
