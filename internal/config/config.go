// Package config loads settings from config.yaml and the environment via
// viper. Environment variables use the JELLYWARD_ prefix with dots replaced
// by underscores, e.g. JELLYWARD_TELEGRAM_BOT_TOKEN.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"jellyward/types"
)

type Config struct {
	Telegram struct {
		BotToken string `mapstructure:"bot_token"`
	} `mapstructure:"telegram"`

	MediaServer struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"mediaserver"`

	Storage struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"storage"`

	Payment struct {
		UPIID   string `mapstructure:"upi_id"`
		UPIName string `mapstructure:"upi_name"`
	} `mapstructure:"payment"`

	Plans map[string]types.Plan `mapstructure:"plans"`

	Sweep struct {
		ExpiryInterval  time.Duration `mapstructure:"expiry_interval"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"sweep"`

	Logging struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("jellyward")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when everything comes from the
		// environment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Registering empty defaults makes AutomaticEnv pick these up even
	// when the config file omits them.
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("mediaserver.base_url", "")
	v.SetDefault("mediaserver.api_key", "")
	v.SetDefault("payment.upi_id", "")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("sweep.expiry_interval", time.Hour)
	v.SetDefault("sweep.cleanup_interval", 24*time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("payment.upi_name", "Media Server")
	v.SetDefault("plans", map[string]map[string]any{
		"1day":   {"name": "1 Day", "duration_days": 1, "price": 10.0},
		"1week":  {"name": "1 Week", "duration_days": 7, "price": 50.0},
		"1month": {"name": "1 Month", "duration_days": 30, "price": 150.0},
	})
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("%w: telegram.bot_token is required", types.ErrInvalidArgument)
	}
	if c.MediaServer.BaseURL == "" {
		return fmt.Errorf("%w: mediaserver.base_url is required", types.ErrInvalidArgument)
	}
	if c.MediaServer.APIKey == "" {
		return fmt.Errorf("%w: mediaserver.api_key is required", types.ErrInvalidArgument)
	}
	if c.Payment.UPIID == "" {
		return fmt.Errorf("%w: payment.upi_id is required", types.ErrInvalidArgument)
	}
	if len(c.Plans) == 0 {
		return fmt.Errorf("%w: at least one plan is required", types.ErrInvalidArgument)
	}
	for id, plan := range c.Plans {
		if plan.DurationDays <= 0 {
			return fmt.Errorf("%w: plan %q has non-positive duration", types.ErrInvalidArgument, id)
		}
		if plan.Price < 0 {
			return fmt.Errorf("%w: plan %q has negative price", types.ErrInvalidArgument, id)
		}
	}
	if c.Sweep.ExpiryInterval <= 0 || c.Sweep.CleanupInterval <= 0 {
		return fmt.Errorf("%w: sweep intervals must be positive", types.ErrInvalidArgument)
	}
	return nil
}
