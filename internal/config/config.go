// Package config содержит логику чтения конфигурации интеграции.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
	"github.com/mmeshcher/modernmilkman/internal/validation"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultConfigFile = "modernmilkman.yaml"
	defaultSchedule   = "@every 24h"
	defaultLogLevel   = "info"
)

// Config содержит параметры конфигурации интеграции.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	ConfigFile      string `env:"CONFIG_FILE"`
	APIURL          string `env:"TMM_API_URL"`
	HassURL         string `env:"HASS_URL"`
	HassToken       string `env:"HASS_TOKEN"`
	APIToken        string `env:"API_TOKEN"`
	RefreshSchedule string `env:"REFRESH_SCHEDULE"`
	LogLevel        string `env:"LOG_LEVEL"`

	Setup     bool   `env:"SETUP"`
	Options   bool   `env:"OPTIONS"`
	Username  string `env:"TMM_USERNAME"`
	Password  string `env:"TMM_PASSWORD"`
	Calendars string `env:"CALENDARS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Непустые переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; YAML file store is used when empty")
	flag.StringVar(&cfg.ConfigFile, "f", defaultConfigFile, "YAML config entry file")
	flag.StringVar(&cfg.APIURL, "u", tmm.DefaultBaseURL, "The Modern Milkman API base URL")
	flag.StringVar(&cfg.HassURL, "ha", "", "Home Assistant base URL")
	flag.StringVar(&cfg.HassToken, "ht", "", "Home Assistant long-lived access token")
	flag.StringVar(&cfg.APIToken, "k", "", "bearer token for POST /api/refresh")
	flag.StringVar(&cfg.RefreshSchedule, "c", defaultSchedule, "refresh schedule in cron syntax")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level: info or debug")

	flag.BoolVar(&cfg.Setup, "setup", false, "create the config entry and exit")
	flag.BoolVar(&cfg.Options, "options", false, "update target calendars of the existing config entry and exit")
	flag.StringVar(&cfg.Username, "user", "", "setup: account username")
	flag.StringVar(&cfg.Password, "password", "", "setup: account password")
	flag.StringVar(&cfg.Calendars, "calendars", model.NoCalendar, "setup: comma-separated target calendars")

	flag.Parse()

	override(&cfg.RunAddress, envCfg.RunAddress)
	override(&cfg.DatabaseURI, envCfg.DatabaseURI)
	override(&cfg.ConfigFile, envCfg.ConfigFile)
	override(&cfg.APIURL, envCfg.APIURL)
	override(&cfg.HassURL, envCfg.HassURL)
	override(&cfg.HassToken, envCfg.HassToken)
	override(&cfg.APIToken, envCfg.APIToken)
	override(&cfg.RefreshSchedule, envCfg.RefreshSchedule)
	override(&cfg.LogLevel, envCfg.LogLevel)
	override(&cfg.Username, envCfg.Username)
	override(&cfg.Password, envCfg.Password)
	override(&cfg.Calendars, envCfg.Calendars)
	if envCfg.Setup {
		cfg.Setup = true
	}
	if envCfg.Options {
		cfg.Options = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = defaultSchedule
	}
	if cfg.APIURL == "" {
		cfg.APIURL = tmm.DefaultBaseURL
	}

	if cfg.LogLevel != "info" && cfg.LogLevel != "debug" {
		return nil, fmt.Errorf("unsupported log level %q", cfg.LogLevel)
	}
	if cfg.HassURL != "" && cfg.HassToken == "" {
		return nil, fmt.Errorf("home assistant token is required when HASS_URL is set")
	}
	if cfg.Setup && cfg.Options {
		return nil, fmt.Errorf("-setup and -options are mutually exclusive")
	}

	return cfg, nil
}

// CalendarList возвращает целевые календари для настройки.
func (c *Config) CalendarList() []string {
	return validation.ParseCalendars(c.Calendars)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
