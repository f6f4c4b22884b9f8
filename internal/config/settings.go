// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon settings and the feeds
// file. Precedence for settings: environment > YAML file > defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the validated process configuration.
type Settings struct {
	DataDir    string `yaml:"data_dir"`
	BaseURL    string `yaml:"base_url"`
	ConfigFile string `yaml:"config_file"` // feeds YAML

	CookiesPath string `yaml:"cookies_path"`

	ServerHost      string `yaml:"server_host"`
	ServerPort      int    `yaml:"server_port"`
	AdminServerPort int    `yaml:"admin_server_port"`

	TrustedProxies []string `yaml:"trusted_proxies"`

	LogFormat            string `yaml:"log_format"`
	LogLevel             string `yaml:"log_level"`
	LogIncludeStacktrace bool   `yaml:"log_include_stacktrace"`

	YTChannel       string        `yaml:"yt_channel"`
	YTDLPUpdateFreq time.Duration `yaml:"yt_dlp_update_freq"`
	POTProviderURL  string        `yaml:"pot_provider_url"`

	// MaxErrors is the consecutive-failure ceiling before a download
	// transitions to ERROR.
	MaxErrors int `yaml:"max_errors"`

	// DatabaseName is the SQLite file name under {data_dir}/db.
	DatabaseName string `yaml:"database_name"`
}

func defaults() Settings {
	return Settings{
		ServerHost:      "0.0.0.0",
		ServerPort:      8080,
		AdminServerPort: 8081,
		LogFormat:       "json",
		LogLevel:        "info",
		YTChannel:       "stable",
		YTDLPUpdateFreq: 12 * time.Hour,
		MaxErrors:       3,
		DatabaseName:    "podlift.db",
	}
}

// Load reads settings from the optional YAML file at path, then applies
// environment overrides, then validates.
func Load(path string) (*Settings, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Settings) {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setStr("PODLIFT_DATA_DIR", &cfg.DataDir)
	setStr("PODLIFT_BASE_URL", &cfg.BaseURL)
	setStr("PODLIFT_CONFIG_FILE", &cfg.ConfigFile)
	setStr("PODLIFT_COOKIES_PATH", &cfg.CookiesPath)
	setStr("PODLIFT_SERVER_HOST", &cfg.ServerHost)
	setInt("PODLIFT_SERVER_PORT", &cfg.ServerPort)
	setInt("PODLIFT_ADMIN_SERVER_PORT", &cfg.AdminServerPort)
	setStr("PODLIFT_LOG_FORMAT", &cfg.LogFormat)
	setStr("PODLIFT_LOG_LEVEL", &cfg.LogLevel)
	setBool("PODLIFT_LOG_INCLUDE_STACKTRACE", &cfg.LogIncludeStacktrace)
	setStr("PODLIFT_YT_CHANNEL", &cfg.YTChannel)
	setStr("PODLIFT_POT_PROVIDER_URL", &cfg.POTProviderURL)
	setInt("PODLIFT_MAX_ERRORS", &cfg.MaxErrors)

	if v, ok := os.LookupEnv("PODLIFT_YT_DLP_UPDATE_FREQ"); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			cfg.YTDLPUpdateFreq = d
		}
	}
	if v, ok := os.LookupEnv("PODLIFT_TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}
}

// Validate checks hard requirements; a failure here is fatal at startup.
func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return fmt.Errorf("server_port out of range: %d", s.ServerPort)
	}
	if s.AdminServerPort <= 0 || s.AdminServerPort > 65535 {
		return fmt.Errorf("admin_server_port out of range: %d", s.AdminServerPort)
	}
	if s.ServerPort == s.AdminServerPort {
		return fmt.Errorf("server_port and admin_server_port must differ")
	}
	if s.MaxErrors < 1 {
		return fmt.Errorf("max_errors must be at least 1")
	}
	switch s.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console, got %q", s.LogFormat)
	}
	for _, p := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil {
			if net.ParseIP(p) == nil {
				return fmt.Errorf("trusted_proxies entry %q is neither IP nor CIDR", p)
			}
		}
	}
	return nil
}
