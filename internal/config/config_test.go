// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "data_dir: /var/lib/podlift\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 8081, cfg.AdminServerPort)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MaxErrors)
	assert.Equal(t, "podlift.db", cfg.DatabaseName)
	assert.Equal(t, 12*time.Hour, cfg.YTDLPUpdateFreq)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/podlift
server_port: 9000
log_format: console
max_errors: 5
yt_dlp_update_freq: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 5, cfg.MaxErrors)
	assert.Equal(t, time.Hour, cfg.YTDLPUpdateFreq)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "data_dir: /var/lib/podlift\nserver_port: 9000\n")
	t.Setenv("PODLIFT_SERVER_PORT", "9100")
	t.Setenv("PODLIFT_LOG_LEVEL", "debug")
	t.Setenv("PODLIFT_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.ServerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
}

func TestValidateFailures(t *testing.T) {
	base := func() Settings {
		s := defaults()
		s.DataDir = "/var/lib/podlift"
		return s
	}

	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"missing data_dir", func(s *Settings) { s.DataDir = "" }},
		{"port out of range", func(s *Settings) { s.ServerPort = 70000 }},
		{"ports collide", func(s *Settings) { s.AdminServerPort = s.ServerPort }},
		{"max_errors zero", func(s *Settings) { s.MaxErrors = 0 }},
		{"bad log format", func(s *Settings) { s.LogFormat = "xml" }},
		{"bad trusted proxy", func(s *Settings) { s.TrustedProxies = []string{"not-an-ip"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := base()
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoadFeeds(t *testing.T) {
	path := writeFile(t, `
feeds:
  tech:
    url: https://example.com/@tech
    schedule: "0 * * * *"
    keep_last: 10
    title: Tech News
    transcript_lang: en
    transcript_source_priority: [creator, auto]
  inbox:
    schedule: manual
`)

	feeds, err := LoadFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 2)

	tech := feeds["tech"]
	assert.Equal(t, "tech", tech.ID)
	assert.False(t, tech.IsManual())
	assert.True(t, tech.Enabled())
	require.NotNil(t, tech.KeepLast)
	assert.Equal(t, 10, *tech.KeepLast)
	assert.Len(t, tech.TranscriptPriority(), 2)

	inbox := feeds["inbox"]
	assert.True(t, inbox.IsManual())
	assert.True(t, inbox.Enabled())
}

func TestLoadFeedsRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"scheduled without url", "feeds:\n  tech:\n    schedule: \"0 * * * *\"\n"},
		{"bad cron", "feeds:\n  tech:\n    url: https://x\n    schedule: \"often\"\n"},
		{"negative keep_last", "feeds:\n  tech:\n    url: https://x\n    schedule: \"@hourly\"\n    keep_last: -1\n"},
		{"bad podcast_type", "feeds:\n  tech:\n    url: https://x\n    schedule: \"@hourly\"\n    podcast_type: weekly\n"},
		{"bad explicit", "feeds:\n  tech:\n    url: https://x\n    schedule: \"@hourly\"\n    explicit: maybe\n"},
		{"bad transcript source", "feeds:\n  tech:\n    url: https://x\n    schedule: \"@hourly\"\n    transcript_source_priority: [machine]\n"},
		{"unsafe id", "feeds:\n  \"a/b\":\n    url: https://x\n    schedule: \"@hourly\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFeeds(writeFile(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestFeedConfigSinceTime(t *testing.T) {
	var fc FeedConfig
	assert.True(t, fc.SinceTime().IsZero())

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	fc.Since = &since
	assert.Equal(t, time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), fc.SinceTime())
}

func TestDisabledFeed(t *testing.T) {
	path := writeFile(t, `
feeds:
  paused:
    url: https://example.com/list
    schedule: "@daily"
    is_enabled: false
`)
	feeds, err := LoadFeeds(path)
	require.NoError(t, err)
	paused := feeds["paused"]
	assert.False(t, paused.Enabled())
}
