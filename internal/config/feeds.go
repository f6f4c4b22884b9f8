// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/paths"
)

// ScheduleManual marks a feed that only receives items via explicit admin
// submission; no cron trigger is registered for it.
const ScheduleManual = "manual"

// FeedConfig is the per-feed section of the feeds YAML file.
type FeedConfig struct {
	ID        string `yaml:"-"` // map key
	URL       string `yaml:"url"`
	Schedule  string `yaml:"schedule"` // cron expression or "manual"
	IsEnabled *bool  `yaml:"is_enabled"`

	// Retention. A nil KeepLast means no limit; an explicit 0 archives
	// everything.
	KeepLast *int       `yaml:"keep_last"`
	Since    *time.Time `yaml:"since"`

	// Retry ceiling override; 0 falls back to the global max_errors.
	MaxErrors int `yaml:"max_errors"`

	// Presentation overrides.
	Title       string `yaml:"title"`
	Subtitle    string `yaml:"subtitle"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	Author      string `yaml:"author"`
	AuthorEmail string `yaml:"author_email"`
	Category    string `yaml:"category"`
	PodcastType string `yaml:"podcast_type"`
	Explicit    string `yaml:"explicit"`

	// Transcripts.
	TranscriptLang           string   `yaml:"transcript_lang"`
	TranscriptSourcePriority []string `yaml:"transcript_source_priority"`
}

// Enabled resolves the optional is_enabled flag, defaulting to true.
func (f *FeedConfig) Enabled() bool {
	return f.IsEnabled == nil || *f.IsEnabled
}

// IsManual reports whether the feed has no cron schedule.
func (f *FeedConfig) IsManual() bool {
	return f.Schedule == ScheduleManual || f.Schedule == ""
}

// SinceTime returns the configured lower retention bound or the zero time.
func (f *FeedConfig) SinceTime() time.Time {
	if f.Since == nil {
		return time.Time{}
	}
	return f.Since.UTC()
}

// TranscriptPriority converts the configured source list into domain types.
func (f *FeedConfig) TranscriptPriority() []domain.TranscriptSource {
	out := make([]domain.TranscriptSource, 0, len(f.TranscriptSourcePriority))
	for _, s := range f.TranscriptSourcePriority {
		out = append(out, domain.TranscriptSource(s))
	}
	return out
}

type feedsFile struct {
	Feeds map[string]FeedConfig `yaml:"feeds"`
}

// LoadFeeds reads and validates the feeds YAML file, returning a mapping of
// feed ID to its configuration.
func LoadFeeds(path string) (map[string]FeedConfig, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	var file feedsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}

	out := make(map[string]FeedConfig, len(file.Feeds))
	for id, fc := range file.Feeds {
		fc.ID = id
		if err := fc.Validate(); err != nil {
			return nil, fmt.Errorf("feed %q: %w", id, err)
		}
		out[id] = fc
	}
	return out, nil
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks one feed's configuration.
func (f *FeedConfig) Validate() error {
	if err := paths.ValidateID(f.ID); err != nil {
		return fmt.Errorf("id unsafe as path component: %w", err)
	}
	if !f.IsManual() {
		if f.URL == "" {
			return fmt.Errorf("url is required for scheduled feeds")
		}
		if _, err := cronParser.Parse(f.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", f.Schedule, err)
		}
	}
	if f.KeepLast != nil && *f.KeepLast < 0 {
		return fmt.Errorf("keep_last must not be negative")
	}
	if f.MaxErrors < 0 {
		return fmt.Errorf("max_errors must not be negative")
	}
	switch f.PodcastType {
	case "", "episodic", "serial":
	default:
		return fmt.Errorf("podcast_type must be episodic or serial, got %q", f.PodcastType)
	}
	switch f.Explicit {
	case "", "yes", "no", "clean":
	default:
		return fmt.Errorf("explicit must be yes, no or clean, got %q", f.Explicit)
	}
	for _, s := range f.TranscriptSourcePriority {
		if !domain.TranscriptSource(s).IsValid() {
			return fmt.Errorf("transcript_source_priority entry %q must be creator or auto", s)
		}
	}
	return nil
}
