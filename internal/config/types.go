// SPDX-License-Identifier: MIT

// Package config loads and validates the anypod configuration with the
// precedence ENV > file > defaults, and supports hot reloading.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anypod/anypod/internal/model"
)

// ScheduleManual is the literal schedule token for feeds that are only
// populated through admin submissions.
const ScheduleManual = "manual"

// DefaultMaxErrors is the retry budget before a download transitions to
// the error state.
const DefaultMaxErrors = 3

// AppConfig is the resolved process configuration.
type AppConfig struct {
	ConfigFile string `yaml:"-"`

	ListenAddr         string `yaml:"listen_addr"`
	DataDir            string `yaml:"data_dir"`
	BaseURL            string `yaml:"base_url"`
	DatabasePath       string `yaml:"database_path"`
	LogLevel           string `yaml:"log_level"`
	MaxConcurrentFeeds int    `yaml:"max_concurrent_feeds"`

	YtdlpPath   string `yaml:"ytdlp_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	CookiesPath string `yaml:"cookies_path"`

	Feeds map[string]*FeedConfig `yaml:"feeds"`
}

// FeedConfig is the per-feed configuration block consumed by the core.
type FeedConfig struct {
	URL       *string   `yaml:"url"`
	Schedule  string    `yaml:"schedule"`
	Enabled   *bool     `yaml:"enabled"`
	KeepLast  *int      `yaml:"keep_last"`
	Since     *DateTime `yaml:"since"`
	MaxErrors int       `yaml:"max_errors"`

	YtArgs Args `yaml:"yt_args"`

	Metadata *model.FeedMetadata `yaml:"metadata"`

	TranscriptLang           *string `yaml:"transcript_lang"`
	TranscriptSourcePriority *string `yaml:"transcript_source_priority"`
}

// IsEnabled applies the default (true) for an unset enabled flag.
func (f *FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// IsManual reports whether the feed runs only on explicit triggers.
func (f *FeedConfig) IsManual() bool {
	return f.Schedule == ScheduleManual
}

// SinceUTC returns the configured start date as a UTC instant, or nil.
func (f *FeedConfig) SinceUTC() *time.Time {
	if f.Since == nil {
		return nil
	}
	t := time.Time(*f.Since).UTC()
	return &t
}

// EffectiveMaxErrors applies the default retry budget.
func (f *FeedConfig) EffectiveMaxErrors() int {
	if f.MaxErrors <= 0 {
		return DefaultMaxErrors
	}
	return f.MaxErrors
}

// DateTime accepts either a date ("2006-01-02") or an RFC 3339 timestamp
// in YAML and normalizes to UTC.
type DateTime time.Time

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DateTime) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			*d = DateTime(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", raw)
}

// Args accepts either a single string or a list of strings in YAML. The
// string form is split on whitespace; quoting is not interpreted.
type Args []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*a = strings.Fields(raw)
		return nil
	default:
		return fmt.Errorf("yt_args must be a string or a list of strings")
	}
}
