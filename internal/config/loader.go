// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anypod/anypod/internal/schedule"
)

// Loader loads configuration from a YAML file with environment overrides.
type Loader struct {
	path string
}

// NewLoader creates a loader for the given config file path. An empty
// path loads from environment and defaults only.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads, merges, and validates the configuration.
// Precedence: ENV > file > defaults.
func (l *Loader) Load() (*AppConfig, error) {
	cfg := defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.path, err)
		}
		cfg.ConfigFile = l.path
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:         ":8024",
		DataDir:            "/data",
		BaseURL:            "http://localhost:8024",
		DatabasePath:       "", // derived from DataDir when empty
		LogLevel:           "info",
		MaxConcurrentFeeds: 2,
		YtdlpPath:          "yt-dlp",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		Feeds:              map[string]*FeedConfig{},
	}
}

func applyEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("ANYPOD_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("ANYPOD_DATA", cfg.DataDir)
	cfg.BaseURL = ParseString("BASE_URL", cfg.BaseURL)
	cfg.DatabasePath = ParseString("DATABASE_URL", cfg.DatabasePath)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.MaxConcurrentFeeds = ParseInt("ANYPOD_MAX_CONCURRENT_FEEDS", cfg.MaxConcurrentFeeds)
	cfg.YtdlpPath = ParseString("ANYPOD_YTDLP_PATH", cfg.YtdlpPath)
	cfg.FFmpegPath = ParseString("ANYPOD_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = ParseString("ANYPOD_FFPROBE_PATH", cfg.FFprobePath)
	cfg.CookiesPath = ParseString("ANYPOD_COOKIES_PATH", cfg.CookiesPath)
}

// Validate checks the configuration for fatal problems. A failing config
// must never be applied.
func Validate(cfg *AppConfig) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", cfg.BaseURL)
	}
	if cfg.MaxConcurrentFeeds < 1 {
		return fmt.Errorf("max_concurrent_feeds must be >= 1, got %d", cfg.MaxConcurrentFeeds)
	}

	for id, fc := range cfg.Feeds {
		if fc == nil {
			return fmt.Errorf("feed %q: empty config block", id)
		}
		if err := validateFeed(id, fc); err != nil {
			return err
		}
	}
	return nil
}

func validateFeed(id string, fc *FeedConfig) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("feed id must not be empty")
	}
	if strings.ContainsAny(id, "/\\ ") {
		return fmt.Errorf("feed %q: id must not contain separators or spaces", id)
	}
	if strings.TrimSpace(fc.Schedule) == "" {
		return fmt.Errorf("feed %q: schedule is required", id)
	}
	if fc.Schedule != ScheduleManual {
		if _, err := schedule.ParseCron(fc.Schedule); err != nil {
			return fmt.Errorf("feed %q: invalid schedule: %w", id, err)
		}
		if fc.URL == nil || strings.TrimSpace(*fc.URL) == "" {
			return fmt.Errorf("feed %q: url is required for scheduled feeds", id)
		}
	}
	if fc.URL != nil {
		if u, err := url.Parse(*fc.URL); err != nil || u.Scheme == "" {
			return fmt.Errorf("feed %q: invalid url %q", id, *fc.URL)
		}
	}
	if fc.MaxErrors < 0 {
		return fmt.Errorf("feed %q: max_errors must not be negative", id)
	}
	return nil
}
