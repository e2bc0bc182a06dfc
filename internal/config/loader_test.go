// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anypod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, ":8024", cfg.ListenAddr)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 2, cfg.MaxConcurrentFeeds)
	assert.Equal(t, "yt-dlp", cfg.YtdlpPath)
	assert.Empty(t, cfg.Feeds)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
data_dir: /tmp/anypod
base_url: https://pods.example.com
log_level: debug
feeds:
  tech-talks:
    url: https://www.youtube.com/@example/videos
    schedule: "0 */6 * * *"
    keep_last: 25
`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "https://pods.example.com", cfg.BaseURL)
	assert.Equal(t, path, cfg.ConfigFile)

	fc := cfg.Feeds["tech-talks"]
	require.NotNil(t, fc)
	require.NotNil(t, fc.KeepLast)
	assert.Equal(t, 25, *fc.KeepLast)
	assert.True(t, fc.IsEnabled())
	assert.False(t, fc.IsManual())
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
base_url: https://pods.example.com
data_dir: /tmp/anypod
`)
	t.Setenv("ANYPOD_LISTEN", ":7777")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadFeeds(t *testing.T) {
	cases := map[string]string{
		"missing schedule": `
feeds:
  f1:
    url: https://example.com/c
`,
		"scheduled without url": `
feeds:
  f1:
    schedule: "@hourly"
`,
		"bad cron": `
feeds:
  f1:
    url: https://example.com/c
    schedule: "whenever"
`,
		"bad url": `
feeds:
  f1:
    url: "::not-a-url"
    schedule: "@hourly"
`,
		"id with slash": `
feeds:
  "a/b":
    url: https://example.com/c
    schedule: "@hourly"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "data_dir: /tmp/x\nbase_url: http://localhost:8024\n"+body)
			_, err := NewLoader(path).Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateManualFeedNeedsNoURL(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/x
base_url: http://localhost:8024
feeds:
  inbox:
    schedule: manual
`)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Feeds["inbox"].IsManual())
}

func TestValidateRejectsBadGlobals(t *testing.T) {
	assert.Error(t, Validate(&AppConfig{DataDir: "", BaseURL: "http://x", MaxConcurrentFeeds: 1}))
	assert.Error(t, Validate(&AppConfig{DataDir: "/d", BaseURL: "not-absolute", MaxConcurrentFeeds: 1}))
	assert.Error(t, Validate(&AppConfig{DataDir: "/d", BaseURL: "http://x", MaxConcurrentFeeds: 0}))
}

func TestDateTimeUnmarshal(t *testing.T) {
	var fc FeedConfig
	require.NoError(t, yaml.Unmarshal([]byte(`since: 2024-03-15`), &fc))
	require.NotNil(t, fc.Since)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), time.Time(*fc.Since))

	fc = FeedConfig{}
	require.NoError(t, yaml.Unmarshal([]byte(`since: "2024-03-15T06:30:00+02:00"`), &fc))
	assert.Equal(t, time.Date(2024, 3, 15, 4, 30, 0, 0, time.UTC), time.Time(*fc.Since))

	fc = FeedConfig{}
	assert.Error(t, yaml.Unmarshal([]byte(`since: "15.03.2024"`), &fc))
}

func TestArgsUnmarshalStringOrList(t *testing.T) {
	var fc FeedConfig
	require.NoError(t, yaml.Unmarshal([]byte(`yt_args: "--format best -4"`), &fc))
	assert.Equal(t, Args{"--format", "best", "-4"}, fc.YtArgs)

	fc = FeedConfig{}
	require.NoError(t, yaml.Unmarshal([]byte("yt_args:\n  - --format\n  - best\n"), &fc))
	assert.Equal(t, Args{"--format", "best"}, fc.YtArgs)

	fc = FeedConfig{}
	assert.Error(t, yaml.Unmarshal([]byte("yt_args:\n  key: value\n"), &fc))
}

func TestEffectiveMaxErrors(t *testing.T) {
	fc := &FeedConfig{}
	assert.Equal(t, DefaultMaxErrors, fc.EffectiveMaxErrors())

	fc.MaxErrors = 7
	assert.Equal(t, 7, fc.EffectiveMaxErrors())
}
