// SPDX-License-Identifier: MIT

package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one metadata object emitted by the extractor. Only the fields
// the handlers consume are mapped.
type Entry struct {
	Type           string  `json:"_type"`
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	WebpageURL     string  `json:"webpage_url"`
	OriginalURL    string  `json:"original_url"`
	URL            string  `json:"url"`
	Timestamp      int64   `json:"timestamp"`
	UploadDate     string  `json:"upload_date"` // YYYYMMDD
	Duration       float64 `json:"duration"`
	Ext            string  `json:"ext"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	LiveStatus     string  `json:"live_status"`
	IsLive         bool    `json:"is_live"`
	Thumbnail      string  `json:"thumbnail"`
	PlaylistIndex  *int    `json:"playlist_index"`
	Extractor      string  `json:"extractor"`
	ExtractorKey   string  `json:"extractor_key"`

	Entries []Entry `json:"entries"` // playlist dumps only

	Subtitles         map[string][]SubtitleFormat `json:"subtitles"`
	AutomaticCaptions map[string][]SubtitleFormat `json:"automatic_captions"`
}

// SubtitleFormat is one available subtitle rendition.
type SubtitleFormat struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// IsUpcoming reports whether the entry is a live stream or premiere that
// has not finished yet.
func (e *Entry) IsUpcoming() bool {
	switch e.LiveStatus {
	case "is_upcoming", "is_live":
		return true
	}
	return e.IsLive
}

// PublishedAt derives the publication instant, preferring the exact
// timestamp over the day-granular upload date.
func (e *Entry) PublishedAt() (time.Time, bool) {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC(), true
	}
	if e.UploadDate != "" {
		if t, err := time.Parse("20060102", e.UploadDate); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// BestSize returns the known or approximate file size.
func (e *Entry) BestSize() int64 {
	if e.Filesize > 0 {
		return e.Filesize
	}
	return e.FilesizeApprox
}

// FetchOptions control a metadata fetch.
type FetchOptions struct {
	// DateAfter limits playlist fetches to items uploaded on or after
	// this day (the extractor's date filter is day-granular).
	DateAfter *time.Time
	// DateBefore bounds the fetch window from above, same granularity.
	DateBefore *time.Time
	// PlaylistEnd caps how many playlist items the extractor examines.
	PlaylistEnd int
	// CookiesPath is forwarded with --cookies when set.
	CookiesPath string
	// UserArgs are the feed's opaque pass-through arguments.
	UserArgs []string
	// SubtitleLangs requests subtitle listings for these languages.
	SubtitleLangs string
}

// FetchMetadata runs the extractor against url with --skip-download and
// per-entry JSON output, returning one Entry per discovered item.
func (c *Client) FetchMetadata(ctx context.Context, url string, opts FetchOptions) ([]Entry, error) {
	args := append([]string{}, opts.UserArgs...)
	args = append(args,
		"--skip-download",
		"--dump-json",
		"--no-warnings",
		"--ignore-no-formats-error",
	)
	if opts.DateAfter != nil {
		args = append(args, "--dateafter", opts.DateAfter.UTC().Format("20060102"))
	}
	if opts.DateBefore != nil {
		args = append(args, "--datebefore", opts.DateBefore.UTC().Format("20060102"))
	}
	if opts.PlaylistEnd > 0 {
		args = append(args, "--playlist-end", fmt.Sprint(opts.PlaylistEnd))
	}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	stdout, _, err := c.run(ctx, c.timeout, url, args...)
	if err != nil {
		return nil, err
	}
	return parseEntries(stdout)
}

// Discover runs a flat single-level dump used for URL classification:
// it answers "what is this URL" without enumerating every item's full
// metadata.
func (c *Client) Discover(ctx context.Context, url string, opts FetchOptions) (*Entry, error) {
	args := append([]string{}, opts.UserArgs...)
	args = append(args,
		"--skip-download",
		"-J",
		"--flat-playlist",
		"--playlist-items", "1-5",
		"--no-warnings",
	)
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	stdout, _, err := c.run(ctx, c.timeout, url, args...)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &entry); err != nil {
		return nil, fmt.Errorf("parse discovery output for %s: %w", url, err)
	}
	return &entry, nil
}

// parseEntries reads newline-delimited JSON objects.
func parseEntries(out string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader([]byte(out)))
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse metadata line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read metadata output: %w", err)
	}
	return entries, nil
}
