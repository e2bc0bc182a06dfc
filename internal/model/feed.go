// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"time"
)

// SourceType classifies what kind of upstream URL a feed points at.
type SourceType string

const (
	SourceTypeChannel     SourceType = "channel"
	SourceTypePlaylist    SourceType = "playlist"
	SourceTypeSingleVideo SourceType = "single_video"
	SourceTypeManual      SourceType = "manual"
	SourceTypeUnknown     SourceType = "unknown"
)

// ParseSourceType validates a raw source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceTypeChannel, SourceTypePlaylist, SourceTypeSingleVideo, SourceTypeManual, SourceTypeUnknown:
		return SourceType(s), nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// PodcastType is the iTunes channel type.
type PodcastType string

const (
	PodcastTypeEpisodic PodcastType = "episodic"
	PodcastTypeSerial   PodcastType = "serial"
)

// MinSyncDate is the sentinel used as last_successful_sync for feeds that
// have never synced and have no configured start date. Using the Unix
// epoch keeps "fetch everything" semantics without nullable timestamps.
var MinSyncDate = time.Unix(0, 0).UTC()

// DefaultAuthorEmail is used when neither the extractor nor the config
// supplies an owner email. RSS validators require a non-empty value.
const DefaultAuthorEmail = "podcast@example.com"

// Feed is one configured source producing a podcast.
type Feed struct {
	ID string

	IsEnabled   bool
	SourceType  SourceType
	SourceURL   *string // nil means manual-only feed
	ResolvedURL *string // canonical URL the extractor queries

	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastSuccessfulSync  time.Time
	LastFailedSync      *time.Time
	LastRSSGeneration   *time.Time
	ConsecutiveFailures int

	// Retention policy.
	Since    *time.Time // earliest publication date to keep
	KeepLast *int       // cap on non-archived retained items

	// Podcast metadata; all overridable from config.
	Title                    string
	Subtitle                 *string
	Description              *string
	Language                 *string
	Author                   *string
	AuthorEmail              string
	Category                 *string
	PodcastType              *PodcastType
	Explicit                 bool
	RemoteImageURL           *string
	ImageExt                 *string // set once cover art is on disk
	TranscriptLang           *string
	TranscriptSourcePriority *string

	// Derived: count of DOWNLOADED items, maintained by DB triggers.
	TotalDownloads int
}

// IsManual reports whether the feed is populated only through admin
// submissions.
func (f *Feed) IsManual() bool {
	return f.SourceURL == nil || f.SourceType == SourceTypeManual
}
