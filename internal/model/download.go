// SPDX-License-Identifier: MIT

// Package model defines the persisted domain types shared by the stores,
// the pipeline, and the HTTP surface.
package model

import (
	"fmt"
	"time"
)

// DownloadStatus tracks an item through its lifecycle. Transitions are
// owned by the download store; see the status-update rules there.
type DownloadStatus string

const (
	// StatusUpcoming marks a discovered live stream or premiere that has
	// not been broadcast yet.
	StatusUpcoming DownloadStatus = "upcoming"
	// StatusQueued marks an item ready to be fetched.
	StatusQueued DownloadStatus = "queued"
	// StatusDownloaded marks an item whose media file is on disk.
	StatusDownloaded DownloadStatus = "downloaded"
	// StatusError marks an item whose retries are exhausted.
	StatusError DownloadStatus = "error"
	// StatusSkipped marks a user-excluded item the pipeline ignores.
	StatusSkipped DownloadStatus = "skipped"
	// StatusArchived marks an item removed by retention policy. Only the
	// reconciler may revive it.
	StatusArchived DownloadStatus = "archived"
)

// ParseDownloadStatus validates a raw status string.
func ParseDownloadStatus(s string) (DownloadStatus, error) {
	switch DownloadStatus(s) {
	case StatusUpcoming, StatusQueued, StatusDownloaded, StatusError, StatusSkipped, StatusArchived:
		return DownloadStatus(s), nil
	}
	return "", fmt.Errorf("unknown download status %q", s)
}

// TranscriptSource records where a download's transcript came from.
type TranscriptSource string

const (
	TranscriptSourceCreator      TranscriptSource = "creator"
	TranscriptSourceAuto         TranscriptSource = "auto"
	TranscriptSourceNotAvailable TranscriptSource = "not_available"
)

// LiveExt is the extension placeholder for items that have not been
// broadcast yet. A live/premiere item carries ext "live" and duration 0
// until a metadata re-fetch turns it into a VOD.
const LiveExt = "live"

// Download is one discovered item belonging to a feed. The composite key
// is (FeedID, ID) where ID is the extractor-provided stable identifier.
type Download struct {
	FeedID string
	ID     string

	SourceURL   string
	Title       string
	Description string
	Published   time.Time
	Duration    int64 // seconds
	Ext         string
	MIMEType    string
	Filesize    int64

	Status       DownloadStatus
	Retries      int
	LastError    *string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
	DownloadedAt *time.Time

	PlaylistIndex *int
	DownloadLogs  *string

	RemoteThumbnailURL *string
	ThumbnailExt       *string

	TranscriptExt    *string
	TranscriptLang   *string
	TranscriptSource *TranscriptSource
}

// IsVOD reports whether the item represents finished, fetchable media.
func (d *Download) IsVOD() bool {
	return d.Ext != LiveExt && d.Status != StatusUpcoming
}

// MediaFilename returns the on-disk media file name for the download.
func (d *Download) MediaFilename() string {
	return d.ID + "." + d.Ext
}
