// SPDX-License-Identifier: MIT

package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/ytdlp"
)

// siteHandler maps one extractor entry to a Download row. Handlers own
// the per-site quirks: which URL field is canonical, which entries get
// dropped, and how missing fields are filled.
type siteHandler interface {
	name() string
	mapEntry(feedID string, e *ytdlp.Entry) (*model.Download, error)
}

func dispatch(e *ytdlp.Entry) siteHandler {
	extractor := strings.ToLower(e.Extractor + " " + e.ExtractorKey)
	switch {
	case strings.Contains(extractor, "youtube"):
		return youtubeHandler{}
	case strings.Contains(extractor, "patreon"):
		return patreonHandler{}
	case strings.Contains(extractor, "twitter"):
		return twitterHandler{}
	default:
		return genericHandler{}
	}
}

// baseDownload fills the fields every site maps the same way. The
// handler fixes up source_url and anything site-specific afterwards.
func baseDownload(feedID string, e *ytdlp.Entry) (*model.Download, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("entry without id (title %q)", e.Title)
	}

	published, ok := e.PublishedAt()
	if !ok {
		published = time.Now().UTC()
	}

	d := &model.Download{
		FeedID:        feedID,
		ID:            e.ID,
		SourceURL:     firstNonEmpty(e.WebpageURL, e.OriginalURL, e.URL),
		Title:         firstNonEmpty(e.Title, e.ID),
		Description:   e.Description,
		Published:     published,
		PlaylistIndex: e.PlaylistIndex,
	}
	if e.Thumbnail != "" {
		thumb := e.Thumbnail
		d.RemoteThumbnailURL = &thumb
	}

	if e.IsUpcoming() {
		d.Ext = model.LiveExt
		d.Duration = 0
		d.Status = model.StatusUpcoming
		d.MIMEType = "application/octet-stream"
		return d, nil
	}

	d.Ext = e.Ext
	d.Duration = int64(e.Duration)
	d.Filesize = e.BestSize()
	d.MIMEType = MIMETypeForExt(e.Ext)
	d.Status = model.StatusQueued
	return d, nil
}

type youtubeHandler struct{}

func (youtubeHandler) name() string { return "youtube" }

func (youtubeHandler) mapEntry(feedID string, e *ytdlp.Entry) (*model.Download, error) {
	d, err := baseDownload(feedID, e)
	if err != nil {
		return nil, err
	}
	if d.SourceURL == "" {
		d.SourceURL = "https://www.youtube.com/watch?v=" + e.ID
	}
	if d.Ext == "" && d.Status == model.StatusQueued {
		d.Ext = "mp4"
		d.MIMEType = MIMETypeForExt(d.Ext)
	}
	return d, nil
}

type patreonHandler struct{}

func (patreonHandler) name() string { return "patreon" }

// Patreon posts without a media extension are text-only; they carry no
// fetchable enclosure and are dropped.
func (patreonHandler) mapEntry(feedID string, e *ytdlp.Entry) (*model.Download, error) {
	if !e.IsUpcoming() && e.Ext == "" {
		return nil, fmt.Errorf("patreon post %s has no media: %w", e.ID, ErrFilteredOut)
	}
	d, err := baseDownload(feedID, e)
	if err != nil {
		return nil, err
	}
	if d.SourceURL == "" {
		d.SourceURL = "https://www.patreon.com/posts/" + e.ID
	}
	return d, nil
}

type twitterHandler struct{}

func (twitterHandler) name() string { return "twitter" }

func (twitterHandler) mapEntry(feedID string, e *ytdlp.Entry) (*model.Download, error) {
	d, err := baseDownload(feedID, e)
	if err != nil {
		return nil, err
	}
	if d.SourceURL == "" {
		d.SourceURL = "https://twitter.com/i/status/" + e.ID
	}
	if d.Ext == "" && d.Status == model.StatusQueued {
		d.Ext = "mp4"
		d.MIMEType = MIMETypeForExt(d.Ext)
	}
	return d, nil
}

type genericHandler struct{}

func (genericHandler) name() string { return "generic" }

func (genericHandler) mapEntry(feedID string, e *ytdlp.Entry) (*model.Download, error) {
	d, err := baseDownload(feedID, e)
	if err != nil {
		return nil, err
	}
	if d.SourceURL == "" {
		return nil, fmt.Errorf("entry %s has no usable source url: %w", e.ID, ErrFilteredOut)
	}
	if d.Ext == "" && d.Status == model.StatusQueued {
		d.Ext = "mp4"
		d.MIMEType = MIMETypeForExt(d.Ext)
	}
	return d, nil
}

// mimeForExt maps media extensions to enclosure MIME types. Unknown
// extensions fall back to a generic binary type so the RSS stays valid.
var mimeForExt = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"flac": "audio/flac",
	"wav":  "audio/wav",
}

// MIMETypeForExt returns the enclosure MIME type for a media extension.
func MIMETypeForExt(ext string) string {
	if m, ok := mimeForExt[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
