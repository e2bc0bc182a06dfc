// SPDX-License-Identifier: MIT

// Package paths owns the on-disk layout of the data directory:
//
//	{feed_id}/{download_id}.{ext}            media
//	{feed_id}/{download_id}.{thumbnail_ext}  thumbnail
//	{feed_id}/{download_id}.{transcript_ext} transcript
//	{feed_id}/feed.xml                       generated RSS
//	image/{feed_id}.{ext}                    feed cover art
//
// All lookups are confined to the data directory; a feed or download id
// that would escape it is an error, never a path.
package paths

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FeedXMLName is the per-feed RSS document file name.
const FeedXMLName = "feed.xml"

// IncompleteSuffix marks partially written media files. Files with this
// suffix are never served and are safe to delete on startup.
const IncompleteSuffix = ".incomplete"

const imageDirName = "image"

// Manager resolves on-disk paths and public URLs for feed artifacts.
type Manager struct {
	dataDir string
	baseURL string
}

// NewManager creates a path manager rooted at dataDir. baseURL is the
// absolute external base for enclosure and transcript URLs.
func NewManager(dataDir, baseURL string) *Manager {
	return &Manager{
		dataDir: dataDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// DataDir returns the root data directory.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// EnsureBase creates the data and image directories.
func (m *Manager) EnsureBase() error {
	for _, dir := range []string{m.dataDir, filepath.Join(m.dataDir, imageDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FeedDir resolves (and creates) the media directory for a feed.
func (m *Manager) FeedDir(feedID string) (string, error) {
	dir, err := confineRelPath(m.dataDir, feedID)
	if err != nil {
		return "", fmt.Errorf("feed dir for %q: %w", feedID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create feed dir %s: %w", dir, err)
	}
	return dir, nil
}

// MediaPath resolves the media file path for a download.
func (m *Manager) MediaPath(feedID, downloadID, ext string) (string, error) {
	return m.feedFile(feedID, downloadID+"."+ext)
}

// ThumbnailPath resolves the thumbnail path for a download.
func (m *Manager) ThumbnailPath(feedID, downloadID, ext string) (string, error) {
	return m.feedFile(feedID, downloadID+"."+ext)
}

// TranscriptPath resolves the transcript path for a download.
func (m *Manager) TranscriptPath(feedID, downloadID, ext string) (string, error) {
	return m.feedFile(feedID, downloadID+"."+ext)
}

// FeedXMLPath resolves the generated RSS document path for a feed.
func (m *Manager) FeedXMLPath(feedID string) (string, error) {
	return m.feedFile(feedID, FeedXMLName)
}

// FeedImageBase resolves the extension-less cover art base path for a
// feed; the image downloader appends the normalized extension.
func (m *Manager) FeedImageBase(feedID string) (string, error) {
	p, err := confineRelPath(m.dataDir, filepath.Join(imageDirName, feedID))
	if err != nil {
		return "", fmt.Errorf("image path for %q: %w", feedID, err)
	}
	return p, nil
}

// FeedImagePath resolves the cover art path for a feed.
func (m *Manager) FeedImagePath(feedID, ext string) (string, error) {
	p, err := confineRelPath(m.dataDir, filepath.Join(imageDirName, feedID+"."+ext))
	if err != nil {
		return "", fmt.Errorf("image path for %q: %w", feedID, err)
	}
	return p, nil
}

func (m *Manager) feedFile(feedID, name string) (string, error) {
	if _, err := m.FeedDir(feedID); err != nil {
		return "", err
	}
	p, err := confineRelPath(m.dataDir, filepath.Join(feedID, name))
	if err != nil {
		return "", fmt.Errorf("path for %s/%s: %w", feedID, name, err)
	}
	return p, nil
}

// Incomplete returns the transient sidecar name for a final path.
func Incomplete(finalPath string) string {
	return finalPath + IncompleteSuffix
}

// MediaURL returns the public URL the RSS enclosure points at.
func (m *Manager) MediaURL(feedID, downloadID, ext string) string {
	return m.baseURL + "/media/" + url.PathEscape(feedID) + "/" + url.PathEscape(downloadID+"."+ext)
}

// FeedURL returns the public URL of the feed's RSS document.
func (m *Manager) FeedURL(feedID string) string {
	return m.baseURL + "/feeds/" + url.PathEscape(feedID) + ".xml"
}

// FeedImageURL returns the public URL of the feed's cover art.
func (m *Manager) FeedImageURL(feedID, ext string) string {
	return m.baseURL + "/media/" + url.PathEscape(imageDirName) + "/" + url.PathEscape(feedID+"."+ext)
}
