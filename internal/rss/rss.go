// SPDX-License-Identifier: MIT

// Package rss materializes the per-feed podcast document: RSS 2.0 with
// the iTunes and Podcasting 2.0 namespaces. Generated bytes are cached
// in memory and mirrored to {feed}/feed.xml so the HTTP layer can serve
// a static file.
package rss

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/files"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
)

const (
	itunesNamespace  = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	podcastNamespace = "https://podcastindex.org/namespace/1.0"
	generatorName    = "anypod"
	channelTTL       = 60
)

// ErrFeedXMLNotFound marks a feed whose document has not been generated.
var ErrFeedXMLNotFound = errors.New("feed xml not found")

// GenerationError wraps a per-feed document build failure.
type GenerationError struct {
	FeedID string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("rss generation for %s: %v", e.FeedID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type rssDoc struct {
	XMLName   xml.Name `xml:"rss"`
	Version   string   `xml:"version,attr"`
	ItunesNS  string   `xml:"xmlns:itunes,attr"`
	PodcastNS string   `xml:"xmlns:podcast,attr"`
	Channel   channel  `xml:"channel"`
}

type channel struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	Language    string  `xml:"language,omitempty"`
	Generator   string  `xml:"generator"`
	TTL         int     `xml:"ttl"`
	PubDate     string  `xml:"pubDate,omitempty"`

	ItunesAuthor   string          `xml:"itunes:author,omitempty"`
	ItunesSubtitle string          `xml:"itunes:subtitle,omitempty"`
	ItunesSummary  string          `xml:"itunes:summary,omitempty"`
	ItunesExplicit string          `xml:"itunes:explicit"`
	ItunesType     string          `xml:"itunes:type,omitempty"`
	ItunesOwner    *itunesOwner    `xml:"itunes:owner,omitempty"`
	ItunesCategory *itunesCategory `xml:"itunes:category,omitempty"`
	ItunesImage    *itunesImage    `xml:"itunes:image,omitempty"`

	Items []item `xml:"item"`
}

type itunesOwner struct {
	Name  string `xml:"itunes:name,omitempty"`
	Email string `xml:"itunes:email"`
}

type itunesCategory struct {
	Text string `xml:"text,attr"`
}

type itunesImage struct {
	Href string `xml:"href,attr"`
}

type item struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link,omitempty"`
	GUID        guid      `xml:"guid"`
	Description string    `xml:"description,omitempty"`
	PubDate     string    `xml:"pubDate"`
	Enclosure   enclosure `xml:"enclosure"`

	ItunesDuration string       `xml:"itunes:duration,omitempty"`
	ItunesImage    *itunesImage `xml:"itunes:image,omitempty"`

	Transcript *podcastTranscript `xml:"podcast:transcript,omitempty"`
}

type guid struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type podcastTranscript struct {
	URL      string `xml:"url,attr"`
	Type     string `xml:"type,attr"`
	Language string `xml:"language,attr,omitempty"`
}

// Generator builds and caches feed documents.
type Generator struct {
	downloads *db.DownloadStore
	paths     *paths.Manager
	files     *files.Manager
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewGenerator creates a generator.
func NewGenerator(downloads *db.DownloadStore, pm *paths.Manager, fm *files.Manager) *Generator {
	return &Generator{
		downloads: downloads,
		paths:     pm,
		files:     fm,
		logger:    xlog.WithComponent("rss"),
		cache:     make(map[string][]byte),
	}
}

// UpdateFeed rebuilds the feed's document from its DOWNLOADED items,
// caches the bytes, and writes them to disk atomically.
func (g *Generator) UpdateFeed(ctx context.Context, feedID string, feed *model.Feed) error {
	items, err := g.downloads.GetDownloadsByStatusDesc(ctx, model.StatusDownloaded, feedID)
	if err != nil {
		return &GenerationError{FeedID: feedID, Err: err}
	}

	doc := g.buildDoc(feed, items)
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &GenerationError{FeedID: feedID, Err: err}
	}
	data := append([]byte(xml.Header), body...)
	data = append(data, '\n')

	xmlPath, err := g.paths.FeedXMLPath(feedID)
	if err != nil {
		return &GenerationError{FeedID: feedID, Err: err}
	}
	if err := g.files.WriteAtomic(xmlPath, data); err != nil {
		return &GenerationError{FeedID: feedID, Err: err}
	}

	g.mu.Lock()
	g.cache[feedID] = data
	g.mu.Unlock()

	g.logger.Info().Str("event", "rss.generated").Str("feed_id", feedID).
		Int("items", len(items)).Int("bytes", len(data)).Msg("feed document rebuilt")
	return nil
}

// GetFeedXML returns the cached document, falling back to the on-disk
// copy after a restart.
func (g *Generator) GetFeedXML(feedID string) ([]byte, error) {
	g.mu.RLock()
	data, ok := g.cache[feedID]
	g.mu.RUnlock()
	if ok {
		return data, nil
	}

	xmlPath, err := g.paths.FeedXMLPath(feedID)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedID, ErrFeedXMLNotFound)
	}
	data, err = os.ReadFile(xmlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("feed %s: %w", feedID, ErrFeedXMLNotFound)
		}
		return nil, fmt.Errorf("read feed xml for %s: %w", feedID, err)
	}

	g.mu.Lock()
	g.cache[feedID] = data
	g.mu.Unlock()
	return data, nil
}

// Evict drops a feed's cached document, for feeds removed from config.
func (g *Generator) Evict(feedID string) {
	g.mu.Lock()
	delete(g.cache, feedID)
	g.mu.Unlock()
}

func (g *Generator) buildDoc(feed *model.Feed, items []*model.Download) *rssDoc {
	ch := channel{
		Title:          feed.Title,
		Link:           channelLink(feed, g.paths),
		Description:    deref(feed.Description),
		Language:       deref(feed.Language),
		Generator:      generatorName,
		TTL:            channelTTL,
		ItunesAuthor:   deref(feed.Author),
		ItunesSubtitle: deref(feed.Subtitle),
		ItunesSummary:  deref(feed.Description),
		ItunesExplicit: explicitString(feed.Explicit),
		ItunesOwner: &itunesOwner{
			Name:  deref(feed.Author),
			Email: feed.AuthorEmail,
		},
	}
	if feed.Category != nil {
		ch.ItunesCategory = &itunesCategory{Text: *feed.Category}
	}
	if feed.PodcastType != nil {
		ch.ItunesType = string(*feed.PodcastType)
	}
	if feed.ImageExt != nil {
		ch.ItunesImage = &itunesImage{Href: g.paths.FeedImageURL(feed.ID, *feed.ImageExt)}
	} else if feed.RemoteImageURL != nil {
		ch.ItunesImage = &itunesImage{Href: *feed.RemoteImageURL}
	}

	for _, d := range items {
		ch.Items = append(ch.Items, g.buildItem(feed, d))
	}
	if len(items) > 0 {
		ch.PubDate = items[0].Published.UTC().Format(time.RFC1123Z)
	}

	return &rssDoc{
		Version:   "2.0",
		ItunesNS:  itunesNamespace,
		PodcastNS: podcastNamespace,
		Channel:   ch,
	}
}

func (g *Generator) buildItem(feed *model.Feed, d *model.Download) item {
	it := item{
		Title:       d.Title,
		Link:        d.SourceURL,
		GUID:        guid{IsPermaLink: "false", Value: d.FeedID + "/" + d.ID},
		Description: d.Description,
		PubDate:     d.Published.UTC().Format(time.RFC1123Z),
		Enclosure: enclosure{
			URL:    g.paths.MediaURL(d.FeedID, d.ID, d.Ext),
			Length: d.Filesize,
			Type:   d.MIMEType,
		},
	}
	if d.Duration > 0 {
		it.ItunesDuration = formatDuration(d.Duration)
	}
	if d.ThumbnailExt != nil {
		it.ItunesImage = &itunesImage{Href: g.paths.MediaURL(d.FeedID, d.ID, *d.ThumbnailExt)}
	}
	if d.TranscriptExt != nil {
		it.Transcript = &podcastTranscript{
			URL:      g.paths.MediaURL(d.FeedID, d.ID, *d.TranscriptExt),
			Type:     transcriptMIME(*d.TranscriptExt),
			Language: deref(d.TranscriptLang),
		}
	}
	return it
}

func channelLink(feed *model.Feed, pm *paths.Manager) string {
	if feed.SourceURL != nil {
		return *feed.SourceURL
	}
	return pm.FeedURL(feed.ID)
}

// explicitString renders the modern itunes:explicit form; "yes"/"no" is
// the deprecated variant podcast directories warn about.
func explicitString(explicit bool) string {
	if explicit {
		return "true"
	}
	return "false"
}

func formatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func transcriptMIME(ext string) string {
	switch strings.ToLower(ext) {
	case "vtt":
		return "text/vtt"
	case "srt":
		return "application/x-subrip"
	case "json":
		return "application/json"
	default:
		return "text/plain"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
