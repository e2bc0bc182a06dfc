// SPDX-License-Identifier: MIT

// Package extractor classifies source URLs and turns extractor metadata
// into Download rows. Per-site quirks live in handlers; everything else
// in the system consumes the uniform Service operations.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/ytdlp"
)

// ErrFilteredOut marks entries a site handler drops on purpose, for
// example Patreon text posts with no media. Callers skip these silently.
var ErrFilteredOut = errors.New("entry filtered out")

// ErrNoResults marks a metadata fetch that returned zero usable entries.
var ErrNoResults = errors.New("no results")

// ErrUnsupportedURL re-exports the extractor tool's refusal so callers
// need not import the subprocess package.
var ErrUnsupportedURL = ytdlp.ErrUnsupportedURL

// DownloadError wraps a per-item media fetch failure with its identity.
type DownloadError struct {
	FeedID     string
	DownloadID string
	Err        error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s/%s: %v", e.FeedID, e.DownloadID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DurationProber supplies media durations when the extractor's metadata
// omits them.
type DurationProber interface {
	Duration(ctx context.Context, target string) (int64, error)
}

// FetchRequest carries everything a metadata fetch needs.
type FetchRequest struct {
	FeedID                   string
	SourceType               model.SourceType
	ResolvedURL              string
	UserArgs                 []string
	FetchSince               *time.Time
	FetchUntil               *time.Time
	KeepLast                 int
	TranscriptLang           string
	TranscriptSourcePriority string
	CookiesPath              string
}

// Service is the extractor facade.
type Service struct {
	client *ytdlp.Client
	prober DurationProber
	logger zerolog.Logger
}

// New creates the service. prober may be nil to disable the duration
// fallback probe.
func New(client *ytdlp.Client, prober DurationProber) *Service {
	return &Service{
		client: client,
		prober: prober,
		logger: xlog.WithComponent("extractor"),
	}
}

// DetermineFetchStrategy classifies a source URL. A bare channel root
// resolves to the channel's videos tab; playlists stay as-is; anything
// that is not a playlist dump is a single video.
func (s *Service) DetermineFetchStrategy(ctx context.Context, feedID, sourceURL string, userArgs []string, cookiesPath string) (string, model.SourceType, error) {
	entry, err := s.client.Discover(ctx, sourceURL, ytdlp.FetchOptions{
		CookiesPath: cookiesPath,
		UserArgs:    userArgs,
	})
	if err != nil {
		return "", model.SourceTypeUnknown, fmt.Errorf("classify %s: %w", sourceURL, err)
	}

	if entry.Type != "playlist" {
		return sourceURL, model.SourceTypeSingleVideo, nil
	}

	// A channel root dumps as a playlist of tab playlists. Prefer the
	// videos tab when the extractor enumerates one.
	for _, sub := range entry.Entries {
		if sub.Type != "playlist" {
			continue
		}
		tabURL := firstNonEmpty(sub.WebpageURL, sub.URL)
		if strings.HasSuffix(strings.TrimRight(tabURL, "/"), "/videos") {
			s.logger.Info().Str("event", "extractor.strategy").Str("feed_id", feedID).
				Str("resolved_url", tabURL).Msg("channel root resolved to videos tab")
			return tabURL, model.SourceTypeChannel, nil
		}
	}

	resolved := firstNonEmpty(entry.WebpageURL, sourceURL)
	if isChannelURL(resolved) {
		return resolved, model.SourceTypeChannel, nil
	}
	return resolved, model.SourceTypePlaylist, nil
}

// FetchNewDownloadsMetadata enumerates upstream items and maps them to
// Download rows with status pre-classified as UPCOMING or QUEUED.
//
// The date filter is day-granular and only applies to channel and
// playlist fetches; single-video fetches ignore it.
func (s *Service) FetchNewDownloadsMetadata(ctx context.Context, req FetchRequest) ([]*model.Download, error) {
	opts := ytdlp.FetchOptions{
		CookiesPath: req.CookiesPath,
		UserArgs:    req.UserArgs,
	}
	if req.SourceType != model.SourceTypeSingleVideo {
		if req.FetchSince != nil && req.FetchSince.After(model.MinSyncDate) {
			opts.DateAfter = req.FetchSince
		}
		opts.DateBefore = req.FetchUntil
		if req.KeepLast > 0 {
			opts.PlaylistEnd = req.KeepLast
		}
	}

	entries, err := s.client.FetchMetadata(ctx, req.ResolvedURL, opts)
	if err != nil {
		return nil, err
	}

	downloads := make([]*model.Download, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Type == "playlist" {
			continue
		}
		h := dispatch(e)
		d, err := h.mapEntry(req.FeedID, e)
		if err != nil {
			if errors.Is(err, ErrFilteredOut) {
				s.logger.Debug().Str("event", "extractor.filtered").Str("feed_id", req.FeedID).
					Str("download_id", e.ID).Str("handler", h.name()).Msg("entry filtered out")
				continue
			}
			return nil, err
		}
		s.applyTranscriptMetadata(d, e, req.TranscriptLang, req.TranscriptSourcePriority)
		s.probeDurationIfMissing(ctx, d, e)
		downloads = append(downloads, d)
	}

	// The extractor cannot always honor playlist-end, so cap here too.
	if req.SourceType != model.SourceTypeSingleVideo && req.KeepLast > 0 && len(downloads) > req.KeepLast {
		downloads = downloads[:req.KeepLast]
	}
	return downloads, nil
}

// FetchSingleMetadata fetches exactly one item's metadata, used for
// UPCOMING re-checks and manual submissions. Zero or multiple results
// are reported as ErrNoResults and an ambiguity error respectively.
func (s *Service) FetchSingleMetadata(ctx context.Context, feedID, sourceURL string, userArgs []string, transcriptLang, transcriptPriority, cookiesPath string) (*model.Download, error) {
	downloads, err := s.FetchNewDownloadsMetadata(ctx, FetchRequest{
		FeedID:                   feedID,
		SourceType:               model.SourceTypeSingleVideo,
		ResolvedURL:              sourceURL,
		UserArgs:                 userArgs,
		TranscriptLang:           transcriptLang,
		TranscriptSourcePriority: transcriptPriority,
		CookiesPath:              cookiesPath,
	})
	if err != nil {
		return nil, err
	}
	switch len(downloads) {
	case 0:
		return nil, fmt.Errorf("%w for %s", ErrNoResults, sourceURL)
	case 1:
		return downloads[0], nil
	default:
		return nil, fmt.Errorf("ambiguous result for %s: %d entries", sourceURL, len(downloads))
	}
}

// DownloadMedia fetches the download's media into targetDir and returns
// the final on-disk path.
func (s *Service) DownloadMedia(ctx context.Context, d *model.Download, targetDir string, userArgs []string, cookiesPath string) (string, error) {
	path, err := s.client.DownloadMedia(ctx, d.SourceURL, ytdlp.DownloadOptions{
		TargetDir:   targetDir,
		ID:          d.ID,
		CookiesPath: cookiesPath,
		UserArgs:    userArgs,
	})
	if err != nil {
		return "", &DownloadError{FeedID: d.FeedID, DownloadID: d.ID, Err: err}
	}
	return path, nil
}

// DownloadThumbnail fetches the download's thumbnail via the extractor
// tool and returns the written path.
func (s *Service) DownloadThumbnail(ctx context.Context, d *model.Download, targetDir string, userArgs []string, cookiesPath string) (string, error) {
	return s.client.DownloadThumbnail(ctx, d.SourceURL, ytdlp.DownloadOptions{
		TargetDir:   targetDir,
		ID:          d.ID,
		CookiesPath: cookiesPath,
		UserArgs:    userArgs,
	})
}

// applyTranscriptMetadata records which transcript, if any, the feed's
// policy selects. Only availability is recorded here; the fetch happens
// during the download phase.
func (s *Service) applyTranscriptMetadata(d *model.Download, e *ytdlp.Entry, lang, priority string) {
	if lang == "" {
		return
	}

	creatorOK := hasSubtitleLang(e.Subtitles, lang)
	autoOK := hasSubtitleLang(e.AutomaticCaptions, lang)

	var source model.TranscriptSource
	switch {
	case priority == string(model.TranscriptSourceAuto) && autoOK:
		source = model.TranscriptSourceAuto
	case creatorOK:
		source = model.TranscriptSourceCreator
	case autoOK:
		source = model.TranscriptSourceAuto
	default:
		source = model.TranscriptSourceNotAvailable
	}

	d.TranscriptLang = &lang
	d.TranscriptSource = &source
}

func (s *Service) probeDurationIfMissing(ctx context.Context, d *model.Download, e *ytdlp.Entry) {
	if d.Duration > 0 || d.Status == model.StatusUpcoming || s.prober == nil || e.URL == "" {
		return
	}
	secs, err := s.prober.Duration(ctx, e.URL)
	if err != nil {
		s.logger.Debug().Str("event", "extractor.probe_failed").Str("feed_id", d.FeedID).
			Str("download_id", d.ID).Err(err).Msg("duration probe failed")
		return
	}
	d.Duration = secs
}

func hasSubtitleLang(subs map[string][]ytdlp.SubtitleFormat, lang string) bool {
	if len(subs) == 0 {
		return false
	}
	if _, ok := subs[lang]; ok {
		return true
	}
	for key := range subs {
		if strings.HasPrefix(key, lang+"-") {
			return true
		}
	}
	return false
}

func isChannelURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.Trim(u.Path, "/")
	for _, prefix := range []string{"@", "channel/", "c/", "user/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
