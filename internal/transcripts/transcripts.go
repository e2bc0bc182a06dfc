// SPDX-License-Identifier: MIT

// Package transcripts fetches episode transcripts. Only YouTube's
// timedtext endpoint is supported; other sites report no transcript.
package transcripts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/files"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
)

const fetchTimeout = 1 * time.Minute

// VTTExt is the extension of fetched transcripts.
const VTTExt = "vtt"

const timedtextEndpoint = "https://www.youtube.com/api/timedtext"

// Downloader fetches WebVTT transcripts for YouTube videos.
type Downloader struct {
	httpClient *http.Client
	files      *files.Manager
	endpoint   string
	logger     zerolog.Logger
}

// New creates a downloader. httpClient may be nil for the default.
func New(httpClient *http.Client, fm *files.Manager) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	return &Downloader{
		httpClient: httpClient,
		files:      fm,
		endpoint:   timedtextEndpoint,
		logger:     xlog.WithComponent("transcripts"),
	}
}

// Fetch downloads the VTT transcript for a YouTube video to destPath.
// Returns true when a transcript was written. Unavailability is not an
// error: the endpoint answers 200 with an empty body or 404 for videos
// without the requested track.
func (d *Downloader) Fetch(ctx context.Context, videoID, lang string, source model.TranscriptSource, destPath string) (bool, error) {
	if videoID == "" || lang == "" || source == model.TranscriptSourceNotAvailable {
		return false, nil
	}

	q := url.Values{}
	q.Set("v", videoID)
	q.Set("lang", lang)
	q.Set("fmt", "vtt")
	if source == model.TranscriptSourceAuto {
		q.Set("kind", "asr")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch transcript for %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fetch transcript for %s: unexpected status %d", videoID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return false, fmt.Errorf("read transcript for %s: %w", videoID, err)
	}
	if len(body) == 0 {
		return false, nil
	}

	if err := d.files.WriteAtomic(destPath, body); err != nil {
		return false, fmt.Errorf("write transcript %s: %w", destPath, err)
	}
	d.logger.Debug().Str("event", "transcripts.fetched").Str("video_id", videoID).
		Str("lang", lang).Str("source", string(source)).Msg("transcript written")
	return true, nil
}
