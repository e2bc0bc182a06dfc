// SPDX-License-Identifier: MIT

// Package images fetches cover art and episode thumbnails and
// normalizes them to JPEG, the one format every podcast client renders.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/ffmpeg"
	"github.com/anypod/anypod/internal/files"
	xlog "github.com/anypod/anypod/internal/log"
)

const fetchTimeout = 2 * time.Minute

// JPEGExt is the extension every normalized image ends up with.
const JPEGExt = "jpg"

// ImageDownloadError wraps a failed image fetch or conversion.
type ImageDownloadError struct {
	URL string
	Err error
}

func (e *ImageDownloadError) Error() string {
	return fmt.Sprintf("image download %s: %v", e.URL, e.Err)
}

func (e *ImageDownloadError) Unwrap() error { return e.Err }

// Downloader fetches images over HTTP and normalizes local image files.
type Downloader struct {
	httpClient *http.Client
	ffmpeg     *ffmpeg.Client
	files      *files.Manager
	logger     zerolog.Logger
}

// New creates a downloader. httpClient may be nil for the default.
func New(httpClient *http.Client, ff *ffmpeg.Client, fm *files.Manager) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	return &Downloader{
		httpClient: httpClient,
		ffmpeg:     ff,
		files:      fm,
		logger:     xlog.WithComponent("images"),
	}
}

// FetchHTTP downloads the image at url and places it, normalized to
// JPEG, at finalBase + ".jpg". Returns the recorded extension.
func (d *Downloader) FetchHTTP(ctx context.Context, url, finalBase string) (string, error) {
	tmp, err := d.fetchToTemp(ctx, url, filepath.Dir(finalBase))
	if err != nil {
		return "", &ImageDownloadError{URL: url, Err: err}
	}
	ext, err := d.Normalize(ctx, tmp, finalBase)
	if err != nil {
		return "", &ImageDownloadError{URL: url, Err: err}
	}
	return ext, nil
}

// Normalize moves the image at srcPath to finalBase + ".jpg",
// converting through ffmpeg when it is not already a JPEG. srcPath is
// consumed either way.
func (d *Downloader) Normalize(ctx context.Context, srcPath, finalBase string) (string, error) {
	final := finalBase + "." + JPEGExt

	isJPEG, err := d.ffmpeg.IsJPEG(ctx, srcPath)
	if err != nil {
		_, _ = d.files.Delete(srcPath)
		return "", fmt.Errorf("probe image %s: %w", srcPath, err)
	}

	if isJPEG {
		if err := d.files.Move(srcPath, final); err != nil {
			return "", fmt.Errorf("place image %s: %w", final, err)
		}
		return JPEGExt, nil
	}

	if err := d.ffmpeg.ConvertToJPEG(ctx, srcPath, final); err != nil {
		_, _ = d.files.Delete(srcPath)
		return "", err
	}
	_, _ = d.files.Delete(srcPath)
	d.logger.Debug().Str("event", "images.converted").Str("path", final).Msg("image converted to jpeg")
	return JPEGExt, nil
}

func (d *Downloader) fetchToTemp(ctx context.Context, url, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "image-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
