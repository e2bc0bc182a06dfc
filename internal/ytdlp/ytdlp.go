// SPDX-License-Identifier: MIT

// Package ytdlp wraps the external media-extractor subprocess. It is the
// only place that spawns the tool; callers get JSON metadata and final
// media paths, never raw process handles.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/procgroup"
)

const (
	defaultTimeout         = 10 * time.Minute
	killGrace              = 5 * time.Second
	killTimeout            = 30 * time.Second
	defaultDownloadTimeout = 30 * time.Minute
)

// ApiError wraps a non-zero extractor exit. Stderr is captured because
// the tool reports everything useful there.
type ApiError struct {
	URL    string
	Stderr string
	Err    error
}

func (e *ApiError) Error() string {
	msg := fmt.Sprintf("yt-dlp failed for %s: %v", e.URL, e.Err)
	if e.Stderr != "" {
		msg += ": " + firstLines(e.Stderr, 3)
	}
	return msg
}

func (e *ApiError) Unwrap() error { return e.Err }

// ErrUnsupportedURL marks URLs the extractor refuses to handle.
var ErrUnsupportedURL = errors.New("unsupported URL")

// Client runs the extractor binary.
type Client struct {
	path            string
	timeout         time.Duration
	downloadTimeout time.Duration
	logger          zerolog.Logger
}

// New creates a client for the given binary path ("yt-dlp" when empty).
func New(path string) *Client {
	if path == "" {
		path = "yt-dlp"
	}
	return &Client{
		path:            path,
		timeout:         defaultTimeout,
		downloadTimeout: defaultDownloadTimeout,
		logger:          xlog.WithComponent("ytdlp"),
	}
}

// Version returns the extractor version string; also serves as the
// startup availability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, _, err := c.run(ctx, c.timeout, "", "--version")
	if err != nil {
		return "", fmt.Errorf("yt-dlp not runnable at %q: %w", c.path, err)
	}
	return strings.TrimSpace(out), nil
}

// Update runs the extractor's self-update.
func (c *Client) Update(ctx context.Context) error {
	out, _, err := c.run(ctx, c.timeout, "", "-U")
	if err != nil {
		return fmt.Errorf("yt-dlp self-update: %w", err)
	}
	c.logger.Info().Str("event", "ytdlp.updated").Str("output", firstLines(out, 1)).Msg("yt-dlp self-update finished")
	return nil
}

// run executes the binary with the given args in its own process group.
// On context cancellation the whole group is reaped: the tool forks
// ffmpeg children that must not outlive the pipeline.
func (c *Client) run(ctx context.Context, timeout time.Duration, url string, args ...string) (stdout, stderr string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(c.path, args...) // #nosec G204 -- args are assembled internally
	procgroup.Set(cmd)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start yt-dlp: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err = <-waitErr:
	case <-runCtx.Done():
		_ = procgroup.KillGroup(cmd.Process.Pid, killGrace, killTimeout)
		<-waitErr
		err = runCtx.Err()
	}

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		apiErr := &ApiError{URL: url, Stderr: stderr, Err: err}
		if isUnsupportedURL(stderr) {
			return stdout, stderr, fmt.Errorf("%w: %s", ErrUnsupportedURL, apiErr)
		}
		return stdout, stderr, apiErr
	}
	return stdout, stderr, nil
}

func isUnsupportedURL(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "unsupported url") || strings.Contains(s, "is not a valid url")
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " | ")
}
