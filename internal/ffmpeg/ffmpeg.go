// SPDX-License-Identifier: MIT

// Package ffmpeg shells out to ffprobe and ffmpeg for the two jobs the
// extractor cannot do itself: classifying downloaded images and
// measuring media durations.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/procgroup"
)

const (
	probeTimeout   = 2 * time.Minute
	convertTimeout = 5 * time.Minute
	killGrace      = 5 * time.Second
	killTimeout    = 30 * time.Second
)

// FFProbeError wraps a failed ffprobe invocation.
type FFProbeError struct {
	Target string
	Stderr string
	Err    error
}

func (e *FFProbeError) Error() string {
	return fmt.Sprintf("ffprobe failed for %s: %v", e.Target, e.Err)
}

func (e *FFProbeError) Unwrap() error { return e.Err }

// FFmpegError wraps a failed ffmpeg invocation.
type FFmpegError struct {
	Target string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg failed for %s: %v", e.Target, e.Err)
}

func (e *FFmpegError) Unwrap() error { return e.Err }

// Client runs the ffmpeg and ffprobe binaries.
type Client struct {
	ffmpegPath  string
	ffprobePath string
	logger      zerolog.Logger
}

// New creates a client; empty paths fall back to the binaries on PATH.
func New(ffmpegPath, ffprobePath string) *Client {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Client{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      xlog.WithComponent("ffmpeg"),
	}
}

type probeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ImageCodec returns the codec name of the first video stream in the
// file at path ("mjpeg" for JPEG images, "png" for PNG, and so on).
func (c *Client) ImageCodec(ctx context.Context, path string) (string, error) {
	out, err := c.probe(ctx, path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,codec_type",
		"-of", "json",
		path,
	)
	if err != nil {
		return "", err
	}
	for _, s := range out.Streams {
		if s.CodecName != "" {
			return s.CodecName, nil
		}
	}
	return "", &FFProbeError{Target: path, Err: fmt.Errorf("no video stream found")}
}

// IsJPEG reports whether the file at path already is a JPEG image.
func (c *Client) IsJPEG(ctx context.Context, path string) (bool, error) {
	codec, err := c.ImageCodec(ctx, path)
	if err != nil {
		return false, err
	}
	return codec == "mjpeg", nil
}

// Duration probes the media at target (path or URL) and returns its
// duration in whole seconds, rounded up.
func (c *Client) Duration(ctx context.Context, target string) (int64, error) {
	out, err := c.probe(ctx, target,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		target,
	)
	if err != nil {
		return 0, err
	}
	if out.Format.Duration == "" {
		return 0, &FFProbeError{Target: target, Err: fmt.Errorf("no duration reported")}
	}
	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, &FFProbeError{Target: target, Err: fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)}
	}
	return int64(math.Ceil(secs)), nil
}

// ConvertToJPEG re-encodes the image at src into a JPEG at dst.
func (c *Client) ConvertToJPEG(ctx context.Context, src, dst string) error {
	runCtx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src, "-frames:v", "1", dst}
	stderr, err := c.runBinary(runCtx, c.ffmpegPath, args)
	if err != nil {
		return &FFmpegError{Target: src, Stderr: stderr, Err: err}
	}
	c.logger.Debug().Str("event", "ffmpeg.converted").Str("src", src).Str("dst", dst).Msg("image converted to jpeg")
	return nil
}

func (c *Client) probe(ctx context.Context, target string, args ...string) (*probeOutput, error) {
	runCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.Command(c.ffprobePath, args...) // #nosec G204 -- args are assembled internally
	procgroup.Set(cmd)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := runWithGroup(runCtx, cmd); err != nil {
		return nil, &FFProbeError{Target: target, Stderr: strings.TrimSpace(errBuf.String()), Err: err}
	}

	var out probeOutput
	if err := json.Unmarshal(outBuf.Bytes(), &out); err != nil {
		return nil, &FFProbeError{Target: target, Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}
	return &out, nil
}

func (c *Client) runBinary(ctx context.Context, path string, args []string) (string, error) {
	cmd := exec.Command(path, args...) // #nosec G204 -- args are assembled internally
	procgroup.Set(cmd)

	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	err := runWithGroup(ctx, cmd)
	return strings.TrimSpace(errBuf.String()), err
}

// runWithGroup starts cmd in its own process group and reaps the whole
// group on context cancellation.
func runWithGroup(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
		_ = procgroup.KillGroup(cmd.Process.Pid, killGrace, killTimeout)
		<-waitErr
		return ctx.Err()
	}
}
