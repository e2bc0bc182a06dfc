// SPDX-License-Identifier: MIT

package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// incompleteSuffix matches the path manager's transient sidecar naming.
const incompleteSuffix = ".incomplete"

// DownloadOptions control a media download.
type DownloadOptions struct {
	// TargetDir is the feed's media directory.
	TargetDir string
	// ID is the download's stable identifier; the final file name is
	// "{id}.{ext}" with ext chosen by the extractor.
	ID string
	// CookiesPath is forwarded with --cookies when set.
	CookiesPath string
	// UserArgs are the feed's opaque pass-through arguments.
	UserArgs []string
}

// DownloadMedia fetches the item's media into the target directory. The
// tool writes to a ".incomplete" sidecar which is renamed into place only
// after the subprocess exits cleanly; a cancelled or failed download
// leaves nothing but the sidecar behind. Returns the final path.
func (c *Client) DownloadMedia(ctx context.Context, url string, opts DownloadOptions) (string, error) {
	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir %s: %w", opts.TargetDir, err)
	}

	template := filepath.Join(opts.TargetDir, opts.ID+".%(ext)s"+incompleteSuffix)

	args := append([]string{}, opts.UserArgs...)
	args = append(args,
		"-o", template,
		"--no-warnings",
		"--no-progress",
		"--print", "after_move:filepath",
		"--no-simulate",
	)
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	stdout, _, err := c.run(ctx, c.downloadTimeout, url, args...)
	if err != nil {
		return "", err
	}

	sidecar := lastNonEmptyLine(stdout)
	if sidecar == "" {
		return "", fmt.Errorf("yt-dlp reported no output file for %s", url)
	}
	if !strings.HasSuffix(sidecar, incompleteSuffix) {
		// The tool already produced the final name (custom user args);
		// take it as-is.
		return sidecar, nil
	}

	final := strings.TrimSuffix(sidecar, incompleteSuffix)
	if err := os.Rename(sidecar, final); err != nil {
		return "", fmt.Errorf("finalize %s: %w", final, err)
	}
	return final, nil
}

// DownloadThumbnail fetches only the item's thumbnail into the target
// directory, returning the written path.
func (c *Client) DownloadThumbnail(ctx context.Context, url string, opts DownloadOptions) (string, error) {
	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir %s: %w", opts.TargetDir, err)
	}

	template := filepath.Join(opts.TargetDir, opts.ID+".%(ext)s")
	args := append([]string{}, opts.UserArgs...)
	args = append(args,
		"--skip-download",
		"--write-thumbnail",
		"-o", "thumbnail:"+template,
		"--no-warnings",
		"--print", "after_move:thumbnail_filepath",
	)
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	stdout, _, err := c.run(ctx, c.timeout, url, args...)
	if err != nil {
		return "", err
	}
	path := lastNonEmptyLine(stdout)
	if path == "" {
		return "", fmt.Errorf("yt-dlp reported no thumbnail file for %s", url)
	}
	return path, nil
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
