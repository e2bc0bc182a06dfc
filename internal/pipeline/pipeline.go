// SPDX-License-Identifier: MIT

// Package pipeline implements the four per-feed phases and their
// coordinator: enqueue brings upstream discoveries into the queue,
// download drains it to disk, prune enforces retention, and RSS rebuilds
// the served document.
package pipeline

import (
	"context"
	"fmt"

	"github.com/anypod/anypod/internal/extractor"
	"github.com/anypod/anypod/internal/model"
)

// MediaSource is the extractor surface the pipeline consumes; satisfied
// by extractor.Service and by fakes in tests.
type MediaSource interface {
	DetermineFetchStrategy(ctx context.Context, feedID, sourceURL string, userArgs []string, cookiesPath string) (string, model.SourceType, error)
	FetchNewDownloadsMetadata(ctx context.Context, req extractor.FetchRequest) ([]*model.Download, error)
	FetchSingleMetadata(ctx context.Context, feedID, sourceURL string, userArgs []string, transcriptLang, transcriptPriority, cookiesPath string) (*model.Download, error)
	DownloadMedia(ctx context.Context, d *model.Download, targetDir string, userArgs []string, cookiesPath string) (string, error)
	DownloadThumbnail(ctx context.Context, d *model.Download, targetDir string, userArgs []string, cookiesPath string) (string, error)
}

// EnqueueError is a feed-level enqueue phase failure.
type EnqueueError struct {
	FeedID string
	Err    error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue for %s: %v", e.FeedID, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// PruneError is a feed-level prune phase failure.
type PruneError struct {
	FeedID string
	Err    error
}

func (e *PruneError) Error() string {
	return fmt.Sprintf("prune for %s: %v", e.FeedID, e.Err)
}

func (e *PruneError) Unwrap() error { return e.Err }
