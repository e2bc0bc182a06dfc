// SPDX-License-Identifier: MIT

package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	"github.com/anypod/anypod/internal/files"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/pipeline"
)

type fakeSource struct {
	strategyErr error
}

func (f *fakeSource) DetermineFetchStrategy(_ context.Context, _, sourceURL string, _ []string, _ string) (string, model.SourceType, error) {
	if f.strategyErr != nil {
		return "", model.SourceTypeUnknown, f.strategyErr
	}
	return sourceURL + "/videos", model.SourceTypeChannel, nil
}

func (f *fakeSource) FetchNewDownloadsMetadata(_ context.Context, _ extractor.FetchRequest) ([]*model.Download, error) {
	return nil, nil
}

func (f *fakeSource) FetchSingleMetadata(_ context.Context, _, _ string, _ []string, _, _, _ string) (*model.Download, error) {
	return nil, extractor.ErrNoResults
}

func (f *fakeSource) DownloadMedia(_ context.Context, _ *model.Download, _ string, _ []string, _ string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeSource) DownloadThumbnail(_ context.Context, _ *model.Download, _ string, _ []string, _ string) (string, error) {
	return "", errors.New("not implemented")
}

type fixture struct {
	feeds      *db.FeedStore
	downloads  *db.DownloadStore
	source     *fakeSource
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	pm := paths.NewManager(t.TempDir(), "https://pods.example.com")
	require.NoError(t, pm.EnsureBase())

	f := &fixture{
		feeds:     db.NewFeedStore(database),
		downloads: db.NewDownloadStore(database),
		source:    &fakeSource{},
	}
	pruner := pipeline.NewPruner(f.feeds, f.downloads, pm, files.NewManager())
	f.reconciler = NewReconciler(f.feeds, f.downloads, pruner, f.source, "")
	return f
}

func channelConfig(url string) *config.FeedConfig {
	return &config.FeedConfig{URL: &url, Schedule: "@hourly"}
}

func seedDownload(t *testing.T, f *fixture, feedID, id string, status model.DownloadStatus, published time.Time) {
	t.Helper()
	require.NoError(t, f.downloads.UpsertDownload(context.Background(), &model.Download{
		FeedID:    feedID,
		ID:        id,
		SourceURL: "https://example.com/" + id,
		Title:     id,
		Published: published,
		Ext:       "mp4",
		MIMEType:  "video/mp4",
		Status:    status,
	}))
}

func TestReconcileCreatesFeedFromConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	since := config.DateTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := channelConfig("https://www.youtube.com/@creator")
	cfg.Since = &since

	ready, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ready)

	feed, err := f.feeds.GetFeedByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceTypeChannel, feed.SourceType)
	require.NotNil(t, feed.ResolvedURL)
	assert.Equal(t, "https://www.youtube.com/@creator/videos", *feed.ResolvedURL)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), feed.LastSuccessfulSync)
}

func TestReconcileCreatesManualFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ready, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{
		"inbox": {Schedule: config.ScheduleManual},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inbox"}, ready)

	feed, err := f.feeds.GetFeedByID(ctx, "inbox")
	require.NoError(t, err)
	assert.Equal(t, model.SourceTypeManual, feed.SourceType)
	assert.True(t, feed.IsManual())
	assert.Equal(t, model.MinSyncDate, feed.LastSuccessfulSync)
}

func TestReconcileOmitsFailingFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.strategyErr = errors.New("classify failed")

	ready, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{
		"broken": channelConfig("https://example.com/c"),
		"inbox":  {Schedule: config.ScheduleManual},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inbox"}, ready)

	_, err = f.feeds.GetFeedByID(ctx, "broken")
	assert.ErrorIs(t, err, db.ErrFeedNotFound)
}

func TestReconcileArchivesRemovedFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{
		"old": channelConfig("https://example.com/c"),
	})
	require.NoError(t, err)
	seedDownload(t, f, "old", "ep1", model.StatusQueued, time.Now().UTC())

	ready, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{})
	require.NoError(t, err)
	assert.Empty(t, ready)

	feed, err := f.feeds.GetFeedByID(ctx, "old")
	require.NoError(t, err)
	assert.False(t, feed.IsEnabled)

	d, err := f.downloads.GetDownloadByID(ctx, "old", "ep1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, d.Status)
}

func TestReconcileEnableClearsFailureHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := channelConfig("https://example.com/c")

	_, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)
	require.NoError(t, f.feeds.MarkSyncFailure(ctx, "f1"))

	disabled := false
	cfg.Enabled = &disabled
	_, err = f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	enabled := true
	cfg.Enabled = &enabled
	ready, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ready)

	feed, err := f.feeds.GetFeedByID(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, feed.IsEnabled)
	assert.Zero(t, feed.ConsecutiveFailures)
	assert.Nil(t, feed.LastFailedSync)
}

func TestReconcileSinceExpansionRestoresArchived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	oldSince := config.DateTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	cfg := channelConfig("https://example.com/c")
	cfg.Since = &oldSince
	_, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	// Two archived episodes, one inside the widened window, one before it.
	seedDownload(t, f, "f1", "jan", model.StatusArchived, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	seedDownload(t, f, "f1", "apr", model.StatusArchived, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	newSince := config.DateTime(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	cfg.Since = &newSince
	_, err = f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	apr, err := f.downloads.GetDownloadByID(ctx, "f1", "apr")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, apr.Status)

	jan, err := f.downloads.GetDownloadByID(ctx, "f1", "jan")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, jan.Status)
}

func TestReconcileKeepLastGrowthRestoresWithinQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

	one := 1
	cfg := channelConfig("https://example.com/c")
	cfg.KeepLast = &one
	_, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	seedDownload(t, f, "f1", "kept", model.StatusQueued, base.Add(48*time.Hour))
	require.NoError(t, f.downloads.MarkAsDownloaded(ctx, "f1", "kept", "mp4", 1))
	seedDownload(t, f, "f1", "arch1", model.StatusArchived, base.Add(24*time.Hour))
	seedDownload(t, f, "f1", "arch2", model.StatusArchived, base)

	three := 3
	cfg.KeepLast = &three
	_, err = f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	// keep_last 3 minus 1 downloaded leaves a quota of 2.
	for _, id := range []string{"arch1", "arch2"} {
		d, err := f.downloads.GetDownloadByID(ctx, "f1", id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusQueued, d.Status, id)
	}
}

func TestReconcileStricterPolicyLeavesArchived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ten := 10
	cfg := channelConfig("https://example.com/c")
	cfg.KeepLast = &ten
	_, err := f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	seedDownload(t, f, "f1", "arch", model.StatusArchived, time.Now().UTC())

	five := 5
	cfg.KeepLast = &five
	_, err = f.reconciler.ReconcileStartupState(ctx, map[string]*config.FeedConfig{"f1": cfg})
	require.NoError(t, err)

	d, err := f.downloads.GetDownloadByID(ctx, "f1", "arch")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, d.Status)
}
