// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	"github.com/anypod/anypod/internal/files"
	"github.com/anypod/anypod/internal/metrics"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/pipeline"
	"github.com/anypod/anypod/internal/rss"
)

type fakeSource struct {
	singleFn func(ctx context.Context, feedID, sourceURL string) (*model.Download, error)
}

func (f *fakeSource) DetermineFetchStrategy(_ context.Context, _, sourceURL string, _ []string, _ string) (string, model.SourceType, error) {
	return sourceURL, model.SourceTypeSingleVideo, nil
}

func (f *fakeSource) FetchNewDownloadsMetadata(_ context.Context, _ extractor.FetchRequest) ([]*model.Download, error) {
	return nil, nil
}

func (f *fakeSource) FetchSingleMetadata(ctx context.Context, feedID, sourceURL string, _ []string, _, _, _ string) (*model.Download, error) {
	if f.singleFn != nil {
		return f.singleFn(ctx, feedID, sourceURL)
	}
	return nil, fmt.Errorf("%w for %s", extractor.ErrNoResults, sourceURL)
}

func (f *fakeSource) DownloadMedia(_ context.Context, _ *model.Download, _ string, _ []string, _ string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeSource) DownloadThumbnail(_ context.Context, _ *model.Download, _ string, _ []string, _ string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

type apiFixture struct {
	server    *Server
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	rss       *rss.Generator
	paths     *paths.Manager
	files     *files.Manager
	source    *fakeSource
	cfg       *config.AppConfig
	triggered []string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	pm := paths.NewManager(t.TempDir(), "https://pods.example.com")
	require.NoError(t, pm.EnsureBase())
	fm := files.NewManager()

	f := &apiFixture{
		feeds:     db.NewFeedStore(database),
		downloads: db.NewDownloadStore(database),
		paths:     pm,
		files:     fm,
		source:    &fakeSource{},
		cfg: &config.AppConfig{
			BaseURL: "https://pods.example.com",
			Feeds:   map[string]*config.FeedConfig{},
		},
	}
	f.rss = rss.NewGenerator(f.downloads, pm, fm)
	enqueuer := pipeline.NewEnqueuer(f.feeds, f.downloads, f.source)
	manual := pipeline.NewManualSubmissionService(f.downloads, f.source)

	f.server = NewServer(":0", Deps{
		Config:    func() *config.AppConfig { return f.cfg },
		Feeds:     f.feeds,
		Downloads: f.downloads,
		RSS:       f.rss,
		Manual:    manual,
		Enqueuer:  enqueuer,
		Paths:     pm,
		Files:     fm,
		Trigger: func(_ context.Context, feedID string) (bool, error) {
			f.triggered = append(f.triggered, feedID)
			return true, nil
		},
		Version: "test",
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedFeed(t *testing.T, id string) *model.Feed {
	t.Helper()
	require.NoError(t, f.feeds.UpsertFeed(context.Background(), &model.Feed{
		ID:         id,
		IsEnabled:  true,
		SourceType: model.SourceTypeManual,
		Title:      "Feed " + id,
	}))
	feed, err := f.feeds.GetFeedByID(context.Background(), id)
	require.NoError(t, err)
	return feed
}

func (f *apiFixture) seedDownloaded(t *testing.T, feedID, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.downloads.UpsertDownload(ctx, &model.Download{
		FeedID:    feedID,
		ID:        id,
		SourceURL: "https://example.com/" + id,
		Title:     id,
		Published: time.Now().UTC(),
		Ext:       "mp4",
		MIMEType:  "video/mp4",
		Status:    model.StatusQueued,
	}))
	require.NoError(t, f.downloads.MarkAsDownloaded(ctx, feedID, id, "mp4", 100))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestFeedXML(t *testing.T) {
	f := newAPIFixture(t)
	feed := f.seedFeed(t, "f1")
	f.seedDownloaded(t, "f1", "ep1")
	require.NoError(t, f.rss.UpdateFeed(context.Background(), "f1", feed))

	rec := f.do(t, http.MethodGet, "/feeds/f1.xml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, rec.Body.String(), "<rss")

	rec = f.do(t, http.MethodGet, "/feeds/unknown.xml", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaFileServing(t *testing.T) {
	f := newAPIFixture(t)
	feedDir, err := f.paths.FeedDir("f1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(feedDir, "ep1.mp4"), []byte("media-bytes"), 0o644))

	rec := f.do(t, http.MethodGet, "/media/f1/ep1.mp4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "media-bytes", rec.Body.String())
	etag := rec.Header().Get("ETag")
	assert.True(t, strings.HasPrefix(etag, `W/"`))

	// Conditional revalidation.
	req := httptest.NewRequest(http.MethodGet, "/media/f1/ep1.mp4", nil)
	req.Header.Set("If-None-Match", etag)
	cond := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(cond, req)
	assert.Equal(t, http.StatusNotModified, cond.Code)
}

func TestMediaFileServerRejections(t *testing.T) {
	f := newAPIFixture(t)
	feedDir, err := f.paths.FeedDir("f1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(feedDir, "ep1.mp4.incomplete"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(feedDir, paths.FeedXMLName), []byte("<rss/>"), 0o644))

	cases := []struct {
		path string
		code int
	}{
		{"/media/f1/../../etc/passwd", http.StatusForbidden},
		{"/media/f1/%2e%2e/secret", http.StatusForbidden},
		{"/media/f1/ep1.mp4.incomplete", http.StatusNotFound},
		{"/media/f1/feed.xml", http.StatusNotFound},
		{"/media/f1/", http.StatusForbidden},
		{"/media/f1/missing.mp4", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodGet, tc.path, "")
		assert.Equal(t, tc.code, rec.Code, tc.path)
	}

	rec := f.do(t, http.MethodPost, "/media/f1/ep1.mp4", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMediaFileServerDenialsAreCounted(t *testing.T) {
	f := newAPIFixture(t)
	feedDir, err := f.paths.FeedDir("f1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(feedDir, "ep1.mp4.incomplete"), []byte("partial"), 0o644))

	escapes := testutil.ToFloat64(metrics.FileRequestsDenied.WithLabelValues("path_escape"))
	incomplete := testutil.ToFloat64(metrics.FileRequestsDenied.WithLabelValues("incomplete"))

	rec := f.do(t, http.MethodGet, "/media/f1/../../etc/passwd", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/media/f1/ep1.mp4.incomplete", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, escapes+1, testutil.ToFloat64(metrics.FileRequestsDenied.WithLabelValues("path_escape")))
	assert.Equal(t, incomplete+1, testutil.ToFloat64(metrics.FileRequestsDenied.WithLabelValues("incomplete")))
}

func TestResetErrors(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.seedFeed(t, "f1")

	require.NoError(t, f.downloads.UpsertDownload(ctx, &model.Download{
		FeedID: "f1", ID: "broken", SourceURL: "https://example.com/b",
		Title: "b", Published: time.Now().UTC(), Ext: "mp4",
		MIMEType: "video/mp4", Status: model.StatusQueued,
	}))
	_, _, _, err := f.downloads.BumpRetries(ctx, "f1", "broken", "boom", 1)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/admin/feeds/f1/reset-errors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["reset_count"])

	d, err := f.downloads.GetDownloadByID(ctx, "f1", "broken")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, d.Status)

	rec = f.do(t, http.MethodPost, "/admin/feeds/missing/reset-errors", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrigger(t *testing.T) {
	f := newAPIFixture(t)
	f.cfg.Feeds["f1"] = &config.FeedConfig{Schedule: config.ScheduleManual}

	rec := f.do(t, http.MethodPost, "/admin/feeds/f1/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"f1"}, f.triggered)

	rec = f.do(t, http.MethodPost, "/admin/feeds/unknown/trigger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualSubmissionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFeed(t, "inbox")
	f.cfg.Feeds["inbox"] = &config.FeedConfig{Schedule: config.ScheduleManual}

	f.source.singleFn = func(_ context.Context, feedID, _ string) (*model.Download, error) {
		return &model.Download{
			FeedID: feedID, ID: "vid1", SourceURL: "https://www.youtube.com/watch?v=vid1",
			Title: "Vid", Published: time.Now().UTC(), Ext: "mp4",
			MIMEType: "video/mp4", Status: model.StatusQueued,
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/admin/feeds/inbox/downloads", `{"url":"https://www.youtube.com/watch?v=vid1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "vid1", body["download_id"])
	assert.Equal(t, true, body["new"])
	assert.Equal(t, "queued", body["status"])
}

func TestManualSubmissionValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFeed(t, "inbox")
	disabled := false
	u := "https://example.com/c"
	f.cfg.Feeds = map[string]*config.FeedConfig{
		"inbox":    {Schedule: config.ScheduleManual},
		"off":      {Schedule: config.ScheduleManual, Enabled: &disabled},
		"cronfeed": {Schedule: "@hourly", URL: &u},
	}

	cases := []struct {
		name, target, body string
		code               int
	}{
		{"not configured", "/admin/feeds/nope/downloads", `{"url":"https://x"}`, http.StatusNotFound},
		{"disabled", "/admin/feeds/off/downloads", `{"url":"https://x"}`, http.StatusBadRequest},
		{"not manual", "/admin/feeds/cronfeed/downloads", `{"url":"https://x"}`, http.StatusBadRequest},
		{"bad body", "/admin/feeds/inbox/downloads", `{`, http.StatusBadRequest},
		{"empty url", "/admin/feeds/inbox/downloads", `{"url":""}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodPost, tc.target, tc.body)
		assert.Equal(t, tc.code, rec.Code, tc.name)
	}

	// No result upstream maps to 422.
	rec := f.do(t, http.MethodPost, "/admin/feeds/inbox/downloads", `{"url":"https://example.com/gone"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefreshMetadataEndpoint(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.seedFeed(t, "f1")
	f.cfg.Feeds["f1"] = &config.FeedConfig{Schedule: config.ScheduleManual}

	require.NoError(t, f.downloads.UpsertDownload(ctx, &model.Download{
		FeedID: "f1", ID: "ep1", SourceURL: "https://example.com/ep1",
		Title: "Old Title", Published: time.Now().UTC(), Ext: "mp4",
		MIMEType: "video/mp4", Status: model.StatusQueued,
	}))
	stored, err := f.downloads.GetDownloadByID(ctx, "f1", "ep1")
	require.NoError(t, err)

	f.source.singleFn = func(_ context.Context, feedID, _ string) (*model.Download, error) {
		fresh := *stored
		fresh.Title = "New Title"
		return &fresh, nil
	}

	rec := f.do(t, http.MethodPost, "/admin/feeds/f1/downloads/ep1/refresh-metadata", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{"title"}, body["changed_fields"])

	d, err := f.downloads.GetDownloadByID(ctx, "f1", "ep1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", d.Title)
}

func TestDeleteDownload(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.seedFeed(t, "f1")
	f.seedDownloaded(t, "f1", "ep1")

	feedDir, err := f.paths.FeedDir("f1")
	require.NoError(t, err)
	mediaPath := filepath.Join(feedDir, "ep1.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("x"), 0o644))

	rec := f.do(t, http.MethodDelete, "/admin/feeds/f1/downloads/ep1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.False(t, f.files.Exists(mediaPath))
	d, err := f.downloads.GetDownloadByID(ctx, "f1", "ep1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, d.Status)

	rec = f.do(t, http.MethodDelete, "/admin/feeds/f1/downloads/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
