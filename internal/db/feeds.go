// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anypod/anypod/internal/model"
)

// FeedStore persists feeds.
type FeedStore struct {
	db *DB
}

// NewFeedStore creates a feed store over the shared handle.
func NewFeedStore(db *DB) *FeedStore {
	return &FeedStore{db: db}
}

const feedColumns = `id, is_enabled, source_type, source_url, resolved_url,
	created_at, updated_at, last_successful_sync, last_failed_sync,
	last_rss_generation, consecutive_failures, since, keep_last,
	title, subtitle, description, language, author, author_email,
	category, podcast_type, explicit, remote_image_url, image_ext,
	transcript_lang, transcript_source_priority, total_downloads`

type feedScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row feedScanner) (*model.Feed, error) {
	var (
		f                               model.Feed
		createdAt, updatedAt, lastSync  string
		lastFailed, lastRSS, since      sql.NullString
		sourceURL, resolvedURL          sql.NullString
		subtitle, description, language sql.NullString
		author, category, podcastType   sql.NullString
		remoteImageURL, imageExt        sql.NullString
		transcriptLang, transcriptPrio  sql.NullString
		keepLast                        sql.NullInt64
		sourceType                      string
	)

	err := row.Scan(
		&f.ID, &f.IsEnabled, &sourceType, &sourceURL, &resolvedURL,
		&createdAt, &updatedAt, &lastSync, &lastFailed,
		&lastRSS, &f.ConsecutiveFailures, &since, &keepLast,
		&f.Title, &subtitle, &description, &language, &author, &f.AuthorEmail,
		&category, &podcastType, &f.Explicit, &remoteImageURL, &imageExt,
		&transcriptLang, &transcriptPrio, &f.TotalDownloads,
	)
	if err != nil {
		return nil, err
	}

	f.SourceType, err = model.ParseSourceType(sourceType)
	if err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if f.LastSuccessfulSync, err = parseTime(lastSync); err != nil {
		return nil, err
	}
	if f.LastFailedSync, err = parseNullTime(lastFailed); err != nil {
		return nil, err
	}
	if f.LastRSSGeneration, err = parseNullTime(lastRSS); err != nil {
		return nil, err
	}
	if f.Since, err = parseNullTime(since); err != nil {
		return nil, err
	}
	if keepLast.Valid {
		v := int(keepLast.Int64)
		f.KeepLast = &v
	}
	f.SourceURL = fromNullString(sourceURL)
	f.ResolvedURL = fromNullString(resolvedURL)
	f.Subtitle = fromNullString(subtitle)
	f.Description = fromNullString(description)
	f.Language = fromNullString(language)
	f.Author = fromNullString(author)
	f.Category = fromNullString(category)
	if podcastType.Valid {
		pt := model.PodcastType(podcastType.String)
		f.PodcastType = &pt
	}
	f.RemoteImageURL = fromNullString(remoteImageURL)
	f.ImageExt = fromNullString(imageExt)
	f.TranscriptLang = fromNullString(transcriptLang)
	f.TranscriptSourcePriority = fromNullString(transcriptPrio)
	return &f, nil
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// UpsertFeed inserts or fully overwrites a feed by id. created_at and the
// trigger-maintained total_downloads are never overwritten.
func (s *FeedStore) UpsertFeed(ctx context.Context, f *model.Feed) error {
	if f.AuthorEmail == "" {
		f.AuthorEmail = model.DefaultAuthorEmail
	}
	lastSync := f.LastSuccessfulSync
	if lastSync.IsZero() {
		lastSync = model.MinSyncDate
	}

	query := `
	INSERT INTO feeds (
		id, is_enabled, source_type, source_url, resolved_url,
		last_successful_sync, last_failed_sync, last_rss_generation,
		consecutive_failures, since, keep_last,
		title, subtitle, description, language, author, author_email,
		category, podcast_type, explicit, remote_image_url, image_ext,
		transcript_lang, transcript_source_priority
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
		is_enabled = excluded.is_enabled,
		source_type = excluded.source_type,
		source_url = excluded.source_url,
		resolved_url = excluded.resolved_url,
		last_successful_sync = excluded.last_successful_sync,
		last_failed_sync = excluded.last_failed_sync,
		last_rss_generation = excluded.last_rss_generation,
		consecutive_failures = excluded.consecutive_failures,
		since = excluded.since,
		keep_last = excluded.keep_last,
		title = excluded.title,
		subtitle = excluded.subtitle,
		description = excluded.description,
		language = excluded.language,
		author = excluded.author,
		author_email = excluded.author_email,
		category = excluded.category,
		podcast_type = excluded.podcast_type,
		explicit = excluded.explicit,
		remote_image_url = excluded.remote_image_url,
		image_ext = excluded.image_ext,
		transcript_lang = excluded.transcript_lang,
		transcript_source_priority = excluded.transcript_source_priority
	`
	var podcastType any
	if f.PodcastType != nil {
		podcastType = string(*f.PodcastType)
	}
	_, err := s.db.db.ExecContext(ctx, query,
		f.ID, f.IsEnabled, string(f.SourceType), nullString(f.SourceURL), nullString(f.ResolvedURL),
		formatTime(lastSync), nullTime(f.LastFailedSync), nullTime(f.LastRSSGeneration),
		f.ConsecutiveFailures, nullTime(f.Since), nullInt(f.KeepLast),
		f.Title, nullString(f.Subtitle), nullString(f.Description), nullString(f.Language),
		nullString(f.Author), f.AuthorEmail,
		nullString(f.Category), podcastType, f.Explicit, nullString(f.RemoteImageURL),
		nullString(f.ImageExt), nullString(f.TranscriptLang), nullString(f.TranscriptSourcePriority),
	)
	if err != nil {
		return fmt.Errorf("upsert feed %s: %w", f.ID, err)
	}
	return nil
}

// GetFeedByID fetches one feed.
func (s *FeedStore) GetFeedByID(ctx context.Context, id string) (*model.Feed, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", id, ErrFeedNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %s: %w", id, err)
	}
	return f, nil
}

// GetFeeds returns feeds ordered by id. A non-nil enabled filters on the
// enabled flag.
func (s *FeedStore) GetFeeds(ctx context.Context, enabled *bool) ([]*model.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds`
	var args []any
	if enabled != nil {
		query += ` WHERE is_enabled = ?`
		args = append(args, *enabled)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []*model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// SetFeedEnabled flips the enabled flag.
func (s *FeedStore) SetFeedEnabled(ctx context.Context, id string, enabled bool) error {
	return s.execOne(ctx, id, `UPDATE feeds SET is_enabled = ? WHERE id = ?`, enabled, id)
}

// FeedUpdate is a partial feed update; nil fields are left untouched.
type FeedUpdate struct {
	SourceURL                *string
	ResolvedURL              *string
	SourceType               *model.SourceType
	Title                    *string
	Subtitle                 *string
	Description              *string
	Language                 *string
	Author                   *string
	AuthorEmail              *string
	Category                 *string
	PodcastType              *model.PodcastType
	Explicit                 *bool
	RemoteImageURL           *string
	ImageExt                 *string
	Since                    *time.Time
	ClearSince               bool
	KeepLast                 *int
	ClearKeepLast            bool
	TranscriptLang           *string
	TranscriptSourcePriority *string
	ConsecutiveFailures      *int
	ClearLastFailedSync      bool
}

// UpdateFeedMetadata applies a partial update. A fully empty update is a
// no-op, not an error.
func (s *FeedStore) UpdateFeedMetadata(ctx context.Context, id string, u FeedUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.SourceURL != nil {
		set("source_url", *u.SourceURL)
	}
	if u.ResolvedURL != nil {
		set("resolved_url", *u.ResolvedURL)
	}
	if u.SourceType != nil {
		set("source_type", string(*u.SourceType))
	}
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Subtitle != nil {
		set("subtitle", *u.Subtitle)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Language != nil {
		set("language", *u.Language)
	}
	if u.Author != nil {
		set("author", *u.Author)
	}
	if u.AuthorEmail != nil {
		set("author_email", *u.AuthorEmail)
	}
	if u.Category != nil {
		set("category", *u.Category)
	}
	if u.PodcastType != nil {
		set("podcast_type", string(*u.PodcastType))
	}
	if u.Explicit != nil {
		set("explicit", *u.Explicit)
	}
	if u.RemoteImageURL != nil {
		set("remote_image_url", *u.RemoteImageURL)
	}
	if u.ImageExt != nil {
		set("image_ext", *u.ImageExt)
	}
	if u.ClearSince {
		set("since", nil)
	} else if u.Since != nil {
		set("since", formatTime(*u.Since))
	}
	if u.ClearKeepLast {
		set("keep_last", nil)
	} else if u.KeepLast != nil {
		set("keep_last", *u.KeepLast)
	}
	if u.TranscriptLang != nil {
		set("transcript_lang", *u.TranscriptLang)
	}
	if u.TranscriptSourcePriority != nil {
		set("transcript_source_priority", *u.TranscriptSourcePriority)
	}
	if u.ConsecutiveFailures != nil {
		set("consecutive_failures", *u.ConsecutiveFailures)
	}
	if u.ClearLastFailedSync {
		set("last_failed_sync", nil)
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return s.execOne(ctx, id, `UPDATE feeds SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

// MarkSyncSuccess records a successful enumeration. last_successful_sync
// only moves forward; consecutive_failures resets.
func (s *FeedStore) MarkSyncSuccess(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	return s.execOne(ctx, id, `
	UPDATE feeds SET
		last_successful_sync = CASE WHEN ? > last_successful_sync THEN ? ELSE last_successful_sync END,
		consecutive_failures = 0
	WHERE id = ?`, ts, ts, id)
}

// MarkSyncFailure records a failed run and bumps the failure streak.
func (s *FeedStore) MarkSyncFailure(ctx context.Context, id string) error {
	return s.execOne(ctx, id, `
	UPDATE feeds SET
		last_failed_sync = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
		consecutive_failures = consecutive_failures + 1
	WHERE id = ?`, id)
}

// MarkRSSGenerated records the instant the feed document was rebuilt.
func (s *FeedStore) MarkRSSGenerated(ctx context.Context, id string) error {
	return s.execOne(ctx, id, `
	UPDATE feeds SET last_rss_generation = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`, id)
}

// SetLastSuccessfulSync overwrites the sync watermark. This is the only
// path that may move it backwards; reserved for explicit admin use and
// the reconciler.
func (s *FeedStore) SetLastSuccessfulSync(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, id, `UPDATE feeds SET last_successful_sync = ? WHERE id = ?`, formatTime(at), id)
}

// UpdateTotalDownloads reconciles the trigger-maintained counter against
// a recount, for feeds whose rows were restored in bulk.
func (s *FeedStore) UpdateTotalDownloads(ctx context.Context, id string, count int) error {
	return s.execOne(ctx, id, `UPDATE feeds SET total_downloads = ? WHERE id = ?`, count, id)
}

func (s *FeedStore) execOne(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update feed %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update feed %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("feed %s: %w", id, ErrFeedNotFound)
	}
	return nil
}
