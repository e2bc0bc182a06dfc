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

// DownloadStore persists downloads.
//
// Status-update rules, uniform across all operations: transitioning to
// DOWNLOADED clears last_error and resets retries; transitioning to ERROR
// sets last_error and increments retries; transitions to UPCOMING,
// QUEUED, SKIPPED or ARCHIVED preserve both.
type DownloadStore struct {
	db *DB
}

// NewDownloadStore creates a download store over the shared handle.
func NewDownloadStore(db *DB) *DownloadStore {
	return &DownloadStore{db: db}
}

const downloadColumns = `feed_id, id, source_url, title, description,
	published, duration, ext, mime_type, filesize, status, retries,
	last_error, discovered_at, updated_at, downloaded_at, playlist_index,
	download_logs, remote_thumbnail_url, thumbnail_ext, transcript_ext,
	transcript_lang, transcript_source`

func scanDownload(row feedScanner) (*model.Download, error) {
	var (
		d                              model.Download
		published, discovered, updated string
		downloadedAt                   sql.NullString
		lastError, downloadLogs        sql.NullString
		remoteThumb, thumbExt          sql.NullString
		trExt, trLang, trSource        sql.NullString
		playlistIndex                  sql.NullInt64
		status                         string
	)

	err := row.Scan(
		&d.FeedID, &d.ID, &d.SourceURL, &d.Title, &d.Description,
		&published, &d.Duration, &d.Ext, &d.MIMEType, &d.Filesize, &status, &d.Retries,
		&lastError, &discovered, &updated, &downloadedAt, &playlistIndex,
		&downloadLogs, &remoteThumb, &thumbExt, &trExt, &trLang, &trSource,
	)
	if err != nil {
		return nil, err
	}

	d.Status, err = model.ParseDownloadStatus(status)
	if err != nil {
		return nil, err
	}
	if d.Published, err = parseTime(published); err != nil {
		return nil, err
	}
	if d.DiscoveredAt, err = parseTime(discovered); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if d.DownloadedAt, err = parseNullTime(downloadedAt); err != nil {
		return nil, err
	}
	d.LastError = fromNullString(lastError)
	d.DownloadLogs = fromNullString(downloadLogs)
	d.RemoteThumbnailURL = fromNullString(remoteThumb)
	d.ThumbnailExt = fromNullString(thumbExt)
	d.TranscriptExt = fromNullString(trExt)
	d.TranscriptLang = fromNullString(trLang)
	if trSource.Valid {
		src := model.TranscriptSource(trSource.String)
		d.TranscriptSource = &src
	}
	if playlistIndex.Valid {
		v := int(playlistIndex.Int64)
		d.PlaylistIndex = &v
	}
	return &d, nil
}

// UpsertDownload inserts or overwrites a download by (feed_id, id).
// discovered_at and downloaded_at survive overwrites.
func (s *DownloadStore) UpsertDownload(ctx context.Context, d *model.Download) error {
	var trSource any
	if d.TranscriptSource != nil {
		trSource = string(*d.TranscriptSource)
	}
	query := `
	INSERT INTO downloads (
		feed_id, id, source_url, title, description, published, duration,
		ext, mime_type, filesize, status, retries, last_error,
		playlist_index, download_logs, remote_thumbnail_url, thumbnail_ext,
		transcript_ext, transcript_lang, transcript_source
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(feed_id, id) DO UPDATE SET
		source_url = excluded.source_url,
		title = excluded.title,
		description = excluded.description,
		published = excluded.published,
		duration = excluded.duration,
		ext = excluded.ext,
		mime_type = excluded.mime_type,
		filesize = excluded.filesize,
		status = excluded.status,
		retries = excluded.retries,
		last_error = excluded.last_error,
		playlist_index = excluded.playlist_index,
		download_logs = excluded.download_logs,
		remote_thumbnail_url = excluded.remote_thumbnail_url,
		thumbnail_ext = excluded.thumbnail_ext,
		transcript_ext = excluded.transcript_ext,
		transcript_lang = excluded.transcript_lang,
		transcript_source = excluded.transcript_source
	`
	_, err := s.db.db.ExecContext(ctx, query,
		d.FeedID, d.ID, d.SourceURL, d.Title, d.Description,
		formatTime(d.Published), d.Duration, d.Ext, d.MIMEType, d.Filesize,
		string(d.Status), d.Retries, nullString(d.LastError),
		nullInt(d.PlaylistIndex), nullString(d.DownloadLogs),
		nullString(d.RemoteThumbnailURL), nullString(d.ThumbnailExt),
		nullString(d.TranscriptExt), nullString(d.TranscriptLang), trSource,
	)
	if err != nil {
		return fmt.Errorf("upsert download %s/%s: %w", d.FeedID, d.ID, err)
	}
	return nil
}

// DownloadUpdate is a partial download update; nil fields stay untouched.
// Lifecycle fields (status, retries, last_error) are deliberately absent:
// those move through the dedicated transition operations.
type DownloadUpdate struct {
	SourceURL          *string
	Title              *string
	Description        *string
	Published          *time.Time
	Duration           *int64
	Ext                *string
	MIMEType           *string
	Filesize           *int64
	PlaylistIndex      *int
	DownloadLogs       *string
	RemoteThumbnailURL *string
	ThumbnailExt       *string
	TranscriptExt      *string
	TranscriptLang     *string
	TranscriptSource   *model.TranscriptSource
}

// UpdateDownload applies a partial field update by composite key.
func (s *DownloadStore) UpdateDownload(ctx context.Context, feedID, id string, u DownloadUpdate) error {
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
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Published != nil {
		set("published", formatTime(*u.Published))
	}
	if u.Duration != nil {
		set("duration", *u.Duration)
	}
	if u.Ext != nil {
		set("ext", *u.Ext)
	}
	if u.MIMEType != nil {
		set("mime_type", *u.MIMEType)
	}
	if u.Filesize != nil {
		set("filesize", *u.Filesize)
	}
	if u.PlaylistIndex != nil {
		set("playlist_index", *u.PlaylistIndex)
	}
	if u.DownloadLogs != nil {
		set("download_logs", *u.DownloadLogs)
	}
	if u.RemoteThumbnailURL != nil {
		set("remote_thumbnail_url", *u.RemoteThumbnailURL)
	}
	if u.ThumbnailExt != nil {
		set("thumbnail_ext", *u.ThumbnailExt)
	}
	if u.TranscriptExt != nil {
		set("transcript_ext", *u.TranscriptExt)
	}
	if u.TranscriptLang != nil {
		set("transcript_lang", *u.TranscriptLang)
	}
	if u.TranscriptSource != nil {
		set("transcript_source", string(*u.TranscriptSource))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, feedID, id)
	return s.execOne(ctx, feedID, id,
		`UPDATE downloads SET `+strings.Join(sets, ", ")+` WHERE feed_id = ? AND id = ?`, args...)
}

// GetDownloadByID fetches one download.
func (s *DownloadStore) GetDownloadByID(ctx context.Context, feedID, id string) (*model.Download, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download %s/%s: %w", feedID, id, ErrDownloadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get download %s/%s: %w", feedID, id, err)
	}
	return d, nil
}

// GetDownloadsByStatus returns downloads in a status, ordered by
// published ascending then id. feedID "" means all feeds; limit -1 means
// no limit.
func (s *DownloadStore) GetDownloadsByStatus(
	ctx context.Context,
	status model.DownloadStatus,
	feedID string,
	publishedAfter *time.Time,
	limit, offset int,
) ([]*model.Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads WHERE status = ?`
	args := []any{string(status)}
	if feedID != "" {
		query += ` AND feed_id = ?`
		args = append(args, feedID)
	}
	if publishedAfter != nil {
		query += ` AND published >= ?`
		args = append(args, formatTime(*publishedAfter))
	}
	query += ` ORDER BY published ASC, id ASC`
	if limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}
	return s.queryDownloads(ctx, query, args...)
}

// GetDownloadsByStatusDesc returns downloads in a status ordered newest
// first; the RSS generator uses this ordering directly.
func (s *DownloadStore) GetDownloadsByStatusDesc(
	ctx context.Context,
	status model.DownloadStatus,
	feedID string,
) ([]*model.Download, error) {
	return s.queryDownloads(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		WHERE status = ? AND feed_id = ?
		ORDER BY published DESC, id DESC`, string(status), feedID)
}

// GetDownloadsToPruneByKeepLast returns prunable items beyond the
// keepLast most recent. Archived and skipped rows neither count against
// the cap nor appear as candidates. keepLast <= 0 disables the rule.
func (s *DownloadStore) GetDownloadsToPruneByKeepLast(ctx context.Context, feedID string, keepLast int) ([]*model.Download, error) {
	if keepLast <= 0 {
		return nil, nil
	}
	return s.queryDownloads(ctx, `
	SELECT `+downloadColumns+` FROM downloads
	WHERE feed_id = ? AND status NOT IN ('archived','skipped')
		AND id NOT IN (
			SELECT id FROM downloads
			WHERE feed_id = ? AND status NOT IN ('archived','skipped')
			ORDER BY published DESC, id DESC
			LIMIT ?
		)
	ORDER BY published ASC, id ASC`, feedID, feedID, keepLast)
}

// GetDownloadsToPruneBySince returns prunable items published strictly
// before the cutoff.
func (s *DownloadStore) GetDownloadsToPruneBySince(ctx context.Context, feedID string, cutoff time.Time) ([]*model.Download, error) {
	return s.queryDownloads(ctx, `
	SELECT `+downloadColumns+` FROM downloads
	WHERE feed_id = ? AND status NOT IN ('archived','skipped') AND published < ?
	ORDER BY published ASC, id ASC`, feedID, formatTime(cutoff))
}

// CountDownloadsByStatus counts downloads in a status; feedID "" counts
// across all feeds.
func (s *DownloadStore) CountDownloadsByStatus(ctx context.Context, status model.DownloadStatus, feedID string) (int, error) {
	query := `SELECT COUNT(*) FROM downloads WHERE status = ?`
	args := []any{string(status)}
	if feedID != "" {
		query += ` AND feed_id = ?`
		args = append(args, feedID)
	}
	var n int
	if err := s.db.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count downloads: %w", err)
	}
	return n, nil
}

// MarkAsDownloaded records a completed media fetch: status DOWNLOADED
// with the actual extension and on-disk size, error state cleared.
func (s *DownloadStore) MarkAsDownloaded(ctx context.Context, feedID, id, ext string, filesize int64) error {
	return s.execOne(ctx, feedID, id, `
	UPDATE downloads SET
		status = 'downloaded', ext = ?, filesize = ?, last_error = NULL, retries = 0
	WHERE feed_id = ? AND id = ?`, ext, filesize, feedID, id)
}

// MarkAsQueuedFromUpcoming promotes an UPCOMING item whose metadata
// re-fetch showed a finished VOD.
func (s *DownloadStore) MarkAsQueuedFromUpcoming(ctx context.Context, feedID, id string) error {
	return s.execOne(ctx, feedID, id, `
	UPDATE downloads SET status = 'queued'
	WHERE feed_id = ? AND id = ? AND status = 'upcoming'`, feedID, id)
}

// ArchiveDownload moves an item to ARCHIVED. Error details survive only
// when the item was already in ERROR.
func (s *DownloadStore) ArchiveDownload(ctx context.Context, feedID, id string) error {
	return s.execOne(ctx, feedID, id, `
	UPDATE downloads SET
		last_error = CASE WHEN status = 'error' THEN last_error ELSE NULL END,
		status = 'archived'
	WHERE feed_id = ? AND id = ?`, feedID, id)
}

// RequeueDownloads bulk-transitions items to QUEUED with retries and
// last_error reset. ids nil means all items in fromStatus; fromStatus nil
// means any ids regardless of status. Returns the affected row count.
func (s *DownloadStore) RequeueDownloads(ctx context.Context, feedID string, ids []string, fromStatus *model.DownloadStatus) (int64, error) {
	query := `UPDATE downloads SET status = 'queued', retries = 0, last_error = NULL WHERE feed_id = ?`
	args := []any{feedID}
	if fromStatus != nil {
		query += ` AND status = ?`
		args = append(args, string(*fromStatus))
	}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue downloads for %s: %w", feedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue downloads for %s: %w", feedID, err)
	}
	return n, nil
}

// BumpRetries increments the retry counter and records the error. The
// item transitions to ERROR exactly when the new count reaches
// maxAllowedErrors; otherwise its status is unchanged.
func (s *DownloadStore) BumpRetries(
	ctx context.Context,
	feedID, id, errorMessage string,
	maxAllowedErrors int,
) (newRetries int, finalStatus model.DownloadStatus, transitioned bool, err error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", false, fmt.Errorf("bump retries %s/%s: %w", feedID, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		retries int
		status  string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT retries, status FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id)
	if err := row.Scan(&retries, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", false, fmt.Errorf("download %s/%s: %w", feedID, id, ErrDownloadNotFound)
		}
		return 0, "", false, fmt.Errorf("bump retries %s/%s: %w", feedID, id, err)
	}

	newRetries = retries + 1
	finalStatus = model.DownloadStatus(status)
	if newRetries >= maxAllowedErrors && finalStatus != model.StatusError {
		finalStatus = model.StatusError
		transitioned = true
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE downloads SET retries = ?, last_error = ?, status = ?
	WHERE feed_id = ? AND id = ?`,
		newRetries, errorMessage, string(finalStatus), feedID, id)
	if err != nil {
		return 0, "", false, fmt.Errorf("bump retries %s/%s: %w", feedID, id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, "", false, fmt.Errorf("bump retries %s/%s: %w", feedID, id, err)
	}
	return newRetries, finalStatus, transitioned, nil
}

func (s *DownloadStore) queryDownloads(ctx context.Context, query string, args ...any) ([]*model.Download, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var downloads []*model.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

func (s *DownloadStore) execOne(ctx context.Context, feedID, id, query string, args ...any) error {
	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update download %s/%s: %w", feedID, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update download %s/%s: %w", feedID, id, err)
	}
	if n == 0 {
		return fmt.Errorf("download %s/%s: %w", feedID, id, ErrDownloadNotFound)
	}
	return nil
}
