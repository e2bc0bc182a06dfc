// SPDX-License-Identifier: MIT

package db

// schema is the full database schema. Statements are idempotent so
// migrate can run on every startup.
//
// Invariants owned by triggers:
//   - feeds.total_downloads mirrors the count of DOWNLOADED rows
//     (insert, delete, status-to, status-from).
//   - feeds.updated_at and downloads.updated_at refresh on change.
//   - downloads.downloaded_at is set exactly once, on the transition
//     into DOWNLOADED.
const schema = `
CREATE TABLE IF NOT EXISTS feeds (
	id TEXT PRIMARY KEY,
	is_enabled INTEGER NOT NULL DEFAULT 1,
	source_type TEXT NOT NULL CHECK(source_type IN ('channel','playlist','single_video','manual','unknown')),
	source_url TEXT,
	resolved_url TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	last_successful_sync TEXT NOT NULL,
	last_failed_sync TEXT,
	last_rss_generation TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	since TEXT,
	keep_last INTEGER,
	title TEXT NOT NULL DEFAULT '',
	subtitle TEXT,
	description TEXT,
	language TEXT,
	author TEXT,
	author_email TEXT NOT NULL DEFAULT 'podcast@example.com',
	category TEXT,
	podcast_type TEXT CHECK(podcast_type IN ('episodic','serial') OR podcast_type IS NULL),
	explicit INTEGER NOT NULL DEFAULT 0,
	remote_image_url TEXT,
	image_ext TEXT,
	transcript_lang TEXT,
	transcript_source_priority TEXT,
	total_downloads INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS downloads (
	feed_id TEXT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	source_url TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	published TEXT NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	ext TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	filesize INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('upcoming','queued','downloaded','error','skipped','archived')),
	retries INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	discovered_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	downloaded_at TEXT,
	playlist_index INTEGER,
	download_logs TEXT,
	remote_thumbnail_url TEXT,
	thumbnail_ext TEXT,
	transcript_ext TEXT,
	transcript_lang TEXT,
	transcript_source TEXT CHECK(transcript_source IN ('creator','auto','not_available') OR transcript_source IS NULL),
	PRIMARY KEY (feed_id, id)
);

CREATE INDEX IF NOT EXISTS idx_downloads_feed_status ON downloads(feed_id, status);
CREATE INDEX IF NOT EXISTS idx_downloads_feed_published ON downloads(feed_id, published);

CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TRIGGER IF NOT EXISTS trg_downloads_insert_downloaded
AFTER INSERT ON downloads WHEN NEW.status = 'downloaded'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads + 1 WHERE id = NEW.feed_id;
	UPDATE downloads SET downloaded_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE feed_id = NEW.feed_id AND id = NEW.id AND downloaded_at IS NULL;
END;

CREATE TRIGGER IF NOT EXISTS trg_downloads_delete_downloaded
AFTER DELETE ON downloads WHEN OLD.status = 'downloaded'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads - 1 WHERE id = OLD.feed_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_downloads_status_to_downloaded
AFTER UPDATE OF status ON downloads WHEN NEW.status = 'downloaded' AND OLD.status <> 'downloaded'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads + 1 WHERE id = NEW.feed_id;
	UPDATE downloads SET downloaded_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE feed_id = NEW.feed_id AND id = NEW.id AND downloaded_at IS NULL;
END;

CREATE TRIGGER IF NOT EXISTS trg_downloads_status_from_downloaded
AFTER UPDATE OF status ON downloads WHEN OLD.status = 'downloaded' AND NEW.status <> 'downloaded'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads - 1 WHERE id = OLD.feed_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_downloads_touch_updated_at
AFTER UPDATE ON downloads WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE downloads SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE feed_id = NEW.feed_id AND id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_feeds_touch_updated_at
AFTER UPDATE OF is_enabled, source_type, source_url, resolved_url,
	last_successful_sync, last_failed_sync, last_rss_generation,
	consecutive_failures, since, keep_last, title, subtitle, description,
	language, author, author_email, category, podcast_type, explicit,
	remote_image_url, image_ext, transcript_lang, transcript_source_priority
ON feeds WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE feeds SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_app_state_touch_updated_at
AFTER UPDATE ON app_state
BEGIN
	UPDATE app_state SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE key = NEW.key;
END;
`
