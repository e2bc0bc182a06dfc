// SPDX-License-Identifier: MIT

package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/ytdlp"
)

func TestDispatchBySite(t *testing.T) {
	cases := []struct {
		extractor, key, want string
	}{
		{"youtube", "Youtube", "youtube"},
		{"youtube:tab", "YoutubeTab", "youtube"},
		{"patreon", "Patreon", "patreon"},
		{"twitter", "Twitter", "twitter"},
		{"vimeo", "Vimeo", "generic"},
		{"", "", "generic"},
	}
	for _, tc := range cases {
		h := dispatch(&ytdlp.Entry{Extractor: tc.extractor, ExtractorKey: tc.key})
		assert.Equal(t, tc.want, h.name(), tc.extractor)
	}
}

func TestMapEntryVOD(t *testing.T) {
	e := &ytdlp.Entry{
		ID:         "vid1",
		Title:      "A Talk",
		WebpageURL: "https://www.youtube.com/watch?v=vid1",
		Timestamp:  1700000000,
		Duration:   901.2,
		Ext:        "webm",
		Filesize:   5000,
		Extractor:  "youtube",
		Thumbnail:  "https://i.ytimg.com/vi/vid1/max.jpg",
	}

	d, err := youtubeHandler{}.mapEntry("f1", e)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, d.Status)
	assert.Equal(t, "webm", d.Ext)
	assert.Equal(t, "video/webm", d.MIMEType)
	assert.Equal(t, int64(901), d.Duration)
	assert.Equal(t, int64(5000), d.Filesize)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), d.Published)
	require.NotNil(t, d.RemoteThumbnailURL)
	assert.Equal(t, e.Thumbnail, *d.RemoteThumbnailURL)
}

func TestMapEntryLiveBecomesUpcoming(t *testing.T) {
	e := &ytdlp.Entry{
		ID:         "live1",
		Title:      "Livestream",
		LiveStatus: "is_live",
		Ext:        "mp4",
		Duration:   100,
		Extractor:  "youtube",
	}

	d, err := youtubeHandler{}.mapEntry("f1", e)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUpcoming, d.Status)
	assert.Equal(t, model.LiveExt, d.Ext)
	assert.Zero(t, d.Duration)
	assert.Equal(t, "application/octet-stream", d.MIMEType)
}

func TestMapEntryMissingIDFails(t *testing.T) {
	_, err := youtubeHandler{}.mapEntry("f1", &ytdlp.Entry{Title: "no id"})
	assert.Error(t, err)
}

func TestYoutubeCanonicalURLAndDefaultExt(t *testing.T) {
	d, err := youtubeHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "abc", Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", d.SourceURL)
	assert.Equal(t, "mp4", d.Ext)
	assert.Equal(t, "video/mp4", d.MIMEType)
}

func TestPatreonDropsTextPosts(t *testing.T) {
	_, err := patreonHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "post1", Title: "text only"})
	assert.ErrorIs(t, err, ErrFilteredOut)

	// With media it maps normally.
	d, err := patreonHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "post2", Ext: "mp3", Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", d.MIMEType)
	assert.Equal(t, "https://www.patreon.com/posts/post2", d.SourceURL)
}

func TestTwitterCanonicalURL(t *testing.T) {
	d, err := twitterHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "12345", Ext: "mp4", Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, "https://twitter.com/i/status/12345", d.SourceURL)
}

func TestGenericNeedsSourceURL(t *testing.T) {
	_, err := genericHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "x"})
	assert.ErrorIs(t, err, ErrFilteredOut)

	d, err := genericHandler{}.mapEntry("f1", &ytdlp.Entry{ID: "x", URL: "https://example.com/v/x", Ext: "mov"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v/x", d.SourceURL)
	assert.Equal(t, "video/quicktime", d.MIMEType)
}

func TestMIMETypeForExt(t *testing.T) {
	assert.Equal(t, "video/mp4", MIMETypeForExt("MP4"))
	assert.Equal(t, "audio/opus", MIMETypeForExt("opus"))
	assert.Equal(t, "application/octet-stream", MIMETypeForExt("xyz"))
}
