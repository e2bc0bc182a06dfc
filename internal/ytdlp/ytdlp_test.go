// SPDX-License-Identifier: MIT

package ytdlp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntries(t *testing.T) {
	out := `
{"id":"a1","title":"First","ext":"mp4","duration":120.4}

{"id":"b2","title":"Second","ext":"webm","filesize":9000}
`
	entries, err := parseEntries(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ID)
	assert.Equal(t, 120.4, entries[0].Duration)
	assert.Equal(t, int64(9000), entries[1].Filesize)
}

func TestParseEntriesEmpty(t *testing.T) {
	entries, err := parseEntries("\n\n")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseEntriesBadJSON(t *testing.T) {
	_, err := parseEntries(`{"id":`)
	assert.Error(t, err)
}

func TestPublishedAtPrefersTimestamp(t *testing.T) {
	e := Entry{Timestamp: 1704067200, UploadDate: "20200101"}
	got, ok := e.PublishedAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestPublishedAtFallsBackToUploadDate(t *testing.T) {
	e := Entry{UploadDate: "20240315"}
	got, ok := e.PublishedAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)

	_, ok = (&Entry{}).PublishedAt()
	assert.False(t, ok)
}

func TestIsUpcoming(t *testing.T) {
	assert.True(t, (&Entry{LiveStatus: "is_upcoming"}).IsUpcoming())
	assert.True(t, (&Entry{LiveStatus: "is_live"}).IsUpcoming())
	assert.True(t, (&Entry{IsLive: true}).IsUpcoming())
	assert.False(t, (&Entry{LiveStatus: "was_live"}).IsUpcoming())
	assert.False(t, (&Entry{}).IsUpcoming())
}

func TestBestSize(t *testing.T) {
	assert.Equal(t, int64(100), (&Entry{Filesize: 100, FilesizeApprox: 200}).BestSize())
	assert.Equal(t, int64(200), (&Entry{FilesizeApprox: 200}).BestSize())
	assert.Zero(t, (&Entry{}).BestSize())
}

func TestIsUnsupportedURL(t *testing.T) {
	assert.True(t, isUnsupportedURL("ERROR: Unsupported URL: https://example.com"))
	assert.True(t, isUnsupportedURL(`ERROR: "blah" is not a valid URL`))
	assert.False(t, isUnsupportedURL("ERROR: Video unavailable"))
}

func TestLastNonEmptyLine(t *testing.T) {
	assert.Equal(t, "/data/f/a.mp4", lastNonEmptyLine("warning\n/data/f/a.mp4\n\n"))
	assert.Equal(t, "", lastNonEmptyLine("  \n\n"))
}

func TestApiErrorMessageTruncatesStderr(t *testing.T) {
	err := &ApiError{
		URL:    "https://example.com/v",
		Stderr: "line1\nline2\nline3\nline4",
		Err:    assert.AnError,
	}
	msg := err.Error()
	assert.Contains(t, msg, "line1")
	assert.Contains(t, msg, "line3")
	assert.NotContains(t, msg, "line4")
	assert.ErrorIs(t, err, assert.AnError)
}
