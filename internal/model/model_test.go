// SPDX-License-Identifier: MIT

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDownloadStatus(t *testing.T) {
	for _, s := range []string{"upcoming", "queued", "downloaded", "error", "skipped", "archived"} {
		got, err := ParseDownloadStatus(s)
		require.NoError(t, err, s)
		assert.Equal(t, DownloadStatus(s), got)
	}

	_, err := ParseDownloadStatus("pending")
	assert.Error(t, err)
}

func TestParseSourceType(t *testing.T) {
	got, err := ParseSourceType("channel")
	require.NoError(t, err)
	assert.Equal(t, SourceTypeChannel, got)

	_, err = ParseSourceType("rss")
	assert.Error(t, err)
}

func TestDownloadIsVOD(t *testing.T) {
	assert.True(t, (&Download{Ext: "mp4", Status: StatusQueued}).IsVOD())
	assert.False(t, (&Download{Ext: LiveExt, Status: StatusUpcoming}).IsVOD())
	assert.False(t, (&Download{Ext: "mp4", Status: StatusUpcoming}).IsVOD())
}

func TestFeedIsManual(t *testing.T) {
	u := "https://example.com/c"
	assert.True(t, (&Feed{SourceType: SourceTypeManual}).IsManual())
	assert.True(t, (&Feed{SourceType: SourceTypeChannel}).IsManual()) // no URL
	assert.False(t, (&Feed{SourceType: SourceTypeChannel, SourceURL: &u}).IsManual())
}

func TestFeedMetadataApply(t *testing.T) {
	title := "Override"
	email := "owner@example.com"
	explicit := true
	m := &FeedMetadata{Title: &title, AuthorEmail: &email, Explicit: &explicit}

	f := &Feed{Title: "Original", AuthorEmail: DefaultAuthorEmail}
	m.Apply(f)
	assert.Equal(t, "Override", f.Title)
	assert.Equal(t, "owner@example.com", f.AuthorEmail)
	assert.True(t, f.Explicit)

	// Unset fields never overwrite.
	lang := "en"
	f.Language = &lang
	(&FeedMetadata{}).Apply(f)
	assert.Equal(t, "Override", f.Title)
	require.NotNil(t, f.Language)

	// A nil record is a no-op.
	var nilMeta *FeedMetadata
	nilMeta.Apply(f)
	assert.Equal(t, "Override", f.Title)
}
