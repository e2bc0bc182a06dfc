// SPDX-License-Identifier: MIT

package transcripts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anypod/anypod/internal/files"
	"github.com/anypod/anypod/internal/model"
)

func newTestDownloader(t *testing.T, handler http.HandlerFunc) *Downloader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	d := New(srv.Client(), files.NewManager())
	d.endpoint = srv.URL
	return d
}

func TestFetchWritesTranscript(t *testing.T) {
	const body = "WEBVTT\n\n00:00.000 --> 00:01.000\nhello\n"
	d := newTestDownloader(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "vid1", q.Get("v"))
		assert.Equal(t, "en", q.Get("lang"))
		assert.Equal(t, "vtt", q.Get("fmt"))
		assert.Empty(t, q.Get("kind"))
		_, _ = w.Write([]byte(body))
	})

	dest := filepath.Join(t.TempDir(), "vid1.vtt")
	ok, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceCreator, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestFetchAutoSetsASRKind(t *testing.T) {
	d := newTestDownloader(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "asr", r.URL.Query().Get("kind"))
		_, _ = w.Write([]byte("WEBVTT\n"))
	})

	ok, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceAuto, filepath.Join(t.TempDir(), "v.vtt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFetchEmptyBodyMeansUnavailable(t *testing.T) {
	d := newTestDownloader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	dest := filepath.Join(t.TempDir(), "v.vtt")
	ok, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceCreator, dest)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, dest)
}

func TestFetch404MeansUnavailable(t *testing.T) {
	d := newTestDownloader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceCreator, filepath.Join(t.TempDir(), "v.vtt"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchServerErrorIsAnError(t *testing.T) {
	d := newTestDownloader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceCreator, filepath.Join(t.TempDir(), "v.vtt"))
	assert.Error(t, err)
}

func TestFetchSkipsWhenPolicySaysNotAvailable(t *testing.T) {
	d := New(nil, files.NewManager())

	ok, err := d.Fetch(context.Background(), "vid1", "en", model.TranscriptSourceNotAvailable, "ignored")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Fetch(context.Background(), "", "en", model.TranscriptSourceCreator, "ignored")
	require.NoError(t, err)
	assert.False(t, ok)
}
