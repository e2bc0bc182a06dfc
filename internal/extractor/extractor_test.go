// SPDX-License-Identifier: MIT

package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/ytdlp"
)

func TestIsChannelURL(t *testing.T) {
	assert.True(t, isChannelURL("https://www.youtube.com/@somecreator"))
	assert.True(t, isChannelURL("https://www.youtube.com/channel/UC123"))
	assert.True(t, isChannelURL("https://www.youtube.com/c/SomeName"))
	assert.True(t, isChannelURL("https://www.youtube.com/user/legacy"))
	assert.False(t, isChannelURL("https://www.youtube.com/playlist?list=PL123"))
	assert.False(t, isChannelURL("https://www.youtube.com/watch?v=abc"))
}

func TestApplyTranscriptMetadata(t *testing.T) {
	svc := New(nil, nil)
	creator := map[string][]ytdlp.SubtitleFormat{"en": {{Ext: "vtt"}}}
	auto := map[string][]ytdlp.SubtitleFormat{"en": {{Ext: "vtt"}}}

	cases := []struct {
		name     string
		entry    ytdlp.Entry
		priority string
		want     model.TranscriptSource
	}{
		{"creator preferred by default", ytdlp.Entry{Subtitles: creator, AutomaticCaptions: auto}, "", model.TranscriptSourceCreator},
		{"auto priority honored", ytdlp.Entry{Subtitles: creator, AutomaticCaptions: auto}, string(model.TranscriptSourceAuto), model.TranscriptSourceAuto},
		{"auto fallback", ytdlp.Entry{AutomaticCaptions: auto}, "", model.TranscriptSourceAuto},
		{"nothing available", ytdlp.Entry{}, "", model.TranscriptSourceNotAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &model.Download{}
			svc.applyTranscriptMetadata(d, &tc.entry, "en", tc.priority)
			if assert.NotNil(t, d.TranscriptSource) {
				assert.Equal(t, tc.want, *d.TranscriptSource)
			}
			if assert.NotNil(t, d.TranscriptLang) {
				assert.Equal(t, "en", *d.TranscriptLang)
			}
		})
	}
}

func TestApplyTranscriptMetadataNoLangConfigured(t *testing.T) {
	svc := New(nil, nil)
	d := &model.Download{}
	svc.applyTranscriptMetadata(d, &ytdlp.Entry{}, "", "")
	assert.Nil(t, d.TranscriptLang)
	assert.Nil(t, d.TranscriptSource)
}

func TestHasSubtitleLangRegionalVariant(t *testing.T) {
	subs := map[string][]ytdlp.SubtitleFormat{"en-US": {{Ext: "vtt"}}}
	assert.True(t, hasSubtitleLang(subs, "en"))
	assert.False(t, hasSubtitleLang(subs, "de"))
	assert.False(t, hasSubtitleLang(nil, "en"))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
