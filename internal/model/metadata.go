// SPDX-License-Identifier: MIT

package model

// FeedMetadata is the all-optional override record from configuration.
// Apply merges it field-wise, right-biased: unset fields never overwrite
// values the feed already carries.
type FeedMetadata struct {
	Title          *string      `yaml:"title"`
	Subtitle       *string      `yaml:"subtitle"`
	Description    *string      `yaml:"description"`
	Language       *string      `yaml:"language"`
	Author         *string      `yaml:"author"`
	AuthorEmail    *string      `yaml:"author_email"`
	Category       *string      `yaml:"category"`
	PodcastType    *PodcastType `yaml:"podcast_type"`
	Explicit       *bool        `yaml:"explicit"`
	RemoteImageURL *string      `yaml:"image_url"`
}

// Apply writes every set override field onto the feed.
func (m *FeedMetadata) Apply(f *Feed) {
	if m == nil {
		return
	}
	if m.Title != nil {
		f.Title = *m.Title
	}
	if m.Subtitle != nil {
		f.Subtitle = m.Subtitle
	}
	if m.Description != nil {
		f.Description = m.Description
	}
	if m.Language != nil {
		f.Language = m.Language
	}
	if m.Author != nil {
		f.Author = m.Author
	}
	if m.AuthorEmail != nil {
		f.AuthorEmail = *m.AuthorEmail
	}
	if m.Category != nil {
		f.Category = m.Category
	}
	if m.PodcastType != nil {
		f.PodcastType = m.PodcastType
	}
	if m.Explicit != nil {
		f.Explicit = *m.Explicit
	}
	if m.RemoteImageURL != nil {
		f.RemoteImageURL = m.RemoteImageURL
	}
}
