// Package models defines the domain types shared across Ansuz packages.
package models

import "time"

// FileMetadata is a lightweight description of a vault file, as returned by
// storage listing operations.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParsedNote is the result of parsing a Markdown vault file: the ingestion
// hand-off unit before the link graph derives its rows from it.
type ParsedNote struct {
	Path        string         `json:"path"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body"`
	Tags        []string       `json:"tags,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}
