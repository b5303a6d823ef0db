package api

import (
	"github.com/starford/ansuz/internal/agent"
)

// QueryRequest is the request body for POST /query and /query/stream.
type QueryRequest struct {
	Question string `json:"question" validate:"required"`
	Strategy string `json:"strategy,omitempty"`
}

// QueryResponse is the agentic answer contract.
type QueryResponse = agent.Response

// NoteSummary is a lightweight note listing item.
type NoteSummary struct {
	NoteID    string   `json:"note_id"`
	Title     string   `json:"title"`
	FilePath  string   `json:"file_path"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updated_at"`
}

// NoteDetailResponse is a note with its graph neighbourhood.
type NoteDetailResponse struct {
	NoteID      string         `json:"note_id"`
	Title       string         `json:"title"`
	FilePath    string         `json:"file_path"`
	Tags        []string       `json:"tags"`
	Links       []string       `json:"links"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Outgoing    []NoteSummary  `json:"outgoing"`
	Backlinks   []NoteSummary  `json:"backlinks"`
	Unresolved  []string       `json:"unresolved"`
}

// SearchResponse wraps deterministic strategy results.
type SearchResponse struct {
	Strategy string               `json:"strategy"`
	Results  []SearchResultRecord `json:"results"`
}

// SearchResultRecord flattens a heterogeneous strategy result for JSON.
type SearchResultRecord struct {
	Type       string  `json:"type"`
	NoteID     string  `json:"note_id,omitempty"`
	DocID      string  `json:"doc_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Title      string  `json:"title"`
	FilePath   string  `json:"file_path,omitempty"`
	Content    string  `json:"content,omitempty"`
	Text       string  `json:"text,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Distance   float64 `json:"distance,omitempty"`
}

// PutChunkRequest is the request body for POST /chunks.
type PutChunkRequest struct {
	ChunkID string `json:"chunk_id" validate:"required"`
	DocID   string `json:"doc_id" validate:"required"`
	Title   string `json:"title"`
	Text    string `json:"text" validate:"required"`
	Source  string `json:"source"`
}

// GraphNode is a node in the link graph response.
type GraphNode struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// GraphLink is a resolved edge in the link graph response.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphResponse wraps the link graph.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}
