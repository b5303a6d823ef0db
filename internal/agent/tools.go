// Package agent implements agentic retrieval: a schema-described tool set
// over the link graph and chunk store, deterministic search strategies,
// the LLM tool-calling executor, and the query orchestration service.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/llm"
)

// ChunkSearcher is the semantic chunk-search collaborator.
type ChunkSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]chunks.Hit, error)
}

// FileReader resolves a vault-relative path to raw file bytes.
type FileReader interface {
	Read(path string) ([]byte, error)
}

// NoteHit is a title-search result with its similarity score.
type NoteHit struct {
	NoteID     string   `json:"note_id"`
	Title      string   `json:"title"`
	FilePath   string   `json:"file_path"`
	Tags       []string `json:"tags"`
	Links      []string `json:"links"`
	Similarity float64  `json:"similarity"`

	// Enrichment attached by strategies, empty in plain tool results.
	LinkedNotes []NoteInfo `json:"linked_notes,omitempty"`
	Content     string     `json:"content,omitempty"`
}

// NoteInfo is note metadata as returned by graph-backed tools.
type NoteInfo struct {
	NoteID      string         `json:"note_id"`
	Title       string         `json:"title"`
	FilePath    string         `json:"file_path"`
	Tags        []string       `json:"tags"`
	Links       []string       `json:"links,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`

	Content string `json:"content,omitempty"`
}

// Tools is the retrieval tool set the agent loop draws from. All methods
// treat a missing note as an empty result, never an error, so the model
// can try alternatives.
type Tools struct {
	graph    *graph.Store
	files    FileReader
	embedder llm.Embedder
	chunks   ChunkSearcher
	logger   *slog.Logger
}

// NewTools wires the tool set over its collaborators.
func NewTools(g *graph.Store, files FileReader, embedder llm.Embedder, cs ChunkSearcher, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{graph: g, files: files, embedder: embedder, chunks: cs, logger: logger}
}

// SearchNotesByTitle ranks every note title against the query by cosine
// similarity of their embeddings and returns the top limit hits.
func (t *Tools) SearchNotesByTitle(ctx context.Context, query string, limit int) ([]NoteHit, error) {
	if limit <= 0 {
		limit = 5
	}
	notes, err := t.graph.ListNotes()
	if err != nil {
		return nil, fmt.Errorf("agent: list notes: %w", err)
	}
	if len(notes) == 0 {
		return nil, nil
	}

	qvec, err := t.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent: embed query: %w", err)
	}
	titles := make([]string, len(notes))
	for i, n := range notes {
		titles[i] = n.Title
	}
	tvecs, err := t.embedder.EmbedTexts(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("agent: embed titles: %w", err)
	}

	hits := make([]NoteHit, len(notes))
	for i, n := range notes {
		hits[i] = NoteHit{
			NoteID:     n.NoteID,
			Title:      n.Title,
			FilePath:   n.FilePath,
			Tags:       n.Tags,
			Links:      n.Links,
			Similarity: chunks.Cosine(qvec, tvecs[i]),
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	t.logger.Debug("title search", "query", query, "hits", len(hits))
	return hits, nil
}

// GetNoteMetadata returns the full metadata for one note, nil if unknown.
func (t *Tools) GetNoteMetadata(_ context.Context, noteID string) (*NoteInfo, error) {
	n, err := t.graph.GetNote(noteID)
	if err != nil {
		return nil, fmt.Errorf("agent: get note %s: %w", noteID, err)
	}
	if n == nil {
		return nil, nil
	}
	return &NoteInfo{
		NoteID:      n.NoteID,
		Title:       n.Title,
		FilePath:    n.FilePath,
		Tags:        n.Tags,
		Links:       n.Links,
		Frontmatter: n.Frontmatter,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}, nil
}

// GetNotesByTag returns all notes carrying the tag, most recent first.
func (t *Tools) GetNotesByTag(_ context.Context, tag string) ([]NoteInfo, error) {
	notes, err := t.graph.GetNotesByTag(tag)
	if err != nil {
		return nil, fmt.Errorf("agent: notes by tag %s: %w", tag, err)
	}
	return toInfos(notes), nil
}

// GetLinkedNotes returns the notes the given note links out to.
func (t *Tools) GetLinkedNotes(_ context.Context, noteID string) ([]NoteInfo, error) {
	notes, err := t.graph.GetOutgoingLinks(noteID)
	if err != nil {
		return nil, fmt.Errorf("agent: linked notes of %s: %w", noteID, err)
	}
	return toInfos(notes), nil
}

// GetBacklinks returns the notes linking to the given note.
func (t *Tools) GetBacklinks(_ context.Context, noteID string) ([]NoteInfo, error) {
	notes, err := t.graph.GetBacklinks(noteID)
	if err != nil {
		return nil, fmt.Errorf("agent: backlinks of %s: %w", noteID, err)
	}
	return toInfos(notes), nil
}

// ReadNoteContent resolves a note to its vault path and returns the raw
// body, empty string when the note or its file is missing.
func (t *Tools) ReadNoteContent(_ context.Context, noteID string) (string, error) {
	n, err := t.graph.GetNote(noteID)
	if err != nil {
		return "", fmt.Errorf("agent: get note %s: %w", noteID, err)
	}
	if n == nil {
		return "", nil
	}
	data, err := t.files.Read(n.FilePath)
	if err != nil {
		t.logger.Debug("note file unreadable", "note_id", noteID, "path", n.FilePath, "error", err)
		return "", nil
	}
	return string(data), nil
}

// SearchChunks delegates to the semantic chunk-search collaborator.
func (t *Tools) SearchChunks(ctx context.Context, query string, limit int) ([]chunks.Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	hits, err := t.chunks.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("agent: search chunks: %w", err)
	}
	return hits, nil
}

func toInfos(notes []graph.Note) []NoteInfo {
	out := make([]NoteInfo, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteInfo{
			NoteID:   n.NoteID,
			Title:    n.Title,
			FilePath: n.FilePath,
			Tags:     n.Tags,
			Links:    n.Links,
		})
	}
	return out
}

// Tool names as offered to the model.
const (
	ToolSearchNotesByTitle = "search_notes_by_title"
	ToolGetNoteMetadata    = "get_note_metadata"
	ToolGetNotesByTag      = "get_notes_by_tag"
	ToolGetLinkedNotes     = "get_linked_notes"
	ToolGetBacklinks       = "get_backlinks"
	ToolReadNoteContent    = "read_note_content"
	ToolSearchChunks       = "search_pdf_chunks"
)

// Registry binds tool names to their definitions and implementations.
type Registry struct {
	tools *Tools
	defs  []llm.ToolDef
}

// NewRegistry builds the fixed tool registry over a tool set.
func NewRegistry(tools *Tools) *Registry {
	return &Registry{tools: tools, defs: toolDefinitions()}
}

// Definitions returns the schema the model sees.
func (r *Registry) Definitions() []llm.ToolDef {
	return r.defs
}

// Execute dispatches a named tool call. Unknown names return an error
// wrapping apperr.ErrUnknownTool; everything else is the tool's own
// result and error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearchNotesByTitle:
		return r.tools.SearchNotesByTitle(ctx, stringArg(args, "query"), intArg(args, "limit", 5))
	case ToolGetNoteMetadata:
		return r.tools.GetNoteMetadata(ctx, stringArg(args, "note_id"))
	case ToolGetNotesByTag:
		return r.tools.GetNotesByTag(ctx, stringArg(args, "tag"))
	case ToolGetLinkedNotes:
		return r.tools.GetLinkedNotes(ctx, stringArg(args, "note_id"))
	case ToolGetBacklinks:
		return r.tools.GetBacklinks(ctx, stringArg(args, "note_id"))
	case ToolReadNoteContent:
		return r.tools.ReadNoteContent(ctx, stringArg(args, "note_id"))
	case ToolSearchChunks:
		return r.tools.SearchChunks(ctx, stringArg(args, "query"), intArg(args, "limit", 5))
	default:
		return nil, fmt.Errorf("agent: %w: %s", apperr.ErrUnknownTool, name)
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func toolDefinitions() []llm.ToolDef {
	noteIDParam := func(desc string) llm.Schema {
		return llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"note_id": {Type: "string", Description: desc},
			},
			Required: []string{"note_id"},
		}
	}
	queryLimitParam := func(desc string) llm.Schema {
		return llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {Type: "string", Description: desc},
				"limit": {Type: "integer", Description: "Maximum number of results to return"},
			},
			Required: []string{"query"},
		}
	}

	return []llm.ToolDef{
		{
			Name:        ToolSearchNotesByTitle,
			Description: "Search notes by title using semantic similarity. Use this to find relevant notes when the user asks about a specific topic or concept.",
			Parameters:  queryLimitParam("Search query to find relevant notes by title"),
		},
		{
			Name:        ToolGetNoteMetadata,
			Description: "Get metadata (tags, links, frontmatter) for a specific note by its note_id. Use this after finding a relevant note to get more information about it.",
			Parameters:  noteIDParam("Note identifier (note_id)"),
		},
		{
			Name:        ToolGetNotesByTag,
			Description: "Get all notes with a specific tag. Use this when the user mentions a tag or wants to filter notes by category.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"tag": {Type: "string", Description: "Tag name to search for"},
				},
				Required: []string{"tag"},
			},
		},
		{
			Name:        ToolGetLinkedNotes,
			Description: "Get all notes linked from a given note. Use this to explore related notes through wiki-style links.",
			Parameters:  noteIDParam("Source note identifier"),
		},
		{
			Name:        ToolGetBacklinks,
			Description: "Get all notes that link to a given note (backlinks). Use this to find notes that reference a specific note.",
			Parameters:  noteIDParam("Target note identifier"),
		},
		{
			Name:        ToolReadNoteContent,
			Description: "Read the full content of a note. Use this to get the complete text of a note after finding it relevant.",
			Parameters:  noteIDParam("Note identifier"),
		},
		{
			Name:        ToolSearchChunks,
			Description: "Search PDF documents and other document chunks using vector similarity. Use this as a fallback when notes don't contain the information, or when searching for information from PDF documents.",
			Parameters:  queryLimitParam("Search query for document chunks"),
		},
	}
}
