// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Ansuz retrieval tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/agent"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *agent.Service
	tools *agent.Tools
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *agent.Service, tools *agent.Tools) *Server {
	s := &Server{svc: svc, tools: tools}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Answer a question about the vault using the agentic retrieval loop. "+
			"Returns the answer together with the sources it was grounded on."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question")),
		mcp.WithString("strategy", mcp.Description("Optional search strategy label (note-first, link-expansion, tag-filter, fallback, hybrid)")),
	), s.ask)

	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Run a deterministic search strategy directly, without the LLM loop."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("strategy", mcp.Description("Optional strategy name (defaults to hybrid)")),
	), s.search)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search notes by title similarity."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a note by its identifier."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note identifier (path without the .md extension)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note identifier to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("notes_by_tag",
		mcp.WithDescription("List all notes carrying a tag."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag with or without the # prefix")),
	), s.notesByTag)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	strategy := ""
	if v, err := req.RequireString("strategy"); err == nil {
		strategy = v
	}
	resp := s.svc.Query(ctx, question, strategy, nil)
	out, _ := json.MarshalIndent(resp, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	strategy := ""
	if v, err := req.RequireString("strategy"); err == nil {
		strategy = v
	}
	results, err := s.svc.SearchWithStrategy(ctx, query, strategy, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.tools.SearchNotesByTitle(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := s.tools.ReadNoteContent(ctx, noteID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if content == "" {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", noteID)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	infos, err := s.tools.GetBacklinks(ctx, noteID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(infos) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	var ids []string
	for _, n := range infos {
		ids = append(ids, n.NoteID)
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) notesByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	infos, err := s.tools.GetNotesByTag(ctx, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(infos, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
