package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/agent"
	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/sse"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *agent.Service
	graph  *graph.Store
	chunks *chunks.Store
	broker *sse.Broker
}

// NewHandler creates a new Handler.
func NewHandler(svc *agent.Service, g *graph.Store, cs *chunks.Store, broker *sse.Broker) *Handler {
	return &Handler{svc: svc, graph: g, chunks: cs, broker: broker}
}

// notePath extracts the note identifier from the URL (everything after
// the wildcard). Supports encoded slashes (e.g. topics%2Fnote).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Query handles POST /api/query: run the agent loop and return the full
// answer contract.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("question is required"))
		return
	}

	resp := h.svc.Query(r.Context(), req.Question, req.Strategy, nil)
	if h.broker != nil {
		h.broker.Publish(sse.Event{Type: "query.completed", Data: map[string]any{
			"strategy":   resp.Metadata.Strategy,
			"iterations": resp.Metadata.Iterations,
		}})
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryStream handles POST /api/query/stream: runs the agent loop to
// completion, then flushes the answer in fixed-size text fragments.
func (h *Handler) QueryStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("question is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range h.svc.StreamQuery(r.Context(), req.Question, req.Strategy, nil) {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// Search handles GET /api/search: run a deterministic strategy directly.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	strategy := r.URL.Query().Get("strategy")

	results, err := h.svc.SearchWithStrategy(r.Context(), q, strategy, nil)
	if err != nil {
		slog.Error("strategy search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if strategy == "" {
		strategy = agent.DefaultStrategyName
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Strategy: strategy,
		Results:  toSearchRecords(results),
	})
}

// ListNotes handles GET /api/notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.graph.ListNotes()
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": toSummaries(notes),
		"total": len(notes),
	})
}

// GetNote handles GET /api/notes/*: note metadata plus its graph
// neighbourhood (outgoing edges, backlinks, pending links).
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	noteID := notePath(r)
	if noteID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	n, err := h.graph.GetNote(noteID)
	if err != nil {
		slog.Error("get note failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if n == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	outgoing, _ := h.graph.GetOutgoingLinks(noteID)
	backlinks, _ := h.graph.GetBacklinks(noteID)
	unresolved, _ := h.graph.Unresolved(noteID)
	if unresolved == nil {
		unresolved = []string{}
	}

	writeJSON(w, http.StatusOK, NoteDetailResponse{
		NoteID:      n.NoteID,
		Title:       n.Title,
		FilePath:    n.FilePath,
		Tags:        n.Tags,
		Links:       n.Links,
		Frontmatter: n.Frontmatter,
		Outgoing:    toSummaries(outgoing),
		Backlinks:   toSummaries(backlinks),
		Unresolved:  unresolved,
	})
}

// NotesByTag handles GET /api/tags/{tag}.
func (h *Handler) NotesByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if tag == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tag is required"))
		return
	}
	notes, err := h.graph.GetNotesByTag(tag)
	if err != nil {
		slog.Error("notes by tag failed", slog.String("tag", tag), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tag":   graph.NormalizeTag(tag),
		"notes": toSummaries(notes),
	})
}

// Graph handles GET /api/graph: every note as a node, every resolved
// edge as a link.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	notes, err := h.graph.ListNotes()
	if err != nil {
		slog.Error("graph nodes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	edges, err := h.graph.AllEdges()
	if err != nil {
		slog.Error("graph edges failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	resp := GraphResponse{Nodes: []GraphNode{}, Links: []GraphLink{}}
	for _, n := range notes {
		resp.Nodes = append(resp.Nodes, GraphNode{ID: n.NoteID, Title: n.Title})
	}
	for _, e := range edges {
		resp.Links = append(resp.Links, GraphLink{Source: e.Source, Target: e.Target})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutChunk handles POST /api/chunks: embed and store one document chunk.
func (h *Handler) PutChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PutChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ChunkID == "" || req.DocID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("chunk_id, doc_id, and text are required"))
		return
	}

	err := h.chunks.Put(r.Context(), chunks.Chunk{
		ChunkID: req.ChunkID,
		DocID:   req.DocID,
		Title:   req.Title,
		Text:    req.Text,
		Source:  req.Source,
	})
	if err != nil {
		slog.Error("put chunk failed", slog.String("chunk_id", req.ChunkID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteDoc handles DELETE /api/chunks: remove every chunk of a document.
func (h *Handler) DeleteDoc(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc_id")
	if docID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'doc_id' is required"))
		return
	}
	if err := h.chunks.DeleteDoc(r.Context(), docID); err != nil {
		slog.Error("delete doc failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if h.broker != nil {
		body["sse_clients"] = h.broker.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func toSummaries(notes []graph.Note) []NoteSummary {
	out := make([]NoteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteSummary{
			NoteID:    n.NoteID,
			Title:     n.Title,
			FilePath:  n.FilePath,
			Tags:      n.Tags,
			UpdatedAt: n.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func toSearchRecords(results []agent.StrategyResult) []SearchResultRecord {
	out := make([]SearchResultRecord, 0, len(results))
	for _, r := range results {
		switch r.Kind {
		case agent.KindNote:
			out = append(out, SearchResultRecord{
				Type:       "note",
				NoteID:     r.Note.NoteID,
				Title:      r.Note.Title,
				FilePath:   r.Note.FilePath,
				Content:    r.Note.Content,
				Similarity: r.Note.Similarity,
			})
		case agent.KindChunk:
			out = append(out, SearchResultRecord{
				Type:     "document",
				DocID:    r.Chunk.DocID,
				ChunkID:  r.Chunk.ChunkID,
				Title:    r.Chunk.Title,
				Text:     r.Chunk.Text,
				Distance: r.Chunk.Distance,
			})
		}
	}
	return out
}
