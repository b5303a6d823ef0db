package agent

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/graph"
)

// stubEmbedder returns fixed vectors for known strings and a unit
// z-axis vector otherwise.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.EmbedText(ctx, t)
	}
	return out, nil
}

// stubChunks serves canned chunk hits.
type stubChunks struct {
	hits []chunks.Hit
	err  error
}

func (s *stubChunks) Search(_ context.Context, _ string, limit int) ([]chunks.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > limit {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

// stubFiles maps vault paths to contents.
type stubFiles struct {
	files map[string][]byte
}

func (s *stubFiles) Read(path string) ([]byte, error) {
	if data, ok := s.files[path]; ok {
		return data, nil
	}
	return nil, errors.New("stub: file not found")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testGraph(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("graph.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTools(t *testing.T, emb *stubEmbedder, cs ChunkSearcher, files *stubFiles) (*Tools, *graph.Store) {
	t.Helper()
	g := testGraph(t)
	if emb == nil {
		emb = &stubEmbedder{}
	}
	if cs == nil {
		cs = &stubChunks{}
	}
	if files == nil {
		files = &stubFiles{files: map[string][]byte{}}
	}
	return NewTools(g, files, emb, cs, quietLogger()), g
}

func TestSearchNotesByTitle_Ranking(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"Go Concurrency": {1, 0, 0},
		"Cooking":        {0, 1, 0},
		"goroutines":     {0.95, 0.05, 0},
	}}
	tools, g := newTestTools(t, emb, nil, nil)

	_ = g.UpsertNote(graph.Note{NoteID: "go", Title: "Go Concurrency", FilePath: "go.md"})
	_ = g.UpsertNote(graph.Note{NoteID: "cook", Title: "Cooking", FilePath: "cook.md"})

	hits, err := tools.SearchNotesByTitle(context.Background(), "goroutines", 5)
	if err != nil {
		t.Fatalf("SearchNotesByTitle: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].NoteID != "go" {
		t.Errorf("top hit = %s, want go", hits[0].NoteID)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Errorf("similarities not descending: %f < %f", hits[0].Similarity, hits[1].Similarity)
	}
}

func TestSearchNotesByTitle_Limit(t *testing.T) {
	tools, g := newTestTools(t, nil, nil, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = g.UpsertNote(graph.Note{NoteID: id, Title: "Note " + id, FilePath: id + ".md"})
	}
	hits, err := tools.SearchNotesByTitle(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("SearchNotesByTitle: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("len(hits) = %d, want 2", len(hits))
	}
}

func TestSearchNotesByTitle_EmptyStore(t *testing.T) {
	tools, _ := newTestTools(t, nil, nil, nil)
	hits, err := tools.SearchNotesByTitle(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("SearchNotesByTitle: %v", err)
	}
	if hits != nil {
		t.Errorf("hits = %v, want nil", hits)
	}
}

func TestGetNoteMetadata_NotFound(t *testing.T) {
	tools, _ := newTestTools(t, nil, nil, nil)
	info, err := tools.GetNoteMetadata(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetNoteMetadata: %v", err)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil", info)
	}
}

func TestReadNoteContent(t *testing.T) {
	files := &stubFiles{files: map[string][]byte{"go.md": []byte("# Go\nbody")}}
	tools, g := newTestTools(t, nil, nil, files)
	_ = g.UpsertNote(graph.Note{NoteID: "go", Title: "Go", FilePath: "go.md"})

	content, err := tools.ReadNoteContent(context.Background(), "go")
	if err != nil {
		t.Fatalf("ReadNoteContent: %v", err)
	}
	if content != "# Go\nbody" {
		t.Errorf("content = %q", content)
	}
}

func TestReadNoteContent_MissingNote(t *testing.T) {
	tools, _ := newTestTools(t, nil, nil, nil)
	content, err := tools.ReadNoteContent(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ReadNoteContent: %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
}

func TestReadNoteContent_MissingFile(t *testing.T) {
	tools, g := newTestTools(t, nil, nil, nil)
	_ = g.UpsertNote(graph.Note{NoteID: "ghost", Title: "Ghost", FilePath: "ghost.md"})

	content, err := tools.ReadNoteContent(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ReadNoteContent: %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty when file is gone", content)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	tools, _ := newTestTools(t, nil, nil, nil)
	reg := NewRegistry(tools)

	_, err := reg.Execute(context.Background(), "summon_demon", nil)
	if !errors.Is(err, apperr.ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestRegistry_DispatchChunkSearch(t *testing.T) {
	cs := &stubChunks{hits: []chunks.Hit{{ChunkID: "c1", DocID: "d1", Title: "Doc"}}}
	tools, _ := newTestTools(t, nil, cs, nil)
	reg := NewRegistry(tools)

	result, err := reg.Execute(context.Background(), ToolSearchChunks, map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	hits, ok := result.([]chunks.Hit)
	if !ok || len(hits) != 1 || hits[0].DocID != "d1" {
		t.Errorf("result = %#v", result)
	}
}

func TestRegistry_Definitions(t *testing.T) {
	tools, _ := newTestTools(t, nil, nil, nil)
	reg := NewRegistry(tools)

	defs := reg.Definitions()
	if len(defs) != 7 {
		t.Fatalf("len(defs) = %d, want 7", len(defs))
	}
	names := make(map[string]bool)
	for _, d := range defs {
		names[d.Name] = true
		if d.Description == "" {
			t.Errorf("tool %s has no description", d.Name)
		}
	}
	for _, want := range []string{
		ToolSearchNotesByTitle, ToolGetNoteMetadata, ToolGetNotesByTag,
		ToolGetLinkedNotes, ToolGetBacklinks, ToolReadNoteContent, ToolSearchChunks,
	} {
		if !names[want] {
			t.Errorf("missing tool definition: %s", want)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"query": "hello", "limit": float64(3)}
	if got := stringArg(args, "query"); got != "hello" {
		t.Errorf("stringArg = %q", got)
	}
	if got := stringArg(args, "missing"); got != "" {
		t.Errorf("stringArg missing = %q", got)
	}
	if got := intArg(args, "limit", 5); got != 3 {
		t.Errorf("intArg = %d", got)
	}
	if got := intArg(args, "missing", 5); got != 5 {
		t.Errorf("intArg default = %d", got)
	}
}
