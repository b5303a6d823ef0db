package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/agent"
	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/llm"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

// cannedChat always answers with a fixed final completion.
type cannedChat struct {
	answer string
}

func (c *cannedChat) Invoke(_ context.Context, _ []llm.Message) (llm.Completion, error) {
	return llm.Completion{Text: c.answer}, nil
}

func (c *cannedChat) InvokeWithTools(_ context.Context, _ []llm.Message, _ []llm.ToolDef) (llm.Completion, error) {
	return llm.Completion{Text: c.answer}, nil
}

// flatEmbedder maps every text to the same vector, enough to exercise
// storage and ranking code paths.
type flatEmbedder struct{}

func (flatEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (flatEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type testEnv struct {
	graph  *graph.Store
	chunks *chunks.Store
	router http.Handler
}

// newTestEnv wires a full API stack over temp stores, a canned chat
// model, and optional auth.
func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()

	g := testutil.TestGraph(t)
	cs, err := chunks.Open(filepath.Join(t.TempDir(), "chunks.db"), flatEmbedder{})
	if err != nil {
		t.Fatalf("chunks.Open: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	vault := t.TempDir()
	fs, err := storage.NewFS(vault)
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}

	logger := testutil.Logger()
	tools := agent.NewTools(g, fs, flatEmbedder{}, cs, logger)
	registry := agent.NewRegistry(tools)
	executor := agent.NewExecutor(&cannedChat{answer: "canned answer"}, registry, 5, logger)
	strategies := agent.NewStrategies(tools, logger)
	svc := agent.NewService(executor, strategies, logger)

	h := NewHandler(svc, g, cs, nil)
	router := NewRouter(h, authToken != "", authToken, nil)
	return &testEnv{graph: g, chunks: cs, router: router}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestQueryEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/query", map[string]string{"question": "what is go?"})
	if w.Code != http.StatusOK {
		t.Fatalf("query = %d, body = %s", w.Code, w.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Answer != "canned answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Metadata.Strategy != "hybrid" {
		t.Errorf("strategy = %q, want hybrid default", resp.Metadata.Strategy)
	}
}

func TestQueryEndpoint_MissingQuestion(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/query", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question = %d, want 400", w.Code)
	}
}

func TestQueryStreamEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/query/stream", map[string]string{"question": "q"})
	if w.Code != http.StatusOK {
		t.Fatalf("stream = %d", w.Code)
	}
	if w.Body.String() != "canned answer" {
		t.Errorf("streamed body = %q", w.Body.String())
	}
}

func TestSearchEndpoint_Fallback(t *testing.T) {
	env := newTestEnv(t, "")
	_ = env.chunks.Put(context.Background(), chunks.Chunk{
		ChunkID: "c1", DocID: "d1", Title: "Doc", Text: "chunk text",
	})

	w := env.do(t, http.MethodGet, "/search?q=anything&strategy=fallback", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Strategy != "fallback" {
		t.Errorf("strategy = %q", resp.Strategy)
	}
	if len(resp.Results) != 1 || resp.Results[0].Type != "document" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchEndpoint_MissingQuery(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	env := newTestEnv(t, "")
	_ = env.graph.UpsertNote(graph.Note{NoteID: "a", Title: "A", FilePath: "a.md"})
	_ = env.graph.UpsertNote(graph.Note{NoteID: "b", Title: "B", FilePath: "b.md"})

	w := env.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["total"].(float64)) != 2 {
		t.Errorf("total = %v, want 2", resp["total"])
	}
}

func TestGetNote_Neighbourhood(t *testing.T) {
	env := newTestEnv(t, "")
	_ = env.graph.UpsertNote(graph.Note{NoteID: "target", Title: "Target", FilePath: "target.md"})
	_ = env.graph.UpsertNote(graph.Note{
		NoteID: "source", Title: "Source", FilePath: "source.md",
		Links: []string{"Target", "Nowhere"},
	})

	w := env.do(t, http.MethodGet, "/notes/source", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d, body = %s", w.Code, w.Body.String())
	}
	var resp NoteDetailResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Outgoing) != 1 || resp.Outgoing[0].NoteID != "target" {
		t.Errorf("outgoing = %+v", resp.Outgoing)
	}
	if len(resp.Unresolved) != 1 || resp.Unresolved[0] != "Nowhere" {
		t.Errorf("unresolved = %+v", resp.Unresolved)
	}

	w = env.do(t, http.MethodGet, "/notes/target", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Backlinks) != 1 || resp.Backlinks[0].NoteID != "source" {
		t.Errorf("backlinks = %+v", resp.Backlinks)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/notes/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note = %d, want 404", w.Code)
	}
}

func TestNotesByTag_Normalized(t *testing.T) {
	env := newTestEnv(t, "")
	_ = env.graph.UpsertNote(graph.Note{
		NoteID: "go", Title: "Go", FilePath: "go.md", Tags: []string{"#golang"},
	})

	w := env.do(t, http.MethodGet, "/tags/golang", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tag = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["tag"] != "#golang" {
		t.Errorf("tag = %v, want #golang", resp["tag"])
	}
	if len(resp["notes"].([]any)) != 1 {
		t.Errorf("notes = %v", resp["notes"])
	}
}

func TestGraphEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	_ = env.graph.UpsertNote(graph.Note{NoteID: "a", Title: "A", FilePath: "a.md", Links: []string{"B"}})
	_ = env.graph.UpsertNote(graph.Note{NoteID: "b", Title: "B", FilePath: "b.md", Links: []string{"A"}})

	w := env.do(t, http.MethodGet, "/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph = %d", w.Code)
	}
	var resp GraphResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(resp.Nodes))
	}
	if len(resp.Links) != 2 {
		t.Errorf("links = %d, want 2", len(resp.Links))
	}
}

func TestChunkLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/chunks", PutChunkRequest{
		ChunkID: "c1", DocID: "d1", Title: "Doc", Text: "text", Source: "d1.pdf",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("put chunk = %d, body = %s", w.Code, w.Body.String())
	}

	n, _ := env.chunks.Count(context.Background())
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	w = env.do(t, http.MethodDelete, "/chunks?doc_id=d1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete doc = %d", w.Code)
	}
	n, _ = env.chunks.Count(context.Background())
	if n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestPutChunk_MissingFields(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/chunks", PutChunkRequest{ChunkID: "c1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("incomplete chunk = %d, want 400", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newTestEnv(t, "secret123")
	w := env.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	})

	env := newTestEnv(t, "")
	h := NewHandler(nil, env.graph, env.chunks, nil)
	router := NewRouter(h, true, "tok", sseHandler)

	// No token → 401.
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}

	// Valid token → handler runs until context done.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req = httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
