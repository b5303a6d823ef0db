package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/llm"
)

func newTestService(t *testing.T, chat llm.Chat) *Service {
	t.Helper()
	tools, _ := newTestTools(t, nil, nil, nil)
	executor := NewExecutor(chat, NewRegistry(tools), 5, quietLogger())
	return NewService(executor, NewStrategies(tools, quietLogger()), quietLogger())
}

func TestQuery_Contract(t *testing.T) {
	chat := &scriptedChat{script: []llm.Completion{{Text: "final answer"}}}
	svc := newTestService(t, chat)

	resp := svc.Query(context.Background(), "question", "", nil)
	if resp.Answer != "final answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Metadata.Strategy != "hybrid" {
		t.Errorf("strategy = %q, want hybrid default", resp.Metadata.Strategy)
	}
	if resp.Metadata.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", resp.Metadata.Iterations)
	}
	if resp.Metadata.ToolCallCount != 0 {
		t.Errorf("tool_call_count = %d, want 0", resp.Metadata.ToolCallCount)
	}
	if resp.Metadata.MaxIterationsReached {
		t.Error("max_iterations_reached should be false")
	}
	if resp.Sources == nil {
		t.Error("sources should be non-nil even when empty")
	}
}

func TestQuery_StrategyOverrideLabelsMetadata(t *testing.T) {
	chat := &scriptedChat{script: []llm.Completion{{Text: "ok"}}}
	svc := newTestService(t, chat)

	resp := svc.Query(context.Background(), "question", "note-first", nil)
	if resp.Metadata.Strategy != "note-first" {
		t.Errorf("strategy = %q", resp.Metadata.Strategy)
	}
}

func TestQuery_LLMErrorSurfacesInMetadata(t *testing.T) {
	chat := &scriptedChat{
		script: []llm.Completion{{}},
		errs:   []error{errors.New("boom")},
	}
	svc := newTestService(t, chat)

	resp := svc.Query(context.Background(), "question", "", nil)
	if resp.Metadata.Error == "" {
		t.Error("expected error in metadata")
	}
	if !strings.HasPrefix(resp.Answer, "Error during agent execution:") {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestStreamQuery_ReplaysAnswer(t *testing.T) {
	answer := strings.Repeat("x", 70)
	chat := &scriptedChat{script: []llm.Completion{{Text: answer}}}
	svc := newTestService(t, chat)

	var got strings.Builder
	for chunk := range svc.StreamQuery(context.Background(), "q", "", nil) {
		got.WriteString(chunk)
	}
	if got.String() != answer {
		t.Errorf("streamed = %q", got.String())
	}
}

func TestExtractSources_DedupKeepsFirstSeen(t *testing.T) {
	trace := []ToolCallRecord{
		{ToolName: ToolSearchNotesByTitle, Result: []NoteHit{
			{NoteID: "n1", Title: "First Title", Similarity: 0.9},
		}},
		{ToolName: ToolGetBacklinks, Result: []NoteInfo{
			{NoteID: "n1", Title: "Second Title"},
			{NoteID: "n2", Title: "Other"},
		}},
	}

	sources := extractSources(trace)
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if sources[0].NoteID != "n1" || sources[0].Title != "First Title" {
		t.Errorf("first source = %+v, want first-seen title kept", sources[0])
	}
	if sources[1].NoteID != "n2" {
		t.Errorf("second source = %+v", sources[1])
	}
}

func TestExtractSources_MixedNoteAndDocument(t *testing.T) {
	trace := []ToolCallRecord{
		{ToolName: ToolGetNoteMetadata, Result: &NoteInfo{NoteID: "n1", Title: "Note"}},
		{ToolName: ToolSearchChunks, Result: []chunks.Hit{
			{DocID: "d1", ChunkID: "c1", Title: "Doc", Distance: 0.2},
			{DocID: "d1", ChunkID: "c2", Title: "Doc again"},
		}},
	}

	sources := extractSources(trace)
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if sources[0].Type != "note" || sources[1].Type != "document" {
		t.Errorf("types = %q, %q", sources[0].Type, sources[1].Type)
	}
	if sources[1].DocID != "d1" || sources[1].ChunkID != "c1" {
		t.Errorf("document source = %+v, want first chunk of d1", sources[1])
	}
}

func TestExtractSources_SkipsErrorsAndBareText(t *testing.T) {
	trace := []ToolCallRecord{
		{ToolName: ToolGetNoteMetadata, Result: map[string]any{"error": "boom"}, Err: "boom"},
		{ToolName: ToolReadNoteContent, Result: "raw note body"},
		{ToolName: ToolGetNoteMetadata, Result: (*NoteInfo)(nil)},
	}

	sources := extractSources(trace)
	if len(sources) != 0 {
		t.Errorf("sources = %+v, want none", sources)
	}
}

func TestSearchWithStrategy_Deterministic(t *testing.T) {
	chat := &scriptedChat{script: []llm.Completion{{Text: "unused"}}}
	svc := newTestService(t, chat)

	results, err := svc.SearchWithStrategy(context.Background(), "query", "fallback", nil)
	if err != nil {
		t.Fatalf("SearchWithStrategy: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 from empty chunk store", len(results))
	}
	if chat.calls != 0 {
		t.Errorf("llm calls = %d, want 0 for deterministic path", chat.calls)
	}
}
