package agent

import (
	"context"
	"iter"
	"log/slog"

	"github.com/starford/ansuz/internal/chunks"
	"github.com/starford/ansuz/internal/llm"
)

// Source is one normalized provenance record extracted from a trace.
type Source struct {
	Type       string   `json:"type"`
	NoteID     string   `json:"note_id,omitempty"`
	DocID      string   `json:"doc_id,omitempty"`
	ChunkID    string   `json:"chunk_id,omitempty"`
	Title      string   `json:"title"`
	FilePath   string   `json:"file_path,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	Distance   float64  `json:"distance,omitempty"`
}

// Metadata summarizes one query execution.
type Metadata struct {
	Iterations           int    `json:"iterations"`
	MaxIterationsReached bool   `json:"max_iterations_reached"`
	Strategy             string `json:"strategy"`
	ToolCallCount        int    `json:"tool_call_count"`
	Error                string `json:"error,omitempty"`
}

// Response is the exposed answer contract.
type Response struct {
	Answer    string           `json:"answer"`
	Sources   []Source         `json:"sources"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	Metadata  Metadata         `json:"metadata"`
}

// Service is the top-level orchestrator: it runs the executor, distills
// the trace into deduplicated sources, and exposes the deterministic
// strategy path as an alternative to the agent loop.
type Service struct {
	executor        *Executor
	strategies      *Strategies
	defaultStrategy string
	logger          *slog.Logger
}

// NewService wires the orchestrator.
func NewService(executor *Executor, strategies *Strategies, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		executor:        executor,
		strategies:      strategies,
		defaultStrategy: DefaultStrategyName,
		logger:          logger,
	}
}

// SetDefaultStrategy overrides the strategy label applied when a query
// names none.
func (s *Service) SetDefaultStrategy(name string) {
	if name != "" {
		s.defaultStrategy = name
	}
}

// Query runs the agent loop for a question and returns the full answer
// contract. strategy only labels the metadata here; the model chooses
// its own tool sequence.
func (s *Service) Query(ctx context.Context, question, strategy string, history []llm.Message) Response {
	if strategy == "" {
		strategy = s.defaultStrategy
	}

	result := s.executor.Execute(ctx, question, history)

	resp := Response{
		Answer:    result.Answer,
		Sources:   extractSources(result.ToolCalls),
		ToolCalls: result.ToolCalls,
		Metadata: Metadata{
			Iterations:           result.Iterations,
			MaxIterationsReached: result.MaxIterationsReached,
			Strategy:             strategy,
			ToolCallCount:        len(result.ToolCalls),
		},
	}
	if result.Err != nil {
		resp.Metadata.Error = result.Err.Error()
	}
	return resp
}

// StreamQuery replays the final answer in fixed-size text fragments.
func (s *Service) StreamQuery(ctx context.Context, question, strategy string, history []llm.Message) iter.Seq[string] {
	return s.executor.StreamExecute(ctx, question, history)
}

// SearchWithStrategy runs a named deterministic strategy directly,
// bypassing the model entirely.
func (s *Service) SearchWithStrategy(ctx context.Context, query, strategy string, sc *StrategyContext) ([]StrategyResult, error) {
	return s.strategies.Get(strategy).Execute(ctx, query, sc)
}

// extractSources walks a trace and collects one source record per
// distinct identifier, first seen wins. read_note_content returns bare
// text and contributes nothing; its provenance comes from the lookup
// calls that preceded it.
func extractSources(trace []ToolCallRecord) []Source {
	sources := []Source{}
	seen := make(map[string]struct{})

	addNote := func(src Source) {
		if src.NoteID == "" {
			return
		}
		if _, dup := seen[src.NoteID]; dup {
			return
		}
		seen[src.NoteID] = struct{}{}
		src.Type = "note"
		sources = append(sources, src)
	}

	for _, record := range trace {
		if record.Err != "" || record.Result == nil {
			continue
		}
		switch result := record.Result.(type) {
		case []NoteHit:
			for _, hit := range result {
				addNote(Source{
					NoteID:     hit.NoteID,
					Title:      hit.Title,
					FilePath:   hit.FilePath,
					Tags:       hit.Tags,
					Similarity: hit.Similarity,
				})
			}
		case []NoteInfo:
			for _, info := range result {
				addNote(Source{
					NoteID:   info.NoteID,
					Title:    info.Title,
					FilePath: info.FilePath,
					Tags:     info.Tags,
				})
			}
		case *NoteInfo:
			if result != nil {
				addNote(Source{
					NoteID:   result.NoteID,
					Title:    result.Title,
					FilePath: result.FilePath,
					Tags:     result.Tags,
				})
			}
		case []chunks.Hit:
			for _, hit := range result {
				if hit.DocID == "" {
					continue
				}
				if _, dup := seen[hit.DocID]; dup {
					continue
				}
				seen[hit.DocID] = struct{}{}
				sources = append(sources, Source{
					Type:     "document",
					DocID:    hit.DocID,
					ChunkID:  hit.ChunkID,
					Title:    hit.Title,
					Distance: hit.Distance,
				})
			}
		}
	}
	return sources
}
