package agent

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/starford/ansuz/internal/chunks"
)

// ResultKind discriminates what a strategy result carries.
type ResultKind int

const (
	KindNote ResultKind = iota
	KindChunk
)

// StrategyResult is one heterogeneous search result: either a note hit
// or a document chunk.
type StrategyResult struct {
	Kind  ResultKind
	Note  *NoteHit
	Chunk *chunks.Hit
}

// key returns the dedup identifier. Note and chunk identifiers live in
// separate namespaces so a note and a document never collide.
func (r StrategyResult) key() string {
	if r.Kind == KindChunk {
		return "doc:" + r.Chunk.DocID
	}
	return "note:" + r.Note.NoteID
}

// StrategyContext carries optional hints from previous steps.
type StrategyContext struct {
	SeedNoteID string
	Tags       []string
}

// Strategy is a deterministic multi-step retrieval recipe. Strategies
// never consult the model; they compose tool calls in a fixed shape.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, query string, sc *StrategyContext) ([]StrategyResult, error)
}

// Strategies is the registry of named strategies with a default.
type Strategies struct {
	byName      map[string]Strategy
	defaultName string
	logger      *slog.Logger
}

// DefaultStrategyName is used when no strategy is requested.
const DefaultStrategyName = "hybrid"

// NewStrategies builds the standard strategy registry over a tool set.
func NewStrategies(tools *Tools, logger *slog.Logger) *Strategies {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Strategies{
		byName:      make(map[string]Strategy),
		defaultName: DefaultStrategyName,
		logger:      logger,
	}
	for _, st := range []Strategy{
		&NoteFirst{tools: tools},
		&LinkExpansion{tools: tools},
		&TagFilter{tools: tools},
		&Fallback{tools: tools},
		&Hybrid{tools: tools},
	} {
		s.byName[st.Name()] = st
	}
	return s
}

// Get returns the named strategy, falling back to the default with a
// warning for unknown names.
func (s *Strategies) Get(name string) Strategy {
	if name == "" {
		name = s.defaultName
	}
	st, ok := s.byName[name]
	if !ok {
		s.logger.Warn("unknown strategy, using default", "requested", name, "default", s.defaultName)
		return s.byName[s.defaultName]
	}
	return st
}

// NoteFirst searches titles, then enriches the top hits with metadata,
// outgoing links, and full content.
type NoteFirst struct {
	tools *Tools
}

func (n *NoteFirst) Name() string { return "note-first" }

func (n *NoteFirst) Execute(ctx context.Context, query string, _ *StrategyContext) ([]StrategyResult, error) {
	hits, err := n.tools.SearchNotesByTitle(ctx, query, 5)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	var out []StrategyResult
	for i := range hits {
		if i >= 3 {
			break
		}
		hit := hits[i]
		if meta, err := n.tools.GetNoteMetadata(ctx, hit.NoteID); err == nil && meta != nil {
			hit.Tags = meta.Tags
			hit.Links = meta.Links
		}
		if linked, err := n.tools.GetLinkedNotes(ctx, hit.NoteID); err == nil {
			hit.LinkedNotes = linked
		}
		if content, err := n.tools.ReadNoteContent(ctx, hit.NoteID); err == nil && content != "" {
			hit.Content = content
		}
		out = append(out, StrategyResult{Kind: KindNote, Note: &hit})
	}
	return out, nil
}

// LinkExpansion starts from a seed note and attaches the content of its
// outgoing-linked notes.
type LinkExpansion struct {
	tools *Tools
}

func (l *LinkExpansion) Name() string { return "link-expansion" }

func (l *LinkExpansion) Execute(ctx context.Context, query string, sc *StrategyContext) ([]StrategyResult, error) {
	seed := ""
	if sc != nil {
		seed = sc.SeedNoteID
	}
	if seed == "" {
		hits, err := l.tools.SearchNotesByTitle(ctx, query, 1)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			seed = hits[0].NoteID
		}
	}
	if seed == "" {
		return nil, nil
	}

	linked, err := l.tools.GetLinkedNotes(ctx, seed)
	if err != nil {
		return nil, err
	}

	var out []StrategyResult
	for i := range linked {
		if i >= 5 {
			break
		}
		info := linked[i]
		content, err := l.tools.ReadNoteContent(ctx, info.NoteID)
		if err != nil || content == "" {
			continue
		}
		out = append(out, StrategyResult{Kind: KindNote, Note: &NoteHit{
			NoteID:   info.NoteID,
			Title:    info.Title,
			FilePath: info.FilePath,
			Tags:     info.Tags,
			Content:  content,
		}})
	}
	return out, nil
}

var tagTokenRe = regexp.MustCompile(`#([^\s#]+)`)

// TagFilter collects notes by tags taken from context or scanned out of
// the query text, capped at 10 content-bearing results.
type TagFilter struct {
	tools *Tools
}

func (t *TagFilter) Name() string { return "tag-filter" }

func (t *TagFilter) Execute(ctx context.Context, query string, sc *StrategyContext) ([]StrategyResult, error) {
	var tags []string
	if sc != nil && len(sc.Tags) > 0 {
		tags = sc.Tags
	} else {
		for _, m := range tagTokenRe.FindAllStringSubmatch(query, -1) {
			tags = append(tags, m[1])
		}
	}
	if len(tags) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var out []StrategyResult
	for _, tag := range tags {
		notes, err := t.tools.GetNotesByTag(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, info := range notes {
			if _, dup := seen[info.NoteID]; dup {
				continue
			}
			seen[info.NoteID] = struct{}{}
			if len(out) >= 10 {
				return out, nil
			}
			content, err := t.tools.ReadNoteContent(ctx, info.NoteID)
			if err != nil || content == "" {
				continue
			}
			out = append(out, StrategyResult{Kind: KindNote, Note: &NoteHit{
				NoteID:   info.NoteID,
				Title:    info.Title,
				FilePath: info.FilePath,
				Tags:     info.Tags,
				Links:    info.Links,
				Content:  content,
			}})
		}
	}
	return out, nil
}

// Fallback searches document chunks directly, bypassing the note graph.
type Fallback struct {
	tools *Tools
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Execute(ctx context.Context, query string, _ *StrategyContext) ([]StrategyResult, error) {
	hits, err := f.tools.SearchChunks(ctx, query, 5)
	if err != nil {
		return nil, err
	}
	out := make([]StrategyResult, 0, len(hits))
	for i := range hits {
		out = append(out, StrategyResult{Kind: KindChunk, Chunk: &hits[i]})
	}
	return out, nil
}

// Hybrid runs NoteFirst, widens with LinkExpansion when thin, and falls
// back to chunk search when still too thin. Results are deduplicated by
// identifier in first-seen order.
type Hybrid struct {
	tools *Tools
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Execute(ctx context.Context, query string, sc *StrategyContext) ([]StrategyResult, error) {
	seen := make(map[string]struct{})
	var merged []StrategyResult
	add := func(results []StrategyResult) {
		for _, r := range results {
			if _, dup := seen[r.key()]; dup {
				continue
			}
			seen[r.key()] = struct{}{}
			merged = append(merged, r)
		}
	}

	noteFirst := &NoteFirst{tools: h.tools}
	noteResults, err := noteFirst.Execute(ctx, query, sc)
	if err != nil {
		return nil, err
	}
	add(noteResults)

	if len(noteResults) > 0 && len(merged) < 5 {
		expansion := &LinkExpansion{tools: h.tools}
		expanded, err := expansion.Execute(ctx, query, &StrategyContext{SeedNoteID: noteResults[0].Note.NoteID})
		if err != nil {
			return nil, err
		}
		add(expanded)
	}

	if len(merged) < 3 {
		fallback := &Fallback{tools: h.tools}
		chunkResults, err := fallback.Execute(ctx, query, sc)
		if err != nil {
			return nil, err
		}
		add(chunkResults)
	}

	return merged, nil
}
