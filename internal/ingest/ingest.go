// Package ingest feeds the vault into the link graph: it parses Markdown
// files, derives note identities, and keeps the graph in step with the
// file system via full syncs and watcher-driven updates.
package ingest

import (
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// NoteID derives the note identifier from a vault-relative path: the
// path with its ".md" extension stripped.
func NoteID(filePath string) string {
	return strings.TrimSuffix(filePath, ".md")
}

// Ingestor writes parsed vault files into the link graph.
type Ingestor struct {
	graph  *graph.Store
	store  storage.Provider
	logger *slog.Logger
}

// New wires an Ingestor over the graph and the vault.
func New(g *graph.Store, store storage.Provider, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{graph: g, store: store, logger: logger}
}

// IndexFile parses data and upserts the resulting note. The title falls
// back to the file stem when neither frontmatter nor an H1 provides one;
// created_at comes from frontmatter "created" when parseable, otherwise
// the file's modification time.
func (in *Ingestor) IndexFile(filePath string, data []byte, modTime time.Time) error {
	res, err := parser.Parse(filePath, data)
	if err != nil {
		return err
	}

	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(filePath), ".md")
	}

	return in.graph.UpsertNote(graph.Note{
		NoteID:      NoteID(filePath),
		Title:       title,
		FilePath:    filePath,
		Tags:        res.Tags,
		Links:       res.Links,
		Frontmatter: res.Frontmatter,
		Checksum:    checksum.Sum(data),
		CreatedAt:   createdAt(res.Frontmatter, modTime),
		UpdatedAt:   modTime,
	})
}

// Remove deletes the note derived from filePath from the graph.
func (in *Ingestor) Remove(filePath string) error {
	return in.graph.DeleteNote(NoteID(filePath))
}

// Sync walks the vault and brings the graph up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the graph
//
// A file is skipped when its content checksum matches the stored one.
func (in *Ingestor) Sync() error {
	metas, err := in.store.List("")
	if err != nil {
		return err
	}

	known, err := in.graph.AllFiles()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if stored, ok := known[m.Path]; ok && stored.Checksum == m.Checksum {
			continue
		}

		data, err := in.store.Read(m.Path)
		if err != nil {
			in.logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := in.IndexFile(m.Path, data, m.UpdatedAt); err != nil {
			in.logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			in.logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range known {
		if _, ok := disk[p]; !ok {
			if err := in.Remove(p); err != nil {
				in.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				in.logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// createdAt reads a "created" frontmatter field in a few common layouts.
func createdAt(fm map[string]any, fallback time.Time) time.Time {
	raw, ok := fm["created"].(string)
	if !ok {
		return fallback
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}
