package ingest

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/storage"
)

func testIngestor(t *testing.T) (*Ingestor, *graph.Store, string) {
	t.Helper()
	g, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("graph.Open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	vault := t.TempDir()
	fs, err := storage.NewFS(vault)
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	return New(g, fs, logger), g, vault
}

func writeVaultFile(t *testing.T, vault, rel, content string) {
	t.Helper()
	p := filepath.Join(vault, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNoteID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"note.md", "note"},
		{"sub/dir/note.md", "sub/dir/note"},
		{"no-extension", "no-extension"},
	}
	for _, tc := range cases {
		if got := NoteID(tc.in); got != tc.want {
			t.Errorf("NoteID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIndexFile_TitleSources(t *testing.T) {
	in, g, _ := testIngestor(t)
	mod := time.Now()

	cases := []struct {
		name, path, content, wantTitle string
	}{
		{"frontmatter", "a.md", "---\ntitle: From FM\n---\n# Heading\n", "From FM"},
		{"h1", "b.md", "# From Heading\nbody\n", "From Heading"},
		{"stem fallback", "sub/plain-note.md", "no headings here\n", "plain-note"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := in.IndexFile(tc.path, []byte(tc.content), mod); err != nil {
				t.Fatalf("IndexFile: %v", err)
			}
			n, err := g.GetNote(NoteID(tc.path))
			if err != nil || n == nil {
				t.Fatalf("GetNote: %v, %v", n, err)
			}
			if n.Title != tc.wantTitle {
				t.Errorf("title = %q, want %q", n.Title, tc.wantTitle)
			}
		})
	}
}

func TestIndexFile_CreatedFromFrontmatter(t *testing.T) {
	in, g, _ := testIngestor(t)
	mod := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	content := "---\ntitle: Dated\ncreated: 2024-03-15\n---\nbody\n"
	if err := in.IndexFile("dated.md", []byte(content), mod); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	n, _ := g.GetNote("dated")
	if n == nil {
		t.Fatal("note missing")
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !n.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", n.CreatedAt, want)
	}
	if !n.UpdatedAt.Equal(mod) {
		t.Errorf("updated_at = %v, want mod time", n.UpdatedAt)
	}
}

func TestIndexFile_ResolvesLinks(t *testing.T) {
	in, g, _ := testIngestor(t)
	mod := time.Now()

	_ = in.IndexFile("target.md", []byte("# Target\n"), mod)
	_ = in.IndexFile("source.md", []byte("# Source\nsee [[Target]]\n"), mod)

	out, err := g.GetOutgoingLinks("source")
	if err != nil {
		t.Fatalf("GetOutgoingLinks: %v", err)
	}
	if len(out) != 1 || out[0].NoteID != "target" {
		t.Errorf("outgoing = %+v, want [target]", out)
	}
}

func TestSync_IndexesNewFiles(t *testing.T) {
	in, g, vault := testIngestor(t)
	writeVaultFile(t, vault, "one.md", "# One\n#tagged\n")
	writeVaultFile(t, vault, "sub/two.md", "# Two\nsee [[One]]\n")
	writeVaultFile(t, vault, "not-markdown.txt", "skip me")

	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	notes, err := g.ListNotes()
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(notes))
	}
	back, _ := g.GetBacklinks("one")
	if len(back) != 1 || back[0].NoteID != "sub/two" {
		t.Errorf("backlinks of one = %+v", back)
	}
}

func TestSync_RemovesStaleEntries(t *testing.T) {
	in, g, vault := testIngestor(t)
	writeVaultFile(t, vault, "keep.md", "# Keep\n")
	writeVaultFile(t, vault, "gone.md", "# Gone\n")
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := os.Remove(filepath.Join(vault, "gone.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if n, _ := g.GetNote("gone"); n != nil {
		t.Error("stale note survived sync")
	}
	if n, _ := g.GetNote("keep"); n == nil {
		t.Error("live note removed by sync")
	}
}

func TestSync_PicksUpModifiedFiles(t *testing.T) {
	in, g, vault := testIngestor(t)
	writeVaultFile(t, vault, "note.md", "# Old Title\n")
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	writeVaultFile(t, vault, "note.md", "# New Title\n")
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	n, _ := g.GetNote("note")
	if n == nil || n.Title != "New Title" {
		t.Errorf("note = %+v, want updated title", n)
	}
}

func TestSync_SkipsUnchangedFiles(t *testing.T) {
	in, g, vault := testIngestor(t)
	writeVaultFile(t, vault, "same.md", "# Same\n")
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	before, _ := g.GetNote("same")

	// Touch the mtime without changing content; the checksum still matches.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(vault, "same.md"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := in.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	after, _ := g.GetNote("same")
	if before == nil || after == nil {
		t.Fatal("note missing")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("updated_at changed on unchanged content: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}
