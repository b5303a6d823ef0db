package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Note is a row in the notes table. Tags, Links, and Frontmatter are stored
// as JSON text. Links holds the raw authored targets; the resolved edges and
// pending rows derived from them live in note_links and unresolved_links.
// Checksum is the content hash of the backing file, used to skip unchanged
// files during sync.
type Note struct {
	NoteID      string
	Title       string
	FilePath    string
	Tags        []string
	Links       []string
	Frontmatter map[string]any
	Checksum    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertNote writes or replaces a note and rebuilds everything derived from
// it inside one transaction: tag rows, outgoing edges, and unresolved rows
// are replaced, never merged. Each authored link is re-resolved against the
// current set of notes, and pending links that now match this note's title
// are promoted to edges.
func (s *Store) UpsertNote(n Note) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(n.Tags)
	linksJSON, _ := json.Marshal(n.Links)
	fmJSON, _ := json.Marshal(n.Frontmatter)

	_, err = tx.Exec(`
		INSERT INTO notes (note_id, title, file_path, tags, links, frontmatter, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			title       = excluded.title,
			file_path   = excluded.file_path,
			tags        = excluded.tags,
			links       = excluded.links,
			frontmatter = excluded.frontmatter,
			checksum    = excluded.checksum,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at
	`, n.NoteID, n.Title, n.FilePath, string(tagsJSON), string(linksJSON), string(fmJSON), n.Checksum, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("graph: upsert note: %w", err)
	}

	// Rebuild tag rows wholesale.
	if _, err := tx.Exec(`DELETE FROM note_tags WHERE note_id = ?`, n.NoteID); err != nil {
		return fmt.Errorf("graph: delete tags: %w", err)
	}
	for _, tag := range n.Tags {
		norm := NormalizeTag(tag)
		if norm == "#" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO note_tags (tag, note_id) VALUES (?, ?)`, norm, n.NoteID); err != nil {
			return fmt.Errorf("graph: insert tag: %w", err)
		}
	}

	// Replace outgoing edges and pending rows, then re-resolve authored links.
	if _, err := tx.Exec(`DELETE FROM note_links WHERE source_note_id = ?`, n.NoteID); err != nil {
		return fmt.Errorf("graph: delete links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM unresolved_links WHERE source_note_id = ?`, n.NoteID); err != nil {
		return fmt.Errorf("graph: delete unresolved: %w", err)
	}

	refs, err := loadRefs(tx)
	if err != nil {
		return err
	}
	for _, link := range n.Links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		if targetID, ok := resolveLink(link, refs); ok {
			_, err = tx.Exec(`INSERT OR IGNORE INTO note_links (source_note_id, target_note_id, link_name) VALUES (?, ?, ?)`,
				n.NoteID, targetID, link)
		} else {
			_, err = tx.Exec(`INSERT OR IGNORE INTO unresolved_links (source_note_id, link_name) VALUES (?, ?)`,
				n.NoteID, link)
		}
		if err != nil {
			return fmt.Errorf("graph: insert link %q: %w", link, err)
		}
	}

	// This note may be the target other notes have been waiting for.
	if _, err := resolvePendingTx(tx, n.NoteID, n.Title); err != nil {
		return err
	}

	return tx.Commit()
}

// GetNote returns a note by id, or nil when it does not exist.
func (s *Store) GetNote(noteID string) (*Note, error) {
	row := s.conn.QueryRow(`
		SELECT note_id, title, file_path, tags, links, frontmatter, checksum, created_at, updated_at
		FROM notes WHERE note_id = ?`, noteID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// ListNotes returns all notes ordered most-recently-updated first.
func (s *Store) ListNotes() ([]Note, error) {
	return s.queryNotes(`
		SELECT note_id, title, file_path, tags, links, frontmatter, checksum, created_at, updated_at
		FROM notes ORDER BY updated_at DESC, note_id`)
}

// GetNotesByTag returns all notes carrying the tag, most recently updated
// first. The tag is normalized, so "foo" and "#foo" are equivalent.
func (s *Store) GetNotesByTag(tag string) ([]Note, error) {
	return s.queryNotes(`
		SELECT n.note_id, n.title, n.file_path, n.tags, n.links, n.frontmatter, n.checksum, n.created_at, n.updated_at
		FROM notes n
		JOIN note_tags t ON t.note_id = n.note_id
		WHERE t.tag = ?
		ORDER BY n.updated_at DESC, n.note_id`, NormalizeTag(tag))
}

// GetOutgoingLinks returns the notes the given note links to, ordered by title.
func (s *Store) GetOutgoingLinks(noteID string) ([]Note, error) {
	return s.queryNotes(`
		SELECT n.note_id, n.title, n.file_path, n.tags, n.links, n.frontmatter, n.checksum, n.created_at, n.updated_at
		FROM note_links l
		JOIN notes n ON n.note_id = l.target_note_id
		WHERE l.source_note_id = ?
		ORDER BY n.title, n.note_id`, noteID)
}

// GetBacklinks returns the notes that link to the given note, ordered by title.
func (s *Store) GetBacklinks(noteID string) ([]Note, error) {
	return s.queryNotes(`
		SELECT n.note_id, n.title, n.file_path, n.tags, n.links, n.frontmatter, n.checksum, n.created_at, n.updated_at
		FROM note_links l
		JOIN notes n ON n.note_id = l.source_note_id
		WHERE l.target_note_id = ?
		ORDER BY n.title, n.note_id`, noteID)
}

// ResolvePending promotes unresolved links that match the given note's title
// to resolved edges and returns the number promoted.
func (s *Store) ResolvePending(noteID, title string) (int, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	n, err := resolvePendingTx(tx, noteID, title)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteNote removes the note row, its tag rows, and its outgoing edges and
// pending rows. Incoming edges are demoted to unresolved links keyed by their
// stored link name, so the inverse of resolution runs on delete and no edge
// ever dangles.
func (s *Store) DeleteNote(noteID string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Demote incoming edges before dropping them.
	rows, err := tx.Query(`SELECT source_note_id, link_name FROM note_links WHERE target_note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("graph: select incoming: %w", err)
	}
	type incoming struct{ source, name string }
	var in []incoming
	for rows.Next() {
		var e incoming
		if err := rows.Scan(&e.source, &e.name); err != nil {
			rows.Close()
			return err
		}
		in = append(in, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, e := range in {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO unresolved_links (source_note_id, link_name) VALUES (?, ?)`, e.source, e.name); err != nil {
			return fmt.Errorf("graph: demote edge: %w", err)
		}
	}

	_, _ = tx.Exec(`DELETE FROM note_links WHERE source_note_id = ? OR target_note_id = ?`, noteID, noteID)
	_, _ = tx.Exec(`DELETE FROM unresolved_links WHERE source_note_id = ?`, noteID)
	_, _ = tx.Exec(`DELETE FROM note_tags WHERE note_id = ?`, noteID)
	_, _ = tx.Exec(`DELETE FROM notes WHERE note_id = ?`, noteID)

	return tx.Commit()
}

// Edge is one resolved link edge.
type Edge struct {
	Source   string
	Target   string
	LinkName string
}

// AllEdges returns every resolved edge, ordered by source then target.
func (s *Store) AllEdges() ([]Edge, error) {
	rows, err := s.conn.Query(`SELECT source_note_id, target_note_id, link_name FROM note_links ORDER BY source_note_id, target_note_id`)
	if err != nil {
		return nil, fmt.Errorf("graph: all edges: %w", err)
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.LinkName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Unresolved returns the pending link names authored by the given note.
func (s *Store) Unresolved(sourceID string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT link_name FROM unresolved_links WHERE source_note_id = ? ORDER BY link_name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("graph: unresolved: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// FileState is what sync needs to know about an indexed file.
type FileState struct {
	UpdatedAt time.Time
	Checksum  string
}

// AllFiles returns file_path -> stored state for every indexed note.
// Used by vault sync to skip unchanged files.
func (s *Store) AllFiles() (map[string]FileState, error) {
	rows, err := s.conn.Query(`SELECT file_path, updated_at, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("graph: all files: %w", err)
	}
	defer rows.Close()
	out := make(map[string]FileState)
	for rows.Next() {
		var p string
		var st FileState
		if err := rows.Scan(&p, &st.UpdatedAt, &st.Checksum); err != nil {
			return nil, err
		}
		out[p] = st
	}
	return out, rows.Err()
}

// NormalizeTag trims whitespace and ensures the canonical "#" prefix.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

func (s *Store) queryNotes(query string, args ...any) ([]Note, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(sc scanner) (*Note, error) {
	var n Note
	var tagsJSON, linksJSON, fmJSON string
	if err := sc.Scan(&n.NoteID, &n.Title, &n.FilePath, &tagsJSON, &linksJSON, &fmJSON, &n.Checksum, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
	_ = json.Unmarshal([]byte(linksJSON), &n.Links)
	_ = json.Unmarshal([]byte(fmJSON), &n.Frontmatter)
	return &n, nil
}
