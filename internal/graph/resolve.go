package graph

import (
	"database/sql"
	"fmt"
	"path"
	"strings"
)

// NoteRef is the slice of a note the link matchers operate on.
type NoteRef struct {
	NoteID   string
	Title    string
	FilePath string
}

// A matcher inspects one candidate note for a raw link text and reports
// whether it is the link's target.
type matcher func(link string, ref NoteRef) bool

// matchers are tried in priority order against every note; the first matcher
// that hits any note wins. The containment scans are deliberately last: they
// are the loosest and the most expensive.
var matchers = []matcher{
	matchExactTitle,
	matchPathStem,
	matchTitleContains,
	matchContainedInLink,
}

// resolveLink finds the target note for a raw authored link text.
func resolveLink(link string, refs []NoteRef) (string, bool) {
	for _, m := range matchers {
		for _, ref := range refs {
			if m(link, ref) {
				return ref.NoteID, true
			}
		}
	}
	return "", false
}

// matchExactTitle: exact, case-insensitive title match.
func matchExactTitle(link string, ref NoteRef) bool {
	return ref.Title != "" && strings.EqualFold(ref.Title, link)
}

// matchPathStem: the note's file path ends with "<link>.<ext>".
func matchPathStem(link string, ref NoteRef) bool {
	p := strings.ReplaceAll(ref.FilePath, "\\", "/")
	ext := path.Ext(p)
	if ext == "" {
		return false
	}
	stem := strings.TrimSuffix(p, ext)
	return stem == link || strings.HasSuffix(stem, "/"+link)
}

// matchTitleContains: some note's title contains the link text.
func matchTitleContains(link string, ref NoteRef) bool {
	return ref.Title != "" && strings.Contains(ref.Title, link)
}

// matchContainedInLink: the link text contains the note's title.
func matchContainedInLink(link string, ref NoteRef) bool {
	return ref.Title != "" && strings.Contains(link, ref.Title)
}

// pendingMatches reports whether an unresolved link text is satisfied by a
// newly available note title: equal (case-insensitive), containing, or
// contained in it.
func pendingMatches(linkName, title string) bool {
	if title == "" {
		return false
	}
	return strings.EqualFold(linkName, title) ||
		strings.Contains(linkName, title) ||
		strings.Contains(title, linkName)
}

// resolvePendingTx sweeps all unresolved rows and promotes those matching the
// new note's title to resolved edges. Returns the number promoted.
func resolvePendingTx(tx *sql.Tx, noteID, title string) (int, error) {
	rows, err := tx.Query(`SELECT source_note_id, link_name FROM unresolved_links`)
	if err != nil {
		return 0, fmt.Errorf("graph: scan unresolved: %w", err)
	}
	type pending struct{ source, name string }
	var promote []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.source, &p.name); err != nil {
			rows.Close()
			return 0, err
		}
		if p.source != noteID && pendingMatches(p.name, title) {
			promote = append(promote, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, p := range promote {
		res, err := tx.Exec(`INSERT OR IGNORE INTO note_links (source_note_id, target_note_id, link_name) VALUES (?, ?, ?)`,
			p.source, noteID, p.name)
		if err != nil {
			return count, fmt.Errorf("graph: promote link: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM unresolved_links WHERE source_note_id = ? AND link_name = ?`, p.source, p.name); err != nil {
			return count, fmt.Errorf("graph: remove promoted: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}
	return count, nil
}

// loadRefs snapshots (id, title, path) for every note in the transaction.
func loadRefs(tx *sql.Tx) ([]NoteRef, error) {
	rows, err := tx.Query(`SELECT note_id, title, file_path FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("graph: load refs: %w", err)
	}
	defer rows.Close()
	var refs []NoteRef
	for rows.Next() {
		var r NoteRef
		if err := rows.Scan(&r.NoteID, &r.Title, &r.FilePath); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
