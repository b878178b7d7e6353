// Package docs looks up local documentation excerpts relevant to an error.
package docs

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// Lookup returns documentation context for an error signal. An empty string
// with a nil error means nothing relevant was found.
type Lookup interface {
	LookupDocs(ctx context.Context, errorSignal string) (string, error)
}

// None is a Lookup that never finds anything.
type None struct{}

func (None) LookupDocs(context.Context, string) (string, error) { return "", nil }

var (
	wordRegex      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)
	errorLineRegex = regexp.MustCompile(`(?m)^\s*([A-Za-z_.]*(?:Error|Exception|Warning))\b:?(.*)$`)
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "not": true, "file": true,
	"line": true, "most": true, "recent": true, "call": true, "last": true,
	"traceback": true, "self": true, "none": true, "true": true, "false": true,
	"cell": true, "module": true, "return": true, "from": true, "import": true,
}

// sections is an FTS5 table; underscores stay inside tokens so identifiers
// like log_wage match whole, while dots split qualified names.
const schema = `
CREATE VIRTUAL TABLE sections USING fts5(
    source UNINDEXED,
    title,
    body,
    tokenize = "unicode61 tokenchars '_'"
);
`

// title matches weigh more than body matches
const rankExpr = `bm25(sections, 0.0, 4.0, 1.0)`

const maxHits = 20

// Index is a full-text index over a directory of text/markdown docs, kept in
// an in-memory SQLite database. Files are split into sections on markdown
// headings.
type Index struct {
	db         *sql.DB
	maxExcerpt int
}

// NewIndex loads every .md, .txt and .rst file under dir.
func NewIndex(dir string, maxExcerpt int) (*Index, error) {
	if maxExcerpt <= 0 {
		maxExcerpt = 4000
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// every connection would get its own empty ":memory:" database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documentation index: %w", err)
	}
	idx := &Index{db: db, maxExcerpt: maxExcerpt}
	if dir == "" {
		return idx, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt", ".rst":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		return idx.Add(rel, string(data))
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the index.
func (x *Index) Close() error {
	return x.db.Close()
}

type section struct {
	source string
	title  string
	body   string
}

// Add indexes one document.
func (x *Index) Add(source, content string) error {
	var secs []section
	cur := section{source: source}
	var body strings.Builder
	flush := func() {
		cur.body = strings.TrimSpace(body.String())
		if cur.body != "" || cur.title != "" {
			secs = append(secs, cur)
		}
		body.Reset()
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			cur = section{source: source, title: strings.TrimSpace(strings.TrimLeft(line, "#"))}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, s := range secs {
		if _, err := tx.Exec(`INSERT INTO sections (source, title, body) VALUES (?, ?, ?)`, s.source, s.title, s.body); err != nil {
			return fmt.Errorf("indexing %s: %w", source, err)
		}
	}
	return tx.Commit()
}

// Len returns the number of indexed sections.
func (x *Index) Len() int {
	var n int
	if err := x.db.QueryRow(`SELECT count(*) FROM sections`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// LookupDocs returns the sections best matching the error signal. Sections
// naming the exception class come first, then the rest in bm25 order.
func (x *Index) LookupDocs(ctx context.Context, errorSignal string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var exceptions []string
	for _, m := range errorLineRegex.FindAllStringSubmatch(errorSignal, -1) {
		name := m[1]
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		exceptions = append(exceptions, terms(name)...)
	}

	seen := make(map[int64]bool)
	var hits []section
	for _, q := range [][]string{exceptions, terms(errorSignal)} {
		found, err := x.search(ctx, q, seen)
		if err != nil {
			return "", err
		}
		hits = append(hits, found...)
	}

	var out strings.Builder
	for _, s := range hits {
		chunk := "### " + s.source
		if s.title != "" {
			chunk += " > " + s.title
		}
		chunk += "\n" + s.body + "\n\n"
		if out.Len()+len(chunk) > x.maxExcerpt {
			if out.Len() == 0 {
				out.WriteString(chunk[:x.maxExcerpt])
			}
			break
		}
		out.WriteString(chunk)
	}
	return strings.TrimSpace(out.String()), nil
}

// search runs an OR query over words, skipping rows already in seen.
func (x *Index) search(ctx context.Context, words []string, seen map[int64]bool) ([]section, error) {
	if len(words) == 0 {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT rowid, source, title, body FROM sections WHERE sections MATCH ? ORDER BY `+rankExpr+` LIMIT ?`,
		matchQuery(words), maxHits)
	if err != nil {
		return nil, fmt.Errorf("searching documentation: %w", err)
	}
	defer rows.Close()

	var out []section
	for rows.Next() {
		var id int64
		var s section
		if err := rows.Scan(&id, &s.source, &s.title, &s.body); err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, s)
	}
	return out, rows.Err()
}

// matchQuery quotes every word so FTS5 operators in error text stay literal.
func matchQuery(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// terms returns the distinct lowercased words of text worth searching for.
func terms(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range wordRegex.FindAllString(text, -1) {
		w = strings.ToLower(w)
		if stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
