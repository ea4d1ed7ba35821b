package db

import (
	"crypto/rand"
	"database/sql"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/hpungsan/hyperknow/internal/errors"
)

// KnowledgeLevel is what is known about the user for one category.
type KnowledgeLevel struct {
	Category    string `json:"category"`
	Level       string `json:"level"`
	Description string `json:"detailed_description,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Document is one reference document.
type Document struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	ContentChars int    `json:"content_chars"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// NormalizeText applies NFKC so stored text and search terms compare equal
// regardless of compatibility forms.
func NormalizeText(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeCategory lowercases and trims a category key.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(NormalizeText(category)))
}

// UpsertKnowledgeLevel inserts or replaces the level stored for a category.
func UpsertKnowledgeLevel(db *sql.DB, kl *KnowledgeLevel) error {
	key := NormalizeCategory(kl.Category)
	if key == "" {
		return errors.NewInvalidRequest("category is required")
	}
	if strings.TrimSpace(kl.Level) == "" {
		return errors.NewInvalidRequest("level is required")
	}
	kl.UpdatedAt = time.Now().Unix()

	query := `
		INSERT INTO knowledge_levels (category_norm, category, level, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category_norm) DO UPDATE SET
			category = excluded.category,
			level = excluded.level,
			description = excluded.description,
			updated_at = excluded.updated_at
	`
	if _, err := db.Exec(query, key, strings.TrimSpace(NormalizeText(kl.Category)), kl.Level, toNullString(kl.Description), kl.UpdatedAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetKnowledgeLevel finds the level for category. An exact (case-insensitive)
// match wins; otherwise the first stored category that contains, or is
// contained in, the requested one. found is false when nothing matches.
func GetKnowledgeLevel(db *sql.DB, category string) (kl *KnowledgeLevel, found bool, err error) {
	key := NormalizeCategory(category)
	if key == "" {
		return nil, false, nil
	}

	row := db.QueryRow(`
		SELECT category, level, description, updated_at
		FROM knowledge_levels WHERE category_norm = ?
	`, key)
	kl, err = scanKnowledgeLevel(row)
	if err == nil {
		return kl, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, errors.NewInternal(err)
	}

	levels, err := ListKnowledgeLevels(db)
	if err != nil {
		return nil, false, err
	}
	for i := range levels {
		stored := NormalizeCategory(levels[i].Category)
		if strings.Contains(stored, key) || strings.Contains(key, stored) {
			return &levels[i], true, nil
		}
	}
	return nil, false, nil
}

// ListKnowledgeLevels returns every stored level ordered by category.
func ListKnowledgeLevels(db *sql.DB) ([]KnowledgeLevel, error) {
	rows, err := db.Query(`
		SELECT category, level, description, updated_at
		FROM knowledge_levels ORDER BY category_norm
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []KnowledgeLevel
	for rows.Next() {
		kl, err := scanKnowledgeLevel(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *kl)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// UpsertDocument stores a document keyed by title. Re-importing a title
// replaces its content and keeps its ID.
func UpsertDocument(db *sql.DB, title, content string) (*Document, error) {
	title = strings.TrimSpace(NormalizeText(title))
	content = NormalizeText(content)
	if title == "" {
		return nil, errors.NewInvalidRequest("title is required")
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO documents (id, title, content, content_chars, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			content = excluded.content,
			content_chars = excluded.content_chars,
			updated_at = excluded.updated_at
	`
	if _, err := db.Exec(query, newID(), title, content, utf8.RuneCountInString(content), now, now); err != nil {
		return nil, errors.NewInternal(err)
	}

	docs, err := GetDocumentsByTitles(db, []string{title})
	if err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, errors.NewInternal(sql.ErrNoRows)
	}
	return &docs[0], nil
}

// GetDocumentsByTitles returns the documents with the given titles, in the
// order requested. Unknown titles are skipped.
func GetDocumentsByTitles(db *sql.DB, titles []string) ([]Document, error) {
	if len(titles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(titles)), ",")
	args := make([]any, len(titles))
	titles = slices.Clone(titles)
	for i, t := range titles {
		titles[i] = NormalizeText(t)
		args[i] = titles[i]
	}

	rows, err := db.Query(`
		SELECT id, title, content, content_chars, created_at, updated_at
		FROM documents WHERE title IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	byTitle := make(map[string]Document, len(titles))
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.ContentChars, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		byTitle[d.Title] = d
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	out := make([]Document, 0, len(byTitle))
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		if d, ok := byTitle[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// CountDocuments returns the number of stored documents.
func CountDocuments(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// SearchTitles returns titles of documents whose title or content matches any
// keyword, in insertion order. Keywords are split on whitespace. ASCII words go
// through the FTS index as prefix terms; words in scripts the tokenizer cannot
// split (CJK) fall back to a substring scan. Content is never returned.
func SearchTitles(db *sql.DB, keywords []string, limit int) ([]string, error) {
	var ftsTerms, likeTerms []string
	for _, kw := range keywords {
		for _, word := range strings.Fields(NormalizeText(kw)) {
			word = strings.Trim(strings.ReplaceAll(word, `"`, ""), "*")
			if !hasWordChar(word) {
				continue
			}
			if isASCII(word) {
				ftsTerms = append(ftsTerms, `"`+word+`"*`)
			} else {
				likeTerms = append(likeTerms, word)
			}
		}
	}
	titles := []string{}
	if len(ftsTerms) == 0 && len(likeTerms) == 0 {
		return titles, nil
	}

	var conds []string
	var args []any
	if len(ftsTerms) > 0 {
		conds = append(conds, "seq IN (SELECT rowid FROM documents_fts WHERE documents_fts MATCH ?)")
		args = append(args, strings.Join(ftsTerms, " OR "))
	}
	for _, term := range likeTerms {
		pattern := "%" + escapeLike(term) + "%"
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	query := "SELECT title FROM documents WHERE " + strings.Join(conds, " OR ") + " ORDER BY seq"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, errors.NewInternal(err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return titles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeLevel(row rowScanner) (*KnowledgeLevel, error) {
	var (
		kl          KnowledgeLevel
		description sql.NullString
	)
	if err := row.Scan(&kl.Category, &kl.Level, &description, &kl.UpdatedAt); err != nil {
		return nil, err
	}
	kl.Description = description.String
	return &kl, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func hasWordChar(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}
