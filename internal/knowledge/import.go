package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/errors"
)

// memoryFile is the shape of memory.json.
type memoryFile struct {
	KnowledgeLevels map[string]struct {
		Level       string `json:"level"`
		Description string `json:"detailed_description"`
	} `json:"knowledge_levels"`
}

// fileEntry is one value of file_metadata.json, keyed by title.
type fileEntry struct {
	Content string `json:"content"`
}

// ImportMemory loads knowledge levels from a memory.json file and returns
// the number of categories written. Existing categories are overwritten.
func ImportMemory(conn *sql.DB, path string) (int, error) {
	var mf memoryFile
	if err := readJSON(path, &mf); err != nil {
		return 0, err
	}
	if mf.KnowledgeLevels == nil {
		return 0, errors.NewInvalidRequest("memory file has no knowledge_levels object")
	}

	n := 0
	for _, category := range slices.Sorted(maps.Keys(mf.KnowledgeLevels)) {
		v := mf.KnowledgeLevels[category]
		err := db.UpsertKnowledgeLevel(conn, &db.KnowledgeLevel{
			Category:    category,
			Level:       v.Level,
			Description: v.Description,
		})
		if err != nil {
			return n, fmt.Errorf("category %q: %w", category, err)
		}
		n++
	}
	return n, nil
}

// ImportFiles loads documents from a file_metadata.json file and returns the
// number of documents written. A title already present has its content replaced.
func ImportFiles(conn *sql.DB, path string) (int, error) {
	var files map[string]fileEntry
	if err := readJSON(path, &files); err != nil {
		return 0, err
	}

	n := 0
	for _, title := range slices.Sorted(maps.Keys(files)) {
		if _, err := db.UpsertDocument(conn, title, files[title].Content); err != nil {
			return n, fmt.Errorf("document %q: %w", title, err)
		}
		n++
	}
	return n, nil
}

// MaxImportBytes caps the size of an import file.
const MaxImportBytes = 64 << 20

// checkImportPath rejects traversal, non-.json files and symlinks.
func checkImportPath(path string) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return errors.NewInvalidRequest("path must not contain directory traversal (..)")
		}
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return errors.NewInvalidRequest("path must have .json extension")
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

func readJSON(path string, v any) error {
	if err := checkImportPath(path); err != nil {
		return err
	}
	f, err := openNoFollow(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImportBytes+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxImportBytes {
		return errors.NewInvalidRequest(fmt.Sprintf("%s exceeds %d bytes", path, MaxImportBytes))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("parse %s: %v", path, err))
	}
	return nil
}
