package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/hyperknow/internal/accumulator"
	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/director"
	"github.com/hpungsan/hyperknow/internal/errors"
	"github.com/hpungsan/hyperknow/internal/llm"
	"github.com/hpungsan/hyperknow/internal/planner"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seed(t *testing.T, conn *sql.DB) {
	t.Helper()
	require.NoError(t, db.UpsertKnowledgeLevel(conn, &db.KnowledgeLevel{
		Category:    "Astronomy",
		Level:       "beginner",
		Description: "Knows the planets by name.",
	}))
	for _, d := range []struct{ title, content string }{
		{"Sun.pdf", "The Sun is the star at the center of the solar system. Astronomy basics."},
		{"Orbits.pdf", "Kepler's laws describe planetary orbits in astronomy."},
		{"Limits.pdf", "Calculus begins with limits and continuity."},
	} {
		_, err := db.UpsertDocument(conn, d.title, d.content)
		require.NoError(t, err)
	}
}

// recordingProvider captures every prompt it is asked to answer.
type recordingProvider struct {
	mu      sync.Mutex
	prompts []string
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	n := len(p.prompts)
	p.mu.Unlock()
	text := fmt.Sprintf("answer %d", n)
	if req.OnDelta != nil {
		req.OnDelta(text)
	}
	return text, nil
}

func (p *recordingProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func TestProfileLookup(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	c := NewProfileLookup(conn)

	out, err := c.Invoke(context.Background(), capability.Args{"category": "astro"})
	require.NoError(t, err)
	assert.Equal(t, "beginner", out["level"])
	assert.Equal(t, true, out["found"])

	digest := c.(capability.Digester).Digest(capability.Args{"category": "astro"}, out)
	assert.Equal(t, "Astronomy: beginner", digest.Summary)
	assert.Equal(t, "Knows the planets by name.", digest.Facts["description"])
}

func TestProfileLookup_Miss(t *testing.T) {
	conn := openDB(t)
	c := NewProfileLookup(conn)

	out, err := c.Invoke(context.Background(), capability.Args{"category": "biology"})
	require.NoError(t, err)
	assert.Equal(t, UnknownLevel, out["level"])
	assert.Equal(t, false, out["found"])

	digest := c.(capability.Digester).Digest(capability.Args{"category": "biology"}, out)
	assert.Equal(t, "biology: "+NoMemoryMessage, digest.Summary)
}

func TestProfileLookup_MissingCategory(t *testing.T) {
	c := NewProfileLookup(openDB(t))
	_, err := c.Invoke(context.Background(), capability.Args{})
	assert.ErrorContains(t, err, "missing required fields: category")
}

func TestTitleSearch(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)

	tests := []struct {
		name  string
		limit int
		args  capability.Args
		want  []any
	}{
		{"all matches", 20, capability.Args{"keywords": []string{"astronomy"}}, []any{"Sun.pdf", "Orbits.pdf"}},
		{"configured limit", 1, capability.Args{"keywords": []string{"astronomy"}}, []any{"Sun.pdf"}},
		{"call limit below configured", 20, capability.Args{"keywords": []string{"astronomy"}, "limit": 1}, []any{"Sun.pdf"}},
		{"no match", 20, capability.Args{"keywords": []string{"chemistry"}}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewTitleSearch(conn, tt.limit).Invoke(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["titles"])
			assert.EqualValues(t, len(tt.want), out["count"])
		})
	}
}

func TestSlotRules(t *testing.T) {
	acc := accumulator.New(SlotRules(), nil)

	_, err := acc.Record(accumulator.Finding{
		Source: capability.ProfileLookup,
		Facts:  map[string]any{"level": "beginner", "description": "Knows the planets by name."},
	})
	require.NoError(t, err)
	_, err = acc.Record(accumulator.Finding{
		Source: capability.TitleSearch,
		Facts:  map[string]any{"titles": []string{"Sun.pdf"}, "keywords": []string{"astronomy"}},
	})
	require.NoError(t, err)

	snap := acc.Snapshot()
	level, ok := snap.Slot(SlotUserLevel)
	require.True(t, ok)
	assert.True(t, level.Required)
	assert.Equal(t, accumulator.High, level.Priority)

	titles, ok := snap.Slot(SlotAvailableTitles)
	require.True(t, ok)
	assert.True(t, titles.Reducible)

	_, ok = snap.Slot(SlotUserContext)
	assert.True(t, ok)
	_, ok = snap.Slot(SlotSearchKeywords)
	assert.True(t, ok)
}

func TestSlotRules_UnknownProfileHasNoUserContext(t *testing.T) {
	acc := accumulator.New(SlotRules(), nil)
	_, err := acc.Record(accumulator.Finding{
		Source: capability.ProfileLookup,
		Facts:  map[string]any{"level": UnknownLevel, "description": NoMemoryMessage},
	})
	require.NoError(t, err)

	_, ok := acc.Snapshot().Slot(SlotUserContext)
	assert.False(t, ok)
}

func TestGenerator_FlatPromptAndStream(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	g := NewGenerator(conn, llm.Echo{}, nil, 8, nil)

	var buf bytes.Buffer
	ctx := WithStream(context.Background(), &buf)
	out, err := g.Capability().Invoke(ctx, capability.Args{
		"instruction": "Summarize the files.",
		"context": map[string]any{
			SlotUserLevel:       "beginner",
			SlotUserContext:     "Knows the planets by name.",
			SlotAvailableTitles: []any{"Sun.pdf", "Missing.pdf"},
		},
		"budget_hint": 2,
	})
	require.NoError(t, err)

	text := out["text"].(string)
	assert.Equal(t, text, buf.String())
	assert.Contains(t, text, "[User Context]\nLevel: beginner. Knows the planets by name.")
	assert.Contains(t, text, "--- File: Sun.pdf ---\nThe Sun is the star")
	assert.NotContains(t, text, "Missing.pdf")
	assert.Contains(t, text, "[Instruction]\nSummarize the files.")
	assert.EqualValues(t, 0, out["nested_calls"])
}

func TestGenerator_ReducedTitles(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	g := NewGenerator(conn, llm.Echo{}, nil, 8, nil)

	res, err := g.Generate(context.Background(), capability.GenerateInput{
		Instruction: "Explain orbits.",
		Context: map[string]any{
			SlotAvailableTitles: map[string]any{"count": float64(40), "sample": []any{"Orbits.pdf"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "--- File: Orbits.pdf ---")
	assert.Contains(t, res.Text, "No information about the user's level.")
}

func TestGenerator_NoMaterials(t *testing.T) {
	g := NewGenerator(openDB(t), llm.Echo{}, nil, 8, nil)
	res, err := g.Generate(context.Background(), capability.GenerateInput{Instruction: "Explain orbits."})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "No reference materials were found.")
}

func TestGenerator_EmptyInstruction(t *testing.T) {
	g := NewGenerator(openDB(t), llm.Echo{}, nil, 8, nil)
	_, err := g.Generate(context.Background(), capability.GenerateInput{Instruction: "  "})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func seedMany(t *testing.T, conn *sql.DB, n int) []string {
	t.Helper()
	titles := make([]string, n)
	for i := range n {
		titles[i] = fmt.Sprintf("Chapter%02d.md", i)
		_, err := db.UpsertDocument(conn, titles[i], fmt.Sprintf("content of chapter %d", i))
		require.NoError(t, err)
	}
	return titles
}

func TestGenerator_NestedChunks(t *testing.T) {
	conn := openDB(t)
	titles := seedMany(t, conn, 5)
	provider := &recordingProvider{}

	cfg := config.DefaultConfig()
	cfg.GenerationChunk = 2
	reg, err := NewRegistry(conn, provider, cfg, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	out, err := reg.Invoke(WithStream(context.Background(), &buf), capability.Generate, capability.Args{
		"instruction": "Summarize the book.",
		"titles":      titles,
		"budget_hint": 1,
	})
	require.NoError(t, err)

	prompts := provider.Prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[0], "Chapter00.md")
	assert.Contains(t, prompts[0], "Chapter01.md")
	assert.NotContains(t, prompts[0], "Chapter02.md")
	assert.Contains(t, prompts[2], "Chapter04.md")

	combine := prompts[3]
	assert.Contains(t, combine, "--- Partial answer 1 ---\nanswer 1")
	assert.Contains(t, combine, "--- Partial answer 3 ---\nanswer 3")
	assert.NotContains(t, combine, "--- File:")

	assert.Equal(t, "answer 4", out["text"])
	assert.EqualValues(t, 4, out["nested_calls"])
	// Only the combining call streams.
	assert.Equal(t, "answer 4", buf.String())
}

func TestGenerator_NestingStopsAtZeroBudget(t *testing.T) {
	conn := openDB(t)
	titles := seedMany(t, conn, 5)
	provider := &recordingProvider{}

	cfg := config.DefaultConfig()
	cfg.GenerationChunk = 2
	reg, err := NewRegistry(conn, provider, cfg, nil)
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), capability.Generate, capability.Args{
		"instruction": "Summarize the book.",
		"titles":      titles,
		"budget_hint": 0,
	})
	require.NoError(t, err)

	require.Len(t, provider.Prompts(), 1)
	assert.Contains(t, provider.Prompts()[0], "Chapter04.md")
	assert.EqualValues(t, 0, out["nested_calls"])
}

func TestGenerator_DeepNesting(t *testing.T) {
	conn := openDB(t)
	titles := seedMany(t, conn, 9)
	provider := &recordingProvider{}

	cfg := config.DefaultConfig()
	cfg.GenerationChunk = 2
	reg, err := NewRegistry(conn, provider, cfg, nil)
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), capability.Generate, capability.Args{
		"instruction": "Summarize the book.",
		"titles":      titles,
		"budget_hint": 2,
	})
	require.NoError(t, err)

	// Five chunks of at most two titles answer directly; the combining call
	// sees five partial answers, no titles, and so does not split again.
	assert.Len(t, provider.Prompts(), 6)
	assert.EqualValues(t, 6, out["nested_calls"])
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(openDB(t), nil, config.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())
	assert.Less(t, reg.Order(capability.ProfileLookup), reg.Order(capability.TitleSearch))
	assert.Less(t, reg.Order(capability.TitleSearch), reg.Order(capability.Generate))

	var cheap []string
	for d := range reg.ListByCost(capability.Moderate) {
		cheap = append(cheap, d.Name)
	}
	assert.Equal(t, []string{capability.ProfileLookup, capability.TitleSearch}, cheap)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestImportMemory(t *testing.T) {
	conn := openDB(t)
	path := writeFile(t, "memory.json", `{
		"knowledge_levels": {
			"astronomy": {"level": "beginner", "detailed_description": "Knows the planets."},
			"calculus": {"level": "advanced", "detailed_description": "Comfortable with integrals."}
		}
	}`)

	n, err := ImportMemory(conn, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kl, found, err := db.GetKnowledgeLevel(conn, "Calculus")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "advanced", kl.Level)
	assert.Equal(t, "Comfortable with integrals.", kl.Description)
}

func TestImportMemory_Invalid(t *testing.T) {
	conn := openDB(t)

	_, err := ImportMemory(conn, writeFile(t, "bad.json", `{not json`))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = ImportMemory(conn, writeFile(t, "empty.json", `{}`))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = ImportMemory(conn, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "file not found")
}

func TestCheckImportPath(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, "memory.json", `{"knowledge_levels": {}}`)
	link := filepath.Join(dir, "link.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"ok", target, ""},
		{"empty", "", "path is required"},
		{"traversal", "../memory.json", "directory traversal"},
		{"extension", filepath.Join(dir, "memory.yaml"), ".json extension"},
		{"symlink", link, "must not be a symlink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkImportPath(tt.path)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestImportFiles(t *testing.T) {
	conn := openDB(t)
	path := writeFile(t, "file_metadata.json", `{
		"Sun.pdf": {"content": "The Sun is a star."},
		"天文学导论.pdf": {"content": "本学期天文课程的内容概览。"}
	}`)

	n, err := ImportFiles(conn, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := db.CountDocuments(conn)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	titles, err := db.SearchTitles(conn, []string{"天文"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"天文学导论.pdf"}, titles)

	// Re-import replaces content without duplicating.
	_, err = ImportFiles(conn, writeFile(t, "again.json", `{"Sun.pdf": {"content": "Updated."}}`))
	require.NoError(t, err)
	docs, err := db.GetDocumentsByTitles(conn, []string{"Sun.pdf"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Updated.", docs[0].Content)
}

// newDirector wires the built-in capabilities into a Director the way the
// binary does.
func newDirector(t *testing.T, conn *sql.DB, cfg *config.Config) *director.Director {
	t.Helper()
	reg, err := NewRegistry(conn, llm.Echo{}, cfg, nil)
	require.NoError(t, err)
	pl, err := planner.New(reg, planner.DefaultGraph(), planner.Options{
		MaxRounds:   cfg.MaxRounds,
		EmptyTitles: cfg.EmptyTitles,
		Topics:      cfg.Topics,
	})
	require.NoError(t, err)
	opts, err := director.OptionsFromConfig(cfg, SlotRules(), nil)
	require.NoError(t, err)
	return director.New(reg, pl, opts)
}

func TestDirectorEndToEnd(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	cfg := config.DefaultConfig()

	d := newDirector(t, conn, cfg)

	var buf bytes.Buffer
	res, err := d.Run(WithStream(context.Background(), &buf), "Summarize my astronomy files")
	require.NoError(t, err)

	assert.Equal(t, director.Completed, res.State)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, res.Answer, buf.String())
	assert.True(t, strings.HasPrefix(res.Answer, "[echo] "))
	assert.Contains(t, res.Answer, "Level: beginner. Knows the planets by name.")
	assert.Contains(t, res.Answer, "--- File: Sun.pdf ---")
	assert.Contains(t, res.Answer, "--- File: Orbits.pdf ---")
	assert.NotContains(t, res.Answer, "Limits.pdf")

	require.NotNil(t, res.Payload)
	assert.Equal(t, cfg.GenerationDepth, res.Payload.BudgetHint)
	// The payload carries titles, never document content.
	assert.NotContains(t, fmt.Sprint(res.Payload.Context), "Kepler")
}

func TestDirectorEndToEnd_NoSourcesPolicy(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	cfg := config.DefaultConfig()
	cfg.EmptyTitles = config.EmptyTitlesFail


	res, err := newDirector(t, conn, cfg).Run(context.Background(), "find files about chemistry")
	assert.True(t, errors.Is(err, errors.ErrNoSources))
	assert.Equal(t, director.Failed, res.State)
}

func TestDirectorEndToEnd_CompatibilityFormQuery(t *testing.T) {
	conn := openDB(t)
	seed(t, conn)
	_, err := db.UpsertDocument(conn, "天文学导论.pdf", "本学期天文课程的内容概览。")
	require.NoError(t, err)

	// ⽂ is U+2F42 KANGXI RADICAL SCRIPT, not 文.
	res, err := newDirector(t, conn, config.DefaultConfig()).Run(context.Background(), "给我总结这学期天⽂课上的所有内容")
	require.NoError(t, err)

	assert.Equal(t, "summarize", res.Intent.Category)
	assert.Equal(t, "astronomy", res.Intent.Topic)
	assert.Contains(t, res.Answer, "--- File: Sun.pdf ---")
	assert.Contains(t, res.Answer, "--- File: Orbits.pdf ---")
	assert.NotContains(t, res.Answer, "No reference materials were found.")
}

func TestDirectorEndToEnd_TitleSearchRetryCeiling(t *testing.T) {
	tests := []struct {
		ceiling     string
		wantRetries int
	}{
		{"", 0},
		{"cheap", 0},
		{"moderate", 2},
	}
	for _, tt := range tests {
		t.Run("ceiling="+tt.ceiling, func(t *testing.T) {
			conn := openDB(t)
			seed(t, conn)
			// Every title search now fails inside SQLite.
			_, err := conn.Exec("DROP TABLE documents_fts")
			require.NoError(t, err)

			cfg := config.DefaultConfig()
			cfg.CheapRetries = 2
			cfg.RetryCostCeiling = tt.ceiling

			res, err := newDirector(t, conn, cfg).Run(context.Background(), "Summarize my astronomy files")
			assert.True(t, errors.Is(err, errors.ErrCapabilityError), "err = %v", err)
			assert.Equal(t, director.Failed, res.State)
			assert.Equal(t, tt.wantRetries, res.Retries[capability.TitleSearch])
			assert.Zero(t, res.Retries[capability.ProfileLookup])
		})
	}
}
