package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/errors"
)

const memoryJSON = `{
  "knowledge_levels": {
    "astronomy": {"level": "beginner", "detailed_description": "Knows the planets by name."}
  }
}`

const filesJSON = `{
  "Sun.pdf": {"content": "The Sun is the star at the center of the solar system. Astronomy basics."},
  "Orbits.pdf": {"content": "Kepler's laws describe planetary orbits in astronomy."},
  "Limits.pdf": {"content": "Calculus begins with limits."}
}`

// setupEnv creates a temporary store and an environment over it.
func setupEnv(t *testing.T) *appEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger, err := newLogger("error", &bytes.Buffer{})
	require.NoError(t, err)
	return &appEnv{db: database, cfg: config.DefaultConfig(), log: logger}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, env *appEnv, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newCLIApp(env)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"hyperknow"}, args...))
	return stdout.String(), stderr.String(), err
}

func seededEnv(t *testing.T) *appEnv {
	t.Helper()
	env := setupEnv(t)
	_, _, err := run(t, env, "", "import-memory", writeFile(t, "memory.json", memoryJSON))
	require.NoError(t, err)
	_, _, err = run(t, env, "", "import-files", writeFile(t, "file_metadata.json", filesJSON))
	require.NoError(t, err)
	return env
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"hyperknow"}, false},
		{[]string{"hyperknow", "ask", "q"}, true},
		{[]string{"hyperknow", "serve-web"}, true},
		{[]string{"hyperknow", "--log-level", "debug", "ask"}, true},
		{[]string{"hyperknow", "bogus"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isCLIMode(tt.args), "%v", tt.args)
	}
	assert.True(t, isHelpOrVersion([]string{"hyperknow", "--version"}))
	assert.False(t, isHelpOrVersion([]string{"hyperknow", "ask"}))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("", &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = newLogger("loud", &buf)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestCLIImport(t *testing.T) {
	env := setupEnv(t)

	out, _, err := run(t, env, "", "import-memory", writeFile(t, "memory.json", memoryJSON))
	require.NoError(t, err)
	var res importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Imported)

	out, _, err = run(t, env, "", "import-files", writeFile(t, "files.json", filesJSON))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Imported)

	_, _, err = run(t, env, "", "import-files")
	assert.EqualError(t, err, "[INVALID_REQUEST] path is required")

	_, _, err = run(t, env, "", "import-memory", writeFile(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "[INVALID_REQUEST] parse ")
}

func TestCLIAsk(t *testing.T) {
	env := seededEnv(t)

	out, _, err := run(t, env, "", "ask", "Summarize my astronomy files")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "completed", res["state"])
	assert.EqualValues(t, 2, res["rounds"])
	assert.NotEmpty(t, res["request_id"])
	assert.NotContains(t, res, "trace")
	assert.NotContains(t, res, "answer_html")
	answer, _ := res["answer"].(string)
	assert.Contains(t, answer, "--- File: Orbits.pdf ---")
	assert.NotContains(t, answer, "Limits.pdf")
}

func TestCLIAsk_Flags(t *testing.T) {
	env := seededEnv(t)

	out, stderr, err := run(t, env, "", "ask", "--html", "--stream", "--trace", "Summarize", "my", "astronomy", "files")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res, "trace")
	assert.Contains(t, res, "findings")
	assert.Contains(t, res["answer_html"], "<p>[echo] [User Context]")
	assert.Equal(t, res["answer"].(string)+"\n", stderr)
}

func TestCLIAsk_Errors(t *testing.T) {
	env := seededEnv(t)

	_, _, err := run(t, env, "", "ask")
	assert.EqualError(t, err, "[INVALID_REQUEST] query is required")

	env.cfg.EmptyTitles = config.EmptyTitlesFail
	_, _, err = run(t, env, "", "ask", "find notes on chemistry")
	assert.ErrorContains(t, err, "[NO_SOURCES]")
}

func TestCLIAsk_BadProvider(t *testing.T) {
	env := seededEnv(t)
	env.cfg.Provider = config.Provider{Type: "carrier-pigeon", APIKeyEnv: "PATH"}

	_, _, err := run(t, env, "", "ask", "Summarize my astronomy files")
	assert.ErrorContains(t, err, "unsupported provider type")
}

func TestCLIBatch(t *testing.T) {
	env := seededEnv(t)
	env.cfg.EmptyTitles = config.EmptyTitlesFail

	stdin := "Summarize my astronomy files\n\n   \nfind notes on chemistry\nexplain orbits\n"
	out, _, err := run(t, env, stdin, "batch", "--concurrency", "2")
	assert.EqualError(t, err, "1 of 3 requests failed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var got []batchLine
	for _, l := range lines {
		var bl batchLine
		require.NoError(t, json.Unmarshal([]byte(l), &bl))
		got = append(got, bl)
	}
	assert.Equal(t, "Summarize my astronomy files", got[0].Query)
	assert.Equal(t, "completed", string(got[0].State))
	assert.Equal(t, "find notes on chemistry", got[1].Query)
	require.NotNil(t, got[1].Error)
	assert.Equal(t, errors.ErrNoSources, got[1].Error.Code)
	assert.Equal(t, "explain orbits", got[2].Query)
	assert.Nil(t, got[2].Error)
}

func TestCLIBatch_InvalidConcurrency(t *testing.T) {
	_, _, err := run(t, setupEnv(t), "q\n", "batch", "--concurrency", "0")
	assert.EqualError(t, err, "[INVALID_REQUEST] concurrency must be at least 1")
}

func TestCLICapabilities(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		maxCost string
		want    []string
	}{
		{"expensive", []string{"profile-lookup", "title-search", "generate"}},
		{"moderate", []string{"profile-lookup", "title-search"}},
		{"cheap", []string{"profile-lookup"}},
	}
	for _, tt := range tests {
		t.Run(tt.maxCost, func(t *testing.T) {
			out, _, err := run(t, env, "", "capabilities", "--max-cost", tt.maxCost)
			require.NoError(t, err)
			var res capabilitiesOutput
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			var names []string
			for _, d := range res.Capabilities {
				names = append(names, d.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want), res.Count)
		})
	}

	_, _, err := run(t, env, "", "capabilities", "--max-cost", "free")
	assert.ErrorContains(t, err, "[INVALID_REQUEST] unknown cost class")
}

func TestCLILogLevelFlag(t *testing.T) {
	env := setupEnv(t)
	_, stderr, err := run(t, env, "", "--log-level", "debug", "capabilities")
	require.NoError(t, err)
	assert.Contains(t, stderr, "director ready")

	_, _, err = run(t, setupEnv(t), "", "--log-level", "loud", "capabilities")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestBuildDirector_GoalsFile(t *testing.T) {
	env := seededEnv(t)
	env.cfg.GoalsFile = writeFile(t, "goals.yaml", `
default_intent: brief
intents:
  brief:
    triggers: [brief]
    instruction: Give a one-paragraph brief.
    goals:
      - name: locate-sources
        capability: title-search
        args: {keywords: $keywords}
`)

	d, err := buildDirector(env.db, env.cfg, env.log)
	require.NoError(t, err)
	res, err := d.Run(t.Context(), "brief me on astronomy")
	require.NoError(t, err)
	assert.Equal(t, "brief", res.Intent.Category)
	assert.Equal(t, 1, res.Rounds)
	assert.Contains(t, res.Answer, "Give a one-paragraph brief.")

	env.cfg.GoalsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildDirector(env.db, env.cfg, env.log)
	assert.ErrorContains(t, err, "read goal graph")
}

func TestOutputError(t *testing.T) {
	err := outputError(errors.NewNoSources([]string{"chemistry"}))
	assert.EqualError(t, err, "[NO_SOURCES] no documents matched keywords [chemistry]")

	err = outputError(errors.NewInternal(os.ErrPermission))
	assert.EqualError(t, err, "[INTERNAL] an internal error occurred: permission denied")

	err = outputError(os.ErrClosed)
	assert.EqualError(t, err, "file already closed")
}
