package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EmptyTitlesPolicy controls what the planner does when title search returns nothing.
type EmptyTitlesPolicy string

const (
	EmptyTitlesDelegate EmptyTitlesPolicy = "delegate" // default: delegate with an empty list
	EmptyTitlesFail     EmptyTitlesPolicy = "fail"     // fail the request with NO_SOURCES
)

// Provider selects the text generation backend used by the generate capability.
type Provider struct {
	// Type is one of "openai", "openai_compatible", "anthropic", "gemini", "echo".
	Type string `json:"type,omitempty"`

	// BaseURL overrides the provider endpoint (required for openai_compatible gateways).
	BaseURL string `json:"base_url,omitempty"`

	// Model is the model name passed to the provider.
	Model string `json:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// MaxRounds bounds the number of planner invocations per request.
	MaxRounds int `json:"max_rounds"`

	// PayloadMaxChars is the ceiling on the serialized delegation payload.
	PayloadMaxChars int `json:"payload_max_chars"`

	// CheapRetries is how many times a failed retry-eligible capability call is
	// repeated with the same arguments.
	CheapRetries int `json:"cheap_retries"`

	// RetryCostCeiling is the most expensive cost class eligible for retry.
	// Only "cheap" by default; expensive calls are never retried.
	RetryCostCeiling string `json:"retry_cost_ceiling,omitempty"`

	// CallTimeoutSeconds bounds a single capability call.
	CallTimeoutSeconds int `json:"call_timeout_seconds"`

	// RequestTimeoutSeconds bounds a whole request.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// EmptyTitles decides whether an empty title search still delegates.
	EmptyTitles EmptyTitlesPolicy `json:"empty_titles,omitempty"`

	// GenerationDepth seeds the budget_hint for nested generation calls.
	GenerationDepth int `json:"generation_depth"`

	// GenerationChunk is the number of titles handled by one nested generation call.
	GenerationChunk int `json:"generation_chunk"`

	// TitleSearchLimit caps the number of titles returned by title search.
	TitleSearchLimit int `json:"title_search_limit"`

	// GoalsFile optionally points at a YAML goal graph replacing the built-in one.
	// Relative paths are resolved against the directory of the config file.
	GoalsFile string `json:"goals_file,omitempty"`

	// Topics maps a topic category to the aliases that identify it in a query.
	// Merged per key with the built-in table.
	Topics map[string][]string `json:"topics,omitempty"`

	// Provider configures the generation backend.
	Provider Provider `json:"provider"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultTopics is the built-in topic alias table.
func DefaultTopics() map[string][]string {
	return map[string][]string{
		"astronomy": {"astronomy", "天文", "star", "stars", "planet", "planets", "orbit", "orbits", "sun"},
		"calculus":  {"calculus", "微积分", "derivative", "derivatives", "integral", "integrals", "limit"},
		"physics":   {"physics", "物理", "mechanics", "force", "energy"},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRounds:             5,
		PayloadMaxChars:       4000,
		CheapRetries:          2,
		RetryCostCeiling:      "cheap",
		CallTimeoutSeconds:    30,
		RequestTimeoutSeconds: 120,
		EmptyTitles:           EmptyTitlesDelegate,
		GenerationDepth:       2,
		GenerationChunk:       8,
		TitleSearchLimit:      20,
		Topics:                DefaultTopics(),
		Provider: Provider{
			Type: "echo",
		},
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.hyperknow) and repo (.hyperknow) directories.
// Repo config is found by walking upward from startDir to find the nearest .hyperknow/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	globalPath := filepath.Join(globalDir, "config.json")
	global, err := loadFileRaw(globalPath)
	if err != nil {
		return nil, err
	}
	resolveGoalsFile(global, globalPath)

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}
	resolveGoalsFile(repo, repoConfigPath)

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .hyperknow/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".hyperknow", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// APIKey resolves the provider API key from the environment.
// Falls back to the conventional variable for the provider type.
func (p Provider) APIKey() string {
	if p.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "openai":
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case "openai_compatible":
		return strings.TrimSpace(os.Getenv("GPTS_API_KEY"))
	case "anthropic":
		return strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	case "gemini":
		if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			return key
		}
		return strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	return ""
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	resolveGoalsFile(cfg, configPath)
	return Merge(DefaultConfig(), cfg), nil
}

func resolveGoalsFile(cfg *Config, configPath string) {
	if cfg.GoalsFile == "" || configPath == "" || filepath.IsAbs(cfg.GoalsFile) {
		return
	}
	cfg.GoalsFile = filepath.Join(filepath.Dir(configPath), cfg.GoalsFile)
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.MaxRounds = firstNonZero(overlay.MaxRounds, base.MaxRounds)
	result.PayloadMaxChars = firstNonZero(overlay.PayloadMaxChars, base.PayloadMaxChars)
	result.CheapRetries = firstNonZero(overlay.CheapRetries, base.CheapRetries)
	result.CallTimeoutSeconds = firstNonZero(overlay.CallTimeoutSeconds, base.CallTimeoutSeconds)
	result.RequestTimeoutSeconds = firstNonZero(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.GenerationDepth = firstNonZero(overlay.GenerationDepth, base.GenerationDepth)
	result.GenerationChunk = firstNonZero(overlay.GenerationChunk, base.GenerationChunk)
	result.TitleSearchLimit = firstNonZero(overlay.TitleSearchLimit, base.TitleSearchLimit)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.RetryCostCeiling = firstNonEmpty(overlay.RetryCostCeiling, base.RetryCostCeiling)
	result.EmptyTitles = EmptyTitlesPolicy(firstNonEmpty(string(overlay.EmptyTitles), string(base.EmptyTitles)))
	result.GoalsFile = firstNonEmpty(overlay.GoalsFile, base.GoalsFile)

	// Provider is merged field by field so a repo config can swap just the model.
	result.Provider = Provider{
		Type:      firstNonEmpty(overlay.Provider.Type, base.Provider.Type),
		BaseURL:   firstNonEmpty(overlay.Provider.BaseURL, base.Provider.BaseURL),
		Model:     firstNonEmpty(overlay.Provider.Model, base.Provider.Model),
		APIKeyEnv: firstNonEmpty(overlay.Provider.APIKeyEnv, base.Provider.APIKeyEnv),
	}

	result.Topics = mergeTopics(base.Topics, overlay.Topics)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return strings.TrimSpace(b)
}

// mergeTopics merges alias lists per topic key.
func mergeTopics(base, overlay map[string][]string) map[string][]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	result := make(map[string][]string, len(base)+len(overlay))
	for k, v := range base {
		result[k] = mergeStringSlice(nil, v)
	}
	for k, v := range overlay {
		result[k] = mergeStringSlice(result[k], v)
	}
	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
