package knowledge

import (
	"database/sql"
	"log/slog"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/llm"
)

// NewRegistry registers the built-in capabilities over conn and seals the
// registry. Nested generation calls re-enter through the returned registry.
func NewRegistry(conn *sql.DB, provider llm.Provider, cfg *config.Config, log *slog.Logger) (*capability.Registry, error) {
	reg := capability.NewRegistry()
	caps := []capability.Capability{
		NewProfileLookup(conn),
		NewTitleSearch(conn, cfg.TitleSearchLimit),
		NewGenerator(conn, provider, reg, cfg.GenerationChunk, log).Capability(),
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg.Seal(), nil
}
