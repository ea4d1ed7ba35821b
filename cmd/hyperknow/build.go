package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/director"
	"github.com/hpungsan/hyperknow/internal/knowledge"
	"github.com/hpungsan/hyperknow/internal/llm"
	"github.com/hpungsan/hyperknow/internal/planner"
)

// appEnv holds what the commands share. The Director is built on first use
// so import commands work without a configured provider.
type appEnv struct {
	db  *sql.DB
	cfg *config.Config
	log *slog.Logger

	once sync.Once
	d    *director.Director
	err  error
}

func (e *appEnv) director() (*director.Director, error) {
	e.once.Do(func() {
		e.d, e.err = buildDirector(e.db, e.cfg, e.log)
	})
	return e.d, e.err
}

func (e *appEnv) registry() (*capability.Registry, error) {
	d, err := e.director()
	if err != nil {
		return nil, err
	}
	return d.Registry(), nil
}

// buildDirector wires the provider, the built-in capabilities, the goal
// graph and the loop options into a Director.
func buildDirector(conn *sql.DB, cfg *config.Config, log *slog.Logger) (*director.Director, error) {
	provider, err := llm.New(cfg.Provider)
	if err != nil {
		return nil, err
	}
	reg, err := knowledge.NewRegistry(conn, provider, cfg, log)
	if err != nil {
		return nil, err
	}

	graph := planner.DefaultGraph()
	if cfg.GoalsFile != "" {
		graph, err = planner.LoadGraph(cfg.GoalsFile)
		if err != nil {
			return nil, err
		}
	}
	pl, err := planner.New(reg, graph, planner.Options{
		MaxRounds:   cfg.MaxRounds,
		EmptyTitles: cfg.EmptyTitles,
		Topics:      cfg.Topics,
	})
	if err != nil {
		return nil, err
	}

	opts, err := director.OptionsFromConfig(cfg, knowledge.SlotRules(), log)
	if err != nil {
		return nil, err
	}
	log.Debug("director ready", "provider", provider.Name(), "capabilities", reg.Len(), "intents", graph.IntentNames())
	return director.New(reg, pl, opts), nil
}

// newLogger returns a text logger on w at the named level. An empty level
// means warn.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "", "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
