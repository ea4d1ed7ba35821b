package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"ask": true, "batch": true, "capabilities": true,
	"import-memory": true, "import-files": true, "serve-web": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags precede the subcommand.
	if len(arg) > 1 && arg[0] == '-' {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                          _
  | |__  _   _ _ __   ___ _ _| | ___ __   _____      __
  | '_ \| | | | '_ \ / _ \ '__| |/ / '_ \ / _ \ \ /\ / /
  | | | | |_| | |_) |  __/ |  |   <| | | | (_) \ V  V /
  |_| |_|\__, | .__/ \___|_|  |_|\_\_| |_|\___/ \_/\_/
         |___/|_|

  Plans lookups, then delegates the answer

  Usage: hyperknow <command> [options]
         hyperknow --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(&appEnv{}).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".hyperknow")

	if err := config.LoadEnv(".env", filepath.Join(baseDir, ".env")); err != nil {
		fatal("failed to load .env: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatal("could not determine working directory: %v", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	logger, err := newLogger(os.Getenv("HYPERKNOW_LOG_LEVEL"), os.Stderr)
	if err != nil {
		fatal("%v", err)
	}
	env := &appEnv{db: database, cfg: cfg, log: logger}

	if isCLIMode(os.Args) {
		if err := newCLIApp(env).Run(os.Args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'hyperknow --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	d, err := env.director()
	if err != nil {
		fatal("%v", err)
	}
	if err := mcp.Run(d, cfg, Version); err != nil {
		fatal("%v", err)
	}
}
