package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/director"
	"github.com/hpungsan/hyperknow/internal/errors"
	"github.com/hpungsan/hyperknow/internal/knowledge"
	"github.com/hpungsan/hyperknow/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "hyperknow",
		Usage:   "Plan lookups over a local knowledge store, then delegate the answer",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error (logs go to stderr)", EnvVars: []string{"HYPERKNOW_LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			if !c.IsSet("log-level") {
				return nil
			}
			logger, err := newLogger(c.String("log-level"), c.App.ErrWriter)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			env.log = logger
			return nil
		},
		Commands: []*cli.Command{
			askCmd(env),
			batchCmd(env),
			capabilitiesCmd(env),
			importMemoryCmd(env),
			importFilesCmd(env),
			serveWebCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// askOutput is the JSON printed by ask.
type askOutput struct {
	*director.Result
	AnswerHTML string `json:"answer_html,omitempty"`
}

// askCmd creates the ask command.
func askCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "html", Usage: "Also render the answer as HTML (answer_html)"},
			&cli.BoolFlag{Name: "stream", Usage: "Stream the answer to stderr as it is generated"},
			&cli.BoolFlag{Name: "trace", Usage: "Include state trace, findings and delegation payload"},
		},
		Action: func(c *cli.Context) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return outputError(errors.NewInvalidRequest("query is required"))
			}
			d, err := env.director()
			if err != nil {
				return outputError(err)
			}

			ctx := c.Context
			if c.Bool("stream") {
				ctx = knowledge.WithStream(ctx, c.App.ErrWriter)
			}
			res, err := d.Run(ctx, query)
			if c.Bool("stream") {
				fmt.Fprintln(c.App.ErrWriter)
			}
			if err != nil {
				return outputError(err)
			}

			if !c.Bool("trace") {
				res = res.Compact()
			}
			out := askOutput{Result: res}
			if c.Bool("html") {
				out.AnswerHTML = string(web.RenderMarkdown(res.Answer))
			}
			return outputJSON(c.App.Writer, out)
		},
	}
}

// batchLine is one line of batch output.
type batchLine struct {
	Query     string          `json:"query"`
	RequestID string          `json:"request_id,omitempty"`
	State     director.State  `json:"state"`
	Answer    string          `json:"answer,omitempty"`
	Rounds    int             `json:"rounds"`
	Error     *batchLineError `json:"error,omitempty"`
}

type batchLineError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// batchCmd creates the batch command.
func batchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Answer one query per stdin line concurrently; prints one JSON line per query in input order",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Value: 4, Usage: "Maximum requests in flight"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("concurrency") < 1 {
				return outputError(errors.NewInvalidRequest("concurrency must be at least 1"))
			}
			queries, err := readLines(c.App.Reader)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			d, err := env.director()
			if err != nil {
				return outputError(err)
			}

			lines := make([]batchLine, len(queries))
			var g errgroup.Group
			g.SetLimit(c.Int("concurrency"))
			for i, q := range queries {
				g.Go(func() error {
					res, err := d.Run(c.Context, q)
					lines[i] = batchLine{
						Query:     q,
						RequestID: res.RequestID,
						State:     res.State,
						Answer:    res.Answer,
						Rounds:    res.Rounds,
					}
					if err != nil {
						lines[i].Error = &batchLineError{Code: errors.CodeOf(err), Message: errorMessage(err)}
					}
					return nil
				})
			}
			_ = g.Wait()

			enc := json.NewEncoder(c.App.Writer)
			failed := 0
			for _, l := range lines {
				if l.Error != nil {
					failed++
				}
				if err := enc.Encode(l); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d requests failed", failed, len(lines)), 1)
			}
			return nil
		},
	}
}

// capabilitiesOutput is the JSON printed by capabilities.
type capabilitiesOutput struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
	Count        int                     `json:"count"`
}

// capabilitiesCmd creates the capabilities command.
func capabilitiesCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "capabilities",
		Usage: "List registered capabilities in registration order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "max-cost", Value: "expensive", Usage: "Highest cost class: cheap|moderate|expensive"},
		},
		Action: func(c *cli.Context) error {
			maxCost, err := capability.ParseCostClass(c.String("max-cost"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			reg, err := env.registry()
			if err != nil {
				return outputError(err)
			}
			out := capabilitiesOutput{Capabilities: make([]capability.Descriptor, 0, reg.Len())}
			for d := range reg.ListByCost(maxCost) {
				out.Capabilities = append(out.Capabilities, d)
			}
			out.Count = len(out.Capabilities)
			return outputJSON(c.App.Writer, out)
		},
	}
}

// importOutput is the JSON printed by the import commands.
type importOutput struct {
	Path     string `json:"path"`
	Imported int    `json:"imported"`
}

// importMemoryCmd creates the import-memory command.
func importMemoryCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "import-memory",
		Usage:     `Import knowledge levels from a memory.json file ({"knowledge_levels": {...}})`,
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			n, err := knowledge.ImportMemory(env.db, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, importOutput{Path: path, Imported: n})
		},
	}
}

// importFilesCmd creates the import-files command.
func importFilesCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "import-files",
		Usage:     `Import documents from a file_metadata.json file ({"<title>": {"content": ...}})`,
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			n, err := knowledge.ImportFiles(env.db, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, importOutput{Path: path, Imported: n})
		},
	}
}

// serveWebCmd creates the serve-web command.
func serveWebCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve-web",
		Usage: "Serve the ask UI over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			d, err := env.director()
			if err != nil {
				return outputError(err)
			}
			srv, err := web.NewServer(d, env.db, Version, c.String("bind"), c.Int("port"), env.log)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, env.log)
		},
	}
}

// Helper functions

// outputJSON marshals v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the CLI as "[CODE] message".
func outputError(err error) error {
	if dErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, errorMessage(err)), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// errorMessage is the user-facing message of err. Internal errors keep
// their cause so the CLI user can act on it.
func errorMessage(err error) string {
	dErr, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	if dErr.Cause != nil && (dErr.Code == errors.ErrInternal || dErr.Code == errors.ErrCapabilityError || dErr.Code == errors.ErrCancelled) {
		return fmt.Sprintf("%s: %v", dErr.Message, dErr.Cause)
	}
	return dErr.Message
}

// readLines returns the non-blank, trimmed lines of r.
func readLines(r io.Reader) ([]string, error) {
	if r == nil {
		r = os.Stdin
	}
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
