package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/errors"
	"github.com/hpungsan/hyperknow/internal/llm"
	"github.com/hpungsan/hyperknow/internal/packager"
)

// contextPartials carries chunk answers into the combining call.
const contextPartials = "partial_answers"

const tutorSystem = "You are a helpful tutor."

// Invoker dispatches a capability by name. *capability.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args capability.Args) (capability.Output, error)
}

type streamKey struct{}

// WithStream returns a context whose generate calls copy their final
// output to w as it is produced.
func WithStream(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, streamKey{}, w)
}

func streamFrom(ctx context.Context) io.Writer {
	w, _ := ctx.Value(streamKey{}).(io.Writer)
	return w
}

// Generator answers an instruction from document content. Titles are
// resolved to content here so callers only ever handle titles.
type Generator struct {
	db       *sql.DB
	provider llm.Provider
	invoker  Invoker
	chunk    int
	log      *slog.Logger
}

// NewGenerator creates a Generator. invoker receives nested calls; chunk is
// the number of titles one call handles before it splits the work.
func NewGenerator(conn *sql.DB, provider llm.Provider, invoker Invoker, chunk int, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if provider == nil {
		provider = llm.Echo{}
	}
	return &Generator{db: conn, provider: provider, invoker: invoker, chunk: chunk, log: log}
}

// Capability exposes g as the generate capability.
func (g *Generator) Capability() capability.Capability {
	return capability.Typed(capability.GenerateDescriptor(), g.Generate, digestGenerate)
}

// Generate produces the answer for in. When the title list exceeds the chunk
// size and budget remains, each chunk is answered by a nested generate call
// and the partial answers are combined by one more.
func (g *Generator) Generate(ctx context.Context, in capability.GenerateInput) (capability.GenerateResult, error) {
	if strings.TrimSpace(in.Instruction) == "" {
		return capability.GenerateResult{}, errors.NewInvalidRequest("instruction is required")
	}
	titles := in.Titles
	if len(titles) == 0 && in.Context != nil {
		titles, _ = packager.Titles(in.Context[SlotAvailableTitles])
	}
	userContext := in.UserContext
	if userContext == "" {
		userContext = describeUser(in.Context)
	}

	if g.chunk > 0 && len(titles) > g.chunk && in.BudgetHint > 0 && g.invoker != nil {
		return g.nested(ctx, in, titles, userContext)
	}

	text, err := g.flat(ctx, in.Instruction, titles, userContext, partials(in.Context))
	if err != nil {
		return capability.GenerateResult{}, err
	}
	return capability.GenerateResult{Text: text}, nil
}

func (g *Generator) nested(ctx context.Context, in capability.GenerateInput, titles []string, userContext string) (capability.GenerateResult, error) {
	quiet := WithStream(ctx, nil)
	var (
		notes []string
		calls int
	)
	for start := 0; start < len(titles); start += g.chunk {
		end := min(start+g.chunk, len(titles))
		g.log.Debug("nested generation", "titles", end-start, "budget_hint", in.BudgetHint-1)
		out, err := g.invoker.Invoke(quiet, capability.Generate, capability.Args{
			"instruction":  in.Instruction,
			"titles":       titles[start:end],
			"user_context": userContext,
			"budget_hint":  in.BudgetHint - 1,
		})
		if err != nil {
			return capability.GenerateResult{}, fmt.Errorf("chunk %d-%d: %w", start, end, err)
		}
		res, err := capability.Decode[capability.GenerateResult](out)
		if err != nil {
			return capability.GenerateResult{}, err
		}
		notes = append(notes, res.Text)
		calls += 1 + res.NestedCalls
	}

	out, err := g.invoker.Invoke(ctx, capability.Generate, capability.Args{
		"instruction":  in.Instruction,
		"context":      map[string]any{contextPartials: notes},
		"user_context": userContext,
		"budget_hint":  in.BudgetHint - 1,
	})
	if err != nil {
		return capability.GenerateResult{}, fmt.Errorf("combine: %w", err)
	}
	res, err := capability.Decode[capability.GenerateResult](out)
	if err != nil {
		return capability.GenerateResult{}, err
	}
	return capability.GenerateResult{Text: res.Text, NestedCalls: calls + 1 + res.NestedCalls}, nil
}

func (g *Generator) flat(ctx context.Context, instruction string, titles []string, userContext string, notes []string) (string, error) {
	docs, err := db.GetDocumentsByTitles(g.db, titles)
	if err != nil {
		return "", err
	}
	if len(docs) < len(titles) {
		g.log.Debug("titles without content", "requested", len(titles), "found", len(docs))
	}

	req := llm.Request{System: tutorSystem, Prompt: tutorPrompt(instruction, userContext, docs, notes)}
	if w := streamFrom(ctx); w != nil {
		req.OnDelta = func(s string) { _, _ = io.WriteString(w, s) }
	}
	text, err := g.provider.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.provider.Name(), err)
	}
	return text, nil
}

func tutorPrompt(instruction, userContext string, docs []db.Document, notes []string) string {
	var b strings.Builder
	b.WriteString("[User Context]\n")
	if userContext == "" {
		userContext = "No information about the user's level."
	}
	b.WriteString(userContext)
	b.WriteString("\n\n[Reference Materials]\n")
	if len(docs) == 0 && len(notes) == 0 {
		b.WriteString("No reference materials were found.\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&b, "--- File: %s ---\n%s\n", d.Title, d.Content)
	}
	for i, n := range notes {
		fmt.Fprintf(&b, "--- Partial answer %d ---\n%s\n", i+1, n)
	}
	b.WriteString("\n[Instruction]\n")
	b.WriteString(instruction)
	b.WriteString("\n\nPlease provide a comprehensive answer based strictly on the materials above. ")
	b.WriteString("Adjust the complexity to match the User Context.\n")
	return b.String()
}

func describeUser(structured map[string]any) string {
	if structured == nil {
		return ""
	}
	level, _ := structured[SlotUserLevel].(string)
	desc, _ := structured[SlotUserContext].(string)
	switch {
	case level != "" && desc != "":
		return fmt.Sprintf("Level: %s. %s", level, desc)
	case level != "":
		return "Level: " + level
	}
	return desc
}

func partials(structured map[string]any) []string {
	if structured == nil {
		return nil
	}
	switch v := structured[contextPartials].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func digestGenerate(_ capability.GenerateInput, out capability.GenerateResult) capability.Digest {
	return capability.Digest{
		Summary: out.Text,
		Facts:   map[string]any{"chars": len(out.Text), "nested_calls": out.NestedCalls},
	}
}
