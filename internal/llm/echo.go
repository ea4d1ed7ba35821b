package llm

import (
	"context"
	"strings"
)

// Echo is an offline provider. It answers with the prompt's sections so a
// run can be inspected end to end without network access.
type Echo struct{}

func (Echo) Name() string { return "echo" }

// Generate returns "[echo] " followed by the prompt, streamed line by line.
func (Echo) Generate(ctx context.Context, req Request) (string, error) {
	var out strings.Builder
	for i, line := range strings.SplitAfter("[echo] "+req.Prompt, "\n") {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i > 0 && req.MaxTokens > 0 && out.Len() >= req.MaxTokens*4 {
			break
		}
		out.WriteString(line)
		req.emit(line)
	}
	return out.String(), nil
}
