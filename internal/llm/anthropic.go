package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropic(apiKey, baseURL, model string) *anthropicProvider {
	opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, aoption.WithBaseURL(baseURL))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...), model: model}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p == nil {
		return "", errors.New("nil provider")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: req.maxTokens(),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	var textBuf strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return "", err
		}
		if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				textBuf.WriteString(delta.Text)
				req.emit(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return textBuf.String(), nil
}
