package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

type openAIProvider struct {
	name   string
	client openai.Client
	model  string
}

func newOpenAI(name, apiKey, baseURL, model string) *openAIProvider {
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, ooption.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &openAIProvider{name: name, client: openai.NewClient(opts...), model: model}
}

func (p *openAIProvider) Name() string { return p.name }

// Generate streams a chat completion.
func (p *openAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p == nil {
		return "", errors.New("nil provider")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(p.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(req.maxTokens()),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var textBuf strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		textBuf.WriteString(delta)
		req.emit(delta)
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return textBuf.String(), nil
}
