package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func newOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &openAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    toChatMessages(messages),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", MapProviderError(fmt.Errorf("create chat completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) GenerateStructured(ctx context.Context, messages []Message, tool ToolSpec) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    toChatMessages(messages),
		Tools:       []openai.Tool{toTool(tool)},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tool.Name},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", MapProviderError(fmt.Errorf("create structured completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("structured completion returned no choices")
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == tool.Name {
			return call.Function.Arguments, nil
		}
	}

	return "", fmt.Errorf("structured completion did not call %s", tool.Name)
}

func (c *openAIClient) GenerateStream(ctx context.Context, messages []Message, tool ToolSpec, fn func(StreamChunk) error) error {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    toChatMessages(messages),
		Stream:      true,
	}
	if tool.Name != "" {
		req.Tools = []openai.Tool{toTool(tool)}
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return MapProviderError(fmt.Errorf("open completion stream: %w", err))
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return MapProviderError(fmt.Errorf("receive stream chunk: %w", err))
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		chunk := StreamChunk{Content: delta.Content}
		for _, call := range delta.ToolCalls {
			index := 0
			if call.Index != nil {
				index = *call.Index
			}
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
				Index:     index,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}

		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return converted
}

func toTool(tool ToolSpec) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		},
	}
}
