package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

const webSearchTool = "web_search"

var webSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "La consulta de búsqueda a realizar"}
	},
	"required": ["query"]
}`)

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type OpenAILLM struct {
	Client    *openai.Client
	Model     string
	MaxTokens int
	// Search answers web_search tool calls. When nil the tool is not offered.
	Search WebSearcher
}

func NewOpenAILLM(cfg OpenAIConfig, search WebSearcher) *OpenAILLM {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}
	return &OpenAILLM{
		Client:    openai.NewClientWithConfig(clientConfig),
		Model:     model,
		MaxTokens: maxTokens,
		Search:    search,
	}
}

func (o *OpenAILLM) Complete(ctx context.Context, messages []types.Message, temperature float32) (string, error) {
	ctx, span := Tracer.Start(ctx, "OpenAI Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", o.Model), attribute.Int("messages", len(messages)))

	req := openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
		MaxTokens:   o.MaxTokens,
	}
	if o.Search != nil {
		req.Tools = []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        webSearchTool,
				Description: "Busca información actualizada en la web sobre cualquier tema",
				Parameters:  webSearchParams,
			},
		}}
	}
	resp, err := o.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		return "", &ProviderError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: "openai", Err: errors.New("no choices in response")}
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 || o.Search == nil {
		return msg.Content, nil
	}

	// one round-trip: answer every tool call, then ask for the final text
	req.Messages = append(req.Messages, msg)
	for _, call := range msg.ToolCalls {
		result := o.runTool(ctx, call)
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	req.Tools = nil
	final, err := o.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		return "", &ProviderError{Provider: "openai", Err: err}
	}
	if len(final.Choices) == 0 {
		return "", &ProviderError{Provider: "openai", Err: errors.New("no choices in tool follow-up")}
	}
	return final.Choices[0].Message.Content, nil
}

func (o *OpenAILLM) runTool(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != webSearchTool {
		return "unknown tool"
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		slog.Error("Got malformed tool arguments from the model", "error", err, "arguments", call.Function.Arguments)
		return searchUnavailable(call.Function.Arguments)
	}
	slog.Info("Model requested a web search", "query", args.Query)
	return o.Search.Search(ctx, args.Query)
}

func toOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
