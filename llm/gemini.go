package llm

import (
	"context"
	"errors"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

type GeminiLLM struct {
	Client    *genai.Client
	ModelName string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiLLM{
		Client:    client,
		ModelName: model,
	}, nil
}

func (g *GeminiLLM) Complete(ctx context.Context, messages []types.Message, temperature float32) (string, error) {
	ctx, span := Tracer.Start(ctx, "Gemini Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", g.ModelName), attribute.Int("messages", len(messages)))

	system, turns := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		return "", &ProviderError{Provider: "gemini", Err: errors.New("no user or assistant turns")}
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := g.Client.Models.GenerateContent(ctx, g.ModelName, contents, config)
	if err != nil {
		span.RecordError(err)
		return "", &ProviderError{Provider: "gemini", Err: err}
	}
	return resp.Text(), nil
}
