package embed

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

type OpenAIEmbedder struct {
	Client     *openai.Client
	Model      string
	Dimensions int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		Client:     openai.NewClientWithConfig(clientConfig),
		Model:      model,
		Dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := checkText("openai", text)
	if err != nil {
		return nil, err
	}
	ctx, span := Tracer.Start(ctx, "OpenAI Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("chars", len(text)))

	resp, err := e.Client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.Model),
		Dimensions: e.Dimensions,
	})
	if err != nil {
		span.RecordError(err)
		return nil, &ProviderError{Provider: "openai", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: "openai", Err: errors.New("empty embedding response")}
	}
	return resp.Data[0].Embedding, nil
}
