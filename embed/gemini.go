package embed

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

type GeminiEmbedder struct {
	Client     *genai.Client
	Model      string
	Dimensions int32
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int32) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &GeminiEmbedder{Client: client, Model: model, Dimensions: dimensions}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := checkText("gemini", text)
	if err != nil {
		return nil, err
	}
	ctx, span := Tracer.Start(ctx, "Gemini Embed")
	defer span.End()

	config := &genai.EmbedContentConfig{}
	if g.Dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(g.Dimensions)
	}
	resp, err := g.Client.Models.EmbedContent(ctx, g.Model, genai.Text(text), config)
	if err != nil {
		span.RecordError(err)
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, &ProviderError{Provider: "gemini", Err: errors.New("empty embedding response")}
	}
	return resp.Embeddings[0].Values, nil
}
