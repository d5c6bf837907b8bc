package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/api"
	"github.com/Prateek-Gupta001/GuideMemory/assembler"
	"github.com/Prateek-Gupta001/GuideMemory/chat"
	"github.com/Prateek-Gupta001/GuideMemory/coherence"
	"github.com/Prateek-Gupta001/GuideMemory/config"
	"github.com/Prateek-Gupta001/GuideMemory/embed"
	"github.com/Prateek-Gupta001/GuideMemory/extractor"
	"github.com/Prateek-Gupta001/GuideMemory/llm"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/redis"
	"github.com/Prateek-Gupta001/GuideMemory/storage"
	"github.com/Prateek-Gupta001/GuideMemory/vectordb"
	"github.com/nats-io/nats.go"
)

const (
	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
)

type application struct {
	services api.Services
	closers  []func()
}

func (a *application) close() {
	for _, c := range a.closers {
		c()
	}
}

// build wires every component from cfg. Only a broken generation provider
// or message store is fatal; memory pieces fall back or switch off.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// enrichment calls trip their own breaker so a struggling coherence or
	// extraction stage never blocks the reply
	generator := llm.NewBreakerLLM("llm-reply", provider, breakerFailures, breakerOpenFor)
	enrichment := llm.NewBreakerLLM("llm-enrichment", provider, breakerFailures, breakerOpenFor)

	opts := memory.DefaultStoreOptions()
	opts.Enabled = cfg.MemoryEnabled()

	embedClient, err := newEmbedder(ctx, cfg, app)
	if err != nil {
		slog.Error("Got this error while setting up the embedder, memory will be disabled", "error", err)
		embedClient = embed.NewHashEmbedder(cfg.VectorSize)
		opts.Enabled = false
	}

	vdb, err := newVectorDB(cfg)
	if err != nil {
		slog.Error("Got this error while setting up the vector store, memory will be disabled", "error", err)
		vdb = vectordb.NewMemoryDB()
		opts.Enabled = false
	}
	memories := memory.NewStore(vdb, opts)
	if err := memories.Init(ctx); err != nil {
		slog.Error("Memory store is unavailable, continuing without memory", "error", err)
	}

	agent := memory.NewMemoryAgent(memories, extractor.New(enrichment), embedClient)
	queue := newQueue(cfg, agent, app)

	engine := coherence.New(enrichment, cfg.CoherenceStageTimeout)
	asm := assembler.New(store, engine, memories, embedClient)

	app.services = api.Services{
		Store:       store,
		Chat:        chat.NewOrchestrator(store, asm, generator, queue),
		Assembler:   asm,
		Memories:    memories,
		EmbedClient: embedClient,
		Queue:       queue,
	}
	return app, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	var store storage.Storage
	if cfg.DatabaseURL != "" {
		ps, err := storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		slog.Warn("DATABASE_URL not set, conversations are kept in memory only")
		store = storage.NewMemoryStore()
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newLLM(ctx context.Context, cfg *config.Config) (llm.LLM, error) {
	var generator llm.LLM
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		generator = llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, llm.NewGuideSearch(cfg.BraveAPIKey))
	case "gemini":
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		generator = g
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	return generator, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config, app *application) (embed.Embed, error) {
	var e embed.Embed
	switch cfg.EmbedProvider {
	case "openai":
		e = embed.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.VectorSize)
	case "gemini":
		g, err := embed.NewGeminiEmbedder(ctx, cfg.GeminiKey, cfg.EmbedModel, int32(cfg.VectorSize))
		if err != nil {
			return nil, err
		}
		e = g
	case "hash":
		e = embed.NewHashEmbedder(cfg.VectorSize)
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
	if cfg.RedisAddr == "" {
		return e, nil
	}
	cache := redis.NewEmbeddingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.EmbedProvider+":"+cfg.EmbedModel, cfg.EmbedCacheTTL)
	if err := cache.Ping(ctx); err != nil {
		slog.Error("Redis is unreachable, embeddings will not be cached", "error", err)
		return e, nil
	}
	app.closers = append(app.closers, func() { cache.Close() })
	return embed.NewCachedEmbedder(e, cache), nil
}

func newVectorDB(cfg *config.Config) (vectordb.VectorDB, error) {
	if cfg.VectorBackend != "qdrant" {
		return vectordb.NewMemoryDB(), nil
	}
	return vectordb.NewQdrantMemoryDB(vectordb.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.QdrantCollection,
		VectorSize: uint64(cfg.VectorSize),
	})
}

func newQueue(cfg *config.Config, agent *memory.MemoryAgent, app *application) memory.Queue {
	if cfg.NatsURL == "" {
		return memory.NewLocalQueue(agent, cfg.QueueLen, cfg.MemoryWorkers)
	}
	q, err := newNatsQueue(cfg, agent, app)
	if err != nil {
		slog.Error("Could not set up the NATS memory queue, using the in-process queue", "error", err)
		return memory.NewLocalQueue(agent, cfg.QueueLen, cfg.MemoryWorkers)
	}
	return q
}

func newNatsQueue(cfg *config.Config, agent *memory.MemoryAgent, app *application) (*memory.NatsQueue, error) {
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, err
	}
	q, err := memory.NewNatsQueue(nc, agent, cfg.MemoryWorkers)
	if err != nil {
		nc.Close()
		return nil, err
	}
	app.closers = append(app.closers, nc.Close)
	return q, nil
}
