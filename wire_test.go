package main

import (
	"testing"

	"github.com/Prateek-Gupta001/GuideMemory/config"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig() *config.Config {
	cfg := config.Load()
	cfg.DatabaseURL = ""
	cfg.VectorBackend = "memory"
	cfg.RedisAddr = ""
	cfg.NatsURL = ""
	cfg.LLMProvider = "openai"
	cfg.OpenAIKey = "test-key"
	cfg.EmbedProvider = "hash"
	cfg.VectorSize = 64
	return cfg
}

func TestBuildOffline(t *testing.T) {
	app, err := build(t.Context(), offlineConfig())
	require.NoError(t, err)
	defer app.close()
	defer app.services.Queue.Stop()

	assert.IsType(t, &storage.MemoryStore{}, app.services.Store)
	assert.IsType(t, &memory.LocalQueue{}, app.services.Queue)
	assert.True(t, app.services.Memories.Enabled())
	assert.NotNil(t, app.services.Chat)
	assert.NotNil(t, app.services.Assembler)
}

func TestBuildFailsWithoutProvider(t *testing.T) {
	cfg := offlineConfig()
	cfg.OpenAIKey = ""
	_, err := build(t.Context(), cfg)
	assert.Error(t, err)

	cfg.LLMProvider = "cohere"
	_, err = build(t.Context(), cfg)
	assert.Error(t, err)
}

func TestBuildUnknownEmbedderDisablesMemory(t *testing.T) {
	cfg := offlineConfig()
	cfg.EmbedProvider = "cohere"
	app, err := build(t.Context(), cfg)
	require.NoError(t, err)
	defer app.services.Queue.Stop()
	assert.False(t, app.services.Memories.Enabled())
}
