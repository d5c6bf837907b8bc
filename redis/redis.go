package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "emb:"

// EmbeddingCache stores vectors keyed by a hash of model and text.
type EmbeddingCache struct {
	RedisClient *redis.Client
	Model       string
	TTL         time.Duration
}

func NewEmbeddingCache(addr, password string, model string, ttl time.Duration) *EmbeddingCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		Protocol: 2,
	})
	return &EmbeddingCache{
		RedisClient: rdb,
		Model:       model,
		TTL:         ttl,
	}
}

func (r *EmbeddingCache) Ping(ctx context.Context) error {
	return r.RedisClient.Ping(ctx).Err()
}

func (r *EmbeddingCache) Key(text string) string {
	sum := sha256.Sum256([]byte(r.Model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// GetVector returns nil, false, nil on a cache miss.
func (r *EmbeddingCache) GetVector(ctx context.Context, text string) ([]float32, bool, error) {
	res, err := r.RedisClient.Get(ctx, r.Key(text)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		slog.Error("Got this error while trying to get a cached embedding", "error", err)
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(res, &vec); err != nil {
		slog.Error("Got this error while unmarshalling a cached embedding", "error", err)
		return nil, false, err
	}
	return vec, true, nil
}

func (r *EmbeddingCache) SetVector(ctx context.Context, text string, vec []float32) error {
	jsonBytes, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	if err := r.RedisClient.Set(ctx, r.Key(text), jsonBytes, r.TTL).Err(); err != nil {
		slog.Error("Got this error while trying to cache an embedding", "error", err)
		return err
	}
	return nil
}

func (r *EmbeddingCache) Close() error {
	return r.RedisClient.Close()
}
