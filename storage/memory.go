package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Prateek-Gupta001/GuideMemory/types"
)

// MemoryStore is the in-process Storage used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	guides   map[string]types.Guide
	messages map[string][]types.StoredMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guides:   make(map[string]types.Guide),
		messages: make(map[string][]types.StoredMessage),
	}
}

func (m *MemoryStore) Init(ctx context.Context) error { return nil }

func (m *MemoryStore) SaveGuide(ctx context.Context, g *types.Guide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	cp.SurveyAnswers = slices.Clone(g.SurveyAnswers)
	m.guides[g.Id] = cp
	return nil
}

func (m *MemoryStore) GetGuide(ctx context.Context, guideId string) (*types.Guide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guides[guideId]
	if !ok {
		return nil, fmt.Errorf("guide %s: %w", guideId, ErrNotFound)
	}
	g.SurveyAnswers = slices.Clone(g.SurveyAnswers)
	return &g, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, msg *types.StoredMessage) error {
	prepareMessage(msg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationId] = append(m.messages[msg.ConversationId], *msg)
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, userId, conversationId string, limit int) ([]types.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []types.StoredMessage
	for _, msg := range m.messages[conversationId] {
		if msg.UserId == userId {
			msgs = append(msgs, msg)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) ConversationOwner(ctx context.Context, conversationId string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationId]
	if len(msgs) == 0 {
		return "", fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}
	return msgs[0].UserId, nil
}

func (m *MemoryStore) Close() error { return nil }
