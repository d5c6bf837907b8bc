package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Storage keeps guides and the message log of every conversation.
type Storage interface {
	Init(ctx context.Context) error
	SaveGuide(ctx context.Context, guide *types.Guide) error
	GetGuide(ctx context.Context, guideId string) (*types.Guide, error)
	SaveMessage(ctx context.Context, msg *types.StoredMessage) error
	// RecentMessages returns up to limit of the user's messages in the
	// conversation, oldest first.
	RecentMessages(ctx context.Context, userId, conversationId string, limit int) ([]types.StoredMessage, error)
	// ConversationOwner is the user who started the conversation.
	ConversationOwner(ctx context.Context, conversationId string) (string, error)
	Close() error
}

// prepareMessage fills in the id and timestamp of a new message.
func prepareMessage(msg *types.StoredMessage) {
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
}
