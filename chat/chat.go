// Package chat runs one conversation turn: persona, memory context, reply,
// and the background memory job.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/llm"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/storage"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	Temperature float32 = 0.8

	historyTurns = 5
	defaultName  = "el usuario"
)

var ErrBadRequest = errors.New("bad chat request")

var Tracer = otel.Tracer("GuideMemory/chat")

// Messages is the part of storage.Storage a turn needs.
type Messages interface {
	GetGuide(ctx context.Context, guideId string) (*types.Guide, error)
	SaveMessage(ctx context.Context, msg *types.StoredMessage) error
	ConversationOwner(ctx context.Context, conversationId string) (string, error)
}

type ContextAssembler interface {
	AssembleContext(ctx context.Context, userID, conversationID, userMessage string) types.AssembledContext
}

type Orchestrator struct {
	Store     Messages
	Assembler ContextAssembler
	LLM       llm.LLM
	Queue     memory.Queue
}

func NewOrchestrator(store Messages, assembler ContextAssembler, l llm.LLM, queue memory.Queue) *Orchestrator {
	return &Orchestrator{
		Store:     store,
		Assembler: assembler,
		LLM:       l,
		Queue:     queue,
	}
}

// checkConversation rejects a conversation id another user started. An
// unknown id is a new conversation.
func (o *Orchestrator) checkConversation(ctx context.Context, userId, conversationId string) error {
	owner, err := o.Store.ConversationOwner(ctx, conversationId)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != userId {
		return fmt.Errorf("conversation %s: %w", conversationId, storage.ErrNotFound)
	}
	return nil
}

// SendMessage answers req as the guide. Storage and generation errors are
// returned; memory problems only reduce how personal the reply is.
func (o *Orchestrator) SendMessage(ctx context.Context, req types.ChatRequest) (*types.ChatReply, error) {
	if req.UserId == "" || req.GuideId == "" || strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: userId, guideId and content are required", ErrBadRequest)
	}
	reqId := uuid.NewString()
	ctx, span := Tracer.Start(ctx, "Send Message")
	defer span.End()
	if req.ConversationId == "" {
		req.ConversationId = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("reqId", reqId),
		attribute.String("userId", req.UserId),
		attribute.String("conversationId", req.ConversationId),
	)

	guide, err := o.Store.GetGuide(ctx, req.GuideId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if guide.UserId != "" && guide.UserId != req.UserId {
		return nil, fmt.Errorf("guide %s: %w", req.GuideId, storage.ErrNotFound)
	}
	if err := o.checkConversation(ctx, req.UserId, req.ConversationId); err != nil {
		span.RecordError(err)
		return nil, err
	}

	userMsg := &types.StoredMessage{
		ConversationId: req.ConversationId,
		UserId:         req.UserId,
		Role:           types.RoleUser,
		Content:        req.Content,
	}
	if err := o.Store.SaveMessage(ctx, userMsg); err != nil {
		span.RecordError(err)
		return nil, err
	}

	ac := o.Assembler.AssembleContext(ctx, req.UserId, req.ConversationId, req.Content)
	userName := req.UserName
	if userName == "" {
		userName = defaultName
	}
	reply, err := o.LLM.Complete(ctx, []types.Message{
		{Role: types.RoleSystem, Content: systemPrompt(guide, userName, ac)},
		{Role: types.RoleUser, Content: contextualPrompt(ac.RecentMessages, req.Content)},
	}, Temperature)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generating guide reply: %w", err)
	}

	guideMsg := &types.StoredMessage{
		ConversationId: req.ConversationId,
		UserId:         req.UserId,
		Role:           types.RoleAssistant,
		Content:        reply,
	}
	if err := o.Store.SaveMessage(ctx, guideMsg); err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.submitMemoryJob(types.MemoryJob{
		ReqId:          reqId,
		UserId:         req.UserId,
		GuideId:        req.GuideId,
		ConversationId: req.ConversationId,
		MessageId:      userMsg.Id,
		UserMessage:    req.Content,
		GuideReply:     reply,
		History:        historyLines(ac.RecentMessages, req.Content),
	})

	return &types.ChatReply{
		ReqId:          reqId,
		ConversationId: req.ConversationId,
		MessageId:      guideMsg.Id,
		Reply:          reply,
		UsedMemory:     ac.PersonalFacts != "" || ac.Preferences != "" || ac.Relationship != "" || ac.RelevantMemories != "",
	}, nil
}

func (o *Orchestrator) submitMemoryJob(job types.MemoryJob) {
	if o.Queue == nil {
		return
	}
	start := time.Now()
	if err := o.Queue.Submit(job); err != nil {
		slog.Error("Got this error while submitting the memory job", "error", err, "reqId", job.ReqId)
		return
	}
	slog.Debug("Memory job submitted", "reqId", job.ReqId, "took", time.Since(start))
}

// historyLines renders the turns before the current message for the
// extractor.
func historyLines(recent []types.Message, current string) []string {
	if n := len(recent); n > 0 && recent[n-1].Role == types.RoleUser && strings.TrimSpace(recent[n-1].Content) == strings.TrimSpace(current) {
		recent = recent[:n-1]
	}
	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return lines
}
