// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"chatfront/internal/model"
	"chatfront/internal/repository"
	"chatfront/pkg/events"
	"chatfront/pkg/kafka"
	"chatfront/pkg/log"
)

// ConversationService 是会话与消息的持久化网关。
// 所有操作都是 fail-soft 的：存储错误只记录日志，调用方得到空列表、nil 或 false。
type ConversationService interface {
	ListConversations(ctx context.Context) []model.Conversation
	ListMessages(ctx context.Context, conversationID string) []model.Message
	CreateConversation(ctx context.Context, title string) *model.Conversation
	AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) *model.Message
	DeleteConversation(ctx context.Context, conversationID string) bool
	RenameConversation(ctx context.Context, conversationID, title string) bool
}

// defaultPublishTimeout 限制单次事件发布的耗时，避免 broker 不可达时拖慢写入。
const defaultPublishTimeout = 2 * time.Second

type conversationService struct {
	repo           repository.ConversationRepository
	publisher      kafka.Publisher
	now            func() time.Time
	publishTimeout time.Duration
}

// NewConversationService 创建一个新的 ConversationService。publisher 为 nil 时不发布事件。
func NewConversationService(repo repository.ConversationRepository, publisher kafka.Publisher) ConversationService {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &conversationService{
		repo:           repo,
		publisher:      publisher,
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
	}
}

// ListConversations 按最近更新倒序返回会话列表，失败时返回空列表。
func (s *conversationService) ListConversations(ctx context.Context) []model.Conversation {
	conversations, err := s.repo.ListConversations(ctx)
	if err != nil {
		log.Error("Failed to get conversations", err)
		return []model.Conversation{}
	}
	return conversations
}

// ListMessages 按创建时间正序返回会话消息，失败时返回空列表。
func (s *conversationService) ListMessages(ctx context.Context, conversationID string) []model.Message {
	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		log.Errorw("Failed to get messages", "conversationId", conversationID, "error", err)
		return []model.Message{}
	}
	return messages
}

// CreateConversation 创建会话，失败时返回 nil。
func (s *conversationService) CreateConversation(ctx context.Context, title string) *model.Conversation {
	conversation, err := s.repo.CreateConversation(ctx, title)
	if err != nil {
		log.Errorw("Failed to create conversation", "title", title, "error", err)
		return nil
	}
	s.publish(ctx, events.ConversationEvent{
		Type:           events.ConversationCreated,
		ConversationID: conversation.ID,
		Title:          conversation.Title,
	})
	return conversation
}

// AppendMessage 写入消息并刷新会话的 updatedAt，两步在同一事务中完成。
// 会话不存在或任一步失败时不留下消息，返回 nil。
func (s *conversationService) AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) *model.Message {
	message, err := s.repo.AppendMessage(ctx, conversationID, role, content, s.now())
	if err != nil {
		log.Errorw("Failed to add message", "conversationId", conversationID, "role", role, "error", err)
		return nil
	}
	s.publish(ctx, events.ConversationEvent{
		Type:           events.MessageAppended,
		ConversationID: conversationID,
		MessageID:      message.ID,
		Role:           string(role),
	})
	return message
}

// DeleteConversation 删除会话及其消息。
func (s *conversationService) DeleteConversation(ctx context.Context, conversationID string) bool {
	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		log.Errorw("Failed to delete conversation", "conversationId", conversationID, "error", err)
		return false
	}
	s.publish(ctx, events.ConversationEvent{
		Type:           events.ConversationDeleted,
		ConversationID: conversationID,
	})
	return true
}

// RenameConversation 只修改标题。
func (s *conversationService) RenameConversation(ctx context.Context, conversationID, title string) bool {
	if err := s.repo.UpdateTitle(ctx, conversationID, title); err != nil {
		log.Errorw("Failed to update title", "conversationId", conversationID, "error", err)
		return false
	}
	s.publish(ctx, events.ConversationEvent{
		Type:           events.ConversationRenamed,
		ConversationID: conversationID,
		Title:          title,
	})
	return true
}

// publish 发布失败只记录日志，不影响存储结果。
func (s *conversationService) publish(ctx context.Context, event events.ConversationEvent) {
	event.OccurredAt = s.now()
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warnw("Failed to publish conversation event", "type", event.Type, "conversationId", event.ConversationID, "error", err)
	}
}
