// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"chatfront/internal/model"

	"gorm.io/gorm"
)

// messageTimeResolution 是三种驱动都能无损保存的时间精度（MySQL datetime(3)）。
const messageTimeResolution = time.Millisecond

// ConversationRepository 定义了会话与消息的持久化操作接口。
type ConversationRepository interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role model.Role, content string, at time.Time) (*model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	UpdateTitle(ctx context.Context, conversationID, title string) error
}

type gormConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// AutoMigrate 创建或更新 conversations 与 messages 表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Conversation{}, &model.Message{})
}

// ListConversations 按 updatedAt 倒序返回所有会话，每个会话只附带最早的一条消息。
func (r *gormConversationRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Order("created_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(conversations) == 0 {
		return conversations, nil
	}

	ids := make([]string, len(conversations))
	for i := range conversations {
		ids[i] = conversations[i].ID
	}

	// 一次查询取出每个会话最早的消息
	var firsts []model.Message
	err = r.db.WithContext(ctx).
		Where("conversation_id IN ?", ids).
		Where("created_at = (SELECT MIN(m2.created_at) FROM messages m2 WHERE m2.conversation_id = messages.conversation_id)").
		Order("created_at ASC").
		Order("id ASC").
		Find(&firsts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation previews: %w", err)
	}

	preview := make(map[string]model.Message, len(firsts))
	for _, m := range firsts {
		if _, ok := preview[m.ConversationID]; !ok {
			preview[m.ConversationID] = m
		}
	}
	for i := range conversations {
		if m, ok := preview[conversations[i].ID]; ok {
			conversations[i].Messages = []model.Message{m}
		}
	}
	return conversations, nil
}

// ListMessages 按 createdAt 正序返回会话中的所有消息。
func (r *gormConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// CreateConversation 以给定标题创建一个新会话。
func (r *gormConversationRepository) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	conversation := &model.Conversation{Title: title}
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

// AppendMessage 在同一事务中插入消息并把会话的 updated_at 刷新为消息的创建时间。
// 会话不存在时返回 gorm.ErrRecordNotFound，不会留下任何消息。
// 同一会话内消息的 createdAt 严格递增。
func (r *gormConversationRepository) AppendMessage(ctx context.Context, conversationID string, role model.Role, content string, at time.Time) (*model.Message, error) {
	var message *model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		createdAt, err := nextMessageTime(tx, conversationID, at)
		if err != nil {
			return err
		}

		result := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", createdAt)
		if result.Error != nil {
			return fmt.Errorf("failed to touch conversation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			if err := ensureExists(tx, conversationID); err != nil {
				return err
			}
		}

		message = &model.Message{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			CreatedAt:      createdAt,
		}
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// nextMessageTime 返回不早于 at、且晚于会话最后一条消息的时间。
func nextMessageTime(tx *gorm.DB, conversationID string, at time.Time) (time.Time, error) {
	at = at.Truncate(messageTimeResolution)
	var last []model.Message
	err := tx.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last message: %w", err)
	}
	if len(last) == 1 && !at.After(last[0].CreatedAt) {
		at = last[0].CreatedAt.Truncate(messageTimeResolution).Add(messageTimeResolution)
	}
	return at, nil
}

// DeleteConversation 在同一事务中删除会话及其所有消息。
func (r *gormConversationRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		result := tx.Where("id = ?", conversationID).Delete(&model.Conversation{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("failed to delete conversation %s: %w", conversationID, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// UpdateTitle 只修改标题，不刷新 updated_at。
func (r *gormConversationRepository) UpdateTitle(ctx context.Context, conversationID, title string) error {
	db := r.db.WithContext(ctx)
	result := db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		UpdateColumn("title", title)
	if result.Error != nil {
		return fmt.Errorf("failed to update title: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ensureExists(db, conversationID)
	}
	return nil
}

// ensureExists 区分"值未变化"和"记录不存在"：MySQL 对未变化的行返回 0 affected rows。
func ensureExists(db *gorm.DB, conversationID string) error {
	var count int64
	err := db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check conversation %s: %w", conversationID, err)
	}
	if count == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, gorm.ErrRecordNotFound)
	}
	return nil
}
