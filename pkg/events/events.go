// Package events 定义了发布到 Kafka 的会话事件。
package events

import "time"

// Type 标识会话上发生的变化。
type Type string

const (
	ConversationCreated Type = "conversation.created"
	ConversationRenamed Type = "conversation.renamed"
	ConversationDeleted Type = "conversation.deleted"
	MessageAppended     Type = "message.appended"
)

// ConversationEvent 是写入会话 topic 的消息体。
type ConversationEvent struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	Title          string    `json:"title,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
