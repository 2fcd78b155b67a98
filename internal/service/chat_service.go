package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatfront/internal/model"
	"chatfront/pkg/llm"
	"chatfront/pkg/log"
	"chatfront/pkg/preferences"

	"golang.org/x/sync/errgroup"
)

const (
	titleMaxRunes = 30
	// tempConversationID 是新会话尚未创建时乐观消息使用的会话 ID。
	tempConversationID = "temp"
)

var (
	ErrEmptyMessage       = errors.New("message is empty")
	ErrSendInProgress     = errors.New("a message is already being sent")
	ErrConversationCreate = errors.New("Failed to create conversation")
	ErrMessagePersist     = errors.New("Failed to save message")
	ErrEmptyEndpoint      = errors.New("Endpoint cannot be empty")
)

// NoticeLevel 区分提示的类型。
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice 是展示给用户的一次性提示。
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

// SessionState 是会话管理器对外暴露的只读快照。
type SessionState struct {
	Conversations         []model.Conversation `json:"conversations"`
	CurrentConversationID string               `json:"currentConversationId,omitempty"`
	Messages              []model.Message      `json:"messages"`
	IsLoading             bool                 `json:"isLoading"`
	IsInitializing        bool                 `json:"isInitializing"`
	APIEndpoint           string               `json:"apiEndpoint"`
}

// ChatSession 持有单个用户的会话列表、当前会话、消息列表和加载状态，
// 并编排乐观发送、持久化和发送后的对账。同一时刻只允许一次发送。
type ChatSession struct {
	conversations ConversationService
	generator     llm.Client
	prefs         preferences.EndpointStore
	now           func() time.Time

	mu           sync.Mutex
	list         []model.Conversation
	currentID    string
	messages     []model.Message
	initializing bool
	apiEndpoint  string
	sending      bool
	pendingLoads int
	notices      []Notice
	inflight     sync.WaitGroup
}

// NewChatSession 创建一个新的 ChatSession。调用方应随后调用 Mount。
func NewChatSession(conversations ConversationService, generator llm.Client, prefs preferences.EndpointStore) *ChatSession {
	if prefs == nil {
		prefs = preferences.NewMemoryStore()
	}
	return &ChatSession{
		conversations: conversations,
		generator:     generator,
		prefs:         prefs,
		now:           time.Now,
		messages:      []model.Message{},
		list:          []model.Conversation{},
		initializing:  true,
	}
}

// DeriveTitle 取消息的前 30 个字符作为标题，超出时追加 "..."。
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// Mount 并发加载会话列表并恢复持久化的端点偏好。
func (s *ChatSession) Mount(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		s.loadConversations(ctx)
		return nil
	})
	g.Go(func() error {
		endpoint, err := s.prefs.LoadEndpoint(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore endpoint preference: %w", err)
		}
		if endpoint != "" {
			s.mu.Lock()
			s.apiEndpoint = endpoint
			s.mu.Unlock()
		}
		return nil
	})
	return g.Wait()
}

func (s *ChatSession) loadConversations(ctx context.Context) {
	conversations := s.conversations.ListConversations(ctx)
	s.mu.Lock()
	s.list = conversations
	s.initializing = false
	s.mu.Unlock()
}

// SelectConversation 切换当前会话并从存储加载其消息；id 为空时进入新会话状态。
func (s *ChatSession) SelectConversation(ctx context.Context, id string) {
	if id == "" {
		s.StartNewChat()
		return
	}

	s.mu.Lock()
	s.currentID = id
	s.pendingLoads++
	s.mu.Unlock()

	messages := s.conversations.ListMessages(ctx, id)

	s.mu.Lock()
	s.pendingLoads--
	if s.currentID == id {
		s.messages = messages
	}
	s.mu.Unlock()
}

// StartNewChat 清空当前会话和消息列表。
func (s *ChatSession) StartNewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *ChatSession) resetLocked() {
	s.currentID = ""
	s.messages = []model.Message{}
}

// pendingSend 是一次已登记乐观消息、尚未完成往返的发送。
type pendingSend struct {
	tempID         string
	content        string
	conversationID string
	endpoint       string
	history        []model.Message
}

// SendMessage 同步完成一次发送：乐观追加、必要时创建会话、持久化、请求回复、对账。
func (s *ChatSession) SendMessage(ctx context.Context, content string) error {
	op, err := s.beginSend(content)
	if err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.runSend(ctx, op)
}

// SendMessageAsync 在返回前登记乐观消息，其余步骤在后台完成。
func (s *ChatSession) SendMessageAsync(content string) error {
	op, err := s.beginSend(content)
	if err != nil {
		return err
	}
	go func() {
		defer s.inflight.Done()
		_ = s.runSend(context.Background(), op)
	}()
	return nil
}

// Wait 阻塞直到所有进行中的发送结束。
func (s *ChatSession) Wait() {
	s.inflight.Wait()
}

func (s *ChatSession) beginSend(content string) (*pendingSend, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return nil, ErrSendInProgress
	}

	// 上下文窗口取自乐观消息追加之前的列表
	history := s.messages
	if len(history) > llm.HistoryWindow {
		history = history[len(history)-llm.HistoryWindow:]
	}
	history = append([]model.Message(nil), history...)

	now := s.now()
	conversationID := s.currentID
	optimisticConversation := conversationID
	if optimisticConversation == "" {
		optimisticConversation = tempConversationID
	}
	op := &pendingSend{
		tempID:         strconv.FormatInt(now.UnixMilli(), 10),
		content:        content,
		conversationID: conversationID,
		endpoint:       s.apiEndpoint,
		history:        history,
	}
	s.messages = append(s.messages, model.Message{
		ID:             op.tempID,
		ConversationID: optimisticConversation,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      now,
		Pending:        true,
	})
	s.sending = true
	s.inflight.Add(1)
	return op, nil
}

func (s *ChatSession) runSend(ctx context.Context, op *pendingSend) error {
	err := s.exchange(ctx, op)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Errorw("Failed to send message", "conversationId", op.conversationID, "error", err)
		s.removeMessageLocked(op.tempID)
		s.notices = append(s.notices, Notice{Level: NoticeError, Text: err.Error()})
	}
	s.sending = false
	return err
}

func (s *ChatSession) exchange(ctx context.Context, op *pendingSend) error {
	conversationID := op.conversationID
	if conversationID == "" {
		conversation := s.conversations.CreateConversation(ctx, DeriveTitle(op.content))
		if conversation == nil {
			return ErrConversationCreate
		}
		conversationID = conversation.ID

		s.mu.Lock()
		if s.currentID == "" {
			s.currentID = conversationID
		}
		for i := range s.messages {
			if s.messages[i].ID == op.tempID {
				s.messages[i].ConversationID = conversationID
			}
		}
		s.mu.Unlock()

		s.loadConversations(ctx)
	}
	op.conversationID = conversationID

	if s.conversations.AppendMessage(ctx, conversationID, model.RoleUser, op.content) == nil {
		return ErrMessagePersist
	}

	reply, err := s.generator.Generate(ctx, op.content, op.history, op.endpoint)
	if err != nil {
		return err
	}

	if s.conversations.AppendMessage(ctx, conversationID, model.RoleAssistant, reply) == nil {
		return ErrMessagePersist
	}

	// 以存储中的记录替换乐观消息
	messages := s.conversations.ListMessages(ctx, conversationID)
	s.mu.Lock()
	if s.currentID == conversationID {
		s.messages = messages
	} else {
		s.removeMessageLocked(op.tempID)
	}
	s.mu.Unlock()

	s.loadConversations(ctx)
	return nil
}

func (s *ChatSession) removeMessageLocked(id string) {
	kept := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

// DeleteConversation 删除会话。confirmed 为 false 时什么也不做。
// 删除当前会话会回到新会话状态；无论成功与否都会刷新会话列表。
func (s *ChatSession) DeleteConversation(ctx context.Context, id string, confirmed bool) bool {
	if !confirmed {
		return false
	}

	ok := s.RemoveConversation(ctx, id)
	if ok {
		s.notify(NoticeSuccess, "Conversation deleted")
	} else {
		s.notify(NoticeError, "Failed to delete")
	}
	return ok
}

// RemoveConversation 删除会话并同步内存状态，不需要确认也不产生提示。
// JSON API 的删除走这里，删除当前会话同样会回到新会话状态。
func (s *ChatSession) RemoveConversation(ctx context.Context, id string) bool {
	ok := s.conversations.DeleteConversation(ctx, id)
	if ok {
		s.mu.Lock()
		if s.currentID == id {
			s.resetLocked()
		}
		s.mu.Unlock()
	}
	s.loadConversations(ctx)
	return ok
}

// Refresh 在会话被外部修改后重新加载列表；id 是当前会话且没有发送进行中时同时重新加载消息。
func (s *ChatSession) Refresh(ctx context.Context, id string) {
	s.loadConversations(ctx)

	s.mu.Lock()
	reload := id != "" && id == s.currentID && !s.sending
	if reload {
		s.pendingLoads++
	}
	s.mu.Unlock()
	if !reload {
		return
	}

	messages := s.conversations.ListMessages(ctx, id)

	s.mu.Lock()
	s.pendingLoads--
	if s.currentID == id && !s.sending {
		s.messages = messages
	}
	s.mu.Unlock()
}

// RenameConversation 修改会话标题并刷新列表。
func (s *ChatSession) RenameConversation(ctx context.Context, id, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		s.notify(NoticeError, "Title cannot be empty")
		return false
	}
	ok := s.conversations.RenameConversation(ctx, id, title)
	s.loadConversations(ctx)
	if ok {
		s.notify(NoticeSuccess, "Conversation renamed")
	} else {
		s.notify(NoticeError, "Failed to rename")
	}
	return ok
}

// UpdateAPIEndpoint 立即覆盖内存中和持久化的端点偏好。
func (s *ChatSession) UpdateAPIEndpoint(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	s.apiEndpoint = endpoint
	s.mu.Unlock()

	if err := s.prefs.SaveEndpoint(ctx, endpoint); err != nil {
		log.Errorw("Failed to persist endpoint preference", "error", err)
		return err
	}
	return nil
}

// SaveSettings 是设置对话框的保存动作，拒绝空端点。
func (s *ChatSession) SaveSettings(ctx context.Context, endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		s.notify(NoticeError, ErrEmptyEndpoint.Error())
		return ErrEmptyEndpoint
	}
	if err := s.UpdateAPIEndpoint(ctx, endpoint); err != nil {
		s.notify(NoticeError, "Failed to save settings")
		return err
	}
	s.notify(NoticeSuccess, "Settings saved")
	return nil
}

func (s *ChatSession) notify(level NoticeLevel, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notice{Level: level, Text: text})
}

// DrainNotices 返回并清空待展示的提示。
func (s *ChatSession) DrainNotices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	notices := s.notices
	s.notices = nil
	return notices
}

// Snapshot 返回当前状态的副本。
func (s *ChatSession) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		Conversations:         append([]model.Conversation{}, s.list...),
		CurrentConversationID: s.currentID,
		Messages:              append([]model.Message{}, s.messages...),
		IsLoading:             s.sending || s.pendingLoads > 0,
		IsInitializing:        s.initializing,
		APIEndpoint:           s.apiEndpoint,
	}
}
