package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatfront/internal/model"
	"chatfront/internal/repository"
	"chatfront/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) repository.ConversationRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewConversationRepository(db)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ConversationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.ConversationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingRepo 对每个操作都返回存储错误。
type failingRepo struct{}

var errStorage = errors.New("storage unavailable")

func (r *failingRepo) ListConversations(context.Context) ([]model.Conversation, error) {
	return nil, errStorage
}

func (r *failingRepo) ListMessages(context.Context, string) ([]model.Message, error) {
	return nil, errStorage
}

func (r *failingRepo) CreateConversation(context.Context, string) (*model.Conversation, error) {
	return nil, errStorage
}

func (r *failingRepo) AppendMessage(context.Context, string, model.Role, string, time.Time) (*model.Message, error) {
	return nil, errStorage
}

func (r *failingRepo) DeleteConversation(context.Context, string) error {
	return errStorage
}

func (r *failingRepo) UpdateTitle(context.Context, string, string) error {
	return errStorage
}

func TestConversationServiceHappyPath(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewConversationService(newTestRepo(t), pub)

	conv := svc.CreateConversation(ctx, "hello")
	require.NotNil(t, conv)

	user := svc.AppendMessage(ctx, conv.ID, model.RoleUser, "hi there")
	require.NotNil(t, user)
	reply := svc.AppendMessage(ctx, conv.ID, model.RoleAssistant, "**hello**")
	require.NotNil(t, reply)

	messages := svc.ListMessages(ctx, conv.ID)
	require.Len(t, messages, 2)
	assert.Equal(t, user.ID, messages[0].ID)
	assert.Equal(t, reply.ID, messages[1].ID)

	conversations := svc.ListConversations(ctx)
	require.Len(t, conversations, 1)
	assert.False(t, conversations[0].UpdatedAt.Before(conv.UpdatedAt))
	require.Len(t, conversations[0].Messages, 1)
	assert.Equal(t, "hi there", conversations[0].Messages[0].Content)

	assert.True(t, svc.RenameConversation(ctx, conv.ID, "renamed"))
	assert.Equal(t, "renamed", svc.ListConversations(ctx)[0].Title)

	assert.True(t, svc.DeleteConversation(ctx, conv.ID))
	assert.Empty(t, svc.ListConversations(ctx))
	assert.Empty(t, svc.ListMessages(ctx, conv.ID))

	assert.Equal(t, []events.Type{
		events.ConversationCreated,
		events.MessageAppended,
		events.MessageAppended,
		events.ConversationRenamed,
		events.ConversationDeleted,
	}, pub.types())
}

func TestConversationServiceFailsSoft(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewConversationService(&failingRepo{}, pub)

	conversations := svc.ListConversations(ctx)
	assert.NotNil(t, conversations)
	assert.Empty(t, conversations)

	messages := svc.ListMessages(ctx, "c1")
	assert.NotNil(t, messages)
	assert.Empty(t, messages)

	assert.Nil(t, svc.CreateConversation(ctx, "t"))
	assert.Nil(t, svc.AppendMessage(ctx, "c1", model.RoleUser, "x"))
	assert.False(t, svc.DeleteConversation(ctx, "c1"))
	assert.False(t, svc.RenameConversation(ctx, "c1", "t"))
	assert.Empty(t, pub.types())
}

func TestAppendMessageToMissingConversation(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewConversationService(newTestRepo(t), pub)

	assert.Nil(t, svc.AppendMessage(ctx, "no-such-conversation", model.RoleUser, "orphan"))
	assert.Empty(t, svc.ListMessages(ctx, "no-such-conversation"))
	assert.Empty(t, pub.types())
}

func TestDeleteMissingConversation(t *testing.T) {
	svc := NewConversationService(newTestRepo(t), nil)
	assert.False(t, svc.DeleteConversation(context.Background(), "does-not-exist"))
	assert.False(t, svc.RenameConversation(context.Background(), "does-not-exist", "x"))
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewConversationService(newTestRepo(t), pub)

	conv := svc.CreateConversation(context.Background(), "still saved")
	require.NotNil(t, conv)
	assert.Len(t, svc.ListConversations(context.Background()), 1)
}

// blockingPublisher 一直阻塞到 ctx 结束，模拟不可达的 broker。
type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ events.ConversationEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingPublisher) Close() error { return nil }

func TestSlowPublisherDoesNotStallAppend(t *testing.T) {
	ctx := context.Background()
	svc := NewConversationService(newTestRepo(t), blockingPublisher{})
	svc.(*conversationService).publishTimeout = 50 * time.Millisecond

	conv := svc.CreateConversation(ctx, "slow broker")
	require.NotNil(t, conv)

	start := time.Now()
	msg := svc.AppendMessage(ctx, conv.ID, model.RoleUser, "hello")
	require.NotNil(t, msg)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, svc.ListMessages(ctx, conv.ID), 1)
}
