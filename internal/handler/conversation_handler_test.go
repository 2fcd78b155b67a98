package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"chatfront/internal/repository"
	"chatfront/internal/service"
	"chatfront/pkg/preferences"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGateway(t *testing.T) service.ConversationService {
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
	return service.NewConversationService(repository.NewConversationRepository(db), nil)
}

func newConversationRouter(t *testing.T, svc service.ConversationService) (*gin.Engine, *service.ChatSession) {
	t.Helper()
	session := service.NewChatSession(svc, stubGenerator{reply: "ok"}, preferences.NewMemoryStore())
	require.NoError(t, session.Mount(context.Background()))

	h := NewConversationHandler(svc, session)
	r := gin.New()
	api := r.Group("/api/conversations")
	api.GET("", h.ListConversations)
	api.POST("", h.CreateConversation)
	api.GET("/:id/messages", h.ListMessages)
	api.POST("/:id/messages", h.AppendMessage)
	api.PATCH("/:id", h.RenameConversation)
	api.DELETE("/:id", h.DeleteConversation)
	return r, session
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, w.Code, env.Code)
	return env
}

func TestConversationAPIFlow(t *testing.T) {
	r, _ := newConversationRouter(t, newTestGateway(t))

	env := do(t, r, http.MethodPost, "/api/conversations", `{"title":"First chat"}`)
	require.Equal(t, http.StatusCreated, env.Code)
	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "First chat", created.Title)

	env = do(t, r, http.MethodPost, "/api/conversations/"+created.ID+"/messages", `{"role":"user","content":"hello"}`)
	require.Equal(t, http.StatusCreated, env.Code)
	env = do(t, r, http.MethodPost, "/api/conversations/"+created.ID+"/messages", `{"role":"assistant","content":"hi"}`)
	require.Equal(t, http.StatusCreated, env.Code)

	env = do(t, r, http.MethodGet, "/api/conversations/"+created.ID+"/messages", "")
	var messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hi", messages[1].Content)

	env = do(t, r, http.MethodPatch, "/api/conversations/"+created.ID, `{"title":"Renamed"}`)
	assert.Equal(t, http.StatusOK, env.Code)

	env = do(t, r, http.MethodGet, "/api/conversations", "")
	var list []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	env = do(t, r, http.MethodDelete, "/api/conversations/"+created.ID, "")
	assert.Equal(t, http.StatusOK, env.Code)
	assert.Equal(t, "Conversation deleted", env.Message)

	env = do(t, r, http.MethodGet, "/api/conversations/"+created.ID+"/messages", "")
	messages = nil
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	assert.Empty(t, messages)
}

func TestConversationAPIValidation(t *testing.T) {
	r, _ := newConversationRouter(t, newTestGateway(t))

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/conversations", `{"title":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/conversations/x/messages", `{"role":"system","content":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPatch, "/api/conversations/x", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/conversations/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPatch, "/api/conversations/missing", `{"title":"t"}`).Code)
}

func TestConversationAPIKeepsSessionInSync(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	r, session := newConversationRouter(t, gw)

	env := do(t, r, http.MethodPost, "/api/conversations", `{"title":"Active"}`)
	require.Equal(t, http.StatusCreated, env.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Len(t, session.Snapshot().Conversations, 1)

	session.SelectConversation(ctx, created.ID)
	require.Equal(t, created.ID, session.Snapshot().CurrentConversationID)

	env = do(t, r, http.MethodPost, "/api/conversations/"+created.ID+"/messages", `{"role":"user","content":"from api"}`)
	require.Equal(t, http.StatusCreated, env.Code)
	state := session.Snapshot()
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "from api", state.Messages[0].Content)

	env = do(t, r, http.MethodPatch, "/api/conversations/"+created.ID, `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, env.Code)
	assert.Equal(t, "Renamed", session.Snapshot().Conversations[0].Title)

	env = do(t, r, http.MethodDelete, "/api/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, env.Code)
	state = session.Snapshot()
	assert.Empty(t, state.CurrentConversationID)
	assert.Empty(t, state.Messages)
	assert.Empty(t, state.Conversations)
}
