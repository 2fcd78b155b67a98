package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"chatfront/internal/model"
	"chatfront/internal/service"
	"chatfront/pkg/preferences"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	reply   string
	err     error
	release chan struct{}
}

func (g stubGenerator) Generate(context.Context, string, []model.Message, string) (string, error) {
	if g.release != nil {
		<-g.release
	}
	return g.reply, g.err
}

func newUIRouter(t *testing.T, gen stubGenerator) (*gin.Engine, *service.ChatSession) {
	t.Helper()
	session := service.NewChatSession(newTestGateway(t), gen, preferences.NewMemoryStore())
	require.NoError(t, session.Mount(context.Background()))

	tmpl, err := LoadTemplates()
	require.NoError(t, err)

	h := NewUIHandler(session, "https://example.test/generate")
	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.GET("/", h.Index)
	r.GET("/api/session", h.Session)
	ui := r.Group("/ui")
	ui.POST("/new", h.NewChat)
	ui.POST("/select/:id", h.SelectConversation)
	ui.POST("/send", h.Send)
	ui.POST("/settings", h.SaveSettings)
	ui.POST("/conversations/:id/delete", h.DeleteConversation)
	ui.POST("/conversations/:id/rename", h.RenameConversation)
	return r, session
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestIndexEmptyState(t *testing.T) {
	r, _ := newUIRouter(t, stubGenerator{})

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Start a conversation")
	assert.Contains(t, body, "No conversations yet")
	assert.NotContains(t, body, `http-equiv="refresh"`)
}

func TestSendRendersConversation(t *testing.T) {
	r, session := newUIRouter(t, stubGenerator{reply: "Here is **bold** text"})

	w := postForm(r, "/ui/send", url.Values{"content": {"What is Go?"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	session.Wait()

	body := get(r, "/").Body.String()
	assert.Contains(t, body, "What is Go?")
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.Contains(t, body, `class="active"`)

	var env struct {
		Data service.SessionState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(get(r, "/api/session").Body.Bytes(), &env))
	assert.False(t, env.Data.IsLoading)
	assert.Len(t, env.Data.Messages, 2)
	require.Len(t, env.Data.Conversations, 1)
	assert.Equal(t, "What is Go?", env.Data.Conversations[0].Title)
}

func TestSendFailureShowsNotice(t *testing.T) {
	r, session := newUIRouter(t, stubGenerator{err: &testUserError{"AI Error: overloaded"}})

	postForm(r, "/ui/send", url.Values{"content": {"hello"}})
	session.Wait()

	body := get(r, "/").Body.String()
	assert.Contains(t, body, "AI Error: overloaded")
	assert.Empty(t, session.Snapshot().Messages)

	assert.NotContains(t, get(r, "/").Body.String(), "AI Error: overloaded")
}

type testUserError struct{ msg string }

func (e *testUserError) Error() string { return e.msg }

func TestDeleteRequiresConfirmation(t *testing.T) {
	r, session := newUIRouter(t, stubGenerator{reply: "ok"})
	postForm(r, "/ui/send", url.Values{"content": {"keep me"}})
	session.Wait()
	id := session.Snapshot().CurrentConversationID
	require.NotEmpty(t, id)

	postForm(r, "/ui/conversations/"+id+"/delete", url.Values{"confirm": {""}})
	assert.Len(t, session.Snapshot().Conversations, 1)

	postForm(r, "/ui/conversations/"+id+"/delete", url.Values{"confirm": {"true"}})
	state := session.Snapshot()
	assert.Empty(t, state.Conversations)
	assert.Empty(t, state.CurrentConversationID)
	assert.Contains(t, get(r, "/").Body.String(), "Conversation deleted")
}

func TestSettingsAndNewChat(t *testing.T) {
	r, session := newUIRouter(t, stubGenerator{reply: "ok"})

	postForm(r, "/ui/settings", url.Values{"endpoint": {""}})
	assert.Contains(t, get(r, "/").Body.String(), "Endpoint cannot be empty")

	postForm(r, "/ui/settings", url.Values{"endpoint": {"http://mine/svc"}})
	body := get(r, "/").Body.String()
	assert.Contains(t, body, "Settings saved")
	assert.Contains(t, body, `value="http://mine/svc"`)

	postForm(r, "/ui/send", url.Values{"content": {"first"}})
	session.Wait()
	id := session.Snapshot().CurrentConversationID

	postForm(r, "/ui/new", nil)
	assert.Empty(t, session.Snapshot().CurrentConversationID)

	postForm(r, "/ui/select/"+id, nil)
	assert.Equal(t, id, session.Snapshot().CurrentConversationID)
	assert.Len(t, session.Snapshot().Messages, 2)

	postForm(r, "/ui/conversations/"+id+"/rename", url.Values{"title": {"Renamed chat"}})
	assert.Contains(t, get(r, "/").Body.String(), "Renamed chat")
}

func TestLoadingPagePollsInsteadOfReloading(t *testing.T) {
	release := make(chan struct{})
	r, session := newUIRouter(t, stubGenerator{reply: "later", release: release})

	postForm(r, "/ui/send", url.Values{"content": {"still typing"}})
	require.True(t, session.Snapshot().IsLoading)

	body := get(r, "/").Body.String()
	assert.NotContains(t, body, `http-equiv="refresh"`)
	assert.Regexp(t, `var loading =\s*true\s*;`, body)
	assert.Contains(t, body, "fetch('/api/session'")
	assert.Contains(t, body, "AI is thinking...")

	close(release)
	session.Wait()

	body = get(r, "/").Body.String()
	assert.Regexp(t, `var loading =\s*false\s*;`, body)
	assert.NotContains(t, body, "AI is thinking...")
}
