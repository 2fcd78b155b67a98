package handler

import (
	"embed"
	"html/template"
	"time"

	"chatfront/internal/model"
	"chatfront/pkg/markdown"
)

//go:embed templates/*.html
var templateFS embed.FS

const previewMaxRunes = 60

// LoadTemplates 解析内嵌的页面模板，供 gin 的 SetHTMLTemplate 使用。
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"markdown":   markdown.Render,
		"preview":    conversationPreview,
		"formatTime": formatTime,
		"isUser":     func(m model.Message) bool { return m.Role == model.RoleUser },
	}).ParseFS(templateFS, "templates/*.html")
}

// conversationPreview 返回会话第一条消息的摘要，没有消息时返回空串。
func conversationPreview(c model.Conversation) string {
	if len(c.Messages) == 0 {
		return ""
	}
	runes := []rune(c.Messages[0].Content)
	if len(runes) <= previewMaxRunes {
		return string(runes)
	}
	return string(runes[:previewMaxRunes]) + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2 15:04")
}
