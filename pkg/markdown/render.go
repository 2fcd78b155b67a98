// Package markdown 把助手回复按 GitHub 风格的 Markdown 渲染为 HTML。
package markdown

import (
	"bytes"
	"html/template"

	"chatfront/pkg/log"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Render 把 source 转换为 HTML，源文本中的原始 HTML 不会透传。
// 渲染失败时返回转义后的原文。
func Render(source string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		log.Warnf("[Markdown] 渲染失败, error: %v", err)
		return template.HTML(template.HTMLEscapeString(source))
	}
	return template.HTML(buf.String())
}
