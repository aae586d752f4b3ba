package service

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

// MarkdownRenderer 将模型回复渲染为可直接插入页面的HTML
// 换行渲染为<br>，支持GFM表格，输出经过白名单过滤
type MarkdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithUnsafe(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render 空白输入返回空串，渲染失败降级为空串而不是报错
func (r *MarkdownRenderer) Render(text string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warnf("markdown render panic: %v", rec)
			out = ""
		}
	}()

	if strings.TrimSpace(text) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		logger.Warnf("markdown render failed: %v", err)
		return ""
	}

	return string(r.policy.SanitizeBytes(buf.Bytes()))
}
