package service

import (
	"github.com/cloudwego/eino/schema"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
)

// BuildHistory 将会话消息转换为发给模型的历史轮次
// 末尾两条（本轮用户消息和AI占位消息）由调用方单独构造，这里始终跳过
// limit 大于零时只保留最近的若干条历史
func BuildHistory(messages []model.Message, limit int) []*schema.Message {
	if len(messages) <= 2 {
		return nil
	}

	history := messages[:len(messages)-2]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	turns := make([]*schema.Message, 0, len(history))
	for i := range history {
		turns = append(turns, BuildTurn(history[i]))
	}

	return turns
}

// BuildTurn 单条消息转为一轮请求载荷
// 带附件时附件部分排在文本部分之前；历史中的附件每一轮都原样重放
func BuildTurn(msg model.Message) *schema.Message {
	role := schema.User
	if msg.Role == "ai" {
		role = schema.Assistant
	}

	if msg.File == nil || msg.File.Data == "" {
		return &schema.Message{
			Role:    role,
			Content: msg.Content,
		}
	}

	parts := []schema.ChatMessagePart{
		{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:      fileDataURL(msg.File),
				MIMEType: msg.File.MIMEType,
				Name:     msg.File.Name,
			},
		},
	}
	if msg.Content != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}

	return &schema.Message{
		Role:         role,
		MultiContent: parts,
	}
}

// fileDataURL 附件内容打包为data URI，由各模型适配器解码
func fileDataURL(f *model.FileMeta) string {
	return "data:" + f.MIMEType + ";base64," + f.Data
}
