package model

import "time"

// Message 会话中的一条消息，role 取值 user / ai
// ai 消息在流式过程中只做内容追加，失败时整体替换为致歉文案
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	File      *FileMeta `json:"file,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileMeta 附件元信息，Data 为完整内容的base64编码
// 附加到消息之后不再修改，历史重放时原样携带
type FileMeta struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MIMEType  string `json:"mime_type"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
	PageCount *int   `json:"page_count,omitempty"` // 仅PDF，解析失败时为空
	Data      string `json:"data,omitempty"`
}

// WithoutData 返回去掉base64内容的副本，用于对外响应
func (f *FileMeta) WithoutData() *FileMeta {
	if f == nil {
		return nil
	}
	c := *f
	c.Data = ""
	return &c
}
