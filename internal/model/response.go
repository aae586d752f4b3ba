package model

import "time"

// ChatResponse 流式推送的单个事件
// Type 为 message 时 Content 是增量片段，为 done 时是完整回复并附渲染结果
type ChatResponse struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	Type      string `json:"type,omitempty"`
	HTML      string `json:"html,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// MessageView 消息列表条目，ai 消息附带渲染后的HTML，附件不含base64内容
type MessageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	File      *FileMeta `json:"file,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusResponse struct {
	Sending         bool   `json:"sending"`
	LastError       string `json:"last_error,omitempty"`
	ActiveSessionID string `json:"active_session_id,omitempty"`
}
