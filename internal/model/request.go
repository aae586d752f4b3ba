package model

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type SelectSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// RenderRequest 渲染草稿内容，空内容返回空HTML
type RenderRequest struct {
	Content string `json:"content"`
}
