package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/service"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/storage"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/utils"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

// 心跳间隔，防止代理或浏览器掐断空闲的SSE连接
const heartbeatInterval = 30 * time.Second

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// StreamChat 发起一轮对话并以SSE推送回复。
// 前置校验在写入SSE头之前完成，校验失败返回普通JSON错误，
// 便于前端区分"发送被拒绝"和"发送中途失败"。
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respChan, errChan, err := h.chatService.StreamChat(req.SessionID, req.Message)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)

	done := make(chan struct{})
	defer close(done)
	go heartbeat(sseWriter, done)

	sseWriter.WriteJSON("status", gin.H{
		"type":      "processing_start",
		"timestamp": time.Now().Unix(),
	})

	for {
		select {
		case resp, ok := <-respChan:
			if !ok {
				sseWriter.WriteJSON("status", gin.H{
					"type":      "processing_complete",
					"timestamp": time.Now().Unix(),
				})
				sseWriter.Close()
				return
			}

			if err := sseWriter.WriteJSON("message", resp); err != nil {
				// 客户端断开不中止模型调用，排空通道让服务侧goroutine自然结束
				logger.Warnf("sse write failed, client likely disconnected: %v", err)
				drainStream(respChan, errChan)
				return
			}

		case err, ok := <-errChan:
			if !ok {
				// 错误通道已关闭，继续读响应通道里剩余的事件
				errChan = nil
				continue
			}

			sseWriter.WriteJSON("error", gin.H{
				"error":     err.Error(),
				"type":      "service_error",
				"timestamp": time.Now().Unix(),
			})
			sseWriter.Close()
			drainStream(respChan, errChan)
			return
		}
	}
}

// heartbeat 周期性发送心跳事件直到done关闭
func heartbeat(w *utils.SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := w.WriteJSON("heartbeat", gin.H{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			})
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// drainStream 读空剩余事件，保证流式goroutine不会卡在发送上
func drainStream(respChan <-chan model.ChatResponse, errChan <-chan error) {
	go func() {
		for range respChan {
		}
		if errChan != nil {
			for range errChan {
			}
		}
	}()
}

// statusForError 服务层错误到HTTP状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSendInFlight):
		return http.StatusConflict
	case errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// 允许空请求体，交给服务层生成默认标题
	c.ShouldBindJSON(&req)

	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.chatService.GetSession(sessionID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.SessionResponse{
		SessionID:    session.ID,
		Title:        session.Title,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		MessageCount: len(session.Messages),
	})
}

// GetMessages 返回会话消息列表。ai消息附带服务端渲染好的HTML，
// 附件只带元信息，base64内容不出网。
func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.GetSessionMessages(sessionID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	views := make([]model.MessageView, len(messages))
	for i, msg := range messages {
		view := model.MessageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			File:      msg.File.WithoutData(),
			Timestamp: msg.Timestamp,
		}
		if msg.Role == "ai" {
			view.HTML = h.chatService.RenderMarkdown(msg.Content)
		}
		views[i] = view
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   views,
	})
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.GetAllSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]model.SessionResponse, len(sessions))
	for i, session := range sessions {
		list[i] = model.SessionResponse{
			SessionID:    session.ID,
			Title:        session.Title,
			CreatedAt:    session.CreatedAt,
			UpdatedAt:    session.UpdatedAt,
			MessageCount: len(session.Messages),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":          list,
		"active_session_id": h.chatService.ActiveSessionID(),
	})
}

// DeleteSession 删除会话。被删的是活动会话时存储会自动回退，
// 响应带上新的活动会话ID省一次查询。
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "Session deleted successfully",
		"active_session_id": h.chatService.ActiveSessionID(),
	})
}

func (h *ChatHandler) ClearAllSessions(c *gin.Context) {
	if err := h.chatService.ClearAllSessions(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All sessions cleared successfully"})
}

func (h *ChatHandler) SelectSession(c *gin.Context) {
	var req model.SelectSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.SelectSession(req.SessionID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "Session selected successfully",
		"active_session_id": req.SessionID,
	})
}

func (h *ChatHandler) UpdateSessionTitle(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req struct {
		Title string `json:"title" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.UpdateSessionTitle(sessionID, req.Title); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Title updated successfully"})
}

// RenderMarkdown 渲染任意Markdown文本，前端预览草稿用
func (h *ChatHandler) RenderMarkdown(c *gin.Context) {
	var req model.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"html": h.chatService.RenderMarkdown(req.Content),
	})
}

// GetStatus 发送状态查询，页面刷新后恢复加载指示和错误提示
func (h *ChatHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.Status())
}
