package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/storage"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// 默认会话标题前缀，首条用户消息到达前使用
const defaultTitlePrefix = "新对话"

// 流式调用失败时写入占位消息的固定文案
const apologyMessage = "抱歉，我遇到了一些问题，请稍后再试。"

var (
	// ErrSendInFlight 上一次发送尚未结束
	ErrSendInFlight = errors.New("a send is already in progress")
	// ErrEmptyMessage 没有文本也没有附件
	ErrEmptyMessage = errors.New("message text or attachment is required")
)

// ChatService 串起存储、模型和渲染器，同一时刻只允许一次流式发送
type ChatService struct {
	storage   storage.Storage
	chatModel einoModel.ChatModel
	renderer  *MarkdownRenderer
	config    *config.Config

	mu        sync.Mutex
	sending   bool
	lastError string
	staged    *model.FileMeta // 待发送附件，随下一条用户消息一起提交
}

func NewChatService(cfg *config.Config, chatModel einoModel.ChatModel) *ChatService {
	store := storage.NewMemoryStorage()
	if err := store.Init(); err != nil {
		logger.Errorf("failed to initialize storage: %v", err)
	}

	cs := &ChatService{
		storage:   store,
		chatModel: chatModel,
		renderer:  NewMarkdownRenderer(),
		config:    cfg,
	}

	go cs.cleanupOldSessions()

	return cs
}

func (s *ChatService) CreateSession(title string) (*model.Session, error) {
	sessionID := fmt.Sprintf("%d", time.Now().UnixNano())

	if title == "" {
		title = defaultTitlePrefix + " " + time.Now().Format("2006-01-02 15:04")
	}

	session := &model.Session{
		ID:        sessionID,
		Title:     title,
		Messages:  make([]model.Message, 0),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Infof("session created: %s (%s)", session.ID, session.Title)
	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	return session, nil
}

func (s *ChatService) GetSessionMessages(sessionID string) ([]model.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages of session %s: %w", sessionID, err)
	}

	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = *msg
	}

	return result, nil
}

func (s *ChatService) GetAllSessions() ([]*model.Session, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.storage.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	logger.Infof("session deleted: %s", sessionID)
	return nil
}

func (s *ChatService) ClearAllSessions() error {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, session := range sessions {
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("failed to delete session %s: %v", session.ID, err)
		}
	}

	return nil
}

func (s *ChatService) UpdateSessionTitle(sessionID, title string) error {
	if err := s.storage.UpdateSessionTitle(sessionID, title); err != nil {
		return fmt.Errorf("failed to update title of session %s: %w", sessionID, err)
	}

	return nil
}

func (s *ChatService) SelectSession(sessionID string) error {
	if err := s.storage.SetActiveSession(sessionID); err != nil {
		return fmt.Errorf("failed to select session %s: %w", sessionID, err)
	}

	return nil
}

// ActiveSessionID 当前活动会话ID，没有会话时为空串
func (s *ChatService) ActiveSessionID() string {
	id, _ := s.storage.ActiveSessionID()
	return id
}

// AddMessage 追加一条消息。会话标题只在首条用户消息时确定一次：
// 取消息前30个字符，没有文本则用附件文件名，此后不再自动改变。
func (s *ChatService) AddMessage(sessionID, role, content string, file *model.FileMeta) (*model.Message, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	message := &model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		File:      file,
		Timestamp: time.Now(),
	}

	if err := s.storage.AddMessage(sessionID, message); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}

	if role == "user" && len(session.Messages) == 0 && strings.HasPrefix(session.Title, defaultTitlePrefix) {
		title := s.truncateString(strings.TrimSpace(content), 30)
		if title == "" && file != nil {
			title = file.Name
		}
		if title != "" {
			if err := s.storage.UpdateSessionTitle(sessionID, title); err != nil {
				logger.Errorf("failed to update title of session %s: %v", sessionID, err)
			}
		}
	}

	return message, nil
}

// StageAttachment 解析并暂存待发送附件，新附件替换旧附件。
// 解析失败时暂存槽一并清空，不保留之前的附件。
// 返回的警告串非空时表示元数据提取不完整，但不影响发送。
func (s *ChatService) StageAttachment(name, mimeType string, data []byte) (*model.FileMeta, string, error) {
	meta, warning, err := ExtractFileMeta(name, mimeType, data, s.config.Upload.MaxFileSize)
	if err != nil {
		s.ClearAttachment()
		return nil, "", err
	}

	s.mu.Lock()
	s.staged = meta
	s.mu.Unlock()

	logger.Infof("attachment staged: %s (%d bytes, %s)", meta.Name, meta.Size, meta.MIMEType)
	return meta, warning, nil
}

// StagedAttachment 当前暂存的附件，没有则为nil
func (s *ChatService) StagedAttachment() *model.FileMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

func (s *ChatService) ClearAttachment() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}

// MaxFileSize 附件大小上限（字节）
func (s *ChatService) MaxFileSize() int64 {
	return s.config.Upload.MaxFileSize
}

// Status 发送状态快照，供前端恢复加载指示和错误提示
func (s *ChatService) Status() model.StatusResponse {
	s.mu.Lock()
	sending, lastError := s.sending, s.lastError
	s.mu.Unlock()

	return model.StatusResponse{
		Sending:         sending,
		LastError:       lastError,
		ActiveSessionID: s.ActiveSessionID(),
	}
}

// RenderMarkdown 把Markdown文本渲染为净化后的HTML
func (s *ChatService) RenderMarkdown(text string) string {
	return s.renderer.Render(text)
}

// StreamChat 发起一轮流式对话。同步阶段完成所有前置校验并写入
// 用户消息和AI占位消息，失败直接返回错误；流式阶段通过返回的两个
// 通道交付增量内容和中途错误，两个通道最终都会被关闭。
func (s *ChatService) StreamChat(sessionID, message string) (<-chan model.ChatResponse, <-chan error, error) {
	s.mu.Lock()
	if strings.TrimSpace(message) == "" && s.staged == nil {
		s.mu.Unlock()
		return nil, nil, ErrEmptyMessage
	}
	if s.sending {
		s.mu.Unlock()
		return nil, nil, ErrSendInFlight
	}
	s.sending = true
	s.lastError = ""
	staged := s.staged
	s.mu.Unlock()

	sessionID, err := s.resolveSession(sessionID)
	if err != nil {
		s.finishSend(err.Error())
		return nil, nil, err
	}

	if _, err := s.AddMessage(sessionID, "user", message, staged); err != nil {
		s.finishSend(err.Error())
		return nil, nil, err
	}

	// 占位消息先落库，流式块到达时按ID追加
	placeholder, err := s.AddMessage(sessionID, "ai", "", nil)
	if err != nil {
		s.finishSend(err.Error())
		return nil, nil, err
	}

	messages, err := s.GetSessionMessages(sessionID)
	if err != nil {
		s.finishSend(err.Error())
		return nil, nil, err
	}

	respChan := make(chan model.ChatResponse, 100)
	errChan := make(chan error, 1)

	go s.runStream(sessionID, placeholder.ID, messages, respChan, errChan)

	return respChan, errChan, nil
}

// resolveSession 确定本轮发送的目标会话并将其设为活动会话。
// 未指定时取活动会话，一个会话都没有时自动新建。
func (s *ChatService) resolveSession(sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = s.ActiveSessionID()
	}

	if sessionID == "" {
		session, err := s.CreateSession("")
		if err != nil {
			return "", err
		}
		return session.ID, nil
	}

	if err := s.SelectSession(sessionID); err != nil {
		return "", err
	}

	return sessionID, nil
}

func (s *ChatService) runStream(sessionID, messageID string, messages []model.Message, respChan chan<- model.ChatResponse, errChan chan<- error) {
	defer close(respChan)
	defer close(errChan)

	// 开始后的流不挂取消和超时，要么走完要么出错
	ctx := context.Background()

	turns := make([]*schema.Message, 0, len(messages)+1)
	if prompt := s.config.Chat.SystemPrompt; prompt != "" {
		turns = append(turns, schema.SystemMessage(prompt))
	}
	turns = append(turns, BuildHistory(messages, s.config.Chat.MaxHistoryMessages)...)
	turns = append(turns, BuildTurn(messages[len(messages)-2]))

	stream, err := s.chatModel.Stream(ctx, turns)
	if err != nil {
		s.failSend(sessionID, messageID, err, errChan)
		return
	}
	defer stream.Close()

	var fullContent strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			s.failSend(sessionID, messageID, err, errChan)
			return
		}

		if chunk.Content == "" {
			continue
		}

		fullContent.WriteString(chunk.Content)
		if err := s.storage.AppendMessageContent(sessionID, messageID, chunk.Content); err != nil {
			logger.Errorf("failed to append chunk to message %s: %v", messageID, err)
		}

		respChan <- model.ChatResponse{
			SessionID: sessionID,
			MessageID: messageID,
			Content:   chunk.Content,
			Role:      "ai",
			Type:      "message",
			Timestamp: time.Now().Unix(),
		}
	}

	final := fullContent.String()
	logger.Infof("stream completed for session %s, %d bytes", sessionID, len(final))

	// 结束事件携带完整内容和渲染结果，前端用它替换增量拼接的文本
	respChan <- model.ChatResponse{
		SessionID: sessionID,
		MessageID: messageID,
		Content:   final,
		Role:      "ai",
		Type:      "done",
		HTML:      s.renderer.Render(final),
		Timestamp: time.Now().Unix(),
	}

	s.finishSend("")
}

// failSend 流式失败的统一收尾：占位消息改写为致歉文案，错误透传给调用方
func (s *ChatService) failSend(sessionID, messageID string, cause error, errChan chan<- error) {
	logger.Errorf("chat stream failed for session %s: %v", sessionID, cause)

	if err := s.storage.SetMessageContent(sessionID, messageID, apologyMessage); err != nil {
		logger.Errorf("failed to write apology into message %s: %v", messageID, err)
	}

	s.finishSend(cause.Error())
	errChan <- cause
}

// finishSend 一次发送结束后复位状态，暂存附件无条件清空
func (s *ChatService) finishSend(lastError string) {
	s.mu.Lock()
	s.sending = false
	s.lastError = lastError
	s.staged = nil
	s.mu.Unlock()
}

func (s *ChatService) cleanupOldSessions() {
	if s.config.Session.TTL <= 0 || s.config.Session.CleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.Session.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		cleanupExpiredSessions(s.storage, s.config.Session.TTL)
	}
}

// cleanupExpiredSessions 删除闲置超过ttl的会话
func cleanupExpiredSessions(store storage.Storage, ttl time.Duration) {
	sessions, err := store.ListSessions()
	if err != nil {
		logger.Errorf("failed to list sessions for cleanup: %v", err)
		return
	}

	cutoff := time.Now().Add(-ttl)
	for _, session := range sessions {
		if session.UpdatedAt.Before(cutoff) {
			if err := store.DeleteSession(session.ID); err != nil {
				logger.Errorf("failed to delete expired session %s: %v", session.ID, err)
			} else {
				logger.Infof("cleaned up expired session: %s", session.ID)
			}
		}
	}
}

// truncateString 按Unicode字符数截断，避免把多字节字符截成乱码
func (s *ChatService) truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen])
}
