package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/storage"
)

// fakeChatModel 按配置回放流式块，并记录每次收到的完整请求
type fakeChatModel struct {
	chunks  []string
	err     error         // 块发完后注入的中途错误
	openErr error         // Stream调用本身的失败
	block   chan struct{} // 非nil时Stream阻塞到通道关闭

	mu       sync.Mutex
	requests [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	return &schema.Message{Role: schema.Assistant, Content: strings.Join(f.chunks, "")}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.requests = append(f.requests, input)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.openErr != nil {
		return nil, f.openErr
	}

	reader, writer := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer writer.Close()
		for _, chunk := range f.chunks {
			writer.Send(&schema.Message{Role: schema.Assistant, Content: chunk}, nil)
		}
		if f.err != nil {
			writer.Send(nil, f.err)
		}
	}()

	return reader, nil
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

func (f *fakeChatModel) request(i int) []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newTestService(fake einoModel.ChatModel) *ChatService {
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = config.DefaultMaxFileSize
	return NewChatService(cfg, fake)
}

// drainStream 读空两个通道，模拟前端消费完一轮流式响应
func drainStream(t *testing.T, respChan <-chan model.ChatResponse, errChan <-chan error) ([]model.ChatResponse, error) {
	t.Helper()

	var events []model.ChatResponse
	for resp := range respChan {
		events = append(events, resp)
	}
	return events, <-errChan
}

func TestChatService_StreamChatAccumulates(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"你好", "，", "世界"}}
	svc := newTestService(fake)

	respChan, errChan, err := svc.StreamChat("", "Hello there")
	require.NoError(t, err)

	events, streamErr := drainStream(t, respChan, errChan)
	require.NoError(t, streamErr)
	require.Len(t, events, 4)

	var accumulated strings.Builder
	for _, ev := range events[:3] {
		require.Equal(t, "message", ev.Type)
		require.Equal(t, "ai", ev.Role)
		accumulated.WriteString(ev.Content)
	}
	require.Equal(t, "你好，世界", accumulated.String())

	done := events[3]
	require.Equal(t, "done", done.Type)
	require.Equal(t, "你好，世界", done.Content)
	require.Contains(t, done.HTML, "你好，世界")

	sessions, err := svc.GetAllSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Hello there", sessions[0].Title)
	require.Equal(t, sessions[0].ID, svc.ActiveSessionID())

	messages, err := svc.GetSessionMessages(sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "user", messages[0].Role)
	require.Equal(t, "Hello there", messages[0].Content)
	require.Equal(t, "ai", messages[1].Role)
	require.Equal(t, "你好，世界", messages[1].Content)

	status := svc.Status()
	require.False(t, status.Sending)
	require.Empty(t, status.LastError)
}

func TestChatService_StreamChatFailure(t *testing.T) {
	t.Run("mid-stream", func(t *testing.T) {
		fake := &fakeChatModel{chunks: []string{"部分"}, err: errors.New("quota exceeded")}
		svc := newTestService(fake)

		respChan, errChan, err := svc.StreamChat("", "你好")
		require.NoError(t, err)

		_, streamErr := drainStream(t, respChan, errChan)
		require.EqualError(t, streamErr, "quota exceeded")

		sessionID := svc.ActiveSessionID()
		messages, err := svc.GetSessionMessages(sessionID)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		require.Equal(t, apologyMessage, messages[1].Content)

		status := svc.Status()
		require.False(t, status.Sending)
		require.Equal(t, "quota exceeded", status.LastError)
	})

	t.Run("open", func(t *testing.T) {
		fake := &fakeChatModel{openErr: errors.New("connection refused")}
		svc := newTestService(fake)

		respChan, errChan, err := svc.StreamChat("", "你好")
		require.NoError(t, err)

		_, streamErr := drainStream(t, respChan, errChan)
		require.EqualError(t, streamErr, "connection refused")

		messages, err := svc.GetSessionMessages(svc.ActiveSessionID())
		require.NoError(t, err)
		require.Equal(t, apologyMessage, messages[1].Content)
		require.Equal(t, "connection refused", svc.Status().LastError)
	})
}

func TestChatService_RejectsConcurrentSend(t *testing.T) {
	block := make(chan struct{})
	fake := &fakeChatModel{chunks: []string{"ok"}, block: block}
	svc := newTestService(fake)

	respChan, errChan, err := svc.StreamChat("", "first")
	require.NoError(t, err)

	// 上一轮未结束，新的发送被拒绝
	_, _, err = svc.StreamChat("", "second")
	require.ErrorIs(t, err, ErrSendInFlight)

	close(block)
	_, streamErr := drainStream(t, respChan, errChan)
	require.NoError(t, streamErr)

	// 发送结束后恢复可用
	respChan, errChan, err = svc.StreamChat("", "third")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)
}

func TestChatService_RejectsEmptyMessage(t *testing.T) {
	svc := newTestService(&fakeChatModel{chunks: []string{"ok"}})

	_, _, err := svc.StreamChat("", "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	sessions, err := svc.GetAllSessions()
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestChatService_StagedAttachmentConsumed(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"收到"}}
	svc := newTestService(fake)

	meta, warning, err := svc.StageAttachment("notes.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	require.Empty(t, warning)
	require.Equal(t, "notes.txt", meta.Name)

	// 只有附件没有文本也算有效输入
	respChan, errChan, err := svc.StreamChat("", "")
	require.NoError(t, err)
	_, streamErr := drainStream(t, respChan, errChan)
	require.NoError(t, streamErr)

	sessionID := svc.ActiveSessionID()
	messages, err := svc.GetSessionMessages(sessionID)
	require.NoError(t, err)
	require.NotNil(t, messages[0].File)
	require.Equal(t, "notes.txt", messages[0].File.Name)

	// 没有文本时会话标题回退到文件名
	session, err := svc.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, "notes.txt", session.Title)

	// 发送结束后暂存附件清空
	require.Nil(t, svc.StagedAttachment())

	// 模型请求里文件部分先于文本部分
	turns := fake.request(0)
	last := turns[len(turns)-1]
	require.Len(t, last.MultiContent, 1)
	require.Equal(t, schema.ChatMessagePartTypeFileURL, last.MultiContent[0].Type)
}

func TestChatService_RejectedUploadClearsStaged(t *testing.T) {
	svc := newTestService(&fakeChatModel{})

	_, _, err := svc.StageAttachment("notes.txt", "text/plain", []byte("第一份文件"))
	require.NoError(t, err)
	require.NotNil(t, svc.StagedAttachment())

	// 替换上传超限失败后，旧附件也不再保留
	_, _, err = svc.StageAttachment("huge.txt", "text/plain", bytes.Repeat([]byte("a"), int(config.DefaultMaxFileSize)+1))
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Nil(t, svc.StagedAttachment())
}

func TestChatService_TitlePolicy(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"好"}}
	svc := newTestService(fake)

	long := strings.Repeat("一二三四五六七八九十", 4)
	respChan, errChan, err := svc.StreamChat("", long)
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	sessionID := svc.ActiveSessionID()
	session, err := svc.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("一二三四五六七八九十", 3), session.Title)

	// 标题只由首条用户消息确定一次
	respChan, errChan, err = svc.StreamChat(sessionID, "后续消息不应改变标题")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	session, err = svc.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("一二三四五六七八九十", 3), session.Title)
}

func TestChatService_ExplicitSessionBecomesActive(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"好"}}
	svc := newTestService(fake)

	s1, err := svc.CreateSession("老会话")
	require.NoError(t, err)
	s2, err := svc.CreateSession("新会话")
	require.NoError(t, err)
	require.Equal(t, s2.ID, svc.ActiveSessionID())

	respChan, errChan, err := svc.StreamChat(s1.ID, "发到老会话")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	require.Equal(t, s1.ID, svc.ActiveSessionID())

	messages, err := svc.GetSessionMessages(s1.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	messages, err = svc.GetSessionMessages(s2.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestChatService_UnknownSessionRejected(t *testing.T) {
	svc := newTestService(&fakeChatModel{chunks: []string{"好"}})

	_, _, err := svc.StreamChat("missing", "你好")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)

	// 拒绝后发送状态复位，不影响后续发送
	require.False(t, svc.Status().Sending)
	respChan, errChan, err := svc.StreamChat("", "你好")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)
}

func TestChatService_HistoryWiredIntoRequests(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"答"}}
	svc := newTestService(fake)

	respChan, errChan, err := svc.StreamChat("", "第一问")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	respChan, errChan, err = svc.StreamChat("", "第二问")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	// 第一轮没有历史，只有当前提问
	first := fake.request(0)
	require.Len(t, first, 1)
	require.Equal(t, schema.User, first[0].Role)
	require.Equal(t, "第一问", first[0].Content)

	// 第二轮带上第一轮的一问一答
	second := fake.request(1)
	require.Len(t, second, 3)
	require.Equal(t, "第一问", second[0].Content)
	require.Equal(t, schema.Assistant, second[1].Role)
	require.Equal(t, "答", second[1].Content)
	require.Equal(t, "第二问", second[2].Content)
}

func TestCleanupExpiredSessions(t *testing.T) {
	store := storage.NewMemoryStorage()

	now := time.Now()
	require.NoError(t, store.CreateSession(&model.Session{
		ID:        "stale",
		Title:     "旧会话",
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.CreateSession(&model.Session{
		ID:        "fresh",
		Title:     "新会话",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	cleanupExpiredSessions(store, 24*time.Hour)

	_, err := store.GetSession("stale")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = store.GetSession("fresh")
	require.NoError(t, err)
}

func TestChatService_SystemPromptPrepended(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"好"}}
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = config.DefaultMaxFileSize
	cfg.Chat.SystemPrompt = "你是一个乐于助人的助手"
	svc := NewChatService(cfg, fake)

	respChan, errChan, err := svc.StreamChat("", "你好")
	require.NoError(t, err)
	drainStream(t, respChan, errChan)

	turns := fake.request(0)
	require.Len(t, turns, 2)
	require.Equal(t, schema.System, turns[0].Role)
	require.Equal(t, "你是一个乐于助人的助手", turns[0].Content)
}
