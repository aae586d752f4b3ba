package storage

import (
	"sync"
	"time"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
)

// MemoryStorage 纯内存存储，进程退出即丢失
type MemoryStorage struct {
	sessions map[string]*model.Session
	order    []string // 会话ID，最新创建在前
	activeID string
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*model.Session),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) CreateSession(session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrSessionExists
	}

	m.sessions[session.ID] = copySession(session)
	m.order = append([]string{session.ID}, m.order...)
	m.activeID = session.ID
	return nil
}

func (m *MemoryStorage) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return copySession(session), nil
}

func (m *MemoryStorage) UpdateSessionTitle(sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Title = title
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	delete(m.sessions, sessionID)
	for i, id := range m.order {
		if id == sessionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	if m.activeID == sessionID {
		if len(m.order) > 0 {
			m.activeID = m.order[0]
		} else {
			m.activeID = ""
		}
	}

	return nil
}

func (m *MemoryStorage) ListSessions() ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(m.order))
	for _, id := range m.order {
		if session, exists := m.sessions[id]; exists {
			sessions = append(sessions, copySession(session))
		}
	}

	return sessions, nil
}

func (m *MemoryStorage) ActiveSessionID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.activeID, nil
}

func (m *MemoryStorage) SetActiveSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	m.activeID = sessionID
	return nil
}

func (m *MemoryStorage) AddMessage(sessionID string, message *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Messages = append(session.Messages, *message)
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) GetMessages(sessionID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	messages := make([]*model.Message, len(session.Messages))
	for i := range session.Messages {
		msg := session.Messages[i]
		messages[i] = &msg
	}

	return messages, nil
}

func (m *MemoryStorage) AppendMessageContent(sessionID, messageID, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	// 流式追加的目标总在尾部，倒序查找
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].ID == messageID {
			session.Messages[i].Content += chunk
			session.UpdatedAt = time.Now()
			return nil
		}
	}

	return ErrMessageNotFound
}

func (m *MemoryStorage) SetMessageContent(sessionID, messageID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].ID == messageID {
			session.Messages[i].Content = content
			session.UpdatedAt = time.Now()
			return nil
		}
	}

	return ErrMessageNotFound
}

// copySession 深拷贝会话，调用方拿到的对象与存储内部隔离
func copySession(s *model.Session) *model.Session {
	c := *s
	c.Messages = make([]model.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}
