package storage

import (
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
)

type Storage interface {
	// 会话管理，列表按最近创建在前排序
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	UpdateSessionTitle(sessionID, title string) error
	DeleteSession(sessionID string) error
	ListSessions() ([]*model.Session, error)

	// 活动会话指针，新建会话自动成为活动会话
	// 删除活动会话后回退到列表首位，列表为空则置空
	ActiveSessionID() (string, error)
	SetActiveSession(sessionID string) error

	// 消息管理，Append 用于流式追加，Set 用于整体替换
	AddMessage(sessionID string, message *model.Message) error
	GetMessages(sessionID string) ([]*model.Message, error)
	AppendMessageContent(sessionID, messageID, chunk string) error
	SetMessageContent(sessionID, messageID, content string) error

	// 存储管理
	Init() error
	Close() error
}
