package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/service"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 上行帧只有文本和会话ID，64KiB足够
	maxWSMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 跨域控制在HTTP中间件层完成
		return true
	},
}

// wsRequest 上行帧，event为chat时payload是model.ChatRequest
type wsRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// wsEvent 下行帧，与SSE通道的事件一一对应
type wsEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type wsClient struct {
	conn        *websocket.Conn
	send        chan []byte
	chatService *service.ChatService
}

// ServeWS 把连接升级为WebSocket，作为SSE之外的另一条流式通道。
// 每个连接一对读写泵，消息处理在读泵内串行执行。
func (h *ChatHandler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:        conn,
		send:        make(chan []byte, 256),
		chatService: h.chatService,
	}

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		// 读泵是send的唯一写入方，退出时关闭让写泵收尾
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("websocket read failed: %v", err)
			}
			break
		}

		var frame wsRequest
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warnf("invalid websocket frame: %v", err)
			continue
		}

		switch frame.Event {
		case "chat":
			var req model.ChatRequest
			if err := json.Unmarshal(frame.Payload, &req); err != nil {
				c.enqueue("error", gin.H{
					"error": "invalid chat payload",
					"type":  "rejected",
				})
				continue
			}
			c.handleChat(req)
			// 长流式期间读循环是停着的，回来后重置读超时
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		default:
			logger.Debugf("ignoring websocket event: %s", frame.Event)
		}
	}
}

// handleChat 跑完一轮流式对话，事件结构与SSE通道保持一致
func (c *wsClient) handleChat(req model.ChatRequest) {
	respChan, errChan, err := c.chatService.StreamChat(req.SessionID, req.Message)
	if err != nil {
		c.enqueue("error", gin.H{
			"error":     err.Error(),
			"type":      "rejected",
			"timestamp": time.Now().Unix(),
		})
		return
	}

	c.enqueue("status", gin.H{
		"type":      "processing_start",
		"timestamp": time.Now().Unix(),
	})

	for {
		select {
		case resp, ok := <-respChan:
			if !ok {
				c.enqueue("status", gin.H{
					"type":      "processing_complete",
					"timestamp": time.Now().Unix(),
				})
				return
			}
			if !c.enqueue("message", resp) {
				drainStream(respChan, errChan)
				return
			}

		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			c.enqueue("error", gin.H{
				"error":     err.Error(),
				"type":      "service_error",
				"timestamp": time.Now().Unix(),
			})
			drainStream(respChan, errChan)
			return
		}
	}
}

// enqueue 投递一个下行帧。缓冲塞满说明对端已经不再消费，
// 返回false让调用方放弃本连接上的后续投递。
func (c *wsClient) enqueue(event string, payload any) bool {
	data, err := json.Marshal(wsEvent{Event: event, Payload: payload})
	if err != nil {
		logger.Errorf("failed to marshal websocket event: %v", err)
		return true
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
